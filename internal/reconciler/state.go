package reconciler

// GapDetectionState is the snapshot a reconciliation cycle works from.
// It is recomputed fresh every cycle and never cached across cycles:
// both chains and the store move underneath us between ticks.
type GapDetectionState struct {
	LatestL1RPC uint64
	LatestL2RPC uint64
	LatestL1DB  uint64
	LatestL2DB  uint64

	// Backfill never touches blocks within the finalization buffer of the
	// tip: latest_rpc - buffer, floored at 0.
	L1BackfillEnd uint64
	L2BackfillEnd uint64
}

// NewGapDetectionState computes the cycle snapshot from the observed heights.
func NewGapDetectionState(latestL1RPC, latestL2RPC, latestL1DB, latestL2DB, finalizationBuffer uint64) GapDetectionState {
	return GapDetectionState{
		LatestL1RPC:   latestL1RPC,
		LatestL2RPC:   latestL2RPC,
		LatestL1DB:    latestL1DB,
		LatestL2DB:    latestL2DB,
		L1BackfillEnd: backfillEnd(latestL1RPC, finalizationBuffer),
		L2BackfillEnd: backfillEnd(latestL2RPC, finalizationBuffer),
	}
}

func backfillEnd(latestRPC, buffer uint64) uint64 {
	if latestRPC <= buffer {
		return 0
	}
	return latestRPC - buffer
}

// lookbackStart returns the first block a cycle rescans. With a lookback it
// reaches back from the store head (floored at block 1); without one it
// starts right after the store head.
func lookbackStart(latestDB, lookback uint64) uint64 {
	if lookback == 0 {
		return latestDB + 1
	}
	if latestDB+1 <= lookback {
		return 1
	}
	return latestDB - lookback + 1
}

// stillMissing intersects the originally detected gaps with a second
// find-missing pass, in order. The live path may have filled blocks between
// the two passes; only blocks absent in both are confirmed missing.
func stillMissing(gaps, current []uint64) []uint64 {
	if len(gaps) == 0 || len(current) == 0 {
		return nil
	}

	currentSet := make(map[uint64]struct{}, len(current))
	for _, num := range current {
		currentSet[num] = struct{}{}
	}

	confirmed := make([]uint64, 0, len(gaps))
	for _, num := range gaps {
		if _, ok := currentSet[num]; ok {
			confirmed = append(confirmed, num)
		}
	}
	return confirmed
}
