package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rollupscan/batch-indexer/internal/common"
	"github.com/rollupscan/batch-indexer/internal/events"
	"github.com/rollupscan/batch-indexer/internal/logger"
	"github.com/rollupscan/batch-indexer/internal/metrics"
	"github.com/rollupscan/batch-indexer/internal/store"
	"github.com/rollupscan/batch-indexer/pkg/config"
)

const (
	chainL1 = "l1"
	chainL2 = "l2"

	// backfillAttempts bounds the per-block fetch retry.
	backfillAttempts = 3

	// breakerThreshold aborts the rest of a cycle's backfill after this
	// many consecutive per-block failures; the next cycle resumes.
	breakerThreshold = 5
)

// ChainReader is the RPC surface the reconciler needs.
type ChainReader interface {
	GetL1LatestBlockNumber(ctx context.Context) (uint64, error)
	GetL2LatestBlockNumber(ctx context.Context) (uint64, error)
	GetL1BlockByNumber(ctx context.Context, blockNum uint64) (*types.Block, error)
	GetL2BlockByNumber(ctx context.Context, blockNum uint64) (*types.Block, error)
	GetL1BlockReceipts(ctx context.Context, blockNum uint64) ([]*types.Receipt, error)
}

// Sink receives replayed events; it is the same sink the live path feeds,
// so backfilled blocks flow through identical handlers.
type Sink interface {
	Handle(ctx context.Context, ev any) error
}

// Reconciler periodically compares RPC-observed chain heights against
// store-observed heights, confirms which blocks are genuinely missing, and
// replays them through the event pipeline. It runs concurrently with the
// live path; the second find-missing pass is the only race mitigation,
// which is enough because all writes are idempotent.
type Reconciler struct {
	cfg     config.IndexerConfig
	rpc     ChainReader
	reader  store.Reader
	sink    Sink
	decoder *events.Decoder
	log     *logger.Logger
}

// New creates a Reconciler.
func New(
	cfg config.IndexerConfig,
	rpc ChainReader,
	reader store.Reader,
	sink Sink,
	decoder *events.Decoder,
	log *logger.Logger,
) *Reconciler {
	return &Reconciler{
		cfg:     cfg,
		rpc:     rpc,
		reader:  reader,
		sink:    sink,
		decoder: decoder,
		log:     log.WithComponent(common.ComponentReconciler),
	}
}

// Run executes one eager cycle with the startup lookback, then cycles on
// the poll interval until the context ends. Cycle failures are non-fatal.
func (r *Reconciler) Run(ctx context.Context) error {
	r.log.Infow("reconciler starting",
		"poll_interval", r.cfg.Reconciler.PollInterval.Duration,
		"lookback", r.cfg.Reconciler.Lookback,
		"startup_lookback", r.cfg.Reconciler.StartupLookback,
	)

	r.runCycle(ctx, r.cfg.Reconciler.StartupLookback)

	ticker := time.NewTicker(r.cfg.Reconciler.PollInterval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("reconciler stopped")
			return nil
		case <-ticker.C:
			r.runCycle(ctx, r.cfg.Reconciler.Lookback)
		}
	}
}

// runCycle performs one full reconciliation pass. Every failure inside a
// cycle is logged and skipped; the next tick gets a fresh snapshot.
func (r *Reconciler) runCycle(ctx context.Context, lookback uint64) {
	latestL1RPC, latestL2RPC, err := r.probeHeights(ctx)
	if err != nil {
		metrics.ComponentHealthSet(common.ComponentReconciler, false)
		r.log.Warnw("RPC health probe failed, skipping cycle", "error", err)
		return
	}
	metrics.ComponentHealthSet(common.ComponentReconciler, true)

	latestL1DB, err := r.latestStoredBlock(ctx, r.reader.GetLatestL1Block)
	if err != nil {
		r.log.Warnw("store height unavailable, skipping cycle", "chain", chainL1, "error", err)
		return
	}
	latestL2DB, err := r.latestStoredBlock(ctx, r.reader.GetLatestL2Block)
	if err != nil {
		r.log.Warnw("store height unavailable, skipping cycle", "chain", chainL2, "error", err)
		return
	}

	state := NewGapDetectionState(latestL1RPC, latestL2RPC, latestL1DB, latestL2DB,
		r.cfg.FinalizationBuffer)

	r.log.Debugw("gap detection state",
		"l1_rpc", state.LatestL1RPC, "l2_rpc", state.LatestL2RPC,
		"l1_db", state.LatestL1DB, "l2_db", state.LatestL2DB,
		"l1_backfill_end", state.L1BackfillEnd, "l2_backfill_end", state.L2BackfillEnd,
	)

	r.reconcileChain(ctx, chainJob{
		chain:       chainL1,
		latestDB:    state.LatestL1DB,
		backfillEnd: state.L1BackfillEnd,
		minBlock:    r.cfg.MinL1Block,
		lookback:    lookback,
		findMissing: r.reader.FindMissingL1Blocks,
		backfill:    r.backfillL1Block,
	})

	r.reconcileChain(ctx, chainJob{
		chain:       chainL2,
		latestDB:    state.LatestL2DB,
		backfillEnd: state.L2BackfillEnd,
		minBlock:    r.cfg.MinL2Block,
		lookback:    lookback,
		findMissing: r.reader.FindMissingL2Blocks,
		backfill:    r.backfillL2Block,
	})
}

// probeHeights fetches both chain heights under a single short timeout.
func (r *Reconciler) probeHeights(ctx context.Context) (uint64, uint64, error) {
	probeCtx, cancel := context.WithTimeout(ctx, r.cfg.Reconciler.ProbeTimeout.Duration)
	defer cancel()

	l1, err := r.rpc.GetL1LatestBlockNumber(probeCtx)
	if err != nil {
		return 0, 0, fmt.Errorf("L1 height probe: %w", err)
	}

	l2, err := r.rpc.GetL2LatestBlockNumber(probeCtx)
	if err != nil {
		return 0, 0, fmt.Errorf("L2 height probe: %w", err)
	}

	return l1, l2, nil
}

// latestStoredBlock reads one store height, treating an empty table as
// height 0 and passing ErrSchemaMissing up as the skip condition.
func (r *Reconciler) latestStoredBlock(ctx context.Context, get func(context.Context) (uint64, error)) (uint64, error) {
	latest, err := get(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	return latest, err
}

type chainJob struct {
	chain       string
	latestDB    uint64
	backfillEnd uint64
	minBlock    uint64
	lookback    uint64
	findMissing func(ctx context.Context, start, end uint64) ([]uint64, error)
	backfill    func(ctx context.Context, blockNum uint64) error
}

// reconcileChain detects, confirms, filters and backfills one chain's gaps.
func (r *Reconciler) reconcileChain(ctx context.Context, job chainJob) {
	start := lookbackStart(job.latestDB, job.lookback)
	if start > job.backfillEnd {
		return
	}

	gaps, err := job.findMissing(ctx, start, job.backfillEnd)
	if err != nil {
		r.log.Warnw("gap query failed, skipping chain", "chain", job.chain, "error", err)
		return
	}
	if len(gaps) == 0 {
		return
	}

	// A second pass confirms the gaps: the live path may have filled some
	// of them while the first query was in flight.
	current, err := job.findMissing(ctx, start, job.backfillEnd)
	if err != nil {
		r.log.Warnw("gap re-check failed, skipping chain", "chain", job.chain, "error", err)
		return
	}

	confirmed := stillMissing(gaps, current)
	if len(confirmed) == 0 {
		r.log.Debugw("all gaps filled by live path", "chain", job.chain, "initial", len(gaps))
		return
	}

	// Pre-deployment history is never backfilled.
	skipped := 0
	filtered := confirmed[:0]
	for _, num := range confirmed {
		if num < job.minBlock {
			skipped++
			continue
		}
		filtered = append(filtered, num)
	}
	if skipped > 0 {
		r.log.Infow("skipped pre-deployment blocks",
			"chain", job.chain, "count", skipped, "min_block", job.minBlock)
	}
	if len(filtered) == 0 {
		return
	}

	metrics.GapsDetectedAdd(job.chain, len(filtered))
	r.log.Infow("backfilling confirmed gaps",
		"chain", job.chain,
		"count", len(filtered),
		"first", filtered[0],
		"last", filtered[len(filtered)-1],
	)

	consecutiveFailures := 0
	for _, num := range filtered {
		if ctx.Err() != nil {
			return
		}

		if err := r.backfillWithRetry(ctx, job.backfill, num); err != nil {
			metrics.BackfillFailureInc(job.chain)
			consecutiveFailures++
			r.log.Warnw("block backfill failed",
				"chain", job.chain,
				"block", num,
				"consecutive_failures", consecutiveFailures,
				"error", err,
			)
			if consecutiveFailures >= breakerThreshold {
				r.log.Errorw("circuit breaker tripped, aborting backfill until next cycle",
					"chain", job.chain, "block", num)
				return
			}
			continue
		}

		consecutiveFailures = 0
		metrics.BlockBackfilledInc(job.chain)
	}
}

// backfillWithRetry runs one per-block backfill with bounded exponential
// backoff. There is no timeout across attempts: it runs to completion or
// reports failure to the circuit breaker.
func (r *Reconciler) backfillWithRetry(ctx context.Context, fn func(context.Context, uint64) error, blockNum uint64) error {
	var lastErr error

	for attempt := 0; attempt < backfillAttempts; attempt++ {
		if attempt > 0 {
			delay := time.Second * (1 << (attempt - 1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if lastErr = fn(ctx, blockNum); lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("backfill failed after %d attempts: %w", backfillAttempts, lastErr)
}

// backfillL1Block reconstructs one L1 block's header and replays every
// protocol event found in its receipt logs through the pipeline, exactly as
// the live path would have.
func (r *Reconciler) backfillL1Block(ctx context.Context, blockNum uint64) error {
	block, err := r.rpc.GetL1BlockByNumber(ctx, blockNum)
	if err != nil {
		return fmt.Errorf("failed to fetch L1 block %d: %w", blockNum, err)
	}

	header := events.NewL1Header(block.Header(), r.cfg.L1GenesisTimestamp, r.cfg.SlotDuration.Duration)
	if err := r.sink.Handle(ctx, header); err != nil {
		return fmt.Errorf("failed to write L1 header %d: %w", blockNum, err)
	}

	receipts, err := r.rpc.GetL1BlockReceipts(ctx, blockNum)
	if err != nil {
		return fmt.Errorf("failed to fetch receipts for L1 block %d: %w", blockNum, err)
	}

	for _, receipt := range receipts {
		for _, lg := range receipt.Logs {
			if lg == nil || !r.decoder.Watches(lg.Address) {
				continue
			}

			ev, ok, err := r.decoder.Decode(*lg)
			if err != nil {
				r.log.Warnw("undecodable protocol log skipped",
					"block", blockNum, "tx", receipt.TxHash.Hex(), "error", err)
				continue
			}
			if !ok {
				continue
			}

			if err := r.sink.Handle(ctx, ev); err != nil {
				return fmt.Errorf("failed to replay event from L1 block %d: %w", blockNum, err)
			}
		}
	}

	return nil
}

// backfillL2Block reconstructs one L2 header; the pipeline recomputes the
// same gas/tx/priority-fee statistics the live path records.
func (r *Reconciler) backfillL2Block(ctx context.Context, blockNum uint64) error {
	block, err := r.rpc.GetL2BlockByNumber(ctx, blockNum)
	if err != nil {
		return fmt.Errorf("failed to fetch L2 block %d: %w", blockNum, err)
	}

	if err := r.sink.Handle(ctx, events.NewL2Header(block.Header())); err != nil {
		return fmt.Errorf("failed to write L2 header %d: %w", blockNum, err)
	}

	return nil
}
