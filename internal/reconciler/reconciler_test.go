package reconciler

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rollupscan/batch-indexer/internal/common"
	"github.com/rollupscan/batch-indexer/internal/events"
	"github.com/rollupscan/batch-indexer/internal/logger"
	"github.com/rollupscan/batch-indexer/internal/store"
	"github.com/rollupscan/batch-indexer/pkg/config"
	"github.com/stretchr/testify/require"
)

var testInbox = ethcommon.HexToAddress("0x1111111111111111111111111111111111111111")

// fakeChain serves canned heights, blocks and receipts.
type fakeChain struct {
	latestL1 uint64
	latestL2 uint64
	probeErr error

	receipts map[uint64][]*types.Receipt

	l1Fetches []uint64
	l2Fetches []uint64
}

func (f *fakeChain) GetL1LatestBlockNumber(ctx context.Context) (uint64, error) {
	return f.latestL1, f.probeErr
}

func (f *fakeChain) GetL2LatestBlockNumber(ctx context.Context) (uint64, error) {
	return f.latestL2, f.probeErr
}

func (f *fakeChain) GetL1BlockByNumber(ctx context.Context, blockNum uint64) (*types.Block, error) {
	f.l1Fetches = append(f.l1Fetches, blockNum)
	return makeBlock(blockNum), nil
}

func (f *fakeChain) GetL2BlockByNumber(ctx context.Context, blockNum uint64) (*types.Block, error) {
	f.l2Fetches = append(f.l2Fetches, blockNum)
	return makeBlock(blockNum), nil
}

func (f *fakeChain) GetL1BlockReceipts(ctx context.Context, blockNum uint64) ([]*types.Receipt, error) {
	return f.receipts[blockNum], nil
}

// fakeReader serves store heights and gap lists.
type fakeReader struct {
	latestL1    uint64
	latestL2    uint64
	latestL1Err error
	latestL2Err error

	missingL1 []uint64
	missingL2 []uint64

	findCalls int
}

func (f *fakeReader) GetLatestL1Block(ctx context.Context) (uint64, error) {
	return f.latestL1, f.latestL1Err
}

func (f *fakeReader) GetLatestL2Block(ctx context.Context) (uint64, error) {
	return f.latestL2, f.latestL2Err
}

func (f *fakeReader) FindMissingL1Blocks(ctx context.Context, start, end uint64) ([]uint64, error) {
	f.findCalls++
	return inRange(f.missingL1, start, end), nil
}

func (f *fakeReader) FindMissingL2Blocks(ctx context.Context, start, end uint64) ([]uint64, error) {
	f.findCalls++
	return inRange(f.missingL2, start, end), nil
}

func (f *fakeReader) GetLatestHashesForBlocks(ctx context.Context, blockNums []uint64) ([]store.BlockHashPair, error) {
	return nil, nil
}

func inRange(nums []uint64, start, end uint64) []uint64 {
	var out []uint64
	for _, num := range nums {
		if num >= start && num <= end {
			out = append(out, num)
		}
	}
	return out
}

// recordingSink captures every event handed to it.
type recordingSink struct {
	events []any
}

func (s *recordingSink) Handle(ctx context.Context, ev any) error {
	s.events = append(s.events, ev)
	return nil
}

func makeBlock(num uint64) *types.Block {
	return types.NewBlockWithHeader(&types.Header{
		Number:     big.NewInt(int64(num)),
		Difficulty: big.NewInt(1),
		GasLimit:   8000000,
		Time:       1700000000 + num,
		BaseFee:    big.NewInt(7),
	})
}

func testConfig() config.IndexerConfig {
	return config.IndexerConfig{
		FinalizationBuffer: 10,
		SlotDuration:       common.NewDuration(12 * time.Second),
		Reconciler: config.ReconcilerConfig{
			PollInterval:    common.NewDuration(time.Minute),
			Lookback:        100,
			StartupLookback: 1000,
			ProbeTimeout:    common.NewDuration(5 * time.Second),
		},
	}
}

func setupReconciler(t *testing.T, cfg config.IndexerConfig, chain *fakeChain, reader *fakeReader) (*Reconciler, *recordingSink) {
	t.Helper()

	sink := &recordingSink{}
	decoder := events.NewDecoder(testInbox, ethcommon.Address{})
	return New(cfg, chain, reader, sink, decoder, logger.NewNopLogger()), sink
}

func TestReconciler_RunCycle_BackfillsConfirmedGaps(t *testing.T) {
	chain := &fakeChain{latestL1: 100, latestL2: 100, receipts: map[uint64][]*types.Receipt{}}
	reader := &fakeReader{
		latestL1:  90,
		latestL2:  90,
		missingL1: []uint64{75},
		missingL2: []uint64{80},
	}

	// block 75 carries one BatchProposed log from the inbox
	data, err := events.ProtocolABI.Events["BatchProposed"].Inputs.Pack(
		uint64(7),
		ethcommon.HexToAddress("0x02"),
		uint64(1234),
		[]byte{1, 2, 3},
	)
	require.NoError(t, err)

	chain.receipts[75] = []*types.Receipt{{
		TxHash: ethcommon.HexToHash("0xabc"),
		Logs: []*types.Log{{
			Address:     testInbox,
			Topics:      []ethcommon.Hash{events.BatchProposedTopic},
			Data:        data,
			BlockNumber: 75,
			TxHash:      ethcommon.HexToHash("0xabc"),
		}},
	}}

	recon, sink := setupReconciler(t, testConfig(), chain, reader)
	recon.runCycle(context.Background(), 20)

	require.Equal(t, []uint64{75}, chain.l1Fetches)
	require.Equal(t, []uint64{80}, chain.l2Fetches)

	// L1 header, replayed BatchProposed, L2 header
	require.Len(t, sink.events, 3)

	l1Header, ok := sink.events[0].(events.L1Header)
	require.True(t, ok)
	require.Equal(t, uint64(75), l1Header.Number)

	proposed, ok := sink.events[1].(*events.BatchProposed)
	require.True(t, ok)
	require.Equal(t, uint64(7), proposed.BatchID)
	require.Equal(t, uint64(1234), proposed.LastBlockNumber)

	l2Header, ok := sink.events[2].(events.L2Header)
	require.True(t, ok)
	require.Equal(t, uint64(80), l2Header.Number)
}

func TestReconciler_RunCycle_ProbeFailureSkipsCycle(t *testing.T) {
	chain := &fakeChain{probeErr: errors.New("node down")}
	reader := &fakeReader{missingL1: []uint64{75}}

	recon, sink := setupReconciler(t, testConfig(), chain, reader)
	recon.runCycle(context.Background(), 20)

	require.Zero(t, reader.findCalls)
	require.Empty(t, sink.events)
}

func TestReconciler_RunCycle_SchemaMissingSkipsCycle(t *testing.T) {
	chain := &fakeChain{latestL1: 100, latestL2: 100}
	reader := &fakeReader{latestL1Err: store.ErrSchemaMissing}

	recon, sink := setupReconciler(t, testConfig(), chain, reader)
	recon.runCycle(context.Background(), 20)

	require.Zero(t, reader.findCalls)
	require.Empty(t, sink.events)
}

func TestReconciler_RunCycle_EmptyStoreScansFromGenesis(t *testing.T) {
	chain := &fakeChain{latestL1: 15, latestL2: 15, receipts: map[uint64][]*types.Receipt{}}
	reader := &fakeReader{
		latestL1Err: store.ErrNotFound,
		latestL2Err: store.ErrNotFound,
		missingL1:   []uint64{1, 2, 3, 4, 5},
	}

	recon, _ := setupReconciler(t, testConfig(), chain, reader)
	recon.runCycle(context.Background(), 1000)

	// buffer 10 over tip 15 leaves [1, 5] eligible
	require.Equal(t, []uint64{1, 2, 3, 4, 5}, chain.l1Fetches)
}

func TestReconciler_ReconcileChain_MinBlockFilter(t *testing.T) {
	recon, _ := setupReconciler(t, testConfig(), &fakeChain{}, &fakeReader{})

	var backfilled []uint64
	recon.reconcileChain(context.Background(), chainJob{
		chain:       chainL2,
		latestDB:    60,
		backfillEnd: 60,
		minBlock:    50,
		lookback:    20,
		findMissing: func(ctx context.Context, start, end uint64) ([]uint64, error) {
			return []uint64{49, 50, 51}, nil
		},
		backfill: func(ctx context.Context, blockNum uint64) error {
			backfilled = append(backfilled, blockNum)
			return nil
		},
	})

	require.Equal(t, []uint64{50, 51}, backfilled)
}

func TestReconciler_ReconcileChain_SecondPassDropsFilledBlocks(t *testing.T) {
	recon, _ := setupReconciler(t, testConfig(), &fakeChain{}, &fakeReader{})

	calls := 0
	var backfilled []uint64
	recon.reconcileChain(context.Background(), chainJob{
		chain:       chainL1,
		latestDB:    80,
		backfillEnd: 80,
		lookback:    10,
		findMissing: func(ctx context.Context, start, end uint64) ([]uint64, error) {
			calls++
			if calls == 1 {
				return []uint64{75, 76}, nil
			}
			// the live path filled 75 between the two passes
			return []uint64{76}, nil
		},
		backfill: func(ctx context.Context, blockNum uint64) error {
			backfilled = append(backfilled, blockNum)
			return nil
		},
	})

	require.Equal(t, 2, calls)
	require.Equal(t, []uint64{76}, backfilled)
}

func TestReconciler_ReconcileChain_CircuitBreaker(t *testing.T) {
	if testing.Short() {
		t.Skip("retry delays make this test slow")
	}

	recon, _ := setupReconciler(t, testConfig(), &fakeChain{}, &fakeReader{})

	attempted := map[uint64]int{}
	recon.reconcileChain(context.Background(), chainJob{
		chain:       chainL1,
		latestDB:    10,
		backfillEnd: 10,
		lookback:    10,
		findMissing: func(ctx context.Context, start, end uint64) ([]uint64, error) {
			return []uint64{1, 2, 3, 4, 5, 6, 7}, nil
		},
		backfill: func(ctx context.Context, blockNum uint64) error {
			attempted[blockNum]++
			return errors.New("permanently broken")
		},
	})

	// breaker trips after five consecutive failed blocks; the rest are
	// left for the next cycle
	require.Len(t, attempted, 5)
	for _, block := range []uint64{6, 7} {
		require.Zero(t, attempted[block])
	}
	// each failed block was retried to exhaustion
	for _, count := range attempted {
		require.Equal(t, backfillAttempts, count)
	}
}

func TestReconciler_BackfillWithRetry_EventualSuccess(t *testing.T) {
	recon, _ := setupReconciler(t, testConfig(), &fakeChain{}, &fakeReader{})

	attempts := 0
	err := recon.backfillWithRetry(context.Background(), func(ctx context.Context, blockNum uint64) error {
		attempts++
		if attempts < 2 {
			return errors.New("transient")
		}
		return nil
	}, 42)

	require.NoError(t, err)
	require.Equal(t, 2, attempts)
}

func TestReconciler_BackfillWithRetry_ContextCancelled(t *testing.T) {
	recon, _ := setupReconciler(t, testConfig(), &fakeChain{}, &fakeReader{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := recon.backfillWithRetry(ctx, func(ctx context.Context, blockNum uint64) error {
		return errors.New("always fails")
	}, 42)

	require.ErrorIs(t, err, context.Canceled)
}
