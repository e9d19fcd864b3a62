package pipeline

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rollupscan/batch-indexer/internal/events"
	"github.com/rollupscan/batch-indexer/internal/logger"
	"github.com/rollupscan/batch-indexer/internal/store"
	"github.com/stretchr/testify/require"
)

// recordingStore captures every write for assertions.
type recordingStore struct {
	l1Heads          []*store.L1HeadRow
	l2Heads          []*store.L2HeadRow
	batches          []*store.BatchRow
	provedBatches    []*store.ProvedBatchRow
	verifiedBatches  []*store.VerifiedBatchRow
	forcedInclusions []*store.ForcedInclusionRow
	batchCosts       []*store.BatchCostRow
	reorgs           []*store.L2ReorgRow
}

func (s *recordingStore) InsertL1Head(ctx context.Context, row *store.L1HeadRow) error {
	s.l1Heads = append(s.l1Heads, row)
	return nil
}

func (s *recordingStore) InsertL2Head(ctx context.Context, row *store.L2HeadRow) error {
	s.l2Heads = append(s.l2Heads, row)
	return nil
}

func (s *recordingStore) InsertBatch(ctx context.Context, row *store.BatchRow) error {
	s.batches = append(s.batches, row)
	return nil
}

func (s *recordingStore) InsertProvedBatch(ctx context.Context, row *store.ProvedBatchRow) error {
	s.provedBatches = append(s.provedBatches, row)
	return nil
}

func (s *recordingStore) InsertVerifiedBatch(ctx context.Context, row *store.VerifiedBatchRow) error {
	s.verifiedBatches = append(s.verifiedBatches, row)
	return nil
}

func (s *recordingStore) InsertForcedInclusion(ctx context.Context, row *store.ForcedInclusionRow) error {
	s.forcedInclusions = append(s.forcedInclusions, row)
	return nil
}

func (s *recordingStore) InsertBatchCost(ctx context.Context, row *store.BatchCostRow) error {
	s.batchCosts = append(s.batchCosts, row)
	return nil
}

func (s *recordingStore) InsertL2Reorg(ctx context.Context, row *store.L2ReorgRow) error {
	s.reorgs = append(s.reorgs, row)
	return nil
}

func (s *recordingStore) GetLatestL1Block(ctx context.Context) (uint64, error) {
	return 0, store.ErrNotFound
}

func (s *recordingStore) GetLatestL2Block(ctx context.Context) (uint64, error) {
	return 0, store.ErrNotFound
}

func (s *recordingStore) FindMissingL1Blocks(ctx context.Context, start, end uint64) ([]uint64, error) {
	return nil, nil
}

func (s *recordingStore) FindMissingL2Blocks(ctx context.Context, start, end uint64) ([]uint64, error) {
	return nil, nil
}

func (s *recordingStore) GetLatestHashesForBlocks(ctx context.Context, blockNums []uint64) ([]store.BlockHashPair, error) {
	return nil, nil
}

// fakeChainData serves receipts and block stats from maps.
type fakeChainData struct {
	receipts   map[common.Hash]*types.Receipt
	receiptErr error

	gasUsed        uint64
	txCount        uint64
	sumPriorityFee uint64
	statsErr       error
}

func (f *fakeChainData) GetReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}
	return f.receipts[txHash], nil
}

func (f *fakeChainData) GetL2BlockStats(ctx context.Context, blockHash common.Hash, baseFee uint64) (uint64, uint64, uint64, error) {
	if f.statsErr != nil {
		return 0, 0, 0, f.statsErr
	}
	return f.gasUsed, f.txCount, f.sumPriorityFee, nil
}

func setupPipeline(t *testing.T) (*Pipeline, *recordingStore, *fakeChainData) {
	t.Helper()

	storage := &recordingStore{}
	chain := &fakeChainData{receipts: map[common.Hash]*types.Receipt{}}
	pipe := New(storage, chain, logger.NewNopLogger())
	return pipe, storage, chain
}

func TestPipeline_OnL1Header(t *testing.T) {
	pipe, storage, _ := setupPipeline(t)

	err := pipe.Handle(context.Background(), events.L1Header{
		Number:    100,
		Hash:      common.HexToHash("0x64"),
		Slot:      8000,
		Timestamp: 1700000000,
	})
	require.NoError(t, err)

	require.Len(t, storage.l1Heads, 1)
	require.Equal(t, uint64(100), storage.l1Heads[0].BlockNumber)
	require.Equal(t, uint64(8000), storage.l1Heads[0].Slot)
}

func TestPipeline_OnL2Header(t *testing.T) {
	pipe, storage, chain := setupPipeline(t)
	chain.gasUsed = 500000
	chain.txCount = 12
	chain.sumPriorityFee = 42000

	err := pipe.Handle(context.Background(), events.L2Header{
		Number:        200,
		Hash:          common.HexToHash("0xc8"),
		ParentHash:    common.HexToHash("0xc7"),
		Timestamp:     1700000012,
		Beneficiary:   common.HexToAddress("0x01"),
		BaseFeePerGas: 7,
	})
	require.NoError(t, err)

	require.Len(t, storage.l2Heads, 1)
	row := storage.l2Heads[0]
	require.Equal(t, uint64(200), row.BlockNumber)
	require.Equal(t, uint64(500000), row.GasUsed)
	require.Equal(t, uint64(12), row.TxCount)
	require.Equal(t, uint64(42000), row.SumPriorityFee)
	require.Equal(t, uint64(7), row.BaseFeePerGas)
}

func TestPipeline_OnL2Header_StatsError(t *testing.T) {
	pipe, storage, chain := setupPipeline(t)
	chain.statsErr = errors.New("node unavailable")

	err := pipe.Handle(context.Background(), events.L2Header{Number: 200})
	require.Error(t, err)
	require.Empty(t, storage.l2Heads)
}

func TestPipeline_OnBatchProposed(t *testing.T) {
	pipe, storage, chain := setupPipeline(t)

	txHash := common.HexToHash("0xabc")
	chain.receipts[txHash] = &types.Receipt{
		BlockNumber:       big.NewInt(555),
		GasUsed:           100000,
		EffectiveGasPrice: big.NewInt(3),
	}

	err := pipe.Handle(context.Background(), &events.BatchProposed{
		BatchID:         7,
		Proposer:        common.HexToAddress("0x02"),
		LastBlockNumber: 1234,
		TxList:          []byte{1, 2, 3},
		L1TxHash:        txHash,
	})
	require.NoError(t, err)

	require.Len(t, storage.batches, 1)
	require.Equal(t, uint64(7), storage.batches[0].BatchID)
	require.Equal(t, uint64(3), storage.batches[0].TxListSize)

	require.Len(t, storage.batchCosts, 1)
	cost := storage.batchCosts[0]
	require.Equal(t, store.CostPropose, cost.CostKind)
	require.Equal(t, uint64(555), cost.L1BlockNumber)
	require.Equal(t, uint64(300000), cost.CostWei)
}

func TestPipeline_OnBatchProposed_ReceiptMissing(t *testing.T) {
	pipe, storage, _ := setupPipeline(t)

	err := pipe.Handle(context.Background(), &events.BatchProposed{
		BatchID:  8,
		L1TxHash: common.HexToHash("0xdef"),
	})
	require.NoError(t, err)

	// batch row written, cost row skipped
	require.Len(t, storage.batches, 1)
	require.Empty(t, storage.batchCosts)
}

func TestPipeline_OnBatchesProved(t *testing.T) {
	pipe, storage, chain := setupPipeline(t)

	txHash := common.HexToHash("0x111")
	chain.receipts[txHash] = &types.Receipt{
		BlockNumber:       big.NewInt(600),
		GasUsed:           100,
		EffectiveGasPrice: big.NewInt(1),
	}

	err := pipe.Handle(context.Background(), &events.BatchesProved{
		BatchIDs: []uint64{10, 11},
		Transitions: []events.Transition{
			{BlockHash: common.HexToHash("0x0a")},
			{BlockHash: common.HexToHash("0x0b")},
		},
		L1BlockNumber: 600,
		L1TxHash:      txHash,
	})
	require.NoError(t, err)

	require.Len(t, storage.provedBatches, 2)
	require.Equal(t, uint64(10), storage.provedBatches[0].BatchID)
	require.Equal(t, common.HexToHash("0x0a"), storage.provedBatches[0].BlockHash)
	require.Equal(t, uint64(11), storage.provedBatches[1].BatchID)

	// 100 wei split across 2 batches
	require.Len(t, storage.batchCosts, 2)
	for _, cost := range storage.batchCosts {
		require.Equal(t, store.CostProve, cost.CostKind)
		require.Equal(t, uint64(50), cost.CostWei)
	}
}

func TestPipeline_OnBatchesProved_ExcessBatchIDsDropped(t *testing.T) {
	pipe, storage, chain := setupPipeline(t)

	txHash := common.HexToHash("0x222")
	chain.receipts[txHash] = &types.Receipt{
		BlockNumber:       big.NewInt(601),
		GasUsed:           90,
		EffectiveGasPrice: big.NewInt(1),
	}

	err := pipe.Handle(context.Background(), &events.BatchesProved{
		BatchIDs: []uint64{20, 21, 22},
		Transitions: []events.Transition{
			{BlockHash: common.HexToHash("0x14")},
		},
		L1BlockNumber: 601,
		L1TxHash:      txHash,
	})
	require.NoError(t, err)

	// only the zipped pair is written; cost divides by pair count, not id count
	require.Len(t, storage.provedBatches, 1)
	require.Equal(t, uint64(20), storage.provedBatches[0].BatchID)

	require.Len(t, storage.batchCosts, 1)
	require.Equal(t, uint64(90), storage.batchCosts[0].CostWei)
}

func TestPipeline_OnBatchesProved_NoPairs(t *testing.T) {
	pipe, storage, _ := setupPipeline(t)

	err := pipe.Handle(context.Background(), &events.BatchesProved{
		BatchIDs: []uint64{30},
		L1TxHash: common.HexToHash("0x333"),
	})
	require.NoError(t, err)
	require.Empty(t, storage.provedBatches)
	require.Empty(t, storage.batchCosts)
}

func TestPipeline_OnBatchesVerified(t *testing.T) {
	pipe, storage, chain := setupPipeline(t)

	txHash := common.HexToHash("0x444")
	chain.receipts[txHash] = &types.Receipt{
		BlockNumber:       big.NewInt(700),
		GasUsed:           50,
		EffectiveGasPrice: big.NewInt(2),
	}

	err := pipe.Handle(context.Background(), &events.BatchesVerified{
		BatchID:       40,
		BlockHash:     common.HexToHash("0x28"),
		L1BlockNumber: 700,
		L1TxHash:      txHash,
	})
	require.NoError(t, err)

	require.Len(t, storage.verifiedBatches, 1)
	require.Equal(t, uint64(40), storage.verifiedBatches[0].BatchID)

	require.Len(t, storage.batchCosts, 1)
	require.Equal(t, store.CostVerify, storage.batchCosts[0].CostKind)
	require.Equal(t, uint64(100), storage.batchCosts[0].CostWei)
}

func TestPipeline_OnForcedInclusion(t *testing.T) {
	pipe, storage, _ := setupPipeline(t)

	err := pipe.Handle(context.Background(), &events.ForcedInclusionProcessed{
		BlobHash: common.HexToHash("0x555"),
	})
	require.NoError(t, err)

	require.Len(t, storage.forcedInclusions, 1)
	require.Equal(t, common.HexToHash("0x555"), storage.forcedInclusions[0].BlobHash)
}

func TestPipeline_UnknownEventType(t *testing.T) {
	pipe, _, _ := setupPipeline(t)

	err := pipe.Handle(context.Background(), struct{}{})
	require.Error(t, err)
}
