package store

import (
	"context"

	"github.com/rollupscan/batch-indexer/internal/common"
	"github.com/rollupscan/batch-indexer/internal/logger"
)

var _ Storage = (*DryRun)(nil)

// DryRun is the validation Storage implementation: every write is logged
// instead of committed, while reads are delegated to an optional underlying
// reader. With no reader, reads report ErrSchemaMissing so the reconciler
// skips its cycles rather than backfilling against a store that is not there.
type DryRun struct {
	log    *logger.Logger
	reader Reader
}

// NewDryRun creates a dry-run store. reader may be nil.
func NewDryRun(log *logger.Logger, reader Reader) *DryRun {
	return &DryRun{
		log:    log.WithComponent(common.ComponentStore),
		reader: reader,
	}
}

func (d *DryRun) InsertL1Head(ctx context.Context, row *L1HeadRow) error {
	d.log.Infow("dry-run: would insert L1 head",
		"block", row.BlockNumber, "hash", row.BlockHash.Hex(), "slot", row.Slot)
	return nil
}

func (d *DryRun) InsertL2Head(ctx context.Context, row *L2HeadRow) error {
	d.log.Infow("dry-run: would insert L2 head",
		"block", row.BlockNumber,
		"hash", row.BlockHash.Hex(),
		"gas_used", row.GasUsed,
		"tx_count", row.TxCount,
		"sum_priority_fee", row.SumPriorityFee,
	)
	return nil
}

func (d *DryRun) InsertBatch(ctx context.Context, row *BatchRow) error {
	d.log.Infow("dry-run: would insert batch",
		"batch_id", row.BatchID,
		"proposer", row.Proposer.Hex(),
		"last_block", row.LastBlockNumber,
	)
	return nil
}

func (d *DryRun) InsertProvedBatch(ctx context.Context, row *ProvedBatchRow) error {
	d.log.Infow("dry-run: would insert proved batch",
		"l1_block", row.L1BlockNumber, "batch_id", row.BatchID)
	return nil
}

func (d *DryRun) InsertVerifiedBatch(ctx context.Context, row *VerifiedBatchRow) error {
	d.log.Infow("dry-run: would insert verified batch",
		"l1_block", row.L1BlockNumber, "batch_id", row.BatchID)
	return nil
}

func (d *DryRun) InsertForcedInclusion(ctx context.Context, row *ForcedInclusionRow) error {
	d.log.Infow("dry-run: would insert forced inclusion", "blob_hash", row.BlobHash.Hex())
	return nil
}

func (d *DryRun) InsertBatchCost(ctx context.Context, row *BatchCostRow) error {
	d.log.Infow("dry-run: would insert batch cost",
		"l1_block", row.L1BlockNumber,
		"batch_id", row.BatchID,
		"kind", row.CostKind,
		"cost_wei", row.CostWei,
	)
	return nil
}

func (d *DryRun) InsertL2Reorg(ctx context.Context, row *L2ReorgRow) error {
	orphaned := "none"
	if row.OrphanedHash != nil {
		orphaned = row.OrphanedHash.Hex()
	}
	d.log.Infow("dry-run: would insert L2 reorg",
		"block", row.BlockNumber, "depth", row.Depth, "orphaned_hash", orphaned)
	return nil
}

func (d *DryRun) GetLatestL1Block(ctx context.Context) (uint64, error) {
	if d.reader == nil {
		return 0, ErrSchemaMissing
	}
	return d.reader.GetLatestL1Block(ctx)
}

func (d *DryRun) GetLatestL2Block(ctx context.Context) (uint64, error) {
	if d.reader == nil {
		return 0, ErrSchemaMissing
	}
	return d.reader.GetLatestL2Block(ctx)
}

func (d *DryRun) FindMissingL1Blocks(ctx context.Context, start, end uint64) ([]uint64, error) {
	if d.reader == nil {
		return nil, ErrSchemaMissing
	}
	return d.reader.FindMissingL1Blocks(ctx, start, end)
}

func (d *DryRun) FindMissingL2Blocks(ctx context.Context, start, end uint64) ([]uint64, error) {
	if d.reader == nil {
		return nil, ErrSchemaMissing
	}
	return d.reader.FindMissingL2Blocks(ctx, start, end)
}

func (d *DryRun) GetLatestHashesForBlocks(ctx context.Context, blockNums []uint64) ([]BlockHashPair, error) {
	if d.reader == nil {
		return nil, ErrSchemaMissing
	}
	return d.reader.GetLatestHashesForBlocks(ctx, blockNums)
}
