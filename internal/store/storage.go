package store

import (
	"context"
	"errors"
)

// ErrSchemaMissing is returned by readers when the store tables have not
// been migrated yet. Callers treat it as a skip condition, not a failure.
var ErrSchemaMissing = errors.New("store schema not migrated")

// ErrNotFound is returned by point reads when no row exists.
var ErrNotFound = errors.New("not found")

// Writer is the write side of the store. Every insert is single-row and
// idempotent under its primary key: replaying a duplicate event is a no-op.
type Writer interface {
	InsertL1Head(ctx context.Context, row *L1HeadRow) error
	InsertL2Head(ctx context.Context, row *L2HeadRow) error
	InsertBatch(ctx context.Context, row *BatchRow) error
	InsertProvedBatch(ctx context.Context, row *ProvedBatchRow) error
	InsertVerifiedBatch(ctx context.Context, row *VerifiedBatchRow) error
	InsertForcedInclusion(ctx context.Context, row *ForcedInclusionRow) error
	InsertBatchCost(ctx context.Context, row *BatchCostRow) error
	InsertL2Reorg(ctx context.Context, row *L2ReorgRow) error
}

// Reader is the read side used by the reconciler and the reorg bookkeeping.
type Reader interface {
	// GetLatestL1Block returns the highest stored L1 block number.
	// ErrNotFound when the table is empty, ErrSchemaMissing when unmigrated.
	GetLatestL1Block(ctx context.Context) (uint64, error)

	// GetLatestL2Block returns the highest stored L2 block number.
	GetLatestL2Block(ctx context.Context) (uint64, error)

	// FindMissingL1Blocks returns the block numbers in [start, end] that
	// have no l1_heads row, in ascending order.
	FindMissingL1Blocks(ctx context.Context, start, end uint64) ([]uint64, error)

	// FindMissingL2Blocks is the L2 counterpart of FindMissingL1Blocks.
	FindMissingL2Blocks(ctx context.Context, start, end uint64) ([]uint64, error)

	// GetLatestHashesForBlocks returns the stored (number, hash) pairs for
	// the given L2 block numbers. Blocks without a stored header are
	// silently absent from the result.
	GetLatestHashesForBlocks(ctx context.Context, blockNums []uint64) ([]BlockHashPair, error)
}

// Storage is the full capability handed to the pipeline and orchestrator.
// Two implementations exist: SQLStore commits writes; DryRun logs them.
type Storage interface {
	Writer
	Reader
}
