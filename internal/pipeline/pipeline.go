package pipeline

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	internalcommon "github.com/rollupscan/batch-indexer/internal/common"
	"github.com/rollupscan/batch-indexer/internal/events"
	"github.com/rollupscan/batch-indexer/internal/logger"
	"github.com/rollupscan/batch-indexer/internal/metrics"
	"github.com/rollupscan/batch-indexer/internal/store"
)

// ChainData is the read-side RPC surface the handlers need.
type ChainData interface {
	// GetReceipt fetches an L1 receipt; (nil, nil) when the receipt is absent.
	GetReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)

	// GetL2BlockStats returns (gasUsed, txCount, sumPriorityFee) for a block.
	GetL2BlockStats(ctx context.Context, blockHash common.Hash, baseFee uint64) (uint64, uint64, uint64, error)
}

// Pipeline maps decoded protocol events to storage writes. The same
// handlers serve the live stream path and the reconciler's backfill path;
// dry-run is selected by constructing it over a DryRun store.
//
// Each handler succeeds or fails as a unit, but there is no cross-write
// transaction: a failed secondary write (a cost row) leaves the already
// committed primary write in place, and the whole event is reported failed.
type Pipeline struct {
	store store.Storage
	rpc   ChainData
	log   *logger.Logger
}

// New creates a Pipeline over the given storage capability.
func New(storage store.Storage, rpc ChainData, log *logger.Logger) *Pipeline {
	return &Pipeline{
		store: storage,
		rpc:   rpc,
		log:   log.WithComponent(internalcommon.ComponentPipeline),
	}
}

// Handle dispatches one decoded event to its handler. It accepts the six
// event kinds regardless of whether the event came straight off an RPC
// stream, out of a backfilled block, or from a deserialized bus envelope.
func (p *Pipeline) Handle(ctx context.Context, ev any) error {
	var err error

	switch e := ev.(type) {
	case events.L1Header:
		err = p.OnL1Header(ctx, e)
	case events.L2Header:
		err = p.OnL2Header(ctx, e)
	case *events.BatchProposed:
		err = p.OnBatchProposed(ctx, e)
	case *events.BatchesProved:
		err = p.OnBatchesProved(ctx, e)
	case *events.BatchesVerified:
		err = p.OnBatchesVerified(ctx, e)
	case *events.ForcedInclusionProcessed:
		err = p.OnForcedInclusion(ctx, e)
	default:
		return fmt.Errorf("unhandled event type %T", ev)
	}

	metrics.EventProcessedInc(string(events.KindOf(ev)), err == nil)
	return err
}

// OnL1Header writes one L1 header row.
func (p *Pipeline) OnL1Header(ctx context.Context, h events.L1Header) error {
	return p.store.InsertL1Head(ctx, &store.L1HeadRow{
		BlockNumber: h.Number,
		BlockHash:   h.Hash,
		Slot:        h.Slot,
		Timestamp:   h.Timestamp,
	})
}

// OnL2Header computes the block's gas/tx/priority-fee statistics and writes
// one L2 header row.
func (p *Pipeline) OnL2Header(ctx context.Context, h events.L2Header) error {
	gasUsed, txCount, sumPriorityFee, err := p.rpc.GetL2BlockStats(ctx, h.Hash, h.BaseFeePerGas)
	if err != nil {
		return fmt.Errorf("failed to get stats for L2 block %d: %w", h.Number, err)
	}

	return p.store.InsertL2Head(ctx, &store.L2HeadRow{
		BlockNumber:    h.Number,
		BlockHash:      h.Hash,
		ParentHash:     h.ParentHash,
		Timestamp:      h.Timestamp,
		GasUsed:        gasUsed,
		Beneficiary:    h.Beneficiary,
		BaseFeePerGas:  h.BaseFeePerGas,
		TxCount:        txCount,
		SumPriorityFee: sumPriorityFee,
	})
}

// OnBatchProposed writes the batch row, then derives the posting cost from
// the proposal receipt when one is available.
func (p *Pipeline) OnBatchProposed(ctx context.Context, ev *events.BatchProposed) error {
	if err := p.store.InsertBatch(ctx, &store.BatchRow{
		BatchID:         ev.BatchID,
		Proposer:        ev.Proposer,
		LastBlockNumber: ev.LastBlockNumber,
		TxListSize:      uint64(len(ev.TxList)),
		L1TxHash:        ev.L1TxHash,
	}); err != nil {
		return fmt.Errorf("failed to write batch %d: %w", ev.BatchID, err)
	}

	receipt, err := p.rpc.GetReceipt(ctx, ev.L1TxHash)
	if err != nil {
		return fmt.Errorf("failed to fetch proposal receipt for batch %d: %w", ev.BatchID, err)
	}
	if receipt == nil {
		p.log.Debugw("proposal receipt not found, skipping cost row",
			"batch_id", ev.BatchID, "l1_tx", ev.L1TxHash.Hex())
		return nil
	}

	return p.store.InsertBatchCost(ctx, &store.BatchCostRow{
		L1BlockNumber: receipt.BlockNumber.Uint64(),
		BatchID:       ev.BatchID,
		CostKind:      store.CostPropose,
		CostWei:       CostFromReceipt(receipt),
	})
}

// OnBatchesProved writes one proved-batch row per (batch id, transition)
// pair. The two lists are zipped; when they differ in length the excess
// batch ids are dropped, matching the contract's emission quirk.
func (p *Pipeline) OnBatchesProved(ctx context.Context, ev *events.BatchesProved) error {
	pairs := len(ev.BatchIDs)
	if len(ev.Transitions) < pairs {
		pairs = len(ev.Transitions)
	}
	if pairs < len(ev.BatchIDs) {
		p.log.Warnw("batch ids without transitions dropped",
			"batch_ids", len(ev.BatchIDs),
			"transitions", len(ev.Transitions),
			"l1_tx", ev.L1TxHash.Hex(),
		)
	}

	for i := 0; i < pairs; i++ {
		if err := p.store.InsertProvedBatch(ctx, &store.ProvedBatchRow{
			L1BlockNumber: ev.L1BlockNumber,
			BatchID:       ev.BatchIDs[i],
			ParentHash:    ev.Transitions[i].ParentHash,
			BlockHash:     ev.Transitions[i].BlockHash,
			StateRoot:     ev.Transitions[i].StateRoot,
			L1TxHash:      ev.L1TxHash,
		}); err != nil {
			return fmt.Errorf("failed to write proved batch %d: %w", ev.BatchIDs[i], err)
		}
	}

	if pairs == 0 {
		return nil
	}

	receipt, err := p.rpc.GetReceipt(ctx, ev.L1TxHash)
	if err != nil {
		return fmt.Errorf("failed to fetch prove receipt: %w", err)
	}
	if receipt == nil {
		p.log.Debugw("prove receipt not found, skipping cost rows", "l1_tx", ev.L1TxHash.Hex())
		return nil
	}

	perBatch := AverageCostPerBatch(CostFromReceipt(receipt), pairs)
	for i := 0; i < pairs; i++ {
		if err := p.store.InsertBatchCost(ctx, &store.BatchCostRow{
			L1BlockNumber: ev.L1BlockNumber,
			BatchID:       ev.BatchIDs[i],
			CostKind:      store.CostProve,
			CostWei:       perBatch,
		}); err != nil {
			return fmt.Errorf("failed to write prove cost for batch %d: %w", ev.BatchIDs[i], err)
		}
	}

	return nil
}

// OnBatchesVerified writes the verified-batch row and, when the receipt is
// available, a single verify-cost row (exactly one batch per event).
func (p *Pipeline) OnBatchesVerified(ctx context.Context, ev *events.BatchesVerified) error {
	if err := p.store.InsertVerifiedBatch(ctx, &store.VerifiedBatchRow{
		L1BlockNumber: ev.L1BlockNumber,
		BatchID:       ev.BatchID,
		BlockHash:     ev.BlockHash,
		L1TxHash:      ev.L1TxHash,
	}); err != nil {
		return fmt.Errorf("failed to write verified batch %d: %w", ev.BatchID, err)
	}

	receipt, err := p.rpc.GetReceipt(ctx, ev.L1TxHash)
	if err != nil {
		return fmt.Errorf("failed to fetch verify receipt: %w", err)
	}
	if receipt == nil {
		p.log.Debugw("verify receipt not found, skipping cost row",
			"batch_id", ev.BatchID, "l1_tx", ev.L1TxHash.Hex())
		return nil
	}

	return p.store.InsertBatchCost(ctx, &store.BatchCostRow{
		L1BlockNumber: ev.L1BlockNumber,
		BatchID:       ev.BatchID,
		CostKind:      store.CostVerify,
		CostWei:       CostFromReceipt(receipt),
	})
}

// OnForcedInclusion writes one row keyed by blob hash.
func (p *Pipeline) OnForcedInclusion(ctx context.Context, ev *events.ForcedInclusionProcessed) error {
	return p.store.InsertForcedInclusion(ctx, &store.ForcedInclusionRow{
		BlobHash: ev.BlobHash,
	})
}
