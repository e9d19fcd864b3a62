package reorg

import (
	"github.com/ethereum/go-ethereum/common"
	internalcommon "github.com/rollupscan/batch-indexer/internal/common"
	"github.com/rollupscan/batch-indexer/internal/logger"
	"github.com/rollupscan/batch-indexer/internal/metrics"
)

// ChainHead is the single mutable pointer the detector tracks:
// the most recently observed (number, hash) pair.
type ChainHead struct {
	BlockNumber uint64
	BlockHash   common.Hash
}

// Result describes one detected reorg. Depth is the number of displaced
// blocks; OrphanedHash is set only when the displaced hash is derivable
// locally (the equal-height case).
type Result struct {
	Depth        uint64
	OrphanedHash *common.Hash
}

// Detector tracks the L2 head pointer and reports reorgs. It holds no block
// history beyond the head; multi-block orphan hashes are resolved by the
// caller through a store range lookup. Not safe for concurrent use: the
// orchestrator owns it exclusively.
type Detector struct {
	head *ChainHead
	log  *logger.Logger
}

// NewDetector creates an uninitialized detector.
func NewDetector(log *logger.Logger) *Detector {
	return &Detector{
		log: log.WithComponent(internalcommon.ComponentReorgDetector),
	}
}

// Head returns the current head pointer, or nil before the first block.
func (d *Detector) Head() *ChainHead {
	return d.head
}

// OnNewBlock feeds one observed header into the state machine and returns a
// Result when the observation implies a reorg. The head pointer always
// advances to the observed block, including during reorgs.
//
// Forward moves are accepted without parent-hash validation: only
// equal-height and backward moves are treated as anomalies.
func (d *Detector) OnNewBlock(number uint64, hash common.Hash) *Result {
	if d.head == nil {
		d.head = &ChainHead{BlockNumber: number, BlockHash: hash}
		d.log.Infow("tracking started", "block", number, "hash", hash.Hex())
		return nil
	}

	prev := *d.head
	d.head.BlockNumber = number
	d.head.BlockHash = hash

	switch {
	case number > prev.BlockNumber:
		return nil

	case number == prev.BlockNumber:
		if hash == prev.BlockHash {
			// exact duplicate, nothing displaced
			return nil
		}
		orphaned := prev.BlockHash
		d.log.Warnw("equal-height reorg detected",
			"block", number,
			"old_hash", orphaned.Hex(),
			"new_hash", hash.Hex(),
		)
		metrics.ReorgDetected(1)
		return &Result{Depth: 1, OrphanedHash: &orphaned}

	default: // number < prev.BlockNumber
		depth := prev.BlockNumber - number + 1
		d.log.Warnw("backward reorg detected",
			"old_head", prev.BlockNumber,
			"new_head", number,
			"depth", depth,
		)
		metrics.ReorgDetected(depth)
		return &Result{Depth: depth}
	}
}

// CalculateOrphanedBlocks returns the block numbers displaced when the head
// moved backwards from oldHead to newHead: the inclusive range
// [newHead+1, oldHead]. Forward or equal moves displace nothing, keeping
// this consistent with the equal-height case where the orphaned hash is
// reported directly and must not be double-reported here.
func CalculateOrphanedBlocks(oldHead, newHead, depth uint64) []uint64 {
	if newHead >= oldHead {
		return nil
	}

	blocks := make([]uint64, 0, oldHead-newHead)
	for num := newHead + 1; num <= oldHead; num++ {
		blocks = append(blocks, num)
	}
	return blocks
}
