package events

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// L1Header is the slice of an L1 block header the store keeps.
// Immutable once constructed.
type L1Header struct {
	Number    uint64      `json:"number"`
	Hash      common.Hash `json:"hash"`
	Slot      uint64      `json:"slot"`
	Timestamp uint64      `json:"timestamp"`
}

// L2Header is the slice of an L2 block header the store keeps.
// Immutable once constructed.
type L2Header struct {
	Number        uint64         `json:"number"`
	Hash          common.Hash    `json:"hash"`
	ParentHash    common.Hash    `json:"parent_hash"`
	Timestamp     uint64         `json:"timestamp"`
	GasUsed       uint64         `json:"gas_used"`
	Beneficiary   common.Address `json:"beneficiary"`
	BaseFeePerGas uint64         `json:"base_fee_per_gas"`
}

// Transition is the proved state transition for one batch.
type Transition struct {
	ParentHash common.Hash `json:"parent_hash"`
	BlockHash  common.Hash `json:"block_hash"`
	StateRoot  common.Hash `json:"state_root"`
}

// BatchProposed is emitted by the inbox when a batch of L2 blocks is posted to L1.
type BatchProposed struct {
	BatchID         uint64         `json:"batch_id"`
	Proposer        common.Address `json:"proposer"`
	LastBlockNumber uint64         `json:"last_block_number"`
	TxList          []byte         `json:"tx_list"`
	L1TxHash        common.Hash    `json:"l1_tx_hash"`
}

// BatchesProved is emitted when one or more batches are proved in a single
// L1 transaction. BatchIDs and Transitions are parallel lists.
type BatchesProved struct {
	BatchIDs      []uint64     `json:"batch_ids"`
	Transitions   []Transition `json:"transitions"`
	L1BlockNumber uint64       `json:"l1_block_number"`
	L1TxHash      common.Hash  `json:"l1_tx_hash"`
}

// BatchesVerified is emitted when a single batch reaches verified status.
type BatchesVerified struct {
	BatchID       uint64      `json:"batch_id"`
	BlockHash     common.Hash `json:"block_hash"`
	L1BlockNumber uint64      `json:"l1_block_number"`
	L1TxHash      common.Hash `json:"l1_tx_hash"`
}

// ForcedInclusionProcessed is emitted by the wrapper when a forced-inclusion
// request is consumed.
type ForcedInclusionProcessed struct {
	BlobHash common.Hash `json:"blob_hash"`
}

// SlotForTimestamp derives the beacon slot for an L1 block.
// Blocks with timestamps before genesis (devnets, pre-merge fixtures)
// fall back to using the block number as the slot, as do sub-second
// slot durations, which truncate to a zero divisor.
func SlotForTimestamp(genesisTimestamp uint64, slotDuration time.Duration, blockNumber, timestamp uint64) uint64 {
	if timestamp < genesisTimestamp || slotDuration < time.Second {
		return blockNumber
	}
	return (timestamp - genesisTimestamp) / uint64(slotDuration.Seconds())
}

// NewL1Header builds an L1Header from an execution header.
func NewL1Header(h *types.Header, genesisTimestamp uint64, slotDuration time.Duration) L1Header {
	number := h.Number.Uint64()
	return L1Header{
		Number:    number,
		Hash:      h.Hash(),
		Slot:      SlotForTimestamp(genesisTimestamp, slotDuration, number, h.Time),
		Timestamp: h.Time,
	}
}

// NewL2Header builds an L2Header from an execution header.
func NewL2Header(h *types.Header) L2Header {
	baseFee := uint64(0)
	if h.BaseFee != nil {
		baseFee = h.BaseFee.Uint64()
	}
	return L2Header{
		Number:        h.Number.Uint64(),
		Hash:          h.Hash(),
		ParentHash:    h.ParentHash,
		Timestamp:     h.Time,
		GasUsed:       h.GasUsed,
		Beneficiary:   h.Coinbase,
		BaseFeePerGas: baseFee,
	}
}
