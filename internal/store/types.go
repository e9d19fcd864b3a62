package store

import (
	"github.com/ethereum/go-ethereum/common"
)

// CostKind labels which pipeline stage a batch cost row belongs to.
type CostKind string

const (
	CostPropose CostKind = "propose"
	CostProve   CostKind = "prove"
	CostVerify  CostKind = "verify"
)

// L1HeadRow is one row of the l1_heads table.
type L1HeadRow struct {
	BlockNumber uint64      `meddler:"block_number"`
	BlockHash   common.Hash `meddler:"block_hash,hash"`
	Slot        uint64      `meddler:"slot"`
	Timestamp   uint64      `meddler:"timestamp"`
}

// L2HeadRow is one row of the l2_heads table.
type L2HeadRow struct {
	BlockNumber    uint64         `meddler:"block_number"`
	BlockHash      common.Hash    `meddler:"block_hash,hash"`
	ParentHash     common.Hash    `meddler:"parent_hash,hash"`
	Timestamp      uint64         `meddler:"timestamp"`
	GasUsed        uint64         `meddler:"gas_used"`
	Beneficiary    common.Address `meddler:"beneficiary,address"`
	BaseFeePerGas  uint64         `meddler:"base_fee_per_gas"`
	TxCount        uint64         `meddler:"tx_count"`
	SumPriorityFee uint64         `meddler:"sum_priority_fee"`
}

// BatchRow is one row of the batches table, keyed by batch id.
type BatchRow struct {
	BatchID         uint64         `meddler:"batch_id"`
	Proposer        common.Address `meddler:"proposer,address"`
	LastBlockNumber uint64         `meddler:"last_block_number"`
	TxListSize      uint64         `meddler:"tx_list_size"`
	L1TxHash        common.Hash    `meddler:"l1_tx_hash,hash"`
}

// ProvedBatchRow is one row of the proved_batches table,
// keyed by (l1_block_number, batch_id).
type ProvedBatchRow struct {
	L1BlockNumber uint64      `meddler:"l1_block_number"`
	BatchID       uint64      `meddler:"batch_id"`
	ParentHash    common.Hash `meddler:"parent_hash,hash"`
	BlockHash     common.Hash `meddler:"block_hash,hash"`
	StateRoot     common.Hash `meddler:"state_root,hash"`
	L1TxHash      common.Hash `meddler:"l1_tx_hash,hash"`
}

// VerifiedBatchRow is one row of the verified_batches table,
// keyed by (l1_block_number, batch_id).
type VerifiedBatchRow struct {
	L1BlockNumber uint64      `meddler:"l1_block_number"`
	BatchID       uint64      `meddler:"batch_id"`
	BlockHash     common.Hash `meddler:"block_hash,hash"`
	L1TxHash      common.Hash `meddler:"l1_tx_hash,hash"`
}

// ForcedInclusionRow is one row of the forced_inclusions table,
// keyed by blob hash.
type ForcedInclusionRow struct {
	BlobHash common.Hash `meddler:"blob_hash,hash"`
}

// BatchCostRow is one derived cost row, keyed by
// (l1_block_number, batch_id, cost_kind).
type BatchCostRow struct {
	L1BlockNumber uint64   `meddler:"l1_block_number"`
	BatchID       uint64   `meddler:"batch_id"`
	CostKind      CostKind `meddler:"cost_kind"`
	CostWei       uint64   `meddler:"cost_wei"`
}

// L2ReorgRow records one detected L2 reorg side-effect. OrphanedHash is nil
// when the displaced hash could not be derived locally or from the store.
type L2ReorgRow struct {
	BlockNumber  uint64       `meddler:"block_number"`
	Depth        uint64       `meddler:"depth"`
	OrphanedHash *common.Hash `meddler:"orphaned_hash,hash"`
}

// BlockHashPair is the (hash, number) result of the latest-hashes lookup.
type BlockHashPair struct {
	BlockNumber uint64      `meddler:"block_number"`
	BlockHash   common.Hash `meddler:"block_hash,hash"`
}
