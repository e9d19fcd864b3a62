package pipeline

import (
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
)

// CostFromReceipt derives the L1 wei spent by the transaction behind a
// receipt: execution gas at the effective price, plus blob gas when the
// transaction carried blobs.
func CostFromReceipt(receipt *types.Receipt) uint64 {
	cost := new(big.Int)

	if receipt.EffectiveGasPrice != nil {
		cost.Mul(receipt.EffectiveGasPrice, new(big.Int).SetUint64(receipt.GasUsed))
	}

	if receipt.BlobGasUsed > 0 && receipt.BlobGasPrice != nil {
		blobCost := new(big.Int).Mul(receipt.BlobGasPrice, new(big.Int).SetUint64(receipt.BlobGasUsed))
		cost.Add(cost, blobCost)
	}

	return cost.Uint64()
}

// AverageCostPerBatch splits a total cost evenly across count batches using
// integer floor division; the remainder is dropped.
func AverageCostPerBatch(total uint64, count int) uint64 {
	if count <= 0 {
		return 0
	}
	return total / uint64(count)
}
