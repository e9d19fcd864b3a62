package pipeline

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

func TestCostFromReceipt_ExecutionOnly(t *testing.T) {
	receipt := &types.Receipt{
		GasUsed:           21000,
		EffectiveGasPrice: big.NewInt(10),
	}

	require.Equal(t, uint64(210000), CostFromReceipt(receipt))
}

func TestCostFromReceipt_WithBlobGas(t *testing.T) {
	receipt := &types.Receipt{
		GasUsed:           100000,
		EffectiveGasPrice: big.NewInt(5),
		BlobGasUsed:       131072,
		BlobGasPrice:      big.NewInt(2),
	}

	require.Equal(t, uint64(100000*5+131072*2), CostFromReceipt(receipt))
}

func TestCostFromReceipt_NilPrices(t *testing.T) {
	receipt := &types.Receipt{GasUsed: 21000}
	require.Equal(t, uint64(0), CostFromReceipt(receipt))
}

func TestCostFromReceipt_BlobGasWithoutPrice(t *testing.T) {
	receipt := &types.Receipt{
		GasUsed:           21000,
		EffectiveGasPrice: big.NewInt(1),
		BlobGasUsed:       131072,
	}

	require.Equal(t, uint64(21000), CostFromReceipt(receipt))
}

func TestAverageCostPerBatch(t *testing.T) {
	tests := []struct {
		name     string
		total    uint64
		count    int
		expected uint64
	}{
		{name: "even split", total: 100, count: 4, expected: 25},
		{name: "floor division", total: 10, count: 3, expected: 3},
		{name: "single batch", total: 77, count: 1, expected: 77},
		{name: "zero count", total: 100, count: 0, expected: 0},
		{name: "negative count", total: 100, count: -1, expected: 0},
		{name: "zero total", total: 0, count: 5, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, AverageCostPerBatch(tt.total, tt.count))
		})
	}
}
