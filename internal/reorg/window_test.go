package reorg

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestDedupWindow_RecordAndSeen(t *testing.T) {
	window := NewDedupWindow(3)

	hash := common.HexToHash("0x01")
	require.False(t, window.Seen(hash))

	window.Record(hash)
	require.True(t, window.Seen(hash))
	require.Equal(t, 1, window.Len())
}

func TestDedupWindow_EvictsOldestFirst(t *testing.T) {
	window := NewDedupWindow(5)

	for num := uint64(1); num <= 10; num++ {
		window.Record(hashForBlock(num))
	}

	require.Equal(t, 5, window.Len())

	for num := uint64(1); num <= 5; num++ {
		require.False(t, window.Seen(hashForBlock(num)), "hash %d should be evicted", num)
	}
	for num := uint64(6); num <= 10; num++ {
		require.True(t, window.Seen(hashForBlock(num)), "hash %d should be retained", num)
	}
}

func TestDedupWindow_RecordPresentIsNoop(t *testing.T) {
	window := NewDedupWindow(2)

	hash := common.HexToHash("0x01")
	window.Record(hash)
	window.Record(hash)
	window.Record(hash)

	require.Equal(t, 1, window.Len())

	// the duplicate records must not have consumed eviction slots
	window.Record(common.HexToHash("0x02"))
	require.True(t, window.Seen(hash))
	require.Equal(t, 2, window.Len())
}

func TestDedupWindow_ZeroCapacity(t *testing.T) {
	window := NewDedupWindow(0)

	hash := common.HexToHash("0x01")
	window.Record(hash)
	require.False(t, window.Seen(hash))
	require.Equal(t, 0, window.Len())
}
