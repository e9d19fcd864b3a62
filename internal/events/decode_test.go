package events

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

var (
	testInbox   = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testWrapper = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func packEventData(t *testing.T, event string, args ...any) []byte {
	t.Helper()
	data, err := ProtocolABI.Events[event].Inputs.Pack(args...)
	require.NoError(t, err)
	return data
}

func TestDecoder_Watches(t *testing.T) {
	decoder := NewDecoder(testInbox, testWrapper)

	require.True(t, decoder.Watches(testInbox))
	require.True(t, decoder.Watches(testWrapper))
	require.False(t, decoder.Watches(common.HexToAddress("0x03")))

	// zero wrapper means only the inbox is watched
	noWrapper := NewDecoder(testInbox, common.Address{})
	require.True(t, noWrapper.Watches(testInbox))
	require.False(t, noWrapper.Watches(common.Address{}))
}

func TestDecoder_DecodeBatchProposed(t *testing.T) {
	decoder := NewDecoder(testInbox, testWrapper)

	proposer := common.HexToAddress("0x04")
	data := packEventData(t, "BatchProposed",
		uint64(42), proposer, uint64(9000), []byte{0xde, 0xad})

	ev, ok, err := decoder.Decode(types.Log{
		Address: testInbox,
		Topics:  []common.Hash{BatchProposedTopic},
		Data:    data,
		TxHash:  common.HexToHash("0xaa"),
	})
	require.NoError(t, err)
	require.True(t, ok)

	proposed, ok := ev.(*BatchProposed)
	require.True(t, ok)
	require.Equal(t, uint64(42), proposed.BatchID)
	require.Equal(t, proposer, proposed.Proposer)
	require.Equal(t, uint64(9000), proposed.LastBlockNumber)
	require.Equal(t, []byte{0xde, 0xad}, proposed.TxList)
	require.Equal(t, common.HexToHash("0xaa"), proposed.L1TxHash)
}

func TestDecoder_DecodeBatchesProved(t *testing.T) {
	decoder := NewDecoder(testInbox, testWrapper)

	transitions := []Transition{
		{
			ParentHash: common.HexToHash("0x10"),
			BlockHash:  common.HexToHash("0x11"),
			StateRoot:  common.HexToHash("0x12"),
		},
		{
			ParentHash: common.HexToHash("0x20"),
			BlockHash:  common.HexToHash("0x21"),
			StateRoot:  common.HexToHash("0x22"),
		},
	}
	data := packEventData(t, "BatchesProved", []uint64{5, 6}, transitions)

	ev, ok, err := decoder.Decode(types.Log{
		Address:     testInbox,
		Topics:      []common.Hash{BatchesProvedTopic},
		Data:        data,
		BlockNumber: 777,
		TxHash:      common.HexToHash("0xbb"),
	})
	require.NoError(t, err)
	require.True(t, ok)

	proved, ok := ev.(*BatchesProved)
	require.True(t, ok)
	require.Equal(t, []uint64{5, 6}, proved.BatchIDs)
	require.Equal(t, transitions, proved.Transitions)
	require.Equal(t, uint64(777), proved.L1BlockNumber)
	require.Equal(t, common.HexToHash("0xbb"), proved.L1TxHash)
}

func TestDecoder_DecodeBatchesVerified(t *testing.T) {
	decoder := NewDecoder(testInbox, testWrapper)

	blockHash := common.HexToHash("0x33")
	data := packEventData(t, "BatchesVerified", uint64(9), [32]byte(blockHash))

	ev, ok, err := decoder.Decode(types.Log{
		Address:     testInbox,
		Topics:      []common.Hash{BatchesVerifiedTopic},
		Data:        data,
		BlockNumber: 888,
		TxHash:      common.HexToHash("0xcc"),
	})
	require.NoError(t, err)
	require.True(t, ok)

	verified, ok := ev.(*BatchesVerified)
	require.True(t, ok)
	require.Equal(t, uint64(9), verified.BatchID)
	require.Equal(t, blockHash, verified.BlockHash)
	require.Equal(t, uint64(888), verified.L1BlockNumber)
}

func TestDecoder_DecodeForcedInclusion(t *testing.T) {
	decoder := NewDecoder(testInbox, testWrapper)

	blobHash := common.HexToHash("0x44")
	data := packEventData(t, "ForcedInclusionProcessed", [32]byte(blobHash))

	ev, ok, err := decoder.Decode(types.Log{
		Address: testWrapper,
		Topics:  []common.Hash{ForcedInclusionProcessedTopic},
		Data:    data,
	})
	require.NoError(t, err)
	require.True(t, ok)

	forced, ok := ev.(*ForcedInclusionProcessed)
	require.True(t, ok)
	require.Equal(t, blobHash, forced.BlobHash)
}

func TestDecoder_IgnoresUnwatchedAndUnknown(t *testing.T) {
	decoder := NewDecoder(testInbox, testWrapper)

	// unwatched address
	_, ok, err := decoder.Decode(types.Log{
		Address: common.HexToAddress("0x99"),
		Topics:  []common.Hash{BatchProposedTopic},
	})
	require.NoError(t, err)
	require.False(t, ok)

	// unknown topic
	_, ok, err = decoder.Decode(types.Log{
		Address: testInbox,
		Topics:  []common.Hash{common.HexToHash("0xdead")},
	})
	require.NoError(t, err)
	require.False(t, ok)

	// anonymous log
	_, ok, err = decoder.Decode(types.Log{Address: testInbox})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDecoder_MalformedData(t *testing.T) {
	decoder := NewDecoder(testInbox, testWrapper)

	_, ok, err := decoder.Decode(types.Log{
		Address: testInbox,
		Topics:  []common.Hash{BatchProposedTopic},
		Data:    []byte{0x01},
	})
	require.Error(t, err)
	require.False(t, ok)
}
