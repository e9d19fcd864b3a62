package events

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// protocolABI covers the four protocol events emitted by the inbox and
// the forced-inclusion wrapper. All arguments are non-indexed.
const protocolABI = `[
	{"type":"event","name":"BatchProposed","inputs":[
		{"name":"batchId","type":"uint64","indexed":false},
		{"name":"proposer","type":"address","indexed":false},
		{"name":"lastBlockId","type":"uint64","indexed":false},
		{"name":"txList","type":"bytes","indexed":false}]},
	{"type":"event","name":"BatchesProved","inputs":[
		{"name":"batchIds","type":"uint64[]","indexed":false},
		{"name":"transitions","type":"tuple[]","indexed":false,"components":[
			{"name":"parentHash","type":"bytes32"},
			{"name":"blockHash","type":"bytes32"},
			{"name":"stateRoot","type":"bytes32"}]}]},
	{"type":"event","name":"BatchesVerified","inputs":[
		{"name":"batchId","type":"uint64","indexed":false},
		{"name":"blockHash","type":"bytes32","indexed":false}]},
	{"type":"event","name":"ForcedInclusionProcessed","inputs":[
		{"name":"blobHash","type":"bytes32","indexed":false}]}
]`

// ProtocolABI is the parsed protocol ABI, shared by the decoder and tests.
var ProtocolABI abi.ABI

// Event topic IDs.
var (
	BatchProposedTopic            common.Hash
	BatchesProvedTopic            common.Hash
	BatchesVerifiedTopic          common.Hash
	ForcedInclusionProcessedTopic common.Hash
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(protocolABI))
	if err != nil {
		panic(fmt.Sprintf("invalid protocol ABI: %v", err))
	}
	ProtocolABI = parsed

	BatchProposedTopic = parsed.Events["BatchProposed"].ID
	BatchesProvedTopic = parsed.Events["BatchesProved"].ID
	BatchesVerifiedTopic = parsed.Events["BatchesVerified"].ID
	ForcedInclusionProcessedTopic = parsed.Events["ForcedInclusionProcessed"].ID
}

// AllTopics returns the topic IDs of every protocol event, for log filtering.
func AllTopics() []common.Hash {
	return []common.Hash{
		BatchProposedTopic,
		BatchesProvedTopic,
		BatchesVerifiedTopic,
		ForcedInclusionProcessedTopic,
	}
}

// Decoder turns raw logs from the inbox or wrapper contract into decoded
// protocol events. Logs from other addresses are ignored.
type Decoder struct {
	inbox   common.Address
	wrapper common.Address
}

// NewDecoder creates a Decoder for the given contract addresses.
// The wrapper address may be zero when no wrapper is deployed.
func NewDecoder(inbox, wrapper common.Address) *Decoder {
	return &Decoder{inbox: inbox, wrapper: wrapper}
}

// Watches reports whether the decoder cares about logs from addr.
func (d *Decoder) Watches(addr common.Address) bool {
	if addr == d.inbox {
		return true
	}
	return d.wrapper != (common.Address{}) && addr == d.wrapper
}

// Decode decodes a single log into one of the protocol event types.
// The second return value is false when the log is not a protocol event
// (wrong address, no topics, or unknown topic).
func (d *Decoder) Decode(log types.Log) (any, bool, error) {
	if !d.Watches(log.Address) || len(log.Topics) == 0 {
		return nil, false, nil
	}

	switch log.Topics[0] {
	case BatchProposedTopic:
		ev, err := decodeBatchProposed(log)
		return ev, err == nil, err
	case BatchesProvedTopic:
		ev, err := decodeBatchesProved(log)
		return ev, err == nil, err
	case BatchesVerifiedTopic:
		ev, err := decodeBatchesVerified(log)
		return ev, err == nil, err
	case ForcedInclusionProcessedTopic:
		ev, err := decodeForcedInclusion(log)
		return ev, err == nil, err
	default:
		return nil, false, nil
	}
}

func decodeBatchProposed(log types.Log) (*BatchProposed, error) {
	out, err := ProtocolABI.Unpack("BatchProposed", log.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack BatchProposed: %w", err)
	}

	return &BatchProposed{
		BatchID:         out[0].(uint64),
		Proposer:        out[1].(common.Address),
		LastBlockNumber: out[2].(uint64),
		TxList:          out[3].([]byte),
		L1TxHash:        log.TxHash,
	}, nil
}

func decodeBatchesProved(log types.Log) (*BatchesProved, error) {
	out, err := ProtocolABI.Unpack("BatchesProved", log.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack BatchesProved: %w", err)
	}

	transitions := *abi.ConvertType(out[1], new([]Transition)).(*[]Transition)

	return &BatchesProved{
		BatchIDs:      out[0].([]uint64),
		Transitions:   transitions,
		L1BlockNumber: log.BlockNumber,
		L1TxHash:      log.TxHash,
	}, nil
}

func decodeBatchesVerified(log types.Log) (*BatchesVerified, error) {
	out, err := ProtocolABI.Unpack("BatchesVerified", log.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack BatchesVerified: %w", err)
	}

	return &BatchesVerified{
		BatchID:       out[0].(uint64),
		BlockHash:     common.Hash(out[1].([32]byte)),
		L1BlockNumber: log.BlockNumber,
		L1TxHash:      log.TxHash,
	}, nil
}

func decodeForcedInclusion(log types.Log) (*ForcedInclusionProcessed, error) {
	out, err := ProtocolABI.Unpack("ForcedInclusionProcessed", log.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack ForcedInclusionProcessed: %w", err)
	}

	return &ForcedInclusionProcessed{
		BlobHash: common.Hash(out[0].([32]byte)),
	}, nil
}
