package events

import (
	"encoding/json"
	"fmt"
)

// Kind tags one of the six event kinds carried over the bus transport.
type Kind string

const (
	KindL1Header        Kind = "l1_header"
	KindL2Header        Kind = "l2_header"
	KindBatchProposed   Kind = "batch_proposed"
	KindBatchesProved   Kind = "batches_proved"
	KindBatchesVerified Kind = "batches_verified"
	KindForcedInclusion Kind = "forced_inclusion"
)

// Envelope is the wire format when extraction and writing are split across
// a message bus: a tagged union of the six event kinds.
type Envelope struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// KindOf returns the envelope kind for a decoded event, or "" when the
// value is not one of the six event kinds.
func KindOf(ev any) Kind {
	switch ev.(type) {
	case L1Header, *L1Header:
		return KindL1Header
	case L2Header, *L2Header:
		return KindL2Header
	case *BatchProposed:
		return KindBatchProposed
	case *BatchesProved:
		return KindBatchesProved
	case *BatchesVerified:
		return KindBatchesVerified
	case *ForcedInclusionProcessed:
		return KindForcedInclusion
	default:
		return ""
	}
}

// Wrap serializes a decoded event into an Envelope.
func Wrap(ev any) (Envelope, error) {
	kind := KindOf(ev)
	if kind == "" {
		return Envelope{}, fmt.Errorf("not a protocol event: %T", ev)
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", kind, err)
	}

	return Envelope{Kind: kind, Payload: payload}, nil
}

// Unwrap deserializes the envelope payload back into its concrete event type.
func (e Envelope) Unwrap() (any, error) {
	var target any

	switch e.Kind {
	case KindL1Header:
		target = &L1Header{}
	case KindL2Header:
		target = &L2Header{}
	case KindBatchProposed:
		target = &BatchProposed{}
	case KindBatchesProved:
		target = &BatchesProved{}
	case KindBatchesVerified:
		target = &BatchesVerified{}
	case KindForcedInclusion:
		target = &ForcedInclusionProcessed{}
	default:
		return nil, fmt.Errorf("unknown event kind %q", e.Kind)
	}

	if err := json.Unmarshal(e.Payload, target); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s payload: %w", e.Kind, err)
	}

	// Headers travel by value through the pipeline.
	switch v := target.(type) {
	case *L1Header:
		return *v, nil
	case *L2Header:
		return *v, nil
	default:
		return target, nil
	}
}
