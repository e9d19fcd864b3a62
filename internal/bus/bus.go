package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rollupscan/batch-indexer/internal/common"
	"github.com/rollupscan/batch-indexer/internal/events"
	"github.com/rollupscan/batch-indexer/internal/logger"
)

// Publisher delivers one serialized envelope to the message bus.
type Publisher interface {
	Publish(ctx context.Context, data []byte) error
}

// Handler is the downstream side of the bus: anything that can process a
// decoded protocol event. The event pipeline satisfies this.
type Handler interface {
	Handle(ctx context.Context, ev any) error
}

// Sink wraps protocol events into tagged-union envelopes and publishes them,
// decoupling extraction from writing. It satisfies the orchestrator's sink
// contract, so the event loop is identical whether events are written
// directly or shipped over the bus.
type Sink struct {
	pub Publisher
	log *logger.Logger
}

// NewSink creates a publishing sink.
func NewSink(pub Publisher, log *logger.Logger) *Sink {
	return &Sink{
		pub: pub,
		log: log.WithComponent(common.ComponentBus),
	}
}

// Handle serializes one event and publishes it.
func (s *Sink) Handle(ctx context.Context, ev any) error {
	envelope, err := events.Wrap(ev)
	if err != nil {
		return err
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	if err := s.pub.Publish(ctx, data); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", envelope.Kind, err)
	}

	s.log.Debugw("event published", "kind", envelope.Kind, "bytes", len(data))
	return nil
}

// Consumer decodes envelopes from the bus and replays them through a
// handler, giving bused events the exact same code path as direct ones.
type Consumer struct {
	handler Handler
	log     *logger.Logger
}

// NewConsumer creates a consumer feeding the given handler.
func NewConsumer(handler Handler, log *logger.Logger) *Consumer {
	return &Consumer{
		handler: handler,
		log:     log.WithComponent(common.ComponentBus),
	}
}

// Consume decodes one serialized envelope and hands it to the handler.
func (c *Consumer) Consume(ctx context.Context, data []byte) error {
	var envelope events.Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("failed to unmarshal envelope: %w", err)
	}

	ev, err := envelope.Unwrap()
	if err != nil {
		return err
	}

	return c.handler.Handle(ctx, ev)
}

// ChannelPublisher is an in-process Publisher backed by a channel, used for
// tests and single-process deployments of the split topology.
type ChannelPublisher struct {
	ch chan []byte
}

// NewChannelPublisher creates a publisher with the given buffer size.
func NewChannelPublisher(buffer int) *ChannelPublisher {
	return &ChannelPublisher{ch: make(chan []byte, buffer)}
}

// Publish enqueues one message, blocking when the buffer is full.
func (p *ChannelPublisher) Publish(ctx context.Context, data []byte) error {
	select {
	case p.ch <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Messages exposes the receive side.
func (p *ChannelPublisher) Messages() <-chan []byte {
	return p.ch
}
