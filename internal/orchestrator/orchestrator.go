package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rollupscan/batch-indexer/internal/common"
	"github.com/rollupscan/batch-indexer/internal/events"
	"github.com/rollupscan/batch-indexer/internal/logger"
	"github.com/rollupscan/batch-indexer/internal/metrics"
	"github.com/rollupscan/batch-indexer/internal/reorg"
	"github.com/rollupscan/batch-indexer/internal/rpc"
	"github.com/rollupscan/batch-indexer/internal/store"
	"github.com/rollupscan/batch-indexer/pkg/config"
)

const (
	resubscribeAttempts = 5
	resubscribeBackoff  = time.Second
)

// ErrAllStreamsDead is returned when every stream has ended and could not
// be resubscribed; the process treats it as fatal.
var ErrAllStreamsDead = errors.New("all event streams ended and resubscription failed")

// StreamSource provides the six live subscriptions. The RPC client
// implements it; tests substitute channel-backed fakes.
type StreamSource interface {
	SubscribeL1Heads(ctx context.Context) (rpc.HeadStream, error)
	SubscribeL2Heads(ctx context.Context) (rpc.HeadStream, error)
	SubscribeBatchProposed(ctx context.Context) (rpc.LogStream, error)
	SubscribeBatchesProved(ctx context.Context) (rpc.LogStream, error)
	SubscribeBatchesVerified(ctx context.Context) (rpc.LogStream, error)
	SubscribeForcedInclusions(ctx context.Context) (rpc.LogStream, error)
}

// Sink receives each decoded event. The direct implementation is the event
// pipeline; the bus sink publishes envelopes instead. The loop is identical
// either way.
type Sink interface {
	Handle(ctx context.Context, ev any) error
}

// Orchestrator runs the live extraction loop: a single cooperative select
// over the shutdown signal and six event streams. Handlers never run
// concurrently with each other; the reorg detector, dedup window and head
// bookkeeping are owned exclusively by this loop.
type Orchestrator struct {
	cfg      config.IndexerConfig
	source   StreamSource
	sink     Sink
	storage  store.Storage
	detector *reorg.Detector
	window   *reorg.DedupWindow
	decoder  *events.Decoder
	log      *logger.Logger

	l1Heads headSlot
	l2Heads headSlot
	logs    [4]logSlot
}

// New creates an Orchestrator.
func New(
	cfg config.IndexerConfig,
	source StreamSource,
	sink Sink,
	storage store.Storage,
	log *logger.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		source:   source,
		sink:     sink,
		storage:  storage,
		detector: reorg.NewDetector(log),
		window:   reorg.NewDedupWindow(cfg.DedupWindowSize),
		decoder:  events.NewDecoder(cfg.InboxAddr(), cfg.WrapperAddr()),
		log:      log.WithComponent(common.ComponentOrchestrator),
	}
}

type headSlot struct {
	name      string
	stream    rpc.HeadStream
	alive     bool
	subscribe func(ctx context.Context) (rpc.HeadStream, error)
}

type logSlot struct {
	name      string
	stream    rpc.LogStream
	alive     bool
	subscribe func(ctx context.Context) (rpc.LogStream, error)
}

// Run subscribes to all six streams and processes events until the context
// is cancelled (clean shutdown, after the in-flight event completes) or all
// streams are dead (fatal).
func (o *Orchestrator) Run(ctx context.Context) error {
	o.l1Heads = headSlot{name: "l1_heads", subscribe: o.source.SubscribeL1Heads}
	o.l2Heads = headSlot{name: "l2_heads", subscribe: o.source.SubscribeL2Heads}
	o.logs = [4]logSlot{
		{name: "batch_proposed", subscribe: o.source.SubscribeBatchProposed},
		{name: "batches_proved", subscribe: o.source.SubscribeBatchesProved},
		{name: "batches_verified", subscribe: o.source.SubscribeBatchesVerified},
		{name: "forced_inclusions", subscribe: o.source.SubscribeForcedInclusions},
	}

	for _, slot := range []*headSlot{&o.l1Heads, &o.l2Heads} {
		if !o.resubscribeHead(ctx, slot) {
			return fmt.Errorf("startup subscription failed for stream %s", slot.name)
		}
	}
	for i := range o.logs {
		if !o.resubscribeLog(ctx, &o.logs[i]) {
			return fmt.Errorf("startup subscription failed for stream %s", o.logs[i].name)
		}
	}

	metrics.ComponentHealthSet(common.ComponentOrchestrator, true)
	o.log.Info("orchestrator started")

	for {
		select {
		case <-ctx.Done():
			o.log.Info("orchestrator shutting down")
			return nil

		case h, ok := <-o.l1Heads.stream.Headers:
			if !o.checkHead(ctx, &o.l1Heads, ok) {
				break
			}
			o.handleL1Header(ctx, h)

		case h, ok := <-o.l2Heads.stream.Headers:
			if !o.checkHead(ctx, &o.l2Heads, ok) {
				break
			}
			o.handleL2Header(ctx, h)

		case err := <-subErr(o.l1Heads.stream.Sub):
			o.streamEnded(ctx, &o.l1Heads, err)

		case err := <-subErr(o.l2Heads.stream.Sub):
			o.streamEnded(ctx, &o.l2Heads, err)

		case lg, ok := <-o.logs[0].stream.Logs:
			if !o.checkLog(ctx, &o.logs[0], ok) {
				break
			}
			o.handleLog(ctx, lg)

		case lg, ok := <-o.logs[1].stream.Logs:
			if !o.checkLog(ctx, &o.logs[1], ok) {
				break
			}
			o.handleLog(ctx, lg)

		case lg, ok := <-o.logs[2].stream.Logs:
			if !o.checkLog(ctx, &o.logs[2], ok) {
				break
			}
			o.handleLog(ctx, lg)

		case lg, ok := <-o.logs[3].stream.Logs:
			if !o.checkLog(ctx, &o.logs[3], ok) {
				break
			}
			o.handleLog(ctx, lg)

		case err := <-subErr(o.logs[0].stream.Sub):
			o.logStreamEnded(ctx, &o.logs[0], err)

		case err := <-subErr(o.logs[1].stream.Sub):
			o.logStreamEnded(ctx, &o.logs[1], err)

		case err := <-subErr(o.logs[2].stream.Sub):
			o.logStreamEnded(ctx, &o.logs[2], err)

		case err := <-subErr(o.logs[3].stream.Sub):
			o.logStreamEnded(ctx, &o.logs[3], err)
		}

		if o.allStreamsDead() {
			metrics.ComponentHealthSet(common.ComponentOrchestrator, false)
			o.log.Error("all streams dead, exiting")
			return ErrAllStreamsDead
		}
	}
}

// checkHead returns true when a header was received; a closed channel is a
// stream end that triggers resubscription.
func (o *Orchestrator) checkHead(ctx context.Context, slot *headSlot, ok bool) bool {
	if ok {
		return true
	}
	o.streamEnded(ctx, slot, nil)
	return false
}

func (o *Orchestrator) checkLog(ctx context.Context, slot *logSlot, ok bool) bool {
	if ok {
		return true
	}
	o.logStreamEnded(ctx, slot, nil)
	return false
}

func (o *Orchestrator) streamEnded(ctx context.Context, slot *headSlot, err error) {
	if ctx.Err() != nil {
		return
	}
	o.log.Warnw("stream ended", "stream", slot.name, "error", err)
	o.resubscribeHead(ctx, slot)
}

func (o *Orchestrator) logStreamEnded(ctx context.Context, slot *logSlot, err error) {
	if ctx.Err() != nil {
		return
	}
	o.log.Warnw("stream ended", "stream", slot.name, "error", err)
	o.resubscribeLog(ctx, slot)
}

// resubscribeHead retries the subscription with exponential backoff.
// On failure the slot is marked dead; other streams are unaffected.
func (o *Orchestrator) resubscribeHead(ctx context.Context, slot *headSlot) bool {
	if slot.stream.Sub != nil {
		slot.stream.Sub.Unsubscribe()
	}

	for attempt := 0; attempt < resubscribeAttempts; attempt++ {
		if attempt > 0 {
			metrics.StreamResubscribeInc(slot.name)
		}

		stream, err := slot.subscribe(ctx)
		if err == nil {
			slot.stream = stream
			slot.alive = true
			return true
		}

		o.log.Warnw("subscription attempt failed",
			"stream", slot.name, "attempt", attempt+1, "error", err)

		select {
		case <-time.After(resubscribeBackoff * (1 << attempt)):
		case <-ctx.Done():
			slot.markDead()
			return false
		}
	}

	slot.markDead()
	return false
}

func (o *Orchestrator) resubscribeLog(ctx context.Context, slot *logSlot) bool {
	if slot.stream.Sub != nil {
		slot.stream.Sub.Unsubscribe()
	}

	for attempt := 0; attempt < resubscribeAttempts; attempt++ {
		if attempt > 0 {
			metrics.StreamResubscribeInc(slot.name)
		}

		stream, err := slot.subscribe(ctx)
		if err == nil {
			slot.stream = stream
			slot.alive = true
			return true
		}

		o.log.Warnw("subscription attempt failed",
			"stream", slot.name, "attempt", attempt+1, "error", err)

		select {
		case <-time.After(resubscribeBackoff * (1 << attempt)):
		case <-ctx.Done():
			slot.markDead()
			return false
		}
	}

	slot.markDead()
	return false
}

func (s *headSlot) markDead() {
	s.alive = false
	s.stream = rpc.HeadStream{}
}

func (s *logSlot) markDead() {
	s.alive = false
	s.stream = rpc.LogStream{}
}

func (o *Orchestrator) allStreamsDead() bool {
	if o.l1Heads.alive || o.l2Heads.alive {
		return false
	}
	for i := range o.logs {
		if o.logs[i].alive {
			return false
		}
	}
	return true
}

// subErr exposes a subscription's error channel, or a forever-blocking nil
// channel for dead slots.
func subErr(sub interface{ Err() <-chan error }) <-chan error {
	if sub == nil {
		return nil
	}
	return sub.Err()
}

// handleL1Header writes the L1 header through the sink.
// Per-event failures are logged and dropped; the reconciler repairs the gap.
func (o *Orchestrator) handleL1Header(ctx context.Context, h *types.Header) {
	header := events.NewL1Header(h, o.cfg.L1GenesisTimestamp, o.cfg.SlotDuration.Duration)
	metrics.HeadBlockSet("l1", header.Number)

	if err := o.sink.Handle(ctx, header); err != nil {
		o.log.Errorw("failed to process L1 header, dropping",
			"block", header.Number, "error", err)
	}
}

// handleL2Header runs dedup and reorg bookkeeping, then writes the header.
// A deduplicated hash skips detection only; the row is still written since
// inserts are idempotent by primary key.
func (o *Orchestrator) handleL2Header(ctx context.Context, h *types.Header) {
	header := events.NewL2Header(h)
	metrics.HeadBlockSet("l2", header.Number)

	if o.window.Seen(header.Hash) {
		metrics.DedupSkipInc()
		o.log.Debugw("duplicate L2 header, skipping reorg detection",
			"block", header.Number, "hash", header.Hash.Hex())
	} else {
		o.window.Record(header.Hash)
		if result := o.detector.OnNewBlock(header.Number, header.Hash); result != nil {
			o.recordReorg(ctx, result, header.Number)
		}
	}

	if err := o.sink.Handle(ctx, header); err != nil {
		o.log.Errorw("failed to process L2 header, dropping",
			"block", header.Number, "error", err)
	}
}

// recordReorg persists the detector's result. For equal-height reorgs the
// displaced hash comes straight from the detector; deeper reorgs resolve
// the orphaned range against the store, which may know the old hashes.
func (o *Orchestrator) recordReorg(ctx context.Context, result *reorg.Result, newHead uint64) {
	if result.OrphanedHash != nil {
		if err := o.storage.InsertL2Reorg(ctx, &store.L2ReorgRow{
			BlockNumber:  newHead,
			Depth:        result.Depth,
			OrphanedHash: result.OrphanedHash,
		}); err != nil {
			o.log.Errorw("failed to record reorg", "block", newHead, "error", err)
		}
		return
	}

	oldHead := newHead + result.Depth - 1
	orphanedRange := reorg.CalculateOrphanedBlocks(oldHead, newHead, result.Depth)

	pairs, err := o.storage.GetLatestHashesForBlocks(ctx, orphanedRange)
	if err != nil {
		o.log.Warnw("orphaned hash lookup failed", "block", newHead, "error", err)
		pairs = nil
	}

	if len(pairs) == 0 {
		if err := o.storage.InsertL2Reorg(ctx, &store.L2ReorgRow{
			BlockNumber: newHead,
			Depth:       result.Depth,
		}); err != nil {
			o.log.Errorw("failed to record reorg", "block", newHead, "error", err)
		}
		return
	}

	for _, pair := range pairs {
		hash := pair.BlockHash
		if err := o.storage.InsertL2Reorg(ctx, &store.L2ReorgRow{
			BlockNumber:  pair.BlockNumber,
			Depth:        result.Depth,
			OrphanedHash: &hash,
		}); err != nil {
			o.log.Errorw("failed to record reorg", "block", pair.BlockNumber, "error", err)
		}
	}
}

// handleLog decodes one protocol log and feeds it to the sink.
func (o *Orchestrator) handleLog(ctx context.Context, lg types.Log) {
	ev, ok, err := o.decoder.Decode(lg)
	if err != nil {
		o.log.Warnw("undecodable protocol log dropped",
			"tx", lg.TxHash.Hex(), "block", lg.BlockNumber, "error", err)
		return
	}
	if !ok {
		return
	}

	if err := o.sink.Handle(ctx, ev); err != nil {
		o.log.Errorw("failed to process event, dropping",
			"tx", lg.TxHash.Hex(), "block", lg.BlockNumber, "error", err)
	}
}
