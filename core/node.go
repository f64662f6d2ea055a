package core

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"cdpchain/core/events"
	"cdpchain/core/state"
	"cdpchain/core/types"
	"cdpchain/crypto"
	"cdpchain/native/bank"
	"cdpchain/native/cdp"
	nativecommon "cdpchain/native/common"
	"cdpchain/observability"
	cdpotel "cdpchain/observability/otel"
	"cdpchain/storage"
)

// EventSink receives committed events in sequence order. Sink failures are
// logged and never roll back the committed operation.
type EventSink interface {
	Index(ctx context.Context, evts []*types.Event) error
}

// Config wires the engine dependencies shared by every operation.
type Config struct {
	Params    cdp.Params
	Prices    cdp.PriceSource
	Pauses    nativecommon.PauseView
	Authority crypto.Address
	Logger    *slog.Logger
	Clock     func() time.Time
	// RecentEvents bounds the in-memory event history; zero selects 1024.
	RecentEvents int
}

// Receipt describes a committed operation.
type Receipt struct {
	Operation string         `json:"operation"`
	Digest    string         `json:"digest"`
	Events    []*types.Event `json:"events"`
}

// Node serialises CDP operations over the persistent state. Each operation
// runs in its own state transaction: every write commits together or the
// transaction is discarded, and events are published only after commit.
type Node struct {
	mu      sync.Mutex
	state   *state.Manager
	cfg     Config
	logger  *slog.Logger
	metrics *observability.CDPMetrics
	tracer  trace.Tracer
	hub     *eventHub
	sinks   []EventSink
}

// NewNode creates a node over db.
func NewNode(db storage.Database, cfg Config) (*Node, error) {
	if db == nil {
		return nil, errors.New("core: database required")
	}
	if cfg.Params.PegReference == "" {
		cfg.Params.PegReference = cdp.PegFixed
	}
	if cfg.Params.RateModel == "" {
		cfg.Params.RateModel = cdp.RateLinear
	}
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Node{
		state:   state.NewManager(db),
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "node")),
		metrics: observability.CDP(),
		tracer:  cdpotel.Tracer(),
		hub:     newEventHub(cfg.RecentEvents),
	}, nil
}

// AddSink registers an additional consumer of committed events.
func (n *Node) AddSink(sink EventSink) {
	if sink == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sinks = append(n.sinks, sink)
}

// SetPauses swaps the pause view consulted by subsequent operations.
func (n *Node) SetPauses(p nativecommon.PauseView) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cfg.Pauses = p
}

func (n *Node) engine(st cdp.State, emitter events.Emitter) *cdp.Engine {
	engine := cdp.NewEngine(n.cfg.Params, n.cfg.Prices)
	engine.SetState(st)
	engine.SetEmitter(emitter)
	engine.SetPauses(n.cfg.Pauses)
	engine.SetAuthority(n.cfg.Authority)
	engine.SetClock(n.cfg.Clock)
	return engine
}

// Execute runs fn as one atomic operation.
func (n *Node) Execute(ctx context.Context, operation string, fn func(*cdp.Engine) error) (*Receipt, error) {
	return n.run(ctx, operation, func(tx *state.Tx, buf *events.Buffer) error {
		return fn(n.engine(tx, buf))
	})
}

// Credit mints amount of asset to addr outside the CDP flows. It backs
// genesis allocations and the collateral faucet.
func (n *Node) Credit(ctx context.Context, addr crypto.Address, asset string, amount *uint256.Int) (*Receipt, error) {
	return n.run(ctx, "credit", func(tx *state.Tx, buf *events.Buffer) error {
		if addr.IsZero() {
			return fmt.Errorf("%w: recipient required", cdp.ErrInvalidAmount)
		}
		if amount == nil || amount.IsZero() {
			return cdp.ErrInvalidAmount
		}
		return bank.NewLedger(tx, buf).Mint(addr, asset, amount)
	})
}

func (n *Node) run(ctx context.Context, operation string, fn func(*state.Tx, *events.Buffer) error) (*Receipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	ctx, span := n.tracer.Start(ctx, "cdp."+operation)
	defer span.End()
	start := time.Now()

	tx := n.state.Begin()
	buf := &events.Buffer{}
	if err := fn(tx, buf); err != nil {
		tx.Discard()
		reason := cdp.Reason(err)
		n.metrics.Observe(operation, time.Since(start), reason, err)
		span.SetStatus(codes.Error, reason)
		span.RecordError(err)
		n.logger.Warn("operation rejected",
			slog.String("operation", operation),
			slog.String("reason", reason),
			slog.Duration("duration", time.Since(start)),
			slog.Any("error", err))
		return nil, err
	}
	drained := buf.Drain()
	first, err := n.reserveSequence(tx, len(drained))
	if err != nil {
		tx.Discard()
		return nil, err
	}
	writes := tx.Pending()
	digest, err := tx.Commit()
	if err != nil {
		n.metrics.Observe(operation, time.Since(start), "commit", err)
		span.SetStatus(codes.Error, "commit")
		span.RecordError(err)
		n.logger.Error("commit failed", slog.String("operation", operation), slog.Any("error", err))
		return nil, err
	}

	published := n.publish(ctx, drained, first)
	n.refreshGauges()
	n.metrics.Observe(operation, time.Since(start), "", nil)
	digestHex := hex.EncodeToString(digest[:])
	span.SetAttributes(
		attribute.String("cdp.digest", digestHex),
		attribute.Int("cdp.writes", writes),
		attribute.Int("cdp.events", len(published)),
	)
	n.logger.Info("operation committed",
		slog.String("operation", operation),
		slog.String("digest", digestHex),
		slog.Int("writes", writes),
		slog.Int("events", len(published)),
		slog.Duration("duration", time.Since(start)))
	return &Receipt{Operation: operation, Digest: digestHex, Events: published}, nil
}

// Query runs fn against a read-only view of the committed state. Writes made
// by fn are discarded.
func (n *Node) Query(fn func(*cdp.Engine, *state.Tx) error) error {
	tx := n.state.Begin()
	defer tx.Discard()
	return fn(n.engine(tx, events.NoopEmitter{}), tx)
}

// reserveSequence advances the persisted event counter inside tx so sequence
// numbers stay unique across restarts. It returns the first reserved number.
func (n *Node) reserveSequence(tx *state.Tx, count int) (uint64, error) {
	if count == 0 {
		return 0, nil
	}
	last, err := tx.EventSequence()
	if err != nil {
		return 0, err
	}
	if err := tx.SetEventSequence(last + uint64(count)); err != nil {
		return 0, err
	}
	return last + 1, nil
}

func (n *Node) publish(ctx context.Context, drained []events.Event, first uint64) []*types.Event {
	if len(drained) == 0 {
		return nil
	}
	now := n.cfg.Clock().Unix()
	out := make([]*types.Event, 0, len(drained))
	seq := first
	for _, evt := range drained {
		rendered := evt.Event()
		if rendered == nil {
			continue
		}
		rendered.Sequence = seq
		seq++
		rendered.Timestamp = now
		out = append(out, rendered)
		n.metrics.RecordEvent(rendered.Type)
		if rendered.Type == events.TypePositionLiquidated {
			n.metrics.RecordLiquidation(rendered.Attr("asset"))
		}
	}
	n.hub.broadcast(out)
	for _, sink := range n.sinks {
		if err := sink.Index(ctx, out); err != nil {
			n.logger.Error("event sink failed", slog.Int("events", len(out)), slog.Any("error", err))
		}
	}
	return out
}

func (n *Node) refreshGauges() {
	tx := n.state.Begin()
	defer tx.Discard()
	cfg, err := tx.GetProtocolConfig()
	if err != nil || cfg == nil {
		return
	}
	n.metrics.RecordProtocol(cfg.CurrentRateBps, cfg.GlobalInterestIndex, cdp.IndexScale, cfg.GlobalDebtOutstanding, cfg.PendingTreasury)
	pools, err := tx.ListPools()
	if err != nil {
		return
	}
	for _, pool := range pools {
		n.metrics.RecordPool(pool.Asset, pool.TotalCollateralLocked, pool.Stability.TotalStaked)
	}
}

// Subscribe streams committed events. The returned cancel function must be
// called to release the subscription. Slow subscribers drop events rather
// than block operations.
func (n *Node) Subscribe(buffer int) (<-chan *types.Event, func()) {
	return n.hub.subscribe(buffer)
}

// RecentEvents returns up to limit of the most recent events, newest last,
// optionally filtered by type.
func (n *Node) RecentEvents(eventType string, limit int) []*types.Event {
	return n.hub.recent(eventType, limit)
}
