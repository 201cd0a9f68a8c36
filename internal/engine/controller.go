package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"delphi/internal/broker"
	"delphi/internal/events"
	"delphi/internal/md"
	"delphi/internal/metrics"
	"delphi/internal/momentum"
	"delphi/internal/risk"
	"delphi/internal/state"
	"delphi/internal/strategy"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientData = errors.New("insufficient momentum data")
	ErrMarketClosed     = errors.New("market closed")
)

const (
	ResultMarketClosed      = "market_closed"
	ResultMarketClockFailed = "market_clock_failed"
	ResultWarmingUp         = "warming_up"
	ResultInsufficientData  = "insufficient_data"
	ResultHold              = "hold"
	ResultRejected          = "rejected"
	ResultOrderSubmitted    = "order_submitted"
	ResultOrderFailed       = "order_failed"
	ResultIgnored           = "ignored"
	ResultPanic             = "panic"
)

// Order statuses that still hold a claim on the symbol and must be canceled
// before a new submission.
var cancelableStatuses = map[string]bool{
	"new":              true,
	"partially_filled": true,
	"accepted":         true,
}

// Broker is the subset of the venue the controller trades through.
type Broker interface {
	SubmitOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderRef, error)
	CancelOrder(ctx context.Context, orderID string) error
	ListOrders(ctx context.Context, symbol string) ([]broker.OrderRef, error)
}

// MomentumSource supplies the long momentum sample, refreshing it when stale.
type MomentumSource interface {
	Get(ctx context.Context) (momentum.Sample, bool)
}

// ControllerConfig holds the per-symbol trading settings.
type ControllerConfig struct {
	Symbol      string
	TimeInForce alpaca.TimeInForce
	KillSwitch  bool
	RunID       string
}

// Outcome describes what one tick evaluation did. An Err of ErrMarketClosed
// or ErrInsufficientData is an expected condition, not a failure.
type Outcome struct {
	Action          strategy.Action
	Result          string
	Reason          string
	InstantMomentum decimal.Decimal
	LongMomentum    decimal.Decimal
	OrderID         string
	ClientOrderID   string
	Canceled        int
	Err             error
}

// Failed reports whether the outcome carries an unexpected error.
func (o Outcome) Failed() bool {
	return o.Err != nil && !errors.Is(o.Err, ErrMarketClosed) && !errors.Is(o.Err, ErrInsufficientData)
}

// Controller is the position state machine for one symbol. It moves between
// no position and holding only after the broker confirms an order.
type Controller struct {
	cfg      ControllerConfig
	broker   Broker
	clock    *MarketClock
	momentum MomentumSource
	strategy strategy.Strategy
	gate     risk.Gate
	store    *state.Store
	hub      *events.Hub
	now      func() time.Time

	mu           sync.Mutex
	position     state.PositionState
	prevPrice    decimal.Decimal
	hasPrev      bool
	orderSeq     uint64
	lastSampleAt time.Time
}

func NewController(cfg ControllerConfig, b Broker, clock *MarketClock, source MomentumSource, strat strategy.Strategy, store *state.Store, hub *events.Hub) *Controller {
	if cfg.TimeInForce == "" {
		cfg.TimeInForce = alpaca.Day
	}
	return &Controller{
		cfg:      cfg,
		broker:   b,
		clock:    clock,
		momentum: source,
		strategy: strat,
		store:    store,
		hub:      hub,
		now:      time.Now,
		position: state.PositionState{Symbol: cfg.Symbol},
	}
}

// Position returns a copy of the controller's position state.
func (c *Controller) Position() state.PositionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

// OnTick evaluates one trade tick. Calls are serialized; a second caller
// waits for the first evaluation to finish.
func (c *Controller) OnTick(ctx context.Context, tick md.Tick) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := Outcome{Action: strategy.Hold}
	if tick.Symbol != "" && tick.Symbol != c.cfg.Symbol {
		out.Result = ResultIgnored
		return out
	}
	c.store.SetLastTick(tick.Price, tick.Timestamp)

	if !c.marketOpen(ctx, &out) {
		return out
	}

	if !c.hasPrev {
		c.prevPrice = tick.Price
		c.hasPrev = true
		out.Result = ResultWarmingUp
		slog.Debug("reference price recorded", "symbol", c.cfg.Symbol, "price", tick.Price.String())
		return out
	}

	out.InstantMomentum = tick.Price.Sub(c.prevPrice)
	c.prevPrice = tick.Price

	sample, ok := c.momentum.Get(ctx)
	c.observeSample(sample, ok)
	if !ok {
		out.Result = ResultInsufficientData
		out.Err = ErrInsufficientData
		return out
	}
	out.LongMomentum = sample.Value

	intent := c.strategy.Decide(strategy.MarketSnapshot{
		Timestamp:       tick.Timestamp,
		Price:           tick.Price,
		InstantMomentum: out.InstantMomentum,
		LongMomentum:    sample.Value,
		PositionQty:     c.position.Qty,
	})
	out.Action = intent.Action
	out.Reason = intent.Reason
	if intent.Action == strategy.Hold {
		out.Result = ResultHold
		return out
	}

	approved, err := c.gate.Evaluate(intent, risk.RiskContext{
		PositionQty: c.position.Qty,
		KillSwitch:  c.cfg.KillSwitch,
		OrderType:   string(alpaca.Market),
	})
	if err != nil {
		out.Result = ResultRejected
		out.Err = err
		c.hub.Publishf(events.KindError, c.cfg.Symbol, "%s %d rejected: %v", intent.Action, intent.Qty, err)
		return out
	}

	out.Canceled = c.cancelOpenOrders(ctx)
	c.submit(ctx, approved.Intent, tick, &out)
	return out
}

func (c *Controller) marketOpen(ctx context.Context, out *Outcome) bool {
	status, changed, err := c.clock.Status(ctx)
	if err != nil {
		c.recordBrokerError(err)
		out.Result = ResultMarketClockFailed
		out.Err = err
		c.hub.Publishf(events.KindError, c.cfg.Symbol, "market clock unavailable: %v", err)
		return false
	}
	c.store.SetMarket(status)
	if changed {
		if status.IsOpen {
			c.hub.Publish(events.Event{Kind: events.KindMarket, Symbol: c.cfg.Symbol, Message: "market open"})
		} else {
			c.hub.Publish(events.Event{Kind: events.KindMarket, Symbol: c.cfg.Symbol, Message: "market closed"})
		}
		slog.Info("market status changed", "symbol", c.cfg.Symbol, "open", status.IsOpen)
	}
	if !status.IsOpen {
		out.Result = ResultMarketClosed
		out.Err = ErrMarketClosed
		return false
	}
	return true
}

func (c *Controller) observeSample(sample momentum.Sample, ok bool) {
	if !ok {
		if !c.lastSampleAt.IsZero() {
			c.lastSampleAt = time.Time{}
			c.store.SetMomentum(momentum.Sample{}, false)
			c.hub.Publish(events.Event{Kind: events.KindMomentum, Symbol: c.cfg.Symbol, Message: "long momentum unavailable"})
		}
		return
	}
	if sample.ComputedAt.Equal(c.lastSampleAt) {
		return
	}
	c.lastSampleAt = sample.ComputedAt
	c.store.SetMomentum(sample, true)
	metrics.LongMomentum.WithLabelValues(c.cfg.Symbol).Set(sample.Value.InexactFloat64())
	c.hub.Publishf(events.KindMomentum, c.cfg.Symbol, "long momentum %s", sample.Value.StringFixed(4))
}

// cancelOpenOrders issues one cancel per open order on the symbol. Failures
// are reported and do not stop the submission that follows.
func (c *Controller) cancelOpenOrders(ctx context.Context) int {
	orders, err := c.broker.ListOrders(ctx, c.cfg.Symbol)
	if err != nil {
		c.recordBrokerError(err)
		c.hub.Publishf(events.KindError, c.cfg.Symbol, "list open orders failed: %v", err)
		return 0
	}

	canceled := 0
	seen := make(map[string]bool, len(orders))
	for _, order := range orders {
		if order.Symbol != "" && order.Symbol != c.cfg.Symbol {
			continue
		}
		if !cancelableStatuses[order.Status] || seen[order.ID] {
			continue
		}
		seen[order.ID] = true
		if err := c.broker.CancelOrder(ctx, order.ID); err != nil {
			c.recordBrokerError(err)
			slog.Warn("cancel open order failed", "symbol", c.cfg.Symbol, "order_id", order.ID, "error", err)
			c.hub.Publishf(events.KindError, c.cfg.Symbol, "cancel %s failed: %v", order.ID, err)
			continue
		}
		canceled++
		c.hub.Publishf(events.KindCancel, c.cfg.Symbol, "canceled %s order %s", order.Status, order.ID)
	}
	return canceled
}

func (c *Controller) submit(ctx context.Context, intent strategy.TradeIntent, tick md.Tick, out *Outcome) {
	side := alpaca.Buy
	kind := events.KindBuy
	if intent.Action == strategy.Sell {
		side = alpaca.Sell
		kind = events.KindSell
	}

	req := broker.OrderRequest{
		Symbol:        c.cfg.Symbol,
		Qty:           intent.Qty,
		Side:          side,
		Type:          alpaca.Market,
		TimeInForce:   c.cfg.TimeInForce,
		ClientOrderID: c.nextClientOrderID(),
	}
	out.ClientOrderID = req.ClientOrderID

	ref, err := c.broker.SubmitOrder(ctx, req)
	if err != nil {
		c.recordBrokerError(err)
		metrics.OrdersTotal.WithLabelValues(c.cfg.Symbol, string(side), "failed").Inc()
		out.Result = ResultOrderFailed
		out.Err = err
		c.hub.Publishf(events.KindError, c.cfg.Symbol, "%s %d failed: %v", intent.Action, intent.Qty, err)
		return
	}

	qty := c.position.Qty + intent.Qty
	if intent.Action == strategy.Sell {
		qty = c.position.Qty - intent.Qty
	}
	c.position = state.PositionState{Symbol: c.cfg.Symbol, Qty: qty, Held: qty > 0}
	c.store.SetPosition(c.position)
	c.store.SetLastTradeTime(c.now().UTC())
	metrics.PositionHeld.WithLabelValues(c.cfg.Symbol).Set(float64(qty))
	metrics.OrdersTotal.WithLabelValues(c.cfg.Symbol, string(side), "submitted").Inc()

	out.Result = ResultOrderSubmitted
	out.OrderID = ref.ID
	if ref.ClientOrderID != "" {
		out.ClientOrderID = ref.ClientOrderID
	}
	c.hub.Publishf(kind, c.cfg.Symbol, "%s %d @ %s (instant %s, long %s) order %s",
		intent.Action, intent.Qty, tick.Price.String(), out.InstantMomentum.String(), out.LongMomentum.StringFixed(4), ref.ID)
}

func (c *Controller) nextClientOrderID() string {
	c.orderSeq++
	return fmt.Sprintf("%s-%d", c.cfg.RunID, c.orderSeq)
}

func (c *Controller) recordBrokerError(err error) {
	var callErr *broker.CallError
	if errors.As(err, &callErr) {
		metrics.BrokerErrorsTotal.WithLabelValues(callErr.Op).Inc()
	}
}
