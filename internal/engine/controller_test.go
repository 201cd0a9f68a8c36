package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"delphi/internal/broker"
	"delphi/internal/events"
	"delphi/internal/md"
	"delphi/internal/momentum"
	"delphi/internal/risk"
	"delphi/internal/state"
	"delphi/internal/strategy"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBroker struct {
	mu sync.Mutex

	open      bool
	clockErr  error
	clockHits int

	orders    []broker.OrderRef
	listErr   error
	cancelErr error
	canceled  []string

	submitErr error
	submitted []broker.OrderRequest
}

func (f *fakeBroker) Clock(ctx context.Context) (broker.Clock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clockHits++
	if f.clockErr != nil {
		return broker.Clock{}, f.clockErr
	}
	return broker.Clock{IsOpen: f.open}, nil
}

func (f *fakeBroker) SubmitOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, req)
	if f.submitErr != nil {
		return broker.OrderRef{}, &broker.CallError{Op: "submit_order", Err: f.submitErr}
	}
	return broker.OrderRef{ID: "order-" + req.ClientOrderID, ClientOrderID: req.ClientOrderID, Symbol: req.Symbol, Status: "accepted"}, nil
}

func (f *fakeBroker) CancelOrder(ctx context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, orderID)
	if f.cancelErr != nil {
		return &broker.CallError{Op: "cancel_order", Err: f.cancelErr}
	}
	return nil
}

func (f *fakeBroker) ListOrders(ctx context.Context, symbol string) ([]broker.OrderRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, &broker.CallError{Op: "list_orders", Err: f.listErr}
	}
	return append([]broker.OrderRef(nil), f.orders...), nil
}

func (f *fakeBroker) setOpen(open bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = open
}

type fakeMomentum struct {
	sample momentum.Sample
	ok     bool
	calls  int
}

func (f *fakeMomentum) Get(ctx context.Context) (momentum.Sample, bool) {
	f.calls++
	return f.sample, f.ok
}

func positive(value string) *fakeMomentum {
	return &fakeMomentum{
		sample: momentum.Sample{Value: decimal.RequireFromString(value), ComputedAt: time.Date(2024, 3, 15, 14, 0, 0, 0, time.UTC)},
		ok:     true,
	}
}

type harness struct {
	broker     *fakeBroker
	momentum   *fakeMomentum
	store      *state.Store
	hub        *events.Hub
	controller *Controller
}

func newHarness(t *testing.T, source *fakeMomentum) *harness {
	t.Helper()
	b := &fakeBroker{open: true}
	store := state.NewStore("AAPL")
	hub := events.NewHub(64)
	// ttl 0 polls the clock on every tick
	clock := NewMarketClock(b, 0)
	controller := NewController(
		ControllerConfig{Symbol: "AAPL", TimeInForce: alpaca.Day, RunID: "run"},
		b, clock, source,
		strategy.Momentum{Qty: 1, Epsilon: strategy.DefaultEpsilon},
		store, hub,
	)
	return &harness{broker: b, momentum: source, store: store, hub: hub, controller: controller}
}

func (h *harness) tick(price string) Outcome {
	return h.controller.OnTick(context.Background(), md.Tick{
		Symbol:    "AAPL",
		Price:     decimal.RequireFromString(price),
		Timestamp: time.Now(),
	})
}

func (h *harness) kinds() []events.Kind {
	var kinds []events.Kind
	for _, ev := range h.hub.Recent(64) {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

func TestBuyThenSellOnMomentumCrossings(t *testing.T) {
	h := newHarness(t, positive("0.2"))

	out := h.tick("10")
	assert.Equal(t, ResultWarmingUp, out.Result)
	assert.Zero(t, h.momentum.calls)

	out = h.tick("10.10")
	require.Equal(t, ResultOrderSubmitted, out.Result, "err: %v", out.Err)
	assert.Equal(t, strategy.Buy, out.Action)
	assert.True(t, out.InstantMomentum.Equal(decimal.RequireFromString("0.1")))
	assert.Equal(t, "run-1", out.ClientOrderID)
	assert.Equal(t, state.PositionState{Symbol: "AAPL", Qty: 1, Held: true}, h.controller.Position())
	assert.Equal(t, h.controller.Position(), h.store.Snapshot().Position)

	out = h.tick("9.99")
	require.Equal(t, ResultOrderSubmitted, out.Result, "err: %v", out.Err)
	assert.Equal(t, strategy.Sell, out.Action)
	assert.Equal(t, "run-2", out.ClientOrderID)
	assert.False(t, h.controller.Position().Held)

	require.Len(t, h.broker.submitted, 2)
	assert.Equal(t, alpaca.Buy, h.broker.submitted[0].Side)
	assert.Equal(t, alpaca.Sell, h.broker.submitted[1].Side)
	assert.Equal(t, alpaca.Market, h.broker.submitted[1].Type)
	assert.EqualValues(t, 1, h.broker.submitted[1].Qty)
	assert.Contains(t, h.kinds(), events.KindBuy)
	assert.Contains(t, h.kinds(), events.KindSell)
}

func TestSmallMovesHold(t *testing.T) {
	h := newHarness(t, positive("0.2"))

	h.tick("10")
	out := h.tick("10.05")
	assert.Equal(t, ResultHold, out.Result)
	assert.Empty(t, h.broker.submitted)
}

func TestFailedSubmissionKeepsState(t *testing.T) {
	h := newHarness(t, positive("0.2"))
	h.broker.submitErr = errors.New("503 service unavailable")

	h.tick("10")
	out := h.tick("10.10")

	assert.Equal(t, ResultOrderFailed, out.Result)
	assert.True(t, out.Failed())
	var callErr *broker.CallError
	require.ErrorAs(t, out.Err, &callErr)
	assert.Equal(t, "submit_order", callErr.Op)
	assert.False(t, h.controller.Position().Held)
	assert.False(t, h.store.Snapshot().Position.Held)
	assert.Contains(t, h.kinds(), events.KindError)

	// a later confirmed buy still works
	h.broker.submitErr = nil
	out = h.tick("10.20")
	assert.Equal(t, ResultOrderSubmitted, out.Result)
	assert.True(t, h.controller.Position().Held)
}

func TestNonPositiveLongMomentumNeverTrades(t *testing.T) {
	for _, value := range []string{"0", "-0.3"} {
		h := newHarness(t, positive(value))
		for _, price := range []string{"10", "20", "5", "30", "1"} {
			out := h.tick(price)
			assert.NotEqual(t, ResultOrderSubmitted, out.Result)
		}
		assert.Empty(t, h.broker.submitted, "long momentum %s", value)
	}
}

func TestInsufficientDataSuppressesTrading(t *testing.T) {
	h := newHarness(t, &fakeMomentum{ok: false})

	h.tick("10")
	out := h.tick("11")
	assert.Equal(t, ResultInsufficientData, out.Result)
	assert.ErrorIs(t, out.Err, ErrInsufficientData)
	assert.False(t, out.Failed())
	assert.Empty(t, h.broker.submitted)
}

func TestMarketClosedSuppressesUntilReopen(t *testing.T) {
	h := newHarness(t, positive("0.2"))
	h.tick("10")

	h.broker.setOpen(false)
	out := h.tick("10.50")
	assert.Equal(t, ResultMarketClosed, out.Result)
	assert.ErrorIs(t, out.Err, ErrMarketClosed)
	assert.Empty(t, h.broker.submitted)
	require.NotNil(t, h.store.Snapshot().Market)
	assert.False(t, h.store.Snapshot().Market.IsOpen)

	h.broker.setOpen(true)
	out = h.tick("10.60")
	assert.Equal(t, ResultOrderSubmitted, out.Result)
	assert.True(t, h.controller.Position().Held)

	var market []string
	for _, ev := range h.hub.Recent(64) {
		if ev.Kind == events.KindMarket {
			market = append(market, ev.Message)
		}
	}
	assert.Equal(t, []string{"market open", "market closed", "market open"}, market)
}

func TestClockFailureFailsClosed(t *testing.T) {
	h := newHarness(t, positive("0.2"))
	h.tick("10")

	h.broker.clockErr = errors.New("timeout")
	out := h.tick("10.50")
	assert.Equal(t, ResultMarketClockFailed, out.Result)
	assert.True(t, out.Failed())
	assert.Empty(t, h.broker.submitted)
}

func TestCancelsOpenOrdersOncePerDecision(t *testing.T) {
	h := newHarness(t, positive("0.2"))
	h.broker.orders = []broker.OrderRef{
		{ID: "a", Symbol: "AAPL", Status: "new"},
		{ID: "b", Symbol: "AAPL", Status: "partially_filled"},
		{ID: "c", Symbol: "AAPL", Status: "accepted"},
		{ID: "a", Symbol: "AAPL", Status: "new"},
		{ID: "d", Symbol: "AAPL", Status: "pending_cancel"},
		{ID: "e", Symbol: "MSFT", Status: "new"},
	}

	h.tick("10")
	out := h.tick("10.10")

	require.Equal(t, ResultOrderSubmitted, out.Result)
	assert.Equal(t, []string{"a", "b", "c"}, h.broker.canceled)
	assert.Equal(t, 3, out.Canceled)
}

func TestHoldDoesNotCancel(t *testing.T) {
	h := newHarness(t, positive("0.2"))
	h.broker.orders = []broker.OrderRef{{ID: "a", Symbol: "AAPL", Status: "new"}}

	h.tick("10")
	h.tick("10.01")
	assert.Empty(t, h.broker.canceled)
}

func TestCancelFailureDoesNotBlockSubmission(t *testing.T) {
	h := newHarness(t, positive("0.2"))
	h.broker.orders = []broker.OrderRef{{ID: "a", Symbol: "AAPL", Status: "new"}}
	h.broker.cancelErr = errors.New("order not cancelable")

	h.tick("10")
	out := h.tick("10.10")

	assert.Equal(t, ResultOrderSubmitted, out.Result)
	assert.Equal(t, []string{"a"}, h.broker.canceled)
	assert.Zero(t, out.Canceled)
	assert.True(t, h.controller.Position().Held)
}

func TestListOrdersFailureDoesNotBlockSubmission(t *testing.T) {
	h := newHarness(t, positive("0.2"))
	h.broker.listErr = errors.New("boom")

	h.tick("10")
	out := h.tick("10.10")
	assert.Equal(t, ResultOrderSubmitted, out.Result)
}

func TestKillSwitchRejects(t *testing.T) {
	h := newHarness(t, positive("0.2"))
	h.controller.cfg.KillSwitch = true

	h.tick("10")
	out := h.tick("10.10")
	assert.Equal(t, ResultRejected, out.Result)
	assert.ErrorIs(t, out.Err, risk.ErrKillSwitch)
	assert.Empty(t, h.broker.submitted)
	assert.Empty(t, h.broker.canceled)
}

func TestReferenceAdvancesEveryTick(t *testing.T) {
	h := newHarness(t, positive("0.2"))

	h.tick("10")
	h.tick("10.04")
	// 10.08 - 10.04 stays below epsilon
	out := h.tick("10.08")
	assert.Equal(t, ResultHold, out.Result)
	assert.True(t, out.InstantMomentum.Equal(decimal.RequireFromString("0.04")))
}

func TestMomentumSamplePublishedOnce(t *testing.T) {
	h := newHarness(t, positive("0.2"))

	h.tick("10")
	h.tick("10.01")
	h.tick("10.02")

	count := 0
	for _, kind := range h.kinds() {
		if kind == events.KindMomentum {
			count++
		}
	}
	assert.Equal(t, 1, count)
	require.NotNil(t, h.store.Snapshot().Momentum)
	assert.True(t, h.store.Snapshot().Momentum.Value.Equal(decimal.RequireFromString("0.2")))
}

func TestOtherSymbolIgnored(t *testing.T) {
	h := newHarness(t, positive("0.2"))

	out := h.controller.OnTick(context.Background(), md.Tick{Symbol: "MSFT", Price: decimal.NewFromInt(10)})
	assert.Equal(t, ResultIgnored, out.Result)
	assert.Zero(t, h.broker.clockHits)
}
