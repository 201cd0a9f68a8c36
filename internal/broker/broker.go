package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"
)

const (
	DefaultTimeout    = 10 * time.Second
	DefaultRetryLimit = 1
	retryDelay        = 250 * time.Millisecond
)

// ErrSubmitInFlight is returned while an earlier submission has not come
// back from the venue, including one whose caller already timed out.
var ErrSubmitInFlight = errors.New("previous order submission still in flight")

type OrderRequest struct {
	Symbol        string
	Qty           int64
	Side          alpaca.Side
	Type          alpaca.OrderType
	TimeInForce   alpaca.TimeInForce
	ClientOrderID string
}

type OrderRef struct {
	ID            string
	ClientOrderID string
	Symbol        string
	Status        string
}

type Position struct {
	Symbol       string          `json:"symbol"`
	Qty          decimal.Decimal `json:"qty"`
	UnrealizedPL decimal.Decimal `json:"unrealized_pl"`
}

type Clock struct {
	IsOpen    bool
	Timestamp time.Time
}

// CallError reports a failed or timed out broker call.
type CallError struct {
	Op  string
	Err error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("broker %s: %v", e.Op, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// call runs fn and gives up after timeout or when ctx is done. The SDK calls
// take no context, so an abandoned fn keeps running until its HTTP request
// returns; its result is discarded.
func call[T any](ctx context.Context, timeout time.Duration, op string, fn func() (T, error)) (T, error) {
	var zero T
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		value, err := fn()
		done <- result{value: value, err: err}
	}()

	select {
	case <-ctx.Done():
		return zero, &CallError{Op: op, Err: ctx.Err()}
	case res := <-done:
		if res.err != nil {
			return zero, &CallError{Op: op, Err: res.err}
		}
		return res.value, nil
	}
}

type Client struct {
	client     *alpaca.Client
	timeout    time.Duration
	submitting atomic.Bool
}

// New builds a trading client whose HTTP requests end at timeout. A 429 is
// retried at most DefaultRetryLimit times.
func New(apiKey, apiSecret, baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	opts := alpaca.ClientOpts{
		APIKey:     apiKey,
		APISecret:  apiSecret,
		BaseURL:    baseURL,
		RetryLimit: DefaultRetryLimit,
		RetryDelay: retryDelay,
		HTTPClient: &http.Client{Timeout: timeout},
	}
	return &Client{client: alpaca.NewClient(opts), timeout: timeout}
}

func (c *Client) SubmitOrder(ctx context.Context, req OrderRequest) (OrderRef, error) {
	qty := decimal.NewFromInt(req.Qty)
	orderReq := alpaca.PlaceOrderRequest{
		Symbol:        req.Symbol,
		Qty:           &qty,
		Side:          req.Side,
		Type:          req.Type,
		TimeInForce:   req.TimeInForce,
		ClientOrderID: req.ClientOrderID,
	}

	// one submission at a time, released only when the SDK call returns
	if !c.submitting.CompareAndSwap(false, true) {
		slog.Warn("place order refused", "side", req.Side, "symbol", req.Symbol, "qty", req.Qty, "reason", ErrSubmitInFlight)
		return OrderRef{}, &CallError{Op: "submit_order", Err: ErrSubmitInFlight}
	}
	order, err := call(ctx, c.timeout, "submit_order", func() (*alpaca.Order, error) {
		defer c.submitting.Store(false)
		return c.client.PlaceOrder(orderReq)
	})
	if err != nil {
		slog.Error("place order failed", "side", req.Side, "symbol", req.Symbol, "qty", req.Qty, "type", req.Type, "error", err)
		return OrderRef{}, err
	}

	slog.Info("place order success", "order_id", order.ID, "side", req.Side, "symbol", req.Symbol, "qty", req.Qty, "type", req.Type, "status", order.Status)
	return OrderRef{
		ID:            order.ID,
		ClientOrderID: order.ClientOrderID,
		Symbol:        order.Symbol,
		Status:        string(order.Status),
	}, nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	_, err := call(ctx, c.timeout, "cancel_order", func() (struct{}, error) {
		return struct{}{}, c.client.CancelOrder(orderID)
	})
	if err != nil {
		slog.Error("cancel order failed", "order_id", orderID, "error", err)
		return err
	}
	slog.Info("cancel order requested", "order_id", orderID)
	return nil
}

// ListOrders returns open orders for symbol.
func (c *Client) ListOrders(ctx context.Context, symbol string) ([]OrderRef, error) {
	req := alpaca.GetOrdersRequest{
		Status:  "open",
		Symbols: []string{symbol},
	}
	orders, err := call(ctx, c.timeout, "list_orders", func() ([]alpaca.Order, error) {
		return c.client.GetOrders(req)
	})
	if err != nil {
		slog.Error("fetch open orders failed", "symbol", symbol, "error", err)
		return nil, err
	}
	slog.Debug("open orders fetched", "symbol", symbol, "count", len(orders))
	refs := make([]OrderRef, 0, len(orders))
	for _, order := range orders {
		refs = append(refs, OrderRef{
			ID:            order.ID,
			ClientOrderID: order.ClientOrderID,
			Symbol:        order.Symbol,
			Status:        string(order.Status),
		})
	}
	return refs, nil
}

func (c *Client) ListPositions(ctx context.Context) ([]Position, error) {
	positions, err := call(ctx, c.timeout, "list_positions", func() ([]alpaca.Position, error) {
		return c.client.GetPositions()
	})
	if err != nil {
		slog.Error("fetch positions failed", "error", err)
		return nil, err
	}
	out := make([]Position, 0, len(positions))
	for _, pos := range positions {
		p := Position{Symbol: pos.Symbol, Qty: pos.Qty}
		if pos.UnrealizedPL != nil {
			p.UnrealizedPL = *pos.UnrealizedPL
		}
		out = append(out, p)
	}
	slog.Debug("positions fetched", "count", len(out))
	return out, nil
}

func (c *Client) Clock(ctx context.Context) (Clock, error) {
	clock, err := call(ctx, c.timeout, "get_clock", func() (*alpaca.Clock, error) {
		return c.client.GetClock()
	})
	if err != nil {
		slog.Error("fetch market clock failed", "error", err)
		return Clock{}, err
	}
	return Clock{IsOpen: clock.IsOpen, Timestamp: clock.Timestamp}, nil
}
