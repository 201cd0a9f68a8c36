package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"
)

// ClockSource is the subset of the venue needed by DryRun to report the
// real market session.
type ClockSource interface {
	Clock(ctx context.Context) (Clock, error)
}

// DryRun confirms orders locally and tracks the resulting position. Orders
// fill immediately, so it never has open orders to cancel.
type DryRun struct {
	clock ClockSource

	mu        sync.Mutex
	seq       int
	positions map[string]decimal.Decimal
}

func NewDryRun(clock ClockSource) *DryRun {
	return &DryRun{
		clock:     clock,
		positions: map[string]decimal.Decimal{},
	}
}

func (d *DryRun) SubmitOrder(ctx context.Context, req OrderRequest) (OrderRef, error) {
	if req.Qty <= 0 {
		return OrderRef{}, &CallError{Op: "submit_order", Err: fmt.Errorf("invalid qty %d", req.Qty)}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	qty := decimal.NewFromInt(req.Qty)
	current := d.positions[req.Symbol]
	if req.Side == alpaca.Sell {
		qty = qty.Neg()
	}
	next := current.Add(qty)
	if next.IsZero() {
		delete(d.positions, req.Symbol)
	} else {
		d.positions[req.Symbol] = next
	}

	ref := OrderRef{
		ID:            fmt.Sprintf("dry-run-%d", d.seq),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Status:        "filled",
	}
	slog.Info("dry run order filled", "order_id", ref.ID, "side", req.Side, "symbol", req.Symbol, "qty", req.Qty)
	return ref, nil
}

func (d *DryRun) CancelOrder(ctx context.Context, orderID string) error {
	return &CallError{Op: "cancel_order", Err: fmt.Errorf("order %s not found", orderID)}
}

func (d *DryRun) ListOrders(ctx context.Context, symbol string) ([]OrderRef, error) {
	return nil, nil
}

func (d *DryRun) ListPositions(ctx context.Context) ([]Position, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Position, 0, len(d.positions))
	for symbol, qty := range d.positions {
		out = append(out, Position{Symbol: symbol, Qty: qty})
	}
	return out, nil
}

func (d *DryRun) Clock(ctx context.Context) (Clock, error) {
	if d.clock == nil {
		return Clock{IsOpen: true}, nil
	}
	return d.clock.Clock(ctx)
}
