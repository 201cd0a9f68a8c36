package engine

import (
	"context"
	"log/slog"
	"time"

	"delphi/internal/broker"
	"delphi/internal/events"
	"delphi/internal/metrics"
	"delphi/internal/state"

	"github.com/shopspring/decimal"
)

type PositionLister interface {
	ListPositions(ctx context.Context) ([]broker.Position, error)
}

// ReportPositions polls the broker's positions every interval and publishes
// them to the snapshot. It only reports; the controller's position is never
// changed here. A non-positive interval disables reporting.
func ReportPositions(ctx context.Context, lister PositionLister, store *state.Store, hub *events.Hub, symbol string, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	diverged := false
	for {
		diverged = reportOnce(ctx, lister, store, hub, symbol, diverged)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// reportOnce returns whether the broker and controller disagree on the
// symbol's quantity. The divergence notice is published once per episode.
func reportOnce(ctx context.Context, lister PositionLister, store *state.Store, hub *events.Hub, symbol string, diverged bool) bool {
	positions, err := lister.ListPositions(ctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("position report failed", "error", err)
			metrics.BrokerErrorsTotal.WithLabelValues("list_positions").Inc()
		}
		return diverged
	}
	store.SetBrokerPositions(positions, time.Now().UTC())

	held := decimal.Zero
	for _, pos := range positions {
		if pos.Symbol == symbol {
			held = pos.Qty
			slog.Debug("broker position", "symbol", symbol, "qty", pos.Qty.String(), "unrealized_pl", pos.UnrealizedPL.String())
		}
	}

	own := store.Snapshot().Position.Qty
	if held.Equal(decimal.NewFromInt(own)) {
		if diverged {
			hub.Publishf(events.KindInfo, symbol, "broker position back in line at %d", own)
		}
		return false
	}
	if !diverged {
		slog.Warn("broker position differs from controller", "symbol", symbol, "broker_qty", held.String(), "controller_qty", own)
		hub.Publishf(events.KindError, symbol, "broker reports %s held, controller tracks %d", held.String(), own)
	}
	return true
}
