package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"delphi/internal/events"
	"delphi/internal/md"
	"delphi/internal/metrics"
	"delphi/internal/strategy"
)

const DefaultQueueSize = 1024

var errFeedEnded = errors.New("subscription ended")

// TickEvaluator handles one tick at a time for the engine's worker.
type TickEvaluator interface {
	OnTick(ctx context.Context, tick md.Tick) Outcome
}

// Engine feeds ticks from a market data subscription to a single worker.
// Feed delivery only enqueues; evaluation and its broker calls happen on the
// worker, one tick at a time, in arrival order.
type Engine struct {
	symbol     string
	queueSize  int
	controller TickEvaluator
	hub        *events.Hub
	decisions  *DecisionLogger
	runID      string
}

func New(symbol string, queueSize int, controller TickEvaluator, hub *events.Hub, decisions *DecisionLogger, runID string) *Engine {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Engine{
		symbol:     symbol,
		queueSize:  queueSize,
		controller: controller,
		hub:        hub,
		decisions:  decisions,
		runID:      runID,
	}
}

// Run subscribes to feed and evaluates ticks until ctx is canceled or the
// feed terminates. An evaluation in progress at shutdown runs to completion;
// ticks still queued are dropped. A canceled ctx is not reported as an error.
func (e *Engine) Run(ctx context.Context, feed md.Feed) error {
	queue := make(chan md.Tick, e.queueSize)
	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		e.work(ctx, queue, stop)
	}()

	slog.Info("engine started", "symbol", e.symbol, "run_id", e.runID, "queue_size", e.queueSize)
	err := feed.Subscribe(ctx, e.symbol, func(tick md.Tick) {
		e.enqueue(ctx, queue, stop, tick)
	})
	close(stop)
	<-done

	if dropped := len(queue); dropped > 0 {
		slog.Info("dropping queued ticks", "symbol", e.symbol, "count", dropped)
	}
	metrics.QueueDepth.Set(0)

	if err == nil && ctx.Err() == nil {
		err = errFeedEnded
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		e.hub.Publishf(events.KindError, e.symbol, "market data feed stopped: %v", err)
		slog.Error("engine stopped", "symbol", e.symbol, "error", err)
		return fmt.Errorf("feed %s: %w", e.symbol, err)
	}
	slog.Info("engine stopped", "symbol", e.symbol)
	return nil
}

func (e *Engine) enqueue(ctx context.Context, queue chan<- md.Tick, stop <-chan struct{}, tick md.Tick) {
	metrics.TicksTotal.WithLabelValues(e.symbol).Inc()
	select {
	case queue <- tick:
		metrics.QueueDepth.Set(float64(len(queue)))
		return
	default:
	}

	slog.Warn("tick queue full, feed delivery waiting", "symbol", e.symbol, "capacity", cap(queue))
	select {
	case queue <- tick:
		metrics.QueueDepth.Set(float64(len(queue)))
	case <-stop:
	case <-ctx.Done():
	}
}

func (e *Engine) work(ctx context.Context, queue <-chan md.Tick, stop <-chan struct{}) {
	// evaluations outlive ctx so shutdown never interrupts a submission
	// midway; broker calls carry their own timeouts
	evalCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case tick := <-queue:
			if ctx.Err() != nil {
				return
			}
			metrics.QueueDepth.Set(float64(len(queue)))
			e.handle(evalCtx, tick)
		}
	}
}

func (e *Engine) handle(ctx context.Context, tick md.Tick) {
	out := e.evaluate(ctx, tick)
	metrics.DecisionsTotal.WithLabelValues(e.symbol, out.Result).Inc()

	switch {
	case out.Failed():
		slog.Warn("tick evaluation failed", "symbol", e.symbol, "price", tick.Price.String(), "result", out.Result, "intent", out.Action, "error", out.Err)
	case out.Result == ResultOrderSubmitted:
		slog.Info("order submitted", "symbol", e.symbol, "side", out.Action, "price", tick.Price.String(), "order_id", out.OrderID, "client_order_id", out.ClientOrderID, "canceled", out.Canceled)
	default:
		slog.Debug("tick evaluated", "symbol", e.symbol, "price", tick.Price.String(), "result", out.Result, "instant", out.InstantMomentum.String(), "long", out.LongMomentum.String())
	}

	decision := Decision{
		RunID:           e.runID,
		Timestamp:       time.Now().UTC(),
		TickTime:        tick.Timestamp,
		Symbol:          e.symbol,
		Price:           tick.Price,
		InstantMomentum: out.InstantMomentum,
		LongMomentum:    out.LongMomentum,
		Intent:          out.Action,
		Reason:          out.Reason,
		Result:          out.Result,
		OrderID:         out.OrderID,
		ClientOrderID:   out.ClientOrderID,
		Canceled:        out.Canceled,
	}
	if out.Err != nil {
		decision.Error = out.Err.Error()
	}
	e.decisions.Append(decision)
}

func (e *Engine) evaluate(ctx context.Context, tick md.Tick) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("tick evaluation panicked", "symbol", e.symbol, "panic", r, "stack", string(debug.Stack()))
			out = Outcome{Action: strategy.Hold, Result: ResultPanic, Err: fmt.Errorf("tick evaluation panic: %v", r)}
			e.hub.Publishf(events.KindError, e.symbol, "tick evaluation failed: %v", r)
		}
	}()
	return e.controller.OnTick(ctx, tick)
}
