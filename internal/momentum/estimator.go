// Package momentum computes the long-horizon trend filter: the average
// day-over-day change of daily closing prices over a lookback window.
package momentum

import (
	"context"
	"log/slog"
	"time"

	"delphi/internal/md"

	"github.com/shopspring/decimal"
)

// Sample is one long-horizon momentum reading. Samples are replaced, never
// mutated.
type Sample struct {
	Value      decimal.Decimal `json:"value"`
	ComputedAt time.Time       `json:"computed_at"`
}

// Age returns how old the sample is at now.
func (s Sample) Age(now time.Time) time.Duration {
	return now.Sub(s.ComputedAt)
}

type BarSource interface {
	DailyBars(ctx context.Context, symbol string, start, end time.Time) ([]md.Bar, error)
}

type Estimator struct {
	bars BarSource
	now  func() time.Time
}

func NewEstimator(bars BarSource) *Estimator {
	return &Estimator{bars: bars, now: time.Now}
}

// Refresh fetches 2*lookbackDays calendar days of daily bars and returns the
// average daily momentum. The bool is false when the source fails or returns
// fewer than two closes.
func (e *Estimator) Refresh(ctx context.Context, symbol string, lookbackDays int) (Sample, bool) {
	now := e.now()
	start := now.AddDate(0, 0, -2*lookbackDays)

	bars, err := e.bars.DailyBars(ctx, symbol, start, now)
	if err != nil {
		slog.Warn("momentum refresh failed", "symbol", symbol, "error", err)
		return Sample{}, false
	}

	closes := make([]decimal.Decimal, 0, len(bars))
	for _, bar := range bars {
		closes = append(closes, bar.Close)
	}
	value, ok := Average(closes, lookbackDays)
	if !ok {
		slog.Info("momentum unavailable", "symbol", symbol, "closes", len(closes))
		return Sample{}, false
	}

	slog.Info("momentum refreshed", "symbol", symbol, "value", value.String(), "closes", len(closes))
	return Sample{Value: value, ComputedAt: now}, true
}

// Average returns the mean of the last min(lookback, len(closes)-1)
// consecutive close differences.
func Average(closes []decimal.Decimal, lookback int) (decimal.Decimal, bool) {
	if len(closes) < 2 || lookback <= 0 {
		return decimal.Zero, false
	}

	diffs := make([]decimal.Decimal, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		diffs = append(diffs, closes[i].Sub(closes[i-1]))
	}

	window := min(lookback, len(diffs))
	sum := decimal.Zero
	for _, d := range diffs[len(diffs)-window:] {
		sum = sum.Add(d)
	}
	return sum.Div(decimal.NewFromInt(int64(window))), true
}
