package md

import (
	"context"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"
)

// Bar is a daily close for a symbol.
type Bar struct {
	Symbol    string
	Timestamp time.Time
	Close     decimal.Decimal
}

// Bars fetches historical daily bars from the alpaca data API.
type Bars struct {
	client *marketdata.Client
	feed   marketdata.Feed
}

func NewBars(apiKey, apiSecret, feed string) *Bars {
	return &Bars{
		client: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
		}),
		feed: ParseFeed(feed),
	}
}

// DailyBars returns daily bars in [start, end], oldest first.
func (b *Bars) DailyBars(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error) {
	type result struct {
		bars []marketdata.Bar
		err  error
	}
	done := make(chan result, 1)
	go func() {
		bars, err := b.client.GetBars(symbol, marketdata.GetBarsRequest{
			TimeFrame: marketdata.OneDay,
			Start:     start,
			End:       end,
			Feed:      b.feed,
		})
		done <- result{bars: bars, err: err}
	}()

	var res result
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("get bars %s: %w", symbol, ctx.Err())
	case res = <-done:
	}
	if res.err != nil {
		return nil, fmt.Errorf("get bars %s: %w", symbol, res.err)
	}

	out := make([]Bar, 0, len(res.bars))
	for _, bar := range res.bars {
		out = append(out, Bar{
			Symbol:    symbol,
			Timestamp: bar.Timestamp,
			Close:     decimal.NewFromFloat(bar.Close),
		})
	}
	return out, nil
}
