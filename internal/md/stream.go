package md

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata/stream"
	"github.com/shopspring/decimal"
)

// Tick is a single trade print for the tracked symbol.
type Tick struct {
	Symbol    string
	Price     decimal.Decimal
	Timestamp time.Time
}

type TickHandler func(Tick)

// Feed delivers ticks for one symbol until ctx is done or the feed terminates.
// Subscribe blocks for the lifetime of the subscription.
type Feed interface {
	Subscribe(ctx context.Context, symbol string, handler TickHandler) error
}

// Stream is a Feed backed by the alpaca stocks websocket. Reconnects are
// handled inside the SDK client; Subscribe only returns once the client
// gives up or ctx is canceled.
type Stream struct {
	apiKey    string
	apiSecret string
	feed      marketdata.Feed
}

func NewStream(apiKey, apiSecret, feed string) *Stream {
	return &Stream{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		feed:      ParseFeed(feed),
	}
}

func (s *Stream) Subscribe(ctx context.Context, symbol string, handler TickHandler) error {
	client := stream.NewStocksClient(
		s.feed,
		stream.WithCredentials(s.apiKey, s.apiSecret),
	)

	// Connect must be called before subscribing in this SDK version
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect market data stream: %w", err)
	}
	slog.Info("market data stream connected", "symbol", symbol, "feed", s.feed)

	if err := client.SubscribeToTrades(func(trade stream.Trade) {
		handler(Tick{
			Symbol:    trade.Symbol,
			Price:     decimal.NewFromFloat(trade.Price),
			Timestamp: trade.Timestamp,
		})
	}, symbol); err != nil {
		return fmt.Errorf("subscribe to trades: %w", err)
	}
	slog.Info("subscribed to trades", "symbol", symbol)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-client.Terminated():
		if err == nil {
			return ctx.Err()
		}
		return fmt.Errorf("market data stream terminated: %w", err)
	}
}

func ParseFeed(feed string) marketdata.Feed {
	switch feed {
	case "iex":
		return marketdata.IEX
	case "sip":
		return marketdata.SIP
	default:
		return marketdata.IEX
	}
}
