package engine

import (
	"context"
	"sync"
	"time"

	"delphi/internal/broker"
	"delphi/internal/state"
)

const DefaultMarketClockTTL = 30 * time.Second

// MarketClock caches the venue's open/closed status so tick evaluation polls
// the broker at most once per ttl.
type MarketClock struct {
	source broker.ClockSource
	ttl    time.Duration
	now    func() time.Time

	mu     sync.Mutex
	status state.MarketStatus
	fresh  bool
	seen   bool
}

func NewMarketClock(source broker.ClockSource, ttl time.Duration) *MarketClock {
	if ttl < 0 {
		ttl = 0
	}
	return &MarketClock{source: source, ttl: ttl, now: time.Now}
}

// Status returns the market status, polling the broker when the cached value
// is older than the ttl. changed is true when the polled status differs from
// the last known one, including the first successful poll. On error the
// cache is invalidated so the next call polls again.
func (m *MarketClock) Status(ctx context.Context) (status state.MarketStatus, changed bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.fresh && now.Sub(m.status.CheckedAt) < m.ttl {
		return m.status, false, nil
	}

	clock, err := m.source.Clock(ctx)
	if err != nil {
		m.fresh = false
		return state.MarketStatus{}, false, err
	}

	next := state.MarketStatus{IsOpen: clock.IsOpen, CheckedAt: now}
	changed = !m.seen || m.status.IsOpen != next.IsOpen
	m.status = next
	m.fresh = true
	m.seen = true
	return next, changed, nil
}
