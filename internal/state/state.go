// Package state publishes a read-only view of the trading loop for
// dashboards. The controller writes copies here after each change; readers
// never touch the controller's own state.
package state

import (
	"sync"
	"time"

	"delphi/internal/broker"
	"delphi/internal/momentum"

	"github.com/shopspring/decimal"
)

// PositionState is the controller's view of its holding. Held is true
// exactly when Qty > 0.
type PositionState struct {
	Symbol string `json:"symbol"`
	Qty    int64  `json:"qty"`
	Held   bool   `json:"held"`
}

type MarketStatus struct {
	IsOpen    bool      `json:"is_open"`
	CheckedAt time.Time `json:"checked_at"`
}

type LastTick struct {
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

type Snapshot struct {
	Position        PositionState     `json:"position"`
	Momentum        *momentum.Sample  `json:"momentum,omitempty"`
	Market          *MarketStatus     `json:"market,omitempty"`
	LastTick        *LastTick         `json:"last_tick,omitempty"`
	LastTradeTime   time.Time         `json:"last_trade_time"`
	BrokerPositions []broker.Position `json:"broker_positions"`
	PositionsAt     time.Time         `json:"positions_at"`
}

type Store struct {
	mu       sync.RWMutex
	snapshot Snapshot
}

func NewStore(symbol string) *Store {
	return &Store{
		snapshot: Snapshot{
			Position:        PositionState{Symbol: symbol},
			BrokerPositions: []broker.Position{},
		},
	}
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := s.snapshot
	snap.BrokerPositions = clonePositions(s.snapshot.BrokerPositions)
	if s.snapshot.Momentum != nil {
		sample := *s.snapshot.Momentum
		snap.Momentum = &sample
	}
	if s.snapshot.Market != nil {
		market := *s.snapshot.Market
		snap.Market = &market
	}
	if s.snapshot.LastTick != nil {
		tick := *s.snapshot.LastTick
		snap.LastTick = &tick
	}
	return snap
}

func (s *Store) SetPosition(position PositionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.Position = position
}

func (s *Store) SetMomentum(sample momentum.Sample, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !ok {
		s.snapshot.Momentum = nil
		return
	}
	s.snapshot.Momentum = &sample
}

func (s *Store) SetMarket(status MarketStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.Market = &status
}

func (s *Store) SetLastTick(price decimal.Decimal, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.LastTick = &LastTick{Price: price, Timestamp: ts}
}

func (s *Store) SetLastTradeTime(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.LastTradeTime = t
}

func (s *Store) SetBrokerPositions(positions []broker.Position, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.BrokerPositions = clonePositions(positions)
	s.snapshot.PositionsAt = at
}

// clonePositions never returns nil, so an empty list encodes as [].
func clonePositions(positions []broker.Position) []broker.Position {
	out := make([]broker.Position, len(positions))
	copy(out, positions)
	return out
}
