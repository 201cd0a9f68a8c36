package state

import (
	"encoding/json"
	"testing"
	"time"

	"delphi/internal/broker"
	"delphi/internal/momentum"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotIsACopy(t *testing.T) {
	store := NewStore("AAPL")
	now := time.Date(2024, 3, 15, 15, 0, 0, 0, time.UTC)
	store.SetMomentum(momentum.Sample{Value: decimal.NewFromFloat(0.2), ComputedAt: now}, true)
	store.SetBrokerPositions([]broker.Position{{Symbol: "AAPL", Qty: decimal.NewFromInt(1)}}, now)

	snap := store.Snapshot()
	require.NotNil(t, snap.Momentum)
	snap.Momentum.Value = decimal.NewFromInt(-1)
	snap.BrokerPositions[0].Symbol = "MSFT"

	again := store.Snapshot()
	assert.True(t, again.Momentum.Value.Equal(decimal.NewFromFloat(0.2)))
	assert.Equal(t, "AAPL", again.BrokerPositions[0].Symbol)
	assert.Equal(t, "AAPL", again.Position.Symbol)
}

func TestSetMomentumUnavailableClearsSample(t *testing.T) {
	store := NewStore("AAPL")
	store.SetMomentum(momentum.Sample{Value: decimal.NewFromFloat(0.2)}, true)
	store.SetMomentum(momentum.Sample{}, false)

	assert.Nil(t, store.Snapshot().Momentum)
}

func TestSetPosition(t *testing.T) {
	store := NewStore("AAPL")
	store.SetPosition(PositionState{Symbol: "AAPL", Qty: 2, Held: true})
	store.SetMarket(MarketStatus{IsOpen: true})

	snap := store.Snapshot()
	assert.Equal(t, PositionState{Symbol: "AAPL", Qty: 2, Held: true}, snap.Position)
	require.NotNil(t, snap.Market)
	assert.True(t, snap.Market.IsOpen)
}

func TestEmptyBrokerPositionsEncodeAsList(t *testing.T) {
	store := NewStore("AAPL")

	snap := store.Snapshot()
	assert.NotNil(t, snap.BrokerPositions)
	assert.Empty(t, snap.BrokerPositions)
	payload, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"broker_positions":[]`)

	store.SetBrokerPositions(nil, time.Date(2024, 3, 15, 15, 0, 0, 0, time.UTC))
	payload, err = json.Marshal(store.Snapshot())
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"broker_positions":[]`)
}
