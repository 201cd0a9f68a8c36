package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"delphi/internal/events"
	"delphi/internal/state"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, *state.Store, *events.Hub) {
	t.Helper()
	store := state.NewStore("AAPL")
	hub := events.NewHub(16)
	srv := httptest.NewServer(New(store, hub).Handler())
	t.Cleanup(srv.Close)
	return srv, store, hub
}

func TestSnapshotEndpoint(t *testing.T) {
	srv, store, _ := newTestServer(t)
	store.SetPosition(state.PositionState{Symbol: "AAPL", Qty: 1, Held: true})

	resp, err := http.Get(srv.URL + "/snapshot")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap state.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.True(t, snap.Position.Held)
	assert.EqualValues(t, 1, snap.Position.Qty)
}

func TestEventsEndpointLimit(t *testing.T) {
	srv, _, hub := newTestServer(t)
	for _, msg := range []string{"one", "two", "three"} {
		hub.Publish(events.Event{Kind: events.KindInfo, Message: msg})
	}

	resp, err := http.Get(srv.URL + "/events?limit=2")
	require.NoError(t, err)
	defer resp.Body.Close()

	var got []events.Event
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got, 2)
	assert.Equal(t, "two", got[0].Message)
	assert.Equal(t, "three", got[1].Message)

	bad, err := http.Get(srv.URL + "/events?limit=x")
	require.NoError(t, err)
	bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestEventStreamDeliversPublishedEvents(t *testing.T) {
	srv, _, hub := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// the subscription is registered after the upgrade completes, so keep
	// publishing until the first event arrives
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				hub.Publish(events.Event{Kind: events.KindBuy, Symbol: "AAPL", Message: "BUY 1"})
			}
		}
	}()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev events.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, events.KindBuy, ev.Kind)
	assert.Equal(t, "AAPL", ev.Symbol)
	assert.Equal(t, "BUY 1", ev.Message)
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _, _ := newTestServer(t)

	for _, path := range []string{"/healthz", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}
