package server_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casamap/plaquemap/internal/server"
)

type wireMessage struct {
	Type    string          `json:"type"`
	Status  string          `json:"status"`
	Total   int             `json:"total"`
	Matched int             `json:"matched"`
	Items   json.RawMessage `json:"items"`
	Center  [2]float64      `json:"center"`
	Zoom    float64         `json:"zoom"`
	Anchor  [2]float64      `json:"anchor"`
	HTML    string          `json:"html"`
	ID      string          `json:"id"`
	Themes  []string        `json:"themes"`

	HighAccuracy bool  `json:"high_accuracy"`
	TimeoutMs    int64 `json:"timeout_ms"`
}

type wireItem struct {
	ID         string   `json:"id"`
	DistanceKm *float64 `json:"distance_km"`
}

func dialSession(t *testing.T) *websocket.Conn {
	t.Helper()

	ctx := testContext(t)
	srv := httptest.NewServer(server.RequestLogger(http.HandlerFunc(ctx.HandleSession)))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	return conn
}

// readUntil drains messages until one of the wanted type arrives.
// Messages of other types may interleave; they are discarded.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) wireMessage {
	t.Helper()

	for i := 0; i < 50; i++ {
		var msg wireMessage
		require.NoError(t, conn.ReadJSON(&msg), "waiting for %q", msgType)
		if msg.Type == msgType {
			return msg
		}
	}
	t.Fatalf("no %q message received", msgType)
	return wireMessage{}
}

func readUntilStatus(t *testing.T, conn *websocket.Conn, status string) {
	t.Helper()

	for i := 0; i < 50; i++ {
		msg := readUntil(t, conn, "geoloc")
		if msg.Status == status {
			return
		}
	}
	t.Fatalf("no geoloc status %q received", status)
}

func items(t *testing.T, msg wireMessage) []wireItem {
	t.Helper()
	var out []wireItem
	require.NoError(t, json.Unmarshal(msg.Items, &out))
	return out
}

func TestSessionInitialPush(t *testing.T) {
	conn := dialSession(t)

	facets := readUntil(t, conn, "facets")
	assert.Equal(t, []string{"culture", "religion"}, facets.Themes)

	results := readUntil(t, conn, "results")
	assert.Equal(t, 2, results.Total)
	assert.Equal(t, 2, results.Matched)
}

func TestSessionFilterRoundTrip(t *testing.T) {
	conn := dialSession(t)
	readUntil(t, conn, "results")

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "filter", "q": "caf"}))

	results := readUntil(t, conn, "results")
	got := items(t, results)
	require.Len(t, got, 1)
	assert.Equal(t, "p1", got[0].ID)
}

func TestSessionSelectAndClickConverge(t *testing.T) {
	conn := dialSession(t)
	readUntil(t, conn, "results")

	// List path.
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "select", "id": "p1"}))
	fly := readUntil(t, conn, "flyto")
	assert.Equal(t, [2]float64{-7.62, 33.59}, fly.Center)
	assert.Equal(t, 16.0, fly.Zoom)

	popupViaList := readUntil(t, conn, "popup")
	highlight := readUntil(t, conn, "highlight")
	assert.Equal(t, "p1", highlight.ID)

	// Map path for the same feature produces identical popup content.
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "click", "lng": -7.62, "lat": 33.59}))
	readUntil(t, conn, "flyto")
	popupViaMap := readUntil(t, conn, "popup")
	assert.Equal(t, popupViaList.HTML, popupViaMap.HTML)
	assert.Equal(t, popupViaList.Anchor, popupViaMap.Anchor)
}

func TestSessionClickMissIsSilent(t *testing.T) {
	conn := dialSession(t)
	readUntil(t, conn, "results")

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "click", "lng": 10, "lat": 10}))
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "filter", "q": "mosque"}))

	// The next message is the filter result; the miss produced nothing.
	results := readUntil(t, conn, "results")
	got := items(t, results)
	require.Len(t, got, 1)
	assert.Equal(t, "p2", got[0].ID)
}

func TestSessionLocateSuccessFlow(t *testing.T) {
	conn := dialSession(t)
	readUntil(t, conn, "results")

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "locate"}))

	readUntilStatus(t, conn, "locating")

	req := readUntil(t, conn, "locate_request")
	assert.True(t, req.HighAccuracy)
	assert.Equal(t, int64(10000), req.TimeoutMs)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "position", "lng": -7.60, "lat": 33.58}))

	readUntilStatus(t, conn, "available")

	// Camera centers on the user at the locate zoom.
	fly := readUntil(t, conn, "flyto")
	assert.Equal(t, [2]float64{-7.60, 33.58}, fly.Center)
	assert.Equal(t, 14.0, fly.Zoom)

	// Distance sort switches on: nearest first, distances annotated.
	results := readUntil(t, conn, "results")
	got := items(t, results)
	require.Len(t, got, 2)
	assert.Equal(t, "p1", got[0].ID)
	assert.Equal(t, "p2", got[1].ID)
	require.NotNil(t, got[0].DistanceKm)
	assert.Less(t, *got[0].DistanceKm, *got[1].DistanceKm)
}

func TestSessionLocateDeniedThenRetry(t *testing.T) {
	conn := dialSession(t)
	readUntil(t, conn, "results")

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "locate"}))
	readUntil(t, conn, "locate_request")
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "position_error", "code": "denied"}))

	readUntilStatus(t, conn, "denied")

	// A fresh locate is re-armed and can succeed.
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "locate"}))
	readUntil(t, conn, "locate_request")
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "position", "lng": -7.60, "lat": 33.58}))

	readUntilStatus(t, conn, "available")
}

func TestSessionIgnoresPositionWithNoLocateInFlight(t *testing.T) {
	conn := dialSession(t)
	readUntil(t, conn, "results")

	// An unsolicited reply must not pre-fill the next locate.
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "position", "lng": 1, "lat": 1}))

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "locate"}))
	readUntil(t, conn, "locate_request")

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "position", "lng": -7.60, "lat": 33.58}))
	readUntilStatus(t, conn, "available")

	// The camera centers on the answer to this request, not the stale
	// coordinates.
	fly := readUntil(t, conn, "flyto")
	assert.Equal(t, [2]float64{-7.60, 33.58}, fly.Center)
}

func TestSessionIgnoresSyntheticPositionEvent(t *testing.T) {
	conn := dialSession(t)
	readUntil(t, conn, "results")

	// Only the geolocation service may establish a position; a raw wire
	// message claiming one is an unknown event.
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "position_available", "lng": 1, "lat": 1}))
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "filter", "q": "mosque"}))

	results := readUntil(t, conn, "results")
	got := items(t, results)
	require.Len(t, got, 1)
	assert.Equal(t, "p2", got[0].ID)
	assert.Nil(t, got[0].DistanceKm)
}

func TestSessionSortToggleOff(t *testing.T) {
	conn := dialSession(t)
	readUntil(t, conn, "results")

	// Locate first so sorting is on.
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "locate"}))
	readUntil(t, conn, "locate_request")
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "position", "lng": -7.99, "lat": 33.99}))
	readUntil(t, conn, "flyto")
	sorted := items(t, readUntil(t, conn, "results"))
	require.Len(t, sorted, 2)
	assert.Equal(t, "p2", sorted[0].ID)

	// Explicit toggle off restores dataset order, distances stay.
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "sort", "enabled": false}))
	unsorted := items(t, readUntil(t, conn, "results"))
	require.Len(t, unsorted, 2)
	assert.Equal(t, "p1", unsorted[0].ID)
	require.NotNil(t, unsorted[0].DistanceKm)
}
