package e2e

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayfarer-hq/wayfarer/pkg/agent"
	"github.com/wayfarer-hq/wayfarer/pkg/events"
	"github.com/wayfarer-hq/wayfarer/pkg/models"
)

// wsClient is a minimal WebSocket test client speaking the subscribe
// protocol.
type wsClient struct {
	conn *websocket.Conn
	t    *testing.T
}

func dialWS(t *testing.T, url string) *wsClient {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })

	c := &wsClient{conn: conn, t: t}
	msg := c.readMessage()
	require.Equal(t, "connection.established", msg["type"])
	return c
}

func (c *wsClient) send(msg events.ClientMessage) {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	data, err := json.Marshal(msg)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.Write(ctx, websocket.MessageText, data))
}

func (c *wsClient) subscribe(channel string) {
	c.t.Helper()
	c.send(events.ClientMessage{Action: "subscribe", Channel: channel})
	msg := c.readMessage()
	require.Equal(c.t, "subscription.confirmed", msg["type"])
	require.Equal(c.t, channel, msg["channel"])
}

func (c *wsClient) readMessage() map[string]any {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, data, err := c.conn.Read(ctx)
	require.NoError(c.t, err)
	var out map[string]any
	require.NoError(c.t, json.Unmarshal(data, &out))
	return out
}

func TestPingPong(t *testing.T) {
	app := NewTestApp(t)
	ws := dialWS(t, app.WSURL)
	ws.send(events.ClientMessage{Action: "ping"})
	assert.Equal(t, "pong", ws.readMessage()["type"])
}

func TestProgressStreamingDuringGeneration(t *testing.T) {
	app := NewTestApp(t)
	app.scriptGeneration(2)

	// Shell and metadata exist before the pipeline runs, exactly as the
	// create operation guarantees.
	const id = "it_ws_stream"
	ctx := context.Background()
	require.NoError(t, app.Store.PutItinerary(ctx, &models.Itinerary{
		ID: id, Version: 1, Owner: "user_1",
	}, 0))
	require.NoError(t, app.Store.PutMetadata(ctx, models.TripMetadata{
		Owner: "user_1", ItineraryID: id, Status: models.GenerationStatusGenerating,
	}))

	ws := dialWS(t, app.WSURL)
	ws.subscribe(events.ItineraryChannel(id))

	// Generation starts only after the subscription is live, so the stream
	// carries the complete run.
	errCh := make(chan error, 1)
	go func() {
		a, err := app.Registry.Route("create")
		if err != nil {
			errCh <- err
			return
		}
		_, err = agent.Run(ctx, a, app.Deps, &agent.Request{
			ItineraryID: id,
			Create: &models.CreateRequest{
				Destination: "Lisbon, Portugal",
				StartDate:   "2026-09-01",
				EndDate:     "2026-09-02",
				Owner:       "user_1",
			},
		})
		errCh <- err
	}()

	var (
		lastSeq  int64
		progress int
		patches  int
		terminal bool
	)
	for !terminal {
		msg := ws.readMessage()
		seq, ok := msg["seq"].(float64)
		require.True(t, ok, "expected an event envelope, got %v", msg)
		assert.Greater(t, int64(seq), lastSeq, "sequence numbers must increase")
		lastSeq = int64(seq)

		payload, ok := msg["payload"].(map[string]any)
		require.True(t, ok, "envelope without payload: %v", msg)
		switch payload["type"] {
		case events.EventTypeAgentProgress:
			progress++
			if payload["agent_id"] == "orchestrator" && payload["status"] == events.ProgressSucceeded {
				terminal = true
			}
		case events.EventTypePatch:
			patches++
			assert.Equal(t, id, payload["itinerary_id"])
		}
	}
	require.NoError(t, <-errCh)

	assert.Greater(t, progress, 1, "expected per-phase progress events")
	assert.Greater(t, patches, 0, "expected patch events for applied change-sets")
}
