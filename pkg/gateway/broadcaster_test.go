package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialFeed(t *testing.T, ts *httptest.Server, apiKey string) (*websocket.Conn, *http.Response) {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?api_key=" + apiKey
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return nil, resp
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn, resp
}

func TestWebSocketFeedAuth(t *testing.T) {
	ts := newTestServer(t, &stubAgent{})

	conn, resp := dialFeed(t, ts, "wrong")
	require.Nil(t, conn)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestWebSocketFeedReceivesAgentEvents(t *testing.T) {
	backend := &stubAgent{answer: "done"}
	srv, err := NewServer(Config{
		Host: "127.0.0.1", Port: 8001, APIKey: "secret-key",
		Model: "test-model", Agent: backend, Logger: zerolog.Nop(),
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	conn, _ := dialFeed(t, ts, "secret-key")
	require.NotNil(t, conn)

	// Connection registration races the broadcast without a sync point
	require.Eventually(t, func() bool { return srv.clients.Count() == 1 },
		time.Second, 10*time.Millisecond)

	srv.Broadcaster().Broadcast("agent.final", "s1", map[string]interface{}{"answer": "done"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg EventMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "event", msg.Type)
	assert.Equal(t, "agent.final", msg.Event)
	assert.Equal(t, "s1", msg.SessionID)
	assert.Equal(t, int64(1), msg.Seq)
}

func TestBroadcastSequenceIncrements(t *testing.T) {
	clients := NewClientRegistry()
	b := NewEventBroadcaster(clients, zerolog.Nop())

	// No clients connected: broadcasting still advances the sequence
	b.Broadcast("agent.plan", "s1", nil)
	b.Broadcast("agent.step", "s1", nil)

	assert.Equal(t, uint64(2), b.seq)
}

func TestClientRegistry(t *testing.T) {
	reg := NewClientRegistry()
	client := &Client{ID: "c1", ConnectedAt: time.Now(), LastActivity: time.Now().Add(-10 * time.Minute)}

	reg.Add(client)
	assert.Equal(t, 1, reg.Count())

	infos := reg.ConnectedClients()
	require.Len(t, infos, 1)
	assert.True(t, infos[0].Idle)

	reg.UpdateActivity("c1")
	infos = reg.ConnectedClients()
	assert.False(t, infos[0].Idle)

	reg.Remove("c1")
	assert.Equal(t, 0, reg.Count())
}
