package wsapi_test

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"matchguard/internal/events"
	"matchguard/internal/wsapi"
)

func newTestServer(t *testing.T) (*httptest.Server, *events.Hub) {
	t.Helper()
	hub := events.NewHub()
	h := wsapi.New(hub)
	r := chi.NewRouter()
	h.Route(r)
	srv := httptest.NewServer(r)
	return srv, hub
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestSubscribeReceivesMatchEvent(t *testing.T) {
	srv, hub := newTestServer(t)
	defer srv.Close()

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv.URL)+"/ws/matches/match-1", nil)
	require.NoError(t, err)
	if resp != nil {
		defer resp.Body.Close()
	}
	defer conn.Close()

	hub.Publish(events.Event{
		Type: events.TypeMatchStateChanged, MatchID: "match-1", Timestamp: time.Now(),
		Delta: map[string]any{"from_state": "Created", "to_state": "Started"},
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type      string `json:"type"`
		MatchID   string `json:"match_id"`
		FromState string `json:"from_state"`
		ToState   string `json:"to_state"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, events.TypeMatchStateChanged, msg.Type)
	require.Equal(t, "match-1", msg.MatchID)
	require.Equal(t, "Created", msg.FromState)
	require.Equal(t, "Started", msg.ToState)
}

func TestUnrelatedMatchEventNotDelivered(t *testing.T) {
	srv, hub := newTestServer(t)
	defer srv.Close()

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv.URL)+"/ws/matches/match-a", nil)
	require.NoError(t, err)
	if resp != nil {
		defer resp.Body.Close()
	}
	defer conn.Close()

	hub.Publish(events.Event{Type: events.TypeMatchCompleted, MatchID: "match-b"})

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err = conn.ReadMessage()
	require.Error(t, err, "no event scoped to match-b should arrive on the match-a connection")
}

func TestClientCanConnectAndClose(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv.URL)+"/ws/matches/match-z", nil)
	require.NoError(t, err)
	if resp != nil {
		defer resp.Body.Close()
	}
	require.NoError(t, conn.Close())
}
