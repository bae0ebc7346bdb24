// Package wsapi implements the WebSocket surface of spec §6.2: per-match
// event subscription over internal/events.Hub, grounded on the teacher's
// rpc/ws.go streaming shape but built on gorilla/websocket instead of
// nhooyr.io/websocket.
package wsapi

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"matchguard/internal/events"
	"matchguard/observability"
)

const (
	heartbeatInterval = 5 * time.Second
	readTimeout       = 10 * time.Second
	writeTimeout      = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// clientMessage is the tagged JSON envelope a client sends (spec §6.2).
type clientMessage struct {
	Type    string `json:"type"`
	MatchID string `json:"match_id"`
}

// serverMessage is the tagged JSON envelope broadcast to clients.
type serverMessage struct {
	Type      string    `json:"type"`
	MatchID   string    `json:"match_id,omitempty"`
	FromState string    `json:"from_state,omitempty"`
	ToState   string    `json:"to_state,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Handler serves WS /ws/matches/{id}.
type Handler struct {
	hub       *events.Hub
	connected atomic.Int64
}

// New constructs a Handler fed by hub.
func New(hub *events.Hub) *Handler {
	return &Handler{hub: hub}
}

// Route registers the websocket endpoint on r.
func (h *Handler) Route(r chi.Router) {
	r.Get("/ws/matches/{id}", h.serveMatch)
}

func (h *Handler) serveMatch(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	_, eventCh, unsubscribe := h.hub.Subscribe(matchID)
	defer unsubscribe()

	observability.MatchAuthority().SetWSConnections(int(h.connected.Add(1)))
	defer func() { observability.MatchAuthority().SetWSConnections(int(h.connected.Add(-1))) }()

	done := make(chan struct{})
	go h.readLoop(conn, done)

	h.writeLoop(conn, eventCh, done)
}

// readLoop drains client frames (subscribe/unsubscribe/ping are accepted but
// a no-op beyond resetting the read deadline: the connection is already
// scoped to a single match_id by URL). It closes done when the client
// disconnects or goes silent past readTimeout.
func (h *Handler) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
	}
}

func (h *Handler) writeLoop(conn *websocket.Conn, eventCh <-chan events.Event, done chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, ok := <-eventCh:
			if !ok {
				return
			}
			msg := serverMessage{Type: ev.Type, MatchID: ev.MatchID, Timestamp: ev.Timestamp}
			if ev.Delta != nil {
				if from, ok := ev.Delta["from_state"].(string); ok {
					msg.FromState = from
				}
				if to, ok := ev.Delta["to_state"].(string); ok {
					msg.ToState = to
				}
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}
