package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/opencx/agentsim/internal/broker"
)

// notification is the wire envelope for one published message: the logical
// topic it was published on plus the message body.
type notification struct {
	Topic string `json:"topic"`
	Data  any    `json:"data"`
}

// wsTransport adapts a websocket connection to the broker's Transport.
type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Deliver(topic string, msg any) error {
	data, err := json.Marshal(notification{Topic: topic, Data: msg})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return t.conn.Write(ctx, websocket.MessageText, data)
}

// notifications upgrades the request and attaches the connection as a new
// session for the agent. The bring-up handshake and all subsequent events
// for the identity flow out over it until the client disconnects.
func (h *Handler) notifications(w http.ResponseWriter, r *http.Request) {
	userName, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}
	agent := h.dir.ByIdentity(userName)
	if agent == nil {
		unauthorized(w)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "username", userName)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "username", userName)
		}
	}()

	session := h.broker.Attach(userName, &wsTransport{conn: ws}, &broker.Bringup{
		User: agent,
		Configuration: map[string]any{
			"channels": []string{"voice", "email", "workitem", "outboundpreview"},
		},
		// Evaluated after the bring-up delay so the client sees the state
		// current at fire time.
		InitialState: func() (any, any) {
			return h.channels.DNSnapshot(agent),
				map[string]any{"channels": h.channels.AllMediaSnapshot(userName)}
		},
	})
	defer h.broker.Detach(userName, session.ID)

	h.readLoop(r.Context(), ws, userName)
	slog.Info("Notification session ended", "username", userName, "session_id", session.ID)
}

// readLoop drains inbound frames until the client disconnects. The only
// client-to-server message with meaning is a ping.
func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, userName string) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "username", userName)
			} else {
				slog.Debug("WebSocket read error", "error", err, "username", userName)
			}
			return
		}
		var msg map[string]any
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg["type"] == "ping" {
			pong, _ := json.Marshal(map[string]string{"type": "pong"})
			if err := ws.Write(ctx, websocket.MessageText, pong); err != nil {
				slog.Debug("Failed to send pong", "error", err, "username", userName)
				return
			}
		}
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.frontendURL == "" || origin == h.frontendURL {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.frontendURL)
	return false
}
