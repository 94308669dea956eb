package telemetry

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// WebSocketHub broadcasts published events to every currently
// connected browser client, grounded on the calibration handler's
// upgrade/broadcast shape but without its per-session request/response
// protocol: telemetry has no inbound messages, only an outbound feed.
type WebSocketHub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewWebSocketHub builds an empty hub. CheckOrigin allows any origin,
// matching the reference handler's local-development posture.
func NewWebSocketHub() *WebSocketHub {
	return &WebSocketHub{
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		clients:  make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP upgrades the request to a websocket connection and
// registers it for broadcasts until the client disconnects.
func (h *WebSocketHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	// Telemetry ignores what the client sends; a background read loop
	// notices when the peer closes and drops the client then.
	go func() {
		defer h.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *WebSocketHub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	conn.Close()
}

// Publish writes payload, tagged with its topic, to every connected
// client. A client whose write fails is dropped; Publish itself never
// fails on a dead client.
func (h *WebSocketHub) Publish(topic string, payload []byte) error {
	msg := append([]byte(fmt.Sprintf("%s ", topic)), payload...)

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			conn.Close()
			delete(h.clients, conn)
		}
	}
	return nil
}
