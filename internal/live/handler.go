package live

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/zapvendas/zapfunnel/pkg/logging"
)

// Handler streams hub events for one conversation over a WebSocket. Used by
// the operator panel to watch a conversation in real time.
type Handler struct {
	hub    *Hub
	logger *logging.Logger
}

// NewHandler creates a live stream handler.
func NewHandler(hub *Hub, logger *logging.Logger) *Handler {
	if hub == nil {
		panic("live: hub required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{hub: hub, logger: logger}
}

// errorMessage is the only frame the handler sends outside of hub events.
type errorMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// HandleWebSocket upgrades the request and streams events until the client
// disconnects.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.Handler(func(conn *websocket.Conn) {
		h.serveWS(conn, r)
	}).ServeHTTP(w, r)
}

func (h *Handler) serveWS(conn *websocket.Conn, r *http.Request) {
	convParam := r.URL.Query().Get("conversation")
	if convParam == "" {
		_ = websocket.JSON.Send(conn, errorMessage{Type: "error", Text: "missing conversation parameter"})
		return
	}
	if _, err := uuid.Parse(convParam); err != nil {
		_ = websocket.JSON.Send(conn, errorMessage{Type: "error", Text: "invalid conversation id"})
		return
	}

	sub := h.hub.Subscribe(convParam)
	defer h.hub.Unsubscribe(sub)

	h.logger.Info("live stream opened", "conversation_id", convParam)

	// Reads are only used to detect disconnect; the client sends nothing
	// meaningful.
	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		var discard string
		for {
			if err := websocket.Message.Receive(conn, &discard); err != nil {
				return
			}
		}
	}()

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case event, ok := <-sub.C:
			if !ok {
				return
			}
			if err := websocket.JSON.Send(conn, event); err != nil {
				h.logger.Debug("live stream closed", "conversation_id", convParam, "error", err)
				return
			}
		case <-keepalive.C:
			ping := NewEvent("ping", convParam)
			if err := websocket.JSON.Send(conn, ping); err != nil {
				return
			}
		case <-disconnected:
			return
		case <-r.Context().Done():
			return
		}
	}
}
