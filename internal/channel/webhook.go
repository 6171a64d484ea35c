package channel

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/zapvendas/zapfunnel/internal/conversation"
	"github.com/zapvendas/zapfunnel/internal/live"
	"github.com/zapvendas/zapfunnel/internal/observability/metrics"
	"github.com/zapvendas/zapfunnel/pkg/logging"
)

// inboundStore is the subset of the conversation store the webhook needs.
type inboundStore interface {
	EnsureConversation(ctx context.Context, address string) (*conversation.Conversation, error)
	AppendMessage(ctx context.Context, convID uuid.UUID, role conversation.Role, kind conversation.ContentKind, body string) (*conversation.Message, error)
}

// observer coalesces inbound messages per conversation.
type observer interface {
	Observe(ctx context.Context, convID uuid.UUID, text string)
}

// WebhookHandler receives inbound message callbacks from the WhatsApp
// gateway. The message is persisted before the debouncer sees it, so text is
// never lost even if the process dies inside the quiet window.
type WebhookHandler struct {
	store     inboundStore
	guard     *conversation.Guard
	debouncer observer
	hub       *live.Hub
	metrics   *metrics.FunnelMetrics
	logger    *logging.Logger
}

// NewWebhookHandler wires the inbound webhook. hub and metrics may be nil.
func NewWebhookHandler(store inboundStore, guard *conversation.Guard, debouncer observer, hub *live.Hub, m *metrics.FunnelMetrics, logger *logging.Logger) *WebhookHandler {
	if store == nil {
		panic("channel: store required")
	}
	if guard == nil {
		panic("channel: guard required")
	}
	if debouncer == nil {
		panic("channel: debouncer required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{
		store:     store,
		guard:     guard,
		debouncer: debouncer,
		hub:       hub,
		metrics:   m,
		logger:    logger,
	}
}

// Handle accepts one gateway callback. Gateways deliver at-least-once and
// retry on non-2xx, so anything we intentionally ignore is still a 200.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		h.logger.Warn("inbound webhook: unparseable payload", "error", err)
		h.metrics.ObserveInbound("unparseable")
		w.WriteHeader(http.StatusOK)
		return
	}

	if fromMe, _ := lookupBool(doc, "data.fromMe", "fromMe", "from_me"); fromMe {
		// Echo of our own outbound send.
		h.metrics.ObserveInbound("echo")
		w.WriteHeader(http.StatusOK)
		return
	}

	address := lookupString(doc, "data.from", "from", "sender.id", "sender", "phone")
	text := lookupString(doc, "data.text.body", "text.body", "data.body", "message", "text", "body")
	if conversation.NormalizeAddress(address) == "" || strings.TrimSpace(text) == "" {
		h.metrics.ObserveInbound("ignored")
		w.WriteHeader(http.StatusOK)
		return
	}

	ctx := r.Context()
	conv, err := h.store.EnsureConversation(ctx, address)
	if err != nil {
		h.logger.Error("inbound webhook: ensure conversation failed", "error", err)
		h.metrics.ObserveInbound("error")
		w.WriteHeader(http.StatusOK)
		return
	}

	msg, err := h.recordInbound(ctx, conv, text)
	if err != nil {
		h.logger.Error("inbound webhook: persist message failed",
			"conversation_id", conv.ID,
			"error", err,
		)
		h.metrics.ObserveInbound("error")
		w.WriteHeader(http.StatusOK)
		return
	}

	if h.hub != nil {
		event := live.NewEvent("message.created", conv.ID.String())
		event.Role = string(msg.Role)
		event.Kind = string(msg.Kind)
		event.Body = msg.Body
		h.hub.Publish(conv.ID.String(), event)
	}

	h.metrics.ObserveInbound("accepted")
	w.WriteHeader(http.StatusOK)
}

// recordInbound persists the message and hands it to the debouncer under the
// conversation guard. Concurrent callbacks for the same conversation append
// one at a time, so the sequence numbers never collide.
func (h *WebhookHandler) recordInbound(ctx context.Context, conv *conversation.Conversation, text string) (*conversation.Message, error) {
	h.guard.Lock(conv.ID)
	defer h.guard.Unlock(conv.ID)

	msg, err := h.store.AppendMessage(ctx, conv.ID, conversation.RoleInbound, conversation.KindText, text)
	if err != nil {
		return nil, err
	}
	// The debounce timer outlives this request; detach from the request ctx.
	h.debouncer.Observe(context.WithoutCancel(ctx), conv.ID, text)
	return msg, nil
}

// lookupString walks an ordered list of dotted paths and returns the first
// present, non-empty string. Gateways disagree on key names.
func lookupString(doc map[string]any, paths ...string) string {
	for _, path := range paths {
		if value, ok := lookupPath(doc, path); ok {
			if s, ok := value.(string); ok && strings.TrimSpace(s) != "" {
				return s
			}
		}
	}
	return ""
}

func lookupBool(doc map[string]any, paths ...string) (bool, bool) {
	for _, path := range paths {
		if value, ok := lookupPath(doc, path); ok {
			if b, ok := value.(bool); ok {
				return b, true
			}
		}
	}
	return false, false
}

func lookupPath(doc map[string]any, path string) (any, bool) {
	current := any(doc)
	for _, part := range strings.Split(path, ".") {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = node[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
