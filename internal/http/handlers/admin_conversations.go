package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/zapvendas/zapfunnel/internal/conversation"
	"github.com/zapvendas/zapfunnel/internal/live"
	"github.com/zapvendas/zapfunnel/pkg/logging"
)

// outboundChannel is the messaging surface used for manual operator sends.
type outboundChannel interface {
	SendText(ctx context.Context, address, body string) (string, error)
}

// AdminConversationsHandler serves the operator panel: listing conversations,
// reading history, toggling human takeover and sending manual replies.
type AdminConversationsHandler struct {
	db      *sql.DB
	store   *conversation.Store
	guard   *conversation.Guard
	channel outboundChannel
	hub     *live.Hub
	logger  *logging.Logger
}

// NewAdminConversationsHandler creates the handler. hub may be nil.
func NewAdminConversationsHandler(db *sql.DB, store *conversation.Store, guard *conversation.Guard, channel outboundChannel, hub *live.Hub, logger *logging.Logger) *AdminConversationsHandler {
	if db == nil {
		panic("handlers: db required")
	}
	if store == nil {
		panic("handlers: conversation store required")
	}
	if guard == nil {
		panic("handlers: conversation guard required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminConversationsHandler{
		db:      db,
		store:   store,
		guard:   guard,
		channel: channel,
		hub:     hub,
		logger:  logger,
	}
}

// ConversationListItem is one row of the list response.
type ConversationListItem struct {
	ID            string `json:"id"`
	Address       string `json:"address"`
	Stage         string `json:"stage"`
	HumanTakeover bool   `json:"human_takeover"`
	MessageCount  int    `json:"message_count"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

// ConversationsListResponse is a paginated list of conversations.
type ConversationsListResponse struct {
	Conversations []ConversationListItem `json:"conversations"`
	Total         int                    `json:"total"`
	Page          int                    `json:"page"`
	PageSize      int                    `json:"page_size"`
	TotalPages    int                    `json:"total_pages"`
}

// MessageResponse is one message in a history response.
type MessageResponse struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Kind      string `json:"kind"`
	Body      string `json:"body"`
	Seq       int64  `json:"seq"`
	Timestamp string `json:"timestamp"`
}

// ConversationDetailResponse is one conversation plus its recent history.
type ConversationDetailResponse struct {
	ID            string                `json:"id"`
	Address       string                `json:"address"`
	Stage         string                `json:"stage"`
	HumanTakeover bool                  `json:"human_takeover"`
	Metadata      conversation.Metadata `json:"metadata"`
	CreatedAt     string                `json:"created_at"`
	UpdatedAt     string                `json:"updated_at"`
	Messages      []MessageResponse     `json:"messages"`
}

// ListConversations returns a paginated list, most recently active first.
// GET /admin/conversations
func (h *AdminConversationsHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	var total int
	if err := h.db.QueryRowContext(r.Context(), `SELECT COUNT(*) FROM conversations`).Scan(&total); err != nil {
		h.logger.Error("failed to count conversations", "error", err)
		http.Error(w, "failed to list conversations", http.StatusInternalServerError)
		return
	}

	stageFilter := strings.TrimSpace(r.URL.Query().Get("stage"))
	query := `
		SELECT c.id, c.address, c.stage, c.human_takeover, c.created_at, c.updated_at,
		       (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id) AS message_count
		FROM conversations c`
	args := []any{}
	if stageFilter != "" {
		query += ` WHERE c.stage = $1`
		args = append(args, stageFilter)
	}
	query += ` ORDER BY c.updated_at DESC LIMIT $` + strconv.Itoa(len(args)+1) + ` OFFSET $` + strconv.Itoa(len(args)+2)
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := h.db.QueryContext(r.Context(), query, args...)
	if err != nil {
		h.logger.Error("failed to query conversations", "error", err)
		http.Error(w, "failed to list conversations", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	items := make([]ConversationListItem, 0, pageSize)
	for rows.Next() {
		var (
			item      ConversationListItem
			createdAt time.Time
			updatedAt time.Time
		)
		if err := rows.Scan(&item.ID, &item.Address, &item.Stage, &item.HumanTakeover, &createdAt, &updatedAt, &item.MessageCount); err != nil {
			h.logger.Error("failed to scan conversation row", "error", err)
			continue
		}
		item.CreatedAt = createdAt.UTC().Format(time.RFC3339)
		item.UpdatedAt = updatedAt.UTC().Format(time.RFC3339)
		items = append(items, item)
	}

	totalPages := (total + pageSize - 1) / pageSize
	writeJSON(w, http.StatusOK, ConversationsListResponse{
		Conversations: items,
		Total:         total,
		Page:          page,
		PageSize:      pageSize,
		TotalPages:    totalPages,
	})
}

// GetConversation returns one conversation with its recent history.
// GET /admin/conversations/{conversationID}
func (h *AdminConversationsHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.loadConversation(w, r)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 500 {
		limit = 100
	}
	history, err := h.store.History(r.Context(), conv.ID, limit)
	if err != nil {
		h.logger.Error("failed to load history", "conversation_id", conv.ID, "error", err)
		http.Error(w, "failed to load history", http.StatusInternalServerError)
		return
	}

	messages := make([]MessageResponse, 0, len(history))
	for _, msg := range history {
		messages = append(messages, MessageResponse{
			ID:        msg.ID.String(),
			Role:      string(msg.Role),
			Kind:      string(msg.Kind),
			Body:      msg.Body,
			Seq:       msg.Seq,
			Timestamp: msg.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, ConversationDetailResponse{
		ID:            conv.ID.String(),
		Address:       conv.Address,
		Stage:         string(conv.Stage),
		HumanTakeover: conv.HumanTakeover,
		Metadata:      conv.Metadata,
		CreatedAt:     conv.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     conv.UpdatedAt.UTC().Format(time.RFC3339),
		Messages:      messages,
	})
}

// SetTakeover pauses or resumes the automation for one conversation.
// POST /admin/conversations/{conversationID}/takeover
func (h *AdminConversationsHandler) SetTakeover(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.loadConversation(w, r)
	if !ok {
		return
	}

	var req struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.applyTakeover(r.Context(), conv.ID, req.Active); err != nil {
		h.logger.Error("failed to set takeover", "conversation_id", conv.ID, "error", err)
		http.Error(w, "failed to update conversation", http.StatusInternalServerError)
		return
	}

	h.logger.Info("takeover updated", "conversation_id", conv.ID, "active", req.Active)
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": conv.ID.String(),
		"human_takeover":  req.Active,
	})
}

// applyTakeover flips the flag and records the audit note under the
// conversation guard, serialized with any in-flight pipeline pass.
func (h *AdminConversationsHandler) applyTakeover(ctx context.Context, convID uuid.UUID, active bool) error {
	h.guard.Lock(convID)
	defer h.guard.Unlock(convID)

	if err := h.store.SetHumanTakeover(ctx, convID, active); err != nil {
		return err
	}
	note := "atendimento humano encerrado, automação retomada"
	if active {
		note = "atendimento humano iniciado pelo operador"
	}
	if _, err := h.store.AppendMessage(ctx, convID, conversation.RoleSystemNote, conversation.KindText, note); err != nil {
		h.logger.Warn("failed to record takeover note", "conversation_id", convID, "error", err)
	}
	return nil
}

// SendMessage delivers a manual operator reply through the channel and
// records it as a human message.
// POST /admin/conversations/{conversationID}/messages
func (h *AdminConversationsHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	if h.channel == nil {
		http.Error(w, "outbound channel not configured", http.StatusServiceUnavailable)
		return
	}
	conv, ok := h.loadConversation(w, r)
	if !ok {
		return
	}

	var req struct {
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Body) == "" {
		http.Error(w, "body is required", http.StatusBadRequest)
		return
	}

	if _, err := h.channel.SendText(r.Context(), conv.Address, req.Body); err != nil {
		h.logger.Error("operator send failed", "conversation_id", conv.ID, "error", err)
		http.Error(w, "failed to send message", http.StatusBadGateway)
		return
	}

	msg, err := h.appendUnderGuard(r.Context(), conv.ID, conversation.RoleHuman, req.Body)
	if err != nil {
		h.logger.Error("failed to persist operator message", "conversation_id", conv.ID, "error", err)
		http.Error(w, "message sent but not recorded", http.StatusInternalServerError)
		return
	}

	if h.hub != nil {
		event := live.NewEvent("message.created", conv.ID.String())
		event.Role = string(msg.Role)
		event.Kind = string(msg.Kind)
		event.Body = msg.Body
		h.hub.Publish(conv.ID.String(), event)
	}

	writeJSON(w, http.StatusCreated, MessageResponse{
		ID:        msg.ID.String(),
		Role:      string(msg.Role),
		Kind:      string(msg.Kind),
		Body:      msg.Body,
		Seq:       msg.Seq,
		Timestamp: msg.CreatedAt.UTC().Format(time.RFC3339),
	})
}

func (h *AdminConversationsHandler) appendUnderGuard(ctx context.Context, convID uuid.UUID, role conversation.Role, body string) (*conversation.Message, error) {
	h.guard.Lock(convID)
	defer h.guard.Unlock(convID)
	return h.store.AppendMessage(ctx, convID, role, conversation.KindText, body)
}

func (h *AdminConversationsHandler) loadConversation(w http.ResponseWriter, r *http.Request) (*conversation.Conversation, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "conversationID"))
	if err != nil {
		http.Error(w, "invalid conversation id", http.StatusBadRequest)
		return nil, false
	}
	conv, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			http.Error(w, "conversation not found", http.StatusNotFound)
			return nil, false
		}
		h.logger.Error("failed to load conversation", "conversation_id", id, "error", err)
		http.Error(w, "failed to load conversation", http.StatusInternalServerError)
		return nil, false
	}
	return conv, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
