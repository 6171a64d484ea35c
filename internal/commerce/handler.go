package commerce

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zapvendas/zapfunnel/pkg/logging"
)

// Handler exposes the webhook ingestor over HTTP. Responses are
// success-shaped for everything except authentication failures, so the
// sender's at-least-once retry loop never storms us over events we skip on
// purpose.
type Handler struct {
	ingestor *Ingestor
	logger   *logging.Logger
}

// NewHandler wires the commerce webhook handler.
func NewHandler(ingestor *Ingestor, logger *logging.Logger) *Handler {
	if ingestor == nil {
		panic("commerce: ingestor required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{ingestor: ingestor, logger: logger}
}

type webhookResponse struct {
	Status  string `json:"status"`
	EventID string `json:"event_id,omitempty"`
}

// Handle accepts POST /webhooks/commerce/{source}.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	if source == "" {
		source = "default"
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("X-Signature")
	if signature == "" {
		signature = r.Header.Get("X-Hub-Signature-256")
	}

	result := h.ingestor.Ingest(r.Context(), source, body, signature)
	if result.Status == StatusUnauthorized {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(webhookResponse{
		Status:  string(result.Status),
		EventID: result.EventID,
	})
}
