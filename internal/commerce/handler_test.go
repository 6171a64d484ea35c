package commerce

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/zapvendas/zapfunnel/internal/conversation"
)

func newHandlerRouter(ing *Ingestor) http.Handler {
	r := chi.NewRouter()
	h := NewHandler(ing, nil)
	r.Post("/webhooks/commerce/{source}", h.Handle)
	r.Post("/webhooks/commerce", h.Handle)
	return r
}

func TestHandlerAcceptsSignedEvent(t *testing.T) {
	store := newFakeEventRecorder()
	ing := newTestIngestor(store, &fakeFinder{conv: &conversation.Conversation{}}, &fakeProcessor{})
	router := newHandlerRouter(ing)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/commerce/hotpay", bytes.NewReader(approvedBody))
	req.Header.Set("X-Signature", sign(approvedBody))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp webhookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, string(StatusProcessed), resp.Status)
	require.Equal(t, "evt-100", resp.EventID)
	require.Contains(t, store.rows, key("hotpay", "evt-100"))
}

func TestHandlerRejectsBadSignature(t *testing.T) {
	ing := newTestIngestor(newFakeEventRecorder(), &fakeFinder{}, &fakeProcessor{})
	router := newHandlerRouter(ing)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/commerce/hotpay", bytes.NewReader(approvedBody))
	req.Header.Set("X-Signature", "sha256=0000")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlerDefaultsSourceWhenMissing(t *testing.T) {
	store := newFakeEventRecorder()
	ing := newTestIngestor(store, &fakeFinder{conv: &conversation.Conversation{}}, &fakeProcessor{})
	router := newHandlerRouter(ing)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/commerce", bytes.NewReader(approvedBody))
	req.Header.Set("X-Hub-Signature-256", sign(approvedBody))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, store.rows, key("default", "evt-100"))
}
