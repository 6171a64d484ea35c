package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/zapvendas/zapfunnel/internal/conversation"
)

type stubChannel struct {
	sent []string
	err  error
}

func (s *stubChannel) SendText(_ context.Context, _, body string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.sent = append(s.sent, body)
	return "wamid.1", nil
}

func newAdminFixture(t *testing.T) (*AdminConversationsHandler, sqlmock.Sqlmock, *stubChannel, http.Handler) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	channel := &stubChannel{}
	h := NewAdminConversationsHandler(db, conversation.NewStore(db), conversation.NewGuard(), channel, nil, nil)

	r := chi.NewRouter()
	r.Get("/admin/conversations", h.ListConversations)
	r.Route("/admin/conversations/{conversationID}", func(r chi.Router) {
		r.Get("/", h.GetConversation)
		r.Post("/takeover", h.SetTakeover)
		r.Post("/messages", h.SendMessage)
	})
	return h, mock, channel, r
}

func expectConversationByID(mock sqlmock.Sqlmock, id uuid.UUID, takeover bool) {
	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT .+ FROM conversations WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id", "address", "stage", "metadata", "human_takeover", "created_at", "updated_at"}).
			AddRow(id, "5511999998888", "warm", []byte("{}"), takeover, now, now))
}

func TestListConversations(t *testing.T) {
	_, mock, _, router := newAdminFixture(t)
	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM conversations`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`FROM conversations c`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "address", "stage", "human_takeover", "created_at", "updated_at", "message_count"}).
			AddRow(uuid.New(), "5511999998888", "hot", false, now, now, 7))

	req := httptest.NewRequest(http.MethodGet, "/admin/conversations?page=1&page_size=20", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ConversationsListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Total)
	require.Len(t, resp.Conversations, 1)
	require.Equal(t, "hot", resp.Conversations[0].Stage)
	require.Equal(t, 7, resp.Conversations[0].MessageCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetConversationWithHistory(t *testing.T) {
	_, mock, _, router := newAdminFixture(t)
	id := uuid.New()
	now := time.Now().UTC()
	expectConversationByID(mock, id, false)
	mock.ExpectQuery(`FROM messages WHERE conversation_id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "conversation_id", "role", "kind", "body", "seq", "created_at"}).
			AddRow(uuid.New(), id, "inbound", "text", "oi", int64(1), now))

	req := httptest.NewRequest(http.MethodGet, "/admin/conversations/"+id.String(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ConversationDetailResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, id.String(), resp.ID)
	require.Len(t, resp.Messages, 1)
	require.Equal(t, "oi", resp.Messages[0].Body)
}

func TestGetConversationInvalidID(t *testing.T) {
	_, _, _, router := newAdminFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/admin/conversations/not-a-uuid", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetConversationNotFound(t *testing.T) {
	_, mock, _, router := newAdminFixture(t)
	id := uuid.New()
	mock.ExpectQuery(`SELECT .+ FROM conversations WHERE id = \$1`).
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	req := httptest.NewRequest(http.MethodGet, "/admin/conversations/"+id.String(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSetTakeover(t *testing.T) {
	_, mock, _, router := newAdminFixture(t)
	id := uuid.New()
	expectConversationByID(mock, id, false)
	mock.ExpectExec(`UPDATE conversations SET human_takeover`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO messages`).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(3)))

	req := httptest.NewRequest(http.MethodPost, "/admin/conversations/"+id.String()+"/takeover", strings.NewReader(`{"active":true}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, true, resp["human_takeover"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSendMessage(t *testing.T) {
	_, mock, channel, router := newAdminFixture(t)
	id := uuid.New()
	expectConversationByID(mock, id, true)
	mock.ExpectQuery(`INSERT INTO messages`).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(9)))

	req := httptest.NewRequest(http.MethodPost, "/admin/conversations/"+id.String()+"/messages", strings.NewReader(`{"body":"já estou olhando seu caso!"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, []string{"já estou olhando seu caso!"}, channel.sent)

	var resp MessageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "human", resp.Role)
	require.Equal(t, int64(9), resp.Seq)
}

func TestSendMessageWaitsForConversationGuard(t *testing.T) {
	h, mock, channel, router := newAdminFixture(t)
	id := uuid.New()
	expectConversationByID(mock, id, true)
	mock.ExpectQuery(`INSERT INTO messages`).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(2)))

	// Simulate an in-flight pipeline pass holding the conversation.
	h.guard.Lock(id)

	done := make(chan int, 1)
	go func() {
		req := httptest.NewRequest(http.MethodPost, "/admin/conversations/"+id.String()+"/messages", strings.NewReader(`{"body":"um momento"}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		done <- rec.Code
	}()

	select {
	case <-done:
		t.Fatal("operator append completed while the conversation was held")
	case <-time.After(50 * time.Millisecond):
	}

	h.guard.Unlock(id)

	select {
	case code := <-done:
		require.Equal(t, http.StatusCreated, code)
	case <-time.After(2 * time.Second):
		t.Fatal("operator append never completed after release")
	}
	require.Equal(t, []string{"um momento"}, channel.sent)
}

func TestSendMessageRequiresBody(t *testing.T) {
	_, mock, channel, router := newAdminFixture(t)
	id := uuid.New()
	expectConversationByID(mock, id, true)

	req := httptest.NewRequest(http.MethodPost, "/admin/conversations/"+id.String()+"/messages", strings.NewReader(`{"body":"  "}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, channel.sent)
}
