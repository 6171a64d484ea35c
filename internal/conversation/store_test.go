package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAddress(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"5511999998888@c.us", "5511999998888"},
		{"+55 11 99999-8888", "5511999998888"},
		{"5511999998888", "5511999998888"},
		{"abc", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := NormalizeAddress(tc.in); got != tc.want {
			t.Errorf("NormalizeAddress(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func newStoreMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db), mock
}

func conversationRows(conv *Conversation) *sqlmock.Rows {
	meta, _ := json.Marshal(conv.Metadata)
	return sqlmock.NewRows([]string{"id", "address", "stage", "metadata", "human_takeover", "created_at", "updated_at"}).
		AddRow(conv.ID, conv.Address, string(conv.Stage), meta, conv.HumanTakeover, conv.CreatedAt, conv.UpdatedAt)
}

func TestGetByIDNotFound(t *testing.T) {
	store, mock := newStoreMock(t)
	id := uuid.New()
	mock.ExpectQuery(`SELECT .+ FROM conversations WHERE id = \$1`).
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetByID(context.Background(), id)
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureConversationCreatesOnFirstContact(t *testing.T) {
	store, mock := newStoreMock(t)
	now := time.Now().UTC()
	address := "5511999998888"

	mock.ExpectQuery(`SELECT .+ FROM conversations WHERE address = \$1`).
		WithArgs(address).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO conversations")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT .+ FROM conversations WHERE address = \$1`).
		WithArgs(address).
		WillReturnRows(conversationRows(&Conversation{
			ID:        uuid.New(),
			Address:   address,
			Stage:     StageNew,
			CreatedAt: now,
			UpdatedAt: now,
		}))

	conv, err := store.EnsureConversation(context.Background(), "+55 11 99999-8888")
	require.NoError(t, err)
	require.Equal(t, address, conv.Address)
	require.Equal(t, StageNew, conv.Stage)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureConversationReturnsExisting(t *testing.T) {
	store, mock := newStoreMock(t)
	existing := &Conversation{
		ID:        uuid.New(),
		Address:   "5511999998888",
		Stage:     StageWarm,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	mock.ExpectQuery(`SELECT .+ FROM conversations WHERE address = \$1`).
		WithArgs(existing.Address).
		WillReturnRows(conversationRows(existing))

	conv, err := store.EnsureConversation(context.Background(), existing.Address)
	require.NoError(t, err)
	require.Equal(t, existing.ID, conv.ID)
	require.Equal(t, StageWarm, conv.Stage)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByContactFallsBackToEmail(t *testing.T) {
	store, mock := newStoreMock(t)
	existing := &Conversation{
		ID:        uuid.New(),
		Address:   "5511999998888",
		Stage:     StageHot,
		Metadata:  Metadata{Email: "maria@example.com"},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	mock.ExpectQuery(`SELECT .+ FROM conversations WHERE address = \$1`).
		WithArgs("5511777776666").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`lower\(metadata->>'email'\) = \$1`).
		WithArgs("maria@example.com").
		WillReturnRows(conversationRows(existing))

	conv, err := store.FindByContact(context.Background(), "5511777776666", "Maria@Example.com")
	require.NoError(t, err)
	require.Equal(t, existing.ID, conv.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStageRejectsUnknownStage(t *testing.T) {
	store, _ := newStoreMock(t)
	err := store.UpdateStage(context.Background(), uuid.New(), Stage("sideways"))
	require.Error(t, err)
}

func TestUpdateStageMissingRow(t *testing.T) {
	store, mock := newStoreMock(t)
	id := uuid.New()
	mock.ExpectExec(`UPDATE conversations SET stage`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateStage(context.Background(), id, StageWarm)
	require.True(t, errors.Is(err, ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendMessageAssignsNextSeq(t *testing.T) {
	store, mock := newStoreMock(t)
	convID := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO messages")).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(4)))

	msg, err := store.AppendMessage(context.Background(), convID, RoleInbound, KindText, "bom dia")
	require.NoError(t, err)
	require.Equal(t, int64(4), msg.Seq)
	require.Equal(t, RoleInbound, msg.Role)
	require.Equal(t, "bom dia", msg.Body)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendMessageMirrorsIntoTranscript(t *testing.T) {
	store, mock := newStoreMock(t)
	cache, _ := newTranscriptCache(t)
	store.WithTranscript(cache)

	convID := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO messages")).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(1)))

	msg, err := store.AppendMessage(context.Background(), convID, RoleAutomated, KindText, "segue o link")
	require.NoError(t, err)

	entries, err := cache.Recent(context.Background(), convID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, msg.ID.String(), entries[0].ID)
	require.Equal(t, RoleAutomated, entries[0].Role)
	require.Equal(t, "segue o link", entries[0].Body)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryReturnsMessagesInOrder(t *testing.T) {
	store, mock := newStoreMock(t)
	convID := uuid.New()
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "conversation_id", "role", "kind", "body", "seq", "created_at"}).
		AddRow(uuid.New(), convID, "inbound", "text", "oi", int64(1), now).
		AddRow(uuid.New(), convID, "automated", "text", "olá!", int64(2), now)
	mock.ExpectQuery(`FROM messages WHERE conversation_id = \$1`).
		WillReturnRows(rows)

	history, err := store.History(context.Background(), convID, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, int64(1), history[0].Seq)
	require.Equal(t, RoleAutomated, history[1].Role)
	require.NoError(t, mock.ExpectationsWereMet())
}
