package commerce

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

func newEventStoreMock(t *testing.T) (*EventStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return newEventStoreWithExec(mock), mock
}

func TestEventStoreInsertNew(t *testing.T) {
	store, mock := newEventStoreMock(t)
	mock.ExpectExec(`INSERT INTO commerce_events`).
		WithArgs(pgxmock.AnyArg(), "hotpay", "evt-1", string(KindApproved), "",
			"", "", int64(0), "", []byte(nil), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	evt := &Event{Source: "hotpay", EventID: "evt-1", Kind: KindApproved}
	inserted, err := store.Insert(context.Background(), evt)
	require.NoError(t, err)
	require.True(t, inserted)
	require.NotEqual(t, uuid.Nil, evt.ID)
	require.False(t, evt.ReceivedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventStoreInsertDuplicateKeyReturnsFalse(t *testing.T) {
	store, mock := newEventStoreMock(t)
	mock.ExpectExec(`INSERT INTO commerce_events`).
		WithArgs(pgxmock.AnyArg(), "hotpay", "evt-1", "", "",
			"", "", int64(0), "", []byte(nil), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	inserted, err := store.Insert(context.Background(), &Event{Source: "hotpay", EventID: "evt-1"})
	require.NoError(t, err)
	require.False(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventStoreGet(t *testing.T) {
	store, mock := newEventStoreMock(t)
	now := time.Now().UTC()
	rows := pgxmock.NewRows([]string{
		"id", "source", "event_id", "kind", "raw_kind", "buyer_address",
		"buyer_email", "amount_cents", "product", "processed", "outcome_recorded", "received_at",
	}).AddRow(uuid.New(), "hotpay", "evt-1", string(KindApproved), "purchase.approved",
		"5511999998888", "maria@example.com", int64(9700), "Plano Essencial", true, true, now)
	mock.ExpectQuery(`SELECT .+ FROM commerce_events WHERE source = \$1 AND event_id = \$2`).
		WithArgs("hotpay", "evt-1").
		WillReturnRows(rows)

	evt, err := store.Get(context.Background(), "hotpay", "evt-1")
	require.NoError(t, err)
	require.Equal(t, KindApproved, evt.Kind)
	require.True(t, evt.Processed)
	require.Equal(t, int64(9700), evt.AmountCents)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventStoreGetNotFound(t *testing.T) {
	store, mock := newEventStoreMock(t)
	mock.ExpectQuery(`SELECT .+ FROM commerce_events`).
		WithArgs("hotpay", "missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.Get(context.Background(), "hotpay", "missing")
	require.ErrorIs(t, err, ErrEventNotFound)
}

func TestEventStoreClaim(t *testing.T) {
	store, mock := newEventStoreMock(t)
	mock.ExpectExec(`UPDATE commerce_events SET processed = true WHERE source = \$1 AND event_id = \$2 AND NOT processed`).
		WithArgs("hotpay", "evt-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	claimed, err := store.Claim(context.Background(), "hotpay", "evt-1")
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventStoreClaimAlreadyProcessed(t *testing.T) {
	store, mock := newEventStoreMock(t)
	mock.ExpectExec(`UPDATE commerce_events SET processed = true WHERE source = \$1 AND event_id = \$2 AND NOT processed`).
		WithArgs("hotpay", "evt-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	claimed, err := store.Claim(context.Background(), "hotpay", "evt-1")
	require.NoError(t, err)
	require.False(t, claimed)
}

func TestEventStoreRelease(t *testing.T) {
	store, mock := newEventStoreMock(t)
	mock.ExpectExec(`UPDATE commerce_events SET processed = false WHERE source = \$1 AND event_id = \$2`).
		WithArgs("hotpay", "evt-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.Release(context.Background(), "hotpay", "evt-1"))

	mock.ExpectExec(`UPDATE commerce_events SET processed = false`).
		WithArgs("hotpay", "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, store.Release(context.Background(), "hotpay", "missing"), ErrEventNotFound)
}

func TestEventStoreMarkProcessed(t *testing.T) {
	store, mock := newEventStoreMock(t)
	mock.ExpectExec(`UPDATE commerce_events SET processed = true`).
		WithArgs("hotpay", "evt-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.MarkProcessed(context.Background(), "hotpay", "evt-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventStoreMarkProcessedMissingRow(t *testing.T) {
	store, mock := newEventStoreMock(t)
	mock.ExpectExec(`UPDATE commerce_events SET processed = true`).
		WithArgs("hotpay", "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.MarkProcessed(context.Background(), "hotpay", "missing")
	require.ErrorIs(t, err, ErrEventNotFound)
}
