package commerce

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrEventNotFound is returned when no row exists for (source, event id).
var ErrEventNotFound = errors.New("commerce: event not found")

// Event is one externally-sourced commerce event. (Source, EventID) is the
// idempotency key: at most one row per pair is ever acted upon.
type Event struct {
	ID              uuid.UUID
	Source          string
	EventID         string
	Kind            EventKind
	RawKind         string
	BuyerAddress    string
	BuyerEmail      string
	AmountCents     int64
	Product         string
	Raw             []byte
	Processed       bool
	OutcomeRecorded bool
	ReceivedAt      time.Time
}

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// EventStore records commerce events in PostgreSQL. The UNIQUE constraint on
// (source, event_id) backs the idempotency check, so dedup stays correct
// under concurrent duplicate deliveries.
type EventStore struct {
	pool rowQuerier
}

// NewEventStore creates an event store on a pgx pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	if pool == nil {
		panic("commerce: pgx pool required")
	}
	return &EventStore{pool: pool}
}

func newEventStoreWithExec(exec rowQuerier) *EventStore {
	if exec == nil {
		panic("commerce: exec required")
	}
	return &EventStore{pool: exec}
}

// Insert persists the event row, returning false when the (source, event_id)
// pair already exists. The row is written even for event kinds that are
// never acted upon, for audit.
func (s *EventStore) Insert(ctx context.Context, evt *Event) (bool, error) {
	if evt.ID == uuid.Nil {
		evt.ID = uuid.New()
	}
	if evt.ReceivedAt.IsZero() {
		evt.ReceivedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO commerce_events
			(id, source, event_id, kind, raw_kind, buyer_address, buyer_email, amount_cents, product, raw, processed, outcome_recorded, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, false, false, $11)
		ON CONFLICT (source, event_id) DO NOTHING
	`
	ct, err := s.pool.Exec(ctx, query,
		evt.ID, evt.Source, evt.EventID, string(evt.Kind), evt.RawKind,
		evt.BuyerAddress, evt.BuyerEmail, evt.AmountCents, evt.Product,
		evt.Raw, evt.ReceivedAt,
	)
	if err != nil {
		return false, fmt.Errorf("commerce: insert event: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// Get loads one event by its idempotency key.
func (s *EventStore) Get(ctx context.Context, source, eventID string) (*Event, error) {
	query := `
		SELECT id, source, event_id, kind, raw_kind, buyer_address, buyer_email, amount_cents, product, processed, outcome_recorded, received_at
		FROM commerce_events WHERE source = $1 AND event_id = $2
	`
	var evt Event
	var kind string
	err := s.pool.QueryRow(ctx, query, source, eventID).Scan(
		&evt.ID, &evt.Source, &evt.EventID, &kind, &evt.RawKind,
		&evt.BuyerAddress, &evt.BuyerEmail, &evt.AmountCents, &evt.Product,
		&evt.Processed, &evt.OutcomeRecorded, &evt.ReceivedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("commerce: get event: %w", err)
	}
	evt.Kind = EventKind(kind)
	return &evt, nil
}

// Claim atomically flips an unprocessed event to processed and reports
// whether this caller won. Concurrent duplicate deliveries race on this
// UPDATE instead of in application code, so at most one of them ever runs
// the side effects.
func (s *EventStore) Claim(ctx context.Context, source, eventID string) (bool, error) {
	query := `UPDATE commerce_events SET processed = true WHERE source = $1 AND event_id = $2 AND NOT processed`
	ct, err := s.pool.Exec(ctx, query, source, eventID)
	if err != nil {
		return false, fmt.Errorf("commerce: claim event: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// Release reopens a claimed event whose side effects failed, so a retried
// delivery can claim it again and complete them.
func (s *EventStore) Release(ctx context.Context, source, eventID string) error {
	query := `UPDATE commerce_events SET processed = false WHERE source = $1 AND event_id = $2`
	ct, err := s.pool.Exec(ctx, query, source, eventID)
	if err != nil {
		return fmt.Errorf("commerce: release event: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrEventNotFound
	}
	return nil
}

// MarkProcessed flags the event as acted upon; duplicates of a processed
// event are recorded but never re-executed.
func (s *EventStore) MarkProcessed(ctx context.Context, source, eventID string) error {
	query := `UPDATE commerce_events SET processed = true WHERE source = $1 AND event_id = $2`
	ct, err := s.pool.Exec(ctx, query, source, eventID)
	if err != nil {
		return fmt.Errorf("commerce: mark processed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrEventNotFound
	}
	return nil
}

// MarkOutcomeRecorded flags that the post-purchase action was handed to the
// dispatcher. Set only after that handoff succeeds; a failed dispatch leaves
// the event re-attemptable.
func (s *EventStore) MarkOutcomeRecorded(ctx context.Context, source, eventID string) error {
	query := `UPDATE commerce_events SET outcome_recorded = true WHERE source = $1 AND event_id = $2`
	ct, err := s.pool.Exec(ctx, query, source, eventID)
	if err != nil {
		return fmt.Errorf("commerce: mark outcome recorded: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrEventNotFound
	}
	return nil
}
