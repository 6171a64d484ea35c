package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a conversation cannot be located.
var ErrNotFound = errors.New("conversation: not found")

// Store persists conversations and messages to PostgreSQL.
type Store struct {
	db         *sql.DB
	transcript *TranscriptCache
}

// NewStore creates a conversation store backed by the given database.
func NewStore(db *sql.DB) *Store {
	if db == nil {
		return nil
	}
	return &Store{db: db}
}

// WithTranscript mirrors appended messages into the redis transcript cache so
// reads can skip Postgres. Cache writes are best effort.
func (s *Store) WithTranscript(cache *TranscriptCache) *Store {
	s.transcript = cache
	return s
}

// NormalizeAddress strips non-digits from a WhatsApp address so lookups are
// stable across the formats providers send ("+55 11 9...", "5511...@c.us").
func NormalizeAddress(address string) string {
	if idx := strings.IndexRune(address, '@'); idx >= 0 {
		address = address[:idx]
	}
	var digits strings.Builder
	for _, r := range address {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	return digits.String()
}

// EnsureConversation returns the conversation for the address, creating it at
// stage new on first contact.
func (s *Store) EnsureConversation(ctx context.Context, address string) (*Conversation, error) {
	address = NormalizeAddress(address)
	if address == "" {
		return nil, errors.New("conversation: address required")
	}

	conv, err := s.GetByAddress(ctx, address)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	id := uuid.New()
	now := time.Now().UTC()
	meta, err := json.Marshal(Metadata{})
	if err != nil {
		return nil, fmt.Errorf("conversation: marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, address, stage, metadata, human_takeover, created_at, updated_at)
		VALUES ($1, $2, $3, $4, false, $5, $5)
		ON CONFLICT (address) DO NOTHING
	`, id, address, string(StageNew), meta, now)
	if err != nil {
		return nil, fmt.Errorf("conversation: insert conversation: %w", err)
	}
	// Re-read so a concurrent creator's row wins over ours.
	return s.GetByAddress(ctx, address)
}

// GetByID loads one conversation.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, address, stage, metadata, human_takeover, created_at, updated_at
		FROM conversations WHERE id = $1
	`, id)
	return scanConversation(row)
}

// GetByAddress loads one conversation by its normalized external address.
func (s *Store) GetByAddress(ctx context.Context, address string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, address, stage, metadata, human_takeover, created_at, updated_at
		FROM conversations WHERE address = $1
	`, NormalizeAddress(address))
	return scanConversation(row)
}

// FindByContact resolves a conversation by address first, falling back to the
// e-mail recorded in metadata. Commerce events often carry only one of the two.
func (s *Store) FindByContact(ctx context.Context, address, email string) (*Conversation, error) {
	if NormalizeAddress(address) != "" {
		conv, err := s.GetByAddress(ctx, address)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, address, stage, metadata, human_takeover, created_at, updated_at
		FROM conversations WHERE lower(metadata->>'email') = $1
		ORDER BY updated_at DESC LIMIT 1
	`, email)
	return scanConversation(row)
}

// UpdateStage moves the conversation to the given stage.
func (s *Store) UpdateStage(ctx context.Context, id uuid.UUID, stage Stage) error {
	if !ValidStage(stage) {
		return fmt.Errorf("conversation: invalid stage %q", stage)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET stage = $2, updated_at = $3 WHERE id = $1
	`, id, string(stage), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("conversation: update stage: %w", err)
	}
	return requireRow(res)
}

// SetHumanTakeover raises or clears the automation-freeze flag.
func (s *Store) SetHumanTakeover(ctx context.Context, id uuid.UUID, takeover bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET human_takeover = $2, updated_at = $3 WHERE id = $1
	`, id, takeover, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("conversation: set human takeover: %w", err)
	}
	return requireRow(res)
}

// UpdateMetadata replaces the stored metadata bag.
func (s *Store) UpdateMetadata(ctx context.Context, id uuid.UUID, meta Metadata) error {
	payload, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("conversation: marshal metadata: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET metadata = $2, updated_at = $3 WHERE id = $1
	`, id, payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("conversation: update metadata: %w", err)
	}
	return requireRow(res)
}

// AppendMessage records a message at the conversation's next sequence number.
// Callers hold the conversation guard, so the MAX(seq)+1 read is not racy.
func (s *Store) AppendMessage(ctx context.Context, convID uuid.UUID, role Role, kind ContentKind, body string) (*Message, error) {
	msg := &Message{
		ID:             uuid.New(),
		ConversationID: convID,
		Role:           role,
		Kind:           kind,
		Body:           body,
		CreatedAt:      time.Now().UTC(),
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, kind, body, seq, created_at)
		VALUES ($1, $2, $3, $4, $5,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = $2),
			$6)
		RETURNING seq
	`, msg.ID, convID, string(role), string(kind), body, msg.CreatedAt).Scan(&msg.Seq)
	if err != nil {
		return nil, fmt.Errorf("conversation: append message: %w", err)
	}
	// Postgres is the source of truth; a failed cache write only costs the
	// fast path.
	_ = s.transcript.Append(ctx, convID, TranscriptEntry{
		ID:        msg.ID.String(),
		Role:      role,
		Kind:      kind,
		Body:      body,
		Timestamp: msg.CreatedAt,
	})
	return msg, nil
}

// History returns the most recent messages in creation order. limit <= 0
// returns the full history.
func (s *Store) History(ctx context.Context, convID uuid.UUID, limit int) ([]Message, error) {
	query := `
		SELECT id, conversation_id, role, kind, body, seq, created_at
		FROM messages WHERE conversation_id = $1
		ORDER BY seq ASC
	`
	args := []any{convID}
	if limit > 0 {
		query = `
		SELECT id, conversation_id, role, kind, body, seq, created_at
		FROM (
			SELECT id, conversation_id, role, kind, body, seq, created_at
			FROM messages WHERE conversation_id = $1
			ORDER BY seq DESC LIMIT $2
		) recent ORDER BY seq ASC
	`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("conversation: query history: %w", err)
	}
	defer rows.Close()

	var history []Message
	for rows.Next() {
		var m Message
		var role, kind string
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &kind, &m.Body, &m.Seq, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("conversation: scan message: %w", err)
		}
		m.Role = Role(role)
		m.Kind = ContentKind(kind)
		history = append(history, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversation: iterate history: %w", err)
	}
	return history, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var conv Conversation
	var stage string
	var meta []byte
	err := row.Scan(&conv.ID, &conv.Address, &stage, &meta, &conv.HumanTakeover, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("conversation: scan conversation: %w", err)
	}
	conv.Stage = Stage(stage)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &conv.Metadata); err != nil {
			return nil, fmt.Errorf("conversation: decode metadata: %w", err)
		}
	}
	return &conv, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conversation: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
