package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	transcriptKeyPrefix = "transcript:"
	transcriptTTL       = 30 * 24 * time.Hour
)

// TranscriptEntry is the compact message shape cached in redis. Postgres
// remains the source of truth; the cache feeds the model prompt fast path.
type TranscriptEntry struct {
	ID        string      `json:"id"`
	Role      Role        `json:"role"`
	Kind      ContentKind `json:"kind,omitempty"`
	Body      string      `json:"body"`
	Timestamp time.Time   `json:"timestamp"`
}

// TranscriptCache keeps a bounded recent-history list per conversation.
type TranscriptCache struct {
	redis       *redis.Client
	tracer      trace.Tracer
	maxMessages int64
}

// NewTranscriptCache creates a cache; returns nil when redis is not configured
// so callers can treat it as optional.
func NewTranscriptCache(redisClient *redis.Client) *TranscriptCache {
	if redisClient == nil {
		return nil
	}
	return &TranscriptCache{
		redis:       redisClient,
		tracer:      otel.Tracer("zapfunnel.internal.conversation.transcript"),
		maxMessages: 250,
	}
}

// Append pushes an entry onto the conversation's list, trimming to the cap.
func (c *TranscriptCache) Append(ctx context.Context, convID uuid.UUID, entry TranscriptEntry) error {
	if c == nil || c.redis == nil {
		return nil
	}
	if convID == uuid.Nil {
		return errors.New("conversation: transcript conversation id required")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("conversation: marshal transcript entry: %w", err)
	}

	ctx, span := c.tracer.Start(ctx, "conversation.transcript.append")
	defer span.End()

	key := transcriptKey(convID)
	pipe := c.redis.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, transcriptTTL)
	if c.maxMessages > 0 {
		pipe.LTrim(ctx, key, -c.maxMessages, -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conversation: append transcript: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, oldest first.
func (c *TranscriptCache) Recent(ctx context.Context, convID uuid.UUID, limit int64) ([]TranscriptEntry, error) {
	if c == nil || c.redis == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = c.maxMessages
	}

	ctx, span := c.tracer.Start(ctx, "conversation.transcript.recent")
	defer span.End()

	raw, err := c.redis.LRange(ctx, transcriptKey(convID), -limit, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("conversation: read transcript: %w", err)
	}
	entries := make([]TranscriptEntry, 0, len(raw))
	for _, item := range raw {
		var entry TranscriptEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func transcriptKey(convID uuid.UUID) string {
	return transcriptKeyPrefix + convID.String()
}
