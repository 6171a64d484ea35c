package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/zapvendas/zapfunnel/internal/conversation"
	"github.com/zapvendas/zapfunnel/pkg/logging"
)

// Publisher enqueues debounced bursts for the worker.
type Publisher struct {
	queue  queueClient
	logger *logging.Logger
}

// NewPublisher creates a publisher on top of a queue.
func NewPublisher(queue queueClient, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("pipeline: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{queue: queue, logger: logger}
}

// EnqueueProcess submits one burst for processing.
func (p *Publisher) EnqueueProcess(ctx context.Context, convID uuid.UUID, burst string) error {
	payload, body, err := encodePayload(queuePayload{
		Kind:    jobKindProcess,
		Process: &processJob{ConversationID: convID, Burst: burst},
	})
	if err != nil {
		return err
	}
	if err := p.queue.Send(ctx, body); err != nil {
		return fmt.Errorf("pipeline: enqueue process job: %w", err)
	}
	p.logger.Debug("process job enqueued", "job_id", payload.ID, "conversation_id", convID)
	return nil
}

// FireFunc adapts the publisher to the debouncer callback. Enqueue failures
// are logged, not propagated; the debouncer has nowhere to return them.
func (p *Publisher) FireFunc() conversation.FireFunc {
	return func(ctx context.Context, convID uuid.UUID, burst string) {
		if err := p.EnqueueProcess(ctx, convID, burst); err != nil {
			p.logger.Error("failed to enqueue debounced burst",
				"conversation_id", convID,
				"error", err,
			)
		}
	}
}
