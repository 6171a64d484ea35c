package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

type queueClient interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

type queueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

type jobKind string

const jobKindProcess jobKind = "process"

// processJob carries one debounced burst to the worker. The inbound messages
// themselves are already persisted; the job only says "go".
type processJob struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	Burst          string    `json:"burst"`
}

type queuePayload struct {
	ID      string      `json:"id"`
	Kind    jobKind     `json:"kind"`
	Process *processJob `json:"process,omitempty"`
}

func encodePayload(payload queuePayload) (queuePayload, string, error) {
	if payload.ID == "" {
		payload.ID = uuid.NewString()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return queuePayload{}, "", fmt.Errorf("pipeline: failed to encode payload: %w", err)
	}

	return payload, string(body), nil
}
