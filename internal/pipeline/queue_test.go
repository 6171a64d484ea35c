package pipeline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueueSendReceive(t *testing.T) {
	q := NewMemoryQueue(4)
	ctx := context.Background()

	require.NoError(t, q.Send(ctx, "one"))
	require.NoError(t, q.Send(ctx, "two"))

	msgs, err := q.Receive(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "one", msgs[0].Body)
	require.Equal(t, "two", msgs[1].Body)
	require.NotEmpty(t, msgs[0].ReceiptHandle)
}

func TestMemoryQueueReceiveBatchCap(t *testing.T) {
	q := NewMemoryQueue(8)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Send(ctx, "job"))
	}

	msgs, err := q.Receive(ctx, 3, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
}

func TestMemoryQueueReceiveWaitExpires(t *testing.T) {
	q := NewMemoryQueue(1)

	start := time.Now()
	msgs, err := q.Receive(context.Background(), 1, 1)
	require.NoError(t, err)
	require.Empty(t, msgs)
	require.GreaterOrEqual(t, time.Since(start), time.Second)
}

func TestMemoryQueueReceiveHonorsContext(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Receive(ctx, 1, 0)
	require.ErrorIs(t, err, context.Canceled)
}

func TestEncodePayloadAssignsID(t *testing.T) {
	convID := uuid.New()
	payload, body, err := encodePayload(queuePayload{
		Kind:    jobKindProcess,
		Process: &processJob{ConversationID: convID, Burst: "oi"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, payload.ID)

	var decoded queuePayload
	require.NoError(t, json.Unmarshal([]byte(body), &decoded))
	require.Equal(t, payload.ID, decoded.ID)
	require.Equal(t, jobKindProcess, decoded.Kind)
	require.Equal(t, convID, decoded.Process.ConversationID)
	require.Equal(t, "oi", decoded.Process.Burst)
}
