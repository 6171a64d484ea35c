package live

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHubDeliversToConversationSubscribers(t *testing.T) {
	h := NewHub()
	a := h.Subscribe("conv-a")
	b := h.Subscribe("conv-a")
	other := h.Subscribe("conv-b")
	defer h.Unsubscribe(a)
	defer h.Unsubscribe(b)
	defer h.Unsubscribe(other)

	h.Publish("conv-a", NewEvent("typing.start", "conv-a"))

	require.Equal(t, "typing.start", (<-a.C).Type)
	require.Equal(t, "typing.start", (<-b.C).Type)
	require.Empty(t, other.C)
}

func TestHubPublishWithoutSubscribers(t *testing.T) {
	h := NewHub()
	// Must not panic or block.
	h.Publish("nobody", NewEvent("message.created", "nobody"))
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe("conv-a")
	h.Unsubscribe(sub)

	_, open := <-sub.C
	require.False(t, open)
	require.Equal(t, 0, h.SubscriberCount("conv-a"))

	// Double unsubscribe is safe.
	h.Unsubscribe(sub)
}

func TestHubPrunesFullSubscriber(t *testing.T) {
	h := NewHub()
	slow := h.Subscribe("conv-a")
	fast := h.Subscribe("conv-a")
	defer h.Unsubscribe(fast)

	for i := 0; i <= subscriberBuffer; i++ {
		h.Publish("conv-a", NewEvent("message.created", "conv-a"))
		<-fast.C // keep this one draining
	}

	// The slow subscriber overflowed and was dropped; the draining one stays.
	require.Equal(t, 1, h.SubscriberCount("conv-a"))
	_ = slow
}

func TestHubSubscriberCount(t *testing.T) {
	h := NewHub()
	require.Equal(t, 0, h.SubscriberCount("conv-a"))
	sub := h.Subscribe("conv-a")
	require.Equal(t, 1, h.SubscriberCount("conv-a"))
	h.Unsubscribe(sub)
	require.Equal(t, 0, h.SubscriberCount("conv-a"))
}
