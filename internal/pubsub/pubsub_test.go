package pubsub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_PublishDeliversToSubscriber(t *testing.T) {
	h := NewHub()
	ch, unsub := h.Subscribe("room1", 4)
	defer unsub()

	h.Publish("room1", Event{Type: "message_added"})

	select {
	case ev := <-ch:
		assert.Equal(t, "message_added", ev.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestHub_PublishDoesNotCrossTopics(t *testing.T) {
	h := NewHub()
	ch, unsub := h.Subscribe("room1", 4)
	defer unsub()

	h.Publish("room2", Event{Type: "message_added"})

	select {
	case <-ch:
		t.Fatal("should not receive event from a different topic")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestHub_UnsubscribeStopsDelivery(t *testing.T) {
	h := NewHub()
	ch, unsub := h.Subscribe("room1", 4)
	unsub()

	h.Publish("room1", Event{Type: "message_added"})

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after unsubscribe")
}

func TestHub_PublishNeverBlocksOnFullSubscriber(t *testing.T) {
	h := NewHub()
	_, unsub := h.Subscribe("room1", 1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			h.Publish("room1", Event{Type: "x"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber channel")
	}
}

func TestHub_SubscriberCount(t *testing.T) {
	h := NewHub()
	assert.Equal(t, 0, h.SubscriberCount("room1"))
	_, unsub1 := h.Subscribe("room1", 4)
	_, unsub2 := h.Subscribe("room1", 4)
	require.Equal(t, 2, h.SubscriberCount("room1"))
	unsub1()
	assert.Equal(t, 1, h.SubscriberCount("room1"))
	unsub2()
	assert.Equal(t, 0, h.SubscriberCount("room1"))
}
