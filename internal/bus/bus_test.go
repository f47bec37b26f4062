package bus

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamcore/overlay-engine/internal/events"
)

func newTestBus() *Bus {
	return New(zerolog.Nop())
}

func TestPublishDeliversInOrderPerTopic(t *testing.T) {
	b := newTestBus()
	sub := b.Subscribe(events.TopicChat)
	defer sub.Close()

	for i := 0; i < 5; i++ {
		b.Publish(events.Envelope{Topic: events.TopicChat, Type: events.TypeChatMessage, Payload: i})
	}

	for i := 0; i < 5; i++ {
		select {
		case env := <-sub.C():
			require.Equal(t, i, env.Payload)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for envelope")
		}
	}
}

func TestPublishFanOutToMultipleSubscribers(t *testing.T) {
	b := newTestBus()
	a := b.Subscribe(events.TopicFollowers)
	c := b.Subscribe(events.TopicFollowers)
	defer a.Close()
	defer c.Close()

	b.Publish(events.Envelope{Topic: events.TopicFollowers, Type: events.TypeChannelFollow})

	for _, sub := range []*Subscription{a, c} {
		select {
		case <-sub.C():
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive envelope")
		}
	}
}

func TestPublishToUnknownTopicIsNoop(t *testing.T) {
	b := newTestBus()
	assert.NotPanics(t, func() {
		b.Publish(events.Envelope{Topic: "nobody-subscribes"})
	})
}

func TestPublishDropsOnFullMailboxWithoutBlocking(t *testing.T) {
	b := newTestBus()
	sub := b.Subscribe(events.TopicChat)
	defer sub.Close()

	// Overfill the mailbox; Publish must never block the caller.
	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultMailboxSize+10; i++ {
			b.Publish(events.Envelope{Topic: events.TopicChat, Payload: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber mailbox")
	}

	assert.Greater(t, b.Drops(events.TopicChat), int64(0))
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := newTestBus()
	sub := b.Subscribe(events.TopicCheers)
	sub.Close()

	assert.NotPanics(t, func() {
		b.Publish(events.Envelope{Topic: events.TopicCheers})
	})
	assert.Equal(t, 0, b.SubscriberCount(events.TopicCheers))
}
