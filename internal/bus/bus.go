// Package bus implements the in-process, topic-based publish/subscribe
// primitive (L1) that every actor in the core is wired through. It is
// deliberately not a broker: no durability, no backpressure to the
// publisher beyond logging a drop when a subscriber's mailbox is full.
package bus

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/streamcore/overlay-engine/internal/events"
)

// defaultMailboxSize bounds a subscriber's inbox. A slow subscriber drops
// the oldest-pressure message (the newest publish) rather than stalling
// the publisher, matching the teacher's WorkerPool "drop instead of
// exploding goroutines" policy in worker_pool.go.
const defaultMailboxSize = 256

// Subscription is a handle returned by Subscribe. Call Close to unsubscribe.
type Subscription struct {
	topic string
	id    uint64
	ch    chan events.Envelope
	bus   *Bus
}

// C returns the channel to range over for delivered envelopes.
func (s *Subscription) C() <-chan events.Envelope { return s.ch }

// Close unsubscribes and closes the delivery channel. Idempotent.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s.topic, s.id)
}

type subscriber struct {
	id uint64
	ch chan events.Envelope
}

// Bus is the in-process fan-out hub. Zero value is not usable; use New.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]subscriber
	nextID      uint64
	logger      zerolog.Logger

	dropsMu sync.Mutex
	drops   map[string]int64
}

// New constructs an empty Bus.
func New(logger zerolog.Logger) *Bus {
	return &Bus{
		subscribers: make(map[string][]subscriber),
		logger:      logger.With().Str("component", "bus").Logger(),
		drops:       make(map[string]int64),
	}
}

// Subscribe registers mailbox-size-bounded delivery for topic. Multiple
// subscriptions to the same topic are independent; each gets every publish.
func (b *Bus) Subscribe(topic string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	ch := make(chan events.Envelope, defaultMailboxSize)
	b.subscribers[topic] = append(b.subscribers[topic], subscriber{id: id, ch: ch})

	return &Subscription{topic: topic, id: id, ch: ch, bus: b}
}

func (b *Bus) unsubscribe(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[topic]
	for i, s := range subs {
		if s.id == id {
			close(s.ch)
			b.subscribers[topic] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Publish fans env out to every subscriber of env.Topic in registration
// order. Delivery to each subscriber's mailbox is best-effort: a full
// mailbox means a slow subscriber, so the message is dropped for that
// subscriber only and logged, never blocking the publisher and never
// affecting delivery to other subscribers. Publishing to a topic with no
// subscribers is a silent no-op (no_such_topic is not an error here; there
// is nothing to notify).
func (b *Bus) Publish(env events.Envelope) {
	// The read lock is held across the send loop: unsubscribe closes a
	// subscriber's channel under the write lock, so a send here can never hit
	// a closed channel. Sends never block, so holding the lock cannot stall.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.subscribers[env.Topic] {
		select {
		case s.ch <- env:
		default:
			b.recordDrop(env.Topic)
			b.logger.Warn().
				Str("topic", env.Topic).
				Str("type", string(env.Type)).
				Msg("subscriber mailbox full, dropping envelope")
		}
	}
}

func (b *Bus) recordDrop(topic string) {
	b.dropsMu.Lock()
	b.drops[topic]++
	b.dropsMu.Unlock()
}

// Drops returns the number of envelopes dropped for topic due to a full
// subscriber mailbox. Exposed for metrics/tests.
func (b *Bus) Drops(topic string) int64 {
	b.dropsMu.Lock()
	defer b.dropsMu.Unlock()
	return b.drops[topic]
}

// SubscriberCount returns the number of live subscriptions for topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}
