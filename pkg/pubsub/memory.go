package pubsub

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/getmockd/chatd/pkg/metrics"
)

// Subscription is a live registration on a topic.
type Subscription struct {
	topic  string
	id     uint64
	ch     chan Event
	done   chan struct{}
	bus    *MemoryBus
	once   sync.Once
	closed bool // guarded by bus.mu
}

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string { return s.topic }

// Events returns the delivery channel. It is closed when the subscription ends.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close ends the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() { s.bus.remove(s) })
}

// MemoryBus is an in-process Bus.
type MemoryBus struct {
	mu     sync.Mutex
	topics map[string]map[uint64]*Subscription
	nextID uint64
	buffer int
	closed bool
}

// NewMemoryBus creates a MemoryBus. A buffer below one uses DefaultBuffer.
func NewMemoryBus(buffer int) *MemoryBus {
	if buffer < 1 {
		buffer = DefaultBuffer
	}
	return &MemoryBus{
		topics: make(map[string]map[uint64]*Subscription),
		buffer: buffer,
	}
}

// Subscribe implements Bus.
func (b *MemoryBus) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.nextID++
	sub := &Subscription{
		topic: topic,
		id:    b.nextID,
		ch:    make(chan Event, b.buffer),
		done:  make(chan struct{}),
		bus:   b,
	}
	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[uint64]*Subscription)
		b.topics[topic] = subs
	}
	subs[sub.id] = sub
	b.mu.Unlock()
	metrics.PubSubSubscribers.Inc()

	if done := ctx.Done(); done != nil {
		go func() {
			select {
			case <-done:
				sub.Close()
			case <-sub.done:
			}
		}()
	}
	return sub, nil
}

// Publish implements Bus. It never blocks on slow subscribers.
func (b *MemoryBus) Publish(_ context.Context, topic string, ev Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	metrics.PubSubPublished.Inc()

	for _, sub := range b.topics[topic] {
		for {
			select {
			case sub.ch <- ev:
				metrics.PubSubDelivered.Inc()
			default:
				select {
				case <-sub.ch:
					metrics.PubSubDropped.Inc()
				default:
				}
				continue
			}
			break
		}
	}
	return nil
}

// Subscribers returns the number of live subscriptions on topic.
func (b *MemoryBus) Subscribers(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[topic])
}

// deliver decodes a broker payload and publishes it locally. Topics with no
// local subscriber are skipped without decoding.
func (b *MemoryBus) deliver(topic string, data []byte) error {
	if b.Subscribers(topic) == 0 {
		return nil
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	return b.Publish(context.Background(), topic, ev)
}

// Close implements Bus.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for topic, subs := range b.topics {
		for _, sub := range subs {
			b.closeLocked(sub)
		}
		delete(b.topics, topic)
	}
	return nil
}

func (b *MemoryBus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.topics[sub.topic]; ok {
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(b.topics, sub.topic)
		}
	}
	b.closeLocked(sub)
}

func (b *MemoryBus) closeLocked(sub *Subscription) {
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.done)
	close(sub.ch)
	metrics.PubSubSubscribers.Dec()
}
