package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/chatd/pkg/store"
)

func event(conv, id string) Event {
	return Event{ConversationID: conv, Message: &store.Message{ID: id, ConversationID: conv, Body: "body " + id}}
}

func recv(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func assertNoEvent(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBus_Delivers(t *testing.T) {
	bus := NewMemoryBus(0)
	defer bus.Close()
	ctx := context.Background()

	a, err := bus.Subscribe(ctx, "c1")
	require.NoError(t, err)
	b, err := bus.Subscribe(ctx, "c1")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "c1", event("c1", "m1")))
	assert.Equal(t, "m1", recv(t, a).Message.ID)
	assert.Equal(t, "m1", recv(t, b).Message.ID)
}

func TestMemoryBus_TopicIsolation(t *testing.T) {
	bus := NewMemoryBus(0)
	defer bus.Close()
	ctx := context.Background()

	c1, err := bus.Subscribe(ctx, "c1")
	require.NoError(t, err)
	c2, err := bus.Subscribe(ctx, "c2")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "c2", event("c2", "m1")))
	assert.Equal(t, "c2", recv(t, c2).ConversationID)
	assertNoEvent(t, c1)
}

func TestMemoryBus_PublishWithoutSubscribers(t *testing.T) {
	bus := NewMemoryBus(0)
	defer bus.Close()
	assert.NoError(t, bus.Publish(context.Background(), "nobody", event("nobody", "m1")))
}

func TestMemoryBus_NoReplay(t *testing.T) {
	bus := NewMemoryBus(0)
	defer bus.Close()
	ctx := context.Background()

	require.NoError(t, bus.Publish(ctx, "c1", event("c1", "early")))
	sub, err := bus.Subscribe(ctx, "c1")
	require.NoError(t, err)
	assertNoEvent(t, sub)
}

func TestMemoryBus_Ordering(t *testing.T) {
	bus := NewMemoryBus(128)
	defer bus.Close()
	ctx := context.Background()

	sub, err := bus.Subscribe(ctx, "c1")
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		require.NoError(t, bus.Publish(ctx, "c1", event("c1", fmt.Sprint(i))))
	}
	for i := 0; i < 100; i++ {
		assert.Equal(t, fmt.Sprint(i), recv(t, sub).Message.ID)
	}
}

func TestMemoryBus_DropsOldestWhenFull(t *testing.T) {
	bus := NewMemoryBus(2)
	defer bus.Close()
	ctx := context.Background()

	sub, err := bus.Subscribe(ctx, "c1")
	require.NoError(t, err)
	for _, id := range []string{"1", "2", "3", "4"} {
		require.NoError(t, bus.Publish(ctx, "c1", event("c1", id)))
	}
	assert.Equal(t, "3", recv(t, sub).Message.ID)
	assert.Equal(t, "4", recv(t, sub).Message.ID)
	assertNoEvent(t, sub)
}

func TestMemoryBus_Unsubscribe(t *testing.T) {
	bus := NewMemoryBus(0)
	defer bus.Close()
	ctx := context.Background()

	sub, err := bus.Subscribe(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, bus.Subscribers("c1"))

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, bus.Subscribers("c1"))

	_, ok := <-sub.Events()
	assert.False(t, ok)
	require.NoError(t, bus.Publish(ctx, "c1", event("c1", "m1")))
}

func TestMemoryBus_ContextCancelUnsubscribes(t *testing.T) {
	bus := NewMemoryBus(0)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := bus.Subscribe(ctx, "c1")
	require.NoError(t, err)

	cancel()
	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed after cancel")
	}
	assert.Equal(t, 0, bus.Subscribers("c1"))
}

func TestMemoryBus_SubscribeCancelledContext(t *testing.T) {
	bus := NewMemoryBus(0)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := bus.Subscribe(ctx, "c1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryBus_Close(t *testing.T) {
	bus := NewMemoryBus(0)
	ctx := context.Background()

	sub, err := bus.Subscribe(ctx, "c1")
	require.NoError(t, err)
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	_, ok := <-sub.Events()
	assert.False(t, ok)
	sub.Close()

	assert.ErrorIs(t, bus.Publish(ctx, "c1", event("c1", "m1")), ErrClosed)
	_, err = bus.Subscribe(ctx, "c1")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemoryBus_Concurrent(t *testing.T) {
	bus := NewMemoryBus(1024)
	defer bus.Close()
	ctx := context.Background()

	const subscribers, publishers, perPublisher = 8, 4, 50
	subs := make([]*Subscription, subscribers)
	for i := range subs {
		var err error
		subs[i], err = bus.Subscribe(ctx, "c1")
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perPublisher; i++ {
				_ = bus.Publish(ctx, "c1", event("c1", fmt.Sprintf("%d-%d", p, i)))
			}
		}(p)
	}
	// Churn unrelated subscriptions while publishing.
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := bus.Subscribe(ctx, "c1")
			if err == nil {
				s.Close()
			}
		}()
	}
	wg.Wait()

	for _, s := range subs {
		assert.Len(t, s.Events(), publishers*perPublisher)
	}
}

func TestMemoryBus_DeliverFromBroker(t *testing.T) {
	bus := NewMemoryBus(0)
	defer bus.Close()

	// No local subscriber: the payload is not even decoded.
	require.NoError(t, bus.deliver("c1", []byte("{not json")))

	sub, err := bus.Subscribe(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, bus.Subscribers("c1"))
	assert.Error(t, bus.deliver("c1", []byte("{not json")))

	data, err := json.Marshal(event("c1", "m1"))
	require.NoError(t, err)
	require.NoError(t, bus.deliver("c1", data))
	assert.Equal(t, "m1", recv(t, sub).Message.ID)
	assertNoEvent(t, sub)
}
