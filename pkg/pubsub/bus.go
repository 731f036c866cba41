package pubsub

import (
	"context"
	"errors"

	"github.com/getmockd/chatd/pkg/store"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("pubsub: bus closed")

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 64

// Event is a message published to a conversation topic.
type Event struct {
	ConversationID string         `json:"conversationId"`
	Message        *store.Message `json:"message"`
}

// Bus publishes events to topics and manages subscriptions.
type Bus interface {
	// Publish delivers ev to every current subscriber of topic.
	Publish(ctx context.Context, topic string, ev Event) error
	// Subscribe registers interest in topic. The subscription ends when ctx
	// is cancelled or Close is called on it.
	Subscribe(ctx context.Context, topic string) (*Subscription, error)
	// Close releases the bus and ends all subscriptions.
	Close() error
}
