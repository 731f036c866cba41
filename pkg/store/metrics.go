package store

import (
	"context"
	"time"

	"github.com/getmockd/chatd/pkg/metrics"
)

// WithMetrics returns a Store that records StoreLatency for every operation.
func WithMetrics(inner Store) Store {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner Store
}

func observe(op string, start time.Time) {
	metrics.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *metricsStore) UserExists(ctx context.Context, by UserLookup) (bool, error) {
	defer observe("user_exists", time.Now())
	return m.inner.UserExists(ctx, by)
}

func (m *metricsStore) GetUser(ctx context.Context, by UserLookup) (*User, error) {
	defer observe("get_user", time.Now())
	return m.inner.GetUser(ctx, by)
}

func (m *metricsStore) CreateUser(ctx context.Context, nickname string) (*User, error) {
	defer observe("create_user", time.Now())
	return m.inner.CreateUser(ctx, nickname)
}

func (m *metricsStore) DeleteUser(ctx context.Context, id string) error {
	defer observe("delete_user", time.Now())
	return m.inner.DeleteUser(ctx, id)
}

func (m *metricsStore) CreateConversation(ctx context.Context, name, creatorID string) (*Conversation, error) {
	defer observe("create_conversation", time.Now())
	return m.inner.CreateConversation(ctx, name, creatorID)
}

func (m *metricsStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	defer observe("get_conversation", time.Now())
	return m.inner.GetConversation(ctx, id)
}

func (m *metricsStore) GetConversationParticipants(ctx context.Context, conversationID string) ([]User, error) {
	defer observe("get_participants", time.Now())
	return m.inner.GetConversationParticipants(ctx, conversationID)
}

func (m *metricsStore) AddParticipant(ctx context.Context, conversationID, userID string) error {
	defer observe("add_participant", time.Now())
	return m.inner.AddParticipant(ctx, conversationID, userID)
}

func (m *metricsStore) ListConversations(ctx context.Context, participantID string) ([]Conversation, error) {
	defer observe("list_conversations", time.Now())
	return m.inner.ListConversations(ctx, participantID)
}

func (m *metricsStore) CreateMessage(ctx context.Context, authorID, conversationID, body string) (*Message, error) {
	defer observe("create_message", time.Now())
	return m.inner.CreateMessage(ctx, authorID, conversationID, body)
}

func (m *metricsStore) ListMessages(ctx context.Context, authorID string) ([]Message, error) {
	defer observe("list_messages", time.Now())
	return m.inner.ListMessages(ctx, authorID)
}

func (m *metricsStore) ListConversationMessages(ctx context.Context, conversationID string, since time.Time) ([]Message, error) {
	defer observe("list_conversation_messages", time.Now())
	return m.inner.ListConversationMessages(ctx, conversationID, since)
}

func (m *metricsStore) Ping(ctx context.Context) error {
	return m.inner.Ping(ctx)
}

func (m *metricsStore) Close() error {
	return m.inner.Close()
}
