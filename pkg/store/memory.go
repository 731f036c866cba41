package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/getmockd/chatd/internal/id"
)

// Interface compliance check
var _ Store = (*MemoryStore)(nil)

// MemoryStore is a thread-safe in-memory implementation of Store.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[string]*User
	nicknames     map[string]string
	conversations map[string]*Conversation
	participants  map[string][]string
	messages      []*Message
	closed        bool
	now           func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]*User),
		nicknames:     make(map[string]string),
		conversations: make(map[string]*Conversation),
		participants:  make(map[string][]string),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) lookup(by UserLookup) *User {
	if by.ID != "" {
		return s.users[by.ID]
	}
	if uid, ok := s.nicknames[by.Nickname]; ok {
		return s.users[uid]
	}
	return nil
}

// UserExists reports whether a matching user exists.
func (s *MemoryStore) UserExists(_ context.Context, by UserLookup) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, ErrClosed
	}
	return s.lookup(by) != nil, nil
}

// GetUser returns a copy of the matching user.
func (s *MemoryStore) GetUser(_ context.Context, by UserLookup) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	u := s.lookup(by)
	if u == nil {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// CreateUser registers a new nickname.
func (s *MemoryStore) CreateUser(_ context.Context, nickname string) (*User, error) {
	if err := ValidateNickname(nickname); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if _, taken := s.nicknames[nickname]; taken {
		return nil, ErrConflict
	}
	u := &User{ID: id.UUID(), Nickname: nickname, CreatedAt: s.now()}
	s.users[u.ID] = u
	s.nicknames[nickname] = u.ID
	cp := *u
	return &cp, nil
}

// DeleteUser removes a user and their conversation memberships.
// Messages they wrote are kept.
func (s *MemoryStore) DeleteUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	delete(s.users, userID)
	delete(s.nicknames, u.Nickname)
	for cid, members := range s.participants {
		s.participants[cid] = removeString(members, userID)
	}
	return nil
}

// CreateConversation creates a conversation and adds the creator.
func (s *MemoryStore) CreateConversation(_ context.Context, name, creatorID string) (*Conversation, error) {
	if err := ValidateConversationName(name); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if _, ok := s.users[creatorID]; !ok {
		return nil, ErrNotFound
	}
	c := &Conversation{ID: id.UUID(), Name: name, CreatedAt: s.now()}
	s.conversations[c.ID] = c
	s.participants[c.ID] = []string{creatorID}
	cp := *c
	return &cp, nil
}

// GetConversation returns a copy of the conversation.
func (s *MemoryStore) GetConversation(_ context.Context, conversationID string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	c, ok := s.conversations[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// GetConversationParticipants returns participants in join order.
func (s *MemoryStore) GetConversationParticipants(_ context.Context, conversationID string) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	if _, ok := s.conversations[conversationID]; !ok {
		return nil, ErrNotFound
	}
	members := s.participants[conversationID]
	result := make([]User, 0, len(members))
	for _, uid := range members {
		if u, ok := s.users[uid]; ok {
			result = append(result, *u)
		}
	}
	return result, nil
}

// AddParticipant connects a user to a conversation. Connecting an existing
// participant is a no-op.
func (s *MemoryStore) AddParticipant(_ context.Context, conversationID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.conversations[conversationID]; !ok {
		return ErrNotFound
	}
	if _, ok := s.users[userID]; !ok {
		return ErrNotFound
	}
	for _, uid := range s.participants[conversationID] {
		if uid == userID {
			return nil
		}
	}
	s.participants[conversationID] = append(s.participants[conversationID], userID)
	return nil
}

// ListConversations returns the user's conversations ordered by creation time.
func (s *MemoryStore) ListConversations(_ context.Context, participantID string) ([]Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	result := make([]Conversation, 0)
	for cid, members := range s.participants {
		for _, uid := range members {
			if uid == participantID {
				result = append(result, *s.conversations[cid])
				break
			}
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// CreateMessage stores a message.
func (s *MemoryStore) CreateMessage(_ context.Context, authorID, conversationID, body string) (*Message, error) {
	if err := ValidateBody(body); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if _, ok := s.users[authorID]; !ok {
		return nil, ErrNotFound
	}
	if _, ok := s.conversations[conversationID]; !ok {
		return nil, ErrNotFound
	}
	now := s.now()
	m := &Message{
		ID:             id.ULIDAt(now),
		Body:           body,
		AuthorID:       authorID,
		ConversationID: conversationID,
		CreatedAt:      now,
	}
	s.messages = append(s.messages, m)
	cp := *m
	return &cp, nil
}

// ListMessages returns the author's messages, oldest first.
func (s *MemoryStore) ListMessages(_ context.Context, authorID string) ([]Message, error) {
	return s.filterMessages(func(m *Message) bool { return m.AuthorID == authorID })
}

// ListConversationMessages returns the conversation's messages since the given time, oldest first.
func (s *MemoryStore) ListConversationMessages(_ context.Context, conversationID string, since time.Time) ([]Message, error) {
	return s.filterMessages(func(m *Message) bool {
		return m.ConversationID == conversationID && !m.CreatedAt.Before(since)
	})
}

func (s *MemoryStore) filterMessages(keep func(*Message) bool) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	result := make([]Message, 0)
	for _, m := range s.messages {
		if keep(m) {
			result = append(result, *m)
		}
	}
	return result, nil
}

// Ping always succeeds on an open store.
func (s *MemoryStore) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Close marks the store closed; later calls fail with ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func removeString(list []string, v string) []string {
	out := list[:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}
