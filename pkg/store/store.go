// Package store defines the chat data store contract and its in-memory
// implementation.
//
// The store is the source of truth for users, conversations, participation
// and messages. Implementations must be safe for concurrent use. Membership
// is never cached: every call reads current state.
//
// Backends:
//   - memory: process-local maps, for tests and single-node development
//   - sqlite / postgres: gorm-backed, see the sqlstore subpackage
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("already exists")
	ErrInvalidInput = errors.New("invalid input")
	ErrClosed       = errors.New("store is closed")
)

// User is a registered chat participant.
type User struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	Nickname  string    `json:"nickname" gorm:"uniqueIndex;size:64;not null"`
	CreatedAt time.Time `json:"createdAt"`
}

// Conversation is a named channel that users join and post to.
type Conversation struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	Name      string    `json:"name" gorm:"size:128;not null"`
	CreatedAt time.Time `json:"createdAt"`
}

// Message is a single post in a conversation.
type Message struct {
	ID             string    `json:"id" gorm:"primaryKey;size:26"`
	Body           string    `json:"body" gorm:"not null"`
	AuthorID       string    `json:"authorId" gorm:"size:36;index;not null"`
	ConversationID string    `json:"conversationId" gorm:"size:36;index;not null"`
	CreatedAt      time.Time `json:"createdAt"`
}

// UserLookup identifies a user either by ID or by nickname.
type UserLookup struct {
	ID       string
	Nickname string
}

// ByID looks a user up by identifier.
func ByID(id string) UserLookup { return UserLookup{ID: id} }

// ByNickname looks a user up by nickname.
func ByNickname(nickname string) UserLookup { return UserLookup{Nickname: nickname} }

func (l UserLookup) String() string {
	if l.ID != "" {
		return "id=" + l.ID
	}
	return "nickname=" + l.Nickname
}

// Store is the data store contract consumed by the auth, authz and chat packages.
type Store interface {
	// UserExists reports whether a user matching the lookup exists.
	UserExists(ctx context.Context, by UserLookup) (bool, error)
	// GetUser fetches a user. Returns ErrNotFound when absent.
	GetUser(ctx context.Context, by UserLookup) (*User, error)
	// CreateUser registers a nickname. Returns ErrConflict when it is taken.
	CreateUser(ctx context.Context, nickname string) (*User, error)
	// DeleteUser removes a user. Returns ErrNotFound when absent.
	DeleteUser(ctx context.Context, id string) error

	// CreateConversation creates a conversation with the creator as its first participant.
	CreateConversation(ctx context.Context, name, creatorID string) (*Conversation, error)
	// GetConversation fetches a conversation. Returns ErrNotFound when absent.
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	// GetConversationParticipants returns the participant set in join order.
	// Returns ErrNotFound when the conversation does not exist.
	GetConversationParticipants(ctx context.Context, conversationID string) ([]User, error)
	// AddParticipant connects a user to a conversation if not already connected.
	AddParticipant(ctx context.Context, conversationID, userID string) error
	// ListConversations returns the conversations a user participates in.
	ListConversations(ctx context.Context, participantID string) ([]Conversation, error)

	// CreateMessage persists a message.
	CreateMessage(ctx context.Context, authorID, conversationID, body string) (*Message, error)
	// ListMessages returns messages written by a user, oldest first.
	ListMessages(ctx context.Context, authorID string) ([]Message, error)
	// ListConversationMessages returns a conversation's messages created at or
	// after since (zero means all), oldest first.
	ListConversationMessages(ctx context.Context, conversationID string, since time.Time) ([]Message, error)

	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error
	// Close releases backend resources.
	Close() error
}

// ValidateNickname checks a nickname before it is stored.
func ValidateNickname(nickname string) error {
	if nickname == "" {
		return fmt.Errorf("%w: nickname must not be empty", ErrInvalidInput)
	}
	if len(nickname) > 64 {
		return fmt.Errorf("%w: nickname must be at most 64 bytes", ErrInvalidInput)
	}
	return nil
}

// ValidateConversationName checks a conversation name before it is stored.
func ValidateConversationName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: conversation name must not be empty", ErrInvalidInput)
	}
	if len(name) > 128 {
		return fmt.Errorf("%w: conversation name must be at most 128 bytes", ErrInvalidInput)
	}
	return nil
}

// ValidateBody checks a message body before it is stored.
func ValidateBody(body string) error {
	if body == "" {
		return fmt.Errorf("%w: message body must not be empty", ErrInvalidInput)
	}
	return nil
}
