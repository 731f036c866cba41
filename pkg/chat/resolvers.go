package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/getmockd/chatd/pkg/auth"
	"github.com/getmockd/chatd/pkg/authz"
	"github.com/getmockd/chatd/pkg/execution"
	"github.com/getmockd/chatd/pkg/graphql"
	"github.com/getmockd/chatd/pkg/logging"
	"github.com/getmockd/chatd/pkg/pubsub"
	"github.com/getmockd/chatd/pkg/store"
)

// AuthPayload is the result of signin.
type AuthPayload struct {
	User  *store.User `json:"user"`
	Token string      `json:"token"`
}

func (s *Service) register() {
	e := s.executor

	e.Resolve("Query.me", s.me)
	e.Resolve("Query.conversation", s.conversation)

	e.Resolve("Mutation.signin", s.signin)
	e.Resolve("Mutation.createConversation", s.createConversation)
	e.Resolve("Mutation.joinToConversation", s.joinToConversation)
	e.Resolve("Mutation.sendMessage", s.sendMessage)

	e.Stream("Subscription.message", s.messageStream)

	e.Resolve("User.conversations", s.userConversations)
	e.Resolve("User.messages", s.userMessages)
	e.Resolve("Conversation.participants", s.conversationParticipants)
	e.Resolve("Conversation.messages", s.conversationMessages)
	e.Resolve("Message.author", s.messageAuthor)
	e.Resolve("Message.conversation", s.messageConversation)
}

// operation returns the execution context of the running operation.
func operation(ctx context.Context) (*execution.Context, error) {
	ec := execution.FromContext(ctx)
	if ec == nil || ec.Store == nil {
		return nil, authz.ErrNoExecutionContext
	}
	return ec, nil
}

// caller returns the execution context and the authenticated user.
// Gated fields never reach a resolver anonymously; the check here covers
// tables that leave a field open.
func caller(ctx context.Context) (*execution.Context, store.User, error) {
	ec, err := operation(ctx)
	if err != nil {
		return nil, store.User{}, err
	}
	u, ok := ec.Identity()
	if !ok {
		return nil, store.User{}, authz.ErrNotAuthorized
	}
	return ec, u, nil
}

func stringArg(args map[string]interface{}, name string) string {
	v, _ := args[name].(string)
	return v
}

// Queries

func (s *Service) me(p graphql.ResolveParams) (interface{}, error) {
	ec, err := operation(p.Context)
	if err != nil {
		return nil, err
	}
	u, ok := ec.Identity()
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *Service) conversation(p graphql.ResolveParams) (interface{}, error) {
	ec, err := operation(p.Context)
	if err != nil {
		return nil, err
	}
	conv, err := ec.Store.GetConversation(p.Context, stringArg(p.Args, "id"))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return conv, err
}

// Mutations

// signin finds the user by nickname, creating it on first use, and issues a
// credential for it.
func (s *Service) signin(p graphql.ResolveParams) (interface{}, error) {
	ec, err := operation(p.Context)
	if err != nil {
		return nil, err
	}
	nickname := stringArg(p.Args, "nickname")
	if err := store.ValidateNickname(nickname); err != nil {
		return nil, err
	}

	u, err := ec.Store.GetUser(p.Context, store.ByNickname(nickname))
	if errors.Is(err, store.ErrNotFound) {
		u, err = ec.Store.CreateUser(p.Context, nickname)
		if errors.Is(err, store.ErrConflict) {
			// Lost a race with a concurrent signin for the same nickname.
			u, err = ec.Store.GetUser(p.Context, store.ByNickname(nickname))
		} else if err == nil {
			logging.FromContext(p.Context, s.logger).Info("user created", "user", u.ID, "nickname", u.Nickname)
		}
	}
	if err != nil {
		return nil, err
	}

	token, err := s.creds.Issue(auth.Subject{ID: u.ID, Nickname: u.Nickname})
	if err != nil {
		return nil, fmt.Errorf("issue credential: %w", err)
	}
	return &AuthPayload{User: u, Token: token}, nil
}

func (s *Service) createConversation(p graphql.ResolveParams) (interface{}, error) {
	ec, u, err := caller(p.Context)
	if err != nil {
		return nil, err
	}
	conv, err := ec.Store.CreateConversation(p.Context, stringArg(p.Args, "name"), u.ID)
	if err != nil {
		return nil, err
	}
	logging.FromContext(p.Context, s.logger).Info("conversation created", "conversation", conv.ID)
	return conv, nil
}

// joinToConversation adds the caller to the conversation unless already a
// participant. Both paths return the conversation.
func (s *Service) joinToConversation(p graphql.ResolveParams) (interface{}, error) {
	ec, u, err := caller(p.Context)
	if err != nil {
		return nil, err
	}
	convID := stringArg(p.Args, "conversationId")

	conv, err := ec.Store.GetConversation(p.Context, convID)
	if err != nil {
		return nil, err
	}
	member, err := authz.IsMember(p.Context, ec.Store, u.ID, convID)
	if err != nil {
		return nil, err
	}
	if member {
		return conv, nil
	}
	// AddParticipant is connect-if-absent, so a concurrent join between the
	// check and the write is harmless.
	if err := ec.Store.AddParticipant(p.Context, convID, u.ID); err != nil {
		return nil, err
	}
	return conv, nil
}

// sendMessage stores the message, then publishes it to the conversation
// topic. A failed publish is logged; the stored message is still returned.
func (s *Service) sendMessage(p graphql.ResolveParams) (interface{}, error) {
	ec, u, err := caller(p.Context)
	if err != nil {
		return nil, err
	}
	convID := stringArg(p.Args, "conversationId")

	msg, err := ec.Store.CreateMessage(p.Context, u.ID, convID, stringArg(p.Args, "body"))
	if err != nil {
		return nil, err
	}

	if ec.Bus != nil {
		ev := pubsub.Event{ConversationID: convID, Message: msg}
		if err := ec.Bus.Publish(p.Context, convID, ev); err != nil {
			logging.FromContext(p.Context, s.logger).Warn("publish failed",
				"conversation", convID, "message", msg.ID, "error", err)
		}
	}
	return msg, nil
}

// Subscriptions

// messageStream subscribes to the conversation topic. The stream ends when
// the operation context is cancelled or the bus closes.
func (s *Service) messageStream(p graphql.ResolveParams) (<-chan interface{}, error) {
	ec, err := operation(p.Context)
	if err != nil {
		return nil, err
	}
	if ec.Bus == nil {
		return nil, errors.New("chat: no topic bus")
	}
	convID := stringArg(p.Args, "conversationId")

	sub, err := ec.Bus.Subscribe(p.Context, convID)
	if err != nil {
		return nil, err
	}
	logger := logging.FromContext(p.Context, s.logger)
	logger.Debug("message subscription started", "conversation", convID)

	out := make(chan interface{})
	go func() {
		defer close(out)
		defer sub.Close()
		for {
			select {
			case <-p.Context.Done():
				logger.Debug("message subscription ended", "conversation", convID)
				return
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				if ev.Message == nil {
					continue
				}
				select {
				case out <- ev.Message:
				case <-p.Context.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Nested fields

func asUser(source interface{}) (*store.User, error) {
	switch u := source.(type) {
	case *store.User:
		return u, nil
	case store.User:
		return &u, nil
	}
	return nil, fmt.Errorf("chat: unexpected User source %T", source)
}

func asConversation(source interface{}) (*store.Conversation, error) {
	switch c := source.(type) {
	case *store.Conversation:
		return c, nil
	case store.Conversation:
		return &c, nil
	}
	return nil, fmt.Errorf("chat: unexpected Conversation source %T", source)
}

func asMessage(source interface{}) (*store.Message, error) {
	switch m := source.(type) {
	case *store.Message:
		return m, nil
	case store.Message:
		return &m, nil
	}
	return nil, fmt.Errorf("chat: unexpected Message source %T", source)
}

func (s *Service) userConversations(p graphql.ResolveParams) (interface{}, error) {
	ec, err := operation(p.Context)
	if err != nil {
		return nil, err
	}
	u, err := asUser(p.Source)
	if err != nil {
		return nil, err
	}
	return ec.Store.ListConversations(p.Context, u.ID)
}

func (s *Service) userMessages(p graphql.ResolveParams) (interface{}, error) {
	ec, err := operation(p.Context)
	if err != nil {
		return nil, err
	}
	u, err := asUser(p.Source)
	if err != nil {
		return nil, err
	}
	return ec.Store.ListMessages(p.Context, u.ID)
}

func (s *Service) conversationParticipants(p graphql.ResolveParams) (interface{}, error) {
	ec, err := operation(p.Context)
	if err != nil {
		return nil, err
	}
	c, err := asConversation(p.Source)
	if err != nil {
		return nil, err
	}
	return ec.Store.GetConversationParticipants(p.Context, c.ID)
}

func (s *Service) conversationMessages(p graphql.ResolveParams) (interface{}, error) {
	ec, err := operation(p.Context)
	if err != nil {
		return nil, err
	}
	c, err := asConversation(p.Source)
	if err != nil {
		return nil, err
	}

	var since time.Time
	if raw, ok := p.Args["since"]; ok && raw != nil {
		t, ok := graphql.AsTime(raw)
		if !ok {
			return nil, fmt.Errorf("%w: since must be epoch milliseconds or an RFC 3339 time", store.ErrInvalidInput)
		}
		since = t
	}
	return ec.Store.ListConversationMessages(p.Context, c.ID, since)
}

func (s *Service) messageAuthor(p graphql.ResolveParams) (interface{}, error) {
	ec, err := operation(p.Context)
	if err != nil {
		return nil, err
	}
	m, err := asMessage(p.Source)
	if err != nil {
		return nil, err
	}
	return ec.Store.GetUser(p.Context, store.ByID(m.AuthorID))
}

func (s *Service) messageConversation(p graphql.ResolveParams) (interface{}, error) {
	ec, err := operation(p.Context)
	if err != nil {
		return nil, err
	}
	m, err := asMessage(p.Source)
	if err != nil {
		return nil, err
	}
	return ec.Store.GetConversation(p.Context, m.ConversationID)
}
