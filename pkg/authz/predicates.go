package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/getmockd/chatd/pkg/execution"
	"github.com/getmockd/chatd/pkg/store"
)

// ErrNoExecutionContext is returned by predicates run outside an operation.
var ErrNoExecutionContext = errors.New("authz: no execution context")

// ParticipantLister is the store subset membership checks need.
type ParticipantLister interface {
	GetConversationParticipants(ctx context.Context, conversationID string) ([]store.User, error)
}

// Authenticated passes when the operation carries an identity.
var Authenticated = Atomic("Authenticated", func(ctx context.Context, _ map[string]interface{}) (bool, error) {
	return execution.FromContext(ctx).Authenticated(), nil
})

// ConversationMember passes when the caller participates in the conversation
// named by the argName argument.
func ConversationMember(argName string) Rule {
	return Atomic("ConversationMember("+argName+")", func(ctx context.Context, args map[string]interface{}) (bool, error) {
		ec := execution.FromContext(ctx)
		if ec == nil || ec.Store == nil {
			return false, ErrNoExecutionContext
		}
		user, ok := ec.Identity()
		if !ok {
			return false, nil
		}
		convID, ok := args[argName].(string)
		if !ok || convID == "" {
			return false, fmt.Errorf("authz: argument %q missing", argName)
		}
		return IsMember(ctx, ec.Store, user.ID, convID)
	})
}

// IsMember reports whether userID participates in convID.
// Participants are fetched on every call. An unknown conversation has no
// members.
func IsMember(ctx context.Context, lister ParticipantLister, userID, convID string) (bool, error) {
	participants, err := lister.GetConversationParticipants(ctx, convID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	for _, p := range participants {
		if p.ID == userID {
			return true, nil
		}
	}
	return false, nil
}
