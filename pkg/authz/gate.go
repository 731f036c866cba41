package authz

import (
	"context"
	"errors"
	"log/slog"

	"github.com/getmockd/chatd/pkg/logging"
	"github.com/getmockd/chatd/pkg/metrics"
)

// ErrNotAuthorized is the uniform rejection for gated fields.
var ErrNotAuthorized = errors.New("not authorized")

// Table maps "Type.field" coordinates to rules.
type Table map[string]Rule

// DefaultTable returns the chat API access rules.
func DefaultTable() Table {
	return Table{
		"Query.me":                    Authenticated,
		"Query.conversation":          And(Authenticated, ConversationMember("id")),
		"Mutation.sendMessage":        And(Authenticated, ConversationMember("conversationId")),
		"Mutation.joinToConversation": Authenticated,
		"Mutation.createConversation": Authenticated,
		"Subscription.message":        And(Authenticated, ConversationMember("conversationId")),
		"User.conversations":          Authenticated,
		"User.messages":               Authenticated,
	}
}

// Gate enforces a Table.
type Gate struct {
	table  Table
	logger *slog.Logger
}

// NewGate creates a Gate over table.
func NewGate(table Table, logger *slog.Logger) *Gate {
	return &Gate{table: table, logger: logging.OrNop(logger)}
}

// Rule returns the rule for a coordinate.
func (g *Gate) Rule(typeName, fieldName string) (Rule, bool) {
	r, ok := g.table[typeName+"."+fieldName]
	return r, ok
}

// Check evaluates the rule for typeName.fieldName. Fields without a rule are
// allowed. Any failure, including a predicate error, yields ErrNotAuthorized.
func (g *Gate) Check(ctx context.Context, typeName, fieldName string, args map[string]interface{}) error {
	rule, ok := g.Rule(typeName, fieldName)
	if !ok {
		return nil
	}
	coord := typeName + "." + fieldName
	allowed, err := rule.Evaluate(ctx, args)
	if err != nil {
		g.logger.Warn("access rule failed", "field", coord, "rule", rule.String(), "error", err)
	}
	if err != nil || !allowed {
		metrics.AuthzDenied.WithLabelValues(coord).Inc()
		return ErrNotAuthorized
	}
	return nil
}
