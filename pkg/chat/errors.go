package chat

import (
	"context"
	"errors"

	"github.com/getmockd/chatd/pkg/authz"
	"github.com/getmockd/chatd/pkg/graphql"
	"github.com/getmockd/chatd/pkg/logging"
	"github.com/getmockd/chatd/pkg/store"
)

// Error codes set in extensions.code.
const (
	CodeUnauthorized = "UNAUTHORIZED"
	CodeNotFound     = "NOT_FOUND"
	CodeConflict     = "CONFLICT"
	CodeBadUserInput = graphql.CodeBadUserInput
	CodeInternal     = "INTERNAL"
)

func coded(message, code string) *graphql.GraphQLError {
	return &graphql.GraphQLError{
		Message:    message,
		Extensions: map[string]interface{}{"code": code},
	}
}

// presentError maps resolver and guard errors to their wire form. Errors
// outside the known taxonomy are logged and reported as internal.
func (s *Service) presentError(ctx context.Context, err error) *graphql.GraphQLError {
	var gqlErr *graphql.GraphQLError
	switch {
	case errors.As(err, &gqlErr):
		return gqlErr
	case errors.Is(err, authz.ErrNotAuthorized):
		return coded(authz.ErrNotAuthorized.Error(), CodeUnauthorized)
	case errors.Is(err, store.ErrNotFound):
		return coded(err.Error(), CodeNotFound)
	case errors.Is(err, store.ErrConflict):
		return coded(err.Error(), CodeConflict)
	case errors.Is(err, store.ErrInvalidInput):
		return coded(err.Error(), CodeBadUserInput)
	}

	logging.FromContext(ctx, s.logger).Error("resolver failed", "error", err)
	return coded("internal error", CodeInternal)
}
