package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/getmockd/chatd/pkg/logging"
	"github.com/getmockd/chatd/pkg/store"
)

// UserStore is the subset of the data store the Resolver needs.
type UserStore interface {
	UserExists(ctx context.Context, by store.UserLookup) (bool, error)
	GetUser(ctx context.Context, by store.UserLookup) (*store.User, error)
}

// Verifier validates a bearer token.
type Verifier interface {
	Verify(token string) (Subject, error)
}

// Resolver resolves a credential source to a user.
type Resolver struct {
	verifier Verifier
	users    UserStore
	logger   *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(verifier Verifier, users UserStore, logger *slog.Logger) *Resolver {
	return &Resolver{
		verifier: verifier,
		users:    users,
		logger:   logging.OrNop(logger),
	}
}

// Resolve returns the user identified by src's Authorization value.
// The boolean is false when the source carries no usable credential or the
// user no longer exists. Each call performs at most one existence check and
// one fetch; nothing is cached between calls.
func (r *Resolver) Resolve(ctx context.Context, src CredentialSource) (store.User, bool) {
	if src == nil {
		return store.User{}, false
	}
	raw := src.Header(AuthorizationHeader)
	if raw == "" {
		return store.User{}, false
	}

	sub, err := r.verifier.Verify(BearerToken(raw))
	if err != nil {
		r.logger.Debug("credential rejected", "error", err)
		return store.User{}, false
	}

	exists, err := r.users.UserExists(ctx, store.ByID(sub.ID))
	if err != nil {
		r.logger.Warn("identity lookup failed", "user", sub.ID, "error", err)
		return store.User{}, false
	}
	if !exists {
		r.logger.Debug("credential subject no longer exists", "user", sub.ID)
		return store.User{}, false
	}

	u, err := r.users.GetUser(ctx, store.ByID(sub.ID))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			r.logger.Warn("identity fetch failed", "user", sub.ID, "error", err)
		}
		return store.User{}, false
	}
	return *u, true
}
