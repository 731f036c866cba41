// Package execution carries per-operation state through resolvers and access
// rules: the resolved identity, the data store, the topic bus and the
// transport that carried the operation.
package execution

import (
	"context"
	"net/http"

	"github.com/getmockd/chatd/pkg/pubsub"
	"github.com/getmockd/chatd/pkg/store"
)

// Context is built once per GraphQL operation.
// For subscriptions it lives as long as the subscription.
type Context struct {
	// Request is the HTTP request, or the WebSocket upgrade request.
	Request *http.Request
	// Params holds connection_init parameters for WebSocket operations.
	Params map[string]interface{}

	Store store.Store
	Bus   pubsub.Bus

	identity *store.User
}

// New creates a Context. identity may be nil for anonymous callers.
func New(r *http.Request, params map[string]interface{}, identity *store.User, s store.Store, bus pubsub.Bus) *Context {
	return &Context{
		Request:  r,
		Params:   params,
		Store:    s,
		Bus:      bus,
		identity: identity,
	}
}

// Identity returns the authenticated user, if any.
func (c *Context) Identity() (store.User, bool) {
	if c == nil || c.identity == nil {
		return store.User{}, false
	}
	return *c.identity, true
}

// Authenticated reports whether the operation carries an identity.
func (c *Context) Authenticated() bool {
	_, ok := c.Identity()
	return ok
}

type ctxKey struct{}

// WithContext attaches ec to ctx.
func WithContext(ctx context.Context, ec *Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, ec)
}

// FromContext returns the Context attached to ctx, or nil.
func FromContext(ctx context.Context) *Context {
	ec, _ := ctx.Value(ctxKey{}).(*Context)
	return ec
}
