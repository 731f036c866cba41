package chat

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/getmockd/chatd/pkg/auth"
	"github.com/getmockd/chatd/pkg/authz"
	"github.com/getmockd/chatd/pkg/execution"
	"github.com/getmockd/chatd/pkg/graphql"
	"github.com/getmockd/chatd/pkg/logging"
	"github.com/getmockd/chatd/pkg/pubsub"
	"github.com/getmockd/chatd/pkg/store"
)

// SchemaSDL is the chat API schema.
//
//go:embed schema.graphql
var SchemaSDL string

// Options configures a Service.
type Options struct {
	Store       store.Store
	Bus         pubsub.Bus
	Credentials *auth.Credentials
	// Table overrides the access rules. Nil uses authz.DefaultTable.
	Table  authz.Table
	Logger *slog.Logger
}

// Service serves the chat API.
type Service struct {
	store      store.Store
	bus        pubsub.Bus
	creds      *auth.Credentials
	identities *auth.Resolver
	gate       *authz.Gate
	executor   *graphql.Executor
	logger     *slog.Logger
}

// New creates a Service and registers its resolvers.
func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("chat: store is required")
	}
	if opts.Bus == nil {
		return nil, errors.New("chat: bus is required")
	}
	if opts.Credentials == nil {
		return nil, errors.New("chat: credentials are required")
	}
	table := opts.Table
	if table == nil {
		table = authz.DefaultTable()
	}

	schema, err := graphql.ParseSchema(SchemaSDL)
	if err != nil {
		return nil, fmt.Errorf("chat: %w", err)
	}

	logger := logging.OrNop(opts.Logger)
	s := &Service{
		store:      opts.Store,
		bus:        opts.Bus,
		creds:      opts.Credentials,
		identities: auth.NewResolver(opts.Credentials, opts.Store, logger),
		gate:       authz.NewGate(table, logger),
		logger:     logger,
	}
	s.executor = graphql.NewExecutor(schema,
		graphql.WithGuard(s.guard),
		graphql.WithErrorPresenter(s.presentError),
		graphql.WithLogger(logger),
	)
	s.executor.Scalar("Date", graphql.DateScalar)
	s.register()
	return s, nil
}

// Executor returns the executor serving the chat schema.
func (s *Service) Executor() *graphql.Executor {
	return s.executor
}

// OperationContext resolves the caller for one operation and attaches the
// execution context. WebSocket operations read the credential from the
// connection_init payload, HTTP operations from the request headers.
func (s *Service) OperationContext(ctx context.Context, t graphql.Transport) context.Context {
	var src auth.CredentialSource
	switch {
	case t.InitPayload != nil:
		src = auth.ConnectionParams(t.InitPayload)
	case t.Request != nil:
		src = auth.HeaderSource(t.Request.Header)
	}

	var identity *store.User
	logger := logging.FromContext(ctx, s.logger)
	if u, ok := s.identities.Resolve(ctx, src); ok {
		identity = &u
		logger = logger.With("user", u.ID)
	}

	ec := execution.New(t.Request, t.InitPayload, identity, s.store, s.bus)
	ctx = execution.WithContext(ctx, ec)
	return logging.WithLogger(ctx, logger)
}

func (s *Service) guard(ctx context.Context, f graphql.FieldPath, args map[string]interface{}) error {
	return s.gate.Check(ctx, f.TypeName, f.FieldName, args)
}
