// Package chat binds the chat GraphQL schema to the data store and the topic
// bus.
//
// A Service owns the executor. Every operation runs under a context built by
// OperationContext, which resolves the caller once from the Authorization
// header (HTTP) or the connection_init payload (WebSocket) and attaches an
// execution.Context. Field access is gated by an authz.Gate before any
// resolver runs.
//
// Usage:
//
//	svc, err := chat.New(chat.Options{
//		Store:       st,
//		Bus:         bus,
//		Credentials: auth.NewCredentials(secret, 720*time.Hour),
//		Logger:      logger,
//	})
//	http.Handle("/graphql", graphql.NewHandler(svc.Executor(), svc.OperationContext, logger))
package chat
