// Package graphql executes GraphQL operations against Go resolvers.
//
// Documents are parsed and validated with gqlparser. Execution follows the
// GraphQL specification closely enough for the chat API: fields are
// collected across fragments, @skip and @include are honoured, arguments are
// coerced (custom scalars through their ScalarCodec), and a resolver error or
// a null in a non-null position nulls the nearest nullable ancestor.
// Response objects keep selection order when marshalled, and __schema and
// __type are answered from the loaded schema.
//
// Every field passes through an optional FieldGuard before its resolver runs,
// which is where access rules plug in:
//
//	guard := func(ctx context.Context, f graphql.FieldPath, args map[string]interface{}) error {
//	    return gate.Check(ctx, f.TypeName, f.FieldName, args)
//	}
//	exec := graphql.NewExecutor(schema, graphql.WithGuard(guard))
//	exec.Scalar("Date", graphql.DateScalar)
//	exec.Resolve("Query.me", func(p graphql.ResolveParams) (interface{}, error) {
//	    ...
//	})
//	exec.Stream("Subscription.message", func(p graphql.ResolveParams) (<-chan interface{}, error) {
//	    ...
//	})
//
// Prepare parses a request once so callers can inspect the selected
// operation before running it with ExecuteOperation or SubscribeOperation.
//
// Handler serves queries and mutations over HTTP. SubscriptionHandler serves
// all operation kinds over WebSocket using either the graphql-transport-ws
// protocol or the legacy subscriptions-transport-ws (graphql-ws) protocol.
// Both call an OperationContextFunc so the caller can attach per-operation
// state such as the authenticated identity.
package graphql
