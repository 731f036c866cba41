package graphql

import (
	"context"

	"github.com/vektah/gqlparser/v2/ast"
)

// GraphQLError represents a GraphQL error in the response format.
type GraphQLError struct {
	// Message is the error message.
	Message string `json:"message"`
	// Locations indicates where in the query the error occurred.
	Locations []GraphQLErrorLocation `json:"locations,omitempty"`
	// Path is the response field path where the error occurred.
	Path []interface{} `json:"path,omitempty"`
	// Extensions contains additional error metadata.
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

// Error implements error so resolvers can return a fully formed GraphQLError.
func (e *GraphQLError) Error() string {
	return e.Message
}

// GraphQLErrorLocation represents a location in the GraphQL query where an error occurred.
type GraphQLErrorLocation struct {
	// Line is the line number (1-indexed).
	Line int `json:"line"`
	// Column is the column number (1-indexed).
	Column int `json:"column"`
}

// GraphQLRequest represents an incoming GraphQL request.
type GraphQLRequest struct {
	// Query is the GraphQL query string.
	Query string `json:"query"`
	// OperationName is the name of the operation to execute (for multi-operation documents).
	OperationName string `json:"operationName,omitempty"`
	// Variables are the variable values for the query.
	Variables map[string]interface{} `json:"variables,omitempty"`
}

// GraphQLResponse represents a GraphQL response.
type GraphQLResponse struct {
	// Data contains the result of the query execution.
	Data interface{} `json:"data,omitempty"`
	// Errors contains any errors that occurred during execution.
	Errors []GraphQLError `json:"errors,omitempty"`
	// Extensions contains additional response metadata.
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

// FieldPath represents a path to a field in the schema (e.g., "Query.user" or "Mutation.createUser").
type FieldPath struct {
	// TypeName is the parent type name (e.g., "Query", "Mutation", "User").
	TypeName string
	// FieldName is the field name.
	FieldName string
}

// String returns the string representation of the field path.
func (fp FieldPath) String() string {
	return fp.TypeName + "." + fp.FieldName
}

// ParseFieldPath parses a field path string (e.g., "Query.user") into a FieldPath.
func ParseFieldPath(path string) FieldPath {
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			return FieldPath{
				TypeName:  path[:i],
				FieldName: path[i+1:],
			}
		}
	}
	// No dot found, treat the whole string as a field name
	return FieldPath{FieldName: path}
}

// ResolveInfo describes the field being resolved.
type ResolveInfo struct {
	// Field is the schema coordinate of the field.
	Field FieldPath
	// Path is the response path, made of field keys and list indices.
	Path []interface{}
	// Operation is the executing operation.
	Operation *ast.OperationDefinition
	// Selection is the first AST field node for this response key.
	Selection *ast.Field
}

// ResolveParams is passed to every field resolver.
type ResolveParams struct {
	Context context.Context
	// Source is the parent object value; nil for root fields unless a root
	// value was supplied.
	Source interface{}
	// Args holds coerced argument values, custom scalars already parsed.
	Args map[string]interface{}
	Info ResolveInfo
}

// FieldResolveFn resolves a single field.
type FieldResolveFn func(p ResolveParams) (interface{}, error)

// SubscribeFn opens the event source for a subscription root field.
// The returned channel is drained until it closes or the context ends.
type SubscribeFn func(p ResolveParams) (<-chan interface{}, error)

// FieldGuard is consulted before each field resolver runs. A non-nil error
// nulls the field and the resolver is not invoked.
type FieldGuard func(ctx context.Context, field FieldPath, args map[string]interface{}) error

// ErrorPresenter converts a resolver or guard error into its wire form.
// Path and Locations are filled in by the executor.
type ErrorPresenter func(ctx context.Context, err error) *GraphQLError

// ScalarCodec implements a custom scalar.
type ScalarCodec struct {
	// Serialize converts a resolved value to its output form.
	Serialize func(v interface{}) (interface{}, error)
	// ParseValue converts a variable value to its internal form.
	ParseValue func(v interface{}) (interface{}, error)
	// ParseLiteral converts an inline query literal to its internal form.
	ParseLiteral func(v *ast.Value) (interface{}, error)
}
