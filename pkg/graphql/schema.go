package graphql

import (
	"fmt"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
)

// Schema represents a parsed GraphQL schema with convenient accessors
// for types and root fields.
type Schema struct {
	ast *ast.Schema
}

// ParseSchema parses a GraphQL SDL string and returns a Schema.
func ParseSchema(sdl string) (*Schema, error) {
	return parseSource(&ast.Source{Name: "schema", Input: sdl})
}

func parseSource(src *ast.Source) (*Schema, error) {
	schema, err := gqlparser.LoadSchema(src)
	if err != nil {
		return nil, fmt.Errorf("failed to parse GraphQL schema %s: %w", src.Name, err)
	}
	return &Schema{ast: schema}, nil
}

// AST returns the underlying gqlparser AST schema.
func (s *Schema) AST() *ast.Schema {
	return s.ast
}

// GetType returns a type definition by name, or nil if not found.
func (s *Schema) GetType(name string) *ast.Definition {
	return s.ast.Types[name]
}

// GetField returns a field definition by type and field name.
func (s *Schema) GetField(typeName, fieldName string) *ast.FieldDefinition {
	def := s.ast.Types[typeName]
	if def == nil {
		return nil
	}
	return def.Fields.ForName(fieldName)
}

// HasField reports whether a "Type.field" coordinate exists.
func (s *Schema) HasField(path FieldPath) bool {
	return s.GetField(path.TypeName, path.FieldName) != nil
}

// RootType returns the root type for an operation kind, or nil.
func (s *Schema) RootType(op ast.Operation) *ast.Definition {
	switch op {
	case ast.Query:
		return s.ast.Query
	case ast.Mutation:
		return s.ast.Mutation
	case ast.Subscription:
		return s.ast.Subscription
	}
	return nil
}
