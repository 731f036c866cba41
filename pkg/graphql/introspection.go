package graphql

import (
	"sort"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
)

// Introspection values. The executor walks them like any other result;
// fields that need the schema are served by the resolvers registered in
// registerIntrospection, the rest are read from struct tags.

type introSchema struct {
	schema *ast.Schema
}

// introType is a named type, or a LIST / NON_NULL wrapper around of.
type introType struct {
	schema *ast.Schema
	kind   string
	def    *ast.Definition
	of     *ast.Type
}

type introField struct {
	Name              string             `json:"name"`
	Description       interface{}        `json:"description"`
	Args              []*introInputValue `json:"args"`
	Type              *introType         `json:"type"`
	IsDeprecated      bool               `json:"isDeprecated"`
	DeprecationReason interface{}        `json:"deprecationReason"`
}

type introInputValue struct {
	Name              string      `json:"name"`
	Description       interface{} `json:"description"`
	Type              *introType  `json:"type"`
	DefaultValue      interface{} `json:"defaultValue"`
	IsDeprecated      bool        `json:"isDeprecated"`
	DeprecationReason interface{} `json:"deprecationReason"`
}

type introEnumValue struct {
	Name              string      `json:"name"`
	Description       interface{} `json:"description"`
	IsDeprecated      bool        `json:"isDeprecated"`
	DeprecationReason interface{} `json:"deprecationReason"`
}

type introDirective struct {
	Name         string             `json:"name"`
	Description  interface{}        `json:"description"`
	IsRepeatable bool               `json:"isRepeatable"`
	Locations    []string           `json:"locations"`
	Args         []*introInputValue `json:"args"`
}

// registerIntrospection serves __schema and __type from the executor's schema.
func (e *Executor) registerIntrospection() {
	s := e.schema.AST()
	if s.Query == nil || s.Types["__Schema"] == nil {
		return
	}

	e.resolvers[s.Query.Name+".__schema"] = func(ResolveParams) (interface{}, error) {
		return &introSchema{schema: s}, nil
	}
	e.resolvers[s.Query.Name+".__type"] = func(p ResolveParams) (interface{}, error) {
		name, _ := p.Args["name"].(string)
		if def := s.Types[name]; def != nil {
			return namedType(s, def), nil
		}
		return nil, nil
	}

	schemaField := func(fn func(*introSchema) interface{}) FieldResolveFn {
		return func(p ResolveParams) (interface{}, error) {
			return fn(p.Source.(*introSchema)), nil
		}
	}
	e.resolvers["__Schema.types"] = schemaField(func(is *introSchema) interface{} {
		names := make([]string, 0, len(is.schema.Types))
		for name := range is.schema.Types {
			names = append(names, name)
		}
		sort.Strings(names)
		out := make([]*introType, len(names))
		for i, name := range names {
			out[i] = namedType(is.schema, is.schema.Types[name])
		}
		return out
	})
	e.resolvers["__Schema.queryType"] = schemaField(func(is *introSchema) interface{} {
		return namedType(is.schema, is.schema.Query)
	})
	e.resolvers["__Schema.mutationType"] = schemaField(func(is *introSchema) interface{} {
		return namedType(is.schema, is.schema.Mutation)
	})
	e.resolvers["__Schema.subscriptionType"] = schemaField(func(is *introSchema) interface{} {
		return namedType(is.schema, is.schema.Subscription)
	})
	e.resolvers["__Schema.directives"] = schemaField(func(is *introSchema) interface{} {
		names := make([]string, 0, len(is.schema.Directives))
		for name := range is.schema.Directives {
			names = append(names, name)
		}
		sort.Strings(names)
		out := make([]*introDirective, len(names))
		for i, name := range names {
			out[i] = directiveOf(is.schema, is.schema.Directives[name])
		}
		return out
	})

	typeField := func(fn func(t *introType, args map[string]interface{}) interface{}) FieldResolveFn {
		return func(p ResolveParams) (interface{}, error) {
			return fn(p.Source.(*introType), p.Args), nil
		}
	}
	e.resolvers["__Type.kind"] = typeField(func(t *introType, _ map[string]interface{}) interface{} {
		return t.kind
	})
	e.resolvers["__Type.name"] = typeField(func(t *introType, _ map[string]interface{}) interface{} {
		if t.def == nil {
			return nil
		}
		return t.def.Name
	})
	e.resolvers["__Type.description"] = typeField(func(t *introType, _ map[string]interface{}) interface{} {
		if t.def == nil {
			return nil
		}
		return optional(t.def.Description)
	})
	e.resolvers["__Type.specifiedByURL"] = typeField(func(t *introType, _ map[string]interface{}) interface{} {
		if t.def == nil || t.def.Kind != ast.Scalar {
			return nil
		}
		if d := t.def.Directives.ForName("specifiedBy"); d != nil {
			if arg := d.Arguments.ForName("url"); arg != nil && arg.Value != nil {
				return arg.Value.Raw
			}
		}
		return nil
	})
	e.resolvers["__Type.fields"] = typeField(func(t *introType, args map[string]interface{}) interface{} {
		if t.def == nil || (t.def.Kind != ast.Object && t.def.Kind != ast.Interface) {
			return nil
		}
		include, _ := args["includeDeprecated"].(bool)
		out := make([]*introField, 0, len(t.def.Fields))
		for _, f := range t.def.Fields {
			if strings.HasPrefix(f.Name, "__") {
				continue
			}
			deprecated, reason := deprecation(f.Directives)
			if deprecated && !include {
				continue
			}
			out = append(out, &introField{
				Name:              f.Name,
				Description:       optional(f.Description),
				Args:              inputValues(t.schema, f.Arguments),
				Type:              typeOf(t.schema, f.Type),
				IsDeprecated:      deprecated,
				DeprecationReason: reason,
			})
		}
		return out
	})
	e.resolvers["__Type.interfaces"] = typeField(func(t *introType, _ map[string]interface{}) interface{} {
		if t.def == nil || (t.def.Kind != ast.Object && t.def.Kind != ast.Interface) {
			return nil
		}
		out := make([]*introType, 0, len(t.def.Interfaces))
		for _, name := range t.def.Interfaces {
			if def := t.schema.Types[name]; def != nil {
				out = append(out, namedType(t.schema, def))
			}
		}
		return out
	})
	e.resolvers["__Type.possibleTypes"] = typeField(func(t *introType, _ map[string]interface{}) interface{} {
		if t.def == nil || (t.def.Kind != ast.Interface && t.def.Kind != ast.Union) {
			return nil
		}
		possible := t.schema.GetPossibleTypes(t.def)
		out := make([]*introType, len(possible))
		for i, def := range possible {
			out[i] = namedType(t.schema, def)
		}
		return out
	})
	e.resolvers["__Type.enumValues"] = typeField(func(t *introType, args map[string]interface{}) interface{} {
		if t.def == nil || t.def.Kind != ast.Enum {
			return nil
		}
		include, _ := args["includeDeprecated"].(bool)
		out := make([]*introEnumValue, 0, len(t.def.EnumValues))
		for _, v := range t.def.EnumValues {
			deprecated, reason := deprecation(v.Directives)
			if deprecated && !include {
				continue
			}
			out = append(out, &introEnumValue{
				Name:              v.Name,
				Description:       optional(v.Description),
				IsDeprecated:      deprecated,
				DeprecationReason: reason,
			})
		}
		return out
	})
	e.resolvers["__Type.inputFields"] = typeField(func(t *introType, args map[string]interface{}) interface{} {
		if t.def == nil || t.def.Kind != ast.InputObject {
			return nil
		}
		include, _ := args["includeDeprecated"].(bool)
		var list ast.ArgumentDefinitionList
		for _, f := range t.def.Fields {
			list = append(list, &ast.ArgumentDefinition{
				Name:         f.Name,
				Description:  f.Description,
				DefaultValue: f.DefaultValue,
				Type:         f.Type,
				Directives:   f.Directives,
			})
		}
		return filterDeprecated(inputValues(t.schema, list), include)
	})
	e.resolvers["__Type.ofType"] = typeField(func(t *introType, _ map[string]interface{}) interface{} {
		if t.of == nil {
			return nil
		}
		return typeOf(t.schema, t.of)
	})
	e.resolvers["__Type.isOneOf"] = typeField(func(t *introType, _ map[string]interface{}) interface{} {
		if t.def == nil || t.def.Kind != ast.InputObject {
			return nil
		}
		return t.def.Directives.ForName("oneOf") != nil
	})

	e.resolvers["__Field.args"] = func(p ResolveParams) (interface{}, error) {
		include, _ := p.Args["includeDeprecated"].(bool)
		return filterDeprecated(p.Source.(*introField).Args, include), nil
	}
	e.resolvers["__Directive.args"] = func(p ResolveParams) (interface{}, error) {
		include, _ := p.Args["includeDeprecated"].(bool)
		return filterDeprecated(p.Source.(*introDirective).Args, include), nil
	}
}

func namedType(s *ast.Schema, def *ast.Definition) *introType {
	if def == nil {
		return nil
	}
	return &introType{schema: s, kind: typeKind(def), def: def}
}

// typeOf unwraps t one level at a time, NON_NULL outermost.
func typeOf(s *ast.Schema, t *ast.Type) *introType {
	if t.NonNull {
		inner := *t
		inner.NonNull = false
		return &introType{schema: s, kind: "NON_NULL", of: &inner}
	}
	if t.Elem != nil {
		return &introType{schema: s, kind: "LIST", of: t.Elem}
	}
	if def := s.Types[t.NamedType]; def != nil {
		return namedType(s, def)
	}
	return &introType{schema: s, kind: "SCALAR", def: &ast.Definition{Kind: ast.Scalar, Name: t.NamedType}}
}

// typeKind returns the GraphQL type kind string.
func typeKind(def *ast.Definition) string {
	switch def.Kind {
	case ast.Scalar:
		return "SCALAR"
	case ast.Interface:
		return "INTERFACE"
	case ast.Union:
		return "UNION"
	case ast.Enum:
		return "ENUM"
	case ast.InputObject:
		return "INPUT_OBJECT"
	default:
		return "OBJECT"
	}
}

func inputValues(s *ast.Schema, args ast.ArgumentDefinitionList) []*introInputValue {
	out := make([]*introInputValue, len(args))
	for i, a := range args {
		deprecated, reason := deprecation(a.Directives)
		v := &introInputValue{
			Name:              a.Name,
			Description:       optional(a.Description),
			Type:              typeOf(s, a.Type),
			IsDeprecated:      deprecated,
			DeprecationReason: reason,
		}
		if a.DefaultValue != nil {
			v.DefaultValue = a.DefaultValue.String()
		}
		out[i] = v
	}
	return out
}

func filterDeprecated(values []*introInputValue, include bool) []*introInputValue {
	if include {
		return values
	}
	out := make([]*introInputValue, 0, len(values))
	for _, v := range values {
		if !v.IsDeprecated {
			out = append(out, v)
		}
	}
	return out
}

func directiveOf(s *ast.Schema, d *ast.DirectiveDefinition) *introDirective {
	locations := make([]string, len(d.Locations))
	for i, loc := range d.Locations {
		locations[i] = string(loc)
	}
	return &introDirective{
		Name:         d.Name,
		Description:  optional(d.Description),
		IsRepeatable: d.IsRepeatable,
		Locations:    locations,
		Args:         inputValues(s, d.Arguments),
	}
}

// deprecation reports whether @deprecated is present and its reason.
func deprecation(directives ast.DirectiveList) (bool, interface{}) {
	d := directives.ForName("deprecated")
	if d == nil {
		return false, nil
	}
	if arg := d.Arguments.ForName("reason"); arg != nil && arg.Value != nil {
		return true, arg.Value.Raw
	}
	return true, "No longer supported"
}

func optional(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
