package graphql

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"

	"github.com/vektah/gqlparser/v2/ast"
)

// CodeBadUserInput is the extensions.code of argument coercion failures.
const CodeBadUserInput = "BAD_USER_INPUT"

// coerceArguments builds the argument map for a field, applying defaults and
// custom scalar parsing.
func (e *Executor) coerceArguments(def *ast.FieldDefinition, field *ast.Field, vars map[string]interface{}) (map[string]interface{}, error) {
	args := make(map[string]interface{}, len(def.Arguments))
	for _, argDef := range def.Arguments {
		var (
			value   interface{}
			present bool
			err     error
		)
		arg := field.Arguments.ForName(argDef.Name)
		switch {
		case arg != nil && arg.Value.Kind == ast.Variable:
			var raw interface{}
			raw, present = vars[arg.Value.Raw]
			if present {
				value, err = e.coerceInput(argDef.Type, raw)
			} else if argDef.DefaultValue != nil {
				value, err = e.coerceLiteral(argDef.Type, argDef.DefaultValue, nil)
				present = true
			}
		case arg != nil:
			value, err = e.coerceLiteral(argDef.Type, arg.Value, vars)
			present = true
		case argDef.DefaultValue != nil:
			value, err = e.coerceLiteral(argDef.Type, argDef.DefaultValue, nil)
			present = true
		}
		if err != nil {
			return nil, &GraphQLError{
				Message:    fmt.Sprintf("argument %q: %v", argDef.Name, err),
				Extensions: map[string]interface{}{"code": CodeBadUserInput},
			}
		}
		if present {
			args[argDef.Name] = value
		}
	}
	return args, nil
}

// coerceLiteral converts an inline AST value.
func (e *Executor) coerceLiteral(typ *ast.Type, v *ast.Value, vars map[string]interface{}) (interface{}, error) {
	if v == nil || v.Kind == ast.NullValue {
		return nil, nil
	}
	if v.Kind == ast.Variable {
		return e.coerceInput(typ, vars[v.Raw])
	}

	if typ.Elem != nil {
		if v.Kind != ast.ListValue {
			item, err := e.coerceLiteral(typ.Elem, v, vars)
			if err != nil {
				return nil, err
			}
			return []interface{}{item}, nil
		}
		out := make([]interface{}, len(v.Children))
		for i, child := range v.Children {
			item, err := e.coerceLiteral(typ.Elem, child.Value, vars)
			if err != nil {
				return nil, err
			}
			out[i] = item
		}
		return out, nil
	}

	if codec, ok := e.scalars[typ.NamedType]; ok && codec.ParseLiteral != nil {
		return codec.ParseLiteral(v)
	}

	if def := e.schema.GetType(typ.NamedType); def != nil && def.Kind == ast.InputObject && v.Kind == ast.ObjectValue {
		obj := make(map[string]interface{}, len(v.Children))
		for _, child := range v.Children {
			fieldDef := def.Fields.ForName(child.Name)
			if fieldDef == nil {
				continue
			}
			val, err := e.coerceLiteral(fieldDef.Type, child.Value, vars)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", child.Name, err)
			}
			obj[child.Name] = val
		}
		for _, fieldDef := range def.Fields {
			if _, ok := obj[fieldDef.Name]; !ok && fieldDef.DefaultValue != nil {
				val, err := e.coerceLiteral(fieldDef.Type, fieldDef.DefaultValue, nil)
				if err != nil {
					return nil, err
				}
				obj[fieldDef.Name] = val
			}
		}
		return obj, nil
	}

	return v.Value(vars)
}

// coerceInput converts a variable value.
func (e *Executor) coerceInput(typ *ast.Type, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}

	if typ.Elem != nil {
		list, ok := v.([]interface{})
		if !ok {
			item, err := e.coerceInput(typ.Elem, v)
			if err != nil {
				return nil, err
			}
			return []interface{}{item}, nil
		}
		out := make([]interface{}, len(list))
		for i, item := range list {
			c, err := e.coerceInput(typ.Elem, item)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	}

	if codec, ok := e.scalars[typ.NamedType]; ok && codec.ParseValue != nil {
		return codec.ParseValue(v)
	}

	switch typ.NamedType {
	case "Int":
		return toInt64(v)
	case "Float":
		return toFloat64(v)
	}

	if def := e.schema.GetType(typ.NamedType); def != nil && def.Kind == ast.InputObject {
		m, ok := v.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("expected an object for %s", def.Name)
		}
		obj := make(map[string]interface{}, len(m))
		for _, fieldDef := range def.Fields {
			raw, ok := m[fieldDef.Name]
			if !ok {
				if fieldDef.DefaultValue != nil {
					val, err := e.coerceLiteral(fieldDef.Type, fieldDef.DefaultValue, nil)
					if err != nil {
						return nil, err
					}
					obj[fieldDef.Name] = val
				}
				continue
			}
			val, err := e.coerceInput(fieldDef.Type, raw)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", fieldDef.Name, err)
			}
			obj[fieldDef.Name] = val
		}
		return obj, nil
	}

	return v, nil
}

// serializeLeaf renders a scalar or enum value for output.
func (e *Executor) serializeLeaf(def *ast.Definition, v interface{}) (interface{}, error) {
	if codec, ok := e.scalars[def.Name]; ok && codec.Serialize != nil {
		return codec.Serialize(v)
	}

	if def.Kind == ast.Enum {
		s, err := toString(v)
		if err != nil {
			return nil, err
		}
		if def.EnumValues.ForName(s) == nil {
			return nil, fmt.Errorf("%q is not a value of enum %s", s, def.Name)
		}
		return s, nil
	}

	switch def.Name {
	case "Int":
		n, err := toInt64(v)
		if err != nil {
			return nil, err
		}
		if n > math.MaxInt32 || n < math.MinInt32 {
			return nil, fmt.Errorf("Int cannot represent non 32-bit signed integer value: %d", n)
		}
		return n, nil
	case "Float":
		return toFloat64(v)
	case "String", "ID":
		return toString(v)
	case "Boolean":
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("Boolean cannot represent %T", v)
		}
		return b, nil
	}

	// Custom scalar without a codec.
	return v, nil
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case json.Number:
		return n.Int64()
	case string:
		return 0, fmt.Errorf("Int cannot represent string %q", n)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return 0, fmt.Errorf("Int cannot represent %d", u)
		}
		return int64(u), nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if f != math.Trunc(f) || math.IsInf(f, 0) {
			return 0, fmt.Errorf("Int cannot represent non-integer value %v", f)
		}
		return int64(f), nil
	}
	return 0, fmt.Errorf("Int cannot represent %T", v)
}

func toFloat64(v interface{}) (float64, error) {
	if n, ok := v.(json.Number); ok {
		return n.Float64()
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	}
	return 0, fmt.Errorf("Float cannot represent %T", v)
}

func toString(v interface{}) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case fmt.Stringer:
		return s.String(), nil
	case bool:
		return strconv.FormatBool(s), nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), nil
	}
	return "", fmt.Errorf("String cannot represent %T", v)
}
