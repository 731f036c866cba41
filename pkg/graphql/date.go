package graphql

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/vektah/gqlparser/v2/ast"
)

// DateScalar encodes instants as Unix epoch milliseconds.
//
// Output values that are already strings are passed through untouched.
// Variables accept epoch milliseconds or RFC 3339 strings; anything else is
// handed to the resolver as given. Inline literals must be integers; other
// literal kinds parse to nil.
var DateScalar = ScalarCodec{
	Serialize:    serializeDate,
	ParseValue:   parseDateValue,
	ParseLiteral: parseDateLiteral,
}

func serializeDate(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case time.Time:
		return t.UnixMilli(), nil
	case *time.Time:
		if t == nil {
			return nil, nil
		}
		return t.UnixMilli(), nil
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case int64:
		return t, nil
	case float64:
		if t != float64(int64(t)) {
			return nil, fmt.Errorf("Date cannot represent non-integer value %v", t)
		}
		return int64(t), nil
	}
	return nil, fmt.Errorf("Date cannot represent %T", v)
}

func parseDateValue(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case float64:
		return time.UnixMilli(int64(t)).UTC(), nil
	case int:
		return time.UnixMilli(int64(t)).UTC(), nil
	case int64:
		return time.UnixMilli(t).UTC(), nil
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return nil, fmt.Errorf("Date cannot represent %q", t.String())
		}
		return time.UnixMilli(n).UTC(), nil
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return ts.UTC(), nil
		}
	}
	return v, nil
}

func parseDateLiteral(v *ast.Value) (interface{}, error) {
	if v == nil || v.Kind != ast.IntValue {
		return nil, nil
	}
	n, err := strconv.ParseInt(v.Raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("Date cannot represent %s", v.Raw)
	}
	return time.UnixMilli(n).UTC(), nil
}

// AsTime extracts a time from a parsed Date argument. ok is false when the
// client supplied a value that is not an instant.
func AsTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t != nil {
			return *t, true
		}
	}
	return time.Time{}, false
}
