package graphql

import (
	"bytes"
	"encoding/json"
)

// object is a response object that marshals its keys in selection order.
type object struct {
	keys   []string
	values map[string]interface{}
}

func newObject(size int) *object {
	return &object{keys: make([]string, 0, size), values: make(map[string]interface{}, size)}
}

func (o *object) set(key string, value interface{}) {
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = value
}

// MarshalJSON writes keys in the order they were set.
func (o *object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := json.Marshal(o.values[key])
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
