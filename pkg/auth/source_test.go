package auth

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeaderSource(t *testing.T) {
	h := http.Header{}
	h.Set("authorization", "Bearer abc")
	assert.Equal(t, "Bearer abc", HeaderSource(h).Header(AuthorizationHeader))
	assert.Empty(t, HeaderSource(h).Header("X-Other"))
}

func TestConnectionParams(t *testing.T) {
	tests := []struct {
		name   string
		params ConnectionParams
		want   string
	}{
		{"exact", ConnectionParams{"Authorization": "t1"}, "t1"},
		{"lowercase", ConnectionParams{"authorization": "t2"}, "t2"},
		{"nested headers", ConnectionParams{"headers": map[string]interface{}{"Authorization": "t3"}}, "t3"},
		{"non-string", ConnectionParams{"Authorization": 42}, ""},
		{"absent", ConnectionParams{}, ""},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.params.Header(AuthorizationHeader))
		})
	}
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "abc", BearerToken("abc"))
	assert.Equal(t, "abc", BearerToken("  Bearer abc "))
	assert.Equal(t, "", BearerToken(""))
}
