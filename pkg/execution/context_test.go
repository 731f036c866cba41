package execution

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/getmockd/chatd/pkg/store"
)

func TestContext_Identity(t *testing.T) {
	anon := New(nil, nil, nil, nil, nil)
	_, ok := anon.Identity()
	assert.False(t, ok)
	assert.False(t, anon.Authenticated())

	u := &store.User{ID: "u1", Nickname: "alice"}
	ec := New(nil, nil, u, nil, nil)
	got, ok := ec.Identity()
	assert.True(t, ok)
	assert.Equal(t, "alice", got.Nickname)

	// Identity is a copy.
	got.Nickname = "mallory"
	again, _ := ec.Identity()
	assert.Equal(t, "alice", again.Nickname)
}

func TestContext_NilSafe(t *testing.T) {
	var ec *Context
	_, ok := ec.Identity()
	assert.False(t, ok)
}

func TestWithContext(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))

	ec := New(nil, map[string]interface{}{"k": "v"}, nil, nil, nil)
	ctx := WithContext(context.Background(), ec)
	assert.Same(t, ec, FromContext(ctx))
}
