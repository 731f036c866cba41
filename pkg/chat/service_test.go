package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/chatd/pkg/auth"
	"github.com/getmockd/chatd/pkg/graphql"
	"github.com/getmockd/chatd/pkg/pubsub"
	"github.com/getmockd/chatd/pkg/store"
)

const testSecret = "chat-test-secret-0123456789"

type result struct {
	Data   map[string]interface{} `json:"data"`
	Errors []struct {
		Message    string                 `json:"message"`
		Path       []interface{}          `json:"path"`
		Extensions map[string]interface{} `json:"extensions"`
	} `json:"errors"`
}

func (r result) code(i int) string {
	if i >= len(r.Errors) {
		return ""
	}
	c, _ := r.Errors[i].Extensions["code"].(string)
	return c
}

type harness struct {
	t     *testing.T
	svc   *Service
	store store.Store
	bus   *pubsub.MemoryBus
	creds *auth.Credentials
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithStore(t, store.NewMemoryStore())
}

func newHarnessWithStore(t *testing.T, st store.Store) *harness {
	t.Helper()
	bus := pubsub.NewMemoryBus(8)
	t.Cleanup(func() { _ = bus.Close() })
	creds := auth.NewCredentials(testSecret, time.Hour)

	svc, err := New(Options{Store: st, Bus: bus, Credentials: creds})
	require.NoError(t, err)
	return &harness{t: t, svc: svc, store: st, bus: bus, creds: creds}
}

// ctx builds an operation context the way the HTTP handler does.
func (h *harness) ctx(token string) context.Context {
	r := httptest.NewRequest(http.MethodPost, "/graphql", nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return h.svc.OperationContext(r.Context(), graphql.Transport{Request: r})
}

func (h *harness) do(token, query string, vars map[string]interface{}) result {
	h.t.Helper()
	resp := h.svc.Executor().Execute(h.ctx(token), &graphql.GraphQLRequest{Query: query, Variables: vars})
	return decode(h.t, resp)
}

func decode(t *testing.T, resp *graphql.GraphQLResponse) result {
	t.Helper()
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	var r result
	require.NoError(t, json.Unmarshal(data, &r))
	return r
}

func (h *harness) signin(nickname string) (id, token string) {
	h.t.Helper()
	r := h.do("", `mutation($n: String!) { signin(nickname: $n) { token user { id nickname } } }`,
		map[string]interface{}{"n": nickname})
	require.Empty(h.t, r.Errors)
	payload := r.Data["signin"].(map[string]interface{})
	user := payload["user"].(map[string]interface{})
	require.Equal(h.t, nickname, user["nickname"])
	return user["id"].(string), payload["token"].(string)
}

func (h *harness) createConversation(token, name string) string {
	h.t.Helper()
	r := h.do(token, `mutation($n: String!) { createConversation(name: $n) { id } }`,
		map[string]interface{}{"n": name})
	require.Empty(h.t, r.Errors)
	return r.Data["createConversation"].(map[string]interface{})["id"].(string)
}

func (h *harness) participants(convID string) []string {
	h.t.Helper()
	users, err := h.store.GetConversationParticipants(context.Background(), convID)
	require.NoError(h.t, err)
	ids := make([]string, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	return ids
}

const sendMessage = `mutation($b: String!, $c: ID!) { sendMessage(body: $b, conversationId: $c) { id body author { nickname } } }`

func TestNew_RequiresDependencies(t *testing.T) {
	creds := auth.NewCredentials(testSecret, 0)
	st := store.NewMemoryStore()
	bus := pubsub.NewMemoryBus(1)

	_, err := New(Options{Bus: bus, Credentials: creds})
	assert.Error(t, err)
	_, err = New(Options{Store: st, Credentials: creds})
	assert.Error(t, err)
	_, err = New(Options{Store: st, Bus: bus})
	assert.Error(t, err)
}

func TestSignin_FindOrCreate(t *testing.T) {
	h := newHarness(t)

	id1, token := h.signin("alice")
	id2, _ := h.signin("alice")
	assert.Equal(t, id1, id2)

	sub, err := h.creds.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, id1, sub.ID)
	assert.Equal(t, "alice", sub.Nickname)
}

func TestSignin_InvalidNickname(t *testing.T) {
	h := newHarness(t)

	r := h.do("", `mutation { signin(nickname: "") { token } }`, nil)
	require.Len(t, r.Errors, 1)
	assert.Equal(t, CodeBadUserInput, r.code(0))
	assert.Nil(t, r.Data)
}

func TestMe(t *testing.T) {
	h := newHarness(t)
	id, token := h.signin("alice")

	r := h.do(token, `{ me { id nickname createdAt } }`, nil)
	require.Empty(t, r.Errors)
	me := r.Data["me"].(map[string]interface{})
	assert.Equal(t, id, me["id"])
	assert.IsType(t, float64(0), me["createdAt"])
}

func TestMe_Anonymous(t *testing.T) {
	h := newHarness(t)

	for name, token := range map[string]string{"missing": "", "garbage": "not-a-token"} {
		t.Run(name, func(t *testing.T) {
			r := h.do(token, `{ me { id } }`, nil)
			require.Len(t, r.Errors, 1)
			assert.Equal(t, "not authorized", r.Errors[0].Message)
			assert.Equal(t, CodeUnauthorized, r.code(0))
			assert.Nil(t, r.Data["me"])
		})
	}
}

func TestUserFields_AnonymousRejected(t *testing.T) {
	h := newHarness(t)

	r := h.do("", `mutation { signin(nickname: "x") { user { conversations { id } messages { id } } } }`, nil)
	require.Len(t, r.Errors, 2)
	assert.Nil(t, r.Data)

	paths := map[string]string{}
	for i, e := range r.Errors {
		require.Len(t, e.Path, 3)
		paths[e.Path[2].(string)] = r.code(i)
		assert.Equal(t, []interface{}{"signin", "user"}, e.Path[:2])
	}
	assert.Equal(t, map[string]string{
		"conversations": CodeUnauthorized,
		"messages":      CodeUnauthorized,
	}, paths)
}

func TestIntrospection_Anonymous(t *testing.T) {
	h := newHarness(t)

	r := h.do("", `{ __schema { queryType { name } } __type(name: "Message") { name fields { name } } }`, nil)
	require.Empty(t, r.Errors)
	schema := r.Data["__schema"].(map[string]interface{})
	assert.Equal(t, "Query", schema["queryType"].(map[string]interface{})["name"])

	typ := r.Data["__type"].(map[string]interface{})
	assert.Equal(t, "Message", typ["name"])
	var names []string
	for _, f := range typ["fields"].([]interface{}) {
		names = append(names, f.(map[string]interface{})["name"].(string))
	}
	assert.Equal(t, []string{"id", "body", "createdAt", "author", "conversation"}, names)
}

func TestMe_DeletedUser(t *testing.T) {
	h := newHarness(t)
	id, token := h.signin("alice")
	require.NoError(t, h.store.DeleteUser(context.Background(), id))

	r := h.do(token, `{ me { id } }`, nil)
	require.Len(t, r.Errors, 1)
	assert.Equal(t, CodeUnauthorized, r.code(0))
}

func TestOperationContext_ConnectionParams(t *testing.T) {
	h := newHarness(t)
	id, token := h.signin("alice")

	ctx := h.svc.OperationContext(context.Background(), graphql.Transport{
		InitPayload: map[string]interface{}{"authorization": "Bearer " + token},
	})
	r := decode(t, h.svc.Executor().Execute(ctx, &graphql.GraphQLRequest{Query: `{ me { id } }`}))
	require.Empty(t, r.Errors)
	assert.Equal(t, id, r.Data["me"].(map[string]interface{})["id"])
}

func TestCreateConversation(t *testing.T) {
	h := newHarness(t)
	id, token := h.signin("alice")

	convID := h.createConversation(token, "general")
	assert.Equal(t, []string{id}, h.participants(convID))

	r := h.do("", `mutation { createConversation(name: "anon") { id } }`, nil)
	assert.Equal(t, CodeUnauthorized, r.code(0))

	r = h.do(token, `mutation { createConversation(name: "") { id } }`, nil)
	assert.Equal(t, CodeBadUserInput, r.code(0))
}

func TestJoinToConversation_Idempotent(t *testing.T) {
	h := newHarness(t)
	_, carol := h.signin("carol")
	aliceID, alice := h.signin("alice")
	convID := h.createConversation(carol, "general")

	join := `mutation($c: ID!) { joinToConversation(conversationId: $c) { id name } }`
	vars := map[string]interface{}{"c": convID}

	r := h.do(alice, join, vars)
	require.Empty(t, r.Errors)
	assert.Equal(t, "general", r.Data["joinToConversation"].(map[string]interface{})["name"])
	once := h.participants(convID)
	assert.Contains(t, once, aliceID)

	r = h.do(alice, join, vars)
	require.Empty(t, r.Errors)
	assert.Equal(t, once, h.participants(convID))
}

func TestJoinToConversation_Errors(t *testing.T) {
	h := newHarness(t)
	_, alice := h.signin("alice")

	r := h.do(alice, `mutation { joinToConversation(conversationId: "missing") { id } }`, nil)
	assert.Equal(t, CodeNotFound, r.code(0))

	r = h.do("", `mutation { joinToConversation(conversationId: "missing") { id } }`, nil)
	assert.Equal(t, CodeUnauthorized, r.code(0))
}

func TestSendMessage_NonMemberRejected(t *testing.T) {
	h := newHarness(t)
	_, alice := h.signin("alice")
	_, bob := h.signin("bob")
	convID := h.createConversation(alice, "general")

	r := h.do(bob, sendMessage, map[string]interface{}{"b": "intrusion", "c": convID})
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "not authorized", r.Errors[0].Message)
	assert.Nil(t, r.Data)

	msgs, err := h.store.ListConversationMessages(context.Background(), convID, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestSendMessage_MembershipIsLive(t *testing.T) {
	h := newHarness(t)
	_, alice := h.signin("alice")
	bobID, bob := h.signin("bob")
	convID := h.createConversation(alice, "general")
	vars := map[string]interface{}{"b": "hello", "c": convID}

	r := h.do(bob, sendMessage, vars)
	assert.Equal(t, CodeUnauthorized, r.code(0))

	require.NoError(t, h.store.AddParticipant(context.Background(), convID, bobID))
	r = h.do(bob, sendMessage, vars)
	require.Empty(t, r.Errors)
	assert.Equal(t, "bob", r.Data["sendMessage"].(map[string]interface{})["author"].(map[string]interface{})["nickname"])
}

func TestSendMessage_Publishes(t *testing.T) {
	h := newHarness(t)
	_, alice := h.signin("alice")
	convID := h.createConversation(alice, "general")

	sub, err := h.bus.Subscribe(context.Background(), convID)
	require.NoError(t, err)
	defer sub.Close()

	r := h.do(alice, sendMessage, map[string]interface{}{"b": "hi", "c": convID})
	require.Empty(t, r.Errors)

	select {
	case ev := <-sub.Events():
		assert.Equal(t, convID, ev.ConversationID)
		assert.Equal(t, "hi", ev.Message.Body)
		assert.Equal(t, r.Data["sendMessage"].(map[string]interface{})["id"], ev.Message.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("no event published")
	}
}

func TestSendMessage_PublishFailureStillReturnsMessage(t *testing.T) {
	h := newHarness(t)
	_, alice := h.signin("alice")
	convID := h.createConversation(alice, "general")
	require.NoError(t, h.bus.Close())

	r := h.do(alice, sendMessage, map[string]interface{}{"b": "stored", "c": convID})
	require.Empty(t, r.Errors)
	assert.Equal(t, "stored", r.Data["sendMessage"].(map[string]interface{})["body"])
}

func TestNestedFields(t *testing.T) {
	h := newHarness(t)
	aliceID, alice := h.signin("alice")
	convID := h.createConversation(alice, "general")
	h.do(alice, sendMessage, map[string]interface{}{"b": "one", "c": convID})
	h.do(alice, sendMessage, map[string]interface{}{"b": "two", "c": convID})

	r := h.do(alice, `{
		me {
			conversations { id participants { id } }
			messages { body conversation { name } }
		}
	}`, nil)
	require.Empty(t, r.Errors)

	me := r.Data["me"].(map[string]interface{})
	convs := me["conversations"].([]interface{})
	require.Len(t, convs, 1)
	conv := convs[0].(map[string]interface{})
	assert.Equal(t, convID, conv["id"])
	assert.Equal(t, aliceID, conv["participants"].([]interface{})[0].(map[string]interface{})["id"])

	msgs := me["messages"].([]interface{})
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", msgs[0].(map[string]interface{})["body"])
	assert.Equal(t, "general", msgs[1].(map[string]interface{})["conversation"].(map[string]interface{})["name"])
}

func TestConversationQuery(t *testing.T) {
	h := newHarness(t)
	_, alice := h.signin("alice")
	_, bob := h.signin("bob")
	convID := h.createConversation(alice, "general")
	h.do(alice, sendMessage, map[string]interface{}{"b": "one", "c": convID})

	q := `query($id: ID!, $since: Date) { conversation(id: $id) { name messages(since: $since) { body } } }`

	r := h.do(alice, q, map[string]interface{}{"id": convID})
	require.Empty(t, r.Errors)
	conv := r.Data["conversation"].(map[string]interface{})
	assert.Len(t, conv["messages"], 1)

	future := time.Now().Add(time.Hour)
	r = h.do(alice, q, map[string]interface{}{"id": convID, "since": future.UnixMilli()})
	require.Empty(t, r.Errors)
	assert.Empty(t, r.Data["conversation"].(map[string]interface{})["messages"])

	r = h.do(alice, q, map[string]interface{}{"id": convID, "since": "1970-01-01T00:00:00Z"})
	require.Empty(t, r.Errors)
	assert.Len(t, r.Data["conversation"].(map[string]interface{})["messages"], 1)

	r = h.do(alice, q, map[string]interface{}{"id": convID, "since": "yesterday"})
	require.Len(t, r.Errors, 1)
	assert.Equal(t, CodeBadUserInput, r.code(0))

	r = h.do(alice, `query($id: ID!) { conversation(id: $id) { messages(since: 0) { body } } }`,
		map[string]interface{}{"id": convID})
	require.Empty(t, r.Errors)
	assert.Len(t, r.Data["conversation"].(map[string]interface{})["messages"], 1)

	r = h.do(bob, q, map[string]interface{}{"id": convID})
	assert.Equal(t, CodeUnauthorized, r.code(0))
	assert.Nil(t, r.Data["conversation"])
}

type failingStore struct {
	store.Store
}

func (failingStore) ListMessages(context.Context, string) ([]store.Message, error) {
	return nil, errors.New("connection reset")
}

func TestStoreErrorsAreInternal(t *testing.T) {
	h := newHarnessWithStore(t, failingStore{Store: store.NewMemoryStore()})
	_, alice := h.signin("alice")

	r := h.do(alice, `{ me { messages { body } } }`, nil)
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "internal error", r.Errors[0].Message)
	assert.Equal(t, CodeInternal, r.code(0))
	assert.Equal(t, []interface{}{"me", "messages"}, r.Errors[0].Path)
	assert.Nil(t, r.Data["me"])
}

func (h *harness) subscribe(ctx context.Context, token, convID string) (<-chan *graphql.GraphQLResponse, *graphql.GraphQLResponse) {
	return h.svc.Executor().Subscribe(h.svc.OperationContext(ctx, graphql.Transport{
		InitPayload: map[string]interface{}{"Authorization": "Bearer " + token},
	}), &graphql.GraphQLRequest{
		Query:     `subscription($c: ID!) { message(conversationId: $c) { body author { nickname } } }`,
		Variables: map[string]interface{}{"c": convID},
	})
}

func TestMessageSubscription_NonMemberRejected(t *testing.T) {
	h := newHarness(t)
	_, alice := h.signin("alice")
	_, bob := h.signin("bob")
	convID := h.createConversation(alice, "general")

	stream, resp := h.subscribe(context.Background(), bob, convID)
	assert.Nil(t, stream)
	require.NotNil(t, resp)
	r := decode(t, resp)
	require.Len(t, r.Errors, 1)
	assert.Equal(t, CodeUnauthorized, r.code(0))
	assert.Zero(t, h.bus.Subscribers(convID))
}

func TestMessageSubscription_EndsWithContext(t *testing.T) {
	h := newHarness(t)
	_, alice := h.signin("alice")
	convID := h.createConversation(alice, "general")

	ctx, cancel := context.WithCancel(context.Background())
	stream, resp := h.subscribe(ctx, alice, convID)
	require.Nil(t, resp)
	assert.Equal(t, 1, h.bus.Subscribers(convID))

	cancel()
	for range stream {
	}
	assert.Eventually(t, func() bool { return h.bus.Subscribers(convID) == 0 }, 2*time.Second, 10*time.Millisecond)
}

// Alice signs in and joins a conversation, Bob is turned away, and Alice's
// own message reaches her open subscription.
func TestScenario_SubscribeAndSend(t *testing.T) {
	h := newHarness(t)
	_, carol := h.signin("carol")
	aliceID, alice := h.signin("alice")
	_, bob := h.signin("bob")
	c1 := h.createConversation(carol, "C1")

	r := h.do(alice, `mutation($c: ID!) { joinToConversation(conversationId: $c) { id } }`,
		map[string]interface{}{"c": c1})
	require.Empty(t, r.Errors)
	assert.Contains(t, h.participants(c1), aliceID)

	r = h.do(bob, sendMessage, map[string]interface{}{"b": "let me in", "c": c1})
	assert.Equal(t, CodeUnauthorized, r.code(0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, resp := h.subscribe(ctx, alice, c1)
	require.Nil(t, resp)

	r = h.do(alice, sendMessage, map[string]interface{}{"b": "hi", "c": c1})
	require.Empty(t, r.Errors)

	select {
	case resp := <-stream:
		ev := decode(t, resp)
		require.Empty(t, ev.Errors)
		msg := ev.Data["message"].(map[string]interface{})
		assert.Equal(t, "hi", msg["body"])
		assert.Equal(t, "alice", msg["author"].(map[string]interface{})["nickname"])
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not receive the message")
	}
}
