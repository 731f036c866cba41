// Package storetest provides a conformance suite for store.Store implementations.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/getmockd/chatd/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

// Run exercises the full store contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("CreateAndGetUser", func(t *testing.T) { testCreateAndGetUser(t, newStore(t)) })
	t.Run("DuplicateNickname", func(t *testing.T) { testDuplicateNickname(t, newStore(t)) })
	t.Run("InvalidNickname", func(t *testing.T) { testInvalidNickname(t, newStore(t)) })
	t.Run("DeleteUser", func(t *testing.T) { testDeleteUser(t, newStore(t)) })
	t.Run("ConversationCreatorIsParticipant", func(t *testing.T) { testConversationCreator(t, newStore(t)) })
	t.Run("AddParticipantIdempotent", func(t *testing.T) { testAddParticipantIdempotent(t, newStore(t)) })
	t.Run("AddParticipantConcurrent", func(t *testing.T) { testAddParticipantConcurrent(t, newStore(t)) })
	t.Run("MissingConversation", func(t *testing.T) { testMissingConversation(t, newStore(t)) })
	t.Run("ListConversations", func(t *testing.T) { testListConversations(t, newStore(t)) })
	t.Run("Messages", func(t *testing.T) { testMessages(t, newStore(t)) })
	t.Run("Ping", func(t *testing.T) { testPing(t, newStore(t)) })
}

func closeOnCleanup(t *testing.T, s store.Store) {
	t.Cleanup(func() { _ = s.Close() })
}

func mustUser(t *testing.T, s store.Store, nickname string) *store.User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), nickname)
	require.NoError(t, err)
	return u
}

func mustConversation(t *testing.T, s store.Store, name, creatorID string) *store.Conversation {
	t.Helper()
	c, err := s.CreateConversation(context.Background(), name, creatorID)
	require.NoError(t, err)
	return c
}

func participantIDs(t *testing.T, s store.Store, conversationID string) []string {
	t.Helper()
	users, err := s.GetConversationParticipants(context.Background(), conversationID)
	require.NoError(t, err)
	ids := make([]string, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	return ids
}

func testCreateAndGetUser(t *testing.T, s store.Store) {
	closeOnCleanup(t, s)
	ctx := context.Background()

	alice := mustUser(t, s, "alice")
	assert.NotEmpty(t, alice.ID)
	assert.Equal(t, "alice", alice.Nickname)
	assert.False(t, alice.CreatedAt.IsZero())

	exists, err := s.UserExists(ctx, store.ByID(alice.ID))
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.UserExists(ctx, store.ByNickname("alice"))
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.UserExists(ctx, store.ByNickname("bob"))
	require.NoError(t, err)
	assert.False(t, exists)

	got, err := s.GetUser(ctx, store.ByNickname("alice"))
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.ID)

	_, err = s.GetUser(ctx, store.ByID("missing"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testDuplicateNickname(t *testing.T, s store.Store) {
	closeOnCleanup(t, s)
	mustUser(t, s, "alice")
	_, err := s.CreateUser(context.Background(), "alice")
	assert.ErrorIs(t, err, store.ErrConflict)
}

func testInvalidNickname(t *testing.T, s store.Store) {
	closeOnCleanup(t, s)
	_, err := s.CreateUser(context.Background(), "")
	assert.ErrorIs(t, err, store.ErrInvalidInput)
}

func testDeleteUser(t *testing.T, s store.Store) {
	closeOnCleanup(t, s)
	ctx := context.Background()

	alice := mustUser(t, s, "alice")
	conv := mustConversation(t, s, "general", alice.ID)

	require.NoError(t, s.DeleteUser(ctx, alice.ID))

	exists, err := s.UserExists(ctx, store.ByID(alice.ID))
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Empty(t, participantIDs(t, s, conv.ID))
	assert.ErrorIs(t, s.DeleteUser(ctx, alice.ID), store.ErrNotFound)
}

func testConversationCreator(t *testing.T, s store.Store) {
	closeOnCleanup(t, s)
	ctx := context.Background()

	alice := mustUser(t, s, "alice")
	conv := mustConversation(t, s, "general", alice.ID)
	assert.Equal(t, "general", conv.Name)

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)
	assert.Equal(t, []string{alice.ID}, participantIDs(t, s, conv.ID))

	_, err = s.CreateConversation(ctx, "orphan", "missing-user")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.CreateConversation(ctx, "", alice.ID)
	assert.ErrorIs(t, err, store.ErrInvalidInput)
}

func testAddParticipantIdempotent(t *testing.T, s store.Store) {
	closeOnCleanup(t, s)
	ctx := context.Background()

	alice := mustUser(t, s, "alice")
	bob := mustUser(t, s, "bob")
	conv := mustConversation(t, s, "general", alice.ID)

	require.NoError(t, s.AddParticipant(ctx, conv.ID, bob.ID))
	once := participantIDs(t, s, conv.ID)

	require.NoError(t, s.AddParticipant(ctx, conv.ID, bob.ID))
	twice := participantIDs(t, s, conv.ID)

	assert.Equal(t, once, twice)
	assert.ElementsMatch(t, []string{alice.ID, bob.ID}, twice)
}

func testAddParticipantConcurrent(t *testing.T, s store.Store) {
	closeOnCleanup(t, s)
	ctx := context.Background()

	alice := mustUser(t, s, "alice")
	bob := mustUser(t, s, "bob")
	conv := mustConversation(t, s, "general", alice.ID)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.AddParticipant(ctx, conv.ID, bob.ID)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.ElementsMatch(t, []string{alice.ID, bob.ID}, participantIDs(t, s, conv.ID))
}

func testMissingConversation(t *testing.T, s store.Store) {
	closeOnCleanup(t, s)
	ctx := context.Background()
	alice := mustUser(t, s, "alice")

	_, err := s.GetConversation(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.GetConversationParticipants(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.ErrorIs(t, s.AddParticipant(ctx, "missing", alice.ID), store.ErrNotFound)

	_, err = s.CreateMessage(ctx, alice.ID, "missing", "hi")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testListConversations(t *testing.T, s store.Store) {
	closeOnCleanup(t, s)
	ctx := context.Background()

	alice := mustUser(t, s, "alice")
	bob := mustUser(t, s, "bob")
	first := mustConversation(t, s, "first", alice.ID)
	second := mustConversation(t, s, "second", bob.ID)
	require.NoError(t, s.AddParticipant(ctx, second.ID, alice.ID))

	convs, err := s.ListConversations(ctx, alice.ID)
	require.NoError(t, err)
	ids := []string{}
	for _, c := range convs {
		ids = append(ids, c.ID)
	}
	assert.ElementsMatch(t, []string{first.ID, second.ID}, ids)

	convs, err = s.ListConversations(ctx, bob.ID)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, second.ID, convs[0].ID)

	convs, err = s.ListConversations(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, convs)
}

func testMessages(t *testing.T, s store.Store) {
	closeOnCleanup(t, s)
	ctx := context.Background()

	alice := mustUser(t, s, "alice")
	bob := mustUser(t, s, "bob")
	conv := mustConversation(t, s, "general", alice.ID)
	other := mustConversation(t, s, "other", bob.ID)

	m1, err := s.CreateMessage(ctx, alice.ID, conv.ID, "one")
	require.NoError(t, err)
	assert.Len(t, m1.ID, 26)
	assert.Equal(t, conv.ID, m1.ConversationID)

	_, err = s.CreateMessage(ctx, bob.ID, other.ID, "elsewhere")
	require.NoError(t, err)
	m3, err := s.CreateMessage(ctx, alice.ID, conv.ID, "two")
	require.NoError(t, err)

	_, err = s.CreateMessage(ctx, alice.ID, conv.ID, "")
	assert.ErrorIs(t, err, store.ErrInvalidInput)

	byAlice, err := s.ListMessages(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, byAlice, 2)
	assert.Equal(t, "one", byAlice[0].Body)
	assert.Equal(t, "two", byAlice[1].Body)

	inConv, err := s.ListConversationMessages(ctx, conv.ID, time.Time{})
	require.NoError(t, err)
	require.Len(t, inConv, 2)

	since, err := s.ListConversationMessages(ctx, conv.ID, m3.CreatedAt)
	require.NoError(t, err)
	require.NotEmpty(t, since)
	assert.Equal(t, m3.ID, since[len(since)-1].ID)

	future, err := s.ListConversationMessages(ctx, conv.ID, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, future)
}

func testPing(t *testing.T, s store.Store) {
	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.Close())
}
