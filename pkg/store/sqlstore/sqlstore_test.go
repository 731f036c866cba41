package sqlstore_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/getmockd/chatd/internal/testutil/testpg"
	"github.com/getmockd/chatd/pkg/store"
	"github.com/getmockd/chatd/pkg/store/sqlstore"
	"github.com/getmockd/chatd/pkg/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSQLite(t *testing.T) *sqlstore.Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "chatd.db")
	s, err := sqlstore.Open(context.Background(), sqlstore.DriverSQLite, dsn)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestSQLite(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return openSQLite(t)
	})
}

func TestSQLite_MigrateIsRepeatable(t *testing.T) {
	s := openSQLite(t)
	defer s.Close()
	require.NoError(t, s.Migrate(context.Background()))
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "chatd.db")

	s, err := sqlstore.Open(ctx, sqlstore.DriverSQLite, dsn)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	alice, err := s.CreateUser(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = sqlstore.Open(ctx, sqlstore.DriverSQLite, dsn)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetUser(ctx, store.ByNickname("alice"))
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.ID)
	assert.True(t, alice.CreatedAt.Equal(got.CreatedAt))
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := sqlstore.Open(context.Background(), "mysql", "dsn")
	assert.Error(t, err)
}

func TestPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}

	dsn := testpg.StartPostgres(t)
	ctx := context.Background()

	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := sqlstore.Open(ctx, sqlstore.DriverPostgres, dsn)
		require.NoError(t, err)
		require.NoError(t, s.Migrate(ctx))
		truncate(t, s)
		return s
	})
}

// truncate empties every table so each conformance case starts clean.
func truncate(t *testing.T, s *sqlstore.Store) {
	t.Helper()
	require.NoError(t, s.Truncate(context.Background()))
}

func TestSQLite_MalformedIDsAreNotFound(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	// Lookups by a key that cannot be a UUID never reach the closed pool.
	require.NoError(t, s.Close())

	_, err := s.GetUser(ctx, store.ByID("not-a-uuid"))
	assert.ErrorIs(t, err, store.ErrNotFound)
	ok, err := s.UserExists(ctx, store.ByID("not-a-uuid"))
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = s.GetConversation(ctx, "c1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetConversationParticipants(ctx, "c1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.AddParticipant(ctx, "c1", "u1"), store.ErrNotFound)
	_, err = s.CreateMessage(ctx, "u1", "c1", "hi")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// A well-formed key still goes to the database.
	_, err = s.GetUser(ctx, store.ByID("00000000-0000-4000-8000-000000000000"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, store.ErrNotFound)
}
