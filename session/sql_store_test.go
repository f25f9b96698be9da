package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLStore(t *testing.T) *SQLStore {
	t.Helper()

	config := DefaultStoreConfig()
	config.Type = StoreTypeSQL
	config.SQL.DSN = filepath.Join(t.TempDir(), "sessions.db")

	store, err := NewSQLStore(config)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLStoreRoundTrip(t *testing.T) {
	store := newTestSQLStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Upsert(ctx, sampleSession("sid")))

	got, err := store.Get(ctx, "sid")
	require.NoError(t, err)
	assert.Equal(t, "bot1", got.BotID)
	assert.Equal(t, "ask", got.Context.CurrentNode)
	assert.Equal(t, "2", got.TempData["attempts"])
}

func TestSQLStoreUpsertReplaces(t *testing.T) {
	store := newTestSQLStore(t)
	ctx := context.Background()

	sess := sampleSession("sid")
	require.NoError(t, store.Upsert(ctx, sess))

	sess.Context.CurrentNode = "confirm"
	require.NoError(t, store.Upsert(ctx, sess))

	got, err := store.Get(ctx, "sid")
	require.NoError(t, err)
	assert.Equal(t, "confirm", got.Context.CurrentNode)
}

func TestSQLStoreUpsertValidatesInput(t *testing.T) {
	store := newTestSQLStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, store.Upsert(ctx, nil), ErrInvalidInput)
	assert.ErrorIs(t, store.Upsert(ctx, &Session{}), ErrInvalidInput)
}

func TestSQLStoreDelete(t *testing.T) {
	store := newTestSQLStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, sampleSession("a")))
	require.NoError(t, store.Upsert(ctx, sampleSession("b")))

	require.NoError(t, store.Delete(ctx, "a", "never-existed"))

	_, err := store.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(ctx, "b")
	assert.NoError(t, err)
}

func TestSQLStoreDeleteExpired(t *testing.T) {
	store := newTestSQLStore(t)
	ctx := context.Background()
	now := time.Now()

	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	dead := sampleSession("dead")
	dead.SessionExpiry = &past
	alive := sampleSession("alive")
	alive.SessionExpiry = &future
	forever := sampleSession("forever")

	require.NoError(t, store.Upsert(ctx, dead))
	require.NoError(t, store.Upsert(ctx, alive))
	require.NoError(t, store.Upsert(ctx, forever))

	count, err := store.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = store.Get(ctx, "dead")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(ctx, "alive")
	assert.NoError(t, err)
	_, err = store.Get(ctx, "forever")
	assert.NoError(t, err)
}

func TestSQLStoreListStaleContextIDs(t *testing.T) {
	store := newTestSQLStore(t)
	ctx := context.Background()
	now := time.Now()

	older := now.Add(-2 * time.Minute)
	newer := now.Add(-time.Minute)
	past := now.Add(-time.Second)
	future := now.Add(time.Hour)

	first := sampleSession("first")
	first.ContextExpiry = &older
	second := sampleSession("second")
	second.ContextExpiry = &newer

	// Stale context on an already-expired session is the sweeper's
	// problem, not the timeout path's.
	gone := sampleSession("gone")
	gone.ContextExpiry = &older
	gone.SessionExpiry = &past

	fresh := sampleSession("fresh")
	fresh.ContextExpiry = &future

	for _, sess := range []*Session{second, first, gone, fresh} {
		require.NoError(t, store.Upsert(ctx, sess))
	}

	ids, err := store.ListStaleContextIDs(ctx, now, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, ids)

	ids, err = store.ListStaleContextIDs(ctx, now, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"first"}, ids)
}

func TestSQLStorePing(t *testing.T) {
	store := newTestSQLStore(t)
	assert.NoError(t, store.Ping(context.Background()))
}
