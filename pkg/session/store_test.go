package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rakha/easel/pkg/loop"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	return store
}

func record(key string, createdAt time.Time) Record {
	return Record{
		SessionKey:    key,
		Task:          "draw a header",
		State:         loop.StateComplete,
		Iterations:    3,
		TokensUsed:    120,
		CanvasVersion: 2,
		CreatedAt:     createdAt,
	}
}

func TestStore(t *testing.T) {
	t.Run("should save and load a record", func(t *testing.T) {
		store := newTestStore(t)
		require.NoError(t, store.Save(record("sess-1", time.Now())))

		got, err := store.Get("sess-1")
		require.NoError(t, err)
		assert.Equal(t, "draw a header", got.Task)
		assert.Equal(t, loop.StateComplete, got.State)
		assert.Equal(t, 3, got.Iterations)
	})

	t.Run("should replace an existing record", func(t *testing.T) {
		store := newTestStore(t)
		first := record("sess-1", time.Now())
		require.NoError(t, store.Save(first))

		second := first
		second.Iterations = 7
		require.NoError(t, store.Save(second))

		got, err := store.Get("sess-1")
		require.NoError(t, err)
		assert.Equal(t, 7, got.Iterations)
	})

	t.Run("should stamp CreatedAt when zero", func(t *testing.T) {
		store := newTestStore(t)
		r := record("sess-1", time.Time{})
		require.NoError(t, store.Save(r))

		got, err := store.Get("sess-1")
		require.NoError(t, err)
		assert.False(t, got.CreatedAt.IsZero())
	})

	t.Run("should reject traversal in session keys", func(t *testing.T) {
		store := newTestStore(t)
		assert.Error(t, store.Save(record("../escape", time.Now())))
		assert.Error(t, store.Save(record("a/b", time.Now())))
		assert.Error(t, store.Save(record("", time.Now())))

		_, err := store.Get("../escape")
		assert.Error(t, err)
	})

	t.Run("should error for a missing record", func(t *testing.T) {
		store := newTestStore(t)
		_, err := store.Get("nope")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("should list newest first", func(t *testing.T) {
		store := newTestStore(t)
		now := time.Now()
		require.NoError(t, store.Save(record("old", now.Add(-time.Hour))))
		require.NoError(t, store.Save(record("new", now)))

		records, err := store.List()
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "new", records[0].SessionKey)
		assert.Equal(t, "old", records[1].SessionKey)
	})

	t.Run("should skip corrupt records when listing", func(t *testing.T) {
		dir := t.TempDir()
		store, err := NewStore(dir, zerolog.Nop())
		require.NoError(t, err)

		require.NoError(t, store.Save(record("good", time.Now())))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{not json"), 0600))

		records, err := store.List()
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "good", records[0].SessionKey)
	})

	t.Run("should remove only expired records on cleanup", func(t *testing.T) {
		store := newTestStore(t)
		now := time.Now()
		require.NoError(t, store.Save(record("stale", now.Add(-48*time.Hour))))
		require.NoError(t, store.Save(record("fresh", now)))

		removed, err := store.Cleanup(24 * time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 1, removed)

		_, err = store.Get("stale")
		assert.Error(t, err)
		_, err = store.Get("fresh")
		assert.NoError(t, err)
	})
}
