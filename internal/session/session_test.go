package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tatianab/storyframe/internal/apperrors"
	"github.com/tatianab/storyframe/internal/models"
)

func storeDrivers(t *testing.T) map[string]Store {
	t.Helper()

	fileStore, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	redisStore := NewRedisStore(client, 0)
	t.Cleanup(func() { _ = redisStore.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"file":   fileStore,
		"redis":  redisStore,
	}
}

func TestStore_LoadCreatesDefault(t *testing.T) {
	for name, store := range storeDrivers(t) {
		t.Run(name, func(t *testing.T) {
			rec, err := store.Load(context.Background(), "fresh")
			require.NoError(t, err)
			assert.Equal(t, "fresh", rec.ID)
			assert.Equal(t, int64(0), rec.Version)
			assert.False(t, rec.State.Begun())
		})
	}
}

func TestStore_SaveRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	for name, store := range storeDrivers(t) {
		t.Run(name, func(t *testing.T) {
			first, err := store.Load(ctx, "s")
			require.NoError(t, err)
			second, err := store.Load(ctx, "s")
			require.NoError(t, err)

			first.State.WorldPrompt = "a lighthouse at the end of time"
			require.NoError(t, store.Save(ctx, first))
			assert.Equal(t, int64(1), first.Version)

			second.State.WorldPrompt = "lost write"
			err = store.Save(ctx, second)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrVersionConflict)
			assert.ErrorIs(t, err, apperrors.ErrStorage)

			loaded, err := store.Load(ctx, "s")
			require.NoError(t, err)
			assert.Equal(t, "a lighthouse at the end of time", loaded.State.WorldPrompt)
			assert.Equal(t, int64(1), loaded.Version)
		})
	}
}

func TestStore_HistoryAndReset(t *testing.T) {
	ctx := context.Background()
	for name, store := range storeDrivers(t) {
		t.Run(name, func(t *testing.T) {
			rec, err := store.Load(ctx, "h")
			require.NoError(t, err)
			rec.State.WorldPrompt = "w"
			require.NoError(t, store.Save(ctx, rec))

			for i := 0; i < 3; i++ {
				require.NoError(t, store.AppendHistory(ctx, "h", models.HistoryEntry{Turn: i, Choice: fmt.Sprintf("c%d", i)}))
			}
			history, err := store.History(ctx, "h")
			require.NoError(t, err)
			require.Len(t, history, 3)
			assert.Equal(t, "c2", history[2].Choice)

			ids, err := store.List(ctx)
			require.NoError(t, err)
			assert.Contains(t, ids, "h")

			require.NoError(t, store.Reset(ctx, "h"))
			history, err = store.History(ctx, "h")
			require.NoError(t, err)
			assert.Empty(t, history)

			rec, err = store.Load(ctx, "h")
			require.NoError(t, err)
			assert.Equal(t, int64(0), rec.Version)
			assert.False(t, rec.State.Begun())
		})
	}
}

func TestStore_TruncateHistory(t *testing.T) {
	ctx := context.Background()
	for name, store := range storeDrivers(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 4; i++ {
				require.NoError(t, store.AppendHistory(ctx, "h", models.HistoryEntry{Turn: i}))
			}

			require.NoError(t, store.TruncateHistory(ctx, "h", 3))
			history, err := store.History(ctx, "h")
			require.NoError(t, err)
			require.Len(t, history, 3)
			assert.Equal(t, 2, history[2].Turn)

			require.NoError(t, store.TruncateHistory(ctx, "h", 7), "nothing past the last turn")
			history, err = store.History(ctx, "h")
			require.NoError(t, err)
			assert.Len(t, history, 3)

			require.NoError(t, store.TruncateHistory(ctx, "h", 0))
			history, err = store.History(ctx, "h")
			require.NoError(t, err)
			assert.Empty(t, history)

			require.NoError(t, store.AppendHistory(ctx, "h", models.HistoryEntry{Turn: 0, Choice: "begin"}))
			history, err = store.History(ctx, "h")
			require.NoError(t, err)
			require.Len(t, history, 1)
			assert.Equal(t, "begin", history[0].Choice)
		})
	}
}

func TestStore_RejectsBadIDs(t *testing.T) {
	for name, store := range storeDrivers(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Load(context.Background(), "../escape")
			assert.ErrorIs(t, err, apperrors.ErrValidation)
			assert.ErrorIs(t, err, ErrInvalidID)
		})
	}
}

func TestStore_AcquireSerialisesSameSession(t *testing.T) {
	for name, store := range storeDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			release, err := store.Acquire(ctx, "busy")
			require.NoError(t, err)

			waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
			defer cancel()
			_, err = store.Acquire(waitCtx, "busy")
			assert.ErrorIs(t, err, context.DeadlineExceeded)

			other, err := store.Acquire(ctx, "other")
			require.NoError(t, err, "different sessions must not contend")
			other()

			release()
			release() // idempotent
			again, err := store.Acquire(ctx, "busy")
			require.NoError(t, err)
			again()
		})
	}
}

func TestStore_ConcurrentWritersUnderLease(t *testing.T) {
	ctx := context.Background()
	for name, store := range storeDrivers(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			for _, id := range []string{"A", "B"} {
				for i := 0; i < 5; i++ {
					wg.Add(1)
					go func(id string) {
						defer wg.Done()
						release, err := store.Acquire(ctx, id)
						if !assert.NoError(t, err) {
							return
						}
						defer release()
						rec, err := store.Load(ctx, id)
						if !assert.NoError(t, err) {
							return
						}
						rec.State.TurnCount++
						assert.NoError(t, store.Save(ctx, rec))
						assert.NoError(t, store.AppendHistory(ctx, id, models.HistoryEntry{Turn: rec.State.TurnCount, Choice: id}))
					}(id)
				}
			}
			wg.Wait()

			for _, id := range []string{"A", "B"} {
				rec, err := store.Load(ctx, id)
				require.NoError(t, err)
				assert.Equal(t, 5, rec.State.TurnCount)

				history, err := store.History(ctx, id)
				require.NoError(t, err)
				require.Len(t, history, 5)
				for i, entry := range history {
					assert.Equal(t, id, entry.Choice)
					assert.Equal(t, i+1, entry.Turn)
				}
			}
		})
	}
}

func TestResolve(t *testing.T) {
	assert.Equal(t, "default", Resolve("  ", "default"))
	assert.Equal(t, "abc", Resolve(" abc ", "default"))
}

func TestNewStore(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(ctx, StoreTypeFile, WithDir(t.TempDir()))
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, store)

	_, err = NewStore(ctx, StoreTypeRedis)
	assert.Error(t, err)

	_, err = NewStore(ctx, "bolt")
	assert.Error(t, err)
}
