package checkpoint_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/checkpoint"
)

// storeFactory creates a store instance for testing.
type storeFactory func(t *testing.T) checkpoint.Store

// storeContractTest runs contract tests against any Store implementation.
func storeContractTest(t *testing.T, name string, factory storeFactory) {
	ctx := context.Background()

	t.Run(name+"/Save_and_Load_latest", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		require.NoError(t, store.Save(ctx, "thread-1", 0, []byte(`{"step":0}`)))
		require.NoError(t, store.Save(ctx, "thread-1", 2, []byte(`{"step":2}`)))
		require.NoError(t, store.Save(ctx, "thread-1", 1, []byte(`{"step":1}`)))

		loaded, err := store.Load(ctx, "thread-1")
		require.NoError(t, err)
		assert.Equal(t, []byte(`{"step":2}`), loaded)

		loaded, err = store.LoadStep(ctx, "thread-1", 1)
		require.NoError(t, err)
		assert.Equal(t, []byte(`{"step":1}`), loaded)
	})

	t.Run(name+"/Load_NotFound", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		_, err := store.Load(ctx, "thread-missing")
		assert.ErrorIs(t, err, checkpoint.ErrNotFound)

		_, err = store.LoadStep(ctx, "thread-missing", 3)
		assert.ErrorIs(t, err, checkpoint.ErrNotFound)
	})

	t.Run(name+"/Save_Overwrite_step", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		require.NoError(t, store.Save(ctx, "thread-1", 4, []byte("first")))
		require.NoError(t, store.Save(ctx, "thread-1", 4, []byte("second")))

		loaded, err := store.Load(ctx, "thread-1")
		require.NoError(t, err)
		assert.Equal(t, []byte("second"), loaded)

		history, err := store.History(ctx, "thread-1")
		require.NoError(t, err)
		assert.Len(t, history, 1)
	})

	t.Run(name+"/History_ordered", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		for _, step := range []int{3, 1, 2} {
			require.NoError(t, store.Save(ctx, "thread-1", step, []byte(fmt.Sprintf("step-%d", step))))
		}

		history, err := store.History(ctx, "thread-1")
		require.NoError(t, err)
		require.Len(t, history, 3)
		for i, info := range history {
			assert.Equal(t, i+1, info.Step)
			assert.Equal(t, "thread-1", info.ThreadID)
			assert.Equal(t, int64(len("step-1")), info.Size)
			assert.False(t, info.Timestamp.IsZero())
		}

		empty, err := store.History(ctx, "thread-missing")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run(name+"/Threads_isolated", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		require.NoError(t, store.Save(ctx, "b", 0, []byte("b0")))
		require.NoError(t, store.Save(ctx, "a", 0, []byte("a0")))
		require.NoError(t, store.Save(ctx, "a", 1, []byte("a1")))

		threads, err := store.Threads(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, threads)

		loaded, err := store.Load(ctx, "b")
		require.NoError(t, err)
		assert.Equal(t, []byte("b0"), loaded)
	})

	t.Run(name+"/Delete", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		require.NoError(t, store.Save(ctx, "thread-1", 0, []byte("x")))
		require.NoError(t, store.Save(ctx, "thread-1", 1, []byte("y")))
		require.NoError(t, store.Save(ctx, "thread-2", 0, []byte("z")))

		require.NoError(t, store.Delete(ctx, "thread-1"))
		require.NoError(t, store.Delete(ctx, "thread-missing"))

		_, err := store.Load(ctx, "thread-1")
		assert.ErrorIs(t, err, checkpoint.ErrNotFound)

		threads, err := store.Threads(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"thread-2"}, threads)
	})

	t.Run(name+"/Concurrent_threads", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				thread := fmt.Sprintf("thread-%d", i)
				for step := 0; step < 5; step++ {
					assert.NoError(t, store.Save(ctx, thread, step, []byte(thread)))
					_, err := store.Load(ctx, thread)
					assert.NoError(t, err)
				}
			}(i)
		}
		wg.Wait()

		threads, err := store.Threads(ctx)
		require.NoError(t, err)
		assert.Len(t, threads, 10)
	})

	t.Run(name+"/Closed", func(t *testing.T) {
		store := factory(t)
		require.NoError(t, store.Save(ctx, "thread-1", 0, []byte("x")))
		require.NoError(t, store.Close())
		require.NoError(t, store.Close())

		err := store.Save(ctx, "thread-1", 1, []byte("y"))
		assert.ErrorIs(t, err, checkpoint.ErrStoreClosed)

		_, err = store.Load(ctx, "thread-1")
		assert.ErrorIs(t, err, checkpoint.ErrStoreClosed)
	})
}

func TestMemoryStore(t *testing.T) {
	storeContractTest(t, "MemoryStore", func(t *testing.T) checkpoint.Store {
		return checkpoint.NewMemoryStore()
	})
}

func TestSQLiteStore(t *testing.T) {
	storeContractTest(t, "SQLiteStore", func(t *testing.T) checkpoint.Store {
		store, err := checkpoint.NewSQLiteStore(":memory:")
		require.NoError(t, err)
		return store
	})
}

func TestRedisStore(t *testing.T) {
	storeContractTest(t, "RedisStore", func(t *testing.T) checkpoint.Store {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		return checkpoint.NewRedisStoreFromClient(client, checkpoint.WithRedisPrefix("test:"))
	})
}

func TestMemoryStore_Len(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemoryStore()
	defer store.Close()

	assert.Equal(t, 0, store.Len())
	require.NoError(t, store.Save(ctx, "a", 0, []byte("x")))
	require.NoError(t, store.Save(ctx, "a", 1, []byte("y")))
	require.NoError(t, store.Save(ctx, "b", 0, []byte("z")))
	assert.Equal(t, 3, store.Len())

	require.NoError(t, store.Delete(ctx, "a"))
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStore_CopiesData(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemoryStore()

	data := []byte("original")
	require.NoError(t, store.Save(ctx, "a", 0, data))
	data[0] = 'X'

	loaded, err := store.Load(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "original", string(loaded))

	loaded[0] = 'Y'
	again, _ := store.Load(ctx, "a")
	assert.Equal(t, "original", string(again))
}
