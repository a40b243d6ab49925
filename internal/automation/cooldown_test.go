package automation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trackerFactories runs the same contract against every CooldownTracker.
func trackerFactories(t *testing.T) map[string]func() CooldownTracker {
	t.Helper()
	return map[string]func() CooldownTracker{
		"memory": func() CooldownTracker { return NewMemoryCooldownTracker() },
		"redis": func() CooldownTracker {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { client.Close() }) //nolint:errcheck // test cleanup
			return NewRedisCooldownTracker(client, "")
		},
	}
}

func TestCooldownTracker_Contract(t *testing.T) {
	ctx := context.Background()

	for name, newTracker := range trackerFactories(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("first reservation succeeds", func(t *testing.T) {
				tr := newTracker()
				ok, err := tr.TryReserve(ctx, "r1", baseTime, 30)
				require.NoError(t, err)
				assert.True(t, ok)
			})

			t.Run("inside window is refused", func(t *testing.T) {
				tr := newTracker()
				ok, err := tr.TryReserve(ctx, "r1", baseTime, 30)
				require.NoError(t, err)
				require.True(t, ok)

				ok, err = tr.TryReserve(ctx, "r1", baseTime.Add(29*time.Minute+59*time.Second), 30)
				require.NoError(t, err)
				assert.False(t, ok)
			})

			t.Run("window boundary reserves", func(t *testing.T) {
				tr := newTracker()
				_, err := tr.TryReserve(ctx, "r1", baseTime, 30)
				require.NoError(t, err)

				ok, err := tr.TryReserve(ctx, "r1", baseTime.Add(30*time.Minute), 30)
				require.NoError(t, err)
				assert.True(t, ok)

				// The new reservation restarts the window.
				ok, err = tr.TryReserve(ctx, "r1", baseTime.Add(31*time.Minute), 30)
				require.NoError(t, err)
				assert.False(t, ok)
			})

			t.Run("zero cooldown always reserves", func(t *testing.T) {
				tr := newTracker()
				for i := 0; i < 3; i++ {
					ok, err := tr.TryReserve(ctx, "r1", baseTime, 0)
					require.NoError(t, err)
					assert.True(t, ok)
				}
			})

			t.Run("rules are independent", func(t *testing.T) {
				tr := newTracker()
				_, err := tr.TryReserve(ctx, "r1", baseTime, 60)
				require.NoError(t, err)

				ok, err := tr.TryReserve(ctx, "r2", baseTime, 60)
				require.NoError(t, err)
				assert.True(t, ok)
			})

			t.Run("observe seeds the window", func(t *testing.T) {
				tr := newTracker()
				require.NoError(t, tr.Observe(ctx, "r1", baseTime))

				ok, err := tr.TryReserve(ctx, "r1", baseTime.Add(10*time.Minute), 30)
				require.NoError(t, err)
				assert.False(t, ok)
			})

			t.Run("observe never moves backwards", func(t *testing.T) {
				tr := newTracker()
				ok, err := tr.TryReserve(ctx, "r1", baseTime, 30)
				require.NoError(t, err)
				require.True(t, ok)

				require.NoError(t, tr.Observe(ctx, "r1", baseTime.Add(-2*time.Hour)))

				ok, err = tr.TryReserve(ctx, "r1", baseTime.Add(5*time.Minute), 30)
				require.NoError(t, err)
				assert.False(t, ok, "stale observation reopened the window")
			})

			t.Run("concurrent reservations have one winner", func(t *testing.T) {
				tr := newTracker()
				var wins atomic.Int32
				var wg sync.WaitGroup
				for i := 0; i < 20; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						ok, err := tr.TryReserve(ctx, "r1", baseTime, 15)
						if err == nil && ok {
							wins.Add(1)
						}
					}()
				}
				wg.Wait()
				assert.Equal(t, int32(1), wins.Load())
			})
		})
	}
}

func TestMemoryCooldownTracker_Monotonic(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryCooldownTracker()

	_, err := tr.TryReserve(ctx, "r1", baseTime, 0)
	require.NoError(t, err)
	// An older clock reading still reserves with cooldown 0 but must not
	// rewind the stored time.
	ok, err := tr.TryReserve(ctx, "r1", baseTime.Add(-time.Minute), 0)
	require.NoError(t, err)
	assert.True(t, ok)

	last, seen := tr.LastTriggered("r1")
	require.True(t, seen)
	assert.True(t, last.Equal(baseTime))

	require.NoError(t, tr.Forget(ctx, "r1"))
	_, seen = tr.LastTriggered("r1")
	assert.False(t, seen)
}

func TestCooldownTracker_Forget(t *testing.T) {
	for name, factory := range trackerFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			reserver := factory()
			tr, ok := reserver.(CooldownForgetter)
			require.True(t, ok, "tracker does not implement CooldownForgetter")

			won, err := reserver.TryReserve(ctx, "r1", baseTime, 10)
			require.NoError(t, err)
			require.True(t, won)
			won, err = reserver.TryReserve(ctx, "r1", baseTime.Add(time.Minute), 10)
			require.NoError(t, err)
			require.False(t, won)

			require.NoError(t, tr.Forget(ctx, "r1"))
			require.NoError(t, tr.Forget(ctx, "never-seen"))

			won, err = reserver.TryReserve(ctx, "r1", baseTime.Add(time.Minute), 10)
			require.NoError(t, err)
			assert.True(t, won, "reservation still gated after Forget")
		})
	}
}

func TestRedisCooldownTracker_Keys(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	tr := NewRedisCooldownTracker(client, "test:cd:")
	ok, err := tr.TryReserve(ctx, "rule-1", baseTime, 5)
	require.NoError(t, err)
	require.True(t, ok)

	assert.True(t, mr.Exists("test:cd:rule-1"))

	last, seen, err := tr.LastTriggered(ctx, "rule-1")
	require.NoError(t, err)
	require.True(t, seen)
	assert.True(t, last.Equal(baseTime))

	_, seen, err = tr.LastTriggered(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestRedisCooldownTracker_StorageError(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	tr := NewRedisCooldownTracker(client, "")
	_, err := tr.TryReserve(ctx, "r1", baseTime, 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStorage))

	err = tr.Observe(ctx, "r1", baseTime)
	assert.True(t, errors.Is(err, ErrStorage))
}
