package lock

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"whatsapp-crm/internal/config"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLockerExclusive(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	lease, err := l.Acquire(ctx, ContactKey(1), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "contact:1", lease.Key())

	_, err = l.Acquire(ctx, ContactKey(1), time.Minute)
	assert.ErrorIs(t, err, ErrLeaseHeld)

	other, err := l.Acquire(ctx, ContactKey(2), time.Minute)
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lease.Release(ctx))
	again, err := l.Acquire(ctx, ContactKey(1), time.Minute)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestMemoryLockerExpiry(t *testing.T) {
	l := NewMemoryLocker()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	stale, err := l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	fresh, err := l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err, "an expired lease can be taken over")

	// the old holder must not free the new holder's lease
	require.NoError(t, stale.Release(ctx))
	_, err = l.Acquire(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, ErrLeaseHeld)

	require.NoError(t, fresh.Release(ctx))
}

func TestMemoryLockerConcurrentAcquire(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Acquire(ctx, "contact:9", time.Minute); err == nil {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, won)
}

func TestMemoryLockerCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMemoryLocker().Acquire(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	l := NewRedisLocker(config.RedisConfig{Enabled: true, Address: addr})
	t.Cleanup(func() { l.Close() })
	ctx := context.Background()
	require.NoError(t, l.Ping(ctx))

	key := "test:" + uuid.NewString()
	lease, err := l.Acquire(ctx, key, 5*time.Second)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, key, 5*time.Second)
	assert.ErrorIs(t, err, ErrLeaseHeld)

	require.NoError(t, lease.Release(ctx))
	require.NoError(t, lease.Release(ctx), "double release is harmless")

	again, err := l.Acquire(ctx, key, 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}
