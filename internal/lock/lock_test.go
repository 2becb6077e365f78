package lock

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHolderKey(t *testing.T) {
	assert.Equal(t, "holder:42", HolderKey(42))
}

func exerciseLocker(t *testing.T, l Locker) {
	t.Helper()
	ctx := context.Background()
	key := HolderKey(time.Now().UnixNano())

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, key)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(2 * time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func TestKeyedMutex_Exclusive(t *testing.T) {
	exerciseLocker(t, NewKeyedMutex())
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	k := NewKeyedMutex()
	ctx := context.Background()

	unlockA, err := k.Lock(ctx, HolderKey(1))
	require.NoError(t, err)
	defer unlockA()

	unlockB, err := k.Lock(ctx, HolderKey(2))
	require.NoError(t, err)
	unlockB()
}

func TestKeyedMutex_ContextCancelled(t *testing.T) {
	k := NewKeyedMutex()
	unlock, err := k.Lock(context.Background(), "busy")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = k.Lock(ctx, "busy")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()

	again, err := k.Lock(context.Background(), "busy")
	require.NoError(t, err)
	again()
	assert.Empty(t, k.locks)
}

func TestRedisLocker_Exclusive(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client, err := Connect(context.Background(), addr)
	require.NoError(t, err)
	defer client.Close()

	exerciseLocker(t, NewRedisLocker(client, logrus.New(), "microcredit:test", time.Second))
}

func TestOpen_WithoutRedisUsesKeyedMutex(t *testing.T) {
	l, closeFn, err := Open(context.Background(), "", logrus.New())
	require.NoError(t, err)
	defer closeFn()
	assert.IsType(t, &KeyedMutex{}, l)
}
