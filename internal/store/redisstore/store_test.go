package redisstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s := NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestListPrimitives(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for _, v := range []string{"a", "b", "c", "d"} {
		_, err := s.Push(ctx, "k", v)
		require.NoError(t, err)
	}
	n, err := s.Len(ctx, "k")
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)

	head, err := s.Range(ctx, "k", 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, head)

	require.NoError(t, s.Trim(ctx, "k", -2, -1))
	all, err := s.Range(ctx, "k", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "d"}, all)
}

func TestGetSetAndExpiry(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "summary")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "summary", "digest", time.Minute))
	v, ok, err := s.Get(ctx, "summary")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "digest", v)

	alive, err := s.Exists(ctx, "missing", "summary")
	require.NoError(t, err)
	assert.True(t, alive)

	mr.FastForward(2 * time.Minute)
	alive, err = s.Exists(ctx, "summary")
	require.NoError(t, err)
	assert.False(t, alive)
}

func TestLock_ExclusiveUntilReleased(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	unlock, err := s.Lock(ctx, "lock", time.Second)
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 80*time.Millisecond)
	defer cancel()
	_, err = s.Lock(short, "lock", time.Second)
	assert.True(t, errors.Is(err, ErrLockTimeout))

	unlock()
	unlock()

	again, err := s.Lock(ctx, "lock", time.Second)
	require.NoError(t, err)
	again()
}

func TestLock_RefreshedWhileHeld(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	unlock, err := s.Lock(ctx, "lock", 150*time.Millisecond)
	require.NoError(t, err)

	// a holder slower than the ttl keeps the key
	mr.FastForward(100 * time.Millisecond)
	require.Eventually(t, func() bool {
		return mr.TTL("lock") > 100*time.Millisecond
	}, time.Second, 10*time.Millisecond)
	mr.FastForward(100 * time.Millisecond)
	assert.True(t, mr.Exists("lock"))

	unlock()
	assert.False(t, mr.Exists("lock"))

	// a released lock is no longer extended
	time.Sleep(120 * time.Millisecond)
	assert.False(t, mr.Exists("lock"))
}
