package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	rd "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *rd.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestLockMutualExclusion(t *testing.T) {
	_, rdb := newTestClient(t)
	ctx := context.Background()

	a := NewLock(rdb, "lock:shop:1")
	b := NewLock(rdb, "lock:shop:1")

	locked, err := a.TryLock(ctx, 10*time.Second)
	require.NoError(t, err)
	assert.True(t, locked)

	locked, err = b.TryLock(ctx, 10*time.Second)
	require.NoError(t, err)
	assert.False(t, locked, "second owner must not acquire a held lock")

	require.NoError(t, a.Unlock(ctx))

	locked, err = b.TryLock(ctx, 10*time.Second)
	require.NoError(t, err)
	assert.True(t, locked, "lock must be acquirable after release")
}

func TestLockDelayedUnlockDoesNotRemoveNewOwner(t *testing.T) {
	mr, rdb := newTestClient(t)
	ctx := context.Background()

	a := NewLock(rdb, "lock:order:7")
	locked, err := a.TryLock(ctx, 2*time.Second)
	require.NoError(t, err)
	require.True(t, locked)

	// A 的锁 TTL 过期，B 接手。
	mr.FastForward(3 * time.Second)

	b := NewLock(rdb, "lock:order:7")
	locked, err = b.TryLock(ctx, 10*time.Second)
	require.NoError(t, err)
	require.True(t, locked)

	// A 迟到的 unlock 不能删掉 B 的锁。
	require.NoError(t, a.Unlock(ctx))
	assert.True(t, mr.Exists("lock:order:7"), "token mismatch release must be a no-op")

	require.NoError(t, b.Unlock(ctx))
	assert.False(t, mr.Exists("lock:order:7"))
}

func TestLockExpiresServerSide(t *testing.T) {
	mr, rdb := newTestClient(t)
	ctx := context.Background()

	a := NewLock(rdb, "lock:shop:9")
	locked, err := a.TryLock(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, locked)

	mr.FastForward(2 * time.Second)

	b := NewLock(rdb, "lock:shop:9")
	locked, err = b.TryLock(ctx, time.Second)
	require.NoError(t, err)
	assert.True(t, locked, "crashed holder must not wedge the lock past its TTL")
}
