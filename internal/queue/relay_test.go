package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	rd "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *rd.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestRelayEnsureGroupIsIdempotent(t *testing.T) {
	rdb := newTestRedis(t)
	r := NewRelay(rdb, nil, "stream.orders", "order-relay", "relay-1")
	ctx := context.Background()

	require.NoError(t, r.ensureGroup(ctx))
	// 组已存在（BUSYGROUP）不是错误。
	require.NoError(t, r.ensureGroup(ctx))
}

func TestRelayRetriesGroupCreationAtBoot(t *testing.T) {
	// 指向无人监听的地址：建组持续失败。
	rdb := rd.NewClient(&rd.Options{
		Addr:            "127.0.0.1:1",
		DialTimeout:     50 * time.Millisecond,
		MaxRetries:      -1,
		MaxRetryBackoff: -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })
	r := NewRelay(rdb, nil, "stream.orders", "order-relay", "relay-1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	// Redis 不可达期间 Relay 必须留在重试循环里，而不是退出。
	select {
	case <-done:
		t.Fatal("relay gave up after a boot-time redis failure")
	case <-time.After(900 * time.Millisecond):
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not exit on ctx cancel")
	}
}

func TestRelayAcksAndDropsDirtyMessage(t *testing.T) {
	rdb := newTestRedis(t)
	r := NewRelay(rdb, nil, "stream.orders", "order-relay", "relay-1")
	ctx := context.Background()
	require.NoError(t, r.ensureGroup(ctx))

	// 字段残缺的脏消息：parse 失败走 ACK+DEL，绝不触达 Kafka。
	require.NoError(t, rdb.XAdd(ctx, &rd.XAddArgs{
		Stream: "stream.orders",
		Values: map[string]interface{}{"id": "garbage"},
	}).Err())

	msgs, err := r.readGroup(ctx, ">", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	require.NoError(t, r.forward(ctx, msgs[0]))

	length, err := rdb.XLen(ctx, "stream.orders").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), length, "dirty message is deleted from the stream")

	pending, err := rdb.XPending(ctx, "stream.orders", "order-relay").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending.Count, "dirty message is acked")
}
