package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
)

// luaUnlockIfMatch 仅当锁值与持有者令牌一致时才删除。
// 防止：A 的锁 TTL 过期后 B 拿到锁，A 延迟到达的 unlock 误删 B 的锁。
const luaUnlockIfMatch = `
local lockKey = KEYS[1]
local token = ARGV[1]
if redis.call('GET', lockKey) == token then
  return redis.call('DEL', lockKey)
end
return 0
`

// Lock 基于 Redis SET NX EX 的分布式互斥锁。
// 每个实例持有唯一 token，释放走 Lua 比对删除。
// TryLock 返回 false 属于正常竞争结果，不是错误；
// 调用方自行选择快速失败或带间隔重试。
type Lock struct {
	rdb   *rd.Client
	key   string
	token string
}

// NewLock 创建一把指向 key 的锁，token 由 uuid 生成、实例内唯一。
func NewLock(rdb *rd.Client, key string) *Lock {
	return &Lock{
		rdb:   rdb,
		key:   key,
		token: uuid.New().String(),
	}
}

// TryLock 单次非阻塞抢锁，ttl 为服务端自动过期时间，兜底持有者崩溃。
func (l *Lock) TryLock(ctx context.Context, ttl time.Duration) (bool, error) {
	return l.rdb.SetNX(ctx, l.key, l.token, ttl).Result()
}

// Unlock 释放锁。令牌不匹配（锁已过期并被他人持有）时是无害的空操作。
func (l *Lock) Unlock(ctx context.Context) error {
	return l.rdb.Eval(ctx, luaUnlockIfMatch, []string{l.key}, l.token).Err()
}
