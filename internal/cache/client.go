package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	rd "github.com/redis/go-redis/v9"

	rediskey "github.com/yue99520/hmdp/pkg/redis"
)

// Strategy 缓存重建策略。
type Strategy string

const (
	// StrategySimple 未命中直接回源重建，空值写短 TTL 墓碑防穿透。
	StrategySimple Strategy = "simple"
	// StrategyMutex 互斥重建：同一 key 并发回源收敛为一次，未抢到锁的调用方短睡重试。
	StrategyMutex Strategy = "mutex"
	// StrategyLogicExpiration 逻辑过期：读永不阻塞，过期返回旧值并异步触发一次重建。
	StrategyLogicExpiration Strategy = "logic-expiration"
)

// ErrNotFound 实体在权威存储中不存在（含墓碑命中）。
var ErrNotFound = errors.New("cache: entity not found")

// mutexRetryInterval 互斥策略抢锁失败后的重试间隔。
const mutexRetryInterval = 30 * time.Millisecond

// LoadFunc 回源函数，返回 nil 表示权威存储中不存在。
type LoadFunc[T any] func(ctx context.Context, id int64) (*T, error)

// Options 控制 TTL、锁与策略选择。
type Options struct {
	Strategy Strategy
	// TTL 正值缓存的物理 TTL（simple/mutex）或逻辑过期时长（logic-expiration）。
	TTL time.Duration
	// NullTTL 空值墓碑 TTL，须短于 TTL，让后续成功写入能尽快覆盖。
	NullTTL time.Duration
	LockTTL time.Duration

	KeyFunc     func(id int64) string
	LockKeyFunc func(id int64) string
}

// Client 某一实体类型的缓存旁路客户端。
// 读路径先查 Redis，未命中按策略回源重建；重建是幂等的，
// 并发重复重建收敛到同一份最终缓存状态。
type Client[T any] struct {
	rdb  *rd.Client
	load LoadFunc[T]
	opts Options
	now  func() time.Time
}

func NewClient[T any](rdb *rd.Client, load LoadFunc[T], opts Options) *Client[T] {
	return &Client[T]{rdb: rdb, load: load, opts: opts, now: time.Now}
}

// Query 按配置的策略读取实体。实体不存在返回 ErrNotFound。
func (c *Client[T]) Query(ctx context.Context, id int64) (*T, error) {
	switch c.opts.Strategy {
	case StrategyMutex:
		return c.queryWithMutexRebuild(ctx, id)
	case StrategyLogicExpiration:
		return c.queryWithLogicExpirationRebuild(ctx, id)
	default:
		return c.queryWithSimpleRebuild(ctx, id)
	}
}

// Evict 删除缓存键，写路径在事务提交后调用。
func (c *Client[T]) Evict(ctx context.Context, id int64) error {
	return c.rdb.Del(ctx, c.opts.KeyFunc(id)).Err()
}

func (c *Client[T]) queryWithSimpleRebuild(ctx context.Context, id int64) (*T, error) {
	result, err := c.queryFromCache(ctx, id)
	if err != nil {
		return nil, err
	}
	if result.Hit() {
		return dataOrNotFound(result)
	}
	return c.rebuild(ctx, id)
}

// queryWithMutexRebuild 抢到锁的调用方负责重建，其余调用方
// 短睡后重查缓存，直到命中或轮到自己重建。
func (c *Client[T]) queryWithMutexRebuild(ctx context.Context, id int64) (*T, error) {
	lockKey := c.opts.LockKeyFunc(id)

	for {
		result, err := c.queryFromCache(ctx, id)
		if err != nil {
			return nil, err
		}
		if result.Hit() {
			return dataOrNotFound(result)
		}

		lock := rediskey.NewLock(c.rdb, lockKey)
		locked, err := lock.TryLock(ctx, c.opts.LockTTL)
		if err != nil {
			return nil, err
		}
		if !locked {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(mutexRetryInterval):
			}
			continue
		}

		// double check：锁的前任持有者可能刚完成重建。
		value, err := func() (*T, error) {
			defer func() {
				if err := lock.Unlock(context.WithoutCancel(ctx)); err != nil {
					log.Printf("cache: unlock %s: %v", lockKey, err)
				}
			}()
			result, err := c.queryFromCache(ctx, id)
			if err != nil {
				return nil, err
			}
			if result.Hit() {
				return dataOrNotFound(result)
			}
			return c.rebuild(ctx, id)
		}()
		return value, err
	}
}

// queryWithLogicExpirationRebuild 永不阻塞调用方：
// 新鲜直接返回；陈旧返回旧值并（抢到锁时）后台重建一次；
// 真正的冷缓存走一次互斥阻塞初始化。
func (c *Client[T]) queryWithLogicExpirationRebuild(ctx context.Context, id int64) (*T, error) {
	lockKey := c.opts.LockKeyFunc(id)

	result, err := c.queryEnvelopeFromCache(ctx, id)
	if err != nil {
		return nil, err
	}
	if result.Hit() {
		envelope := result.Data()
		if envelope == nil {
			return nil, ErrNotFound
		}
		if envelope.ExpireAt.After(c.now()) {
			return &envelope.Data, nil
		}

		// 过期：返回旧值，锁内异步重建；抢不到锁说明已有重建在途，跳过。
		lock := rediskey.NewLock(c.rdb, lockKey)
		locked, err := lock.TryLock(ctx, c.opts.LockTTL)
		if err != nil {
			log.Printf("cache: try rebuild lock %s: %v", lockKey, err)
			return &envelope.Data, nil
		}
		if locked {
			go func() {
				bgCtx := context.WithoutCancel(ctx)
				defer func() {
					if err := lock.Unlock(bgCtx); err != nil {
						log.Printf("cache: unlock %s: %v", lockKey, err)
					}
				}()
				// double check：锁的前任持有者可能刚刷新过。
				r, err := c.queryEnvelopeFromCache(bgCtx, id)
				if err == nil && r.Hit() && r.Data() != nil && r.Data().ExpireAt.After(c.now()) {
					return
				}
				if _, err := c.rebuildWithLogicExpiration(bgCtx, id); err != nil {
					log.Printf("cache: async rebuild id=%d: %v", id, err)
				}
			}()
		}
		return &envelope.Data, nil
	}

	// 冷缓存：退回互斥阻塞路径完成首次填充。
	for {
		lock := rediskey.NewLock(c.rdb, lockKey)
		locked, err := lock.TryLock(ctx, c.opts.LockTTL)
		if err != nil {
			return nil, err
		}
		if !locked {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(mutexRetryInterval):
			}
			result, err := c.queryEnvelopeFromCache(ctx, id)
			if err != nil {
				return nil, err
			}
			if result.Hit() {
				return envelopeDataOrNotFound(result)
			}
			continue
		}

		value, err := func() (*T, error) {
			defer func() {
				if err := lock.Unlock(context.WithoutCancel(ctx)); err != nil {
					log.Printf("cache: unlock %s: %v", lockKey, err)
				}
			}()
			result, err := c.queryEnvelopeFromCache(ctx, id)
			if err != nil {
				return nil, err
			}
			if result.Hit() {
				return envelopeDataOrNotFound(result)
			}
			return c.rebuildWithLogicExpiration(ctx, id)
		}()
		return value, err
	}
}

// queryFromCache 读取物理 TTL 形态的缓存值。
// 反序列化失败按未命中处理并记录日志，绝不让坏缓存拖垮请求。
func (c *Client[T]) queryFromCache(ctx context.Context, id int64) (Result[T], error) {
	raw, err := c.rdb.Get(ctx, c.opts.KeyFunc(id)).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return MissResult[T](), nil
		}
		return MissResult[T](), err
	}
	if raw == "" {
		return HitResult[T](nil), nil
	}
	var value T
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		log.Printf("cache: corrupt payload id=%d, treated as miss: %v", id, err)
		return MissResult[T](), nil
	}
	return HitResult(&value), nil
}

func (c *Client[T]) queryEnvelopeFromCache(ctx context.Context, id int64) (Result[Envelope[T]], error) {
	raw, err := c.rdb.Get(ctx, c.opts.KeyFunc(id)).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return MissResult[Envelope[T]](), nil
		}
		return MissResult[Envelope[T]](), err
	}
	if raw == "" {
		return HitResult[Envelope[T]](nil), nil
	}
	var envelope Envelope[T]
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		log.Printf("cache: corrupt payload id=%d, treated as miss: %v", id, err)
		return MissResult[Envelope[T]](), nil
	}
	return HitResult(&envelope), nil
}

// rebuild 回源重建物理 TTL 缓存；不存在写短 TTL 墓碑。
func (c *Client[T]) rebuild(ctx context.Context, id int64) (*T, error) {
	value, err := c.load(ctx, id)
	if err != nil {
		return nil, err
	}
	key := c.opts.KeyFunc(id)
	if value == nil {
		if err := c.rdb.Set(ctx, key, "", c.opts.NullTTL).Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	if err := c.rdb.Set(ctx, key, payload, c.opts.TTL).Err(); err != nil {
		return nil, err
	}
	return value, nil
}

// rebuildWithLogicExpiration 回源重建逻辑过期缓存。
// 正值不设物理 TTL；墓碑仍带短 TTL，让实体出现后能自然转正。
func (c *Client[T]) rebuildWithLogicExpiration(ctx context.Context, id int64) (*T, error) {
	value, err := c.load(ctx, id)
	if err != nil {
		return nil, err
	}
	key := c.opts.KeyFunc(id)
	if value == nil {
		if err := c.rdb.Set(ctx, key, "", c.opts.NullTTL).Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	payload, err := json.Marshal(Envelope[T]{Data: *value, ExpireAt: c.now().Add(c.opts.TTL)})
	if err != nil {
		return nil, err
	}
	if err := c.rdb.Set(ctx, key, payload, 0).Err(); err != nil {
		return nil, err
	}
	return value, nil
}

func dataOrNotFound[T any](result Result[T]) (*T, error) {
	if result.Data() == nil {
		return nil, ErrNotFound
	}
	return result.Data(), nil
}

func envelopeDataOrNotFound[T any](result Result[Envelope[T]]) (*T, error) {
	envelope := result.Data()
	if envelope == nil {
		return nil, ErrNotFound
	}
	return &envelope.Data, nil
}
