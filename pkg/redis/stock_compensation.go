package redis

import (
	"context"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// luaCompensateStockOnce 通过 SETNX 锁保证"同一订单只回补一次"。
// 回补 = 库存 +1 且撤销该用户的已购标记，使其可以重新抢购。
const luaCompensateStockOnce = `
local lockKey = KEYS[1]
local voucherKey = KEYS[2]
local orderSetKey = KEYS[3]
local userID = ARGV[1]
local ttlSec = tonumber(ARGV[2])

if redis.call('SETNX', lockKey, '1') == 1 then
  redis.call('EXPIRE', lockKey, ttlSec)
  redis.call('HINCRBY', voucherKey, 'stock', 1)
  redis.call('SREM', orderSetKey, userID)
  return 1
end
return 0
`

// CompensateStockOnce 幂等回补秒杀库存。
// 预扣减成功但订单无法入队时调用，避免库存被永久占用：
// - 首次回补返回 true
// - 重复回补返回 false（不会重复加库存）
func CompensateStockOnce(ctx context.Context, rdb *rd.Client, orderID, voucherID, userID int64) (bool, error) {
	const lockTTLSeconds = int64((7 * 24 * time.Hour) / time.Second)

	n, err := rdb.Eval(ctx, luaCompensateStockOnce,
		[]string{CompensationLockKey(orderID), SeckillVoucherKey(voucherID), SeckillOrderSetKey(voucherID)},
		userID, lockTTLSeconds).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
