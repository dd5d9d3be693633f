package seckill

import (
	"context"
	"strconv"
	"time"

	rd "github.com/redis/go-redis/v9"

	"github.com/yue99520/hmdp/internal/model"
	rediskey "github.com/yue99520/hmdp/pkg/redis"
)

// luaPreorder：Redis 内原子「校验时间窗 → 校验库存 → 一人一单 → 扣减 + 打标 + 入流」。
// 步骤对任何并发调用方不可分割，是防超卖与防重复购买的唯一依赖点。
// KEYS[1]=券元数据 Hash，KEYS[2]=已购用户集合，KEYS[3]=订单流（空串表示不入流）
// ARGV[1]=userID，ARGV[2]=orderID，ARGV[3]=now（unix 秒），ARGV[4]=voucherID
// 返回 0 成功；-1 券不存在；-2 库存不足；-3 已购买过；-4 未开始；-5 已结束
const luaPreorder = `
local voucherKey = KEYS[1]
local orderSetKey = KEYS[2]
local streamKey = KEYS[3]
local userID = ARGV[1]
local orderID = ARGV[2]
local now = tonumber(ARGV[3])
local voucherID = ARGV[4]

local stock = redis.call('HGET', voucherKey, 'stock')
if not stock then
  return -1
end
if now < tonumber(redis.call('HGET', voucherKey, 'begin_time')) then
  return -4
end
if now > tonumber(redis.call('HGET', voucherKey, 'end_time')) then
  return -5
end
if tonumber(stock) <= 0 then
  return -2
end
if redis.call('SISMEMBER', orderSetKey, userID) == 1 then
  return -3
end

redis.call('HINCRBY', voucherKey, 'stock', -1)
redis.call('SADD', orderSetKey, userID)
if streamKey ~= '' then
  redis.call('XADD', streamKey, '*', 'id', orderID, 'user_id', userID, 'voucher_id', voucherID)
end
return 0
`

// evalPreorder 执行预下单脚本并把返回码映射为类型化错误。
// stream 非空时，订单事件在同一原子步骤内写入 Redis Stream。
func evalPreorder(ctx context.Context, rdb *rd.Client, userID, voucherID, orderID int64, now time.Time, stream string) error {
	res, err := rdb.Eval(ctx, luaPreorder,
		[]string{rediskey.SeckillVoucherKey(voucherID), rediskey.SeckillOrderSetKey(voucherID), stream},
		userID, orderID, now.Unix(), voucherID).Int()
	if err != nil {
		return err
	}
	switch res {
	case 0:
		return nil
	case -1:
		return ErrVoucherNotFound
	case -2:
		return ErrOutOfStock
	case -3:
		return ErrAlreadyOrdered
	case -4:
		return ErrNotStarted
	case -5:
		return ErrExpired
	default:
		return errUnknownPreorderCode(res)
	}
}

type errUnknownPreorderCode int

func (e errUnknownPreorderCode) Error() string {
	return "seckill: unknown preorder result code " + strconv.Itoa(int(e))
}

// CacheVoucher 将券的库存与时间窗预热到 Redis Hash，供预下单脚本读取。
// 创建券之后、秒杀开始之前调用。
func CacheVoucher(ctx context.Context, rdb *rd.Client, voucher *model.Voucher) error {
	return rdb.HSet(ctx, rediskey.SeckillVoucherKey(voucher.ID),
		"stock", voucher.Stock,
		"begin_time", voucher.BeginTime.Unix(),
		"end_time", voucher.EndTime.Unix(),
	).Err()
}
