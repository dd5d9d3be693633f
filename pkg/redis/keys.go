package redis

import "fmt"

// CacheShopKey 商铺详情缓存键。
func CacheShopKey(shopID int64) string {
	return fmt.Sprintf("cache:shop:%d", shopID)
}

// CacheShopTypeKey 商铺类型列表缓存键（ZSet，按 sort 排序）。
const CacheShopTypeKey = "cache:shop-type"

// LockShopKey 商铺缓存重建互斥锁键。
func LockShopKey(shopID int64) string {
	return fmt.Sprintf("lock:shop:%d", shopID)
}

// LockOrderKey 用户下单互斥锁键（一人一单）。
func LockOrderKey(userID int64) string {
	return fmt.Sprintf("lock:order:%d", userID)
}

// SeckillVoucherKey 秒杀券元数据 Hash（stock / begin_time / end_time）。
func SeckillVoucherKey(voucherID int64) string {
	return fmt.Sprintf("seckill:voucher:%d", voucherID)
}

// SeckillOrderSetKey 已抢购用户集合，支撑一人一单的快路径判断。
func SeckillOrderSetKey(voucherID int64) string {
	return fmt.Sprintf("seckill:order:%d", voucherID)
}

// IDIncrementKey 全局 ID 生成器的每日计数器键。
func IDIncrementKey(prefix, yyyyMMdd string) string {
	return fmt.Sprintf("id:increment:%s:%s", prefix, yyyyMMdd)
}

// CompensationLockKey 标记某个订单 ID 是否已做过库存回补。
func CompensationLockKey(orderID int64) string {
	return fmt.Sprintf("seckill:stock:compensated:%d", orderID)
}

// RateLimitUserKey 按用户维度的秒杀限流键。
func RateLimitUserKey(userID int64) string {
	return fmt.Sprintf("rate_limit:seckill:user:%d", userID)
}

// RateLimitIPKey 按 IP 维度的秒杀限流键（无法识别用户时降级使用）。
func RateLimitIPKey(ip string) string {
	return fmt.Sprintf("rate_limit:seckill:ip:%s", ip)
}
