package seckill

import "errors"

// 业务拒绝作为类型化结果返回给调用方，不跨准入边界 panic。
var (
	// ErrVoucherNotFound 优惠券不存在（未创建或未预热）。
	ErrVoucherNotFound = errors.New("seckill: voucher not found")
	// ErrNotStarted 秒杀尚未开始。
	ErrNotStarted = errors.New("seckill: voucher sale not started")
	// ErrExpired 秒杀已结束。
	ErrExpired = errors.New("seckill: voucher sale ended")
	// ErrOutOfStock 库存不足。
	ErrOutOfStock = errors.New("seckill: out of stock")
	// ErrAlreadyOrdered 一人一单限制：该用户已抢购过。
	ErrAlreadyOrdered = errors.New("seckill: user already ordered")
	// ErrLockContended 用户维度锁竞争（同一用户并发下单），可由调用方重试。
	ErrLockContended = errors.New("seckill: order is processing")

	// ErrOrderRejected 消费侧终态拒绝：重试不会成功，记录应被丢弃。
	ErrOrderRejected = errors.New("seckill: order rejected")
)
