package seckill

import (
	"context"
	"errors"
	"log"
	"time"

	rd "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yue99520/hmdp/internal/model"
	rediskey "github.com/yue99520/hmdp/pkg/redis"
)

// syncLockStrategy 同步准入：校验走 DB，一人一单靠用户维度分布式锁串行化，
// 扣减与写单在持锁期间的单个事务内完成。请求返回即订单可见。
// 吞吐受限于 DB，但没有异步链路，适合小流量或强一致诉求的场景。
type syncLockStrategy struct {
	db        *gorm.DB
	rdb       *rd.Client
	idgen     *rediskey.IDGenerator
	persister *Persister
	lockTTL   time.Duration
	now       func() time.Time
}

func (s *syncLockStrategy) Seckill(ctx context.Context, userID, voucherID int64) (int64, error) {
	var voucher model.Voucher
	if err := s.db.WithContext(ctx).First(&voucher, voucherID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrVoucherNotFound
		}
		return 0, err
	}

	now := s.now()
	if now.Before(voucher.BeginTime) {
		return 0, ErrNotStarted
	}
	if now.After(voucher.EndTime) {
		return 0, ErrExpired
	}
	if voucher.Stock < 1 {
		return 0, ErrOutOfStock
	}

	// 用户维度锁快速失败：同一用户的并发请求只放行一个，
	// 其余直接拒绝而非排队，避免重复下单窗口。
	lock := rediskey.NewLock(s.rdb, rediskey.LockOrderKey(userID))
	locked, err := lock.TryLock(ctx, s.lockTTL)
	if err != nil {
		return 0, err
	}
	if !locked {
		return 0, ErrLockContended
	}
	defer func() {
		if err := lock.Unlock(context.WithoutCancel(ctx)); err != nil {
			log.Printf("seckill: unlock order lock user=%d: %v", userID, err)
		}
	}()

	var count int64
	if err := s.db.WithContext(ctx).Model(&model.VoucherOrder{}).
		Where("user_id = ? AND voucher_id = ?", userID, voucherID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, ErrAlreadyOrdered
	}

	orderID, err := s.idgen.NextID(ctx, orderIDPrefix)
	if err != nil {
		return 0, err
	}
	order := &model.VoucherOrder{ID: orderID, UserID: userID, VoucherID: voucherID}
	if err := s.persister.CreateVoucherOrder(ctx, order); err != nil {
		// 拒绝原因由 persister 包装成具体的哨兵错误（券被删、
		// 窗口在预检后关闭、条件扣减落败），原样上抛，不一律按库存不足报。
		return 0, err
	}
	return orderID, nil
}

func (s *syncLockStrategy) Run(ctx context.Context) {}
