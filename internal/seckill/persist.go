package seckill

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/yue99520/hmdp/internal/model"
)

// Persister 负责把已准入的订单落库。
// 投递语义是 at-least-once，所以这里必须幂等：
// 重复投递在一人一单复查或唯一索引处收敛为无害空操作。
type Persister struct {
	db  *gorm.DB
	now func() time.Time
}

func NewPersister(db *gorm.DB) *Persister {
	return &Persister{db: db, now: time.Now}
}

// CreateVoucherOrder 校验后在单个事务内完成「条件扣减库存 + 写订单」。
// 错误分类：
// - ErrOrderRejected：校验不通过或库存/唯一性竞争落败，终态，调用方丢弃记录
// - nil 且重复投递：空操作成功
// - 其他错误：基础设施故障，可重试
func (p *Persister) CreateVoucherOrder(ctx context.Context, order *model.VoucherOrder) error {
	var voucher model.Voucher
	if err := p.db.WithContext(ctx).First(&voucher, order.VoucherID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: voucher %d: %w", ErrOrderRejected, order.VoucherID, ErrVoucherNotFound)
		}
		return err
	}

	// 纵深防御：即使准入脚本被绕过或配置错误，落库前也再验一次业务不变量。
	// 拒绝同时包装具体原因，调用方无需把所有拒绝一律当库存不足。
	now := p.now()
	if now.Before(voucher.BeginTime) {
		return fmt.Errorf("%w: voucher %d: %w", ErrOrderRejected, order.VoucherID, ErrNotStarted)
	}
	if now.After(voucher.EndTime) {
		return fmt.Errorf("%w: voucher %d: %w", ErrOrderRejected, order.VoucherID, ErrExpired)
	}
	if voucher.Stock < 1 {
		return fmt.Errorf("%w: voucher %d: %w", ErrOrderRejected, order.VoucherID, ErrOutOfStock)
	}

	// 一人一单复查：重复投递直接当作成功。
	var count int64
	if err := p.db.WithContext(ctx).Model(&model.VoucherOrder{}).
		Where("user_id = ? AND voucher_id = ?", order.UserID, order.VoucherID).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if order.PayValue == 0 {
		order.PayValue = voucher.PayValue
	}

	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Voucher{}).
			Where("id = ? AND stock > 0", order.VoucherID).
			UpdateColumn("stock", gorm.Expr("stock - 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: voucher %d durable stock exhausted: %w", ErrOrderRejected, order.VoucherID, ErrOutOfStock)
		}
		return tx.Create(order).Error
	})
	if err != nil {
		// 并发落库输掉唯一索引竞争 = 重复投递，空操作成功。
		if errorsLikeUnique(err) {
			return nil
		}
		return err
	}
	return nil
}

func errorsLikeUnique(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "UNIQUE") || strings.Contains(s, "unique")
}
