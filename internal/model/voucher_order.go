package model

import (
	"time"

	"gorm.io/gorm"
)

// VoucherOrder 秒杀订单。
// ID 由全局 ID 生成器预分配（时间高位 + 当日序列低位），不用自增主键。
// (user_id, voucher_id) 唯一索引是一人一单的权威约束，
// 队列重复投递靠它兜底成无害冲突。
type VoucherOrder struct {
	ID        int64          `gorm:"primarykey;autoIncrement:false" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	UserID    int64 `gorm:"not null;uniqueIndex:idx_user_voucher" json:"user_id"`
	VoucherID int64 `gorm:"not null;uniqueIndex:idx_user_voucher;index" json:"voucher_id"`
	PayValue  int64 `gorm:"not null" json:"pay_value"`        // 总金额，单位分
	Status    int   `gorm:"not null;default:0" json:"status"` // 0 待支付 1 已支付 2 已取消
}

func (VoucherOrder) TableName() string { return "voucher_orders" }
