package seckill

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/yue99520/hmdp/internal/model"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	// 每个测试独立的内存库，cache=shared 让连接池里的连接看到同一份数据。
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Voucher{}, &model.VoucherOrder{}))
	return db
}

func createDBVoucher(t *testing.T, db *gorm.DB, stock int64, begin, end time.Time) *model.Voucher {
	t.Helper()
	v := &model.Voucher{
		Title:     "测试券",
		Stock:     stock,
		PayValue:  1500,
		BeginTime: begin,
		EndTime:   end,
	}
	require.NoError(t, db.Create(v).Error)
	return v
}

func countOrders(t *testing.T, db *gorm.DB, voucherID int64) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&model.VoucherOrder{}).Where("voucher_id = ?", voucherID).Count(&n).Error)
	return n
}

func dbStock(t *testing.T, db *gorm.DB, voucherID int64) int64 {
	t.Helper()
	var v model.Voucher
	require.NoError(t, db.First(&v, voucherID).Error)
	return v.Stock
}

func TestPersistSuccess(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()
	voucher := createDBVoucher(t, db, 3, now.Add(-time.Minute), now.Add(time.Hour))
	p := NewPersister(db)

	order := &model.VoucherOrder{ID: 900001, UserID: 100, VoucherID: voucher.ID}
	require.NoError(t, p.CreateVoucherOrder(context.Background(), order))

	assert.Equal(t, int64(2), dbStock(t, db, voucher.ID))
	assert.Equal(t, int64(1), countOrders(t, db, voucher.ID))
	assert.Equal(t, int64(1500), order.PayValue, "pay value is filled in from the voucher")
}

func TestPersistDuplicateDeliveryIsNoop(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()
	voucher := createDBVoucher(t, db, 3, now.Add(-time.Minute), now.Add(time.Hour))
	p := NewPersister(db)
	ctx := context.Background()

	first := &model.VoucherOrder{ID: 900001, UserID: 100, VoucherID: voucher.ID}
	require.NoError(t, p.CreateVoucherOrder(ctx, first))

	// 同一条记录重复投递：空操作成功。
	redelivered := &model.VoucherOrder{ID: 900001, UserID: 100, VoucherID: voucher.ID}
	require.NoError(t, p.CreateVoucherOrder(ctx, redelivered))

	// 同一用户换了订单 ID 也一样收敛。
	renumbered := &model.VoucherOrder{ID: 900002, UserID: 100, VoucherID: voucher.ID}
	require.NoError(t, p.CreateVoucherOrder(ctx, renumbered))

	assert.Equal(t, int64(1), countOrders(t, db, voucher.ID))
	assert.Equal(t, int64(2), dbStock(t, db, voucher.ID), "stock is decremented exactly once")
}

func TestPersistRejectsMissingVoucher(t *testing.T) {
	db := newTestDB(t)
	p := NewPersister(db)

	err := p.CreateVoucherOrder(context.Background(), &model.VoucherOrder{ID: 900001, UserID: 100, VoucherID: 404})
	assert.ErrorIs(t, err, ErrOrderRejected)
	assert.ErrorIs(t, err, ErrVoucherNotFound, "rejection carries the concrete reason")
}

func TestPersistRejectsClosedWindow(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()
	p := NewPersister(db)

	early := createDBVoucher(t, db, 3, now.Add(time.Hour), now.Add(2*time.Hour))
	err := p.CreateVoucherOrder(context.Background(), &model.VoucherOrder{ID: 900001, UserID: 100, VoucherID: early.ID})
	assert.ErrorIs(t, err, ErrOrderRejected)
	assert.ErrorIs(t, err, ErrNotStarted)

	late := createDBVoucher(t, db, 3, now.Add(-2*time.Hour), now.Add(-time.Hour))
	err = p.CreateVoucherOrder(context.Background(), &model.VoucherOrder{ID: 900002, UserID: 100, VoucherID: late.ID})
	assert.ErrorIs(t, err, ErrOrderRejected)
	assert.ErrorIs(t, err, ErrExpired)

	assert.Equal(t, int64(0), countOrders(t, db, early.ID))
	assert.Equal(t, int64(0), countOrders(t, db, late.ID))
}

func TestPersistRejectsExhaustedStock(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()
	voucher := createDBVoucher(t, db, 1, now.Add(-time.Minute), now.Add(time.Hour))
	p := NewPersister(db)
	ctx := context.Background()

	require.NoError(t, p.CreateVoucherOrder(ctx, &model.VoucherOrder{ID: 900001, UserID: 100, VoucherID: voucher.ID}))

	err := p.CreateVoucherOrder(ctx, &model.VoucherOrder{ID: 900002, UserID: 101, VoucherID: voucher.ID})
	assert.ErrorIs(t, err, ErrOrderRejected)
	assert.ErrorIs(t, err, ErrOutOfStock)

	assert.Equal(t, int64(0), dbStock(t, db, voucher.ID))
	assert.Equal(t, int64(1), countOrders(t, db, voucher.ID))
}
