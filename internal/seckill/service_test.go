package seckill

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yue99520/hmdp/internal/model"
	rediskey "github.com/yue99520/hmdp/pkg/redis"
)

func TestLocalQueueAdmissionPersistsOrder(t *testing.T) {
	db := newTestDB(t)
	_, rdb := newTestRedis(t)
	now := time.Now()
	voucher := createDBVoucher(t, db, 1, now.Add(-time.Minute), now.Add(time.Hour))
	seedVoucher(t, rdb, voucher.ID, voucher.Stock, voucher.BeginTime, voucher.EndTime)

	svc, err := NewService(db, rdb, Options{Strategy: AdmissionLocalQueue, QueueSize: 16})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	orderID, err := svc.SeckillVoucher(ctx, 100, voucher.ID)
	require.NoError(t, err)
	assert.Positive(t, orderID)

	// 受理是同步的，落库是异步的。
	assert.Eventually(t, func() bool {
		var n int64
		return db.Model(&model.VoucherOrder{}).Where("id = ?", orderID).Count(&n).Error == nil && n == 1
	}, 3*time.Second, 20*time.Millisecond, "accepted order is eventually durable")
	assert.Equal(t, int64(0), dbStock(t, db, voucher.ID))
}

func TestLocalQueueOnePerUser(t *testing.T) {
	db := newTestDB(t)
	_, rdb := newTestRedis(t)
	now := time.Now()
	voucher := createDBVoucher(t, db, 10, now.Add(-time.Minute), now.Add(time.Hour))
	seedVoucher(t, rdb, voucher.ID, voucher.Stock, voucher.BeginTime, voucher.EndTime)

	svc, err := NewService(db, rdb, Options{Strategy: AdmissionLocalQueue, QueueSize: 16})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = svc.SeckillVoucher(ctx, 100, voucher.ID)
	require.NoError(t, err)

	_, err = svc.SeckillVoucher(ctx, 100, voucher.ID)
	assert.ErrorIs(t, err, ErrAlreadyOrdered)
}

func TestLocalQueueNoOversell(t *testing.T) {
	db := newTestDB(t)
	_, rdb := newTestRedis(t)
	now := time.Now()
	voucher := createDBVoucher(t, db, 5, now.Add(-time.Minute), now.Add(time.Hour))
	seedVoucher(t, rdb, voucher.ID, voucher.Stock, voucher.BeginTime, voucher.EndTime)

	svc, err := NewService(db, rdb, Options{Strategy: AdmissionLocalQueue, QueueSize: 64})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	// 40 个不同用户抢 5 份库存：恰好 5 个成功，其余库存不足。
	const users = 40
	results := make([]error, users)
	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, results[idx] = svc.SeckillVoucher(ctx, int64(idx+1), voucher.ID)
		}(i)
	}
	wg.Wait()

	var ok, outOfStock int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		default:
			assert.ErrorIs(t, err, ErrOutOfStock)
			outOfStock++
		}
	}
	assert.Equal(t, 5, ok, "exactly stock-many admissions")
	assert.Equal(t, users-5, outOfStock)
	assert.Equal(t, int64(0), redisStock(t, rdb, voucher.ID))

	assert.Eventually(t, func() bool {
		return countOrders(t, db, voucher.ID) == 5
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, int64(0), dbStock(t, db, voucher.ID))
}

func TestLocalQueueRetryDoesNotStallWorker(t *testing.T) {
	db := newTestDB(t)
	_, rdb := newTestRedis(t)
	now := time.Now()
	voucher := &model.Voucher{ID: 42, Title: "测试券", Stock: 2, PayValue: 1500,
		BeginTime: now.Add(-time.Minute), EndTime: now.Add(time.Hour)}
	require.NoError(t, db.Create(voucher).Error)
	seedVoucher(t, rdb, voucher.ID, voucher.Stock, voucher.BeginTime, voucher.EndTime)

	svc, err := NewService(db, rdb, Options{Strategy: AdmissionLocalQueue, QueueSize: 1})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	// 模拟 DB 故障：落库持续失败但属于可重试错误。
	require.NoError(t, db.Migrator().DropTable(&model.Voucher{}))

	// 第一单被工作协程取走并进入重试，第二单占满仅有的缓冲槽。
	// 工作协程此时若把任务回塞队列，就会卡死在自己消费的 channel 上。
	_, err = svc.SeckillVoucher(ctx, 100, voucher.ID)
	require.NoError(t, err)
	lq := svc.strategy.(*localQueueStrategy)
	require.Eventually(t, func() bool { return len(lq.orders) == 0 },
		time.Second, 5*time.Millisecond, "worker picks up the first order")
	_, err = svc.SeckillVoucher(ctx, 101, voucher.ID)
	require.NoError(t, err)

	// 故障恢复。
	require.NoError(t, db.AutoMigrate(&model.Voucher{}))
	require.NoError(t, db.Create(&model.Voucher{ID: voucher.ID, Title: voucher.Title,
		Stock: 2, PayValue: voucher.PayValue,
		BeginTime: voucher.BeginTime, EndTime: voucher.EndTime}).Error)

	// 两单都必须落库，任何一单滞留都说明工作协程被堵死。
	assert.Eventually(t, func() bool {
		return countOrders(t, db, voucher.ID) == 2
	}, 5*time.Second, 20*time.Millisecond, "both admitted orders become durable after recovery")
	assert.Equal(t, int64(0), dbStock(t, db, voucher.ID))
}

func TestLocalQueueFullCompensatesStock(t *testing.T) {
	db := newTestDB(t)
	_, rdb := newTestRedis(t)
	now := time.Now()
	voucher := createDBVoucher(t, db, 2, now.Add(-time.Minute), now.Add(time.Hour))
	seedVoucher(t, rdb, voucher.ID, voucher.Stock, voucher.BeginTime, voucher.EndTime)

	// 容量 1 且不启动消费协程：第二单必然塞不进队列。
	svc, err := NewService(db, rdb, Options{Strategy: AdmissionLocalQueue, QueueSize: 1})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = svc.SeckillVoucher(ctx, 100, voucher.ID)
	require.NoError(t, err)

	_, err = svc.SeckillVoucher(ctx, 101, voucher.ID)
	assert.ErrorIs(t, err, ErrQueueFull)

	// 被拒用户的扣减已回补，且可重试。
	assert.Equal(t, int64(1), redisStock(t, rdb, voucher.ID))
	member, err := rdb.SIsMember(ctx, rediskey.SeckillOrderSetKey(voucher.ID), 101).Result()
	require.NoError(t, err)
	assert.False(t, member)
}

func TestSyncLockAdmission(t *testing.T) {
	db := newTestDB(t)
	_, rdb := newTestRedis(t)
	now := time.Now()
	voucher := createDBVoucher(t, db, 2, now.Add(-time.Minute), now.Add(time.Hour))

	svc, err := NewService(db, rdb, Options{Strategy: AdmissionSyncLock, OrderLockTTL: 5 * time.Second})
	require.NoError(t, err)
	ctx := context.Background()

	orderID, err := svc.SeckillVoucher(ctx, 100, voucher.ID)
	require.NoError(t, err)

	// 同步策略返回即落库。
	var n int64
	require.NoError(t, db.Model(&model.VoucherOrder{}).Where("id = ?", orderID).Count(&n).Error)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, int64(1), dbStock(t, db, voucher.ID))

	_, err = svc.SeckillVoucher(ctx, 100, voucher.ID)
	assert.ErrorIs(t, err, ErrAlreadyOrdered)

	_, err = svc.SeckillVoucher(ctx, 100, 404)
	assert.ErrorIs(t, err, ErrVoucherNotFound)
}

func TestSyncLockRejectsOutsideWindowAndStock(t *testing.T) {
	db := newTestDB(t)
	_, rdb := newTestRedis(t)
	now := time.Now()

	svc, err := NewService(db, rdb, Options{Strategy: AdmissionSyncLock, OrderLockTTL: 5 * time.Second})
	require.NoError(t, err)
	ctx := context.Background()

	early := createDBVoucher(t, db, 2, now.Add(time.Hour), now.Add(2*time.Hour))
	_, err = svc.SeckillVoucher(ctx, 100, early.ID)
	assert.ErrorIs(t, err, ErrNotStarted)

	late := createDBVoucher(t, db, 2, now.Add(-2*time.Hour), now.Add(-time.Hour))
	_, err = svc.SeckillVoucher(ctx, 100, late.ID)
	assert.ErrorIs(t, err, ErrExpired)

	empty := createDBVoucher(t, db, 0, now.Add(-time.Minute), now.Add(time.Hour))
	_, err = svc.SeckillVoucher(ctx, 100, empty.ID)
	assert.ErrorIs(t, err, ErrOutOfStock)
}

func TestSyncLockPreservesLateRejectionReason(t *testing.T) {
	db := newTestDB(t)
	_, rdb := newTestRedis(t)
	now := time.Now()
	voucher := createDBVoucher(t, db, 2, now.Add(-time.Minute), now.Add(time.Hour))

	// 预检通过后窗口才关闭（落库侧时钟已越过 end_time）：
	// 拒绝必须报「已结束」，不能错报成库存不足。
	persister := NewPersister(db)
	persister.now = func() time.Time { return now.Add(2 * time.Hour) }
	strategy := &syncLockStrategy{
		db:        db,
		rdb:       rdb,
		idgen:     rediskey.NewIDGenerator(rdb),
		persister: persister,
		lockTTL:   5 * time.Second,
		now:       func() time.Time { return now },
	}

	_, err := strategy.Seckill(context.Background(), 100, voucher.ID)
	assert.ErrorIs(t, err, ErrExpired)
	assert.NotErrorIs(t, err, ErrOutOfStock)
}

func TestStreamAdmissionAppendsOrderEvent(t *testing.T) {
	db := newTestDB(t)
	_, rdb := newTestRedis(t)
	now := time.Now()
	voucher := createDBVoucher(t, db, 3, now.Add(-time.Minute), now.Add(time.Hour))
	seedVoucher(t, rdb, voucher.ID, voucher.Stock, voucher.BeginTime, voucher.EndTime)

	const stream = "stream.orders.test"
	svc, err := NewService(db, rdb, Options{Strategy: AdmissionStream, Stream: stream})
	require.NoError(t, err)
	ctx := context.Background()

	orderID, err := svc.SeckillVoucher(ctx, 100, voucher.ID)
	require.NoError(t, err)

	entries, err := rdb.XRange(ctx, stream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1, "admission and stream append happen in one atomic step")

	assert.Equal(t, strconv.FormatInt(orderID, 10), entries[0].Values["id"])
	assert.Equal(t, "100", entries[0].Values["user_id"])
	assert.Equal(t, strconv.FormatInt(voucher.ID, 10), entries[0].Values["voucher_id"])
	assert.Equal(t, int64(2), redisStock(t, rdb, voucher.ID))
}
