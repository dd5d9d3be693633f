package seckill

import (
	"context"
	"fmt"
	"time"

	rd "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	rediskey "github.com/yue99520/hmdp/pkg/redis"
)

// AdmissionStrategy 秒杀准入策略，由配置选择。
type AdmissionStrategy string

const (
	// AdmissionSyncLock 同步落库：用户锁 + 事务写，请求返回即持久化完成。
	AdmissionSyncLock AdmissionStrategy = "sync-lock"
	// AdmissionLocalQueue Redis 原子预扣减 + 进程内队列异步落库。
	AdmissionLocalQueue AdmissionStrategy = "local-queue"
	// AdmissionStream Redis 原子预扣减并同步入 Stream，经 Relay/Kafka 异步落库。
	AdmissionStream AdmissionStrategy = "stream"
)

// orderIDPrefix 全局 ID 生成器里订单的命名空间。
const orderIDPrefix = "voucher_order"

// Options 汇总准入路径的可配置项。
type Options struct {
	Strategy AdmissionStrategy
	// OrderLockTTL 同步策略中用户维度锁的 TTL。
	OrderLockTTL time.Duration
	// Stream stream 策略写入的订单事件流名。
	Stream string
	// QueueSize local-queue 策略的缓冲容量。
	QueueSize int
}

// admitter 屏蔽三种准入实现的差异。
// Seckill 返回已被接受（未必已持久化）的订单 ID；
// Run 承载策略自带的后台消费协程，随 ctx 取消退出。
type admitter interface {
	Seckill(ctx context.Context, userID, voucherID int64) (int64, error)
	Run(ctx context.Context)
}

// Service 秒杀准入服务。调用方身份（userID）由外部解析后传入。
type Service struct {
	strategy admitter
}

func NewService(db *gorm.DB, rdb *rd.Client, opts Options) (*Service, error) {
	idgen := rediskey.NewIDGenerator(rdb)
	persister := NewPersister(db)

	var strategy admitter
	switch opts.Strategy {
	case AdmissionSyncLock:
		strategy = &syncLockStrategy{
			db:        db,
			rdb:       rdb,
			idgen:     idgen,
			persister: persister,
			lockTTL:   opts.OrderLockTTL,
			now:       time.Now,
		}
	case AdmissionLocalQueue:
		size := opts.QueueSize
		if size <= 0 {
			size = 1024
		}
		strategy = &localQueueStrategy{
			rdb:       rdb,
			idgen:     idgen,
			persister: persister,
			orders:    make(chan orderTask, size),
			now:       time.Now,
		}
	case AdmissionStream:
		strategy = &streamStrategy{
			rdb:    rdb,
			idgen:  idgen,
			stream: opts.Stream,
			now:    time.Now,
		}
	default:
		return nil, fmt.Errorf("seckill: unknown admission strategy %q", opts.Strategy)
	}
	return &Service{strategy: strategy}, nil
}

// SeckillVoucher 秒杀下单入口。
// 成功返回预分配的订单 ID；异步策略下含义是「已受理」而非「已落库」。
// 业务拒绝以类型化错误返回（ErrOutOfStock / ErrAlreadyOrdered / ...）。
func (s *Service) SeckillVoucher(ctx context.Context, userID, voucherID int64) (int64, error) {
	return s.strategy.Seckill(ctx, userID, voucherID)
}

// Run 启动策略的后台消费（如 local-queue 的落库工作协程）。
// 阻塞直到 ctx 取消，应在独立 goroutine 中调用。
func (s *Service) Run(ctx context.Context) {
	s.strategy.Run(ctx)
}
