package seckill

import (
	"context"
	"errors"
	"log"
	"time"

	rd "github.com/redis/go-redis/v9"

	"github.com/yue99520/hmdp/internal/model"
	rediskey "github.com/yue99520/hmdp/pkg/redis"
)

// ErrQueueFull 进程内队列已满，请求被拒绝且库存已回补。
var ErrQueueFull = errors.New("seckill: admission queue full")

type orderTask struct {
	order    *model.VoucherOrder
	attempts int
}

// localQueueStrategy：Lua 原子预扣减通过后，订单进进程内缓冲队列，
// 由单个后台工作协程落库。延迟最低，但队列不落盘，
// 进程崩溃会丢在途记录——需要崩溃存活语义时选 stream 策略。
type localQueueStrategy struct {
	rdb       *rd.Client
	idgen     *rediskey.IDGenerator
	persister *Persister
	orders    chan orderTask
	now       func() time.Time
}

func (s *localQueueStrategy) Seckill(ctx context.Context, userID, voucherID int64) (int64, error) {
	orderID, err := s.idgen.NextID(ctx, orderIDPrefix)
	if err != nil {
		return 0, err
	}
	if err := evalPreorder(ctx, s.rdb, userID, voucherID, orderID, s.now(), ""); err != nil {
		return 0, err
	}

	task := orderTask{order: &model.VoucherOrder{ID: orderID, UserID: userID, VoucherID: voucherID}}
	select {
	case s.orders <- task:
		return orderID, nil
	default:
		// 队列满：已扣减的库存立刻幂等回补，否则库存被永久占用。
		if _, err := rediskey.CompensateStockOnce(ctx, s.rdb, orderID, voucherID, userID); err != nil {
			log.Printf("seckill: compensate stock order=%d: %v", orderID, err)
		}
		return 0, ErrQueueFull
	}
}

// Run 单工作协程消费队列。ctx 取消后及时退出轮询，不会在事务中途被掐断。
func (s *localQueueStrategy) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-s.orders:
			s.handle(ctx, task)
		}
	}
}

// handle 把一条已出队的订单落库到底。
// 基础设施故障在原地退避重试：绝不能把任务送回 s.orders——
// 生产者可能在退避期间填满缓冲，工作协程会永远阻塞在
// 自己独自消费的 channel 上，落库从此停摆。
func (s *localQueueStrategy) handle(ctx context.Context, task orderTask) {
	for {
		err := s.persister.CreateVoucherOrder(ctx, task.order)
		if err == nil {
			return
		}
		if errors.Is(err, ErrOrderRejected) {
			// 校验类拒绝是终态，重试只会死循环，记录后丢弃。
			log.Printf("seckill: drop rejected order id=%d user=%d voucher=%d: %v",
				task.order.ID, task.order.UserID, task.order.VoucherID, err)
			return
		}

		task.attempts++
		log.Printf("seckill: persist order id=%d attempt=%d: %v", task.order.ID, task.attempts, err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(retryBackoff(task.attempts)):
		}
	}
}

func retryBackoff(attempts int) time.Duration {
	backoff := time.Duration(attempts) * 100 * time.Millisecond
	if backoff > 2*time.Second {
		return 2 * time.Second
	}
	return backoff
}
