package seckill

import (
	"context"
	"time"

	rd "github.com/redis/go-redis/v9"

	rediskey "github.com/yue99520/hmdp/pkg/redis"
)

// streamStrategy：订单事件在预下单 Lua 里与扣减同一原子步骤写入 Redis Stream。
// 请求线程不拥有记录的生命周期——调用方断连后，在途订单仍由
// Stream（经 Relay 转 Kafka，见 internal/queue）驱动落库。
type streamStrategy struct {
	rdb    *rd.Client
	idgen  *rediskey.IDGenerator
	stream string
	now    func() time.Time
}

func (s *streamStrategy) Seckill(ctx context.Context, userID, voucherID int64) (int64, error) {
	orderID, err := s.idgen.NextID(ctx, orderIDPrefix)
	if err != nil {
		return 0, err
	}
	if err := evalPreorder(ctx, s.rdb, userID, voucherID, orderID, s.now(), s.stream); err != nil {
		return 0, err
	}
	return orderID, nil
}

// Run 空实现：消费侧由 queue.Relay 与 queue.Consumer 承担。
func (s *streamStrategy) Run(ctx context.Context) {}
