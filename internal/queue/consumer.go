package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/yue99520/hmdp/internal/model"
	"github.com/yue99520/hmdp/internal/seckill"
)

// Consumer 从 Kafka 拉取订单事件并持久化。
// 显式 FetchMessage + CommitMessages：只有落库成功（或判定为终态）
// 才提交位点，消费中途崩溃由消费者组重投，配合落库幂等实现 at-least-once。
type Consumer struct {
	r         *kafka.Reader
	persister *seckill.Persister
}

func NewConsumer(brokers []string, topic, groupID string, persister *seckill.Persister) *Consumer {
	return &Consumer{
		r: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1e3,
			MaxBytes: 1e6,
		}),
		persister: persister,
	}
}

func (c *Consumer) Close() error { return c.r.Close() }

// fetchRetryPause 拉取失败后的重试间隔。
const fetchRetryPause = time.Second

func (c *Consumer) Run(ctx context.Context) {
	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			// 只有 ctx 取消才终结消费者；broker 瞬断等一拍后重取，
			// 否则一次网络抖动就要靠重启进程恢复落库。
			if c.stopOrPause(ctx, err) {
				return
			}
			continue
		}

		if err := c.processOne(ctx, m.Value); err != nil {
			// 可重试错误：不提交位点，退避后在同一条消息上重试。
			log.Printf("consumer process offset=%d: %v", m.Offset, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(300 * time.Millisecond):
			}
			continue
		}

		if err := c.r.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return
			}
			// 提交失败会导致重投，落库幂等让重投退化为空操作。
			log.Printf("consumer commit offset=%d: %v", m.Offset, err)
		}
	}
}

// stopOrPause 处理拉取错误：返回 true 表示应退出循环，
// 否则退避一拍后由调用方重试。
func (c *Consumer) stopOrPause(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	log.Printf("consumer fetch: %v", err)
	select {
	case <-ctx.Done():
		return true
	case <-time.After(fetchRetryPause):
		return false
	}
}

// processOne 返回 nil 表示该消息已终结（成功、重复或终态拒绝），可提交位点。
func (c *Consumer) processOne(ctx context.Context, value []byte) error {
	var msg OrderMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		log.Printf("consumer unmarshal, dropping dirty message: %v", err)
		return nil
	}
	if err := msg.Validate(); err != nil {
		log.Printf("consumer validate, dropping dirty message: %v", err)
		return nil
	}

	order := &model.VoucherOrder{ID: msg.ID, UserID: msg.UserID, VoucherID: msg.VoucherID}
	if err := c.persister.CreateVoucherOrder(ctx, order); err != nil {
		if errors.Is(err, seckill.ErrOrderRejected) {
			// 校验类拒绝是终态，重试只会死循环。
			log.Printf("consumer drop rejected order id=%d: %v", msg.ID, err)
			return nil
		}
		return err
	}
	return nil
}
