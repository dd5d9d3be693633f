package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	rd "github.com/redis/go-redis/v9"
)

const (
	relayBatchSize    = 16
	relayBlockTimeout = 2 * time.Second
	relayErrorPause   = 300 * time.Millisecond
	publishTimeout    = 5 * time.Second
)

// Relay 把预下单 Lua 写入 Redis Stream 的订单事件搬运到 Kafka。
// 只有 Kafka 确认后才 XACK+XDEL，发布失败的消息留在 pending 列表等待重试，
// 因此下单请求返回后，订单记录的存活不再依赖任何调用方。
type Relay struct {
	rdb      *rd.Client
	producer *Producer

	stream   string
	group    string
	consumer string
}

func NewRelay(rdb *rd.Client, producer *Producer, stream, group, consumer string) *Relay {
	return &Relay{
		rdb:      rdb,
		producer: producer,
		stream:   stream,
		group:    group,
		consumer: consumer,
	}
}

// Run 主循环：优先清本消费者的 pending 积压，再阻塞等新事件。
// 阻塞直到 ctx 取消。
func (r *Relay) Run(ctx context.Context) {
	// 启动期 Redis 不可达不能让 Relay 永久缺席，建组一直重试到成功。
	for {
		if ctx.Err() != nil {
			return
		}
		err := r.ensureGroup(ctx)
		if err == nil {
			break
		}
		log.Printf("relay: create group %s on %s: %v", r.group, r.stream, err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(relayErrorPause):
		}
	}

	for ctx.Err() == nil {
		batch, err := r.nextBatch(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			log.Printf("relay: read %s: %v", r.stream, err)
			time.Sleep(relayErrorPause)
			continue
		}

		for _, event := range batch {
			if err := r.forward(ctx, event); err != nil {
				// 未 ACK 的消息进入 pending，下一轮优先重试。
				log.Printf("relay: forward %s: %v", event.ID, err)
				time.Sleep(relayErrorPause)
				break
			}
		}
	}
}

// nextBatch 先读 pending（ID "0"），为空再阻塞读新事件（ID ">"）。
// 进程重启后遗留的未 ACK 消息由此兜住，不会永久滞留。
func (r *Relay) nextBatch(ctx context.Context) ([]rd.XMessage, error) {
	pending, err := r.readGroup(ctx, "0", 0)
	if err != nil || len(pending) > 0 {
		return pending, err
	}
	return r.readGroup(ctx, ">", relayBlockTimeout)
}

func (r *Relay) ensureGroup(ctx context.Context) error {
	err := r.rdb.XGroupCreateMkStream(ctx, r.stream, r.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

func (r *Relay) readGroup(ctx context.Context, fromID string, block time.Duration) ([]rd.XMessage, error) {
	streams, err := r.rdb.XReadGroup(ctx, &rd.XReadGroupArgs{
		Group:    r.group,
		Consumer: r.consumer,
		Streams:  []string{r.stream, fromID},
		Count:    relayBatchSize,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var out []rd.XMessage
	for _, s := range streams {
		out = append(out, s.Messages...)
	}
	return out, nil
}

// forward 发布单条订单事件到 Kafka，成功后从 Stream 清掉。
// 解析失败的脏消息直接 ACK 丢弃，不让一条坏数据堵死整条链路。
func (r *Relay) forward(ctx context.Context, event rd.XMessage) error {
	msg, err := ParseOrderEvent(event.Values)
	if err != nil {
		log.Printf("relay: drop malformed event %s: %v", event.ID, err)
		return r.settle(ctx, event.ID)
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := r.producer.Publish(pubCtx, msg); err != nil {
		return err
	}
	return r.settle(ctx, event.ID)
}

// settle ACK 并删除已终结的 Stream 消息。
func (r *Relay) settle(ctx context.Context, eventID string) error {
	pipe := r.rdb.TxPipeline()
	pipe.XAck(ctx, r.stream, r.group, eventID)
	pipe.XDel(ctx, r.stream, eventID)
	_, err := pipe.Exec(ctx)
	return err
}

// ParseOrderEvent 解析预下单 Lua 写入的 Stream 字段（id / user_id / voucher_id）。
func ParseOrderEvent(values map[string]interface{}) (OrderMessage, error) {
	var msg OrderMessage
	for key, dst := range map[string]*int64{
		"id":         &msg.ID,
		"user_id":    &msg.UserID,
		"voucher_id": &msg.VoucherID,
	} {
		n, err := eventField(values, key)
		if err != nil {
			return OrderMessage{}, err
		}
		*dst = n
	}
	if err := msg.Validate(); err != nil {
		return OrderMessage{}, err
	}
	return msg, nil
}

func eventField(values map[string]interface{}, key string) (int64, error) {
	v, ok := values[key]
	if !ok {
		return 0, fmt.Errorf("missing field %s", key)
	}
	switch x := v.(type) {
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid %s %q", key, x)
		}
		return n, nil
	case []byte:
		n, err := strconv.ParseInt(string(x), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid %s %q", key, x)
		}
		return n, nil
	case int64:
		return x, nil
	case float64:
		return int64(x), nil
	default:
		return 0, fmt.Errorf("unsupported field type %s: %T", key, v)
	}
}
