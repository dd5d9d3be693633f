package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

// Producer 订单事件的 Kafka 出口。
// 以订单 ID 做 key 配合 Hash 均衡器，同一订单的重试落在同一分区；
// RequireAll 等全部 ISR 确认，订单事件不能接受静默丢失。
type Producer struct {
	w *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			MaxAttempts:  5,
			WriteTimeout: 5 * time.Second,
			ReadTimeout:  5 * time.Second,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

func (p *Producer) Close() error { return p.w.Close() }

// Publish 同步写入一条订单事件，返回即已被集群确认。
func (p *Producer) Publish(ctx context.Context, msg OrderMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(msg.ID, 10)),
		Value: payload,
	})
}
