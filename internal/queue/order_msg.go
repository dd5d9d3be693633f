package queue

import "fmt"

// OrderMessage 是在 Stream/Kafka 链路上流转的待落库订单事件。
// ID 即预分配的订单号，同时充当全链路的幂等键。
type OrderMessage struct {
	ID        int64 `json:"id"`
	UserID    int64 `json:"user_id"`
	VoucherID int64 `json:"voucher_id"`
}

// Validate 做最小字段校验，防止消费者处理脏消息。
func (m OrderMessage) Validate() error {
	if m.ID <= 0 {
		return fmt.Errorf("id is required")
	}
	if m.UserID <= 0 {
		return fmt.Errorf("user_id is required")
	}
	if m.VoucherID <= 0 {
		return fmt.Errorf("voucher_id is required")
	}
	return nil
}
