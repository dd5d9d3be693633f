package cache

import "time"

// Result 三态读取结果：
// - 命中正值：hit && Data() != nil
// - 命中空值墓碑：hit && Data() == nil（确认不存在，不再回源）
// - 未命中：!hit
type Result[T any] struct {
	data *T
	hit  bool
}

func HitResult[T any](data *T) Result[T] {
	return Result[T]{data: data, hit: true}
}

func MissResult[T any]() Result[T] {
	return Result[T]{}
}

func (r Result[T]) Hit() bool { return r.hit }

func (r Result[T]) Data() *T { return r.data }

// Envelope 逻辑过期包装：物理上不设 TTL，新鲜度只看 ExpireAt。
// 一旦写入，读取永远命中，过期表现为"命中但陈旧"。
type Envelope[T any] struct {
	Data     T         `json:"data"`
	ExpireAt time.Time `json:"expire_at"`
}
