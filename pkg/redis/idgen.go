package redis

import (
	"context"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// serialBits 低位序列号占用的比特数，日计数器溢出 32 位前 ID 唯一。
const serialBits = 32

// idEpoch 2024-01-01 00:00:00 UTC，高位时间戳的起算点。
var idEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// IDGenerator 全局 ID 生成器：
// 高 31 位为 (now - epoch) 秒数，低 32 位为 Redis INCR 的当日计数。
// 同一 prefix 内随时间单调不减；不可用于加密场景。
type IDGenerator struct {
	rdb *rd.Client
	now func() time.Time
}

func NewIDGenerator(rdb *rd.Client) *IDGenerator {
	return &IDGenerator{rdb: rdb, now: time.Now}
}

// NextID 生成 prefix 命名空间下的下一个 ID。
// 计数器按天分键，避免单 key 永久增长触顶。
func (g *IDGenerator) NextID(ctx context.Context, prefix string) (int64, error) {
	now := g.now().UTC()
	timestamp := now.Unix() - idEpoch.Unix()

	count, err := g.rdb.Incr(ctx, IDIncrementKey(prefix, now.Format("2006:01:02"))).Result()
	if err != nil {
		return 0, err
	}
	return timestamp<<serialBits | count, nil
}
