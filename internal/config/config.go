package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/yue99520/hmdp/internal/cache"
	"github.com/yue99520/hmdp/internal/seckill"
)

// AppConfig 聚合运行时配置，尽量通过环境变量注入，避免硬编码。
type AppConfig struct {
	HTTPAddr string
	DBPath   string

	RedisAddr string
	RedisDB   int

	// Kafka 集群地址（逗号分隔）、Topic、消费者组
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	// Redis Stream outbox（预下单 Lua 原子入流，Relay 异步转 Kafka）
	OrderEventStream   string
	OrderEventGroup    string
	OrderEventConsumer string

	// 缓存旁路：正值 TTL、空值墓碑 TTL、重建互斥锁 TTL、重建策略
	CacheTTL      time.Duration
	CacheNullTTL  time.Duration
	LockTTL       time.Duration
	CacheStrategy cache.Strategy

	// 秒杀准入策略与 local-queue 缓冲容量
	AdmissionStrategy seckill.AdmissionStrategy
	LocalQueueSize    int

	// 秒杀接口限流
	SeckillRateLimit  int
	SeckillRateWindow time.Duration
}

// Load 读取并校验配置，缺失时使用默认值。
func Load() (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
		DBPath:             getEnv("DB_PATH", "hmdp.db"),
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:            0,
		KafkaBrokers:       splitCSV(getEnv("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:         getEnv("KAFKA_TOPIC", "hmdp-voucher-orders"),
		KafkaGroupID:       getEnv("KAFKA_GROUP_ID", "hmdp-voucher-order-consumer"),
		OrderEventStream:   getEnv("ORDER_EVENT_STREAM", "stream.orders"),
		OrderEventGroup:    getEnv("ORDER_EVENT_GROUP", "hmdp-relay-group"),
		OrderEventConsumer: getEnv("ORDER_EVENT_CONSUMER", "hmdp-relay-1"),
		CacheTTL:           120 * time.Second,
		CacheNullTTL:       30 * time.Second,
		LockTTL:            10 * time.Second,
		CacheStrategy:      cache.Strategy(getEnv("CACHE_REBUILD_STRATEGY", string(cache.StrategyLogicExpiration))),
		AdmissionStrategy:  seckill.AdmissionStrategy(getEnv("ADMISSION_STRATEGY", string(seckill.AdmissionStream))),
		LocalQueueSize:     1024,
		SeckillRateLimit:   1000,
		SeckillRateWindow:  time.Second,
	}

	redisDB, err := getEnvInt("REDIS_DB", cfg.RedisDB)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	cfg.RedisDB = redisDB

	cacheTTLSec, err := getEnvInt("CACHE_TTL_SEC", int(cfg.CacheTTL.Seconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid CACHE_TTL_SEC: %w", err)
	}
	if cacheTTLSec <= 0 {
		return AppConfig{}, fmt.Errorf("CACHE_TTL_SEC must be > 0")
	}
	cfg.CacheTTL = time.Duration(cacheTTLSec) * time.Second

	nullTTLSec, err := getEnvInt("CACHE_NULL_TTL_SEC", int(cfg.CacheNullTTL.Seconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid CACHE_NULL_TTL_SEC: %w", err)
	}
	if nullTTLSec <= 0 {
		return AppConfig{}, fmt.Errorf("CACHE_NULL_TTL_SEC must be > 0")
	}
	if nullTTLSec >= cacheTTLSec {
		// 墓碑必须比正值先过期，成功写入才能尽快覆盖确认不存在的结论。
		return AppConfig{}, fmt.Errorf("CACHE_NULL_TTL_SEC must be < CACHE_TTL_SEC")
	}
	cfg.CacheNullTTL = time.Duration(nullTTLSec) * time.Second

	lockTTLSec, err := getEnvInt("LOCK_TTL_SEC", int(cfg.LockTTL.Seconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid LOCK_TTL_SEC: %w", err)
	}
	if lockTTLSec <= 0 {
		return AppConfig{}, fmt.Errorf("LOCK_TTL_SEC must be > 0")
	}
	cfg.LockTTL = time.Duration(lockTTLSec) * time.Second

	switch cfg.CacheStrategy {
	case cache.StrategySimple, cache.StrategyMutex, cache.StrategyLogicExpiration:
	default:
		return AppConfig{}, fmt.Errorf("invalid CACHE_REBUILD_STRATEGY %q", cfg.CacheStrategy)
	}

	switch cfg.AdmissionStrategy {
	case seckill.AdmissionSyncLock, seckill.AdmissionLocalQueue, seckill.AdmissionStream:
	default:
		return AppConfig{}, fmt.Errorf("invalid ADMISSION_STRATEGY %q", cfg.AdmissionStrategy)
	}

	queueSize, err := getEnvInt("LOCAL_QUEUE_SIZE", cfg.LocalQueueSize)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid LOCAL_QUEUE_SIZE: %w", err)
	}
	if queueSize <= 0 {
		return AppConfig{}, fmt.Errorf("LOCAL_QUEUE_SIZE must be > 0")
	}
	cfg.LocalQueueSize = queueSize

	rateLimit, err := getEnvInt("SECKILL_RATE_LIMIT", cfg.SeckillRateLimit)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid SECKILL_RATE_LIMIT: %w", err)
	}
	if rateLimit <= 0 {
		return AppConfig{}, fmt.Errorf("SECKILL_RATE_LIMIT must be > 0")
	}
	cfg.SeckillRateLimit = rateLimit

	rateWindowSec, err := getEnvInt("SECKILL_RATE_WINDOW_SEC", int(cfg.SeckillRateWindow.Seconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid SECKILL_RATE_WINDOW_SEC: %w", err)
	}
	if rateWindowSec <= 0 {
		return AppConfig{}, fmt.Errorf("SECKILL_RATE_WINDOW_SEC must be > 0")
	}
	cfg.SeckillRateWindow = time.Duration(rateWindowSec) * time.Second

	if len(cfg.KafkaBrokers) == 0 {
		return AppConfig{}, fmt.Errorf("KAFKA_BROKERS must not be empty")
	}
	if cfg.KafkaTopic == "" {
		return AppConfig{}, fmt.Errorf("KAFKA_TOPIC must not be empty")
	}
	if cfg.KafkaGroupID == "" {
		return AppConfig{}, fmt.Errorf("KAFKA_GROUP_ID must not be empty")
	}
	if cfg.OrderEventStream == "" {
		return AppConfig{}, fmt.Errorf("ORDER_EVENT_STREAM must not be empty")
	}
	if cfg.OrderEventGroup == "" {
		return AppConfig{}, fmt.Errorf("ORDER_EVENT_GROUP must not be empty")
	}
	if cfg.OrderEventConsumer == "" {
		return AppConfig{}, fmt.Errorf("ORDER_EVENT_CONSUMER must not be empty")
	}

	return cfg, nil
}

// getEnv 读取字符串环境变量，若为空则返回默认值。
func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// getEnvInt 读取整数环境变量，若为空则返回默认值。
func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

// splitCSV 将逗号分隔字符串解析为字符串切片。
func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
