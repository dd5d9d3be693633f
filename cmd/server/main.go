package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/yue99520/hmdp/internal/cache"
	"github.com/yue99520/hmdp/internal/config"
	"github.com/yue99520/hmdp/internal/model"
	"github.com/yue99520/hmdp/internal/queue"
	"github.com/yue99520/hmdp/internal/router"
	"github.com/yue99520/hmdp/internal/seckill"
	"github.com/yue99520/hmdp/internal/shop"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// 1. 连接 SQLite，自动建表
	db, err := gorm.Open(sqlite.Open(cfg.DBPath), &gorm.Config{})
	if err != nil {
		log.Fatalf("db open: %v", err)
	}
	if err := db.AutoMigrate(
		&model.Shop{},
		&model.ShopType{},
		&model.Voucher{},
		&model.VoucherOrder{},
	); err != nil {
		log.Fatalf("db migrate: %v", err)
	}

	rdb := rd.NewClient(&rd.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer rdb.Close()

	// 后台消费协程统一挂在可取消的 ctx 上，收到信号后协同退出。
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shopSvc := shop.NewService(db, rdb, cache.Options{
		Strategy: cfg.CacheStrategy,
		TTL:      cfg.CacheTTL,
		NullTTL:  cfg.CacheNullTTL,
		LockTTL:  cfg.LockTTL,
	})

	seckillSvc, err := seckill.NewService(db, rdb, seckill.Options{
		Strategy:     cfg.AdmissionStrategy,
		OrderLockTTL: cfg.LockTTL,
		Stream:       cfg.OrderEventStream,
		QueueSize:    cfg.LocalQueueSize,
	})
	if err != nil {
		log.Fatalf("seckill: %v", err)
	}
	go seckillSvc.Run(ctx)

	// stream 策略：预下单入流 → Relay 转 Kafka → Consumer 落库
	if cfg.AdmissionStrategy == seckill.AdmissionStream {
		producer := queue.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()

		relay := queue.NewRelay(rdb, producer, cfg.OrderEventStream, cfg.OrderEventGroup, cfg.OrderEventConsumer)
		go relay.Run(ctx)

		consumer := queue.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, seckill.NewPersister(db))
		defer consumer.Close()
		go consumer.Run(ctx)
	}

	r := gin.Default()
	router.Setup(r, db, rdb, shopSvc, seckillSvc, cfg)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("http shutdown: %v", err)
		}
	}()

	log.Printf("listening on %s (admission=%s, cache=%s)", cfg.HTTPAddr, cfg.AdmissionStrategy, cfg.CacheStrategy)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("http serve: %v", err)
	}
}
