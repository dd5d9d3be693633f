package router

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yue99520/hmdp/internal/config"
	"github.com/yue99520/hmdp/internal/middleware"
	"github.com/yue99520/hmdp/internal/model"
	"github.com/yue99520/hmdp/internal/seckill"
	"github.com/yue99520/hmdp/internal/shop"
	rediskey "github.com/yue99520/hmdp/pkg/redis"
)

// Setup 注册全部 HTTP 路由。
func Setup(r *gin.Engine, db *gorm.DB, rdb *rd.Client, shopSvc *shop.Service, seckillSvc *seckill.Service, cfg config.AppConfig) {
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})
	// Shops（缓存旁路读 + 事务写）
	r.GET("/api/shops/:id", queryShop(shopSvc))
	r.PUT("/api/shops", updateShop(shopSvc))
	r.GET("/api/shop-types", listShopTypes(shopSvc))
	// Vouchers & seckill
	r.POST("/api/vouchers", createVoucher(db, rdb))
	r.GET("/api/vouchers/:id/stock", getSeckillStock(rdb))
	r.POST("/api/vouchers/:id/seckill",
		middleware.RedisRateLimit(rdb, cfg.SeckillRateLimit, cfg.SeckillRateWindow),
		seckillVoucher(seckillSvc))
	r.GET("/api/voucher-orders/:id", getVoucherOrder(db))
}

// queryShop 按配置的重建策略查询商铺。
func queryShop(svc *shop.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "商铺ID无效"})
			return
		}
		s, err := svc.Query(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, shop.ErrShopNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "商铺不存在"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": s})
	}
}

// updateShop 更新商铺并失效缓存。
func updateShop(svc *shop.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req model.Shop
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}
		if req.ID == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "商铺ID无效"})
			return
		}
		if err := svc.Update(c.Request.Context(), &req); err != nil {
			if errors.Is(err, shop.ErrShopNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "商铺不存在"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0})
	}
}

func listShopTypes(svc *shop.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		types, err := svc.ListTypes(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": types})
	}
}

// createVoucher 创建秒杀券并把库存与时间窗预热到 Redis。
func createVoucher(db *gorm.DB, rdb *rd.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Title     string `json:"title" binding:"required"`
			Stock     int64  `json:"stock" binding:"required,min=1"`
			PayValue  int64  `json:"pay_value" binding:"required,min=1"`
			BeginTime string `json:"begin_time" binding:"required"`
			EndTime   string `json:"end_time" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}
		begin, err := time.Parse(time.RFC3339, req.BeginTime)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "begin_time 格式错误，请用 RFC3339"})
			return
		}
		end, err := time.Parse(time.RFC3339, req.EndTime)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "end_time 格式错误，请用 RFC3339"})
			return
		}
		if !end.After(begin) {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "end_time 必须晚于 begin_time"})
			return
		}
		v := &model.Voucher{
			Title:     req.Title,
			Stock:     req.Stock,
			PayValue:  req.PayValue,
			BeginTime: begin,
			EndTime:   end,
		}
		if err := db.Create(v).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		if err := seckill.CacheVoucher(c.Request.Context(), rdb, v); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": "预热库存失败: " + err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": v})
	}
}

// getSeckillStock 查询 Redis 中的实时预扣减库存。
func getSeckillStock(rdb *rd.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		voucherID, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || voucherID <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "券ID无效"})
			return
		}
		stock, err := rdb.HGet(c.Request.Context(), rediskey.SeckillVoucherKey(voucherID), "stock").Int64()
		if err != nil {
			if errors.Is(err, rd.Nil) {
				c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "优惠券未预热"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{"stock": stock}})
	}
}

// seckillVoucher 秒杀下单入口。
// 关键流程：
// 1. 解析外部已认证的用户身份（X-User-Id）
// 2. 预分配订单 ID
// 3. Redis Lua 原子「时间窗 + 库存 + 一人一单」裁决
// 4. 按策略落库（同步）或入队（异步，返回「已受理」）
func seckillVoucher(svc *seckill.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		voucherID, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || voucherID <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "券ID无效"})
			return
		}
		userID, err := strconv.ParseInt(c.GetHeader(middleware.UserIDHeader), 10, 64)
		if err != nil || userID <= 0 {
			c.JSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "缺少用户身份"})
			return
		}

		orderID, err := svc.SeckillVoucher(c.Request.Context(), userID, voucherID)
		if err != nil {
			status, msg := mapSeckillError(err)
			c.JSON(status, gin.H{"code": status, "msg": msg})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"code": 0,
			"data": gin.H{"order_id": orderID, "status": "accepted"},
		})
	}
}

// mapSeckillError 把类型化业务拒绝映射为 HTTP 语义。
func mapSeckillError(err error) (int, string) {
	switch {
	case errors.Is(err, seckill.ErrVoucherNotFound):
		return http.StatusNotFound, "优惠券不存在"
	case errors.Is(err, seckill.ErrNotStarted):
		return http.StatusBadRequest, "秒杀尚未开始"
	case errors.Is(err, seckill.ErrExpired):
		return http.StatusBadRequest, "秒杀已结束"
	case errors.Is(err, seckill.ErrOutOfStock):
		return http.StatusBadRequest, "库存不足"
	case errors.Is(err, seckill.ErrAlreadyOrdered):
		return http.StatusBadRequest, "该券已抢购过，限购一张"
	case errors.Is(err, seckill.ErrLockContended):
		return http.StatusConflict, "订单处理中，请勿重复提交"
	case errors.Is(err, seckill.ErrQueueFull):
		return http.StatusServiceUnavailable, "系统繁忙，请稍后再试"
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

// getVoucherOrder 查询订单。
// 异步策略下「已受理未落库」的订单查不到，返回 pending 语义而非凭空造行。
func getVoucherOrder(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "订单ID无效"})
			return
		}
		var order model.VoucherOrder
		if err := db.WithContext(c.Request.Context()).First(&order, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{
					"code": 404,
					"data": gin.H{"status": "pending_or_unknown"},
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": order})
	}
}
