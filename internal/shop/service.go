package shop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	rd "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yue99520/hmdp/internal/cache"
	"github.com/yue99520/hmdp/internal/model"
	rediskey "github.com/yue99520/hmdp/pkg/redis"
)

// ErrShopNotFound 商铺不存在。
var ErrShopNotFound = errors.New("shop: not found")

// shopTypeCacheTTL 类型列表缓存时长。列表极少变化，接受该窗口内的陈旧。
const shopTypeCacheTTL = 30 * time.Minute

// Service 商铺读写服务。读路径走缓存旁路，与秒杀链路只共享
// Redis 实例与分布式锁，互不阻塞。
type Service struct {
	db    *gorm.DB
	rdb   *rd.Client
	cache *cache.Client[model.Shop]
}

func NewService(db *gorm.DB, rdb *rd.Client, opts cache.Options) *Service {
	if opts.KeyFunc == nil {
		opts.KeyFunc = rediskey.CacheShopKey
	}
	if opts.LockKeyFunc == nil {
		opts.LockKeyFunc = rediskey.LockShopKey
	}
	load := func(ctx context.Context, id int64) (*model.Shop, error) {
		var s model.Shop
		if err := db.WithContext(ctx).First(&s, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, nil
			}
			return nil, err
		}
		return &s, nil
	}
	return &Service{
		db:    db,
		rdb:   rdb,
		cache: cache.NewClient(rdb, load, opts),
	}
}

// Query 按 ID 查询商铺，重建策略由配置决定。
func (s *Service) Query(ctx context.Context, id int64) (*model.Shop, error) {
	shop, err := s.cache.Query(ctx, id)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, ErrShopNotFound
		}
		return nil, err
	}
	return shop, nil
}

// Update 事务内更新商铺，提交后删除缓存键。
// 先库后删，读路径下次未命中时按权威数据重建。
func (s *Service) Update(ctx context.Context, shop *model.Shop) error {
	if shop.ID == 0 {
		return fmt.Errorf("shop: invalid shop id")
	}
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Shop{}).Where("id = ?", shop.ID).Updates(shop)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrShopNotFound
		}
		return nil
	}); err != nil {
		return err
	}
	return s.cache.Evict(ctx, shop.ID)
}

// ListTypes 查询商铺分类列表，ZSet 缓存按 sort 排序。
func (s *Service) ListTypes(ctx context.Context) ([]model.ShopType, error) {
	if types, ok := s.typesFromCache(ctx); ok {
		return types, nil
	}

	var types []model.ShopType
	if err := s.db.WithContext(ctx).Order("sort asc").Find(&types).Error; err != nil {
		return nil, err
	}
	if len(types) == 0 {
		return []model.ShopType{}, nil
	}
	s.saveTypesToCache(ctx, types)
	return types, nil
}

func (s *Service) typesFromCache(ctx context.Context) ([]model.ShopType, bool) {
	members, err := s.rdb.ZRange(ctx, rediskey.CacheShopTypeKey, 0, -1).Result()
	if err != nil || len(members) == 0 {
		return nil, false
	}
	types := make([]model.ShopType, 0, len(members))
	for _, raw := range members {
		var t model.ShopType
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			// 坏缓存按未命中处理，回源重建。
			log.Printf("shop: corrupt shop type cache, treated as miss: %v", err)
			return nil, false
		}
		types = append(types, t)
	}
	return types, true
}

func (s *Service) saveTypesToCache(ctx context.Context, types []model.ShopType) {
	members := make([]rd.Z, 0, len(types))
	for _, t := range types {
		payload, err := json.Marshal(t)
		if err != nil {
			log.Printf("shop: serialize shop type %d: %v", t.ID, err)
			return
		}
		members = append(members, rd.Z{Score: float64(t.Sort), Member: string(payload)})
	}
	pipe := s.rdb.TxPipeline()
	pipe.ZAdd(ctx, rediskey.CacheShopTypeKey, members...)
	pipe.Expire(ctx, rediskey.CacheShopTypeKey, shopTypeCacheTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("shop: cache shop types: %v", err)
	}
}
