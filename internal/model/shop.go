package model

import (
	"time"

	"gorm.io/gorm"
)

// Shop 商铺详情，读多写少，查询走缓存旁路（cache-aside）。
type Shop struct {
	ID        int64          `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Name      string `gorm:"size:128;not null" json:"name"`
	TypeID    int64  `gorm:"not null;index" json:"type_id"`
	Area      string `gorm:"size:64" json:"area"`
	Address   string `gorm:"size:255" json:"address"`
	AvgPrice  int64  `gorm:"not null;default:0" json:"avg_price"` // 人均，单位分
	Comments  int    `gorm:"not null;default:0" json:"comments"`
	Score     int    `gorm:"not null;default:0" json:"score"` // 评分 x10 存整数
	OpenHours string `gorm:"size:64" json:"open_hours"`
}

func (Shop) TableName() string { return "shops" }

// ShopType 商铺分类，列表按 Sort 升序展示。
type ShopType struct {
	ID   int64  `gorm:"primarykey" json:"id"`
	Name string `gorm:"size:64;not null" json:"name"`
	Icon string `gorm:"size:255" json:"icon"`
	Sort int    `gorm:"not null;default:0" json:"sort"`
}

func (ShopType) TableName() string { return "shop_types" }
