package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Product struct {
	ID          int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Name        string          `gorm:"type:varchar(255);not null" json:"name"`
	Description string          `gorm:"type:text" json:"description"`
	Price       decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"price"`
	Image       string          `gorm:"type:varchar(500)" json:"image"`

	// 割引（期限付き）
	DiscountPrice *decimal.Decimal `gorm:"type:numeric(12,2)" json:"discountPrice,omitempty"`
	DiscountUntil *time.Time       `json:"discountUntil,omitempty"`

	Stock     int64 `gorm:"not null;default:0" json:"stockQuantity"`
	InStock   bool  `gorm:"not null" json:"inStock"`
	IsDigital bool  `gorm:"not null;default:false" json:"isDigital"`
	IsActive  bool  `gorm:"not null;default:false" json:"isActive"`

	CreatedAt time.Time      `gorm:"not null;autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time      `gorm:"not null;autoUpdateTime" json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// 割引が有効か（割引価格があり、期限が now より後）
func (p Product) HasActiveDiscount(now time.Time) bool {
	return p.DiscountPrice != nil && p.DiscountUntil != nil && p.DiscountUntil.After(now)
}

// 実際に請求する単価
func (p Product) EffectivePrice(now time.Time) decimal.Decimal {
	if p.HasActiveDiscount(now) {
		return *p.DiscountPrice
	}
	return p.Price
}

// 在庫チェックが必要か（デジタル商品は在庫なし扱いで通す）
func (p Product) TracksStock() bool {
	return !p.IsDigital
}
