package model

import "time"

// 管理者による在庫調整の履歴。注文による増減は含まない。
type InventoryAdjustment struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ProductID   int64     `gorm:"not null;index" json:"productId"`
	AdminUserID int64     `gorm:"not null;index" json:"adminUserId"`
	StockBefore int64     `gorm:"not null" json:"stockBefore"`
	StockAfter  int64     `gorm:"not null" json:"stockAfter"`
	Delta       int64     `gorm:"not null" json:"delta"`
	Reason      string    `gorm:"type:varchar(255);not null" json:"reason"`
	CreatedAt   time.Time `gorm:"not null;autoCreateTime" json:"createdAt"`
}

func NewStockAdjustment(productID, adminUserID, before, after int64, reason string, now time.Time) InventoryAdjustment {
	return InventoryAdjustment{
		ProductID:   productID,
		AdminUserID: adminUserID,
		StockBefore: before,
		StockAfter:  after,
		Delta:       after - before,
		Reason:      reason,
		CreatedAt:   now,
	}
}
