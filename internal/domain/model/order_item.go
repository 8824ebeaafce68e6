package model

import "github.com/shopspring/decimal"

// 注文明細。価格・名前・画像は作成時点のスナップショット。
type OrderItem struct {
	ID        int64           `gorm:"primaryKey;autoIncrement" json:"-"`
	OrderID   string          `gorm:"type:varchar(36);not null;index" json:"-"`
	ProductID int64           `gorm:"not null;index" json:"product"`
	Name      string          `gorm:"type:varchar(255);not null" json:"name"`
	Price     decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"price"`
	Quantity  int64           `gorm:"not null" json:"quantity"`
	Image     string          `gorm:"type:varchar(500)" json:"image"`
	IsDigital bool            `gorm:"not null;default:false" json:"isDigital"`
}

// 小計
func (it OrderItem) Subtotal() decimal.Decimal {
	return it.Price.Mul(decimal.NewFromInt(it.Quantity))
}
