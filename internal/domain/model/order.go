package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentMethodCreditCard     PaymentMethod = "credit_card"
	PaymentMethodPayPal         PaymentMethod = "paypal"
	PaymentMethodStripe         PaymentMethod = "stripe"
	PaymentMethodBankTransfer   PaymentMethod = "bank_transfer"
	PaymentMethodCashOnDelivery PaymentMethod = "cash_on_delivery"
)

// 受け付ける支払い方法
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCreditCard, PaymentMethodPayPal, PaymentMethodStripe,
		PaymentMethodBankTransfer, PaymentMethodCashOnDelivery:
		return true
	}
	return false
}

// 配送先（注文に埋め込む値オブジェクト）
type ShippingAddress struct {
	FirstName  string `gorm:"type:varchar(100);not null" json:"firstName"`
	LastName   string `gorm:"type:varchar(100);not null" json:"lastName"`
	Email      string `gorm:"type:varchar(255);not null" json:"email"`
	Phone      string `gorm:"type:varchar(30);not null" json:"phone"`
	Address    string `gorm:"type:varchar(255);not null" json:"address"`
	City       string `gorm:"type:varchar(100);not null" json:"city"`
	Country    string `gorm:"type:varchar(100);not null" json:"country"`
	PostalCode string `gorm:"type:varchar(20);not null" json:"postalCode"`
}

// 決済結果。決済確認フローだけが書き込む。
type PaymentResult struct {
	ID           string `gorm:"type:varchar(255)" json:"id"`
	Status       string `gorm:"type:varchar(50)" json:"status"`
	UpdateTime   string `gorm:"type:varchar(50)" json:"update_time"`
	EmailAddress string `gorm:"type:varchar(255)" json:"email_address"`
}

type Order struct {
	ID     string `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID int64  `gorm:"not null;index;uniqueIndex:idx_orders_user_idem,priority:1" json:"user"`

	Items []OrderItem `gorm:"foreignKey:OrderID;constraint:OnDelete:RESTRICT" json:"orderItems"`

	ShippingAddress ShippingAddress `gorm:"embedded;embeddedPrefix:ship_" json:"shippingAddress"`
	PaymentMethod   PaymentMethod   `gorm:"type:varchar(30);not null" json:"paymentMethod"`
	PaymentResult   PaymentResult   `gorm:"embedded;embeddedPrefix:pay_" json:"paymentResult"`

	// 金額はすべて作成時に計算して固定
	ItemsPrice    decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"itemsPrice"`
	TaxPrice      decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"taxPrice"`
	ShippingPrice decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"shippingPrice"`
	TotalPrice    decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"totalPrice"`

	IsPaid      bool       `gorm:"not null;default:false" json:"isPaid"`
	PaidAt      *time.Time `json:"paidAt,omitempty"`
	IsDelivered bool       `gorm:"not null;default:false" json:"isDelivered"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`

	Status         OrderStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	TrackingNumber string      `gorm:"type:varchar(100)" json:"trackingNumber,omitempty"`
	Notes          string      `gorm:"type:varchar(500)" json:"notes,omitempty"`

	// 二重送信防止（同じユーザー・同じキーなら同じ注文）
	IdempotencyKey *string `gorm:"type:varchar(255);uniqueIndex:idx_orders_user_idem,priority:2" json:"-"`

	CreatedAt time.Time `gorm:"not null;index" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null" json:"updatedAt"`
}

// 注文者本人か
func (o Order) IsOwnedBy(userID int64) bool {
	return o.UserID == userID
}

// 遷移表に沿ってステータスを変える。delivered なら配達済みも記録する。
func (o *Order) TransitionTo(to OrderStatus, now time.Time) error {
	if err := CheckTransition(o.Status, to); err != nil {
		return err
	}
	o.Status = to
	if to == OrderStatusDelivered {
		o.IsDelivered = true
		o.DeliveredAt = &now
	}
	o.UpdatedAt = now
	return nil
}

// 支払いを反映する。isPaid / paidAt は初回だけ、決済結果は毎回最新に置き換える。
// 初回なら true。
func (o *Order) ApplyPayment(result PaymentResult, now time.Time) bool {
	o.PaymentResult = result
	o.UpdatedAt = now

	first := !o.IsPaid
	if first {
		o.IsPaid = true
		o.PaidAt = &now
	}
	if o.Status == OrderStatusPending {
		o.Status = OrderStatusProcessing
	}
	return first
}
