package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderEventType string

const (
	OrderEventCreated       OrderEventType = "order.created"
	OrderEventStatusChanged OrderEventType = "order.status_changed"
	OrderEventCancelled     OrderEventType = "order.cancelled"
	OrderEventPaid          OrderEventType = "order.paid"
)

// 外部へ流す注文イベント（メール送信などは受け手側）
type OrderEvent struct {
	Type       OrderEventType  `json:"type"`
	OrderID    string          `json:"orderId"`
	UserID     int64           `json:"userId"`
	Status     OrderStatus     `json:"status"`
	PrevStatus OrderStatus     `json:"prevStatus,omitempty"`
	Total      decimal.Decimal `json:"total"`
	Email      string          `json:"email,omitempty"`
	OccurredAt time.Time       `json:"occurredAt"`
}

func NewOrderEvent(t OrderEventType, o Order, now time.Time) OrderEvent {
	return OrderEvent{
		Type:       t,
		OrderID:    o.ID,
		UserID:     o.UserID,
		Status:     o.Status,
		Total:      o.TotalPrice,
		Email:      o.ShippingAddress.Email,
		OccurredAt: now,
	}
}
