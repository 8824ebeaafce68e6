package model

import "time"

// 処理済みの webhook イベント。再送の検知に使う。
type PaymentEvent struct {
	EventID     string    `gorm:"type:varchar(255);primaryKey" json:"event_id"`
	EventType   string    `gorm:"type:varchar(100);not null;index" json:"event_type"`
	OrderID     string    `gorm:"type:varchar(36);index" json:"order_id"`
	ProcessedAt time.Time `gorm:"not null" json:"processed_at"`
}
