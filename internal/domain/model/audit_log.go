package model

import (
	"encoding/json"
	"time"
)

// 在庫更新、注文ステータス更新など。
type AuditAction string

const (
	//在庫を更新した操作。
	AuditActionUpdateStock AuditAction = "UPDATE_STOCK"
	//注文ステータスを更新した操作。
	AuditActionUpdateOrderStatus AuditAction = "UPDATE_ORDER_STATUS"
	//注文をキャンセルした操作。
	AuditActionCancelOrder AuditAction = "CANCEL_ORDER"
	//支払い済みにした操作。
	AuditActionMarkOrderPaid AuditAction = "MARK_ORDER_PAID"
	//返金を依頼した操作。
	AuditActionRequestRefund AuditAction = "REQUEST_REFUND"
)

// 何に対する操作か
type AuditResourceType string

const (
	//商品に対する操作。
	AuditResourceProduct AuditResourceType = "product"

	//注文に対する操作。
	AuditResourceOrder AuditResourceType = "order"

	//決済に対する操作。
	AuditResourcePayment AuditResourceType = "payment"
)

// 監査ログ（管理者操作ログ）。
// 「誰が」「何を」「どの対象に」「どう変えたか」を残す。
type AuditLog struct {
	//IDは監査ログの主キー
	ID int64 `gorm:"primaryKey;autoIncrement" json:"id"`

	//操作したユーザー（主に管理者）のID。
	ActorUserID int64 `gorm:"not null;index" json:"actorUserId"`

	//Actionは操作の種類（UPDATE_STOCK / UPDATE_ORDER_STATUS など）。
	Action AuditAction `gorm:"type:varchar(50);not null;index" json:"action"`

	//対象の種類（product / order / payment）。
	ResourceType AuditResourceType `gorm:"type:varchar(50);not null;index" json:"resourceType"`

	//対象のID（注文はUUID、商品は数値を文字列で）。
	ResourceID string `gorm:"type:varchar(64);not null;index" json:"resourceId"`

	//JSON文字列で保存する。
	BeforeJSON string `gorm:"type:text" json:"-"`

	//JSON文字列で保存する。
	AfterJSON string `gorm:"type:text" json:"-"`

	//作成時刻
	CreatedAt time.Time `gorm:"not null;index" json:"createdAt"`
}

// before/after は文字列ではなくJSONとして返す
func (l AuditLog) MarshalJSON() ([]byte, error) {
	type alias AuditLog
	return json.Marshal(struct {
		alias
		Before json.RawMessage `json:"before"`
		After  json.RawMessage `json:"after"`
	}{
		alias:  alias(l),
		Before: rawOrNull(l.BeforeJSON),
		After:  rawOrNull(l.AfterJSON),
	})
}

func rawOrNull(s string) json.RawMessage {
	if s == "" || !json.Valid([]byte(s)) {
		return json.RawMessage("null")
	}
	return json.RawMessage(s)
}
