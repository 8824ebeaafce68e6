package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// 署名が合わない webhook
	ErrInvalidWebhookSignature = errors.New("webhook signature verification failed")
	// 決済サービス側の失敗（タイムアウト含む）
	ErrPaymentUpstream = errors.New("payment provider error")
)

const (
	WebhookPaymentSucceeded = "payment_intent.succeeded"
	WebhookPaymentFailed    = "payment_intent.payment_failed"
)

type PaymentIntent struct {
	ID           string          `json:"paymentIntentId"`
	ClientSecret string          `json:"clientSecret"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	Status       string          `json:"status,omitempty"`
	// 取得時のみ（metadata.orderId）
	OrderID      string          `json:"-"`
	ReceiptEmail string          `json:"-"`
}

const PaymentIntentSucceeded = "succeeded"

// 決済サービスに問い合わせた確認結果
type PaymentConfirmation struct {
	PaymentIntentID string          `json:"paymentIntentId"`
	OrderID         string          `json:"orderId"`
	Status          string          `json:"status"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	IsPaid          bool            `json:"isPaid"`
}

type Refund struct {
	ID              string          `json:"refundId"`
	PaymentIntentID string          `json:"paymentIntentId"`
	Status          string          `json:"status"`
	Amount          decimal.Decimal `json:"amount"`
}

// 署名検証済みの webhook イベント
type WebhookEvent struct {
	ID           string
	Type         string
	IntentID     string
	IntentStatus string
	OrderID      string
	ReceiptEmail string
	Created      time.Time
}

// 決済結果に変換（MarkAsPaid に渡す）
func (e WebhookEvent) PaymentResult() PaymentResult {
	return PaymentResult{
		ID:           e.IntentID,
		Status:       e.IntentStatus,
		UpdateTime:   e.Created.UTC().Format(time.RFC3339),
		EmailAddress: e.ReceiptEmail,
	}
}
