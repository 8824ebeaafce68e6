package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"marketplace/internal/domain/model"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// StripeGateway は Stripe API を使った決済窓口
type StripeGateway struct {
	api           *client.API
	webhookSecret string
	currency      string
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Currency      string
	Timeout       time.Duration
}

func NewStripeGateway(cfg StripeConfig) *StripeGateway {
	httpClient := &http.Client{Timeout: cfg.Timeout}
	return newStripeGateway(cfg, stripe.NewBackends(httpClient))
}

func newStripeGateway(cfg StripeConfig, backends *stripe.Backends) *StripeGateway {
	currency := strings.ToLower(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}
	return &StripeGateway{
		api:           client.New(cfg.SecretKey, backends),
		webhookSecret: cfg.WebhookSecret,
		currency:      currency,
	}
}

// 小数2桁の金額を最小通貨単位へ
func toMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func fromMinorUnits(v int64) decimal.Decimal {
	return decimal.New(v, -2)
}

func (g *StripeGateway) CreatePaymentIntent(ctx context.Context, orderID string, userID int64, amount decimal.Decimal) (model.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(toMinorUnits(amount)),
		Currency: stripe.String(g.currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata("orderId", orderID)
	params.AddMetadata("userId", fmt.Sprint(userID))

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return model.PaymentIntent{}, fmt.Errorf("%w: %v", model.ErrPaymentUpstream, err)
	}
	return model.PaymentIntent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Amount:       fromMinorUnits(pi.Amount),
		Currency:     string(pi.Currency),
	}, nil
}

// サーバー側から PaymentIntent の現在の状態を取得する
func (g *StripeGateway) RetrievePaymentIntent(ctx context.Context, intentID string) (model.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := g.api.PaymentIntents.Get(intentID, params)
	if err != nil {
		return model.PaymentIntent{}, fmt.Errorf("%w: %v", model.ErrPaymentUpstream, err)
	}
	return model.PaymentIntent{
		ID:           pi.ID,
		Amount:       fromMinorUnits(pi.Amount),
		Currency:     string(pi.Currency),
		Status:       string(pi.Status),
		OrderID:      pi.Metadata["orderId"],
		ReceiptEmail: pi.ReceiptEmail,
	}, nil
}

func (g *StripeGateway) Refund(ctx context.Context, intentID string, amount *decimal.Decimal) (model.Refund, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(intentID),
	}
	if amount != nil {
		params.Amount = stripe.Int64(toMinorUnits(*amount))
	}
	params.Context = ctx

	r, err := g.api.Refunds.New(params)
	if err != nil {
		return model.Refund{}, fmt.Errorf("%w: %v", model.ErrPaymentUpstream, err)
	}
	return model.Refund{
		ID:              r.ID,
		PaymentIntentID: intentID,
		Status:          string(r.Status),
		Amount:          fromMinorUnits(r.Amount),
	}, nil
}

// 署名を検証してイベントを取り出す。payment_intent 以外は種類だけ返す。
func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (model.WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return model.WebhookEvent{}, fmt.Errorf("%w: %v", model.ErrInvalidWebhookSignature, err)
	}

	ev := model.WebhookEvent{
		ID:      event.ID,
		Type:    string(event.Type),
		Created: time.Unix(event.Created, 0).UTC(),
	}
	if !strings.HasPrefix(ev.Type, "payment_intent.") || event.Data == nil {
		return ev, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return model.WebhookEvent{}, fmt.Errorf("decode payment intent: %w", err)
	}
	ev.IntentID = pi.ID
	ev.IntentStatus = string(pi.Status)
	ev.ReceiptEmail = pi.ReceiptEmail
	ev.OrderID = pi.Metadata["orderId"]
	return ev, nil
}
