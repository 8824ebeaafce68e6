package usecase

import (
	"context"
	"net/http"
	"strings"
	"time"

	"marketplace/internal/domain/model"
	repo "marketplace/internal/repository"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// 外部決済サービスの窓口
type PaymentGateway interface {
	CreatePaymentIntent(ctx context.Context, orderID string, userID int64, amount decimal.Decimal) (model.PaymentIntent, error)
	RetrievePaymentIntent(ctx context.Context, intentID string) (model.PaymentIntent, error)
	// amount が nil なら全額
	Refund(ctx context.Context, intentID string, amount *decimal.Decimal) (model.Refund, error)
	ParseWebhook(payload []byte, signature string) (model.WebhookEvent, error)
}

type PaymentUsecase struct {
	tx      repo.TransactionManager
	gateway PaymentGateway
	orderUC *OrderUsecase
	clock   Clock
}

func NewPaymentUsecase(
	tx repo.TransactionManager,
	gateway PaymentGateway,
	orderUC *OrderUsecase,
	clock Clock,
) *PaymentUsecase {
	return &PaymentUsecase{
		tx:      tx,
		gateway: gateway,
		orderUC: orderUC,
		clock:   clock,
	}
}

type WebhookResult struct {
	Received  bool   `json:"received"`
	Duplicate bool   `json:"duplicate,omitempty"`
	EventType string `json:"-"`
}

// 金額はクライアントから受け取らず、保存済みの注文合計を使う
func (u *PaymentUsecase) CreateIntent(ctx context.Context, actor model.Actor, orderID string) (model.PaymentIntent, error) {
	o, err := u.orderUC.findOrder(ctx, orderID)
	if err != nil {
		return model.PaymentIntent{}, err
	}
	if !actor.CanAccess(o) {
		return model.PaymentIntent{}, errForbidden()
	}
	if o.IsPaid {
		return model.PaymentIntent{}, errInvalidStage("order %s is already paid", o.ID)
	}
	if !o.Status.IsCancellable() {
		return model.PaymentIntent{}, errInvalidStage("order in status %s cannot be paid", o.Status)
	}
	if !o.TotalPrice.IsPositive() {
		return model.PaymentIntent{}, errValidation("order total must be positive")
	}

	pi, err := u.gateway.CreatePaymentIntent(ctx, o.ID, o.UserID, o.TotalPrice)
	if err != nil {
		log.Error().Err(err).Str("order_id", o.ID).Msg("create payment intent failed")
		return model.PaymentIntent{}, errUpstreamPayment(err)
	}
	log.Info().Str("order_id", o.ID).Str("payment_intent_id", pi.ID).Msg("payment intent created")
	return pi, nil
}

// クライアントからの確認依頼。支払い状態は決済サービスに問い合わせた結果だけを信じる。
func (u *PaymentUsecase) ConfirmPayment(ctx context.Context, actor model.Actor, intentID string) (model.PaymentConfirmation, error) {
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return model.PaymentConfirmation{}, errValidation("paymentIntentId: required")
	}

	pi, err := u.gateway.RetrievePaymentIntent(ctx, intentID)
	if err != nil {
		log.Error().Err(err).Str("payment_intent_id", intentID).Msg("retrieve payment intent failed")
		return model.PaymentConfirmation{}, errUpstreamPayment(err)
	}
	if pi.OrderID == "" {
		return model.PaymentConfirmation{}, errValidation("payment intent %s has no order", intentID)
	}

	o, err := u.orderUC.findOrder(ctx, pi.OrderID)
	if err != nil {
		return model.PaymentConfirmation{}, err
	}
	if !actor.CanAccess(o) {
		return model.PaymentConfirmation{}, errForbidden()
	}

	out := model.PaymentConfirmation{
		PaymentIntentID: pi.ID,
		OrderID:         o.ID,
		Status:          pi.Status,
		Amount:          pi.Amount,
		Currency:        pi.Currency,
		IsPaid:          o.IsPaid,
	}
	if pi.Status != model.PaymentIntentSucceeded {
		return out, nil
	}

	paid, err := u.orderUC.MarkAsPaid(ctx, actor.UserID, o.ID, model.PaymentResult{
		ID:           pi.ID,
		Status:       pi.Status,
		UpdateTime:   u.clock.Now().UTC().Format(time.RFC3339),
		EmailAddress: pi.ReceiptEmail,
	})
	if err != nil {
		return model.PaymentConfirmation{}, err
	}
	out.IsPaid = paid.IsPaid
	return out, nil
}

func (u *PaymentUsecase) Refund(ctx context.Context, actor model.Actor, intentID string, amount *decimal.Decimal) (model.Refund, error) {
	if !actor.IsAdmin() {
		return model.Refund{}, errForbidden()
	}
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return model.Refund{}, errValidation("paymentIntentId: required")
	}
	if amount != nil && !amount.IsPositive() {
		return model.Refund{}, errValidation("amount: must be positive")
	}

	ref, err := u.gateway.Refund(ctx, intentID, amount)
	if err != nil {
		log.Error().Err(err).Str("payment_intent_id", intentID).Msg("refund failed")
		return model.Refund{}, errUpstreamPayment(err)
	}

	// 注文ステータスは変えない（refunded への遷移は管理者が別途行う）
	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		after := map[string]any{"refundId": ref.ID, "status": ref.Status, "amount": ref.Amount}
		return writeAudit(ctx, r, actor.UserID, model.AuditActionRequestRefund, model.AuditResourcePayment, intentID,
			map[string]any{}, after, u.clock.Now())
	})
	if err != nil {
		// 返金自体は成立しているので記録失敗はログだけ
		log.Error().Err(err).Str("refund_id", ref.ID).Msg("refund audit log failed")
	}

	log.Info().Str("payment_intent_id", intentID).Str("refund_id", ref.ID).Msg("refund requested")
	return ref, nil
}

// 署名を検証してからイベントを反映する。再送は受け取るだけで二重反映しない。
func (u *PaymentUsecase) HandleWebhook(ctx context.Context, payload []byte, signature string) (WebhookResult, error) {
	if strings.TrimSpace(signature) == "" {
		return WebhookResult{}, newKindError(http.StatusBadRequest, KindSignature, "missing signature")
	}

	ev, err := u.gateway.ParseWebhook(payload, signature)
	if err != nil {
		log.Warn().Err(err).Msg("webhook rejected")
		return WebhookResult{}, newKindError(http.StatusBadRequest, KindSignature, "webhook signature verification failed")
	}

	res := WebhookResult{Received: true, EventType: ev.Type}

	switch ev.Type {
	case model.WebhookPaymentSucceeded:
		if ev.OrderID == "" {
			log.Warn().Str("event_id", ev.ID).Str("payment_intent_id", ev.IntentID).Msg("payment succeeded without order id")
			return res, nil
		}
		_, applied, err := u.orderUC.MarkAsPaidByEvent(ctx, ev)
		if err != nil {
			// 知らない注文は再送されても直らないので受け取って終わり
			if he, ok := AsHTTPError(err); ok && he.Kind == KindNotFound {
				log.Warn().Str("event_id", ev.ID).Str("order_id", ev.OrderID).Msg("payment for unknown order")
				return res, nil
			}
			return WebhookResult{}, err
		}
		res.Duplicate = !applied

	default:
		isNew, err := u.recordEvent(ctx, ev)
		if err != nil {
			return WebhookResult{}, err
		}
		res.Duplicate = !isNew
		if isNew && ev.Type == model.WebhookPaymentFailed {
			log.Warn().Str("order_id", ev.OrderID).Str("payment_intent_id", ev.IntentID).Msg("payment failed")
		} else if isNew {
			log.Info().Str("event_type", ev.Type).Str("event_id", ev.ID).Msg("webhook event ignored")
		}
	}

	if res.Duplicate {
		log.Info().Str("event_id", ev.ID).Msg("duplicate webhook event")
	}
	return res, nil
}

func (u *PaymentUsecase) recordEvent(ctx context.Context, ev model.WebhookEvent) (bool, error) {
	var isNew bool
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		var err error
		isNew, err = r.PaymentEvents().MarkProcessed(ctx, model.PaymentEvent{
			EventID:     ev.ID,
			EventType:   ev.Type,
			OrderID:     ev.OrderID,
			ProcessedAt: u.clock.Now(),
		})
		return err
	})
	if err != nil {
		return false, errInternal(err)
	}
	return isNew, nil
}
