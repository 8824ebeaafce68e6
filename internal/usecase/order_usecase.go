package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strings"
	"time"

	"marketplace/internal/domain/model"
	"marketplace/internal/domain/pricing"
	repo "marketplace/internal/repository"

	"github.com/rs/zerolog/log"
)

const (
	maxOrderLines      = 100
	maxNotesLength     = 500
	maxIdempotencyKey  = 255
	defaultOrdersLimit = 10
	maxOrdersLimit     = 100
)

// 注文イベントの送信先。失敗しても注文処理は止めない。
type Notifier interface {
	Publish(ctx context.Context, ev model.OrderEvent)
}

type OrderUsecase struct {
	tx         repo.TransactionManager
	orders     repo.OrderRepository
	orderItems repo.OrderItemRepository
	pricing    pricing.Policy
	notifier   Notifier
	clock      Clock
	idGen      IDGenerator
}

func NewOrderUsecase(
	tx repo.TransactionManager,
	orders repo.OrderRepository,
	orderItems repo.OrderItemRepository,
	policy pricing.Policy,
	notifier Notifier,
	clock Clock,
	idGen IDGenerator,
) *OrderUsecase {
	return &OrderUsecase{
		tx:         tx,
		orders:     orders,
		orderItems: orderItems,
		pricing:    policy,
		notifier:   notifier,
		clock:      clock,
		idGen:      idGen,
	}
}

type PlaceOrderLine struct {
	ProductID int64
	Quantity  int64
}

type PlaceOrderInput struct {
	Items           []PlaceOrderLine
	ShippingAddress model.ShippingAddress
	PaymentMethod   string
	Notes           string
	IdempotencyKey  string
}

type Pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int   `json:"pages"`
}

type OrderListOutput struct {
	Orders     []model.Order `json:"orders"`
	Pagination Pagination    `json:"pagination"`
}

func (u *OrderUsecase) PlaceOrder(ctx context.Context, userID int64, in PlaceOrderInput) (model.Order, error) {
	if userID <= 0 {
		return model.Order{}, errUnauthorized()
	}
	if err := validatePlaceOrder(in); err != nil {
		return model.Order{}, err
	}
	key := strings.TrimSpace(in.IdempotencyKey)

	var out model.Order
	replayed := false

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		// 同じキーなら同じ結果
		if key != "" {
			existing, found, err := r.Orders().FindByIdempotencyKey(ctx, userID, key)
			if err != nil {
				return errInternal(err)
			}
			if found {
				items, err := r.OrderItems().ListByOrderID(ctx, existing.ID)
				if err != nil {
					return errInternal(err)
				}
				existing.Items = items
				out = existing
				replayed = true
				return nil
			}
		}

		now := u.clock.Now()
		items := make([]model.OrderItem, 0, len(in.Items))
		lines := make([]pricing.Line, 0, len(in.Items))

		for i, li := range in.Items {
			p, err := r.Products().FindByID(ctx, li.ProductID)
			if errors.Is(err, repo.ErrNotFound) || (err == nil && !p.IsActive) {
				return errNotFound("orderItems[%d]: product %d not found", i, li.ProductID)
			}
			if err != nil {
				return errInternal(err)
			}

			// 判定と減算は1文。足りなければ tx ごと巻き戻る
			if p.TracksStock() {
				ok, err := r.Inventory().DecreaseStockIfEnough(ctx, p.ID, li.Quantity)
				if err != nil {
					return errInternal(err)
				}
				if !ok {
					return errOutOfStock(p.ID, p.Name)
				}
			}

			unit := p.EffectivePrice(now)
			items = append(items, model.OrderItem{
				ProductID: p.ID,
				Name:      p.Name,
				Price:     unit,
				Quantity:  li.Quantity,
				Image:     p.Image,
				IsDigital: p.IsDigital,
			})
			lines = append(lines, pricing.Line{UnitPrice: unit, Quantity: li.Quantity})
		}

		totals := u.pricing.Calculate(lines)
		o := model.Order{
			ID:              u.idGen.NewID(),
			UserID:          userID,
			ShippingAddress: normalizeAddress(in.ShippingAddress),
			PaymentMethod:   model.PaymentMethod(in.PaymentMethod),
			ItemsPrice:      totals.ItemsPrice,
			TaxPrice:        totals.TaxPrice,
			ShippingPrice:   totals.ShippingPrice,
			TotalPrice:      totals.TotalPrice,
			Status:          model.OrderStatusPending,
			Notes:           strings.TrimSpace(in.Notes),
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if key != "" {
			o.IdempotencyKey = &key
		}

		if err := r.Orders().Create(ctx, o); err != nil {
			return errInternal(err)
		}
		if err := r.OrderItems().CreateBulk(ctx, o.ID, items); err != nil {
			return errInternal(err)
		}

		o.Items = items
		out = o
		return nil
	})

	if err != nil {
		//同時に同じキーで作られた場合は、勝った方の注文を返す
		if he, ok := AsHTTPError(err); ok && he.Kind == KindInternal && key != "" {
			if existing, found, ferr := u.orders.FindByIdempotencyKey(ctx, userID, key); ferr == nil && found {
				return u.withItems(ctx, existing)
			}
		}
		return model.Order{}, err
	}

	if !replayed {
		log.Info().Str("order_id", out.ID).Int64("user_id", userID).Str("total", out.TotalPrice.StringFixed(2)).Msg("order created")
		u.notifier.Publish(ctx, model.NewOrderEvent(model.OrderEventCreated, out, u.clock.Now()))
	}
	return out, nil
}

func validatePlaceOrder(in PlaceOrderInput) error {
	if len(in.Items) == 0 {
		return errValidation("orderItems: at least one item is required")
	}
	if len(in.Items) > maxOrderLines {
		return errValidation("orderItems: too many items")
	}
	for i, li := range in.Items {
		if li.ProductID <= 0 {
			return errValidation("orderItems[%d].product: invalid product id", i)
		}
		if li.Quantity < 1 {
			return errValidation("orderItems[%d].quantity: must be at least 1", i)
		}
	}

	a := in.ShippingAddress
	required := []struct {
		field string
		value string
	}{
		{"firstName", a.FirstName},
		{"lastName", a.LastName},
		{"email", a.Email},
		{"phone", a.Phone},
		{"address", a.Address},
		{"city", a.City},
		{"country", a.Country},
		{"postalCode", a.PostalCode},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return errValidation("shippingAddress.%s: required", f.field)
		}
	}

	if !model.PaymentMethod(in.PaymentMethod).Valid() {
		return errValidation("paymentMethod: unsupported payment method %q", in.PaymentMethod)
	}
	if len([]rune(in.Notes)) > maxNotesLength {
		return errValidation("notes: must be at most %d characters", maxNotesLength)
	}
	if len(strings.TrimSpace(in.IdempotencyKey)) > maxIdempotencyKey {
		return errValidation("idempotency key too long")
	}
	return nil
}

func normalizeAddress(a model.ShippingAddress) model.ShippingAddress {
	return model.ShippingAddress{
		FirstName:  strings.TrimSpace(a.FirstName),
		LastName:   strings.TrimSpace(a.LastName),
		Email:      strings.ToLower(strings.TrimSpace(a.Email)),
		Phone:      strings.TrimSpace(a.Phone),
		Address:    strings.TrimSpace(a.Address),
		City:       strings.TrimSpace(a.City),
		Country:    strings.TrimSpace(a.Country),
		PostalCode: strings.TrimSpace(a.PostalCode),
	}
}

func (u *OrderUsecase) ListMyOrders(ctx context.Context, userID int64, status string, page, limit int) (OrderListOutput, error) {
	if userID <= 0 {
		return OrderListOutput{}, errUnauthorized()
	}
	page, limit = normalizePage(page, limit)
	if status != "" {
		if _, ok := model.ParseOrderStatus(status); !ok {
			return OrderListOutput{}, errValidation("status: unknown status %q", status)
		}
	}

	orders, total, err := u.orders.ListByUserID(ctx, repo.UserOrderListFilter{
		UserID: userID,
		Status: status,
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		return OrderListOutput{}, errInternal(err)
	}
	if err := u.attachItems(ctx, orders); err != nil {
		return OrderListOutput{}, err
	}

	return OrderListOutput{
		Orders:     orders,
		Pagination: newPagination(page, limit, total),
	}, nil
}

// 本人または管理者だけが見られる
func (u *OrderUsecase) GetOrder(ctx context.Context, actor model.Actor, orderID string) (model.Order, error) {
	o, err := u.findOrder(ctx, orderID)
	if err != nil {
		return model.Order{}, err
	}
	if !actor.CanAccess(o) {
		return model.Order{}, errForbidden()
	}
	return u.withItems(ctx, o)
}

func (u *OrderUsecase) CancelOrder(ctx context.Context, actor model.Actor, orderID string) (model.Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return model.Order{}, errValidation("invalid order id")
	}

	var out model.Order
	var prev model.OrderStatus

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByIDForUpdate(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return errNotFound("order %s not found", orderID)
		}
		if err != nil {
			return errInternal(err)
		}
		if !actor.CanAccess(o) {
			return errForbidden()
		}

		prev = o.Status
		cancelled, err := cancelLocked(ctx, r, o, actor.UserID, u.clock.Now())
		if err != nil {
			return err
		}
		out = cancelled
		return nil
	})
	if err != nil {
		return model.Order{}, err
	}

	log.Info().Str("order_id", out.ID).Int64("actor_id", actor.UserID).Str("from", string(prev)).Msg("order cancelled")
	ev := model.NewOrderEvent(model.OrderEventCancelled, out, u.clock.Now())
	ev.PrevStatus = prev
	u.notifier.Publish(ctx, ev)
	return out, nil
}

// 行ロック済みの注文をキャンセルする。
// 実物商品の在庫を戻してから cancelled に遷移させる。
func cancelLocked(ctx context.Context, r repo.TxRepos, o model.Order, actorID int64, now time.Time) (model.Order, error) {
	if !o.Status.IsCancellable() {
		return model.Order{}, errInvalidStage("order in status %s can no longer be cancelled", o.Status)
	}

	items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
	if err != nil {
		return model.Order{}, errInternal(err)
	}
	for _, it := range items {
		if it.IsDigital {
			continue
		}
		// 商品が消えていたら戻し先がないので飛ばす
		if _, err := r.Inventory().RestoreStock(ctx, it.ProductID, it.Quantity); err != nil {
			return model.Order{}, errInternal(err)
		}
	}

	prev := o.Status
	if err := o.TransitionTo(model.OrderStatusCancelled, now); err != nil {
		return model.Order{}, transitionError(err)
	}
	if err := r.Orders().UpdateState(ctx, o, prev); err != nil {
		return model.Order{}, stateUpdateError(err)
	}

	if err := writeAudit(ctx, r, actorID, model.AuditActionCancelOrder, model.AuditResourceOrder, o.ID,
		map[string]any{"status": prev}, map[string]any{"status": o.Status}, now); err != nil {
		return model.Order{}, err
	}

	o.Items = items
	return o, nil
}

// 支払い確認（webhook / 管理者の手動確認の両方から呼ぶ）。
// 何度呼んでも paidAt は最初の値のまま。
func (u *OrderUsecase) MarkAsPaid(ctx context.Context, actorID int64, orderID string, result model.PaymentResult) (model.Order, error) {
	o, _, err := u.markAsPaid(ctx, actorID, orderID, result, nil)
	return o, err
}

// webhook イベント付き。処理済みのイベントなら何もしないで false。
func (u *OrderUsecase) MarkAsPaidByEvent(ctx context.Context, ev model.WebhookEvent) (model.Order, bool, error) {
	pe := &model.PaymentEvent{
		EventID:   ev.ID,
		EventType: ev.Type,
		OrderID:   ev.OrderID,
	}
	return u.markAsPaid(ctx, 0, ev.OrderID, ev.PaymentResult(), pe)
}

func (u *OrderUsecase) markAsPaid(ctx context.Context, actorID int64, orderID string, result model.PaymentResult, pe *model.PaymentEvent) (model.Order, bool, error) {
	if strings.TrimSpace(orderID) == "" {
		return model.Order{}, false, errValidation("invalid order id")
	}
	if strings.TrimSpace(result.ID) == "" {
		return model.Order{}, false, errValidation("paymentResult.id: required")
	}

	var out model.Order
	applied := false
	first := false

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		now := u.clock.Now()

		if pe != nil {
			pe.ProcessedAt = now
			isNew, err := r.PaymentEvents().MarkProcessed(ctx, *pe)
			if err != nil {
				return errInternal(err)
			}
			if !isNew {
				return nil
			}
		}

		o, err := r.Orders().FindByIDForUpdate(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return errNotFound("order %s not found", orderID)
		}
		if err != nil {
			return errInternal(err)
		}

		prev := o.Status
		wasPaid := o.IsPaid
		first = o.ApplyPayment(result, now)
		if err := r.Orders().UpdateState(ctx, o, prev); err != nil {
			return stateUpdateError(err)
		}

		if err := writeAudit(ctx, r, actorID, model.AuditActionMarkOrderPaid, model.AuditResourceOrder, o.ID,
			map[string]any{"status": prev, "isPaid": wasPaid},
			map[string]any{"status": o.Status, "isPaid": o.IsPaid, "paymentId": result.ID}, now); err != nil {
			return err
		}

		items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
		if err != nil {
			return errInternal(err)
		}
		o.Items = items
		out = o
		applied = true
		return nil
	})
	if err != nil {
		return model.Order{}, false, err
	}

	if first {
		if out.Status.IsTerminal() {
			log.Warn().Str("order_id", out.ID).Str("status", string(out.Status)).Msg("payment received for closed order")
		}
		log.Info().Str("order_id", out.ID).Str("payment_id", result.ID).Msg("order paid")
		u.notifier.Publish(ctx, model.NewOrderEvent(model.OrderEventPaid, out, u.clock.Now()))
	}
	return out, applied, nil
}

func (u *OrderUsecase) findOrder(ctx context.Context, orderID string) (model.Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return model.Order{}, errValidation("invalid order id")
	}
	o, err := u.orders.FindByID(ctx, orderID)
	if errors.Is(err, repo.ErrNotFound) {
		return model.Order{}, errNotFound("order %s not found", orderID)
	}
	if err != nil {
		return model.Order{}, errInternal(err)
	}
	return o, nil
}

func (u *OrderUsecase) withItems(ctx context.Context, o model.Order) (model.Order, error) {
	items, err := u.orderItems.ListByOrderID(ctx, o.ID)
	if err != nil {
		return model.Order{}, errInternal(err)
	}
	o.Items = items
	return o, nil
}

// 一覧の明細はまとめて1回で取る
func (u *OrderUsecase) attachItems(ctx context.Context, orders []model.Order) error {
	return attachItems(ctx, u.orderItems, orders)
}

func attachItems(ctx context.Context, itemsRepo repo.OrderItemRepository, orders []model.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	byOrder, err := itemsRepo.ListByOrderIDs(ctx, ids)
	if err != nil {
		return errInternal(err)
	}
	for i := range orders {
		orders[i].Items = byOrder[orders[i].ID]
		if orders[i].Items == nil {
			orders[i].Items = []model.OrderItem{}
		}
	}
	return nil
}

func transitionError(err error) error {
	var te *model.InvalidTransitionError
	if errors.As(err, &te) {
		return newKindError(http.StatusBadRequest, KindInvalidTransition, "%s", te.Error())
	}
	return errInternal(err)
}

func stateUpdateError(err error) error {
	if errors.Is(err, repo.ErrConflict) {
		return errConflict("order was modified concurrently, please retry")
	}
	return errInternal(err)
}

func writeAudit(ctx context.Context, r repo.TxRepos, actorID int64, action model.AuditAction, rt model.AuditResourceType, resourceID string, before, after any, now time.Time) error {
	b, err := json.Marshal(before)
	if err != nil {
		return errInternal(err)
	}
	a, err := json.Marshal(after)
	if err != nil {
		return errInternal(err)
	}
	if err := r.AuditLogs().Create(ctx, model.AuditLog{
		ActorUserID:  actorID,
		Action:       action,
		ResourceType: rt,
		ResourceID:   resourceID,
		BeforeJSON:   string(b),
		AfterJSON:    string(a),
		CreatedAt:    now,
	}); err != nil {
		return errInternal(err)
	}
	return nil
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultOrdersLimit
	}
	if limit > maxOrdersLimit {
		limit = maxOrdersLimit
	}
	return page, limit
}

func newPagination(page, limit int, total int64) Pagination {
	return Pagination{
		Page:  page,
		Limit: limit,
		Total: total,
		Pages: int(math.Ceil(float64(total) / float64(limit))),
	}
}
