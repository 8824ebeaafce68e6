package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"marketplace/internal/domain/model"
	repo "marketplace/internal/repository"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const recentOrdersLimit = 10

// 売上に数えるステータス
var revenueStatuses = []model.OrderStatus{
	model.OrderStatusProcessing,
	model.OrderStatusShipped,
	model.OrderStatusDelivered,
}

type AdminOrderUsecase struct {
	tx         repo.TransactionManager
	orders     repo.OrderRepository
	orderItems repo.OrderItemRepository
	auditLogs  repo.AuditLogRepository
	notifier   Notifier
	clock      Clock
}

func NewAdminOrderUsecase(
	tx repo.TransactionManager,
	orders repo.OrderRepository,
	orderItems repo.OrderItemRepository,
	auditLogs repo.AuditLogRepository,
	notifier Notifier,
	clock Clock,
) *AdminOrderUsecase {
	return &AdminOrderUsecase{
		tx:         tx,
		orders:     orders,
		orderItems: orderItems,
		auditLogs:  auditLogs,
		notifier:   notifier,
		clock:      clock,
	}
}

type AdminUpdateOrderStatusInput struct {
	Status         string
	TrackingNumber string
}

type StatusSummary struct {
	Count int64           `json:"count"`
	Total decimal.Decimal `json:"total"`
}

type OrderStatsOutput struct {
	ByStatus       map[model.OrderStatus]StatusSummary `json:"byStatus"`
	TotalOrders    int64                               `json:"totalOrders"`
	RecentOrders   []model.Order                       `json:"recentOrders"`
	MonthlyRevenue StatusSummary                       `json:"monthlyRevenue"`
}

// 注文一覧
func (u *AdminOrderUsecase) List(ctx context.Context, f repo.AdminOrderListFilter) (OrderListOutput, error) {
	f.Page, f.Limit = normalizePage(f.Page, f.Limit)
	if f.Status != "" {
		if _, ok := model.ParseOrderStatus(f.Status); !ok {
			return OrderListOutput{}, errValidation("status: unknown status %q", f.Status)
		}
	}
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return OrderListOutput{}, errValidation("from must be before to")
	}

	orders, total, err := u.orders.ListAdmin(ctx, f)
	if err != nil {
		return OrderListOutput{}, errInternal(err)
	}
	if err := attachItems(ctx, u.orderItems, orders); err != nil {
		return OrderListOutput{}, err
	}
	return OrderListOutput{Orders: orders, Pagination: newPagination(f.Page, f.Limit, total)}, nil
}

// ステータス更新。cancelled への変更は在庫戻しも行う。
func (u *AdminOrderUsecase) UpdateStatus(ctx context.Context, actor model.Actor, orderID string, in AdminUpdateOrderStatusInput) (model.Order, error) {
	if !actor.IsAdmin() {
		return model.Order{}, errForbidden()
	}
	if strings.TrimSpace(orderID) == "" {
		return model.Order{}, errValidation("invalid order id")
	}
	to, ok := model.ParseOrderStatus(strings.TrimSpace(in.Status))
	if !ok {
		return model.Order{}, errValidation("status: unknown status %q", in.Status)
	}
	tracking := strings.TrimSpace(in.TrackingNumber)
	if len(tracking) > 100 {
		return model.Order{}, errValidation("trackingNumber: too long")
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
		prev = o.Status
		now := u.clock.Now()

		if to == model.OrderStatusCancelled {
			// 遷移表で許されないなら InvalidTransition を優先
			if err := model.CheckTransition(o.Status, to); err != nil {
				return transitionError(err)
			}
			cancelled, err := cancelLocked(ctx, r, o, actor.UserID, now)
			if err != nil {
				return err
			}
			out = cancelled
			return nil
		}

		if err := o.TransitionTo(to, now); err != nil {
			return transitionError(err)
		}
		if tracking != "" {
			o.TrackingNumber = tracking
		}
		if err := r.Orders().UpdateState(ctx, o, prev); err != nil {
			return stateUpdateError(err)
		}

		after := map[string]any{"status": o.Status}
		if tracking != "" {
			after["trackingNumber"] = tracking
		}
		if err := writeAudit(ctx, r, actor.UserID, model.AuditActionUpdateOrderStatus, model.AuditResourceOrder, o.ID,
			map[string]any{"status": prev}, after, now); err != nil {
			return err
		}

		items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
		if err != nil {
			return errInternal(err)
		}
		o.Items = items
		out = o
		return nil
	})
	if err != nil {
		return model.Order{}, err
	}

	log.Info().Str("order_id", out.ID).Int64("actor_id", actor.UserID).
		Str("from", string(prev)).Str("to", string(out.Status)).Msg("order status updated")

	evType := model.OrderEventStatusChanged
	if out.Status == model.OrderStatusCancelled {
		evType = model.OrderEventCancelled
	}
	ev := model.NewOrderEvent(evType, out, u.clock.Now())
	ev.PrevStatus = prev
	u.notifier.Publish(ctx, ev)

	return out, nil
}

// ステータス別集計・最新注文・今月の売上をまとめて返す
func (u *AdminOrderUsecase) Stats(ctx context.Context) (OrderStatsOutput, error) {
	var (
		stats  []repo.StatusStat
		recent []model.Order
		rev    repo.Revenue
	)

	now := u.clock.Now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stats, err = u.orders.StatsByStatus(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		recent, err = u.orders.ListRecent(gctx, recentOrdersLimit)
		return err
	})
	g.Go(func() error {
		var err error
		rev, err = u.orders.RevenueSince(gctx, revenueStatuses, monthStart)
		return err
	})
	if err := g.Wait(); err != nil {
		return OrderStatsOutput{}, errInternal(err)
	}

	if err := attachItems(ctx, u.orderItems, recent); err != nil {
		return OrderStatsOutput{}, err
	}

	out := OrderStatsOutput{
		ByStatus:       make(map[model.OrderStatus]StatusSummary, len(stats)),
		RecentOrders:   recent,
		MonthlyRevenue: StatusSummary{Count: rev.Count, Total: rev.Total.Round(2)},
	}
	if out.RecentOrders == nil {
		out.RecentOrders = []model.Order{}
	}
	for _, s := range stats {
		out.ByStatus[s.Status] = StatusSummary{Count: s.Count, Total: s.Total.Round(2)}
		out.TotalOrders += s.Count
	}
	return out, nil
}

// 注文の操作履歴（監査ログ）
func (u *AdminOrderUsecase) History(ctx context.Context, orderID string) ([]model.AuditLog, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, errValidation("invalid order id")
	}
	if _, err := u.orders.FindByID(ctx, orderID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, errNotFound("order %s not found", orderID)
		}
		return nil, errInternal(err)
	}

	logs, err := u.auditLogs.List(ctx, repo.AuditLogFilter{
		ResourceType: model.AuditResourceOrder,
		ResourceID:   orderID,
	})
	if err != nil {
		return nil, errInternal(err)
	}
	return logs, nil
}
