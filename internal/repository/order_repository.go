package repository

import (
	"context"
	"errors"
	"time"

	"marketplace/internal/domain/model"

	"github.com/shopspring/decimal"
)

// 期待したステータスから既に変わっていた（同時更新で負けた）
var ErrConflict = errors.New("conflict")

type AdminOrderListFilter struct {
	Page   int
	Limit  int
	Status string
	UserID *int64
	From   *time.Time
	To     *time.Time
}

type UserOrderListFilter struct {
	UserID int64
	Status string
	Page   int
	Limit  int
}

// ステータスごとの件数と合計金額
type StatusStat struct {
	Status model.OrderStatus
	Count  int64
	Total  decimal.Decimal
}

type Revenue struct {
	Count int64
	Total decimal.Decimal
}

type OrderRepository interface {
	FindByID(ctx context.Context, orderID string) (model.Order, error)
	// 行ロック付き（トランザクション内で使う）
	FindByIDForUpdate(ctx context.Context, orderID string) (model.Order, error)
	ListByUserID(ctx context.Context, f UserOrderListFilter) ([]model.Order, int64, error)
	Create(ctx context.Context, order model.Order) error

	// expected のときだけ状態を書き換える。別の状態なら ErrConflict。
	UpdateState(ctx context.Context, order model.Order, expected model.OrderStatus) error

	//検索（同じキーなら同じ結果を返す）
	FindByIdempotencyKey(ctx context.Context, userID int64, key string) (model.Order, bool, error)
	//管理者用の注文一覧
	ListAdmin(ctx context.Context, f AdminOrderListFilter) ([]model.Order, int64, error)

	// 集計（管理画面用）
	StatsByStatus(ctx context.Context) ([]StatusStat, error)
	ListRecent(ctx context.Context, limit int) ([]model.Order, error)
	RevenueSince(ctx context.Context, statuses []model.OrderStatus, since time.Time) (Revenue, error)
}
