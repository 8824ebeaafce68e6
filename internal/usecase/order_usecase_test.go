package usecase_test

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"marketplace/internal/domain/model"
	"marketplace/internal/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaceOrder_TwoUnitsAtFifty(t *testing.T) {
	env := newTestEnv(t)
	p := env.seedProduct(t, "A", "50.00", 5, false)

	o := env.placeOrder(t, buyer.UserID, line(p.ID, 2))

	assert.True(t, o.ItemsPrice.Equal(dec("100")))
	assert.True(t, o.TaxPrice.Equal(dec("10")))
	assert.True(t, o.ShippingPrice.IsZero())
	assert.True(t, o.TotalPrice.Equal(dec("110")))
	assert.Equal(t, model.OrderStatusPending, o.Status)
	assert.False(t, o.IsPaid)
	assert.False(t, o.IsDelivered)
	require.Len(t, o.Items, 1)
	assert.Equal(t, "A", o.Items[0].Name)

	assert.Equal(t, int64(3), env.product(t, p.ID).Stock)
	assert.Equal(t, []model.OrderEventType{model.OrderEventCreated}, env.notifier.publishedTypes())
}

func TestPlaceOrder_UsesEffectivePrice(t *testing.T) {
	env := newTestEnv(t)
	p := env.seedProduct(t, "Sale", "80.00", 5, false)

	discount := dec("60.00")
	until := env.clock.Now().Add(24 * time.Hour)
	p.DiscountPrice = &discount
	p.DiscountUntil = &until
	require.NoError(t, env.products.Update(context.Background(), p))

	o := env.placeOrder(t, buyer.UserID, line(p.ID, 1))
	assert.True(t, o.Items[0].Price.Equal(dec("60")))
	assert.True(t, o.ItemsPrice.Equal(dec("60")))
	assert.True(t, o.ShippingPrice.Equal(dec("10")))

	//期限切れなら定価
	env.clock.Advance(48 * time.Hour)
	o2 := env.placeOrder(t, buyer.UserID, line(p.ID, 1))
	assert.True(t, o2.Items[0].Price.Equal(dec("80")))
}

func TestPlaceOrder_DigitalSkipsStock(t *testing.T) {
	env := newTestEnv(t)
	d := env.seedProduct(t, "Ebook", "12.00", 0, true)

	o := env.placeOrder(t, buyer.UserID, line(d.ID, 3))
	assert.True(t, o.ItemsPrice.Equal(dec("36")))
	assert.True(t, o.Items[0].IsDigital)
	assert.Equal(t, int64(0), env.product(t, d.ID).Stock)
}

func TestPlaceOrder_AllOrNothing(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedProduct(t, "A", "10.00", 5, false)
	b := env.seedProduct(t, "B", "10.00", 1, false)

	_, err := env.orderUC.PlaceOrder(context.Background(), buyer.UserID, orderInput(line(a.ID, 2), line(b.ID, 2)))
	assertKind(t, err, usecase.KindOutOfStock, http.StatusBadRequest)
	assert.Contains(t, err.Error(), "B")

	//A の在庫も減っていない
	assert.Equal(t, int64(5), env.product(t, a.ID).Stock)
	assert.Equal(t, int64(1), env.product(t, b.ID).Stock)

	var count int64
	require.NoError(t, env.db.Model(&model.Order{}).Count(&count).Error)
	assert.Zero(t, count)
	assert.Empty(t, env.notifier.publishedTypes())
}

func TestPlaceOrder_ProductNotFoundOrInactive(t *testing.T) {
	env := newTestEnv(t)
	p := env.seedProduct(t, "Hidden", "10.00", 5, false)
	p.IsActive = false
	require.NoError(t, env.products.Update(context.Background(), p))

	_, err := env.orderUC.PlaceOrder(context.Background(), buyer.UserID, orderInput(line(p.ID, 1)))
	assertKind(t, err, usecase.KindNotFound, http.StatusNotFound)

	_, err = env.orderUC.PlaceOrder(context.Background(), buyer.UserID, orderInput(line(12345, 1)))
	assertKind(t, err, usecase.KindNotFound, http.StatusNotFound)
	assert.Contains(t, err.Error(), "12345")
}

func TestPlaceOrder_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cases := map[string]func(in *usecase.PlaceOrderInput){
		"no items":       func(in *usecase.PlaceOrderInput) { in.Items = nil },
		"zero quantity":  func(in *usecase.PlaceOrderInput) { in.Items[0].Quantity = 0 },
		"missing city":   func(in *usecase.PlaceOrderInput) { in.ShippingAddress.City = " " },
		"bad method":     func(in *usecase.PlaceOrderInput) { in.PaymentMethod = "bitcoin" },
		"notes too long": func(in *usecase.PlaceOrderInput) { in.Notes = strings.Repeat("x", 501) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := orderInput(line(1, 1))
			mutate(&in)
			_, err := env.orderUC.PlaceOrder(ctx, buyer.UserID, in)
			assertKind(t, err, usecase.KindValidation, http.StatusBadRequest)
		})
	}
}

func TestPlaceOrder_IdempotencyKey(t *testing.T) {
	env := newTestEnv(t)
	p := env.seedProduct(t, "A", "10.00", 5, false)

	in := orderInput(line(p.ID, 1))
	in.IdempotencyKey = "checkout-1"

	first, err := env.orderUC.PlaceOrder(context.Background(), buyer.UserID, in)
	require.NoError(t, err)
	second, err := env.orderUC.PlaceOrder(context.Background(), buyer.UserID, in)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, second.Items, 1)
	assert.Equal(t, int64(4), env.product(t, p.ID).Stock)
	assert.Len(t, env.notifier.publishedTypes(), 1)
}

// sqlite の接続は1本なのでトランザクションは順に流れる。
// ここで見るのは成功数と在庫切れ数の合計。読み取り後の減算競合は
// repository の TestInventory_DecreaseStockIfEnough_StaleRead で見る。
func TestPlaceOrder_ConcurrentLastUnits(t *testing.T) {
	env := newTestEnv(t)
	const n = 10
	p := env.seedProduct(t, "Limited", "5.00", n-1, false)

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		successes  int
		outOfStock int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.orderUC.PlaceOrder(context.Background(), buyer.UserID, orderInput(line(p.ID, 1)))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			if he, ok := usecase.AsHTTPError(err); ok && he.Kind == usecase.KindOutOfStock {
				outOfStock++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, n-1, successes)
	assert.Equal(t, 1, outOfStock)

	got := env.product(t, p.ID)
	assert.Equal(t, int64(0), got.Stock)
	assert.False(t, got.InStock)
}

func TestGetOrder_Access(t *testing.T) {
	env := newTestEnv(t)
	p := env.seedProduct(t, "A", "10.00", 5, false)
	o := env.placeOrder(t, buyer.UserID, line(p.ID, 1))
	ctx := context.Background()

	got, err := env.orderUC.GetOrder(ctx, buyer, o.ID)
	require.NoError(t, err)
	assert.Len(t, got.Items, 1)

	_, err = env.orderUC.GetOrder(ctx, admin, o.ID)
	require.NoError(t, err)

	_, err = env.orderUC.GetOrder(ctx, stranger, o.ID)
	assertKind(t, err, usecase.KindForbidden, http.StatusForbidden)

	_, err = env.orderUC.GetOrder(ctx, buyer, "00000000-0000-0000-0000-000000000000")
	assertKind(t, err, usecase.KindNotFound, http.StatusNotFound)
}

func TestListMyOrders(t *testing.T) {
	env := newTestEnv(t)
	p := env.seedProduct(t, "A", "10.00", 50, false)
	for i := 0; i < 3; i++ {
		env.placeOrder(t, buyer.UserID, line(p.ID, 1))
	}
	env.placeOrder(t, stranger.UserID, line(p.ID, 1))

	out, err := env.orderUC.ListMyOrders(context.Background(), buyer.UserID, "", 1, 2)
	require.NoError(t, err)
	assert.Len(t, out.Orders, 2)
	assert.Equal(t, int64(3), out.Pagination.Total)
	assert.Equal(t, 2, out.Pagination.Pages)
	for _, o := range out.Orders {
		assert.Equal(t, buyer.UserID, o.UserID)
		assert.Len(t, o.Items, 1)
	}

	_, err = env.orderUC.ListMyOrders(context.Background(), buyer.UserID, "lost", 1, 10)
	assertKind(t, err, usecase.KindValidation, http.StatusBadRequest)
}

func TestCancelOrder_RestoresStock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.seedProduct(t, "X", "20.00", 2, false)
	d := env.seedProduct(t, "Digital", "5.00", 0, true)

	o := env.placeOrder(t, buyer.UserID, line(p.ID, 2), line(d.ID, 1))
	require.False(t, env.product(t, p.ID).InStock)

	_, err := env.adminUC.UpdateStatus(ctx, admin, o.ID, usecase.AdminUpdateOrderStatusInput{Status: "processing"})
	require.NoError(t, err)

	cancelled, err := env.orderUC.CancelOrder(ctx, buyer, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCancelled, cancelled.Status)

	got := env.product(t, p.ID)
	assert.Equal(t, int64(2), got.Stock)
	assert.True(t, got.InStock)
	assert.Equal(t, int64(0), env.product(t, d.ID).Stock)

	assert.Contains(t, env.notifier.publishedTypes(), model.OrderEventCancelled)
}

func TestCancelOrder_Rules(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.seedProduct(t, "X", "20.00", 10, false)

	t.Run("stranger is forbidden", func(t *testing.T) {
		o := env.placeOrder(t, buyer.UserID, line(p.ID, 1))
		_, err := env.orderUC.CancelOrder(ctx, stranger, o.ID)
		assertKind(t, err, usecase.KindForbidden, http.StatusForbidden)
	})

	t.Run("admin may cancel", func(t *testing.T) {
		o := env.placeOrder(t, buyer.UserID, line(p.ID, 1))
		_, err := env.orderUC.CancelOrder(ctx, admin, o.ID)
		require.NoError(t, err)
	})

	t.Run("shipped cannot be cancelled", func(t *testing.T) {
		o := env.placeOrder(t, buyer.UserID, line(p.ID, 1))
		for _, s := range []string{"processing", "shipped"} {
			_, err := env.adminUC.UpdateStatus(ctx, admin, o.ID, usecase.AdminUpdateOrderStatusInput{Status: s})
			require.NoError(t, err)
		}
		before := env.product(t, p.ID).Stock

		_, err := env.orderUC.CancelOrder(ctx, buyer, o.ID)
		assertKind(t, err, usecase.KindInvalidStage, http.StatusBadRequest)
		assert.Equal(t, before, env.product(t, p.ID).Stock)
	})

	t.Run("twice", func(t *testing.T) {
		o := env.placeOrder(t, buyer.UserID, line(p.ID, 1))
		_, err := env.orderUC.CancelOrder(ctx, buyer, o.ID)
		require.NoError(t, err)
		before := env.product(t, p.ID).Stock

		_, err = env.orderUC.CancelOrder(ctx, buyer, o.ID)
		assertKind(t, err, usecase.KindInvalidStage, http.StatusBadRequest)
		assert.Equal(t, before, env.product(t, p.ID).Stock)
	})
}

func TestMarkAsPaid_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.seedProduct(t, "A", "10.00", 5, false)
	o := env.placeOrder(t, buyer.UserID, line(p.ID, 1))

	result := model.PaymentResult{ID: "pi_123", Status: "succeeded", UpdateTime: "2024-03-15T12:00:00Z", EmailAddress: "ada@example.com"}

	first, err := env.orderUC.MarkAsPaid(ctx, admin.UserID, o.ID, result)
	require.NoError(t, err)
	require.True(t, first.IsPaid)
	require.NotNil(t, first.PaidAt)
	assert.Equal(t, model.OrderStatusProcessing, first.Status)

	env.clock.Advance(time.Hour)
	second, err := env.orderUC.MarkAsPaid(ctx, admin.UserID, o.ID, result)
	require.NoError(t, err)
	assert.True(t, second.IsPaid)
	assert.True(t, first.PaidAt.Equal(*second.PaidAt))
	assert.Equal(t, model.OrderStatusProcessing, second.Status)

	stored, err := env.orders.FindByID(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, first.PaidAt.Equal(*stored.PaidAt))
	assert.Equal(t, "pi_123", stored.PaymentResult.ID)

	//paid イベントは1回だけ
	paid := 0
	for _, typ := range env.notifier.publishedTypes() {
		if typ == model.OrderEventPaid {
			paid++
		}
	}
	assert.Equal(t, 1, paid)
}

func TestMarkAsPaid_RequiresPaymentID(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.orderUC.MarkAsPaid(context.Background(), admin.UserID, "some-id", model.PaymentResult{})
	assertKind(t, err, usecase.KindValidation, http.StatusBadRequest)
}
