package usecase_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"marketplace/internal/domain/model"
	"marketplace/internal/domain/pricing"
	"marketplace/internal/infra/db"
	infraRepo "marketplace/internal/infra/repository"
	"marketplace/internal/usecase"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// =====================
// Mock: Notifier
// =====================

type NotifierMock struct {
	mock.Mock
}

func (m *NotifierMock) Publish(ctx context.Context, ev model.OrderEvent) {
	m.Called(ctx, ev)
}

// 受け取ったイベントの種類だけを並べる
func (m *NotifierMock) publishedTypes() []model.OrderEventType {
	var out []model.OrderEventType
	for _, c := range m.Calls {
		if c.Method == "Publish" {
			out = append(out, c.Arguments.Get(1).(model.OrderEvent).Type)
		}
	}
	return out
}

// =====================
// Mock: PaymentGateway
// =====================

type PaymentGatewayMock struct {
	mock.Mock
}

func (m *PaymentGatewayMock) CreatePaymentIntent(ctx context.Context, orderID string, userID int64, amount decimal.Decimal) (model.PaymentIntent, error) {
	args := m.Called(ctx, orderID, userID, amount)
	pi, _ := args.Get(0).(model.PaymentIntent)
	return pi, args.Error(1)
}

func (m *PaymentGatewayMock) RetrievePaymentIntent(ctx context.Context, intentID string) (model.PaymentIntent, error) {
	args := m.Called(ctx, intentID)
	pi, _ := args.Get(0).(model.PaymentIntent)
	return pi, args.Error(1)
}

func (m *PaymentGatewayMock) Refund(ctx context.Context, intentID string, amount *decimal.Decimal) (model.Refund, error) {
	args := m.Called(ctx, intentID, amount)
	r, _ := args.Get(0).(model.Refund)
	return r, args.Error(1)
}

func (m *PaymentGatewayMock) ParseWebhook(payload []byte, signature string) (model.WebhookEvent, error) {
	args := m.Called(payload, signature)
	ev, _ := args.Get(0).(model.WebhookEvent)
	return ev, args.Error(1)
}

// 進められる時計
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	db       *gorm.DB
	clock    *testClock
	notifier *NotifierMock
	gateway  *PaymentGatewayMock

	products *infraRepo.ProductGormRepository
	orders   *infraRepo.OrderGormRepository
	audit    *infraRepo.AuditLogGormRepository

	orderUC   *usecase.OrderUsecase
	adminUC   *usecase.AdminOrderUsecase
	paymentUC *usecase.PaymentUsecase
	productUC *usecase.ProductUsecase
}

var (
	buyer    = model.Actor{UserID: 1, Role: model.RoleUser}
	stranger = model.Actor{UserID: 2, Role: model.RoleUser}
	admin    = model.Actor{UserID: 99, Role: model.RoleAdmin}
)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.Migrate(gdb))

	env := &testEnv{
		db:       gdb,
		clock:    &testClock{now: time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)},
		notifier: new(NotifierMock),
		gateway:  new(PaymentGatewayMock),
		products: infraRepo.NewProductGormRepository(gdb),
		orders:   infraRepo.NewOrderGormRepository(gdb),
		audit:    infraRepo.NewAuditLogGormRepository(gdb),
	}
	env.notifier.On("Publish", mock.Anything, mock.Anything).Return().Maybe()

	tx := infraRepo.NewTxManagerGorm(gdb)
	items := infraRepo.NewOrderItemGormRepository(gdb)

	env.orderUC = usecase.NewOrderUsecase(tx, env.orders, items, pricing.DefaultPolicy(), env.notifier, env.clock, usecase.UUIDGenerator{})
	env.adminUC = usecase.NewAdminOrderUsecase(tx, env.orders, items, env.audit, env.notifier, env.clock)
	env.paymentUC = usecase.NewPaymentUsecase(tx, env.gateway, env.orderUC, env.clock)
	env.productUC = usecase.NewProductUsecase(env.products, tx, env.clock)
	return env
}

func (e *testEnv) seedProduct(t *testing.T, name, price string, stock int64, digital bool) model.Product {
	t.Helper()
	p, err := e.products.Create(context.Background(), model.Product{
		Name:      name,
		Price:     decimal.RequireFromString(price),
		Stock:     stock,
		InStock:   digital || stock > 0,
		IsDigital: digital,
		IsActive:  true,
	})
	require.NoError(t, err)
	return p
}

func (e *testEnv) product(t *testing.T, id int64) model.Product {
	t.Helper()
	p, err := e.products.FindByID(context.Background(), id)
	require.NoError(t, err)
	return p
}

func (e *testEnv) placeOrder(t *testing.T, userID int64, lines ...usecase.PlaceOrderLine) model.Order {
	t.Helper()
	o, err := e.orderUC.PlaceOrder(context.Background(), userID, orderInput(lines...))
	require.NoError(t, err)
	return o
}

func orderInput(lines ...usecase.PlaceOrderLine) usecase.PlaceOrderInput {
	return usecase.PlaceOrderInput{
		Items: lines,
		ShippingAddress: model.ShippingAddress{
			FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com", Phone: "555-0100",
			Address: "1 Main St", City: "London", Country: "UK", PostalCode: "N1",
		},
		PaymentMethod: "stripe",
	}
}

func line(productID, qty int64) usecase.PlaceOrderLine {
	return usecase.PlaceOrderLine{ProductID: productID, Quantity: qty}
}

func assertKind(t *testing.T, err error, kind usecase.ErrorKind, status int) {
	t.Helper()
	require.Error(t, err)
	he, ok := usecase.AsHTTPError(err)
	require.True(t, ok, "expected HTTPError, got %v", err)
	assert.Equal(t, kind, he.Kind)
	assert.Equal(t, status, he.Status)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
