package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"marketplace/internal/config"
	"marketplace/internal/domain/model"
	"marketplace/internal/domain/pricing"
	"marketplace/internal/handler"
	"marketplace/internal/infra/db"
	"marketplace/internal/infra/metrics"
	infraRepo "marketplace/internal/infra/repository"
	"marketplace/internal/infra/token"
	"marketplace/internal/server"
	"marketplace/internal/usecase"
	auth "marketplace/internal/usecase/auth_usecase"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const jwtSecret = "server-test-secret"

// 署名 "valid" だけを通す決済窓口
type fakeGateway struct{}

func (fakeGateway) CreatePaymentIntent(_ context.Context, orderID string, _ int64, amount decimal.Decimal) (model.PaymentIntent, error) {
	return model.PaymentIntent{ID: "pi_" + orderID, ClientSecret: "secret", Amount: amount, Currency: "usd"}, nil
}

// "pi_<注文ID>" は支払い済み、それ以外は未完了
func (fakeGateway) RetrievePaymentIntent(_ context.Context, intentID string) (model.PaymentIntent, error) {
	orderID, ok := strings.CutPrefix(intentID, "pi_")
	status := "succeeded"
	if !ok {
		status = "requires_payment_method"
	}
	return model.PaymentIntent{ID: intentID, Amount: decimal.RequireFromString("21"), Currency: "usd", Status: status, OrderID: orderID}, nil
}

func (fakeGateway) Refund(_ context.Context, intentID string, _ *decimal.Decimal) (model.Refund, error) {
	return model.Refund{ID: "re_1", PaymentIntentID: intentID, Status: "succeeded"}, nil
}

func (fakeGateway) ParseWebhook(payload []byte, signature string) (model.WebhookEvent, error) {
	if signature != "valid" {
		return model.WebhookEvent{}, model.ErrInvalidWebhookSignature
	}
	var body struct {
		ID      string `json:"id"`
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return model.WebhookEvent{}, err
	}
	return model.WebhookEvent{
		ID:           body.ID,
		Type:         model.WebhookPaymentSucceeded,
		IntentID:     "pi_" + body.OrderID,
		IntentStatus: "succeeded",
		OrderID:      body.OrderID,
		Created:      time.Now(),
	}, nil
}

type nopNotifier struct{}

func (nopNotifier) Publish(context.Context, model.OrderEvent) {}

type app struct {
	e      *echo.Echo
	db     *gorm.DB
	issuer *token.JWTIssuer
}

func newApp(t *testing.T) *app {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.Migrate(gdb))

	cfg := config.Config{RateLimitPerSecond: 1000, RateLimitBurst: 1000}
	clock := usecase.SystemClock{}
	issuer := token.NewJWTIssuer(jwtSecret, time.Minute)

	users := infraRepo.NewUserGormRepository(gdb)
	products := infraRepo.NewProductGormRepository(gdb)
	orders := infraRepo.NewOrderGormRepository(gdb)
	items := infraRepo.NewOrderItemGormRepository(gdb)
	audit := infraRepo.NewAuditLogGormRepository(gdb)
	tx := infraRepo.NewTxManagerGorm(gdb)

	orderUC := usecase.NewOrderUsecase(tx, orders, items, pricing.DefaultPolicy(), nopNotifier{}, clock, usecase.UUIDGenerator{})
	adminUC := usecase.NewAdminOrderUsecase(tx, orders, items, audit, nopNotifier{}, clock)
	productUC := usecase.NewProductUsecase(products, tx, clock)

	e := server.New(server.Deps{
		Config:       cfg,
		DB:           gdb,
		Users:        users,
		TokenParser:  issuer,
		Metrics:      metrics.New(),
		Logger:       zerolog.Nop(),
		Auth:         handler.NewAuthHandler(auth.NewRegisterUserUsecase(users, auth.NewBcryptPasswordHasher(4), clock), auth.NewLoginUsecase(users, auth.NewBcryptPasswordVerifier(), issuer, clock), auth.NewLogoutAllUsecase(users)),
		Products:     handler.NewProductHandler(productUC),
		AdminProduct: handler.NewAdminProductHandler(productUC),
		Orders:       handler.NewOrderHandler(orderUC, adminUC),
		AdminOrders:  handler.NewAdminOrderHandler(adminUC),
		Payments:     handler.NewPaymentHandler(usecase.NewPaymentUsecase(tx, fakeGateway{}, orderUC, clock)),
	})
	return &app{e: e, db: gdb, issuer: issuer}
}

func (a *app) user(t *testing.T, email string, role model.Role) string {
	t.Helper()
	u := &model.User{Email: email, PasswordHash: "x", Role: role, IsActive: true}
	require.NoError(t, a.db.Create(u).Error)
	raw, _, err := a.issuer.Issue(u.ID, role, 0, time.Now())
	require.NoError(t, err)
	return raw
}

func (a *app) userID(t *testing.T, email string) int64 {
	t.Helper()
	var u model.User
	require.NoError(t, a.db.Where("email = ?", email).First(&u).Error)
	return u.ID
}

func (a *app) product(t *testing.T, price string, stock int64) int64 {
	t.Helper()
	p := model.Product{Name: "P", Price: decimal.RequireFromString(price), Stock: stock, InStock: stock > 0, IsActive: true}
	require.NoError(t, a.db.Create(&p).Error)
	return p.ID
}

func (a *app) do(method, path, tok string, body any, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case []byte:
		buf.Write(b)
	default:
		_ = json.NewEncoder(&buf).Encode(b)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if tok != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func orderBody(productID, qty int64) map[string]any {
	return map[string]any{
		"orderItems": []map[string]any{{"product": productID, "quantity": qty}},
		"shippingAddress": map[string]any{
			"firstName": "Ada", "lastName": "Lovelace", "email": "ada@example.com", "phone": "555",
			"address": "1 Main St", "city": "London", "country": "UK", "postalCode": "N1",
		},
		"paymentMethod": "stripe",
	}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	a := newApp(t)
	rec := a.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRegisterAndLogin(t *testing.T) {
	a := newApp(t)
	creds := map[string]string{"email": "new@example.com", "password": "correct-horse-battery"}

	rec := a.do(http.MethodPost, "/auth/register", "", creds)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = a.do(http.MethodPost, "/auth/register", "", creds)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(http.MethodPost, "/auth/login", "", creds)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	tok := decode(t, rec)["token"].(map[string]any)["access_token"].(string)

	rec = a.do(http.MethodGet, "/orders/my-orders", tok, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	//全端末ログアウト後は古いトークンが通らない
	rec = a.do(http.MethodPost, "/auth/logout-all", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodGet, "/orders/my-orders", tok, nil).Code)

	rec = a.do(http.MethodPost, "/auth/login", "", map[string]string{"email": "new@example.com", "password": "wrong-password-123"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOrderFlow(t *testing.T) {
	a := newApp(t)
	buyer := a.user(t, "buyer@example.com", model.RoleUser)
	stranger := a.user(t, "other@example.com", model.RoleUser)
	admin := a.user(t, "admin@example.com", model.RoleAdmin)
	pid := a.product(t, "50.00", 5)

	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodPost, "/orders", "", orderBody(pid, 2)).Code)

	rec := a.do(http.MethodPost, "/orders", buyer, orderBody(pid, 2), "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	order := decode(t, rec)
	orderID := order["id"].(string)
	assert.Equal(t, "110", order["totalPrice"])
	assert.Equal(t, "pending", order["status"])

	//同じキーで再送しても同じ注文
	rec = a.do(http.MethodPost, "/orders", buyer, orderBody(pid, 2), "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, orderID, decode(t, rec)["id"])

	rec = a.do(http.MethodGet, "/orders/"+orderID, stranger, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", decode(t, rec)["kind"])
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/orders/"+orderID, admin, nil).Code)

	//管理者以外はステータス変更できない
	rec = a.do(http.MethodPut, "/orders/"+orderID+"/status", buyer, map[string]string{"status": "processing"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(http.MethodPut, "/orders/"+orderID+"/status", admin, map[string]string{"status": "delivered"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_TRANSITION", decode(t, rec)["kind"])

	rec = a.do(http.MethodPut, "/orders/"+orderID+"/status", admin, map[string]string{"status": "processing"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "processing", decode(t, rec)["status"])

	rec = a.do(http.MethodPut, "/orders/"+orderID+"/status", admin, map[string]any{"status": "shipped", "trackingNumber": "TRK"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(http.MethodPut, "/orders/"+orderID+"/cancel", buyer, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_STAGE", decode(t, rec)["kind"])

	rec = a.do(http.MethodGet, "/orders/stats/overview", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["totalOrders"])
	assert.Equal(t, http.StatusForbidden, a.do(http.MethodGet, "/orders/stats/overview", buyer, nil).Code)

	rec = a.do(http.MethodGet, "/admin/orders/"+orderID+"/history", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["history"], 2)
}

func TestCreateOrder_Errors(t *testing.T) {
	a := newApp(t)
	buyer := a.user(t, "buyer@example.com", model.RoleUser)
	pid := a.product(t, "10.00", 1)

	body := orderBody(pid, 1)
	body["orderItems"] = []map[string]any{}
	rec := a.do(http.MethodPost, "/orders", buyer, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decode(t, rec)["kind"])

	rec = a.do(http.MethodPost, "/orders", buyer, orderBody(pid, 2))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "OUT_OF_STOCK", decode(t, rec)["kind"])

	rec = a.do(http.MethodPost, "/orders", buyer, orderBody(9999, 1))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decode(t, rec)["kind"])
}

func TestWebhook(t *testing.T) {
	a := newApp(t)
	buyer := a.user(t, "buyer@example.com", model.RoleUser)
	pid := a.product(t, "10.00", 3)

	rec := a.do(http.MethodPost, "/orders", buyer, orderBody(pid, 1))
	require.Equal(t, http.StatusCreated, rec.Code)
	orderID := decode(t, rec)["id"].(string)
	payload := []byte(fmt.Sprintf(`{"id":"evt_1","orderId":%q}`, orderID))

	rec = a.do(http.MethodPost, "/payments/webhook", "", payload, "Stripe-Signature", "forged")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "SIGNATURE_VERIFICATION_FAILED", decode(t, rec)["kind"])

	rec = a.do(http.MethodGet, "/orders/"+orderID, buyer, nil)
	assert.Equal(t, false, decode(t, rec)["isPaid"])

	for i := 0; i < 2; i++ {
		rec = a.do(http.MethodPost, "/payments/webhook", "", payload, "Stripe-Signature", "valid")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, true, decode(t, rec)["received"])
	}

	got := decode(t, a.do(http.MethodGet, "/orders/"+orderID, buyer, nil))
	assert.Equal(t, true, got["isPaid"])
	assert.Equal(t, "processing", got["status"])
}

func TestPaymentIntentAndRefund(t *testing.T) {
	a := newApp(t)
	buyer := a.user(t, "buyer@example.com", model.RoleUser)
	admin := a.user(t, "admin@example.com", model.RoleAdmin)
	pid := a.product(t, "10.00", 3)

	rec := a.do(http.MethodPost, "/orders", buyer, orderBody(pid, 1))
	require.Equal(t, http.StatusCreated, rec.Code)
	orderID := decode(t, rec)["id"].(string)

	rec = a.do(http.MethodPost, "/payments/create-payment-intent", buyer, map[string]string{"orderId": orderID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	pi := decode(t, rec)
	assert.Equal(t, "pi_"+orderID, pi["paymentIntentId"])
	assert.Equal(t, "21", pi["amount"])

	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodPost, "/payments/create-payment-intent", "", map[string]string{"orderId": orderID}).Code)

	refund := map[string]any{"paymentIntentId": "pi_" + orderID}
	assert.Equal(t, http.StatusForbidden, a.do(http.MethodPost, "/payments/refund", buyer, refund).Code)
	rec = a.do(http.MethodPost, "/payments/refund", admin, refund)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "re_1", decode(t, rec)["refundId"])
}

func TestAdminInventory(t *testing.T) {
	a := newApp(t)
	buyer := a.user(t, "buyer@example.com", model.RoleUser)
	admin := a.user(t, "admin@example.com", model.RoleAdmin)
	pid := a.product(t, "10.00", 3)

	body := map[string]any{"stock": 8, "reason": "restock"}
	assert.Equal(t, http.StatusForbidden, a.do(http.MethodPut, fmt.Sprintf("/admin/inventory/%d", pid), buyer, body).Code)

	rec := a.do(http.MethodPut, fmt.Sprintf("/admin/inventory/%d", pid), admin, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(http.MethodGet, fmt.Sprintf("/products/%d", pid), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 8, decode(t, rec)["stockQuantity"])
}

func TestConfirmPayment(t *testing.T) {
	a := newApp(t)
	buyer := a.user(t, "buyer@example.com", model.RoleUser)
	stranger := a.user(t, "other@example.com", model.RoleUser)
	pid := a.product(t, "10.00", 3)

	rec := a.do(http.MethodPost, "/orders", buyer, orderBody(pid, 1))
	require.Equal(t, http.StatusCreated, rec.Code)
	orderID := decode(t, rec)["id"].(string)
	confirm := map[string]string{"paymentIntentId": "pi_" + orderID}

	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodPost, "/payments/confirm-payment", "", confirm).Code)
	assert.Equal(t, http.StatusForbidden, a.do(http.MethodPost, "/payments/confirm-payment", stranger, confirm).Code)

	rec = a.do(http.MethodPost, "/payments/confirm-payment", buyer, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decode(t, rec)["kind"])

	rec = a.do(http.MethodPost, "/payments/confirm-payment", buyer, confirm)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode(t, rec)
	assert.Equal(t, "succeeded", res["status"])
	assert.Equal(t, "21", res["amount"])
	assert.Equal(t, "usd", res["currency"])
	assert.Equal(t, true, res["isPaid"])

	got := decode(t, a.do(http.MethodGet, "/orders/"+orderID, buyer, nil))
	assert.Equal(t, true, got["isPaid"])
	assert.Equal(t, "processing", got["status"])
}

func TestAdminOrderList_UserFilter(t *testing.T) {
	a := newApp(t)
	buyer := a.user(t, "buyer@example.com", model.RoleUser)
	other := a.user(t, "other@example.com", model.RoleUser)
	admin := a.user(t, "admin@example.com", model.RoleAdmin)
	buyerID := a.userID(t, "buyer@example.com")
	pid := a.product(t, "10.00", 10)

	for _, tok := range []string{buyer, buyer, other} {
		require.Equal(t, http.StatusCreated, a.do(http.MethodPost, "/orders", tok, orderBody(pid, 1)).Code)
	}

	list := func(query string) []any {
		rec := a.do(http.MethodGet, "/admin/orders"+query, admin, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		return decode(t, rec)["orders"].([]any)
	}

	assert.Len(t, list(""), 3)

	for _, q := range []string{"?userId=", "?user_id="} {
		orders := list(fmt.Sprintf("%s%d", q, buyerID))
		require.Len(t, orders, 2, q)
		for _, o := range orders {
			assert.EqualValues(t, buyerID, o.(map[string]any)["user"])
		}
	}

	rec := a.do(http.MethodGet, "/admin/orders?userId=abc", admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, http.StatusForbidden, a.do(http.MethodGet, "/admin/orders", buyer, nil).Code)
}
