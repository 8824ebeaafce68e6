package handler

import (
	"net/http"

	"marketplace/internal/domain/model"
	"marketplace/internal/usecase"

	"github.com/labstack/echo/v4"
)

type OrderHandler struct {
	uc      *usecase.OrderUsecase
	adminUC *usecase.AdminOrderUsecase
}

func NewOrderHandler(uc *usecase.OrderUsecase, adminUC *usecase.AdminOrderUsecase) *OrderHandler {
	return &OrderHandler{uc: uc, adminUC: adminUC}
}

type orderLineRequest struct {
	Product  int64 `json:"product" validate:"gt=0"`
	Quantity int64 `json:"quantity" validate:"min=1"`
}

type shippingAddressRequest struct {
	FirstName  string `json:"firstName" validate:"required,max=100"`
	LastName   string `json:"lastName" validate:"required,max=100"`
	Email      string `json:"email" validate:"required,email"`
	Phone      string `json:"phone" validate:"required,max=30"`
	Address    string `json:"address" validate:"required,max=255"`
	City       string `json:"city" validate:"required,max=100"`
	Country    string `json:"country" validate:"required,max=100"`
	PostalCode string `json:"postalCode" validate:"required,max=20"`
}

type OrderCreateRequest struct {
	OrderItems      []orderLineRequest     `json:"orderItems" validate:"required,min=1,dive"`
	ShippingAddress shippingAddressRequest `json:"shippingAddress"`
	PaymentMethod   string                 `json:"paymentMethod" validate:"required,oneof=credit_card paypal stripe bank_transfer cash_on_delivery"`
	Notes           string                 `json:"notes" validate:"max=500"`
}

type OrderStatusUpdateRequest struct {
	Status         string `json:"status" validate:"required"`
	TrackingNumber string `json:"trackingNumber" validate:"max=100"`
}

type MarkPaidRequest struct {
	PaymentResult struct {
		ID           string `json:"id" validate:"required,max=255"`
		Status       string `json:"status" validate:"max=50"`
		UpdateTime   string `json:"update_time" validate:"max=50"`
		EmailAddress string `json:"email_address" validate:"omitempty,email"`
	} `json:"paymentResult"`
}

// 認証済みグループと管理者用ミドルウェアを受け取る
func (h *OrderHandler) RegisterRoutes(g *echo.Group, adminOnly echo.MiddlewareFunc, createLimiter echo.MiddlewareFunc) {
	g.POST("", h.create, createLimiter)
	g.GET("/my-orders", h.myOrders)
	g.GET("/stats/overview", h.stats, adminOnly)
	g.GET("/:id", h.detail)
	g.PUT("/:id/cancel", h.cancel)
	g.PUT("/:id/status", h.updateStatus, adminOnly)
	g.POST("/:id/pay", h.pay, adminOnly)
}

func (h *OrderHandler) create(c echo.Context) error {
	actor, ok := actorFromContext(c)
	if !ok {
		return unauthorized(c)
	}
	var req OrderCreateRequest
	if msg, ok := bindAndValidate(c, &req); !ok {
		return badRequest(c, msg)
	}

	lines := make([]usecase.PlaceOrderLine, 0, len(req.OrderItems))
	for _, li := range req.OrderItems {
		lines = append(lines, usecase.PlaceOrderLine{ProductID: li.Product, Quantity: li.Quantity})
	}
	a := req.ShippingAddress

	//二重送信防止キーはヘッダーから受け取る（bodyには入れない）
	out, err := h.uc.PlaceOrder(c.Request().Context(), actor.UserID, usecase.PlaceOrderInput{
		Items: lines,
		ShippingAddress: model.ShippingAddress{
			FirstName:  a.FirstName,
			LastName:   a.LastName,
			Email:      a.Email,
			Phone:      a.Phone,
			Address:    a.Address,
			City:       a.City,
			Country:    a.Country,
			PostalCode: a.PostalCode,
		},
		PaymentMethod:  req.PaymentMethod,
		Notes:          req.Notes,
		IdempotencyKey: c.Request().Header.Get("Idempotency-Key"),
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *OrderHandler) myOrders(c echo.Context) error {
	actor, ok := actorFromContext(c)
	if !ok {
		return unauthorized(c)
	}
	page, err := queryInt(c, "page", 1)
	if err != nil {
		return badRequest(c, "invalid page")
	}
	limit, err := queryInt(c, "limit", 10)
	if err != nil {
		return badRequest(c, "invalid limit")
	}

	out, err := h.uc.ListMyOrders(c.Request().Context(), actor.UserID, c.QueryParam("status"), page, limit)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *OrderHandler) detail(c echo.Context) error {
	actor, ok := actorFromContext(c)
	if !ok {
		return unauthorized(c)
	}
	out, err := h.uc.GetOrder(c.Request().Context(), actor, c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *OrderHandler) cancel(c echo.Context) error {
	actor, ok := actorFromContext(c)
	if !ok {
		return unauthorized(c)
	}
	out, err := h.uc.CancelOrder(c.Request().Context(), actor, c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *OrderHandler) updateStatus(c echo.Context) error {
	var req OrderStatusUpdateRequest
	if msg, ok := bindAndValidate(c, &req); !ok {
		return badRequest(c, msg)
	}
	actor, ok := actorFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	out, err := h.adminUC.UpdateStatus(c.Request().Context(), actor, c.Param("id"), usecase.AdminUpdateOrderStatusInput{
		Status:         req.Status,
		TrackingNumber: req.TrackingNumber,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// 決済確認（運用者による手動確認）
func (h *OrderHandler) pay(c echo.Context) error {
	var req MarkPaidRequest
	if msg, ok := bindAndValidate(c, &req); !ok {
		return badRequest(c, msg)
	}
	actor, ok := actorFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	pr := req.PaymentResult
	out, err := h.uc.MarkAsPaid(c.Request().Context(), actor.UserID, c.Param("id"), model.PaymentResult{
		ID:           pr.ID,
		Status:       pr.Status,
		UpdateTime:   pr.UpdateTime,
		EmailAddress: pr.EmailAddress,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *OrderHandler) stats(c echo.Context) error {
	out, err := h.adminUC.Stats(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}
