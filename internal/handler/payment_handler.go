package handler

import (
	"io"
	"net/http"

	"marketplace/internal/usecase"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

// webhook 本文の上限
const maxWebhookBody = 64 << 10

type PaymentHandler struct {
	uc *usecase.PaymentUsecase
}

func NewPaymentHandler(uc *usecase.PaymentUsecase) *PaymentHandler {
	return &PaymentHandler{uc: uc}
}

type createIntentRequest struct {
	OrderID string `json:"orderId" validate:"required,max=36"`
}

type confirmPaymentRequest struct {
	PaymentIntentID string `json:"paymentIntentId" validate:"required,max=255"`
}

type refundRequest struct {
	PaymentIntentID string           `json:"paymentIntentId" validate:"required,max=255"`
	Amount          *decimal.Decimal `json:"amount"`
}

func (h *PaymentHandler) RegisterRoutes(authed *echo.Group, public *echo.Group, adminOnly echo.MiddlewareFunc) {
	authed.POST("/create-payment-intent", h.createIntent)
	authed.POST("/confirm-payment", h.confirm)
	authed.POST("/refund", h.refund, adminOnly)
	public.POST("/webhook", h.webhook)
}

func (h *PaymentHandler) createIntent(c echo.Context) error {
	var req createIntentRequest
	if msg, ok := bindAndValidate(c, &req); !ok {
		return badRequest(c, msg)
	}
	actor, ok := actorFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	pi, err := h.uc.CreateIntent(c.Request().Context(), actor, req.OrderID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, pi)
}

func (h *PaymentHandler) confirm(c echo.Context) error {
	var req confirmPaymentRequest
	if msg, ok := bindAndValidate(c, &req); !ok {
		return badRequest(c, msg)
	}
	actor, ok := actorFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	out, err := h.uc.ConfirmPayment(c.Request().Context(), actor, req.PaymentIntentID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *PaymentHandler) refund(c echo.Context) error {
	var req refundRequest
	if msg, ok := bindAndValidate(c, &req); !ok {
		return badRequest(c, msg)
	}
	actor, ok := actorFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	ref, err := h.uc.Refund(c.Request().Context(), actor, req.PaymentIntentID, req.Amount)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, ref)
}

// 署名検証のため本文はそのまま読む
func (h *PaymentHandler) webhook(c echo.Context) error {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Response(), c.Request().Body, maxWebhookBody))
	if err != nil {
		return badRequest(c, "invalid body")
	}

	res, err := h.uc.HandleWebhook(c.Request().Context(), payload, c.Request().Header.Get("Stripe-Signature"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}
