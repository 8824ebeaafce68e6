package usecase

import (
	"errors"
	"fmt"
	"net/http"
)

// 機械判定用のエラー種別（JSONの kind）
type ErrorKind string

const (
	KindValidation        ErrorKind = "VALIDATION_ERROR"
	KindNotFound          ErrorKind = "NOT_FOUND"
	KindForbidden         ErrorKind = "FORBIDDEN"
	KindOutOfStock        ErrorKind = "OUT_OF_STOCK"
	KindInvalidTransition ErrorKind = "INVALID_TRANSITION"
	KindInvalidStage      ErrorKind = "INVALID_STAGE"
	KindSignature         ErrorKind = "SIGNATURE_VERIFICATION_FAILED"
	KindUpstreamPayment   ErrorKind = "UPSTREAM_PAYMENT_ERROR"
	KindUnauthorized      ErrorKind = "UNAUTHORIZED"
	KindConflict          ErrorKind = "CONFLICT"
	KindInternal          ErrorKind = "INTERNAL"
)

type HTTPError struct {
	Status  int
	Kind    ErrorKind
	Message string
	// ログ用（レスポンスには出さない）
	Cause error
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

func (e *HTTPError) Unwrap() error {
	return e.Cause
}

// ステータスから種別を決める
func NewHTTPError(status int, message string) error {
	return &HTTPError{
		Status:  status,
		Kind:    kindForStatus(status),
		Message: message,
	}
}

func AsHTTPError(err error) (*HTTPError, bool) {
	var he *HTTPError
	ok := errors.As(err, &he)
	return he, ok
}

func newKindError(status int, kind ErrorKind, format string, args ...any) *HTTPError {
	return &HTTPError{Status: status, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func errValidation(format string, args ...any) error {
	return newKindError(http.StatusBadRequest, KindValidation, format, args...)
}

func errNotFound(format string, args ...any) error {
	return newKindError(http.StatusNotFound, KindNotFound, format, args...)
}

func errForbidden() error {
	return newKindError(http.StatusForbidden, KindForbidden, "forbidden")
}

func errUnauthorized() error {
	return newKindError(http.StatusUnauthorized, KindUnauthorized, "unauthorized")
}

func errOutOfStock(productID int64, name string) error {
	return newKindError(http.StatusBadRequest, KindOutOfStock, "product %d (%s) is out of stock", productID, name)
}

func errInvalidStage(format string, args ...any) error {
	return newKindError(http.StatusBadRequest, KindInvalidStage, format, args...)
}

func errConflict(format string, args ...any) error {
	return newKindError(http.StatusConflict, KindConflict, format, args...)
}

// 中身は返さずログにだけ残す
func errInternal(cause error) error {
	return &HTTPError{Status: http.StatusInternalServerError, Kind: KindInternal, Message: "internal error", Cause: cause}
}

func errUpstreamPayment(cause error) error {
	return &HTTPError{Status: http.StatusBadGateway, Kind: KindUpstreamPayment, Message: "payment provider unavailable, please retry", Cause: cause}
}

func kindForStatus(status int) ErrorKind {
	switch status {
	case http.StatusBadRequest:
		return KindValidation
	case http.StatusUnauthorized:
		return KindUnauthorized
	case http.StatusForbidden:
		return KindForbidden
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusConflict:
		return KindConflict
	case http.StatusBadGateway:
		return KindUpstreamPayment
	default:
		return KindInternal
	}
}
