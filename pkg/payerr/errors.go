// Package payerr holds the error taxonomy shared by the gateway adapters,
// the services and the HTTP layer.
package payerr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrSignatureInvalid   = errors.New("signature invalid")
	ErrAmountMismatch     = errors.New("amount mismatch")
	ErrOrderNotFound      = errors.New("order not found")
	ErrPaymentNotFound    = errors.New("payment not found")
	ErrGatewayUnavailable = errors.New("gateway unavailable")
	ErrUnsupportedMethod  = errors.New("unsupported payment method")
	ErrRefundNotAllowed   = errors.New("refund not allowed")
	ErrRefundFailed       = errors.New("refund rejected by provider")

	// ErrAlreadyTerminal is returned when a write targets a payment that has
	// already left the state the write expected.
	ErrAlreadyTerminal   = errors.New("payment already terminal")
	ErrIllegalTransition = errors.New("illegal payment transition")
	ErrPaymentInProgress = errors.New("payment already in progress")

	// ErrInternal marks persistence failures that need an operator. It is
	// never downgraded to a FAILED payment.
	ErrInternal = errors.New("internal error")
)

// Violation is one failed validation rule.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries every violation found in a request.
type ValidationError struct {
	Violations []Violation `json:"violations"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Field+": "+v.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Add(field, format string, args ...any) {
	e.Violations = append(e.Violations, Violation{Field: field, Message: fmt.Sprintf(format, args...)})
}

// OrNil returns nil when nothing was collected.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Violations) == 0 {
		return nil
	}
	return e
}

// Internal wraps err as ErrInternal while keeping the cause for logs.
func Internal(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrInternal, err)
}

// HTTPStatus maps err to the status code returned by the REST surface.
func HTTPStatus(err error) int {
	var verr *ValidationError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, ErrInternal):
		return http.StatusInternalServerError
	case errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrPaymentNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrSignatureInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, ErrAmountMismatch), errors.Is(err, ErrUnsupportedMethod):
		return http.StatusBadRequest
	case errors.Is(err, ErrRefundNotAllowed), errors.Is(err, ErrAlreadyTerminal),
		errors.Is(err, ErrIllegalTransition), errors.Is(err, ErrPaymentInProgress):
		return http.StatusConflict
	case errors.Is(err, ErrRefundFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrGatewayUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Code is the stable machine-readable code sent to clients in the "code"
// field.
func Code(err error) string {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return "VALIDATION_ERROR"
	case errors.Is(err, ErrInternal):
		return "INTERNAL_ERROR"
	case errors.Is(err, ErrSignatureInvalid):
		return "PAYMENT_VERIFICATION_FAILED"
	case errors.Is(err, ErrAmountMismatch):
		return "AMOUNT_MISMATCH"
	case errors.Is(err, ErrOrderNotFound):
		return "ORDER_NOT_FOUND"
	case errors.Is(err, ErrPaymentNotFound):
		return "PAYMENT_NOT_FOUND"
	case errors.Is(err, ErrGatewayUnavailable):
		return "GATEWAY_UNAVAILABLE"
	case errors.Is(err, ErrUnsupportedMethod):
		return "UNSUPPORTED_METHOD"
	case errors.Is(err, ErrRefundNotAllowed):
		return "REFUND_NOT_ALLOWED"
	case errors.Is(err, ErrRefundFailed):
		return "REFUND_FAILED"
	case errors.Is(err, ErrAlreadyTerminal):
		return "PAYMENT_ALREADY_TERMINAL"
	case errors.Is(err, ErrIllegalTransition):
		return "ILLEGAL_TRANSITION"
	case errors.Is(err, ErrPaymentInProgress):
		return "PAYMENT_IN_PROGRESS"
	default:
		return "INTERNAL_ERROR"
	}
}
