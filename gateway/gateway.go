// Package gateway holds one adapter per payment provider behind a single
// Adapter contract. Adapters build outbound requests, verify callbacks and
// map each provider's result codes to local payment states. They never write
// to the database.
package gateway

import (
	"context"
	"time"

	"paygate/entity"
	"paygate/pkg/signature"

	"github.com/shopspring/decimal"
)

// vnZone is GMT+7. All three providers expect local Vietnamese time.
var vnZone = time.FixedZone("ICT", 7*60*60)

type Adapter interface {
	Method() entity.PaymentMethod
	// NewReference mints the reference sent to the provider for one attempt.
	NewReference(orderRef string, now time.Time) string
	CreatePaymentRequest(ctx context.Context, req CreateRequest) (*Artifact, error)
	VerifyCallback(raw signature.Fields) CallbackResult
	QueryStatus(ctx context.Context, p *entity.Payment) (*RemoteStatus, error)
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
	Acknowledge(kind AckKind) Ack
}

type CreateRequest struct {
	Payment   *entity.Payment
	OrderInfo string
	UserID    uint
	ClientIP  string
	Locale    string
	BankCode  string
}

// Artifact is what the client needs to complete the payment.
type Artifact struct {
	Method     entity.PaymentMethod `json:"method"`
	PaymentID  string               `json:"paymentId"`
	Reference  string               `json:"reference"`
	PaymentURL string               `json:"paymentUrl,omitempty"`
	QRCodeURL  string               `json:"qrCodeUrl,omitempty"`
	Deeplink   string               `json:"deeplink,omitempty"`
	Message    string               `json:"message,omitempty"`
	ExpiresAt  *time.Time           `json:"expiresAt,omitempty"`
}

// CallbackResult is a verified (or rejected) callback mapped to local terms.
// Outcome is PAID, FAILED, or PENDING when the provider reports an
// intermediate state.
type CallbackResult struct {
	Valid         bool
	Reason        string
	Reference     string
	TransactionID string
	Amount        decimal.Decimal
	Outcome       entity.PaymentStatus
	ProviderCode  string
	Fields        signature.Fields
}

type RemoteStatus struct {
	Status        entity.PaymentStatus `json:"status"`
	TransactionID string               `json:"transactionId,omitempty"`
	Amount        decimal.Decimal      `json:"amount"`
	ProviderCode  string               `json:"providerCode"`
	Message       string               `json:"message,omitempty"`
	Raw           signature.Fields     `json:"raw,omitempty"`
}

type RefundRequest struct {
	Payment *entity.Payment
	Amount  decimal.Decimal
	Reason  string
}

type RefundResult struct {
	Success     bool             `json:"success"`
	ProviderRef string           `json:"providerRef,omitempty"`
	Code        string           `json:"code"`
	Message     string           `json:"message,omitempty"`
	Raw         signature.Fields `json:"raw,omitempty"`
}

// AckKind is the local outcome of a callback delivery. Each adapter renders
// it in its provider's acknowledgement shape.
type AckKind int

const (
	AckSuccess AckKind = iota
	AckDuplicate
	AckConflict
	AckInvalidSignature
	AckNotFound
	AckAmountMismatch
	AckRetryLater
)

func (k AckKind) String() string {
	switch k {
	case AckSuccess:
		return "success"
	case AckDuplicate:
		return "duplicate"
	case AckConflict:
		return "conflict"
	case AckInvalidSignature:
		return "invalid_signature"
	case AckNotFound:
		return "not_found"
	case AckAmountMismatch:
		return "amount_mismatch"
	case AckRetryLater:
		return "retry_later"
	}
	return "unknown"
}

// Ack is the HTTP response owed to the provider.
type Ack struct {
	Status int
	Body   any
}

func invalid(reason string, f signature.Fields) CallbackResult {
	return CallbackResult{Valid: false, Reason: reason, Fields: f}
}

func formatVNTime(t time.Time) string {
	return t.In(vnZone).Format("20060102150405")
}

func wholeUnits(d decimal.Decimal) string {
	return d.StringFixed(0)
}
