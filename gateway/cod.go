package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"paygate/entity"
	"paygate/pkg/payerr"
	"paygate/pkg/signature"

	"github.com/shopspring/decimal"
)

// Fields of a COD staff confirmation. It is authenticated by the staff JWT
// upstream, so there is no signature to check here.
const (
	CODFieldReference   = "reference"
	CODFieldAmount      = "amount"
	CODFieldConfirmedBy = "confirmed_by"
	CODFieldOutcome     = "outcome"
	CODFieldReceiptNo   = "receipt_no"
)

type COD struct{}

func NewCOD() *COD { return &COD{} }

func (a *COD) Method() entity.PaymentMethod { return entity.MethodCOD }

func (a *COD) NewReference(orderRef string, now time.Time) string {
	return fmt.Sprintf("COD-%s-%d", orderRef, now.UnixMilli())
}

// CreatePaymentRequest does not touch the network or the order: cash is
// collected on delivery and confirmed by staff later.
func (a *COD) CreatePaymentRequest(_ context.Context, req CreateRequest) (*Artifact, error) {
	p := req.Payment
	return &Artifact{
		Method:    entity.MethodCOD,
		PaymentID: p.ID.String(),
		Reference: p.ReferenceNumber,
		Message:   "Thanh toan khi nhan hang: " + wholeUnits(p.Amount) + " VND",
	}, nil
}

func (a *COD) VerifyCallback(raw signature.Fields) CallbackResult {
	f := raw.Clone()
	ref := f[CODFieldReference]
	if ref == "" {
		return invalid("missing "+CODFieldReference, f)
	}
	if f[CODFieldConfirmedBy] == "" {
		return invalid("missing "+CODFieldConfirmedBy, f)
	}
	amount, err := decimal.NewFromString(f[CODFieldAmount])
	if err != nil {
		return invalid("bad "+CODFieldAmount, f)
	}

	outcome := entity.PaymentPaid
	switch entity.PaymentStatus(f[CODFieldOutcome]) {
	case "", entity.PaymentPaid:
	case entity.PaymentFailed:
		outcome = entity.PaymentFailed
	default:
		return invalid("bad "+CODFieldOutcome, f)
	}
	return CallbackResult{
		Valid:         true,
		Reference:     ref,
		TransactionID: f[CODFieldReceiptNo],
		Amount:        amount,
		Outcome:       outcome,
		ProviderCode:  string(outcome),
		Fields:        f,
	}
}

func (a *COD) QueryStatus(context.Context, *entity.Payment) (*RemoteStatus, error) {
	return nil, fmt.Errorf("%w: cod has no remote status", payerr.ErrUnsupportedMethod)
}

// Refund always fails: cash cannot be reversed electronically.
func (a *COD) Refund(context.Context, RefundRequest) (*RefundResult, error) {
	return nil, fmt.Errorf("%w: cash on delivery", payerr.ErrRefundNotAllowed)
}

func (a *COD) Acknowledge(kind AckKind) Ack {
	ok := kind == AckSuccess || kind == AckDuplicate
	return Ack{Status: http.StatusOK, Body: map[string]any{"ok": ok, "result": kind.String()}}
}

var _ Adapter = (*COD)(nil)
