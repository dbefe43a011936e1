package services

import (
	"context"

	"paygate/entity"

	"gorm.io/gorm"
)

// OrderStore is the order subsystem as seen from payments.
type OrderStore interface {
	Get(ctx context.Context, orderRef string) (*entity.Order, error)
	// GetTx reads the order inside the payment transaction.
	GetTx(tx *gorm.DB, orderRef string) (*entity.Order, error)
	// UpdatePaymentState runs inside the payment transaction and only applies
	// while the order's payment status is still `from`. An empty orderStatus
	// leaves the order status unchanged.
	UpdatePaymentState(tx *gorm.DB, orderRef string, from, ps entity.PaymentStatus, orderStatus entity.OrderStatus) error
}

// AuditSink records audit entries. Failures are logged by the caller and
// never affect the operation being audited.
type AuditSink interface {
	Record(ctx context.Context, e entity.AuditEntry) error
}

type EventPublisher interface {
	Publish(ctx context.Context, ev entity.PaymentEvent) error
}

type StatusNotifier interface {
	Notify(ev entity.PaymentEvent)
}

// CallMeta identifies who triggered an operation, for audit.
type CallMeta struct {
	Actor     string
	IP        string
	UserAgent string
}

func (m CallMeta) context(extra map[string]any) map[string]any {
	out := map[string]any{}
	if m.IP != "" {
		out["ip"] = m.IP
	}
	if m.UserAgent != "" {
		out["userAgent"] = m.UserAgent
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, entity.PaymentEvent) error { return nil }

type nopNotifier struct{}

func (nopNotifier) Notify(entity.PaymentEvent) {}

// Audit actions
const (
	ActionPaymentCreated       = "PAYMENT_CREATED"
	ActionPaymentInitiated     = "PAYMENT_INITIATED"
	ActionGatewayError         = "PAYMENT_GATEWAY_ERROR"
	ActionVerificationFailed   = "PAYMENT_VERIFICATION_FAILED"
	ActionPaymentNotFound      = "PAYMENT_CALLBACK_UNKNOWN_REFERENCE"
	ActionAmountMismatch       = "PAYMENT_AMOUNT_MISMATCH"
	ActionCallbackDuplicate    = "PAYMENT_CALLBACK_DUPLICATE"
	ActionCallbackConflict     = "PAYMENT_CALLBACK_CONFLICT"
	ActionPaymentPaid          = "PAYMENT_PAID"
	ActionPaymentFailed        = "PAYMENT_FAILED"
	ActionPaymentRefunded      = "PAYMENT_REFUNDED"
	ActionPaymentReconciled    = "PAYMENT_RECONCILED"
	ActionRefundRequested      = "REFUND_REQUESTED"
	ActionRefundRejected       = "REFUND_REJECTED"
	ActionTransitionIncomplete = "PAYMENT_TRANSITION_FAILED"
	ActionOrderConflict        = "ORDER_PAYMENT_CONFLICT"
)

const resourcePayment = "payment"
