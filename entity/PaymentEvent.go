package entity

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentEvent is published after a payment transition commits.
type PaymentEvent struct {
	Type          string          `json:"type"` // payment.paid, payment.failed, payment.refunded
	PaymentID     string          `json:"paymentId"`
	OrderRef      string          `json:"orderRef"`
	Method        PaymentMethod   `json:"paymentMethod"`
	From          PaymentStatus   `json:"from"`
	Status        PaymentStatus   `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	TransactionID string          `json:"transactionId,omitempty"`
	OccurredAt    time.Time       `json:"occurredAt"`
}

func NewPaymentEvent(p *Payment, from PaymentStatus, at time.Time) PaymentEvent {
	return PaymentEvent{
		Type:          "payment." + strings.ToLower(string(p.Status)),
		PaymentID:     p.ID.String(),
		OrderRef:      p.OrderRef,
		Method:        p.PaymentMethod,
		From:          from,
		Status:        p.Status,
		Amount:        p.Amount,
		TransactionID: p.TransactionID,
		OccurredAt:    at,
	}
}
