package services

import (
	"context"
	"errors"
	"fmt"

	"paygate/entity"
	"paygate/gateway"
	"paygate/pkg/payerr"
	"paygate/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// RefundService issues provider refunds. Only full refunds of PAID
// electronic payments are supported; there is no retry loop.
type RefundService struct {
	Payments *repository.PaymentRepository
	Recon    *ReconciliationService
	Gateways *gateway.Registry
	Audit    AuditSink
	Log      zerolog.Logger
}

func NewRefundService(payments *repository.PaymentRepository, recon *ReconciliationService, gateways *gateway.Registry, audit AuditSink, logger zerolog.Logger) *RefundService {
	return &RefundService{
		Payments: payments, Recon: recon, Gateways: gateways, Audit: audit,
		Log: logger.With().Str("component", "refund").Logger(),
	}
}

type RefundInput struct {
	PaymentID uuid.UUID
	Amount    *decimal.Decimal // optional; must equal the payment amount
	Reason    string
	Meta      CallMeta
}

type RefundOutcome struct {
	Payment *entity.Payment       `json:"payment"`
	Result  *gateway.RefundResult `json:"result"`
}

func (s *RefundService) Refund(ctx context.Context, in RefundInput) (*RefundOutcome, error) {
	p, err := s.Payments.GetByID(ctx, in.PaymentID)
	if err != nil {
		return nil, err
	}

	// preconditions, all before any network call
	if p.Status != entity.PaymentPaid {
		return nil, s.reject(ctx, p, in, fmt.Errorf("%w: payment is %s", payerr.ErrRefundNotAllowed, p.Status))
	}
	if p.PaymentMethod == entity.MethodCOD {
		return nil, s.reject(ctx, p, in, fmt.Errorf("%w: cash on delivery cannot be refunded electronically", payerr.ErrRefundNotAllowed))
	}
	if in.Amount != nil && !s.Recon.amountMatches(p.Amount, *in.Amount) {
		verr := &payerr.ValidationError{}
		verr.Add("amount", "only full refunds are supported (payment amount %s)", p.Amount)
		return nil, verr
	}

	a, err := s.Gateways.Get(p.PaymentMethod)
	if err != nil {
		return nil, err
	}

	recordAudit(ctx, s.Audit, s.Log, entity.AuditEntry{
		Actor: in.Meta.Actor, Action: ActionRefundRequested, Resource: resourcePayment, ResourceID: p.ID.String(),
		Context: in.Meta.context(map[string]any{"gateway": p.PaymentMethod, "amount": p.Amount, "reason": in.Reason}),
	})

	rr, err := a.Refund(ctx, gateway.RefundRequest{Payment: p, Amount: p.Amount, Reason: in.Reason})
	if err != nil {
		return nil, s.reject(ctx, p, in, err)
	}
	if !rr.Success {
		return &RefundOutcome{Payment: p, Result: rr},
			s.reject(ctx, p, in, fmt.Errorf("%w: code %s: %s", payerr.ErrRefundFailed, rr.Code, rr.Message))
	}

	updated, err := s.Recon.ApplyRefund(ctx, p, rr, in.Meta)
	if err != nil {
		// money went back but the row did not move; needs an operator
		s.Log.Error().Err(err).
			Str("payment", p.ID.String()).
			Str("providerRef", rr.ProviderRef).
			Msg("provider refunded but local state not updated")
		return &RefundOutcome{Payment: p, Result: rr}, err
	}
	return &RefundOutcome{Payment: updated, Result: rr}, nil
}

func (s *RefundService) reject(ctx context.Context, p *entity.Payment, in RefundInput, err error) error {
	ev := s.Log.Warn()
	if errors.Is(err, payerr.ErrGatewayUnavailable) {
		ev = s.Log.Error()
	}
	ev.Err(err).Str("payment", p.ID.String()).Str("status", string(p.Status)).Msg("refund rejected")
	recordAudit(ctx, s.Audit, s.Log, entity.AuditEntry{
		Actor: in.Meta.Actor, Action: ActionRefundRejected, Resource: resourcePayment, ResourceID: p.ID.String(),
		Context: in.Meta.context(map[string]any{"gateway": p.PaymentMethod, "reason": err.Error()}),
	})
	return err
}
