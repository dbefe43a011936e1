package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"paygate/entity"
	"paygate/gateway"
	"paygate/pkg/payerr"
	"paygate/pkg/signature"
	"paygate/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ReconciliationService owns every write to payment state and the payment
// fields of orders.
type ReconciliationService struct {
	DB        *gorm.DB
	Payments  *repository.PaymentRepository
	Orders    OrderStore
	Audit     AuditSink
	Gateways  *gateway.Registry
	Tolerance decimal.Decimal
	Log       zerolog.Logger

	// optional, set after construction
	Events   EventPublisher
	Notifier StatusNotifier

	now func() time.Time
}

func NewReconciliationService(
	db *gorm.DB,
	payments *repository.PaymentRepository,
	orders OrderStore,
	audit AuditSink,
	gateways *gateway.Registry,
	tolerance decimal.Decimal,
	logger zerolog.Logger,
) *ReconciliationService {
	return &ReconciliationService{
		DB: db, Payments: payments, Orders: orders, Audit: audit, Gateways: gateways,
		Tolerance: tolerance,
		Log:       logger.With().Str("component", "reconciliation").Logger(),
		Events:    nopPublisher{},
		Notifier:  nopNotifier{},
		now:       time.Now,
	}
}

// CallbackOutcome always carries the acknowledgement owed to the provider,
// also when an error is returned alongside it.
type CallbackOutcome struct {
	Kind    gateway.AckKind
	Ack     gateway.Ack
	Payment *entity.Payment
}

func outcome(a gateway.Adapter, kind gateway.AckKind, p *entity.Payment) *CallbackOutcome {
	return &CallbackOutcome{Kind: kind, Ack: a.Acknowledge(kind), Payment: p}
}

// CreatePending inserts a new PENDING attempt. A concurrent attempt for the
// same (order, method) yields ErrPaymentInProgress.
func (s *ReconciliationService) CreatePending(ctx context.Context, order *entity.Order, method entity.PaymentMethod, amount decimal.Decimal, reference string, meta CallMeta) (*entity.Payment, error) {
	p := &entity.Payment{
		OrderID:         order.ID,
		OrderRef:        order.OrderRef,
		PaymentMethod:   method,
		Amount:          amount,
		Status:          entity.PaymentPending,
		ReferenceNumber: reference,
	}
	if err := s.Payments.Create(s.DB.WithContext(ctx), p); err != nil {
		if errors.Is(err, payerr.ErrPaymentInProgress) {
			return nil, err
		}
		return nil, payerr.Internal("create payment", err)
	}
	s.record(ctx, entity.AuditEntry{
		Actor: meta.Actor, Action: ActionPaymentCreated, Resource: resourcePayment, ResourceID: p.ID.String(),
		NewValue: p, Context: meta.context(map[string]any{"gateway": method}),
	})
	return p, nil
}

// ProcessCallback verifies a provider callback and applies it at most once.
// The signature is checked before any lookup.
func (s *ReconciliationService) ProcessCallback(ctx context.Context, method entity.PaymentMethod, raw signature.Fields, meta CallMeta) (*CallbackOutcome, error) {
	a, err := s.Gateways.Get(method)
	if err != nil {
		return nil, err
	}
	if meta.Actor == "" {
		meta.Actor = "gateway:" + string(method)
	}

	res := a.VerifyCallback(raw)
	if !res.Valid {
		s.Log.Warn().
			Str("gateway", string(method)).
			Str("ip", meta.IP).
			Str("reason", res.Reason).
			Msg("callback rejected: signature")
		s.record(ctx, entity.AuditEntry{
			Actor: meta.Actor, Action: ActionVerificationFailed, Resource: resourcePayment,
			Context: meta.context(map[string]any{"gateway": method, "reason": res.Reason, "payload": res.Fields}),
		})
		return outcome(a, gateway.AckInvalidSignature, nil), fmt.Errorf("%w: %s", payerr.ErrSignatureInvalid, res.Reason)
	}
	return s.apply(ctx, a, res, meta)
}

// CODConfirmation is what staff submit when cash has been collected (or the
// delivery was refused).
type CODConfirmation struct {
	Amount    *decimal.Decimal
	ReceiptNo string
	Failed    bool
}

// ConfirmCOD goes through the COD adapter and the same steps as a provider
// callback.
func (s *ReconciliationService) ConfirmCOD(ctx context.Context, paymentID uuid.UUID, in CODConfirmation, meta CallMeta) (*CallbackOutcome, error) {
	p, err := s.Payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.PaymentMethod != entity.MethodCOD {
		return nil, fmt.Errorf("%w: payment %s is %s, not COD", payerr.ErrUnsupportedMethod, p.ID, p.PaymentMethod)
	}
	a, err := s.Gateways.Get(entity.MethodCOD)
	if err != nil {
		return nil, err
	}

	amount := p.Amount
	if in.Amount != nil {
		amount = *in.Amount
	}
	raw := signature.Fields{
		gateway.CODFieldReference:   p.ReferenceNumber,
		gateway.CODFieldAmount:      amount.String(),
		gateway.CODFieldConfirmedBy: meta.Actor,
		gateway.CODFieldReceiptNo:   in.ReceiptNo,
	}
	if in.Failed {
		raw[gateway.CODFieldOutcome] = string(entity.PaymentFailed)
	}
	res := a.VerifyCallback(raw)
	if !res.Valid {
		verr := &payerr.ValidationError{}
		verr.Add("confirmation", "%s", res.Reason)
		return nil, verr
	}
	return s.apply(ctx, a, res, meta)
}

// apply runs the lookup, amount check, idempotency guard and guarded write
// for a verified result.
func (s *ReconciliationService) apply(ctx context.Context, a gateway.Adapter, res gateway.CallbackResult, meta CallMeta) (*CallbackOutcome, error) {
	method := a.Method()
	logger := s.Log.With().Str("gateway", string(method)).Str("reference", res.Reference).Logger()

	p, err := s.Payments.FindByReference(ctx, method, res.Reference)
	if errors.Is(err, payerr.ErrPaymentNotFound) {
		logger.Warn().Str("ip", meta.IP).Msg("callback for unknown reference")
		s.record(ctx, entity.AuditEntry{
			Actor: meta.Actor, Action: ActionPaymentNotFound, Resource: resourcePayment,
			Context: meta.context(map[string]any{"gateway": method, "reference": res.Reference}),
		})
		return outcome(a, gateway.AckNotFound, nil), err
	}
	if err != nil {
		return outcome(a, gateway.AckRetryLater, nil), payerr.Internal("find payment", err)
	}

	if _, err := s.Orders.Get(ctx, p.OrderRef); err != nil {
		if errors.Is(err, payerr.ErrOrderNotFound) {
			logger.Error().Str("order", p.OrderRef).Msg("payment points at a missing order")
			return outcome(a, gateway.AckNotFound, p), err
		}
		return outcome(a, gateway.AckRetryLater, p), payerr.Internal("load order", err)
	}

	if !s.amountMatches(p.Amount, res.Amount) {
		logger.Warn().
			Str("ip", meta.IP).
			Str("expected", p.Amount.String()).
			Str("got", res.Amount.String()).
			Msg("callback rejected: amount mismatch")
		s.record(ctx, entity.AuditEntry{
			Actor: meta.Actor, Action: ActionAmountMismatch, Resource: resourcePayment, ResourceID: p.ID.String(),
			OldValue: p.Amount, NewValue: res.Amount,
			Context: meta.context(map[string]any{"gateway": method, "payload": res.Fields}),
		})
		return outcome(a, gateway.AckAmountMismatch, p),
			fmt.Errorf("%w: expected %s, got %s", payerr.ErrAmountMismatch, p.Amount, res.Amount)
	}

	// provider says "still processing": nothing to apply yet
	if res.Outcome == entity.PaymentPending {
		logger.Info().Str("code", res.ProviderCode).Msg("callback reports pending; no change")
		return outcome(a, gateway.AckSuccess, p), nil
	}

	if p.Status.Terminal() {
		return s.classify(ctx, a, p, res, meta)
	}

	patch := map[string]any{
		"transaction_id": res.TransactionID,
		"gateway_data":   datatypes.JSON(res.Fields.JSON()),
	}
	if res.Outcome == entity.PaymentPaid {
		patch["paid_at"] = s.now().UTC()
	}
	updated, err := s.Transition(ctx, p, res.Outcome, patch, meta)
	switch {
	case errors.Is(err, errStaleStatus):
		// another writer won the race; judge this delivery against its result
		current, gerr := s.Payments.GetByID(ctx, p.ID)
		if gerr != nil {
			return outcome(a, gateway.AckRetryLater, p), payerr.Internal("reload payment", gerr)
		}
		return s.classify(ctx, a, current, res, meta)
	case err != nil:
		return outcome(a, gateway.AckRetryLater, p), err
	}
	return outcome(a, gateway.AckSuccess, updated), nil
}

// classify handles a callback for a payment that is already terminal.
func (s *ReconciliationService) classify(ctx context.Context, a gateway.Adapter, p *entity.Payment, res gateway.CallbackResult, meta CallMeta) (*CallbackOutcome, error) {
	if consistent(p, res) {
		s.Log.Debug().Str("payment", p.ID.String()).Msg("duplicate callback ignored")
		s.record(ctx, entity.AuditEntry{
			Actor: meta.Actor, Action: ActionCallbackDuplicate, Resource: resourcePayment, ResourceID: p.ID.String(),
			Context: meta.context(map[string]any{"gateway": a.Method(), "status": p.Status}),
		})
		return outcome(a, gateway.AckDuplicate, p), nil
	}

	s.Log.Warn().
		Str("payment", p.ID.String()).
		Str("stored", string(p.Status)).
		Str("incoming", string(res.Outcome)).
		Str("storedTxn", p.TransactionID).
		Str("incomingTxn", res.TransactionID).
		Msg("callback conflicts with terminal payment")
	s.record(ctx, entity.AuditEntry{
		Actor: meta.Actor, Action: ActionCallbackConflict, Resource: resourcePayment, ResourceID: p.ID.String(),
		OldValue: map[string]any{"status": p.Status, "transactionId": p.TransactionID},
		NewValue: map[string]any{"status": res.Outcome, "transactionId": res.TransactionID},
		Context:  meta.context(map[string]any{"gateway": a.Method(), "payload": res.Fields}),
	})
	return outcome(a, gateway.AckConflict, p),
		fmt.Errorf("%w: payment %s is %s", payerr.ErrAlreadyTerminal, p.ID, p.Status)
}

// consistent: same outcome (a refunded payment was paid), and the same
// transaction when both sides know it.
func consistent(p *entity.Payment, res gateway.CallbackResult) bool {
	sameOutcome := p.Status == res.Outcome ||
		(p.Status == entity.PaymentRefunded && res.Outcome == entity.PaymentPaid)
	if !sameOutcome {
		return false
	}
	return p.TransactionID == "" || res.TransactionID == "" || p.TransactionID == res.TransactionID
}

func (s *ReconciliationService) amountMatches(stored, confirmed decimal.Decimal) bool {
	return stored.Sub(confirmed).Abs().LessThanOrEqual(s.Tolerance)
}

// ReconcileResult is the outcome of a manual reconciliation.
type ReconcileResult struct {
	Payment *entity.Payment       `json:"payment"`
	Remote  *gateway.RemoteStatus `json:"remote"`
	Applied bool                  `json:"applied"`
	Result  string                `json:"result"`
}

// QueryStatus asks the provider for the current status. Read only.
func (s *ReconciliationService) QueryStatus(ctx context.Context, paymentID uuid.UUID) (*entity.Payment, *gateway.RemoteStatus, error) {
	p, err := s.Payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, nil, err
	}
	a, err := s.Gateways.Get(p.PaymentMethod)
	if err != nil {
		return nil, nil, err
	}
	remote, err := a.QueryStatus(ctx, p)
	if err != nil {
		return p, nil, err
	}
	return p, remote, nil
}

// Reconcile pulls the provider status and applies a final remote outcome with
// the same guards as a callback. Query responses carry no callback signature
// and are not verified.
func (s *ReconciliationService) Reconcile(ctx context.Context, paymentID uuid.UUID, meta CallMeta) (*ReconcileResult, error) {
	p, remote, err := s.QueryStatus(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	out := &ReconcileResult{Payment: p, Remote: remote, Result: "pending"}
	if remote.Status == entity.PaymentPending {
		return out, nil
	}

	a, err := s.Gateways.Get(p.PaymentMethod)
	if err != nil {
		return nil, err
	}
	amount := remote.Amount
	if amount.IsZero() {
		amount = p.Amount
	}
	res := gateway.CallbackResult{
		Valid:         true,
		Reference:     p.ReferenceNumber,
		TransactionID: remote.TransactionID,
		Amount:        amount,
		Outcome:       remote.Status,
		ProviderCode:  remote.ProviderCode,
		Fields:        remote.Raw,
	}
	oc, err := s.apply(ctx, a, res, meta)
	if oc != nil {
		out.Result = oc.Kind.String()
		out.Applied = oc.Kind == gateway.AckSuccess
		if oc.Payment != nil {
			out.Payment = oc.Payment
		}
	}
	if err != nil {
		return out, err
	}
	s.record(ctx, entity.AuditEntry{
		Actor: meta.Actor, Action: ActionPaymentReconciled, Resource: resourcePayment, ResourceID: p.ID.String(),
		OldValue: p.Status, NewValue: out.Payment.Status,
		Context: meta.context(map[string]any{"gateway": p.PaymentMethod, "remote": remote.ProviderCode, "applied": out.Applied}),
	})
	return out, nil
}

// ApplyRefund moves a PAID payment to REFUNDED after the provider confirmed
// the refund.
func (s *ReconciliationService) ApplyRefund(ctx context.Context, p *entity.Payment, rr *gateway.RefundResult, meta CallMeta) (*entity.Payment, error) {
	patch := map[string]any{"refunded_at": s.now().UTC()}
	if rr != nil {
		patch["refund_data"] = datatypes.JSON(rr.Raw.JSON())
	}
	return s.Transition(ctx, p, entity.PaymentRefunded, patch, meta)
}

// record is the best-effort audit side channel.
func (s *ReconciliationService) record(ctx context.Context, e entity.AuditEntry) {
	recordAudit(ctx, s.Audit, s.Log, e)
}

func recordAudit(ctx context.Context, sink AuditSink, logger zerolog.Logger, e entity.AuditEntry) {
	if sink == nil {
		return
	}
	if err := sink.Record(ctx, e); err != nil {
		logger.Error().Err(err).Str("action", e.Action).Str("resource", e.ResourceID).Msg("audit record failed")
	}
}
