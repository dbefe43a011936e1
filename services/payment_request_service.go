package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"paygate/entity"
	"paygate/gateway"
	"paygate/pkg/payerr"
	"paygate/repository"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// InitiateRequest is a client's request to start paying for an order.
type InitiateRequest struct {
	OrderRef      string          `json:"orderId" validate:"required,max=64"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"paymentMethod" validate:"required"`
	OrderInfo     string          `json:"orderInfo" validate:"max=255"`
	BankCode      string          `json:"bankCode" validate:"omitempty,alphanum,max=20"`
	Locale        string          `json:"locale" validate:"omitempty,oneof=vn en"`

	UserID uint     `json:"-"`
	Meta   CallMeta `json:"-"`
}

type InitiateResult struct {
	Payment  *entity.Payment   `json:"payment"`
	Artifact *gateway.Artifact `json:"artifact"`
	Resumed  bool              `json:"resumed"`
}

// PaymentRequestService validates an initiation and routes it to the adapter
// for the requested method.
type PaymentRequestService struct {
	Payments *repository.PaymentRepository
	Orders   OrderStore
	Recon    *ReconciliationService
	Gateways *gateway.Registry
	Audit    AuditSink
	Log      zerolog.Logger

	validate *validator.Validate
}

func NewPaymentRequestService(payments *repository.PaymentRepository, orders OrderStore, recon *ReconciliationService, gateways *gateway.Registry, audit AuditSink, logger zerolog.Logger) *PaymentRequestService {
	return &PaymentRequestService{
		Payments: payments, Orders: orders, Recon: recon, Gateways: gateways, Audit: audit,
		Log:      logger.With().Str("component", "payment-request").Logger(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Initiate creates (or resumes) the PENDING attempt and asks the provider for
// the payment artifact. All request violations are reported together.
func (s *PaymentRequestService) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	verr := &payerr.ValidationError{}
	s.structural(req, verr)

	method, known := entity.ParsePaymentMethod(req.PaymentMethod)
	if req.PaymentMethod != "" && !known {
		verr.Add("paymentMethod", "must be one of %s", joinMethods())
	}
	if !req.Amount.IsPositive() {
		verr.Add("amount", "must be greater than 0")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	order, err := s.Orders.Get(ctx, req.OrderRef)
	if err != nil {
		if errors.Is(err, payerr.ErrOrderNotFound) {
			return nil, err
		}
		return nil, payerr.Internal("load order", err)
	}

	// ตรวจยอดกับ order และสถานะการชำระ
	if !s.Recon.amountMatches(order.Total, req.Amount) {
		verr.Add("amount", "does not match order total %s", order.Total)
	}
	if order.PaymentStatus == entity.PaymentPaid || order.PaymentStatus == entity.PaymentRefunded {
		verr.Add("orderId", "order is already %s", strings.ToLower(string(order.PaymentStatus)))
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	a, err := s.Gateways.Get(method)
	if err != nil {
		return nil, err
	}

	p, resumed, err := s.attempt(ctx, a, order, method, req.Meta)
	if err != nil {
		return nil, err
	}

	logger := s.Log.With().
		Str("payment", p.ID.String()).
		Str("order", order.OrderRef).
		Str("gateway", string(method)).
		Logger()

	art, err := a.CreatePaymentRequest(ctx, gateway.CreateRequest{
		Payment:   p,
		OrderInfo: orderInfo(req.OrderInfo, order.OrderRef),
		UserID:    req.UserID,
		ClientIP:  req.Meta.IP,
		Locale:    req.Locale,
		BankCode:  req.BankCode,
	})
	if err != nil {
		// the PENDING row stays; a retry resumes it
		logger.Error().Err(err).Msg("payment request failed")
		recordAudit(ctx, s.Audit, s.Log, entity.AuditEntry{
			Actor: req.Meta.Actor, Action: ActionGatewayError, Resource: resourcePayment, ResourceID: p.ID.String(),
			Context: req.Meta.context(map[string]any{"gateway": method, "error": err.Error()}),
		})
		return nil, err
	}

	logger.Info().Bool("resumed", resumed).Str("reference", art.Reference).Msg("payment initiated")
	recordAudit(ctx, s.Audit, s.Log, entity.AuditEntry{
		Actor: req.Meta.Actor, Action: ActionPaymentInitiated, Resource: resourcePayment, ResourceID: p.ID.String(),
		NewValue: art,
		Context:  req.Meta.context(map[string]any{"gateway": method, "resumed": resumed, "order": order.OrderRef}),
	})
	return &InitiateResult{Payment: p, Artifact: art, Resumed: resumed}, nil
}

// attempt returns the PENDING payment for (order, method), creating it when
// there is none.
func (s *PaymentRequestService) attempt(ctx context.Context, a gateway.Adapter, order *entity.Order, method entity.PaymentMethod, meta CallMeta) (*entity.Payment, bool, error) {
	existing, err := s.Payments.FindPending(ctx, order.ID, method)
	if err == nil {
		return existing, true, nil
	}
	if !errors.Is(err, payerr.ErrPaymentNotFound) {
		return nil, false, payerr.Internal("find pending payment", err)
	}

	ref := a.NewReference(order.OrderRef, s.Recon.now())
	p, err := s.Recon.CreatePending(ctx, order, method, order.Total, ref, meta)
	if errors.Is(err, payerr.ErrPaymentInProgress) {
		// lost the insert race to a concurrent request
		existing, ferr := s.Payments.FindPending(ctx, order.ID, method)
		if ferr != nil {
			return nil, false, err
		}
		return existing, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	return p, false, nil
}

func (s *PaymentRequestService) structural(req InitiateRequest, verr *payerr.ValidationError) {
	err := s.validate.Struct(req)
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return
	}
	for _, fe := range fieldErrs {
		verr.Add(jsonName(fe.Field()), "%s", describe(fe))
	}
}

var jsonNames = map[string]string{
	"OrderRef":      "orderId",
	"PaymentMethod": "paymentMethod",
	"OrderInfo":     "orderInfo",
	"BankCode":      "bankCode",
	"Locale":        "locale",
}

func jsonName(field string) string {
	if n, ok := jsonNames[field]; ok {
		return n
	}
	return field
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "alphanum":
		return "must be alphanumeric"
	}
	return "is invalid"
}

func joinMethods() string {
	names := make([]string, 0, len(entity.SupportedMethods))
	for _, m := range entity.SupportedMethods {
		names = append(names, string(m))
	}
	return strings.Join(names, ", ")
}

func orderInfo(info, orderRef string) string {
	if strings.TrimSpace(info) != "" {
		return info
	}
	return "Thanh toan don hang " + orderRef
}
