package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"paygate/entity"
	"paygate/pkg/payerr"
	"paygate/pkg/signature"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type VNPayConfig struct {
	TmnCode    string
	HashSecret string
	PayURL     string // sandbox: https://sandbox.vnpayment.vn/paymentv2/vpcpay.html
	APIURL     string // querydr + refund: .../merchant_webapi/api/transaction
	ReturnURL  string
	ExpireIn   time.Duration
}

type VNPay struct {
	cfg    VNPayConfig
	engine *signature.Engine
	client *Client
	log    zerolog.Logger
	now    func() time.Time
}

func NewVNPay(cfg VNPayConfig, engine *signature.Engine, client *Client, logger zerolog.Logger) *VNPay {
	if cfg.ExpireIn <= 0 {
		cfg.ExpireIn = 15 * time.Minute
	}
	return &VNPay{cfg: cfg, engine: engine, client: client, log: logger.With().Str("gateway", "vnpay").Logger(), now: time.Now}
}

func (a *VNPay) Method() entity.PaymentMethod { return entity.MethodVNPay }

func (a *VNPay) NewReference(orderRef string, now time.Time) string {
	return fmt.Sprintf("%s-%d", orderRef, now.UnixMilli())
}

// vnp_Amount is sent in hundredths of a đồng.
func vnpAmount(d decimal.Decimal) string {
	return d.Mul(decimal.NewFromInt(100)).StringFixed(0)
}

func parseVnpAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	return d.Div(decimal.NewFromInt(100)), nil
}

// CreatePaymentRequest builds the signed redirect URL locally. The query string
// is the canonical pre-image itself, so the URL is self-verifying.
func (a *VNPay) CreatePaymentRequest(_ context.Context, req CreateRequest) (*Artifact, error) {
	p := req.Payment
	now := a.now()
	expires := now.Add(a.cfg.ExpireIn)

	locale := req.Locale
	if locale == "" {
		locale = "vn"
	}
	ip := req.ClientIP
	if ip == "" {
		ip = "127.0.0.1"
	}
	info := req.OrderInfo
	if info == "" {
		info = "Thanh toan don hang " + p.OrderRef
	}

	f := signature.Fields{
		"vnp_Version":    "2.1.0",
		"vnp_Command":    "pay",
		"vnp_TmnCode":    a.cfg.TmnCode,
		"vnp_Locale":     locale,
		"vnp_CurrCode":   "VND",
		"vnp_TxnRef":     p.ReferenceNumber,
		"vnp_OrderInfo":  info,
		"vnp_OrderType":  "other",
		"vnp_Amount":     vnpAmount(p.Amount),
		"vnp_ReturnUrl":  a.cfg.ReturnURL,
		"vnp_IpAddr":     ip,
		"vnp_CreateDate": formatVNTime(now),
		"vnp_ExpireDate": formatVNTime(expires),
	}
	if req.BankCode != "" {
		f["vnp_BankCode"] = req.BankCode
	}

	query, err := a.engine.Canonical(signature.VNPay, signature.OpCreate, f)
	if err != nil {
		return nil, err
	}
	sig, err := a.engine.Sign(signature.VNPay, signature.OpCreate, f)
	if err != nil {
		return nil, err
	}

	return &Artifact{
		Method:     entity.MethodVNPay,
		PaymentID:  p.ID.String(),
		Reference:  p.ReferenceNumber,
		PaymentURL: a.cfg.PayURL + "?" + query + "&" + signature.VNPaySignatureField + "=" + sig,
		ExpiresAt:  &expires,
	}, nil
}

func (a *VNPay) VerifyCallback(raw signature.Fields) CallbackResult {
	res := a.engine.Verify(signature.VNPay, raw)
	if !res.Valid {
		return invalid(res.Reason, res.Fields)
	}
	f := res.Fields
	if tmn := f["vnp_TmnCode"]; tmn != "" && tmn != a.cfg.TmnCode {
		return invalid("terminal code mismatch", f)
	}
	ref := f["vnp_TxnRef"]
	if ref == "" {
		return invalid("missing vnp_TxnRef", f)
	}
	amount, err := parseVnpAmount(f["vnp_Amount"])
	if err != nil {
		return invalid("bad vnp_Amount", f)
	}

	code := f["vnp_ResponseCode"]
	outcome := entity.PaymentFailed
	if code == "00" {
		if st, ok := f["vnp_TransactionStatus"]; !ok || st == "00" {
			outcome = entity.PaymentPaid
		}
	}
	return CallbackResult{
		Valid:         true,
		Reference:     ref,
		TransactionID: f["vnp_TransactionNo"],
		Amount:        amount,
		Outcome:       outcome,
		ProviderCode:  code,
		Fields:        f,
	}
}

func (a *VNPay) QueryStatus(ctx context.Context, p *entity.Payment) (*RemoteStatus, error) {
	now := a.now()
	f := signature.Fields{
		"vnp_RequestId":       uuid.NewString(),
		"vnp_Version":         "2.1.0",
		"vnp_Command":         "querydr",
		"vnp_TmnCode":         a.cfg.TmnCode,
		"vnp_TxnRef":          p.ReferenceNumber,
		"vnp_OrderInfo":       "Truy van giao dich " + p.ReferenceNumber,
		"vnp_TransactionDate": formatVNTime(p.CreatedAt),
		"vnp_CreateDate":      formatVNTime(now),
		"vnp_IpAddr":          "127.0.0.1",
	}
	sig, err := a.engine.Sign(signature.VNPay, signature.OpQuery, f)
	if err != nil {
		return nil, err
	}
	body := f.Clone()
	body[signature.VNPaySignatureField] = sig

	out, err := a.client.PostJSON(ctx, a.cfg.APIURL, body)
	if err != nil {
		a.log.Warn().Err(err).Str("reference", p.ReferenceNumber).Msg("querydr failed")
		return nil, err
	}
	code := out["vnp_ResponseCode"]
	if code != "00" {
		return nil, fmt.Errorf("%w: vnpay querydr response %s: %s", payerr.ErrGatewayUnavailable, code, out["vnp_Message"])
	}

	rs := &RemoteStatus{
		TransactionID: out["vnp_TransactionNo"],
		ProviderCode:  out["vnp_TransactionStatus"],
		Message:       out["vnp_Message"],
		Raw:           out,
	}
	if amt, err := parseVnpAmount(out["vnp_Amount"]); err == nil {
		rs.Amount = amt
	}
	switch out["vnp_TransactionStatus"] {
	case "00":
		rs.Status = entity.PaymentPaid
	case "", "01":
		rs.Status = entity.PaymentPending
	default:
		rs.Status = entity.PaymentFailed
	}
	return rs, nil
}

// Refund issues a full refund (vnp_TransactionType 02).
func (a *VNPay) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	p := req.Payment
	now := a.now()
	paidAt := p.CreatedAt
	if p.PaidAt != nil {
		paidAt = *p.PaidAt
	}
	reason := req.Reason
	if reason == "" {
		reason = "Hoan tien don hang " + p.OrderRef
	}
	f := signature.Fields{
		"vnp_RequestId":       uuid.NewString(),
		"vnp_Version":         "2.1.0",
		"vnp_Command":         "refund",
		"vnp_TmnCode":         a.cfg.TmnCode,
		"vnp_TransactionType": "02",
		"vnp_TxnRef":          p.ReferenceNumber,
		"vnp_Amount":          vnpAmount(req.Amount),
		"vnp_OrderInfo":       reason,
		"vnp_TransactionNo":   p.TransactionID,
		"vnp_TransactionDate": formatVNTime(paidAt),
		"vnp_CreateBy":        "paygate",
		"vnp_CreateDate":      formatVNTime(now),
		"vnp_IpAddr":          "127.0.0.1",
	}
	sig, err := a.engine.Sign(signature.VNPay, signature.OpRefund, f)
	if err != nil {
		return nil, err
	}
	body := f.Clone()
	body[signature.VNPaySignatureField] = sig

	out, err := a.client.PostJSON(ctx, a.cfg.APIURL, body)
	if err != nil {
		a.log.Warn().Err(err).Str("reference", p.ReferenceNumber).Msg("refund call failed")
		return nil, err
	}
	code := out["vnp_ResponseCode"]
	return &RefundResult{
		Success:     code == "00",
		ProviderRef: out["vnp_TransactionNo"],
		Code:        code,
		Message:     out["vnp_Message"],
		Raw:         out,
	}, nil
}

// VNPay retries the IPN until it gets RspCode 00 or a definitive error code.
// 99 keeps it retrying.
var vnpayAcks = map[AckKind][2]string{
	AckSuccess:          {"00", "Confirm Success"},
	AckDuplicate:        {"00", "Confirm Success"},
	AckConflict:         {"02", "Order already confirmed"},
	AckInvalidSignature: {"97", "Invalid signature"},
	AckNotFound:         {"01", "Order not found"},
	AckAmountMismatch:   {"04", "Invalid amount"},
	AckRetryLater:       {"99", "Unknown error"},
}

type vnpayAck struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

func (a *VNPay) Acknowledge(kind AckKind) Ack {
	v, ok := vnpayAcks[kind]
	if !ok {
		v = vnpayAcks[AckRetryLater]
	}
	return Ack{Status: http.StatusOK, Body: vnpayAck{RspCode: v[0], Message: v[1]}}
}

var _ Adapter = (*VNPay)(nil)
