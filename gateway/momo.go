package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"paygate/entity"
	"paygate/pkg/payerr"
	"paygate/pkg/signature"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type MoMoConfig struct {
	PartnerCode string
	AccessKey   string
	SecretKey   string
	Endpoint    string // sandbox: https://test-payment.momo.vn/v2/gateway/api
	RedirectURL string
	IPNURL      string
	RequestType string
}

type MoMo struct {
	cfg    MoMoConfig
	engine *signature.Engine
	client *Client
	log    zerolog.Logger
	now    func() time.Time
}

func NewMoMo(cfg MoMoConfig, engine *signature.Engine, client *Client, logger zerolog.Logger) *MoMo {
	if cfg.RequestType == "" {
		cfg.RequestType = "captureWallet"
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	return &MoMo{cfg: cfg, engine: engine, client: client, log: logger.With().Str("gateway", "momo").Logger(), now: time.Now}
}

func (a *MoMo) Method() entity.PaymentMethod { return entity.MethodMoMo }

func (a *MoMo) NewReference(orderRef string, now time.Time) string {
	return fmt.Sprintf("%s-%d", orderRef, now.UnixMilli())
}

// resultCode values that mean "not final yet"
var momoPendingCodes = map[string]bool{"1000": true, "7000": true, "7002": true}

func momoOutcome(code string) entity.PaymentStatus {
	switch {
	case code == "0":
		return entity.PaymentPaid
	case momoPendingCodes[code]:
		return entity.PaymentPending
	default:
		return entity.PaymentFailed
	}
}

func (a *MoMo) CreatePaymentRequest(ctx context.Context, req CreateRequest) (*Artifact, error) {
	p := req.Payment
	info := req.OrderInfo
	if info == "" {
		info = "Thanh toan don hang " + p.OrderRef
	}
	f := signature.Fields{
		"partnerCode": a.cfg.PartnerCode,
		"requestId":   uuid.NewString(),
		"amount":      wholeUnits(p.Amount),
		"orderId":     p.ReferenceNumber,
		"orderInfo":   info,
		"redirectUrl": a.cfg.RedirectURL,
		"ipnUrl":      a.cfg.IPNURL,
		"extraData":   "",
		"requestType": a.cfg.RequestType,
	}
	sig, err := a.engine.Sign(signature.MoMo, signature.OpCreate, f)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"partnerCode": f["partnerCode"],
		"accessKey":   a.cfg.AccessKey,
		"requestId":   f["requestId"],
		"amount":      p.Amount.IntPart(),
		"orderId":     f["orderId"],
		"orderInfo":   f["orderInfo"],
		"redirectUrl": f["redirectUrl"],
		"ipnUrl":      f["ipnUrl"],
		"extraData":   f["extraData"],
		"requestType": f["requestType"],
		"signature":   sig,
		"lang":        "vi",
	}
	out, err := a.client.PostJSON(ctx, a.cfg.Endpoint+"/create", body)
	if err != nil {
		a.log.Warn().Err(err).Str("reference", p.ReferenceNumber).Msg("create failed")
		return nil, err
	}
	if out["resultCode"] != "0" || out["payUrl"] == "" {
		return nil, fmt.Errorf("%w: momo create resultCode %s: %s", payerr.ErrGatewayUnavailable, out["resultCode"], out["message"])
	}
	return &Artifact{
		Method:     entity.MethodMoMo,
		PaymentID:  p.ID.String(),
		Reference:  p.ReferenceNumber,
		PaymentURL: out["payUrl"],
		QRCodeURL:  out["qrCodeUrl"],
		Deeplink:   out["deeplink"],
		Message:    out["message"],
	}, nil
}

func (a *MoMo) VerifyCallback(raw signature.Fields) CallbackResult {
	res := a.engine.Verify(signature.MoMo, raw)
	if !res.Valid {
		return invalid(res.Reason, res.Fields)
	}
	f := res.Fields
	if f["partnerCode"] != a.cfg.PartnerCode {
		return invalid("partner code mismatch", f)
	}
	amount, err := decimal.NewFromString(f["amount"])
	if err != nil {
		return invalid("bad amount", f)
	}
	code := f["resultCode"]
	return CallbackResult{
		Valid:         true,
		Reference:     f["orderId"],
		TransactionID: f["transId"],
		Amount:        amount,
		Outcome:       momoOutcome(code),
		ProviderCode:  code,
		Fields:        f,
	}
}

func (a *MoMo) QueryStatus(ctx context.Context, p *entity.Payment) (*RemoteStatus, error) {
	f := signature.Fields{
		"partnerCode": a.cfg.PartnerCode,
		"requestId":   uuid.NewString(),
		"orderId":     p.ReferenceNumber,
	}
	sig, err := a.engine.Sign(signature.MoMo, signature.OpQuery, f)
	if err != nil {
		return nil, err
	}
	body := map[string]any{
		"partnerCode": f["partnerCode"],
		"requestId":   f["requestId"],
		"orderId":     f["orderId"],
		"signature":   sig,
		"lang":        "vi",
	}
	out, err := a.client.PostJSON(ctx, a.cfg.Endpoint+"/query", body)
	if err != nil {
		a.log.Warn().Err(err).Str("reference", p.ReferenceNumber).Msg("query failed")
		return nil, err
	}
	code := out["resultCode"]
	rs := &RemoteStatus{
		Status:        momoOutcome(code),
		TransactionID: out["transId"],
		ProviderCode:  code,
		Message:       out["message"],
		Raw:           out,
	}
	if amt, err := decimal.NewFromString(out["amount"]); err == nil {
		rs.Amount = amt
	}
	return rs, nil
}

func (a *MoMo) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	p := req.Payment
	desc := req.Reason
	if desc == "" {
		desc = "Hoan tien don hang " + p.OrderRef
	}
	// a refund is its own MoMo order
	f := signature.Fields{
		"partnerCode": a.cfg.PartnerCode,
		"orderId":     fmt.Sprintf("RF-%s-%d", p.ReferenceNumber, a.now().UnixMilli()),
		"requestId":   uuid.NewString(),
		"amount":      wholeUnits(req.Amount),
		"transId":     p.TransactionID,
		"description": desc,
	}
	sig, err := a.engine.Sign(signature.MoMo, signature.OpRefund, f)
	if err != nil {
		return nil, err
	}
	body := map[string]any{
		"partnerCode": f["partnerCode"],
		"orderId":     f["orderId"],
		"requestId":   f["requestId"],
		"amount":      req.Amount.IntPart(),
		"transId":     f["transId"],
		"description": f["description"],
		"signature":   sig,
		"lang":        "vi",
	}
	out, err := a.client.PostJSON(ctx, a.cfg.Endpoint+"/refund", body)
	if err != nil {
		a.log.Warn().Err(err).Str("reference", p.ReferenceNumber).Msg("refund call failed")
		return nil, err
	}
	code := out["resultCode"]
	return &RefundResult{
		Success:     code == "0",
		ProviderRef: out["transId"],
		Code:        code,
		Message:     out["message"],
		Raw:         out,
	}, nil
}

type momoAck struct {
	ResultCode int    `json:"resultCode"`
	Message    string `json:"message"`
}

// MoMo retries the IPN on any non-2xx response. A 2xx with a non-zero
// resultCode is recorded on their side and not redelivered.
func (a *MoMo) Acknowledge(kind AckKind) Ack {
	switch kind {
	case AckSuccess, AckDuplicate:
		return Ack{Status: http.StatusOK, Body: momoAck{0, "success"}}
	case AckInvalidSignature:
		return Ack{Status: http.StatusOK, Body: momoAck{11, "invalid signature"}}
	case AckConflict:
		return Ack{Status: http.StatusOK, Body: momoAck{42, "payment already finalized"}}
	case AckNotFound:
		return Ack{Status: http.StatusOK, Body: momoAck{42, "order not found"}}
	case AckAmountMismatch:
		return Ack{Status: http.StatusOK, Body: momoAck{42, "amount mismatch"}}
	default:
		return Ack{Status: http.StatusInternalServerError, Body: momoAck{99, "temporary error"}}
	}
}

var _ Adapter = (*MoMo)(nil)
