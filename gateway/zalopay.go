package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"paygate/entity"
	"paygate/pkg/payerr"
	"paygate/pkg/signature"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type ZaloPayConfig struct {
	AppID       string
	Key1        string
	Key2        string
	Endpoint    string // sandbox: https://sb-openapi.zalopay.vn/v2
	CallbackURL string
	RedirectURL string
}

type ZaloPay struct {
	cfg    ZaloPayConfig
	engine *signature.Engine
	client *Client
	log    zerolog.Logger
	now    func() time.Time
}

func NewZaloPay(cfg ZaloPayConfig, engine *signature.Engine, client *Client, logger zerolog.Logger) *ZaloPay {
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	return &ZaloPay{cfg: cfg, engine: engine, client: client, log: logger.With().Str("gateway", "zalopay").Logger(), now: time.Now}
}

func (a *ZaloPay) Method() entity.PaymentMethod { return entity.MethodZaloPay }

// NewReference follows ZaloPay's yymmdd_xxx format; the date prefix must be
// the current day in GMT+7.
func (a *ZaloPay) NewReference(orderRef string, now time.Time) string {
	return fmt.Sprintf("%s_%s_%06d", now.In(vnZone).Format("060102"), orderRef, now.UnixMilli()%1000000)
}

func (a *ZaloPay) CreatePaymentRequest(ctx context.Context, req CreateRequest) (*Artifact, error) {
	p := req.Payment
	embed, err := json.Marshal(map[string]string{"redirecturl": a.cfg.RedirectURL})
	if err != nil {
		return nil, err
	}
	user := "paygate"
	if req.UserID != 0 {
		user = "user" + strconv.FormatUint(uint64(req.UserID), 10)
	}
	desc := req.OrderInfo
	if desc == "" {
		desc = "Thanh toan don hang #" + p.OrderRef
	}

	f := signature.Fields{
		"app_id":       a.cfg.AppID,
		"app_trans_id": p.ReferenceNumber,
		"app_user":     user,
		"amount":       wholeUnits(p.Amount),
		"app_time":     strconv.FormatInt(a.now().UnixMilli(), 10),
		"embed_data":   string(embed),
		"item":         "[]",
	}
	mac, err := a.engine.Sign(signature.ZaloPay, signature.OpCreate, f)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	for k, v := range f {
		form.Set(k, v)
	}
	form.Set("description", desc)
	form.Set("callback_url", a.cfg.CallbackURL)
	form.Set("bank_code", req.BankCode)
	form.Set("mac", mac)

	out, err := a.client.PostForm(ctx, a.cfg.Endpoint+"/create", form)
	if err != nil {
		a.log.Warn().Err(err).Str("reference", p.ReferenceNumber).Msg("create failed")
		return nil, err
	}
	if out["return_code"] != "1" || out["order_url"] == "" {
		return nil, fmt.Errorf("%w: zalopay create return_code %s: %s", payerr.ErrGatewayUnavailable, out["return_code"], out["return_message"])
	}
	qr := out["qr_code"]
	if qr == "" {
		qr = out["qr_code_url"]
	}
	return &Artifact{
		Method:     entity.MethodZaloPay,
		PaymentID:  p.ID.String(),
		Reference:  p.ReferenceNumber,
		PaymentURL: out["order_url"],
		QRCodeURL:  qr,
		Message:    out["return_message"],
	}, nil
}

func (a *ZaloPay) VerifyCallback(raw signature.Fields) CallbackResult {
	res := a.engine.Verify(signature.ZaloPay, raw)
	if !res.Valid {
		return invalid(res.Reason, res.Fields)
	}
	f := res.Fields
	if id := f["app_id"]; id != "" && id != a.cfg.AppID {
		return invalid("app id mismatch", f)
	}
	amount, err := decimal.NewFromString(f["amount"])
	if err != nil {
		return invalid("bad amount", f)
	}
	code := f["return_code"]
	outcome := entity.PaymentFailed
	if code == "1" {
		outcome = entity.PaymentPaid
	}
	return CallbackResult{
		Valid:         true,
		Reference:     f["app_trans_id"],
		TransactionID: f["zp_trans_id"],
		Amount:        amount,
		Outcome:       outcome,
		ProviderCode:  code,
		Fields:        f,
	}
}

func (a *ZaloPay) QueryStatus(ctx context.Context, p *entity.Payment) (*RemoteStatus, error) {
	f := signature.Fields{
		"app_id":       a.cfg.AppID,
		"app_trans_id": p.ReferenceNumber,
	}
	mac, err := a.engine.Sign(signature.ZaloPay, signature.OpQuery, f)
	if err != nil {
		return nil, err
	}
	form := url.Values{"app_id": {f["app_id"]}, "app_trans_id": {f["app_trans_id"]}, "mac": {mac}}

	out, err := a.client.PostForm(ctx, a.cfg.Endpoint+"/query", form)
	if err != nil {
		a.log.Warn().Err(err).Str("reference", p.ReferenceNumber).Msg("query failed")
		return nil, err
	}
	code := out["return_code"]
	rs := &RemoteStatus{
		TransactionID: out["zp_trans_id"],
		ProviderCode:  code,
		Message:       out["return_message"],
		Raw:           out,
	}
	switch code {
	case "1":
		rs.Status = entity.PaymentPaid
	case "2":
		rs.Status = entity.PaymentFailed
	case "3":
		rs.Status = entity.PaymentPending
	default:
		return nil, fmt.Errorf("%w: zalopay query return_code %s: %s", payerr.ErrGatewayUnavailable, code, out["return_message"])
	}
	if amt, err := decimal.NewFromString(out["amount"]); err == nil {
		rs.Amount = amt
	}
	return rs, nil
}

func (a *ZaloPay) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	p := req.Payment
	now := a.now()
	desc := req.Reason
	if desc == "" {
		desc = "Hoan tien don hang " + p.OrderRef
	}
	f := signature.Fields{
		"app_id":      a.cfg.AppID,
		"zp_trans_id": p.TransactionID,
		"amount":      wholeUnits(req.Amount),
		"description": desc,
		"timestamp":   strconv.FormatInt(now.UnixMilli(), 10),
	}
	mac, err := a.engine.Sign(signature.ZaloPay, signature.OpRefund, f)
	if err != nil {
		return nil, err
	}
	form := url.Values{}
	for k, v := range f {
		form.Set(k, v)
	}
	form.Set("m_refund_id", fmt.Sprintf("%s_%s_%d", now.In(vnZone).Format("060102"), a.cfg.AppID, now.UnixMilli()))
	form.Set("mac", mac)

	out, err := a.client.PostForm(ctx, a.cfg.Endpoint+"/refund", form)
	if err != nil {
		a.log.Warn().Err(err).Str("reference", p.ReferenceNumber).Msg("refund call failed")
		return nil, err
	}
	code := out["return_code"]
	return &RefundResult{
		Success:     code == "1",
		ProviderRef: out["refund_id"],
		Code:        code,
		Message:     out["return_message"],
		Raw:         out,
	}, nil
}

type zaloAck struct {
	ReturnCode    int    `json:"return_code"`
	ReturnMessage string `json:"return_message"`
}

// ZaloPay retries a callback (up to 3 times) only when return_code is 0.
// 2 means "already processed"; -1 stops delivery.
func (a *ZaloPay) Acknowledge(kind AckKind) Ack {
	switch kind {
	case AckSuccess:
		return Ack{Status: http.StatusOK, Body: zaloAck{1, "success"}}
	case AckDuplicate:
		return Ack{Status: http.StatusOK, Body: zaloAck{2, "already processed"}}
	case AckConflict:
		return Ack{Status: http.StatusOK, Body: zaloAck{2, "payment already finalized"}}
	case AckInvalidSignature:
		return Ack{Status: http.StatusOK, Body: zaloAck{-1, "mac not equal"}}
	case AckNotFound:
		return Ack{Status: http.StatusOK, Body: zaloAck{-1, "order not found"}}
	case AckAmountMismatch:
		return Ack{Status: http.StatusOK, Body: zaloAck{-1, "amount mismatch"}}
	default:
		return Ack{Status: http.StatusOK, Body: zaloAck{0, "retry"}}
	}
}

var _ Adapter = (*ZaloPay)(nil)
