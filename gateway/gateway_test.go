package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"paygate/entity"
	"paygate/pkg/payerr"
	"paygate/pkg/signature"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 1, 1, 5, 0, 0, 0, time.UTC)

func testProviders(endpoint string) Providers {
	return Providers{
		VNPay: VNPayConfig{
			TmnCode: "TESTTMN1", HashSecret: "VNPAYSECRET",
			PayURL: "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html", APIURL: endpoint + "/vnpay",
			ReturnURL: "http://localhost:3000/payment/vnpay-return",
		},
		MoMo: MoMoConfig{
			PartnerCode: "MOMOTEST", AccessKey: "momo-access", SecretKey: "momo-secret",
			Endpoint: endpoint + "/momo", RedirectURL: "http://localhost:3000/r", IPNURL: "http://localhost:8000/api/payments/momo-ipn",
		},
		ZaloPay: ZaloPayConfig{
			AppID: "2553", Key1: "zalo-key1", Key2: "zalo-key2",
			Endpoint: endpoint + "/zalo", CallbackURL: "http://localhost:8000/api/payments/zalopay-callback",
		},
		Timeout: time.Second,
	}
}

type adapters struct {
	engine *signature.Engine
	vnpay  *VNPay
	momo   *MoMo
	zalo   *ZaloPay
}

func newAdapters(endpoint string, timeout time.Duration) adapters {
	p := testProviders(endpoint)
	engine := signature.NewEngine(p.EngineKeys())
	client := NewClient(timeout)
	a := adapters{
		engine: engine,
		vnpay:  NewVNPay(p.VNPay, engine, client, zerolog.Nop()),
		momo:   NewMoMo(p.MoMo, engine, client, zerolog.Nop()),
		zalo:   NewZaloPay(p.ZaloPay, engine, client, zerolog.Nop()),
	}
	now := func() time.Time { return fixedNow }
	a.vnpay.now, a.momo.now, a.zalo.now = now, now, now
	return a
}

func pendingPayment(method entity.PaymentMethod, ref string) *entity.Payment {
	return &entity.Payment{
		ID:              uuid.New(),
		OrderID:         1,
		OrderRef:        "O1",
		PaymentMethod:   method,
		Amount:          decimal.NewFromInt(100000),
		Status:          entity.PaymentPending,
		ReferenceNumber: ref,
		TransactionID:   "4088878653",
		CreatedAt:       fixedNow,
	}
}

func TestVNPay_RedirectURLRecomputesToEmbeddedSignature(t *testing.T) {
	a := newAdapters("http://unused", time.Second)
	ref := a.vnpay.NewReference("O1", fixedNow)
	p := pendingPayment(entity.MethodVNPay, ref)

	art, err := a.vnpay.CreatePaymentRequest(context.Background(), CreateRequest{Payment: p, ClientIP: "10.0.0.1", OrderInfo: "Thanh toán đơn hàng O1 & quà"})
	require.NoError(t, err)
	assert.Equal(t, ref, art.Reference)
	assert.NotNil(t, art.ExpiresAt)

	u, err := url.Parse(art.PaymentURL)
	require.NoError(t, err)
	f := signature.FromValues(u.Query())
	assert.Equal(t, "10000000", f["vnp_Amount"])
	assert.Equal(t, ref, f["vnp_TxnRef"])
	assert.Equal(t, "20240101120000", f["vnp_CreateDate"], "create date is GMT+7")
	assert.Equal(t, "20240101121500", f["vnp_ExpireDate"])

	res := a.engine.VerifyOp(signature.VNPay, signature.OpCreate, f)
	assert.True(t, res.Valid, res.Reason)
}

func signVNPayCallback(t *testing.T, e *signature.Engine, f signature.Fields) signature.Fields {
	t.Helper()
	sig, err := e.Sign(signature.VNPay, signature.OpCallback, f)
	require.NoError(t, err)
	out := f.Clone()
	out[signature.VNPaySignatureField] = sig
	return out
}

func TestVNPay_CallbackCodeTable(t *testing.T) {
	a := newAdapters("http://unused", time.Second)
	base := signature.Fields{
		"vnp_TmnCode": "TESTTMN1", "vnp_TxnRef": "O1-1", "vnp_Amount": "10000000",
		"vnp_TransactionNo": "14000001", "vnp_OrderInfo": "x",
	}
	cases := []struct {
		code, status string
		want         entity.PaymentStatus
	}{
		{"00", "00", entity.PaymentPaid},
		{"00", "", entity.PaymentPaid},
		{"00", "02", entity.PaymentFailed},
		{"24", "02", entity.PaymentFailed},
		{"0", "0", entity.PaymentFailed},
	}
	for _, tc := range cases {
		f := base.Clone()
		f["vnp_ResponseCode"] = tc.code
		if tc.status != "" {
			f["vnp_TransactionStatus"] = tc.status
		}
		res := a.vnpay.VerifyCallback(signVNPayCallback(t, a.engine, f))
		require.True(t, res.Valid, res.Reason)
		assert.Equal(t, tc.want, res.Outcome, "code=%s status=%s", tc.code, tc.status)
		assert.True(t, decimal.NewFromInt(100000).Equal(res.Amount))
		assert.Equal(t, "O1-1", res.Reference)
		assert.Equal(t, "14000001", res.TransactionID)
	}

	wrongTerminal := base.Clone()
	wrongTerminal["vnp_TmnCode"] = "OTHER"
	wrongTerminal["vnp_ResponseCode"] = "00"
	assert.False(t, a.vnpay.VerifyCallback(signVNPayCallback(t, a.engine, wrongTerminal)).Valid)
}

func TestMoMo_CreatePostsSignedRequest(t *testing.T) {
	var got signature.Fields
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/momo/create", r.URL.Path)
		var raw json.RawMessage
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		f, err := signature.FromJSON(raw)
		assert.NoError(t, err)
		got = f
		_ = json.NewEncoder(w).Encode(map[string]any{
			"resultCode": 0, "message": "Thành công.", "payUrl": "https://test-payment.momo.vn/pay/abc",
			"qrCodeUrl": "momo://qr", "deeplink": "momo://app",
		})
	}))
	defer srv.Close()

	a := newAdapters(srv.URL, time.Second)
	p := pendingPayment(entity.MethodMoMo, "O1-1700000000000")
	art, err := a.momo.CreatePaymentRequest(context.Background(), CreateRequest{Payment: p})
	require.NoError(t, err)

	assert.Equal(t, "https://test-payment.momo.vn/pay/abc", art.PaymentURL)
	assert.Equal(t, "momo://qr", art.QRCodeURL)
	assert.Equal(t, "momo://app", art.Deeplink)
	assert.Equal(t, "100000", got["amount"])
	assert.Equal(t, p.ReferenceNumber, got["orderId"])
	assert.True(t, a.engine.VerifyOp(signature.MoMo, signature.OpCreate, got).Valid)
}

func TestMoMo_CreateFailuresAreGatewayUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "slow"):
			select {
			case <-time.After(2 * time.Second):
			case <-r.Context().Done():
			}
		case strings.Contains(r.URL.Path, "boom"):
			w.WriteHeader(http.StatusBadGateway)
		case strings.Contains(r.URL.Path, "reject"):
			_ = json.NewEncoder(w).Encode(map[string]any{"resultCode": 22, "message": "amount invalid"})
		}
	}))
	defer srv.Close()

	for _, mode := range []string{"slow", "boom", "reject"} {
		a := newAdapters(srv.URL+"/"+mode, 100*time.Millisecond)
		p := pendingPayment(entity.MethodMoMo, "O1-1")
		_, err := a.momo.CreatePaymentRequest(context.Background(), CreateRequest{Payment: p})
		assert.ErrorIs(t, err, payerr.ErrGatewayUnavailable, mode)
	}
}

func TestMoMo_QueryCodeTable(t *testing.T) {
	var code atomic.Value
	code.Store("0")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"resultCode": json.Number(code.Load().(string)), "orderId": body["orderId"], "amount": 100000, "transId": 4088878653,
		})
	}))
	defer srv.Close()

	a := newAdapters(srv.URL, time.Second)
	p := pendingPayment(entity.MethodMoMo, "O1-1")
	cases := map[string]entity.PaymentStatus{
		"0": entity.PaymentPaid, "1000": entity.PaymentPending, "7000": entity.PaymentPending,
		"7002": entity.PaymentPending, "1006": entity.PaymentFailed, "49": entity.PaymentFailed,
	}
	for c, want := range cases {
		code.Store(c)
		rs, err := a.momo.QueryStatus(context.Background(), p)
		require.NoError(t, err)
		assert.Equal(t, want, rs.Status, "resultCode %s", c)
		assert.Equal(t, "4088878653", rs.TransactionID)
		assert.True(t, decimal.NewFromInt(100000).Equal(rs.Amount))
	}
}

func TestMoMo_CallbackRejectsForeignPartner(t *testing.T) {
	a := newAdapters("http://unused", time.Second)
	f := signature.Fields{
		"partnerCode": "SOMEONEELSE", "orderId": "O1-1", "requestId": "r", "amount": "100000",
		"orderInfo": "x", "transId": "1", "resultCode": "0", "message": "ok", "payType": "qr",
		"responseTime": "1", "extraData": "",
	}
	sig, err := a.engine.Sign(signature.MoMo, signature.OpCallback, f)
	require.NoError(t, err)
	f["signature"] = sig
	res := a.momo.VerifyCallback(f)
	assert.False(t, res.Valid)
	assert.Equal(t, "partner code mismatch", res.Reason)
}

func TestZaloPay_ReferenceFormat(t *testing.T) {
	a := newAdapters("http://unused", time.Second)
	ref := a.zalo.NewReference("O1", time.Date(2024, 1, 1, 20, 0, 0, 0, time.UTC))
	assert.True(t, strings.HasPrefix(ref, "240102_O1_"), ref)
}

func TestZaloPay_CallbackUsesKey2(t *testing.T) {
	a := newAdapters("http://unused", time.Second)
	f := signature.Fields{
		"app_trans_id": "240101_O1_000001", "zp_trans_id": "99", "app_user": "user7",
		"amount": "100000", "app_time": "1704085200000", "return_code": "1",
	}
	mac, err := a.engine.Sign(signature.ZaloPay, signature.OpCallback, f)
	require.NoError(t, err)
	f["mac"] = mac

	res := a.zalo.VerifyCallback(f)
	require.True(t, res.Valid, res.Reason)
	assert.Equal(t, entity.PaymentPaid, res.Outcome)
	assert.Equal(t, "240101_O1_000001", res.Reference)

	// a mac made with key1 must not pass
	keyOne, err := a.engine.Sign(signature.ZaloPay, signature.OpCreate, signature.Fields{
		"app_id": "2553", "app_trans_id": f["app_trans_id"], "app_user": f["app_user"],
		"amount": f["amount"], "app_time": f["app_time"], "embed_data": "{}", "item": "[]",
	})
	require.NoError(t, err)
	f["mac"] = keyOne
	assert.False(t, a.zalo.VerifyCallback(f).Valid)
}

func TestZaloPay_QueryAndRefund(t *testing.T) {
	var refundForm signature.Fields
	var queryCode atomic.Value
	queryCode.Store("1")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		switch r.URL.Path {
		case "/zalo/query":
			_ = json.NewEncoder(w).Encode(map[string]any{"return_code": json.Number(queryCode.Load().(string)), "zp_trans_id": 99, "amount": 100000})
		case "/zalo/refund":
			refundForm = signature.FromValues(r.PostForm)
			_ = json.NewEncoder(w).Encode(map[string]any{"return_code": 1, "return_message": "ok", "refund_id": 555})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	a := newAdapters(srv.URL, time.Second)
	p := pendingPayment(entity.MethodZaloPay, "240101_O1_000001")
	p.TransactionID = "99"

	for code, want := range map[string]entity.PaymentStatus{"1": entity.PaymentPaid, "2": entity.PaymentFailed, "3": entity.PaymentPending} {
		queryCode.Store(code)
		rs, err := a.zalo.QueryStatus(context.Background(), p)
		require.NoError(t, err)
		assert.Equal(t, want, rs.Status)
	}
	queryCode.Store("-49")
	_, err := a.zalo.QueryStatus(context.Background(), p)
	assert.ErrorIs(t, err, payerr.ErrGatewayUnavailable)

	rr, err := a.zalo.Refund(context.Background(), RefundRequest{Payment: p, Amount: p.Amount, Reason: "customer request"})
	require.NoError(t, err)
	assert.True(t, rr.Success)
	assert.Equal(t, "555", rr.ProviderRef)
	assert.Equal(t, "99", refundForm["zp_trans_id"])
	assert.NotEmpty(t, refundForm["m_refund_id"])
	assert.True(t, a.engine.VerifyOp(signature.ZaloPay, signature.OpRefund, refundForm).Valid)
}

func ackBody(t *testing.T, a Ack) map[string]any {
	t.Helper()
	b, err := json.Marshal(a.Body)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	return m
}

func TestAcknowledgementTables(t *testing.T) {
	a := newAdapters("http://unused", time.Second)

	vn := map[AckKind]string{
		AckSuccess: "00", AckDuplicate: "00", AckConflict: "02", AckInvalidSignature: "97",
		AckNotFound: "01", AckAmountMismatch: "04", AckRetryLater: "99",
	}
	for kind, code := range vn {
		ack := a.vnpay.Acknowledge(kind)
		assert.Equal(t, http.StatusOK, ack.Status)
		assert.Equal(t, code, ackBody(t, ack)["RspCode"], kind.String())
	}

	momo := map[AckKind]float64{
		AckSuccess: 0, AckDuplicate: 0, AckConflict: 42, AckInvalidSignature: 11, AckNotFound: 42, AckAmountMismatch: 42,
	}
	for kind, code := range momo {
		ack := a.momo.Acknowledge(kind)
		assert.Equal(t, http.StatusOK, ack.Status)
		assert.Equal(t, code, ackBody(t, ack)["resultCode"], kind.String())
	}
	assert.Equal(t, http.StatusInternalServerError, a.momo.Acknowledge(AckRetryLater).Status)

	zalo := map[AckKind]float64{
		AckSuccess: 1, AckDuplicate: 2, AckConflict: 2, AckInvalidSignature: -1,
		AckNotFound: -1, AckAmountMismatch: -1, AckRetryLater: 0,
	}
	for kind, code := range zalo {
		ack := a.zalo.Acknowledge(kind)
		assert.Equal(t, http.StatusOK, ack.Status)
		assert.Equal(t, code, ackBody(t, ack)["return_code"], kind.String())
	}
}

func TestCOD(t *testing.T) {
	cod := NewCOD()
	p := pendingPayment(entity.MethodCOD, cod.NewReference("O1", fixedNow))

	art, err := cod.CreatePaymentRequest(context.Background(), CreateRequest{Payment: p})
	require.NoError(t, err)
	assert.Empty(t, art.PaymentURL)
	assert.Contains(t, art.Message, "100000")

	_, err = cod.Refund(context.Background(), RefundRequest{Payment: p, Amount: p.Amount})
	assert.ErrorIs(t, err, payerr.ErrRefundNotAllowed)

	_, err = cod.QueryStatus(context.Background(), p)
	assert.ErrorIs(t, err, payerr.ErrUnsupportedMethod)

	res := cod.VerifyCallback(signature.Fields{
		CODFieldReference: p.ReferenceNumber, CODFieldAmount: "100000", CODFieldConfirmedBy: "staff:3",
	})
	require.True(t, res.Valid, res.Reason)
	assert.Equal(t, entity.PaymentPaid, res.Outcome)

	res = cod.VerifyCallback(signature.Fields{CODFieldReference: p.ReferenceNumber, CODFieldAmount: "100000"})
	assert.False(t, res.Valid)

	res = cod.VerifyCallback(signature.Fields{
		CODFieldReference: p.ReferenceNumber, CODFieldAmount: "100000", CODFieldConfirmedBy: "staff:3", CODFieldOutcome: "REFUNDED",
	})
	assert.False(t, res.Valid)
}

func TestRegistry_UnconfiguredProviderIsUnsupported(t *testing.T) {
	p := testProviders("http://unused")
	p.MoMo = MoMoConfig{}
	r := NewRegistryFromConfig(p, zerolog.Nop())

	_, err := r.Get(entity.MethodMoMo)
	assert.ErrorIs(t, err, payerr.ErrUnsupportedMethod)

	for _, m := range []entity.PaymentMethod{entity.MethodVNPay, entity.MethodZaloPay, entity.MethodCOD} {
		a, err := r.Get(m)
		require.NoError(t, err)
		assert.Equal(t, m, a.Method())
	}
	assert.Equal(t, []entity.PaymentMethod{entity.MethodVNPay, entity.MethodZaloPay, entity.MethodCOD}, r.Methods())
}
