package services

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"paygate/entity"
	"paygate/gateway"
	"paygate/pkg/signature"
	"paygate/repository"
	"paygate/testutil"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeAdapter stands in for VNPay. Callbacks are "signed" when sig=ok; the
// outbound calls go through testify's mock.
type fakeAdapter struct {
	mock.Mock
}

func (f *fakeAdapter) Method() entity.PaymentMethod { return entity.MethodVNPay }

func (f *fakeAdapter) NewReference(orderRef string, _ time.Time) string {
	return orderRef + "-" + uuid.NewString()[:8]
}

func (f *fakeAdapter) CreatePaymentRequest(_ context.Context, req gateway.CreateRequest) (*gateway.Artifact, error) {
	args := f.Called(req)
	art, _ := args.Get(0).(*gateway.Artifact)
	return art, args.Error(1)
}

func (f *fakeAdapter) VerifyCallback(raw signature.Fields) gateway.CallbackResult {
	if raw["sig"] != "ok" {
		return gateway.CallbackResult{Reason: "signature mismatch", Fields: raw}
	}
	amount, _ := decimal.NewFromString(raw["amount"])
	return gateway.CallbackResult{
		Valid:         true,
		Reference:     raw["ref"],
		TransactionID: raw["txn"],
		Amount:        amount,
		Outcome:       entity.PaymentStatus(raw["outcome"]),
		ProviderCode:  raw["outcome"],
		Fields:        raw,
	}
}

func (f *fakeAdapter) QueryStatus(_ context.Context, p *entity.Payment) (*gateway.RemoteStatus, error) {
	args := f.Called(p.ReferenceNumber)
	rs, _ := args.Get(0).(*gateway.RemoteStatus)
	return rs, args.Error(1)
}

func (f *fakeAdapter) Refund(_ context.Context, req gateway.RefundRequest) (*gateway.RefundResult, error) {
	args := f.Called(req.Payment.ReferenceNumber, req.Amount.String())
	rr, _ := args.Get(0).(*gateway.RefundResult)
	return rr, args.Error(1)
}

func (f *fakeAdapter) Acknowledge(kind gateway.AckKind) gateway.Ack {
	return gateway.Ack{Status: 200, Body: kind.String()}
}

func fakeCallback(ref string, outcome entity.PaymentStatus, txn string, amount int64) signature.Fields {
	return signature.Fields{
		"sig": "ok", "ref": ref, "outcome": string(outcome), "txn": txn,
		"amount": strconv.FormatInt(amount, 10),
	}
}

// countingOrders counts order writes and can be told to fail them.
type countingOrders struct {
	*repository.OrderRepository
	updates atomic.Int32
	fail    error
}

func (o *countingOrders) UpdatePaymentState(tx *gorm.DB, orderRef string, from, ps entity.PaymentStatus, os entity.OrderStatus) error {
	if o.fail != nil {
		return o.fail
	}
	o.updates.Add(1)
	return o.OrderRepository.UpdatePaymentState(tx, orderRef, from, ps, os)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []entity.PaymentEvent
}

func (r *recordingPublisher) Publish(_ context.Context, ev entity.PaymentEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingPublisher) Notify(ev entity.PaymentEvent) {}

func (r *recordingPublisher) all() []entity.PaymentEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]entity.PaymentEvent(nil), r.events...)
}

const (
	testMoMoPartner = "MOMOTEST"
	testZaloAppID   = "2553"
)

var testProviders = gateway.Providers{
	MoMo: gateway.MoMoConfig{
		PartnerCode: testMoMoPartner, AccessKey: "momo-access", SecretKey: "momo-secret",
		Endpoint: "http://127.0.0.1:1/momo",
	},
	ZaloPay: gateway.ZaloPayConfig{
		AppID: testZaloAppID, Key1: "zalo-key1", Key2: "zalo-key2",
		Endpoint: "http://127.0.0.1:1/zalo",
	},
}

// env is one service stack over a fresh database.
type env struct {
	db       *gorm.DB
	payments *repository.PaymentRepository
	orders   *countingOrders
	audit    *repository.AuditRepository
	engine   *signature.Engine
	fake     *fakeAdapter
	registry *gateway.Registry
	recon    *ReconciliationService
	events   *recordingPublisher
	order    *entity.Order
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := testutil.NewDB(t)
	e := &env{
		db:       db,
		payments: repository.NewPaymentRepository(db),
		orders:   &countingOrders{OrderRepository: repository.NewOrderRepository(db)},
		audit:    repository.NewAuditRepository(db),
		engine:   signature.NewEngine(testProviders.EngineKeys()),
		fake:     &fakeAdapter{},
		events:   &recordingPublisher{},
	}
	client := gateway.NewClient(time.Second)
	e.registry = gateway.NewRegistry(
		e.fake,
		gateway.NewMoMo(testProviders.MoMo, e.engine, client, zerolog.Nop()),
		gateway.NewZaloPay(testProviders.ZaloPay, e.engine, client, zerolog.Nop()),
		gateway.NewCOD(),
	)
	e.recon = NewReconciliationService(db, e.payments, e.orders, e.audit, e.registry, decimal.RequireFromString("0.01"), zerolog.Nop())
	e.recon.Events = e.events
	e.recon.Notifier = e.events
	e.order = testutil.SeedOrder(t, db, "O1", 100000)
	return e
}

func (e *env) pending(t *testing.T, method entity.PaymentMethod, ref string) *entity.Payment {
	t.Helper()
	p, err := e.recon.CreatePending(context.Background(), e.order, method, e.order.Total, ref, CallMeta{Actor: "user:1"})
	require.NoError(t, err)
	return p
}

func (e *env) reload(t *testing.T, id uuid.UUID) *entity.Payment {
	t.Helper()
	p, err := e.payments.GetByID(context.Background(), id)
	require.NoError(t, err)
	return p
}

func (e *env) reloadOrder(t *testing.T) *entity.Order {
	t.Helper()
	o, err := e.orders.Get(context.Background(), e.order.OrderRef)
	require.NoError(t, err)
	return o
}

func (e *env) auditActions(t *testing.T) []string {
	t.Helper()
	var rows []entity.AuditLog
	require.NoError(t, e.db.Order("id ASC").Find(&rows).Error)
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Action)
	}
	return out
}

func (e *env) momoCallback(t *testing.T, ref, code, transID string, amount int64) signature.Fields {
	t.Helper()
	f := signature.Fields{
		"partnerCode":  testMoMoPartner,
		"orderId":      ref,
		"requestId":    ref,
		"amount":       strconv.FormatInt(amount, 10),
		"orderInfo":    "Thanh toan don hang O1",
		"orderType":    "momo_wallet",
		"transId":      transID,
		"resultCode":   code,
		"message":      "Successful.",
		"payType":      "qr",
		"responseTime": "1704085200000",
		"extraData":    "",
	}
	sig, err := e.engine.Sign(signature.MoMo, signature.OpCallback, f)
	require.NoError(t, err)
	f[signature.SignatureField(signature.MoMo, signature.OpCallback)] = sig
	return f
}

func (e *env) zaloCallback(t *testing.T, ref, code, zpTransID string, amount int64) signature.Fields {
	t.Helper()
	f := signature.Fields{
		"app_id":       testZaloAppID,
		"app_trans_id": ref,
		"zp_trans_id":  zpTransID,
		"app_user":     "1",
		"amount":       strconv.FormatInt(amount, 10),
		"app_time":     "1704085200000",
		"return_code":  code,
	}
	sig, err := e.engine.Sign(signature.ZaloPay, signature.OpCallback, f)
	require.NoError(t, err)
	f[signature.SignatureField(signature.ZaloPay, signature.OpCallback)] = sig
	return f
}

func ackJSON(t *testing.T, a gateway.Ack) map[string]any {
	t.Helper()
	b, err := json.Marshal(a.Body)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(b, &out))
	return out
}
