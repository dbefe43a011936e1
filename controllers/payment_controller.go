package controllers

import (
	"context"
	"errors"
	"io"

	"paygate/entity"
	"paygate/pkg/payerr"
	"paygate/pkg/resp"
	"paygate/repository"
	"paygate/services"
	"paygate/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentController struct {
	Payments *repository.PaymentRepository
	Orders   services.OrderStore
	Recon    *services.ReconciliationService
	Requests *services.PaymentRequestService
	Refunds  *services.RefundService
}

func NewPaymentController(payments *repository.PaymentRepository, orders services.OrderStore, recon *services.ReconciliationService, requests *services.PaymentRequestService, refunds *services.RefundService) *PaymentController {
	return &PaymentController{Payments: payments, Orders: orders, Recon: recon, Requests: requests, Refunds: refunds}
}

func callMeta(c *gin.Context) services.CallMeta {
	return services.CallMeta{Actor: utils.CurrentActor(c), IP: c.ClientIP(), UserAgent: c.Request.UserAgent()}
}

// ===== Initiate =====

type processPaymentReq struct {
	OrderID       string          `json:"orderId"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"paymentMethod"`
	OrderInfo     string          `json:"orderInfo"`
	BankCode      string          `json:"bankCode"`
	Locale        string          `json:"locale"`
}

// POST /api/payments/process
func (pc *PaymentController) Process(c *gin.Context) {
	var req processPaymentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		resp.BadRequest(c, "invalid request body")
		return
	}
	// ลูกค้าจ่ายได้เฉพาะออเดอร์ของตัวเอง (ออเดอร์ไม่มีจริงให้ service ตอบ)
	if req.OrderID != "" && !pc.mayAccess(c, req.OrderID) {
		return
	}

	res, err := pc.Requests.Initiate(c.Request.Context(), services.InitiateRequest{
		OrderRef:      req.OrderID,
		Amount:        req.Amount,
		PaymentMethod: req.PaymentMethod,
		OrderInfo:     req.OrderInfo,
		BankCode:      req.BankCode,
		Locale:        req.Locale,
		UserID:        utils.CurrentUserID(c),
		Meta:          callMeta(c),
	})
	if err != nil {
		resp.Error(c, err)
		return
	}
	if res.Resumed {
		resp.OK(c, res)
		return
	}
	resp.Created(c, res)
}

// ===== Read =====

// GET /api/payments/:id
func (pc *PaymentController) Detail(c *gin.Context) {
	p, ok := pc.loadPayment(c)
	if !ok {
		return
	}
	resp.OK(c, p)
}

// GET /api/payments/order/:orderRef
func (pc *PaymentController) ListForOrder(c *gin.Context) {
	ref := c.Param("orderRef")
	if !pc.mayAccess(c, ref) {
		return
	}
	list, err := pc.Payments.ListByOrderRef(c.Request.Context(), ref)
	if err != nil {
		resp.Error(c, payerr.Internal("list payments", err))
		return
	}
	resp.OK(c, list)
}

// GET /api/payments/:id/status: ถามสถานะจาก provider อย่างเดียว ไม่เขียน DB
func (pc *PaymentController) Status(c *gin.Context) {
	p, ok := pc.loadPayment(c)
	if !ok {
		return
	}
	_, remote, err := pc.Recon.QueryStatus(c.Request.Context(), p.ID)
	if err != nil {
		resp.Error(c, err)
		return
	}
	resp.OK(c, gin.H{"payment": p, "remote": remote})
}

// ===== Staff / admin =====

// POST /api/payments/:id/reconcile
func (pc *PaymentController) Reconcile(c *gin.Context) {
	id, ok := paymentID(c)
	if !ok {
		return
	}
	res, err := pc.Recon.Reconcile(c.Request.Context(), id, callMeta(c))
	if err != nil {
		resp.Error(c, err)
		return
	}
	resp.OK(c, res)
}

type refundReq struct {
	Amount *decimal.Decimal `json:"amount"`
	Reason string           `json:"reason" binding:"max=255"`
}

// POST /api/payments/:id/refund
func (pc *PaymentController) Refund(c *gin.Context) {
	id, ok := paymentID(c)
	if !ok {
		return
	}
	var req refundReq
	if err := bindOptionalJSON(c, &req); err != nil {
		resp.BadRequest(c, "invalid request body")
		return
	}
	out, err := pc.Refunds.Refund(c.Request.Context(), services.RefundInput{
		PaymentID: id, Amount: req.Amount, Reason: req.Reason, Meta: callMeta(c),
	})
	if err != nil {
		resp.Error(c, err)
		return
	}
	resp.OK(c, out)
}

type codConfirmReq struct {
	Amount    *decimal.Decimal `json:"amount"`
	ReceiptNo string           `json:"receiptNo" binding:"max=64"`
	Failed    bool             `json:"failed"`
}

// POST /api/payments/:id/cod/confirm
func (pc *PaymentController) ConfirmCOD(c *gin.Context) {
	id, ok := paymentID(c)
	if !ok {
		return
	}
	var req codConfirmReq
	if err := bindOptionalJSON(c, &req); err != nil {
		resp.BadRequest(c, "invalid request body")
		return
	}
	oc, err := pc.Recon.ConfirmCOD(c.Request.Context(), id, services.CODConfirmation{
		Amount: req.Amount, ReceiptNo: req.ReceiptNo, Failed: req.Failed,
	}, callMeta(c))
	if err != nil {
		resp.Error(c, err)
		return
	}
	resp.OK(c, gin.H{"result": oc.Kind.String(), "payment": oc.Payment})
}

// ===== helpers =====

// bindOptionalJSON accepts an empty body.
func bindOptionalJSON(c *gin.Context, dst any) error {
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func paymentID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		resp.BadRequest(c, "invalid payment id")
		return uuid.Nil, false
	}
	return id, true
}

func (pc *PaymentController) loadPayment(c *gin.Context) (*entity.Payment, bool) {
	id, ok := paymentID(c)
	if !ok {
		return nil, false
	}
	p, err := pc.Payments.GetByID(c.Request.Context(), id)
	if err != nil {
		resp.Error(c, err)
		return nil, false
	}
	if !pc.mayAccess(c, p.OrderRef) {
		return nil, false
	}
	return p, true
}

// mayAccess: staff/admin ดูได้ทุกออเดอร์, user ดูได้เฉพาะของตัวเอง
func (pc *PaymentController) mayAccess(c *gin.Context, orderRef string) bool {
	switch utils.CurrentRole(c) {
	case utils.RoleStaff, utils.RoleAdmin:
		return true
	}
	owner, err := pc.orderOwner(c.Request.Context(), orderRef)
	if errors.Is(err, payerr.ErrOrderNotFound) {
		// ให้ขั้นถัดไปตอบ not found เอง
		return true
	}
	if err != nil {
		resp.Error(c, payerr.Internal("load order", err))
		return false
	}
	if owner != utils.CurrentUserID(c) {
		resp.Forbidden(c, "not your order")
		return false
	}
	return true
}

func (pc *PaymentController) orderOwner(ctx context.Context, orderRef string) (uint, error) {
	o, err := pc.Orders.Get(ctx, orderRef)
	if err != nil {
		return 0, err
	}
	return o.UserID, nil
}
