package controllers

import (
	"io"
	"mime"
	"net/http"

	"paygate/entity"
	"paygate/pkg/resp"
	"paygate/pkg/signature"
	"paygate/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// maxCallbackBody กันคนยิง body ใหญ่เข้ามาที่ endpoint สาธารณะ
const maxCallbackBody = 64 << 10

// CallbackController receives provider notifications. These routes are
// public; authenticity comes from the provider signature only.
type CallbackController struct {
	Recon *services.ReconciliationService
	Log   zerolog.Logger
}

func NewCallbackController(recon *services.ReconciliationService, logger zerolog.Logger) *CallbackController {
	return &CallbackController{Recon: recon, Log: logger.With().Str("component", "callback").Logger()}
}

// GET|POST /api/payments/vnpay-ipn (query string, or form on POST)
func (cc *CallbackController) VNPay(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxCallbackBody)
	if err := c.Request.ParseForm(); err != nil {
		cc.Log.Warn().Err(err).Msg("vnpay ipn: unreadable form")
	}
	cc.handle(c, entity.MethodVNPay, signature.FromValues(c.Request.Form))
}

// POST /api/payments/momo-ipn (JSON)
func (cc *CallbackController) MoMo(c *gin.Context) {
	cc.handle(c, entity.MethodMoMo, cc.readJSON(c))
}

// POST /api/payments/zalopay-callback (JSON or form)
func (cc *CallbackController) ZaloPay(c *gin.Context) {
	ct, _, _ := mime.ParseMediaType(c.GetHeader("Content-Type"))
	if ct == "application/json" {
		cc.handle(c, entity.MethodZaloPay, cc.readJSON(c))
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxCallbackBody)
	if err := c.Request.ParseForm(); err != nil {
		cc.Log.Warn().Err(err).Msg("zalopay callback: unreadable form")
	}
	cc.handle(c, entity.MethodZaloPay, signature.FromValues(c.Request.PostForm))
}

// readJSON never fails the request: an unreadable body becomes an empty
// payload, which verification then rejects with the provider's own ack.
func (cc *CallbackController) readJSON(c *gin.Context) signature.Fields {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil {
		cc.Log.Warn().Err(err).Msg("callback: read body")
		return signature.Fields{}
	}
	f, err := signature.FromJSON(body)
	if err != nil {
		cc.Log.Warn().Err(err).Msg("callback: body is not a JSON object")
		return signature.Fields{}
	}
	return f
}

func (cc *CallbackController) handle(c *gin.Context, method entity.PaymentMethod, raw signature.Fields) {
	meta := services.CallMeta{IP: c.ClientIP(), UserAgent: c.Request.UserAgent()}
	oc, err := cc.Recon.ProcessCallback(c.Request.Context(), method, raw, meta)
	if oc == nil {
		// provider not configured here
		resp.Error(c, err)
		return
	}
	if err != nil {
		_ = c.Error(err)
	}
	c.JSON(oc.Ack.Status, oc.Ack.Body)
}
