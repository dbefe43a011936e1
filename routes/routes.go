package routes

import (
	"paygate/controllers"
	"paygate/middlewares"
	"paygate/repository"
	"paygate/services"
	"paygate/utils"
	"paygate/ws"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Deps is everything the HTTP layer needs, built once in main.
type Deps struct {
	JWTSecret string
	Payments  *repository.PaymentRepository
	Orders    services.OrderStore
	Recon     *services.ReconciliationService
	Requests  *services.PaymentRequestService
	Refunds   *services.RefundService
	Hub       *ws.PaymentHub
	Limiter   middlewares.Limiter
	Log       zerolog.Logger
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	r.Use(middlewares.RequestLogger(d.Log))
	r.Use(middlewares.CORSMiddleware())
	r.GET("/health", func(c *gin.Context) { c.JSON(200, gin.H{"ok": true}) })

	// Controllers
	payCtrl := controllers.NewPaymentController(d.Payments, d.Orders, d.Recon, d.Requests, d.Refunds)
	cbCtrl := controllers.NewCallbackController(d.Recon, d.Log)

	auth := func(roles ...string) gin.HandlerFunc { return middlewares.AuthMiddleware(d.JWTSecret, roles...) }
	limit := func(scope string) gin.HandlerFunc { return middlewares.RateLimit(d.Limiter, scope, d.Log) }

	p := r.Group("/api/payments")

	// Provider callbacks (public, ตรวจด้วยลายเซ็นของ provider)
	{
		p.GET("/vnpay-ipn", cbCtrl.VNPay)
		p.POST("/vnpay-ipn", cbCtrl.VNPay)
		p.POST("/momo-ipn", cbCtrl.MoMo)
		p.POST("/zalopay-callback", cbCtrl.ZaloPay)
	}

	// Customer (ต้องล็อกอิน)
	u := p.Group("", auth())
	{
		u.POST("/process", limit("process"), payCtrl.Process)
		u.GET("/order/:orderRef", payCtrl.ListForOrder)
		u.GET("/:id", payCtrl.Detail)
		u.GET("/:id/status", payCtrl.Status)
	}

	// Staff / admin
	p.POST("/:id/reconcile", auth(utils.RoleStaff, utils.RoleAdmin), payCtrl.Reconcile)
	p.POST("/:id/cod/confirm", auth(utils.RoleStaff, utils.RoleAdmin), payCtrl.ConfirmCOD)
	p.POST("/:id/refund", auth(utils.RoleAdmin), limit("refund"), payCtrl.Refund)

	// Status feed
	if d.Hub != nil {
		r.GET("/ws/payments/:orderRef", middlewares.WSAuthMiddleware(d.JWTSecret), d.Hub.HandleWebSocket)
	}
}
