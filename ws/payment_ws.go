package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"paygate/entity"
	"paygate/pkg/payerr"
	"paygate/pkg/resp"
	"paygate/utils"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// OrderLookup is what the hub needs to authorise a subscriber.
type OrderLookup interface {
	Get(ctx context.Context, orderRef string) (*entity.Order, error)
}

// PaymentHub คือศูนย์กลางส่งสถานะการชำระเงินให้ client ที่เปิดหน้าออเดอร์อยู่
type PaymentHub struct {
	clients    map[string]map[*websocket.Conn]bool // orderRef -> set of clients
	broadcast  chan entity.PaymentEvent
	register   chan Subscription
	unregister chan Subscription
	done       chan struct{}
	mu         sync.Mutex
	orders     OrderLookup
	log        zerolog.Logger
}

// Subscription = client หนึ่ง connection ที่ติดตามออเดอร์หนึ่ง
type Subscription struct {
	Conn     *websocket.Conn
	OrderRef string
	UserID   uint
}

const writeWait = 5 * time.Second

func NewPaymentHub(orders OrderLookup, logger zerolog.Logger) *PaymentHub {
	return &PaymentHub{
		clients:    make(map[string]map[*websocket.Conn]bool),
		broadcast:  make(chan entity.PaymentEvent, 64),
		register:   make(chan Subscription),
		unregister: make(chan Subscription),
		done:       make(chan struct{}),
		orders:     orders,
		log:        logger.With().Str("component", "ws").Logger(),
	}
}

// Run คอยฟัง register/unregister/broadcast จนกว่า ctx จะถูกยกเลิก
func (h *PaymentHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for ref, conns := range h.clients {
				for conn := range conns {
					conn.Close()
				}
				delete(h.clients, ref)
			}
			h.mu.Unlock()
			return

		case sub := <-h.register:
			h.mu.Lock()
			if h.clients[sub.OrderRef] == nil {
				h.clients[sub.OrderRef] = make(map[*websocket.Conn]bool)
			}
			h.clients[sub.OrderRef][sub.Conn] = true
			h.mu.Unlock()

		case sub := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[sub.OrderRef][sub.Conn]; ok {
				delete(h.clients[sub.OrderRef], sub.Conn)
				sub.Conn.Close()
			}
			if len(h.clients[sub.OrderRef]) == 0 {
				delete(h.clients, sub.OrderRef)
			}
			h.mu.Unlock()

		case ev := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients[ev.OrderRef] {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(ev); err != nil {
					h.log.Debug().Err(err).Str("order", ev.OrderRef).Msg("ws write failed")
					conn.Close()
					delete(h.clients[ev.OrderRef], conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Notify queues ev for the order's subscribers. It never blocks; when the
// queue is full the event is dropped and clients catch up on reconnect.
func (h *PaymentHub) Notify(ev entity.PaymentEvent) {
	select {
	case h.broadcast <- ev:
	default:
		h.log.Warn().Str("order", ev.OrderRef).Str("type", ev.Type).Msg("ws queue full, event dropped")
	}
}

// Subscribers counts open connections for orderRef.
func (h *PaymentHub) Subscribers(orderRef string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[orderRef])
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WS route: /ws/payments/:orderRef
func (h *PaymentHub) HandleWebSocket(c *gin.Context) {
	orderRef := c.Param("orderRef")
	userID := utils.CurrentUserID(c)
	role := utils.CurrentRole(c)

	// --- ตรวจสอบว่าออเดอร์มีจริงไหม
	order, err := h.orders.Get(c.Request.Context(), orderRef)
	if err != nil {
		if errors.Is(err, payerr.ErrOrderNotFound) {
			resp.Error(c, err)
			return
		}
		resp.Error(c, payerr.Internal("load order", err))
		return
	}

	// --- เจ้าของออเดอร์ หรือ staff/admin เท่านั้น
	if order.UserID != userID && role != utils.RoleStaff && role != utils.RoleAdmin {
		resp.Forbidden(c, "no access")
		return
	}

	// --- Upgrade HTTP → WebSocket
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("ws upgrade failed")
		return
	}

	// ส่งสถานะปัจจุบันก่อน แล้วค่อยสมัครรับ event
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(entity.PaymentEvent{
		Type:       "order.snapshot",
		OrderRef:   order.OrderRef,
		Status:     order.PaymentStatus,
		Amount:     order.Total,
		OccurredAt: time.Now().UTC(),
	}); err != nil {
		conn.Close()
		return
	}

	sub := Subscription{Conn: conn, OrderRef: order.OrderRef, UserID: userID}
	select {
	case h.register <- sub:
	case <-h.done:
		conn.Close()
		return
	}

	go h.listen(sub)
}

// listen drains client frames so close and ping are processed; clients do
// not send anything meaningful.
func (h *PaymentHub) listen(sub Subscription) {
	defer func() {
		select {
		case h.unregister <- sub:
		case <-h.done:
		}
	}()
	for {
		if _, _, err := sub.Conn.ReadMessage(); err != nil {
			return
		}
	}
}
