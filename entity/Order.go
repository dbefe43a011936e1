package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order is the local mirror of the order subsystem's record. Only the payment
// fields are written from here.
type Order struct {
	ID       uint            `gorm:"primaryKey" json:"id"`
	OrderRef string          `gorm:"size:64;uniqueIndex;not null" json:"orderRef"`
	UserID   uint            `json:"userId"`
	Total    decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"total"`

	PaymentStatus PaymentStatus `gorm:"size:16;not null;default:PENDING" json:"paymentStatus"`
	Status        OrderStatus   `gorm:"size:16;not null;default:PENDING" json:"status"`

	// preload เฉพาะ endpoint ที่ต้องการ
	Payments []Payment `json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
