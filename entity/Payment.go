package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Payment struct {
	ID uuid.UUID `gorm:"type:varchar(36);primaryKey" json:"id"`

	OrderID  uint   `gorm:"not null;index" json:"orderId"`
	OrderRef string `gorm:"size:64;not null" json:"orderRef"`
	Order    Order  `json:"-"` // preload เมื่อจำเป็น

	PaymentMethod PaymentMethod   `gorm:"size:16;not null" json:"paymentMethod"`
	Amount        decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"amount"`
	Status        PaymentStatus   `gorm:"size:16;not null;index" json:"status"`

	TransactionID   string `gorm:"size:64" json:"transactionId,omitempty"`
	ReferenceNumber string `gorm:"size:64;uniqueIndex;not null" json:"referenceNumber"`

	// last verified provider payload, kept for audit
	GatewayData datatypes.JSON `json:"gatewayData,omitempty"`
	RefundData  datatypes.JSON `json:"refundData,omitempty"`

	PaidAt     *time.Time `json:"paidAt,omitempty"`
	RefundedAt *time.Time `json:"refundedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
