package repository

import (
	"context"
	"errors"
	"fmt"

	"paygate/entity"
	"paygate/pkg/payerr"

	"gorm.io/gorm"
)

// OrderRepository is the gorm-backed order store. Orders belong to the order
// subsystem; only the payment fields are written from here.
type OrderRepository struct {
	DB *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{DB: db}
}

func (r *OrderRepository) Create(tx *gorm.DB, o *entity.Order) error {
	return tx.Create(o).Error
}

func (r *OrderRepository) Get(ctx context.Context, orderRef string) (*entity.Order, error) {
	var o entity.Order
	if err := r.DB.WithContext(ctx).Where("order_ref = ?", orderRef).First(&o).Error; err != nil {
		return nil, notFound(err, payerr.ErrOrderNotFound)
	}
	return &o, nil
}

func (r *OrderRepository) GetTx(tx *gorm.DB, orderRef string) (*entity.Order, error) {
	var o entity.Order
	if err := tx.Where("order_ref = ?", orderRef).First(&o).Error; err != nil {
		return nil, notFound(err, payerr.ErrOrderNotFound)
	}
	return &o, nil
}

var errOrderNotUpdated = errors.New("invalid_or_conflict")

// UpdatePaymentState writes the order's payment status (and order status, when
// given) inside the caller's transaction, guarded on the payment status the
// caller read. Anything other than exactly one row is an error so the payment
// write rolls back with it.
func (r *OrderRepository) UpdatePaymentState(tx *gorm.DB, orderRef string, from, ps entity.PaymentStatus, os entity.OrderStatus) error {
	updates := map[string]any{"payment_status": ps}
	if os != "" {
		updates["status"] = os
	}
	res := tx.Model(&entity.Order{}).
		Where("order_ref = ? AND payment_status = ?", orderRef, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return fmt.Errorf("order %s: %w (%d rows)", orderRef, errOrderNotUpdated, res.RowsAffected)
	}
	return nil
}
