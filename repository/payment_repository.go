package repository

import (
	"context"
	"errors"

	"paygate/entity"
	"paygate/pkg/payerr"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PaymentRepository struct {
	DB *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{DB: db}
}

// สร้าง payment ใหม่ (PENDING). ชน unique index = มี attempt ค้างอยู่แล้ว
func (r *PaymentRepository) Create(tx *gorm.DB, p *entity.Payment) error {
	err := tx.Create(p).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return payerr.ErrPaymentInProgress
	}
	return err
}

func (r *PaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Payment, error) {
	var p entity.Payment
	if err := r.DB.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, notFound(err, payerr.ErrPaymentNotFound)
	}
	return &p, nil
}

// หา payment จาก reference ที่ส่งไปให้ provider
func (r *PaymentRepository) FindByReference(ctx context.Context, method entity.PaymentMethod, ref string) (*entity.Payment, error) {
	var p entity.Payment
	err := r.DB.WithContext(ctx).
		Where("payment_method = ? AND reference_number = ?", method, ref).
		First(&p).Error
	if err != nil {
		return nil, notFound(err, payerr.ErrPaymentNotFound)
	}
	return &p, nil
}

// attempt ที่ยัง PENDING ของ (order, method); มีได้ไม่เกิน 1
func (r *PaymentRepository) FindPending(ctx context.Context, orderID uint, method entity.PaymentMethod) (*entity.Payment, error) {
	var p entity.Payment
	err := r.DB.WithContext(ctx).
		Where("order_id = ? AND payment_method = ? AND status = ?", orderID, method, entity.PaymentPending).
		First(&p).Error
	if err != nil {
		return nil, notFound(err, payerr.ErrPaymentNotFound)
	}
	return &p, nil
}

func (r *PaymentRepository) ListByOrderRef(ctx context.Context, orderRef string) ([]entity.Payment, error) {
	var out []entity.Payment
	err := r.DB.WithContext(ctx).
		Where("order_ref = ?", orderRef).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

// TransitionGuard moves a payment from -> to only if it is still in from.
// Zero rows affected means another writer got there first.
func (r *PaymentRepository) TransitionGuard(tx *gorm.DB, id uuid.UUID, from, to entity.PaymentStatus, patch map[string]any) (int64, error) {
	updates := make(map[string]any, len(patch)+1)
	for k, v := range patch {
		updates[k] = v
	}
	updates["status"] = to
	res := tx.Model(&entity.Payment{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	return res.RowsAffected, res.Error
}

// CountPaid นับ payment อื่นของออเดอร์ที่ยัง PAID อยู่ (ใช้ใน transaction)
func (r *PaymentRepository) CountPaid(tx *gorm.DB, orderRef string, except uuid.UUID) (int64, error) {
	var n int64
	err := tx.Model(&entity.Payment{}).
		Where("order_ref = ? AND status = ? AND id <> ?", orderRef, entity.PaymentPaid, except).
		Count(&n).Error
	return n, err
}

func notFound(err, sentinel error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return err
}
