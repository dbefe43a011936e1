// services/payment_transitions.go
package services

import (
	"context"
	"errors"
	"fmt"

	"paygate/entity"
	"paygate/pkg/payerr"

	"gorm.io/gorm"
)

// errStaleStatus: the guarded update matched no row because the payment
// already left the expected status.
var errStaleStatus = errors.New("invalid_or_conflict")

// order side effects of each payment status
var orderEffects = map[entity.PaymentStatus]entity.OrderStatus{
	entity.PaymentPaid:     entity.OrderProcessing,
	entity.PaymentFailed:   "",
	entity.PaymentRefunded: "",
}

var transitionActions = map[entity.PaymentStatus]string{
	entity.PaymentPaid:     ActionPaymentPaid,
	entity.PaymentFailed:   ActionPaymentFailed,
	entity.PaymentRefunded: ActionPaymentRefunded,
}

// orderAccepts reports whether an order whose payment status is cur takes
// the payment outcome `to`. An order settled by one attempt is never moved
// by another attempt of the same order.
func orderAccepts(cur, to entity.PaymentStatus) bool {
	switch to {
	case entity.PaymentPaid, entity.PaymentFailed:
		return cur == entity.PaymentPending || cur == entity.PaymentFailed
	case entity.PaymentRefunded:
		return cur == entity.PaymentPaid
	}
	return false
}

// Transition is the only write path for payment status. It moves p from its
// current status to `to` iff the row still holds that status, and updates the
// order in the same transaction when the order accepts the outcome. A refused
// order write keeps the payment transition and is audited as an order
// conflict. Losing the race returns an error wrapping both ErrAlreadyTerminal
// and errStaleStatus; any persistence failure is ErrInternal and nothing is
// written.
func (s *ReconciliationService) Transition(ctx context.Context, p *entity.Payment, to entity.PaymentStatus, patch map[string]any, meta CallMeta) (*entity.Payment, error) {
	from := p.Status
	if !entity.CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", payerr.ErrIllegalTransition, from, to)
	}

	var orderStatus entity.PaymentStatus
	orderApplied := false
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		affected, err := s.Payments.TransitionGuard(tx, p.ID, from, to, patch)
		if err != nil {
			return err
		}
		if affected == 0 {
			return errStaleStatus
		}

		o, err := s.Orders.GetTx(tx, p.OrderRef)
		if err != nil {
			return err
		}
		orderStatus = o.PaymentStatus
		if !orderAccepts(o.PaymentStatus, to) {
			return nil
		}
		if to == entity.PaymentRefunded {
			// ออเดอร์ยังมี payment อื่นที่จ่ายแล้ว ไม่ถือว่าคืนเงินทั้งออเดอร์
			others, err := s.Payments.CountPaid(tx, p.OrderRef, p.ID)
			if err != nil {
				return err
			}
			if others > 0 {
				return nil
			}
		}
		orderApplied = true
		return s.Orders.UpdatePaymentState(tx, p.OrderRef, o.PaymentStatus, to, orderEffects[to])
	})
	if errors.Is(err, errStaleStatus) {
		return nil, fmt.Errorf("%w: %w", payerr.ErrAlreadyTerminal, errStaleStatus)
	}
	if err != nil {
		s.Log.Error().Err(err).
			Str("payment", p.ID.String()).
			Str("from", string(from)).
			Str("to", string(to)).
			Msg("payment transition rolled back")
		s.record(ctx, entity.AuditEntry{
			Actor: meta.Actor, Action: ActionTransitionIncomplete, Resource: resourcePayment, ResourceID: p.ID.String(),
			OldValue: from, NewValue: to, Context: meta.context(map[string]any{"error": err.Error()}),
		})
		return nil, payerr.Internal("payment transition", err)
	}

	updated, err := s.Payments.GetByID(ctx, p.ID)
	if err != nil {
		return nil, payerr.Internal("reload payment", err)
	}

	s.Log.Info().
		Str("payment", p.ID.String()).
		Str("order", p.OrderRef).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("payment transitioned")
	if !orderApplied {
		s.Log.Warn().
			Str("payment", p.ID.String()).
			Str("order", p.OrderRef).
			Str("orderPaymentStatus", string(orderStatus)).
			Str("to", string(to)).
			Msg("order keeps its payment status; settled by another attempt")
		s.record(ctx, entity.AuditEntry{
			Actor: meta.Actor, Action: ActionOrderConflict, Resource: resourcePayment, ResourceID: p.ID.String(),
			OldValue: map[string]any{"orderPaymentStatus": orderStatus},
			NewValue: map[string]any{"status": to},
			Context:  meta.context(map[string]any{"gateway": p.PaymentMethod, "orderRef": p.OrderRef}),
		})
	}
	s.record(ctx, entity.AuditEntry{
		Actor: meta.Actor, Action: transitionActions[to], Resource: resourcePayment, ResourceID: p.ID.String(),
		OldValue: map[string]any{"status": from, "transactionId": p.TransactionID},
		NewValue: map[string]any{"status": to, "transactionId": updated.TransactionID},
		Context:  meta.context(map[string]any{"gateway": p.PaymentMethod}),
	})

	ev := entity.NewPaymentEvent(updated, from, s.now().UTC())
	if err := s.Events.Publish(ctx, ev); err != nil {
		s.Log.Warn().Err(err).Str("payment", p.ID.String()).Msg("event publish failed")
	}
	s.Notifier.Notify(ev)
	return updated, nil
}
