package order

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/phk-shop/internal/infrastructure/store"
	"github.com/example/phk-shop/internal/models"
)

// UpdateOrderStatus moves an order along the fulfilment workflow. Delivery
// also settles the payment, which is how cash-on-delivery orders get paid.
// Setting the current status again is a no-op.
func (s *Service) UpdateOrderStatus(ctx context.Context, orderID, newStatus, actorID string) (*models.Order, error) {
	log := s.log.With(zap.String("order_id", orderID), zap.String("actor_id", actorID))

	to, err := ParseStatus(newStatus)
	if err != nil {
		return nil, err
	}

	var (
		d       *Details
		from    models.OrderStatus
		changed bool
	)
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		o, err := tx.GetOrder(ctx, orderID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		if err != nil {
			return err
		}
		d = &Details{Order: o}
		from = o.Status
		if from == to {
			return nil
		}
		if !CanTransition(from, to) {
			return transitionError(from, to)
		}

		now := s.now()
		o.Status = to
		o.UpdatedAt = now
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		changed = true

		if d.Payment, err = tx.GetPaymentByReference(ctx, o.Reference); err != nil {
			return err
		}
		if to == models.OrderDelivered && d.Payment.Status != models.PaymentSuccess {
			d.Payment.Status = models.PaymentSuccess
			d.Payment.FailureReason = ""
			d.Payment.UpdatedAt = now
			if err := tx.UpdatePayment(ctx, d.Payment); err != nil {
				return err
			}
		}

		d.Address, err = tx.GetAddress(ctx, o.AddressID)
		return err
	})
	if err != nil {
		err = persistence(err)
		log.Info("status update rejected", zap.String("error_kind", Kind(err)), zap.Error(err))
		return nil, err
	}
	if !changed {
		return d.Order, nil
	}

	log.Info("order status changed",
		zap.String("order_reference", d.Order.Reference),
		zap.String("from", string(from)),
		zap.String("to", string(to)))

	s.notifier.Notify(ctx, d.Order.UserID, fmt.Sprintf("Your order %s is now %s.", d.Order.Reference, to))
	if to == models.OrderDelivered {
		s.sendPaymentReceipt(ctx, d)
	}
	s.sendShipmentUpdate(ctx, d, from)
	return d.Order, nil
}
