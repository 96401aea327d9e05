package order

import (
	"fmt"

	"github.com/example/phk-shop/internal/models"
)

// validTransitions defines allowed state transitions. An unpaid order only
// reaches Order Placed through a payment result, see settles.
var validTransitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderPendingPayment: {models.OrderPaymentFailed, models.OrderCanceled},
	models.OrderPaymentFailed:  {models.OrderPendingPayment, models.OrderCanceled},
	models.OrderPlaced: {
		models.OrderPacking, models.OrderShipped, models.OrderOutForDelivery,
		models.OrderDelivered, models.OrderCanceled,
	},
	models.OrderPacking:        {models.OrderShipped, models.OrderOutForDelivery, models.OrderDelivered, models.OrderCanceled},
	models.OrderShipped:        {models.OrderOutForDelivery, models.OrderDelivered, models.OrderCanceled},
	models.OrderOutForDelivery: {models.OrderDelivered, models.OrderCanceled},
	models.OrderDelivered:      {}, // terminal state
	models.OrderCanceled:       {}, // terminal state
}

// CanTransition checks if an order in from may move to to
func CanTransition(from, to models.OrderStatus) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// settles reports whether a payment result may move an order from from to
// to. A confirmed payment places an order that is still waiting for one.
func settles(from, to models.OrderStatus) bool {
	if to == models.OrderPlaced {
		return from == models.OrderPendingPayment || from == models.OrderPaymentFailed
	}
	return CanTransition(from, to)
}

// ParseStatus validates a status string from the outside world.
func ParseStatus(raw string) (models.OrderStatus, error) {
	s := models.OrderStatus(raw)
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	return s, nil
}

func transitionError(from, to models.OrderStatus) error {
	if from.Terminal() {
		return fmt.Errorf("%w: order is already %s", ErrInvalidStatus, from)
	}
	return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidStatus, from, to)
}

// FormatReference renders sequence n as e.g. "PHK-001". Padding widens past
// three digits instead of truncating.
func FormatReference(prefix string, n int64) string {
	return fmt.Sprintf("%s-%03d", prefix, n)
}
