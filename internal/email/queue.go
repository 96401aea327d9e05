package email

import (
	"context"
	"fmt"
)

// Publisher is satisfied by kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// QueuedSender enqueues emails for the notifier process instead of talking
// to SMTP in the request path. Messages are keyed by order reference so all
// emails of one order land on the same partition.
type QueuedSender struct {
	pub Publisher
}

func NewQueuedSender(pub Publisher) *QueuedSender {
	return &QueuedSender{pub: pub}
}

func (q *QueuedSender) SendOrderConfirmation(ctx context.Context, m OrderConfirmation) error {
	return q.enqueue(ctx, m.Reference, Job{Kind: JobOrderConfirmation, OrderConfirmation: &m})
}

func (q *QueuedSender) SendPaymentReceipt(ctx context.Context, m PaymentReceipt) error {
	return q.enqueue(ctx, m.Reference, Job{Kind: JobPaymentReceipt, PaymentReceipt: &m})
}

func (q *QueuedSender) SendShipmentUpdate(ctx context.Context, m ShipmentUpdate) error {
	return q.enqueue(ctx, m.Reference, Job{Kind: JobShipmentUpdate, ShipmentUpdate: &m})
}

func (q *QueuedSender) enqueue(ctx context.Context, key string, job Job) error {
	if err := q.pub.Publish(ctx, key, job); err != nil {
		return fmt.Errorf("enqueue %s email: %w", job.Kind, err)
	}
	return nil
}
