package notification

import (
	"context"

	"go.uber.org/zap"

	"github.com/example/phk-shop/internal/email"
)

// Handler delivers queued emails consumed from Kafka.
type Handler struct {
	sender email.Sender
	log    *zap.Logger
}

// NewHandler creates a new notification handler
func NewHandler(sender email.Sender, log *zap.Logger) *Handler {
	return &Handler{sender: sender, log: log.Named("notifier")}
}

// HandleMessage processes one email job from Kafka. Undecodable messages are
// dropped; delivery errors are returned so the consumer logs them.
func (h *Handler) HandleMessage(ctx context.Context, key, value []byte) error {
	job, err := email.DecodeJob(value)
	if err != nil {
		h.log.Error("dropping malformed email job", zap.ByteString("key", key), zap.Error(err))
		return nil
	}

	if err := email.Deliver(ctx, h.sender, job); err != nil {
		h.log.Error("failed to deliver email",
			zap.String("kind", string(job.Kind)),
			zap.ByteString("order_reference", key),
			zap.Error(err))
		return err
	}

	h.log.Info("email delivered", zap.String("kind", string(job.Kind)), zap.ByteString("order_reference", key))
	return nil
}
