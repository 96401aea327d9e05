// Package notification stores in-app messages for users and runs the
// queued email consumer.
package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/phk-shop/internal/infrastructure/store"
	"github.com/example/phk-shop/internal/models"
)

var ErrNotFound = errors.New("notification not found")

// Sink persists user-facing messages.
type Sink struct {
	store store.Store
	log   *zap.Logger
	now   func() time.Time
}

func NewSink(st store.Store, log *zap.Logger) *Sink {
	return &Sink{
		store: st,
		log:   log.Named("notification"),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Notify records message for userID. Failures are logged, never returned.
func (s *Sink) Notify(ctx context.Context, userID, message string) {
	n := &models.Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Message:   message,
		CreatedAt: s.now(),
	}
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		return tx.CreateNotification(ctx, n)
	})
	if err != nil {
		s.log.Warn("failed to store notification",
			zap.String("user_id", userID), zap.String("message", message), zap.Error(err))
	}
}

// List returns the user's notifications, newest first.
func (s *Sink) List(ctx context.Context, userID string) ([]models.Notification, error) {
	var out []models.Notification
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.ListNotifications(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.Notification{}
	}
	return out, nil
}

func (s *Sink) MarkRead(ctx context.Context, userID, id string) error {
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		return tx.MarkNotificationRead(ctx, userID, id)
	})
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return err
}
