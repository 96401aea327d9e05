package catalog

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/phk-shop/internal/infrastructure/store"
)

// cleanupStep removes one relation that depends on a product.
type cleanupStep struct {
	name string
	run  func(ctx context.Context, tx store.Tx, productID string) error
}

// productCascade lists every relation removed with a product, dependents
// first. Order items are snapshots and are intentionally absent.
var productCascade = []cleanupStep{
	{"cart items", func(ctx context.Context, tx store.Tx, id string) error {
		return tx.DeleteCartItemsByProduct(ctx, id)
	}},
	{"variations", func(ctx context.Context, tx store.Tx, id string) error {
		return tx.DeleteVariations(ctx, id)
	}},
	{"product", func(ctx context.Context, tx store.Tx, id string) error {
		return tx.DeleteProduct(ctx, id)
	}},
}

// DeleteProduct runs the whole cascade in one unit of work.
func (s *Service) DeleteProduct(ctx context.Context, productID string) error {
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetProduct(ctx, productID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrProductNotFound
			}
			return err
		}
		for _, step := range productCascade {
			if err := step.run(ctx, tx, productID); err != nil {
				return fmt.Errorf("delete %s: %w", step.name, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Info("product deleted", zap.String("product_id", productID), zap.Int("steps", len(productCascade)))
	return nil
}
