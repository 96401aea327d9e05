package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/phk-shop/internal/infrastructure/store"
	"github.com/example/phk-shop/internal/models"
)

// GetOrder returns one order by reference. Only its owner or an admin may
// read it.
func (s *Service) GetOrder(ctx context.Context, userID string, admin bool, reference string) (*Details, error) {
	var d *Details
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		o, err := tx.GetOrderByReference(ctx, reference)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrOrderNotFound, reference)
		}
		if err != nil {
			return err
		}
		if !admin && o.UserID != userID {
			return ErrForbidden
		}
		d, err = loadDetails(ctx, tx, o)
		return err
	})
	if err != nil {
		return nil, persistence(err)
	}
	return d, nil
}

// ListOrders returns the user's orders, newest first.
func (s *Service) ListOrders(ctx context.Context, userID string) ([]Details, error) {
	return s.list(ctx, func(tx store.Tx) ([]models.Order, error) {
		return tx.ListOrdersByUser(ctx, userID)
	})
}

// ListAllOrders is the admin view over every order, newest first.
func (s *Service) ListAllOrders(ctx context.Context) ([]Details, error) {
	return s.list(ctx, func(tx store.Tx) ([]models.Order, error) {
		return tx.ListOrders(ctx)
	})
}

func (s *Service) list(ctx context.Context, query func(tx store.Tx) ([]models.Order, error)) ([]Details, error) {
	var out []Details
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		orders, err := query(tx)
		if err != nil {
			return err
		}
		out = make([]Details, 0, len(orders))
		for i := range orders {
			d, err := loadDetails(ctx, tx, &orders[i])
			if err != nil {
				return err
			}
			out = append(out, *d)
		}
		return nil
	})
	if err != nil {
		return nil, persistence(err)
	}
	return out, nil
}

func loadDetails(ctx context.Context, tx store.Tx, o *models.Order) (*Details, error) {
	items, err := tx.ListOrderItems(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	p, err := tx.GetPaymentByReference(ctx, o.Reference)
	if err != nil {
		return nil, err
	}
	addr, err := tx.GetAddress(ctx, o.AddressID)
	if err != nil {
		return nil, err
	}
	return &Details{Order: o, Items: items, Payment: p, Address: addr}, nil
}
