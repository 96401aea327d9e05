package cart

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/phk-shop/internal/catalog"
	"github.com/example/phk-shop/internal/infrastructure/store"
	"github.com/example/phk-shop/internal/models"
)

// BaseVariation keys the base product in Contents.
const BaseVariation = "base"

var (
	ErrInvalidQuantity   = errors.New("quantity must be a positive integer")
	ErrVariationNotFound = errors.New("variation not found")
	ErrItemNotFound      = errors.New("item not in cart")
)

// Line is a cart item priced against the current catalog.
type Line struct {
	models.CartItem
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type View struct {
	UserID string          `json:"user_id"`
	Cart   *models.Cart    `json:"cart,omitempty"`
	Items  []Line          `json:"items"`
	Total  decimal.Decimal `json:"total"`
}

// Entry is one (product, variation) slot of Contents.
type Entry struct {
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type Service struct {
	store store.Store
	log   *zap.Logger
	now   func() time.Time
}

func NewService(st store.Store, log *zap.Logger) *Service {
	return &Service{
		store: st,
		log:   log.Named("cart"),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func ValidateQuantity(quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidQuantity, quantity)
	}
	return nil
}

// ParseQuantity accepts only base-10 integers, so "1.5" and "" are rejected.
func ParseQuantity(raw string) (int, error) {
	q, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidQuantity, raw)
	}
	return q, ValidateQuantity(q)
}

// Price computes the effective unit price of every item from the catalog.
func Price(ctx context.Context, products store.CatalogRepository, items []models.CartItem) ([]Line, decimal.Decimal, error) {
	total := decimal.Zero
	lines := make([]Line, 0, len(items))
	for _, it := range items {
		p, err := products.GetProduct(ctx, it.ProductID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, decimal.Zero, fmt.Errorf("%w: %s", catalog.ErrProductNotFound, it.ProductID)
			}
			return nil, decimal.Zero, err
		}
		unit := it.UnitPrice(p.Price)
		line := Line{
			CartItem:  it,
			Name:      p.Name,
			UnitPrice: unit,
			LineTotal: unit.Mul(decimal.NewFromInt(int64(it.Quantity))),
		}
		total = total.Add(line.LineTotal)
		lines = append(lines, line)
	}
	return lines, total, nil
}

func (s *Service) getOrCreate(ctx context.Context, tx store.Tx, userID string) (*models.Cart, error) {
	c, err := tx.GetCart(ctx, userID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	now := s.now()
	c = &models.Cart{ID: uuid.NewString(), UserID: userID, CreatedAt: now, UpdatedAt: now}
	if err := tx.CreateCart(ctx, c); err != nil {
		return nil, err
	}
	s.log.Debug("cart created", zap.String("user_id", userID), zap.String("cart_id", c.ID))
	return c, nil
}

func (s *Service) GetOrCreate(ctx context.Context, userID string) (*models.Cart, error) {
	var c *models.Cart
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		c, err = s.getOrCreate(ctx, tx, userID)
		return err
	})
	return c, err
}

// AddItem adds quantity of a product, incrementing an existing line for the
// same variation.
func (s *Service) AddItem(ctx context.Context, userID, productID string, quantity int, variation string) (*models.CartItem, error) {
	if err := ValidateQuantity(quantity); err != nil {
		return nil, err
	}

	var item *models.CartItem
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		product, err := tx.GetProduct(ctx, productID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", catalog.ErrProductNotFound, productID)
		}
		if err != nil {
			return err
		}

		var price *decimal.Decimal
		if variation != "" {
			v, ok := product.Variation(variation)
			if !ok {
				return fmt.Errorf("%w: %s/%s", ErrVariationNotFound, productID, variation)
			}
			price = &v.Price
		}

		c, err := s.getOrCreate(ctx, tx, userID)
		if err != nil {
			return err
		}

		now := s.now()
		existing, err := tx.GetCartItem(ctx, c.ID, productID, variation)
		switch {
		case err == nil:
			existing.Quantity += quantity
			existing.UpdatedAt = now
			item = existing
		case errors.Is(err, store.ErrNotFound):
			item = &models.CartItem{
				ID:             uuid.NewString(),
				CartID:         c.ID,
				ProductID:      productID,
				Quantity:       quantity,
				Variation:      variation,
				VariationPrice: price,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
		default:
			return err
		}

		if err := tx.SaveCartItem(ctx, item); err != nil {
			return err
		}
		return tx.TouchCart(ctx, c.ID)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// UpdateQuantity sets the quantity of an existing line.
func (s *Service) UpdateQuantity(ctx context.Context, userID, productID, variation string, quantity int) (*models.CartItem, error) {
	if err := ValidateQuantity(quantity); err != nil {
		return nil, err
	}

	var item *models.CartItem
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		found, err := s.findItem(ctx, tx, userID, productID, variation)
		if err != nil {
			return err
		}
		found.Quantity = quantity
		found.UpdatedAt = s.now()
		if err := tx.SaveCartItem(ctx, found); err != nil {
			return err
		}
		item = found
		return tx.TouchCart(ctx, found.CartID)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// RemoveItem deletes one line, and the cart with it when it was the last.
func (s *Service) RemoveItem(ctx context.Context, userID, productID, variation string) error {
	return s.store.WithTx(ctx, func(tx store.Tx) error {
		item, err := s.findItem(ctx, tx, userID, productID, variation)
		if err != nil {
			return err
		}
		if err := tx.DeleteCartItem(ctx, item.ID); err != nil {
			return err
		}
		remaining, err := tx.ListCartItems(ctx, item.CartID)
		if err != nil {
			return err
		}
		if len(remaining) == 0 {
			return tx.DeleteCart(ctx, item.CartID)
		}
		return tx.TouchCart(ctx, item.CartID)
	})
}

func (s *Service) findItem(ctx context.Context, tx store.Tx, userID, productID, variation string) (*models.CartItem, error) {
	c, err := tx.GetCart(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, err
	}
	item, err := tx.GetCartItem(ctx, c.ID, productID, variation)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrItemNotFound
	}
	return item, err
}

// Clear removes the cart and all its items. Clearing a missing cart is a no-op.
func (s *Service) Clear(ctx context.Context, userID string) error {
	return s.store.WithTx(ctx, func(tx store.Tx) error {
		c, err := tx.GetCart(ctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.DeleteCartItems(ctx, c.ID); err != nil {
			return err
		}
		return tx.DeleteCart(ctx, c.ID)
	})
}

// Get returns the priced cart. A user without a cart gets an empty view.
func (s *Service) Get(ctx context.Context, userID string) (*View, error) {
	view := &View{UserID: userID, Items: []Line{}, Total: decimal.Zero}
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		c, err := tx.GetCart(ctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		items, err := tx.ListCartItems(ctx, c.ID)
		if err != nil {
			return err
		}
		lines, total, err := Price(ctx, tx, items)
		if err != nil {
			return err
		}
		view.Cart, view.Items, view.Total = c, lines, total
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// Total is advisory display data: any failure yields zero.
func (s *Service) Total(ctx context.Context, userID string) decimal.Decimal {
	view, err := s.Get(ctx, userID)
	if err != nil {
		s.log.Warn("cart total unavailable", zap.String("user_id", userID), zap.Error(err))
		return decimal.Zero
	}
	return view.Total
}

// Contents maps product id to variation key to quantity and unit price.
func (s *Service) Contents(ctx context.Context, userID string) (map[string]map[string]Entry, error) {
	view, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string]Entry, len(view.Items))
	for _, line := range view.Items {
		key := line.Variation
		if key == "" {
			key = BaseVariation
		}
		if out[line.ProductID] == nil {
			out[line.ProductID] = map[string]Entry{}
		}
		out[line.ProductID][key] = Entry{Quantity: line.Quantity, UnitPrice: line.UnitPrice}
	}
	return out, nil
}
