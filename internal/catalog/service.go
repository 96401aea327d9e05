package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/phk-shop/internal/infrastructure/store"
	"github.com/example/phk-shop/internal/models"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrInvalidProduct  = errors.New("invalid product")
)

type Service struct {
	store store.Store
	log   *zap.Logger
}

func NewService(st store.Store, log *zap.Logger) *Service {
	return &Service{store: st, log: log.Named("catalog")}
}

func (s *Service) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	var product *models.Product
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		p, err := tx.GetProduct(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return ErrProductNotFound
		}
		product = p
		return err
	})
	return product, err
}

// SaveProduct creates or replaces a product and its variations.
func (s *Service) SaveProduct(ctx context.Context, p *models.Product) (*models.Product, error) {
	if p.Kind == "" && p.Specs != nil {
		p.Kind = p.Specs.Kind()
	}
	if err := validate(p); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.Kind == "" {
		p.Kind = models.KindGeneric
	}
	if p.Specs == nil {
		p.Specs = models.GenericSpecs{}
	}

	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.DeleteVariations(ctx, p.ID); err != nil {
			return err
		}
		return tx.SaveProduct(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("product saved", zap.String("product_id", p.ID), zap.String("kind", string(p.Kind)))
	return p, nil
}

func validate(p *models.Product) error {
	var problems []string
	if strings.TrimSpace(p.Name) == "" {
		problems = append(problems, "name is required")
	}
	if p.Price.LessThan(decimal.Zero) {
		problems = append(problems, "price must not be negative")
	}
	if p.Specs != nil && p.Kind != "" && p.Specs.Kind() != p.Kind {
		problems = append(problems, fmt.Sprintf("specs of kind %s do not match product kind %s", p.Specs.Kind(), p.Kind))
	}
	seen := map[string]bool{}
	for _, v := range p.Variations {
		if v.Name == "" {
			problems = append(problems, "variation name is required")
		}
		if seen[v.Name] {
			problems = append(problems, "duplicate variation "+v.Name)
		}
		seen[v.Name] = true
		if v.Price.LessThan(decimal.Zero) {
			problems = append(problems, "variation price must not be negative")
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidProduct, strings.Join(problems, "; "))
	}
	return nil
}
