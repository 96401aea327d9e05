package cart

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/phk-shop/internal/catalog"
	"github.com/example/phk-shop/internal/infrastructure/store"
	"github.com/example/phk-shop/internal/models"
)

func newTestCartService(t *testing.T) (*Service, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	seedProducts(t, st,
		models.Product{ID: "prod-a", Name: "Redmi Note 13", Kind: models.KindPhone, Price: decimal.NewFromInt(500),
			Variations: []models.Variation{{Name: "256GB", Price: decimal.RequireFromString("650.50")}}},
		models.Product{ID: "prod-b", Name: "Charger", Price: decimal.RequireFromString("120.25")},
	)
	return NewService(st, zap.NewNop()), st
}

func seedProducts(t *testing.T, st store.Store, products ...models.Product) {
	t.Helper()
	require.NoError(t, st.WithTx(context.Background(), func(tx store.Tx) error {
		for i := range products {
			if err := tx.SaveProduct(context.Background(), &products[i]); err != nil {
				return err
			}
		}
		return nil
	}))
}

// ============================================
// Quantity validation
// ============================================

func TestParseQuantity(t *testing.T) {
	tests := []struct {
		raw     string
		want    int
		wantErr bool
	}{
		{"1", 1, false},
		{" 12 ", 12, false},
		{"0", 0, true},
		{"-3", -3, true},
		{"1.5", 0, true},
		{"two", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseQuantity(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidQuantity)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// ============================================
// AddItem
// ============================================

func TestService_AddItem_CreatesCartLazily(t *testing.T) {
	svc, _ := newTestCartService(t)
	ctx := context.Background()

	item, err := svc.AddItem(ctx, "user-1", "prod-a", 2, "")

	require.NoError(t, err)
	assert.Equal(t, 2, item.Quantity)
	assert.Nil(t, item.VariationPrice)

	view, err := svc.Get(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, view.Cart)
	require.Len(t, view.Items, 1)
	assert.Equal(t, "1000", view.Total.String())
}

func TestService_AddItem_IncrementsExistingLine(t *testing.T) {
	svc, _ := newTestCartService(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "user-1", "prod-a", 2, "")
	require.NoError(t, err)
	item, err := svc.AddItem(ctx, "user-1", "prod-a", 3, "")
	require.NoError(t, err)

	assert.Equal(t, 5, item.Quantity)
	view, err := svc.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, view.Items, 1)
}

func TestService_AddItem_VariationsAreSeparateLines(t *testing.T) {
	svc, _ := newTestCartService(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "user-1", "prod-a", 1, "")
	require.NoError(t, err)
	item, err := svc.AddItem(ctx, "user-1", "prod-a", 2, "256GB")
	require.NoError(t, err)

	require.NotNil(t, item.VariationPrice)
	assert.Equal(t, "650.5", item.VariationPrice.String())

	view, err := svc.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, view.Items, 2)
	// 500 + 2 * 650.50
	assert.Equal(t, "1801.00", view.Total.StringFixed(2))
}

func TestService_AddItem_Errors(t *testing.T) {
	svc, _ := newTestCartService(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "user-1", "prod-a", 0, "")
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.AddItem(ctx, "user-1", "prod-a", -1, "")
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.AddItem(ctx, "user-1", "prod-zzz", 1, "")
	assert.ErrorIs(t, err, catalog.ErrProductNotFound)

	_, err = svc.AddItem(ctx, "user-1", "prod-a", 1, "1TB")
	assert.ErrorIs(t, err, ErrVariationNotFound)

	view, err := svc.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Nil(t, view.Cart, "failed adds must not create a cart")
}

func TestService_AddItem_ConcurrentIncrementsAreNotLost(t *testing.T) {
	svc, _ := newTestCartService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.AddItem(ctx, "user-1", "prod-b", 1, "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	contents, err := svc.Contents(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 10, contents["prod-b"][BaseVariation].Quantity)
}

// ============================================
// UpdateQuantity / RemoveItem / Clear
// ============================================

func TestService_UpdateQuantity(t *testing.T) {
	svc, _ := newTestCartService(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "user-1", "prod-a", 2, "")
	require.NoError(t, err)

	item, err := svc.UpdateQuantity(ctx, "user-1", "prod-a", "", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, item.Quantity)

	_, err = svc.UpdateQuantity(ctx, "user-1", "prod-a", "", 0)
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.UpdateQuantity(ctx, "user-1", "prod-b", "", 1)
	assert.ErrorIs(t, err, ErrItemNotFound)

	_, err = svc.UpdateQuantity(ctx, "user-2", "prod-a", "", 1)
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestService_RemoveItem_LastItemDeletesCart(t *testing.T) {
	svc, st := newTestCartService(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "user-1", "prod-a", 1, "")
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, "user-1", "prod-b", 1, "")
	require.NoError(t, err)

	require.NoError(t, svc.RemoveItem(ctx, "user-1", "prod-a", ""))
	view, err := svc.Get(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, view.Cart)
	assert.Len(t, view.Items, 1)

	require.NoError(t, svc.RemoveItem(ctx, "user-1", "prod-b", ""))
	require.NoError(t, st.WithTx(ctx, func(tx store.Tx) error {
		_, err := tx.GetCart(ctx, "user-1")
		assert.ErrorIs(t, err, store.ErrNotFound)
		return nil
	}))

	assert.ErrorIs(t, svc.RemoveItem(ctx, "user-1", "prod-b", ""), ErrItemNotFound)
}

func TestService_Clear(t *testing.T) {
	svc, _ := newTestCartService(t)
	ctx := context.Background()

	require.NoError(t, svc.Clear(ctx, "nobody"))

	_, err := svc.AddItem(ctx, "user-1", "prod-a", 3, "")
	require.NoError(t, err)
	require.NoError(t, svc.Clear(ctx, "user-1"))

	view, err := svc.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Nil(t, view.Cart)
	assert.Empty(t, view.Items)
}

// ============================================
// Total
// ============================================

func TestService_Total_NoCartIsZero(t *testing.T) {
	svc, _ := newTestCartService(t)
	assert.True(t, svc.Total(context.Background(), "user-1").IsZero())
}

func TestService_Total_UsesVariationPriceOverBase(t *testing.T) {
	svc, _ := newTestCartService(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "user-1", "prod-a", 1, "256GB")
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, "user-1", "prod-b", 4, "")
	require.NoError(t, err)

	// 650.50 + 4 * 120.25
	assert.Equal(t, "1131.50", svc.Total(ctx, "user-1").StringFixed(2))
}

func TestService_Total_FailuresMapToZero(t *testing.T) {
	svc, st := newTestCartService(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "user-1", "prod-a", 1, "")
	require.NoError(t, err)

	// Product vanishes behind the cart's back.
	require.NoError(t, st.WithTx(ctx, func(tx store.Tx) error {
		return tx.DeleteProduct(ctx, "prod-a")
	}))

	assert.True(t, svc.Total(ctx, "user-1").IsZero())
	_, err = svc.Get(ctx, "user-1")
	assert.ErrorIs(t, err, catalog.ErrProductNotFound)
}

func TestService_Total_StoreErrorIsZero(t *testing.T) {
	st := &failingStore{err: errors.New("connection refused")}
	svc := NewService(st, zap.NewNop())
	assert.True(t, svc.Total(context.Background(), "user-1").IsZero())
}

func TestService_Contents(t *testing.T) {
	svc, _ := newTestCartService(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "user-1", "prod-a", 2, "")
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, "user-1", "prod-a", 1, "256GB")
	require.NoError(t, err)

	contents, err := svc.Contents(ctx, "user-1")
	require.NoError(t, err)

	require.Contains(t, contents, "prod-a")
	assert.Equal(t, 2, contents["prod-a"][BaseVariation].Quantity)
	assert.Equal(t, "500", contents["prod-a"][BaseVariation].UnitPrice.String())
	assert.Equal(t, "650.5", contents["prod-a"]["256GB"].UnitPrice.String())
}

type failingStore struct{ err error }

func (f *failingStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return f.err
}
