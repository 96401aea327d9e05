package store

import (
	"context"
	"errors"

	"github.com/example/phk-shop/internal/models"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

type CartRepository interface {
	GetCart(ctx context.Context, userID string) (*models.Cart, error)
	CreateCart(ctx context.Context, cart *models.Cart) error
	TouchCart(ctx context.Context, cartID string) error
	DeleteCart(ctx context.Context, cartID string) error

	ListCartItems(ctx context.Context, cartID string) ([]models.CartItem, error)
	GetCartItem(ctx context.Context, cartID, productID, variation string) (*models.CartItem, error)
	SaveCartItem(ctx context.Context, item *models.CartItem) error
	DeleteCartItem(ctx context.Context, itemID string) error
	DeleteCartItems(ctx context.Context, cartID string) error
	DeleteCartItemsByProduct(ctx context.Context, productID string) error
}

type CatalogRepository interface {
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	SaveProduct(ctx context.Context, product *models.Product) error
	DeleteVariations(ctx context.Context, productID string) error
	DeleteProduct(ctx context.Context, id string) error
}

type OrderRepository interface {
	// NextOrderSequence atomically allocates the next order reference number.
	NextOrderSequence(ctx context.Context) (int64, error)

	CreateAddress(ctx context.Context, address *models.Address) error
	GetAddress(ctx context.Context, id string) (*models.Address, error)

	CreateOrder(ctx context.Context, order *models.Order) error
	UpdateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	GetOrderByReference(ctx context.Context, reference string) (*models.Order, error)
	ListOrdersByUser(ctx context.Context, userID string) ([]models.Order, error)
	ListOrders(ctx context.Context) ([]models.Order, error)

	CreateOrderItems(ctx context.Context, items []models.OrderItem) error
	ListOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error)
}

type PaymentRepository interface {
	CreatePayment(ctx context.Context, payment *models.Payment) error
	UpdatePayment(ctx context.Context, payment *models.Payment) error
	GetPaymentByReference(ctx context.Context, orderReference string) (*models.Payment, error)
	// GetPaymentByCheckoutRequestID resolves any checkout id the payment has
	// been issued, not only the current one.
	GetPaymentByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*models.Payment, error)
}

type NotificationRepository interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, userID string) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, id string) error
}

// Tx is the set of operations available inside a unit of work. Rows read
// for update (orders, payments) stay locked until the unit commits.
type Tx interface {
	CartRepository
	CatalogRepository
	OrderRepository
	PaymentRepository
	NotificationRepository
}

// Store runs units of work. fn's changes are committed only if it returns
// nil; any error discards all of them.
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}
