package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

type PaymentMethod string

const (
	PaymentMethodCOD   PaymentMethod = "COD"
	PaymentMethodMPesa PaymentMethod = "MPESA"
)

func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodCOD || m == PaymentMethodMPesa
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "Pending"
	PaymentSuccess PaymentStatus = "Success"
	PaymentFailed  PaymentStatus = "Failed"
)

type OrderStatus string

const (
	OrderPlaced         OrderStatus = "Order Placed"
	OrderPacking        OrderStatus = "Packing"
	OrderShipped        OrderStatus = "Shipped"
	OrderOutForDelivery OrderStatus = "Out for Delivery"
	OrderDelivered      OrderStatus = "Delivered"
	OrderCanceled       OrderStatus = "Canceled"
	OrderPendingPayment OrderStatus = "Pending Payment"
	OrderPaymentFailed  OrderStatus = "Payment Failed"
)

// OrderStatuses lists every known status in display order.
var OrderStatuses = []OrderStatus{
	OrderPlaced,
	OrderPacking,
	OrderShipped,
	OrderOutForDelivery,
	OrderDelivered,
	OrderCanceled,
	OrderPendingPayment,
	OrderPaymentFailed,
}

func (s OrderStatus) Valid() bool {
	for _, known := range OrderStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s OrderStatus) Terminal() bool {
	return s == OrderDelivered || s == OrderCanceled
}

type Cart struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CartItem is unique per (cart, product, variation). An empty Variation means
// the base product.
type CartItem struct {
	ID             string           `json:"id"`
	CartID         string           `json:"cart_id"`
	ProductID      string           `json:"product_id"`
	Quantity       int              `json:"quantity"`
	Variation      string           `json:"variation,omitempty"`
	VariationPrice *decimal.Decimal `json:"variation_price,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// UnitPrice returns the locked-in variation price, or base when none was set.
func (i CartItem) UnitPrice(base decimal.Decimal) decimal.Decimal {
	if i.VariationPrice != nil {
		return *i.VariationPrice
	}
	return base
}

type Address struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	Email          string    `json:"email"`
	Phone          string    `json:"phone"`
	City           string    `json:"city"`
	Street         string    `json:"street"`
	AdditionalInfo string    `json:"additional_info,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func (a Address) FullName() string {
	if a.LastName == "" {
		return a.FirstName
	}
	return a.FirstName + " " + a.LastName
}

type Order struct {
	ID          string          `json:"id"`
	Reference   string          `json:"reference"`
	UserID      string          `json:"user_id"`
	AddressID   string          `json:"address_id"`
	PaymentID   string          `json:"payment_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Status      OrderStatus     `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// OrderItem is a snapshot of a cart line at checkout time.
type OrderItem struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	Variation string          `json:"variation,omitempty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Payment struct {
	ID                string          `json:"id"`
	OrderReference    string          `json:"order_reference"`
	Amount            decimal.Decimal `json:"amount"`
	Method            PaymentMethod   `json:"method"`
	Status            PaymentStatus   `json:"status"`
	FailureReason     string          `json:"failure_reason,omitempty"`
	CheckoutRequestID string          `json:"checkout_request_id,omitempty"`
	MerchantRequestID string          `json:"merchant_request_id,omitempty"`
	TransactionID     string          `json:"transaction_id,omitempty"`
	ReceiptNumber     string          `json:"receipt_number,omitempty"`
	ResultCode        string          `json:"result_code,omitempty"`
	ResultDesc        string          `json:"result_desc,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}
