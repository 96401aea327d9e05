package order

import (
	"errors"
	"fmt"
	"strings"

	"github.com/example/phk-shop/internal/catalog"
	"github.com/example/phk-shop/internal/domain/cart"
)

var (
	ErrEmptyCart            = errors.New("cart is empty")
	ErrInvalidAddress       = errors.New("invalid address")
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	ErrTotalMismatch        = errors.New("order total does not match cart")
	ErrOrderNotFound        = errors.New("order not found")
	ErrCallbackNotFound     = errors.New("callback does not match any payment")
	ErrInvalidStatus        = errors.New("invalid order status")
	ErrForbidden            = errors.New("order belongs to another user")
	ErrRetryNotAllowed      = errors.New("payment retry not allowed")
	ErrGatewayUnavailable   = errors.New("payment gateway unavailable")
	ErrPersistence          = errors.New("persistence failure")
)

// AddressError lists the required address fields that were empty.
type AddressError struct {
	Missing []string
}

func (e *AddressError) Error() string {
	return fmt.Sprintf("%s: missing %s", ErrInvalidAddress, strings.Join(e.Missing, ", "))
}

func (e *AddressError) Is(target error) bool {
	return target == ErrInvalidAddress
}

// Error kinds as exposed to API clients.
const (
	KindEmptyCart            = "EmptyCart"
	KindInvalidAddress       = "InvalidAddress"
	KindInvalidPaymentMethod = "InvalidPaymentMethod"
	KindTotalMismatch        = "TotalMismatch"
	KindProductNotFound      = "ProductNotFound"
	KindInvalidQuantity      = "InvalidQuantity"
	KindOrderNotFound        = "OrderNotFound"
	KindCallbackNotFound     = "CallbackNotFound"
	KindInvalidStatus        = "InvalidStatus"
	KindForbidden            = "Forbidden"
	KindRetryNotAllowed      = "RetryNotAllowed"
	KindGatewayUnavailable   = "GatewayUnavailable"
	KindPersistence          = "PersistenceFailure"
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrEmptyCart, KindEmptyCart},
	{ErrInvalidAddress, KindInvalidAddress},
	{ErrInvalidPaymentMethod, KindInvalidPaymentMethod},
	{ErrTotalMismatch, KindTotalMismatch},
	{catalog.ErrProductNotFound, KindProductNotFound},
	{cart.ErrInvalidQuantity, KindInvalidQuantity},
	{ErrOrderNotFound, KindOrderNotFound},
	{ErrCallbackNotFound, KindCallbackNotFound},
	{ErrInvalidStatus, KindInvalidStatus},
	{ErrForbidden, KindForbidden},
	{ErrRetryNotAllowed, KindRetryNotAllowed},
	{ErrGatewayUnavailable, KindGatewayUnavailable},
}

// Kind classifies err. Anything unrecognised is a persistence failure.
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindPersistence
}

// persistence wraps storage errors so callers can tell them from domain errors.
func persistence(err error) error {
	if err == nil || errors.Is(err, ErrPersistence) || Kind(err) != KindPersistence {
		return err
	}
	return fmt.Errorf("%w: %v", ErrPersistence, err)
}
