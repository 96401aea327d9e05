package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/example/phk-shop/internal/models"
)

// MemoryStore keeps all state in process. Units of work run one at a time
// against a private copy that replaces the live state on success, so a
// failed unit leaves nothing behind.
//
// Every unit of work copies the whole dataset, so cost grows with the
// catalog and order history. It is meant for tests and local demos; use
// PostgresStore for anything long-lived.
type MemoryStore struct {
	mu   sync.Mutex
	data *memData

	// Fail, when set, is consulted before every write with the operation
	// name (e.g. "CreateOrderItems"). A non-nil result aborts that write.
	Fail func(op string) error
}

var now = func() time.Time { return time.Now().UTC() }

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: newMemData()}
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.data.clone()
	if err := fn(&memTx{d: work, fail: s.Fail}); err != nil {
		return err
	}
	s.data = work
	return nil
}

type memData struct {
	seq int64

	carts     map[string]models.Cart
	cartOf    map[string]string // user id -> cart id
	cartItems map[string][]models.CartItem

	products map[string]models.Product

	addresses  map[string]models.Address
	orders     map[string]models.Order
	orderIDs   []string // insertion order
	orderByRef map[string]string
	orderItems map[string][]models.OrderItem

	payments          map[string]models.Payment
	paymentByRef      map[string]string
	paymentByCheckout map[string]string

	notifications []models.Notification
}

func newMemData() *memData {
	return &memData{
		carts:             map[string]models.Cart{},
		cartOf:            map[string]string{},
		cartItems:         map[string][]models.CartItem{},
		products:          map[string]models.Product{},
		addresses:         map[string]models.Address{},
		orders:            map[string]models.Order{},
		orderByRef:        map[string]string{},
		orderItems:        map[string][]models.OrderItem{},
		payments:          map[string]models.Payment{},
		paymentByRef:      map[string]string{},
		paymentByCheckout: map[string]string{},
	}
}

func (d *memData) clone() *memData {
	c := &memData{
		seq:               d.seq,
		carts:             cloneMap(d.carts),
		cartOf:            cloneMap(d.cartOf),
		cartItems:         make(map[string][]models.CartItem, len(d.cartItems)),
		products:          make(map[string]models.Product, len(d.products)),
		addresses:         cloneMap(d.addresses),
		orders:            cloneMap(d.orders),
		orderIDs:          slices.Clone(d.orderIDs),
		orderByRef:        cloneMap(d.orderByRef),
		orderItems:        make(map[string][]models.OrderItem, len(d.orderItems)),
		payments:          cloneMap(d.payments),
		paymentByRef:      cloneMap(d.paymentByRef),
		paymentByCheckout: cloneMap(d.paymentByCheckout),
		notifications:     slices.Clone(d.notifications),
	}
	for k, v := range d.cartItems {
		c.cartItems[k] = slices.Clone(v)
	}
	for k, v := range d.products {
		v.Variations = slices.Clone(v.Variations)
		c.products[k] = v
	}
	for k, v := range d.orderItems {
		c.orderItems[k] = slices.Clone(v)
	}
	return c
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type memTx struct {
	d    *memData
	fail func(op string) error
}

func (t *memTx) check(op string) error {
	if t.fail == nil {
		return nil
	}
	if err := t.fail(op); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Carts

func (t *memTx) GetCart(ctx context.Context, userID string) (*models.Cart, error) {
	id, ok := t.d.cartOf[userID]
	if !ok {
		return nil, ErrNotFound
	}
	c := t.d.carts[id]
	return &c, nil
}

func (t *memTx) CreateCart(ctx context.Context, cart *models.Cart) error {
	if err := t.check("CreateCart"); err != nil {
		return err
	}
	if _, ok := t.d.cartOf[cart.UserID]; ok {
		return fmt.Errorf("cart for user %s: %w", cart.UserID, ErrDuplicate)
	}
	t.d.carts[cart.ID] = *cart
	t.d.cartOf[cart.UserID] = cart.ID
	return nil
}

func (t *memTx) TouchCart(ctx context.Context, cartID string) error {
	if err := t.check("TouchCart"); err != nil {
		return err
	}
	c, ok := t.d.carts[cartID]
	if !ok {
		return ErrNotFound
	}
	c.UpdatedAt = now()
	t.d.carts[cartID] = c
	return nil
}

func (t *memTx) DeleteCart(ctx context.Context, cartID string) error {
	if err := t.check("DeleteCart"); err != nil {
		return err
	}
	c, ok := t.d.carts[cartID]
	if !ok {
		return nil
	}
	delete(t.d.carts, cartID)
	delete(t.d.cartOf, c.UserID)
	delete(t.d.cartItems, cartID)
	return nil
}

func (t *memTx) ListCartItems(ctx context.Context, cartID string) ([]models.CartItem, error) {
	return slices.Clone(t.d.cartItems[cartID]), nil
}

func (t *memTx) GetCartItem(ctx context.Context, cartID, productID, variation string) (*models.CartItem, error) {
	for _, it := range t.d.cartItems[cartID] {
		if it.ProductID == productID && it.Variation == variation {
			return &it, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) SaveCartItem(ctx context.Context, item *models.CartItem) error {
	if err := t.check("SaveCartItem"); err != nil {
		return err
	}
	items := t.d.cartItems[item.CartID]
	for i, it := range items {
		if it.ID == item.ID {
			items[i] = *item
			return nil
		}
		if it.ProductID == item.ProductID && it.Variation == item.Variation {
			return fmt.Errorf("cart item %s/%s: %w", item.ProductID, item.Variation, ErrDuplicate)
		}
	}
	t.d.cartItems[item.CartID] = append(items, *item)
	return nil
}

func (t *memTx) DeleteCartItem(ctx context.Context, itemID string) error {
	if err := t.check("DeleteCartItem"); err != nil {
		return err
	}
	for cartID, items := range t.d.cartItems {
		t.d.cartItems[cartID] = slices.DeleteFunc(items, func(it models.CartItem) bool {
			return it.ID == itemID
		})
	}
	return nil
}

func (t *memTx) DeleteCartItems(ctx context.Context, cartID string) error {
	if err := t.check("DeleteCartItems"); err != nil {
		return err
	}
	delete(t.d.cartItems, cartID)
	return nil
}

func (t *memTx) DeleteCartItemsByProduct(ctx context.Context, productID string) error {
	if err := t.check("DeleteCartItemsByProduct"); err != nil {
		return err
	}
	for cartID, items := range t.d.cartItems {
		t.d.cartItems[cartID] = slices.DeleteFunc(items, func(it models.CartItem) bool {
			return it.ProductID == productID
		})
	}
	return nil
}

// Catalog

func (t *memTx) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	p, ok := t.d.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	p.Variations = slices.Clone(p.Variations)
	return &p, nil
}

func (t *memTx) SaveProduct(ctx context.Context, product *models.Product) error {
	if err := t.check("SaveProduct"); err != nil {
		return err
	}
	p := *product
	p.Variations = slices.Clone(product.Variations)
	for i := range p.Variations {
		p.Variations[i].ProductID = p.ID
	}
	t.d.products[p.ID] = p
	return nil
}

func (t *memTx) DeleteVariations(ctx context.Context, productID string) error {
	if err := t.check("DeleteVariations"); err != nil {
		return err
	}
	if p, ok := t.d.products[productID]; ok {
		p.Variations = nil
		t.d.products[productID] = p
	}
	return nil
}

func (t *memTx) DeleteProduct(ctx context.Context, id string) error {
	if err := t.check("DeleteProduct"); err != nil {
		return err
	}
	if _, ok := t.d.products[id]; !ok {
		return ErrNotFound
	}
	delete(t.d.products, id)
	return nil
}

// Orders

func (t *memTx) NextOrderSequence(ctx context.Context) (int64, error) {
	if err := t.check("NextOrderSequence"); err != nil {
		return 0, err
	}
	t.d.seq++
	return t.d.seq, nil
}

func (t *memTx) CreateAddress(ctx context.Context, address *models.Address) error {
	if err := t.check("CreateAddress"); err != nil {
		return err
	}
	t.d.addresses[address.ID] = *address
	return nil
}

func (t *memTx) GetAddress(ctx context.Context, id string) (*models.Address, error) {
	a, ok := t.d.addresses[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (t *memTx) CreateOrder(ctx context.Context, order *models.Order) error {
	if err := t.check("CreateOrder"); err != nil {
		return err
	}
	if _, ok := t.d.orderByRef[order.Reference]; ok {
		return fmt.Errorf("order %s: %w", order.Reference, ErrDuplicate)
	}
	t.d.orders[order.ID] = *order
	t.d.orderIDs = append(t.d.orderIDs, order.ID)
	t.d.orderByRef[order.Reference] = order.ID
	return nil
}

func (t *memTx) UpdateOrder(ctx context.Context, order *models.Order) error {
	if err := t.check("UpdateOrder"); err != nil {
		return err
	}
	if _, ok := t.d.orders[order.ID]; !ok {
		return ErrNotFound
	}
	t.d.orders[order.ID] = *order
	return nil
}

func (t *memTx) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	o, ok := t.d.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (t *memTx) GetOrderByReference(ctx context.Context, reference string) (*models.Order, error) {
	id, ok := t.d.orderByRef[reference]
	if !ok {
		return nil, ErrNotFound
	}
	return t.GetOrder(ctx, id)
}

func (t *memTx) ListOrdersByUser(ctx context.Context, userID string) ([]models.Order, error) {
	var out []models.Order
	for i := len(t.d.orderIDs) - 1; i >= 0; i-- {
		if o := t.d.orders[t.d.orderIDs[i]]; o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (t *memTx) ListOrders(ctx context.Context) ([]models.Order, error) {
	out := make([]models.Order, 0, len(t.d.orderIDs))
	for i := len(t.d.orderIDs) - 1; i >= 0; i-- {
		out = append(out, t.d.orders[t.d.orderIDs[i]])
	}
	return out, nil
}

func (t *memTx) CreateOrderItems(ctx context.Context, items []models.OrderItem) error {
	if err := t.check("CreateOrderItems"); err != nil {
		return err
	}
	for _, it := range items {
		t.d.orderItems[it.OrderID] = append(t.d.orderItems[it.OrderID], it)
	}
	return nil
}

func (t *memTx) ListOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	return slices.Clone(t.d.orderItems[orderID]), nil
}

// Payments

func (t *memTx) CreatePayment(ctx context.Context, payment *models.Payment) error {
	if err := t.check("CreatePayment"); err != nil {
		return err
	}
	if _, ok := t.d.paymentByRef[payment.OrderReference]; ok {
		return fmt.Errorf("payment for %s: %w", payment.OrderReference, ErrDuplicate)
	}
	t.d.payments[payment.ID] = *payment
	t.d.paymentByRef[payment.OrderReference] = payment.ID
	if payment.CheckoutRequestID != "" {
		t.d.paymentByCheckout[payment.CheckoutRequestID] = payment.ID
	}
	return nil
}

func (t *memTx) UpdatePayment(ctx context.Context, payment *models.Payment) error {
	if err := t.check("UpdatePayment"); err != nil {
		return err
	}
	if _, ok := t.d.payments[payment.ID]; !ok {
		return ErrNotFound
	}
	// Superseded checkout ids stay indexed; a late result on one still
	// has to find its payment.
	if payment.CheckoutRequestID != "" {
		t.d.paymentByCheckout[payment.CheckoutRequestID] = payment.ID
	}
	t.d.payments[payment.ID] = *payment
	return nil
}

func (t *memTx) GetPaymentByReference(ctx context.Context, orderReference string) (*models.Payment, error) {
	id, ok := t.d.paymentByRef[orderReference]
	if !ok {
		return nil, ErrNotFound
	}
	p := t.d.payments[id]
	return &p, nil
}

func (t *memTx) GetPaymentByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*models.Payment, error) {
	id, ok := t.d.paymentByCheckout[checkoutRequestID]
	if !ok || checkoutRequestID == "" {
		return nil, ErrNotFound
	}
	p := t.d.payments[id]
	return &p, nil
}

// Notifications

func (t *memTx) CreateNotification(ctx context.Context, n *models.Notification) error {
	if err := t.check("CreateNotification"); err != nil {
		return err
	}
	t.d.notifications = append(t.d.notifications, *n)
	return nil
}

func (t *memTx) ListNotifications(ctx context.Context, userID string) ([]models.Notification, error) {
	var out []models.Notification
	for i := len(t.d.notifications) - 1; i >= 0; i-- {
		if n := t.d.notifications[i]; n.UserID == userID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (t *memTx) MarkNotificationRead(ctx context.Context, userID, id string) error {
	if err := t.check("MarkNotificationRead"); err != nil {
		return err
	}
	for i, n := range t.d.notifications {
		if n.ID == id && n.UserID == userID {
			t.d.notifications[i].Read = true
			return nil
		}
	}
	return ErrNotFound
}
