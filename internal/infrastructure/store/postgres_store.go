package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/example/phk-shop/internal/models"
)

//go:embed schema.sql
var schema string

const orderReferenceSequence = "order_reference"

// PostgresStore persists state in PostgreSQL. Every unit of work is one
// database transaction.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// ConnectPostgres opens and pings a connection pool.
func ConnectPostgres(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

// Migrate creates missing tables and seeds the order reference sequence.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&pgTx{tx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	return sqlTx.Commit()
}

type pgTx struct {
	tx *sql.Tx
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%s: %w", pqErr.Constraint, ErrDuplicate)
	}
	return err
}

func (t *pgTx) exec(ctx context.Context, query string, args ...any) error {
	_, err := t.tx.ExecContext(ctx, query, args...)
	return mapErr(err)
}

// execOne is exec that reports ErrNotFound when no row was touched.
func (t *pgTx) execOne(ctx context.Context, query string, args ...any) error {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return mapErr(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Carts

func (t *pgTx) GetCart(ctx context.Context, userID string) (*models.Cart, error) {
	var c models.Cart
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, user_id, created_at, updated_at
		FROM carts WHERE user_id = $1 FOR UPDATE
	`, userID).Scan(&c.ID, &c.UserID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

func (t *pgTx) CreateCart(ctx context.Context, cart *models.Cart) error {
	return t.exec(ctx, `
		INSERT INTO carts (id, user_id, created_at, updated_at) VALUES ($1, $2, $3, $4)
	`, cart.ID, cart.UserID, cart.CreatedAt, cart.UpdatedAt)
}

func (t *pgTx) TouchCart(ctx context.Context, cartID string) error {
	return t.execOne(ctx, `UPDATE carts SET updated_at = NOW() WHERE id = $1`, cartID)
}

func (t *pgTx) DeleteCart(ctx context.Context, cartID string) error {
	return t.exec(ctx, `DELETE FROM carts WHERE id = $1`, cartID)
}

const cartItemColumns = `id, cart_id, product_id, quantity, variation, variation_price, created_at, updated_at`

func scanCartItem(row interface{ Scan(...any) error }) (models.CartItem, error) {
	var it models.CartItem
	var price decimal.NullDecimal
	err := row.Scan(&it.ID, &it.CartID, &it.ProductID, &it.Quantity, &it.Variation, &price, &it.CreatedAt, &it.UpdatedAt)
	if price.Valid {
		it.VariationPrice = &price.Decimal
	}
	return it, err
}

func (t *pgTx) ListCartItems(ctx context.Context, cartID string) ([]models.CartItem, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+cartItemColumns+` FROM cart_items WHERE cart_id = $1 ORDER BY created_at, id
	`, cartID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.CartItem
	for rows.Next() {
		it, err := scanCartItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (t *pgTx) GetCartItem(ctx context.Context, cartID, productID, variation string) (*models.CartItem, error) {
	it, err := scanCartItem(t.tx.QueryRowContext(ctx, `
		SELECT `+cartItemColumns+` FROM cart_items
		WHERE cart_id = $1 AND product_id = $2 AND variation = $3 FOR UPDATE
	`, cartID, productID, variation))
	if err != nil {
		return nil, mapErr(err)
	}
	return &it, nil
}

func (t *pgTx) SaveCartItem(ctx context.Context, item *models.CartItem) error {
	var price decimal.NullDecimal
	if item.VariationPrice != nil {
		price = decimal.NewNullDecimal(*item.VariationPrice)
	}
	return t.exec(ctx, `
		INSERT INTO cart_items (`+cartItemColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			variation_price = EXCLUDED.variation_price,
			updated_at = EXCLUDED.updated_at
	`, item.ID, item.CartID, item.ProductID, item.Quantity, item.Variation, price, item.CreatedAt, item.UpdatedAt)
}

func (t *pgTx) DeleteCartItem(ctx context.Context, itemID string) error {
	return t.exec(ctx, `DELETE FROM cart_items WHERE id = $1`, itemID)
}

func (t *pgTx) DeleteCartItems(ctx context.Context, cartID string) error {
	return t.exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID)
}

func (t *pgTx) DeleteCartItemsByProduct(ctx context.Context, productID string) error {
	return t.exec(ctx, `DELETE FROM cart_items WHERE product_id = $1`, productID)
}

// Catalog

func (t *pgTx) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	var p models.Product
	var specs []byte
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, name, kind, price, specs, created_at, updated_at FROM products WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Kind, &p.Price, &specs, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if p.Specs, err = models.DecodeSpecs(p.Kind, specs); err != nil {
		return nil, fmt.Errorf("product %s specs: %w", id, err)
	}

	rows, err := t.tx.QueryContext(ctx, `
		SELECT product_id, name, price FROM product_variations WHERE product_id = $1 ORDER BY name
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var v models.Variation
		if err := rows.Scan(&v.ProductID, &v.Name, &v.Price); err != nil {
			return nil, err
		}
		p.Variations = append(p.Variations, v)
	}
	return &p, rows.Err()
}

func (t *pgTx) SaveProduct(ctx context.Context, product *models.Product) error {
	kind := product.Kind
	if kind == "" {
		kind = models.KindGeneric
	}
	specs := []byte("{}")
	if product.Specs != nil {
		raw, err := json.Marshal(product.Specs)
		if err != nil {
			return err
		}
		specs = raw
	}
	err := t.exec(ctx, `
		INSERT INTO products (id, name, kind, price, specs, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			kind = EXCLUDED.kind,
			price = EXCLUDED.price,
			specs = EXCLUDED.specs,
			updated_at = EXCLUDED.updated_at
	`, product.ID, product.Name, kind, product.Price, specs, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		return err
	}
	for _, v := range product.Variations {
		err := t.exec(ctx, `
			INSERT INTO product_variations (product_id, name, price) VALUES ($1, $2, $3)
			ON CONFLICT (product_id, name) DO UPDATE SET price = EXCLUDED.price
		`, product.ID, v.Name, v.Price)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) DeleteVariations(ctx context.Context, productID string) error {
	return t.exec(ctx, `DELETE FROM product_variations WHERE product_id = $1`, productID)
}

func (t *pgTx) DeleteProduct(ctx context.Context, id string) error {
	return t.execOne(ctx, `DELETE FROM products WHERE id = $1`, id)
}

// Orders

func (t *pgTx) NextOrderSequence(ctx context.Context) (int64, error) {
	var next int64
	err := t.tx.QueryRowContext(ctx, `
		UPDATE order_sequences SET value = value + 1 WHERE name = $1 RETURNING value
	`, orderReferenceSequence).Scan(&next)
	if err != nil {
		return 0, mapErr(err)
	}
	return next, nil
}

func (t *pgTx) CreateAddress(ctx context.Context, a *models.Address) error {
	return t.exec(ctx, `
		INSERT INTO addresses (id, user_id, first_name, last_name, email, phone, city, street, additional_info, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, a.ID, a.UserID, a.FirstName, a.LastName, a.Email, a.Phone, a.City, a.Street, a.AdditionalInfo, a.CreatedAt)
}

func (t *pgTx) GetAddress(ctx context.Context, id string) (*models.Address, error) {
	var a models.Address
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, user_id, first_name, last_name, email, phone, city, street, additional_info, created_at
		FROM addresses WHERE id = $1
	`, id).Scan(&a.ID, &a.UserID, &a.FirstName, &a.LastName, &a.Email, &a.Phone, &a.City, &a.Street, &a.AdditionalInfo, &a.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &a, nil
}

const orderColumns = `id, reference, user_id, address_id, payment_id, total_amount, status, created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (models.Order, error) {
	var o models.Order
	err := row.Scan(&o.ID, &o.Reference, &o.UserID, &o.AddressID, &o.PaymentID, &o.TotalAmount, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func (t *pgTx) CreateOrder(ctx context.Context, o *models.Order) error {
	return t.exec(ctx, `
		INSERT INTO orders (`+orderColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, o.ID, o.Reference, o.UserID, o.AddressID, o.PaymentID, o.TotalAmount, o.Status, o.CreatedAt, o.UpdatedAt)
}

func (t *pgTx) UpdateOrder(ctx context.Context, o *models.Order) error {
	return t.execOne(ctx, `
		UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1
	`, o.ID, o.Status, o.UpdatedAt)
}

func (t *pgTx) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	o, err := scanOrder(t.tx.QueryRowContext(ctx, `
		SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE
	`, id))
	if err != nil {
		return nil, mapErr(err)
	}
	return &o, nil
}

func (t *pgTx) GetOrderByReference(ctx context.Context, reference string) (*models.Order, error) {
	o, err := scanOrder(t.tx.QueryRowContext(ctx, `
		SELECT `+orderColumns+` FROM orders WHERE reference = $1 FOR UPDATE
	`, reference))
	if err != nil {
		return nil, mapErr(err)
	}
	return &o, nil
}

func (t *pgTx) listOrders(ctx context.Context, query string, args ...any) ([]models.Order, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (t *pgTx) ListOrdersByUser(ctx context.Context, userID string) ([]models.Order, error) {
	return t.listOrders(ctx, `
		SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY seq DESC
	`, userID)
}

func (t *pgTx) ListOrders(ctx context.Context) ([]models.Order, error) {
	return t.listOrders(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY seq DESC`)
}

func (t *pgTx) CreateOrderItems(ctx context.Context, items []models.OrderItem) error {
	for _, it := range items {
		err := t.exec(ctx, `
			INSERT INTO order_items (id, order_id, product_id, name, quantity, variation, unit_price)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, it.ID, it.OrderID, it.ProductID, it.Name, it.Quantity, it.Variation, it.UnitPrice)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) ListOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, order_id, product_id, name, quantity, variation, unit_price
		FROM order_items WHERE order_id = $1 ORDER BY id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var it models.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Name, &it.Quantity, &it.Variation, &it.UnitPrice); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// Payments

const paymentColumns = `id, order_reference, amount, method, status, failure_reason,
	checkout_request_id, merchant_request_id, transaction_id, receipt_number,
	result_code, result_desc, created_at, updated_at`

func scanPayment(row interface{ Scan(...any) error }) (*models.Payment, error) {
	var p models.Payment
	err := row.Scan(&p.ID, &p.OrderReference, &p.Amount, &p.Method, &p.Status, &p.FailureReason,
		&p.CheckoutRequestID, &p.MerchantRequestID, &p.TransactionID, &p.ReceiptNumber,
		&p.ResultCode, &p.ResultDesc, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

func (t *pgTx) CreatePayment(ctx context.Context, p *models.Payment) error {
	err := t.exec(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, p.ID, p.OrderReference, p.Amount, p.Method, p.Status, p.FailureReason,
		p.CheckoutRequestID, p.MerchantRequestID, p.TransactionID, p.ReceiptNumber,
		p.ResultCode, p.ResultDesc, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return err
	}
	return t.recordAttempt(ctx, p)
}

func (t *pgTx) UpdatePayment(ctx context.Context, p *models.Payment) error {
	err := t.execOne(ctx, `
		UPDATE payments SET
			status = $2, failure_reason = $3,
			checkout_request_id = $4, merchant_request_id = $5,
			transaction_id = $6, receipt_number = $7,
			result_code = $8, result_desc = $9, updated_at = $10
		WHERE id = $1
	`, p.ID, p.Status, p.FailureReason,
		p.CheckoutRequestID, p.MerchantRequestID,
		p.TransactionID, p.ReceiptNumber,
		p.ResultCode, p.ResultDesc, p.UpdatedAt)
	if err != nil {
		return err
	}
	return t.recordAttempt(ctx, p)
}

// recordAttempt indexes the payment's current checkout id. Earlier ids keep
// their rows.
func (t *pgTx) recordAttempt(ctx context.Context, p *models.Payment) error {
	if p.CheckoutRequestID == "" {
		return nil
	}
	return t.exec(ctx, `
		INSERT INTO payment_attempts (checkout_request_id, payment_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (checkout_request_id) DO NOTHING
	`, p.CheckoutRequestID, p.ID, p.UpdatedAt)
}

func (t *pgTx) GetPaymentByReference(ctx context.Context, orderReference string) (*models.Payment, error) {
	return scanPayment(t.tx.QueryRowContext(ctx, `
		SELECT `+paymentColumns+` FROM payments WHERE order_reference = $1 FOR UPDATE
	`, orderReference))
}

func (t *pgTx) GetPaymentByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*models.Payment, error) {
	if checkoutRequestID == "" {
		return nil, ErrNotFound
	}
	return scanPayment(t.tx.QueryRowContext(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE id = (SELECT payment_id FROM payment_attempts WHERE checkout_request_id = $1)
		FOR UPDATE
	`, checkoutRequestID))
}

// Notifications

func (t *pgTx) CreateNotification(ctx context.Context, n *models.Notification) error {
	return t.exec(ctx, `
		INSERT INTO notifications (id, user_id, message, read, created_at) VALUES ($1, $2, $3, $4, $5)
	`, n.ID, n.UserID, n.Message, n.Read, n.CreatedAt)
}

func (t *pgTx) ListNotifications(ctx context.Context, userID string) ([]models.Notification, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, user_id, message, read, created_at
		FROM notifications WHERE user_id = $1 ORDER BY created_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Message, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (t *pgTx) MarkNotificationRead(ctx context.Context, userID, id string) error {
	return t.execOne(ctx, `UPDATE notifications SET read = TRUE WHERE id = $1 AND user_id = $2`, id, userID)
}
