// Package order is the order and payment engine: checkout, mobile-money
// payment initiation and callbacks, retries and the admin status workflow.
package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/phk-shop/internal/domain/cart"
	"github.com/example/phk-shop/internal/email"
	"github.com/example/phk-shop/internal/gateway/mpesa"
	"github.com/example/phk-shop/internal/infrastructure/store"
	"github.com/example/phk-shop/internal/models"
)

const DefaultReferencePrefix = "PHK"

// Gateway is the mobile-money provider. *mpesa.Client implements it.
type Gateway interface {
	InitiatePayment(ctx context.Context, phone string, amount decimal.Decimal, reference string) mpesa.InitiateResult
	DecodeCallback(raw []byte) (*mpesa.CallbackResult, error)
}

// Notifier records a user-facing message. It never fails the caller.
type Notifier interface {
	Notify(ctx context.Context, userID, message string)
}

type AddressInput struct {
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	City           string `json:"city"`
	Street         string `json:"street"`
	AdditionalInfo string `json:"additionalInfo,omitempty"`
}

// Validate reports every empty required field at once.
func (a AddressInput) Validate() error {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"firstName", a.FirstName},
		{"lastName", a.LastName},
		{"email", a.Email},
		{"phone", a.Phone},
		{"city", a.City},
		{"street", a.Street},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return &AddressError{Missing: missing}
	}
	return nil
}

type CheckoutRequest struct {
	Address       AddressInput         `json:"address"`
	PaymentMethod models.PaymentMethod `json:"payment_method"`
	TotalAmount   decimal.Decimal      `json:"total_amount"`
	// Phone overrides the address phone for the M-Pesa prompt.
	Phone string `json:"phone,omitempty"`
}

// Details is an order with everything hanging off it.
type Details struct {
	Order      *models.Order         `json:"order"`
	Items      []models.OrderItem    `json:"items"`
	Payment    *models.Payment       `json:"payment"`
	Address    *models.Address       `json:"address,omitempty"`
	Initiation *mpesa.InitiateResult `json:"initiation,omitempty"`
}

type Service struct {
	store    store.Store
	gateway  Gateway
	mailer   email.Sender
	notifier Notifier
	log      *zap.Logger
	prefix   string
	now      func() time.Time
}

type Option func(*Service)

func WithReferencePrefix(prefix string) Option {
	return func(s *Service) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(st store.Store, gw Gateway, mailer email.Sender, notifier Notifier, log *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store:    st,
		gateway:  gw,
		mailer:   mailer,
		notifier: notifier,
		log:      log.Named("checkout"),
		prefix:   DefaultReferencePrefix,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// CreateOrder turns the user's cart into an order in a single unit of work.
// For M-Pesa orders the STK push is sent after commit; its failure is
// reported in Details.Initiation and never undoes the order.
func (s *Service) CreateOrder(ctx context.Context, userID string, req CheckoutRequest) (*Details, error) {
	var (
		d   *Details
		log = s.log.With(zap.String("user_id", userID))
	)
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		c, err := tx.GetCart(ctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrEmptyCart
		}
		if err != nil {
			return err
		}
		items, err := tx.ListCartItems(ctx, c.ID)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return ErrEmptyCart
		}

		if err := req.Address.Validate(); err != nil {
			return err
		}
		if !req.PaymentMethod.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidPaymentMethod, req.PaymentMethod)
		}

		lines, total, err := cart.Price(ctx, tx, items)
		if err != nil {
			return err
		}
		total = total.Round(2)
		if !total.Equal(req.TotalAmount.Round(2)) {
			return fmt.Errorf("%w: submitted %s, cart is %s", ErrTotalMismatch, req.TotalAmount.StringFixed(2), total.StringFixed(2))
		}

		d, err = s.placeOrder(ctx, tx, userID, req, lines, total)
		if err != nil {
			return err
		}

		if err := tx.DeleteCartItems(ctx, c.ID); err != nil {
			return err
		}
		return tx.DeleteCart(ctx, c.ID)
	})
	if err != nil {
		err = persistence(err)
		log.Info("checkout rejected", zap.String("error_kind", Kind(err)), zap.Error(err))
		return nil, err
	}

	log = log.With(zap.String("order_reference", d.Order.Reference))
	log.Info("order created",
		zap.String("payment_method", string(d.Payment.Method)),
		zap.String("total", d.Order.TotalAmount.StringFixed(2)))

	switch d.Payment.Method {
	case models.PaymentMethodCOD:
		s.notifier.Notify(ctx, userID, fmt.Sprintf("Your order %s has been placed. You will pay %s on delivery.",
			d.Order.Reference, email.FormatAmount(d.Order.TotalAmount)))
		s.sendOrderConfirmation(ctx, d)
	case models.PaymentMethodMPesa:
		s.notifier.Notify(ctx, userID, fmt.Sprintf("Your order %s is awaiting M-Pesa payment of %s.",
			d.Order.Reference, email.FormatAmount(d.Order.TotalAmount)))
		phone := req.Phone
		if phone == "" {
			phone = d.Address.Phone
		}
		res := s.initiate(ctx, d.Payment, phone)
		d.Initiation = &res
		if d.Initiation.Success {
			d.Payment.CheckoutRequestID = res.CheckoutRequestID
			d.Payment.MerchantRequestID = res.MerchantRequestID
		}
	}
	return d, nil
}

func (s *Service) placeOrder(ctx context.Context, tx store.Tx, userID string, req CheckoutRequest, lines []cart.Line, total decimal.Decimal) (*Details, error) {
	now := s.now()
	in := req.Address
	addr := &models.Address{
		ID:             uuid.NewString(),
		UserID:         userID,
		FirstName:      strings.TrimSpace(in.FirstName),
		LastName:       strings.TrimSpace(in.LastName),
		Email:          strings.TrimSpace(in.Email),
		Phone:          strings.TrimSpace(in.Phone),
		City:           strings.TrimSpace(in.City),
		Street:         strings.TrimSpace(in.Street),
		AdditionalInfo: strings.TrimSpace(in.AdditionalInfo),
		CreatedAt:      now,
	}
	if err := tx.CreateAddress(ctx, addr); err != nil {
		return nil, err
	}

	seq, err := tx.NextOrderSequence(ctx)
	if err != nil {
		return nil, err
	}
	ref := FormatReference(s.prefix, seq)

	payment := &models.Payment{
		ID:             uuid.NewString(),
		OrderReference: ref,
		Amount:         total,
		Method:         req.PaymentMethod,
		Status:         models.PaymentPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := tx.CreatePayment(ctx, payment); err != nil {
		return nil, err
	}

	status := models.OrderPlaced
	if req.PaymentMethod == models.PaymentMethodMPesa {
		status = models.OrderPendingPayment
	}
	o := &models.Order{
		ID:          uuid.NewString(),
		Reference:   ref,
		UserID:      userID,
		AddressID:   addr.ID,
		PaymentID:   payment.ID,
		TotalAmount: total,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := tx.CreateOrder(ctx, o); err != nil {
		return nil, err
	}

	items := make([]models.OrderItem, len(lines))
	for i, l := range lines {
		items[i] = models.OrderItem{
			ID:        uuid.NewString(),
			OrderID:   o.ID,
			ProductID: l.ProductID,
			Name:      l.Name,
			Quantity:  l.Quantity,
			Variation: l.Variation,
			UnitPrice: l.UnitPrice,
		}
	}
	if err := tx.CreateOrderItems(ctx, items); err != nil {
		return nil, err
	}

	return &Details{Order: o, Items: items, Payment: payment, Address: addr}, nil
}

func (s *Service) sendOrderConfirmation(ctx context.Context, d *Details) {
	if d.Address == nil {
		return
	}
	items := make([]email.LineItem, len(d.Items))
	for i, it := range d.Items {
		items[i] = email.LineItem{
			ProductID: it.ProductID,
			Name:      it.Name,
			Variation: it.Variation,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		}
	}
	err := s.mailer.SendOrderConfirmation(ctx, email.OrderConfirmation{
		To:            d.Address.Email,
		CustomerName:  d.Address.FullName(),
		Reference:     d.Order.Reference,
		PaymentMethod: string(d.Payment.Method),
		Items:         items,
		Total:         d.Order.TotalAmount,
	})
	s.logEmail("order confirmation", d, err)
}

func (s *Service) sendPaymentReceipt(ctx context.Context, d *Details) {
	if d.Address == nil {
		return
	}
	err := s.mailer.SendPaymentReceipt(ctx, email.PaymentReceipt{
		To:            d.Address.Email,
		CustomerName:  d.Address.FullName(),
		Reference:     d.Order.Reference,
		Method:        string(d.Payment.Method),
		Amount:        d.Payment.Amount,
		ReceiptNumber: d.Payment.ReceiptNumber,
		PaidAt:        d.Payment.UpdatedAt,
	})
	s.logEmail("payment receipt", d, err)
}

func (s *Service) sendShipmentUpdate(ctx context.Context, d *Details, from models.OrderStatus) {
	if d.Address == nil {
		return
	}
	err := s.mailer.SendShipmentUpdate(ctx, email.ShipmentUpdate{
		To:           d.Address.Email,
		CustomerName: d.Address.FullName(),
		Reference:    d.Order.Reference,
		OldStatus:    string(from),
		NewStatus:    string(d.Order.Status),
	})
	s.logEmail("shipment update", d, err)
}

func (s *Service) logEmail(kind string, d *Details, err error) {
	if err == nil {
		return
	}
	s.log.Error("email failed",
		zap.String("email", kind),
		zap.String("order_reference", d.Order.Reference),
		zap.String("recipient", d.Address.Email),
		zap.Error(err))
}
