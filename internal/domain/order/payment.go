package order

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/example/phk-shop/internal/email"
	"github.com/example/phk-shop/internal/gateway/mpesa"
	"github.com/example/phk-shop/internal/infrastructure/store"
	"github.com/example/phk-shop/internal/models"
)

// initiate sends the STK push for payment and stores the checkout ids.
// A failed push leaves the payment untouched, still Pending.
func (s *Service) initiate(ctx context.Context, payment *models.Payment, phone string) mpesa.InitiateResult {
	log := s.log.With(zap.String("order_reference", payment.OrderReference))

	res := s.gateway.InitiatePayment(ctx, phone, payment.Amount, payment.OrderReference)
	if !res.Success {
		log.Warn("payment initiation failed", zap.String("error", res.Error))
		return res
	}

	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		p, err := tx.GetPaymentByReference(ctx, payment.OrderReference)
		if err != nil {
			return err
		}
		if p.Status == models.PaymentSuccess {
			return nil
		}
		p.CheckoutRequestID = res.CheckoutRequestID
		p.MerchantRequestID = res.MerchantRequestID
		p.UpdatedAt = s.now()
		return tx.UpdatePayment(ctx, p)
	})
	if err != nil {
		// The prompt is already on the customer's phone but its callback
		// will not match; the customer has to retry.
		log.Error("failed to record checkout request",
			zap.String("checkout_request_id", res.CheckoutRequestID), zap.Error(err))
		return mpesa.InitiateResult{Success: false, Error: persistence(err).Error()}
	}
	log.Info("payment initiated", zap.String("checkout_request_id", res.CheckoutRequestID))
	return res
}

// CallbackOutcome is what the webhook reports back. Accepted is false only
// for callbacks that matched nothing.
type CallbackOutcome struct {
	Accepted      bool                 `json:"accepted"`
	Detail        string               `json:"detail"`
	Reference     string               `json:"reference,omitempty"`
	PaymentStatus models.PaymentStatus `json:"payment_status,omitempty"`
	OrderStatus   models.OrderStatus   `json:"order_status,omitempty"`
}

// ProcessCallback applies an STK push result. Redelivery is harmless: a
// repeated result is a no-op and a failure never overrides a success.
func (s *Service) ProcessCallback(ctx context.Context, raw []byte) (*CallbackOutcome, error) {
	cb, err := s.gateway.DecodeCallback(raw)
	if err != nil {
		s.log.Warn("callback ignored", zap.Error(err))
		return &CallbackOutcome{Detail: "ignored: malformed payload"}, fmt.Errorf("%w: %v", ErrCallbackNotFound, err)
	}
	if cb.CheckoutRequestID == "" {
		s.log.Warn("callback ignored: no checkout request id")
		return &CallbackOutcome{Detail: "ignored: missing checkout request id"}, ErrCallbackNotFound
	}

	log := s.log.With(
		zap.String("checkout_request_id", cb.CheckoutRequestID),
		zap.Int("result_code", cb.ResultCode))

	var (
		d       *Details
		applied bool
		out     = &CallbackOutcome{Accepted: true}
	)
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		p, err := tx.GetPaymentByCheckoutRequestID(ctx, cb.CheckoutRequestID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrCallbackNotFound
		}
		if err != nil {
			return err
		}
		o, err := tx.GetOrderByReference(ctx, p.OrderReference)
		if err != nil {
			return err
		}
		out.Reference = p.OrderReference

		// A retry supersedes the earlier prompt but the customer may still
		// pay on it. Its success counts; its failure says nothing about the
		// prompt that is live now.
		superseded := cb.CheckoutRequestID != p.CheckoutRequestID
		code := strconv.Itoa(cb.ResultCode)
		switch {
		case cb.Success && p.Status == models.PaymentSuccess:
			out.Detail = "duplicate: payment already succeeded"
		case cb.Success:
			p.Status = models.PaymentSuccess
			p.ResultCode = code
			p.ResultDesc = cb.ResultDesc
			p.FailureReason = ""
			p.ReceiptNumber = cb.ReceiptNumber()
			p.TransactionID = cb.ReceiptNumber()
			applied = true
			out.Detail = "payment succeeded"
			if superseded {
				log.Warn("payment settled by a superseded prompt",
					zap.String("current_checkout_request_id", p.CheckoutRequestID))
				out.Detail = "payment succeeded on an earlier prompt"
			}
		case p.Status == models.PaymentSuccess:
			out.Detail = "ignored: payment already succeeded"
		case superseded:
			out.Detail = "ignored: superseded prompt"
		case p.Status == models.PaymentFailed && p.ResultCode == code:
			out.Detail = "duplicate: payment already failed"
		default:
			p.Status = models.PaymentFailed
			p.ResultCode = code
			p.ResultDesc = cb.ResultDesc
			p.FailureReason = cb.ResultDesc
			applied = true
			out.Detail = "payment failed"
		}

		if applied {
			now := s.now()
			p.UpdatedAt = now
			if err := tx.UpdatePayment(ctx, p); err != nil {
				return err
			}
			target := models.OrderPaymentFailed
			if p.Status == models.PaymentSuccess {
				target = models.OrderPlaced
			}
			if settles(o.Status, target) {
				o.Status = target
				o.UpdatedAt = now
				if err := tx.UpdateOrder(ctx, o); err != nil {
					return err
				}
			} else if o.Status != target {
				log.Warn("order status left unchanged by callback",
					zap.String("order_status", string(o.Status)),
					zap.String("wanted", string(target)))
			}
		}

		out.PaymentStatus = p.Status
		out.OrderStatus = o.Status
		d = &Details{Order: o, Payment: p}
		if applied && p.Status == models.PaymentSuccess {
			if d.Address, err = tx.GetAddress(ctx, o.AddressID); err != nil {
				return err
			}
			if d.Items, err = tx.ListOrderItems(ctx, o.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, ErrCallbackNotFound) {
		log.Warn("callback ignored: unknown checkout request")
		return &CallbackOutcome{Detail: "ignored: unknown checkout request"}, err
	}
	if err != nil {
		err = persistence(err)
		log.Error("callback processing failed", zap.Error(err))
		return nil, err
	}

	log = log.With(zap.String("order_reference", out.Reference))
	if !applied {
		log.Info("callback had no effect", zap.String("detail", out.Detail))
		return out, nil
	}

	log.Info("callback applied",
		zap.String("payment_status", string(out.PaymentStatus)),
		zap.String("order_status", string(out.OrderStatus)))
	if d.Payment.Status == models.PaymentSuccess {
		s.notifier.Notify(ctx, d.Order.UserID, fmt.Sprintf("Payment of %s for order %s received. Receipt %s.",
			email.FormatAmount(d.Payment.Amount), d.Order.Reference, d.Payment.ReceiptNumber))
		s.sendOrderConfirmation(ctx, d)
	} else {
		s.notifier.Notify(ctx, d.Order.UserID, fmt.Sprintf("Payment for order %s failed: %s. You can retry from your orders page.",
			d.Order.Reference, d.Payment.FailureReason))
	}
	return out, nil
}

// RetryPayment sends a fresh STK push for an unpaid M-Pesa order. There is no
// cap on the number of attempts.
func (s *Service) RetryPayment(ctx context.Context, userID, reference, phone string) (*mpesa.InitiateResult, error) {
	log := s.log.With(zap.String("user_id", userID), zap.String("order_reference", reference))

	var payment *models.Payment
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		o, err := tx.GetOrderByReference(ctx, reference)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrOrderNotFound, reference)
		}
		if err != nil {
			return err
		}
		if o.UserID != userID {
			return ErrForbidden
		}
		p, err := tx.GetPaymentByReference(ctx, reference)
		if err != nil {
			return err
		}
		if err := retryable(o, p); err != nil {
			return err
		}
		if phone == "" {
			addr, err := tx.GetAddress(ctx, o.AddressID)
			if err != nil {
				return err
			}
			phone = addr.Phone
		}
		payment = p
		return nil
	})
	if err != nil {
		err = persistence(err)
		log.Info("payment retry rejected", zap.String("error_kind", Kind(err)), zap.Error(err))
		return nil, err
	}

	res := s.gateway.InitiatePayment(ctx, phone, payment.Amount, reference)
	if !res.Success {
		log.Warn("payment retry initiation failed", zap.String("error", res.Error))
		return &res, fmt.Errorf("%w: %s", ErrGatewayUnavailable, res.Error)
	}

	var userMsg string
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		p, err := tx.GetPaymentByReference(ctx, reference)
		if err != nil {
			return err
		}
		if p.Status == models.PaymentSuccess {
			// A callback for the previous attempt landed meanwhile.
			return nil
		}
		now := s.now()
		p.Status = models.PaymentPending
		p.CheckoutRequestID = res.CheckoutRequestID
		p.MerchantRequestID = res.MerchantRequestID
		p.FailureReason = ""
		p.UpdatedAt = now
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return err
		}

		o, err := tx.GetOrderByReference(ctx, reference)
		if err != nil {
			return err
		}
		if o.Status == models.OrderPaymentFailed {
			o.Status = models.OrderPendingPayment
			o.UpdatedAt = now
			if err := tx.UpdateOrder(ctx, o); err != nil {
				return err
			}
		}
		userMsg = fmt.Sprintf("A new M-Pesa prompt for order %s has been sent to your phone.", reference)
		return nil
	})
	if err != nil {
		err = persistence(err)
		log.Error("failed to record payment retry",
			zap.String("checkout_request_id", res.CheckoutRequestID), zap.Error(err))
		return nil, err
	}

	log.Info("payment retry initiated", zap.String("checkout_request_id", res.CheckoutRequestID))
	if userMsg != "" {
		s.notifier.Notify(ctx, userID, userMsg)
	}
	return &res, nil
}

func retryable(o *models.Order, p *models.Payment) error {
	if p.Method != models.PaymentMethodMPesa {
		return fmt.Errorf("%w: %s orders are not paid through M-Pesa", ErrRetryNotAllowed, p.Method)
	}
	if p.Status == models.PaymentSuccess {
		return fmt.Errorf("%w: payment already succeeded", ErrRetryNotAllowed)
	}
	if o.Status != models.OrderPendingPayment && o.Status != models.OrderPaymentFailed {
		return fmt.Errorf("%w: order is %s", ErrRetryNotAllowed, o.Status)
	}
	return nil
}
