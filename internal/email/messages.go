package email

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Sender delivers the transactional emails of the order lifecycle.
type Sender interface {
	SendOrderConfirmation(ctx context.Context, m OrderConfirmation) error
	SendPaymentReceipt(ctx context.Context, m PaymentReceipt) error
	SendShipmentUpdate(ctx context.Context, m ShipmentUpdate) error
}

// LineItem represents an item in an order for email purposes
type LineItem struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Variation string          `json:"variation,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func (i LineItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type OrderConfirmation struct {
	To            string          `json:"to"`
	CustomerName  string          `json:"customer_name"`
	Reference     string          `json:"reference"`
	PaymentMethod string          `json:"payment_method"`
	Items         []LineItem      `json:"items"`
	Total         decimal.Decimal `json:"total"`
}

type PaymentReceipt struct {
	To            string          `json:"to"`
	CustomerName  string          `json:"customer_name"`
	Reference     string          `json:"reference"`
	Method        string          `json:"method"`
	Amount        decimal.Decimal `json:"amount"`
	ReceiptNumber string          `json:"receipt_number,omitempty"`
	PaidAt        time.Time       `json:"paid_at"`
}

type ShipmentUpdate struct {
	To           string `json:"to"`
	CustomerName string `json:"customer_name"`
	Reference    string `json:"reference"`
	OldStatus    string `json:"old_status"`
	NewStatus    string `json:"new_status"`
}

type JobKind string

const (
	JobOrderConfirmation JobKind = "order_confirmation"
	JobPaymentReceipt    JobKind = "payment_receipt"
	JobShipmentUpdate    JobKind = "shipment_update"
)

// Job is the queued form of one email. Exactly one payload is set, matching Kind.
type Job struct {
	Kind              JobKind            `json:"kind"`
	OrderConfirmation *OrderConfirmation `json:"order_confirmation,omitempty"`
	PaymentReceipt    *PaymentReceipt    `json:"payment_receipt,omitempty"`
	ShipmentUpdate    *ShipmentUpdate    `json:"shipment_update,omitempty"`
}

func DecodeJob(data []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode email job: %w", err)
	}
	return &job, nil
}

// Deliver hands job to sender.
func Deliver(ctx context.Context, sender Sender, job *Job) error {
	switch {
	case job.Kind == JobOrderConfirmation && job.OrderConfirmation != nil:
		return sender.SendOrderConfirmation(ctx, *job.OrderConfirmation)
	case job.Kind == JobPaymentReceipt && job.PaymentReceipt != nil:
		return sender.SendPaymentReceipt(ctx, *job.PaymentReceipt)
	case job.Kind == JobShipmentUpdate && job.ShipmentUpdate != nil:
		return sender.SendShipmentUpdate(ctx, *job.ShipmentUpdate)
	default:
		return fmt.Errorf("unsupported email job %q", job.Kind)
	}
}
