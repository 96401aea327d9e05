package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func sampleConfirmation() OrderConfirmation {
	return OrderConfirmation{
		To:            "jane@example.com",
		CustomerName:  "Jane Wanjiru",
		Reference:     "PHK-001",
		PaymentMethod: "COD",
		Items: []LineItem{
			{ProductID: "p1", Name: "Galaxy A15", Quantity: 2, UnitPrice: decimal.NewFromInt(500)},
			{ProductID: "p2", Name: "<script>", Variation: "128GB", Quantity: 1, UnitPrice: decimal.RequireFromString("12500.5")},
		},
		Total: decimal.RequireFromString("13500.5"),
	}
}

// ============================================
// Templates
// ============================================

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0", "KES 0.00"},
		{"999.4", "KES 999.40"},
		{"1000", "KES 1,000.00"},
		{"1234567.891", "KES 1,234,567.89"},
		{"-2500", "KES -2,500.00"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatAmount(decimal.RequireFromString(tt.in)))
		})
	}
}

func TestBuildOrderConfirmationBody(t *testing.T) {
	body := BuildOrderConfirmationBody(sampleConfirmation())

	assert.Contains(t, body, "PHK-001")
	assert.Contains(t, body, "Hello Jane Wanjiru")
	assert.Contains(t, body, "Galaxy A15")
	assert.Contains(t, body, "KES 1,000.00")
	assert.Contains(t, body, "KES 13,500.50")
	assert.Contains(t, body, "Cash on delivery")
	assert.Contains(t, body, "&lt;script&gt; (128GB)")
	assert.NotContains(t, body, "<script>")
}

func TestBuildPaymentReceiptBody(t *testing.T) {
	body := BuildPaymentReceiptBody(PaymentReceipt{
		Reference:     "PHK-002",
		Method:        "MPESA",
		Amount:        decimal.NewFromInt(1000),
		ReceiptNumber: "NLJ7RT61SV",
		PaidAt:        time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC),
	})

	assert.Contains(t, body, "Hello customer")
	assert.Contains(t, body, "NLJ7RT61SV")
	assert.Contains(t, body, "M-Pesa")
	assert.Contains(t, body, "01 Mar 2024 09:30")
}

func TestBuildShipmentUpdateBody(t *testing.T) {
	body := BuildShipmentUpdateBody(ShipmentUpdate{
		CustomerName: "Jane",
		Reference:    "PHK-003",
		OldStatus:    "Packing",
		NewStatus:    "Out for Delivery",
	})

	assert.Contains(t, body, "<strong>Packing</strong> to <strong>Out for Delivery</strong>")
	assert.Contains(t, body, "Order update: Out for Delivery")
}

// ============================================
// SMTP service
// ============================================

func TestService_NewMessage(t *testing.T) {
	s := NewService(Config{Host: "localhost", Port: 1025, From: "shop@example.com"}, zap.NewNop())

	msg, err := s.newMessage("jane@example.com", "Order confirmation PHK-001", "<p>hi</p>")
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = msg.WriteTo(&buf)
	require.NoError(t, err)
	raw := buf.String()
	assert.Contains(t, raw, "Subject: Order confirmation PHK-001")
	assert.Contains(t, raw, "<jane@example.com>")
	assert.Contains(t, raw, "<shop@example.com>")
	assert.Contains(t, raw, "text/html")
}

func TestService_RejectsMissingRecipient(t *testing.T) {
	s := NewService(Config{Host: "localhost", Port: 1025, From: "shop@example.com"}, zap.NewNop())

	err := s.SendShipmentUpdate(context.Background(), ShipmentUpdate{Reference: "PHK-001"})
	assert.ErrorIs(t, err, ErrNoRecipient)
}

func TestService_RejectsBadRecipient(t *testing.T) {
	s := NewService(Config{Host: "localhost", Port: 1025, From: "shop@example.com"}, zap.NewNop())

	_, err := s.newMessage("not an address", "x", "y")
	assert.ErrorContains(t, err, "recipient address")
}

// ============================================
// Queue
// ============================================

type recordingPublisher struct {
	keys     []string
	payloads [][]byte
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, key string, event any) error {
	if p.err != nil {
		return p.err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	p.keys = append(p.keys, key)
	p.payloads = append(p.payloads, data)
	return nil
}

type recordingSender struct {
	confirmations []OrderConfirmation
	receipts      []PaymentReceipt
	updates       []ShipmentUpdate
}

func (s *recordingSender) SendOrderConfirmation(_ context.Context, m OrderConfirmation) error {
	s.confirmations = append(s.confirmations, m)
	return nil
}

func (s *recordingSender) SendPaymentReceipt(_ context.Context, m PaymentReceipt) error {
	s.receipts = append(s.receipts, m)
	return nil
}

func (s *recordingSender) SendShipmentUpdate(_ context.Context, m ShipmentUpdate) error {
	s.updates = append(s.updates, m)
	return nil
}

func TestQueuedSender_RoundTripsThroughDeliver(t *testing.T) {
	pub := &recordingPublisher{}
	q := NewQueuedSender(pub)
	ctx := context.Background()

	require.NoError(t, q.SendOrderConfirmation(ctx, sampleConfirmation()))
	require.NoError(t, q.SendPaymentReceipt(ctx, PaymentReceipt{Reference: "PHK-001", Amount: decimal.NewFromInt(10)}))
	require.NoError(t, q.SendShipmentUpdate(ctx, ShipmentUpdate{Reference: "PHK-001", NewStatus: "Shipped"}))
	assert.Equal(t, []string{"PHK-001", "PHK-001", "PHK-001"}, pub.keys)

	sender := &recordingSender{}
	for _, data := range pub.payloads {
		job, err := DecodeJob(data)
		require.NoError(t, err)
		require.NoError(t, Deliver(ctx, sender, job))
	}

	require.Len(t, sender.confirmations, 1)
	assert.Equal(t, "jane@example.com", sender.confirmations[0].To)
	assert.True(t, sender.confirmations[0].Total.Equal(decimal.RequireFromString("13500.5")))
	require.Len(t, sender.receipts, 1)
	require.Len(t, sender.updates, 1)
	assert.Equal(t, "Shipped", sender.updates[0].NewStatus)
}

func TestQueuedSender_PublishError(t *testing.T) {
	q := NewQueuedSender(&recordingPublisher{err: errors.New("broker down")})

	err := q.SendShipmentUpdate(context.Background(), ShipmentUpdate{Reference: "PHK-001"})
	assert.ErrorContains(t, err, "enqueue shipment_update email")
}

func TestDeliver_RejectsMismatchedJob(t *testing.T) {
	err := Deliver(context.Background(), &recordingSender{}, &Job{Kind: JobPaymentReceipt})
	assert.Error(t, err)

	_, err = DecodeJob([]byte("nope"))
	assert.Error(t, err)
}
