package order

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/phk-shop/internal/models"
)

func callbackBody(checkoutID string, code int, desc, receipt string) []byte {
	meta := ""
	if receipt != "" {
		meta = fmt.Sprintf(`,"CallbackMetadata":{"Item":[{"Name":"Amount","Value":1000},{"Name":"MpesaReceiptNumber","Value":%q}]}`, receipt)
	}
	return []byte(fmt.Sprintf(`{"Body":{"stkCallback":{"MerchantRequestID":"mr","CheckoutRequestID":%q,"ResultCode":%d,"ResultDesc":%q%s}}}`,
		checkoutID, code, desc, meta))
}

// placeMPesaOrder checks out 2 x 500 with M-Pesa for user-1.
func placeMPesaOrder(t *testing.T, env *testEnv) *Details {
	t.Helper()
	env.addToCart(t, "user-1", "prod-a", 2, "")
	d, err := env.svc.CreateOrder(context.Background(), "user-1", checkout(models.PaymentMethodMPesa, "1000"))
	require.NoError(t, err)
	require.True(t, d.Initiation.Success)
	return d
}

func (e *testEnv) load(t *testing.T, reference string) *Details {
	t.Helper()
	d, err := e.svc.GetOrder(context.Background(), "", true, reference)
	require.NoError(t, err)
	return d
}

// ============================================
// ProcessCallback
// ============================================

func TestProcessCallback_CancelledByUser(t *testing.T) {
	env := newTestOrderService(t)
	d := placeMPesaOrder(t, env)
	assert.Equal(t, models.OrderPendingPayment, d.Order.Status)

	out, err := env.svc.ProcessCallback(context.Background(),
		callbackBody(d.Payment.CheckoutRequestID, 1032, "Request cancelled by user", ""))
	require.NoError(t, err)
	assert.True(t, out.Accepted)
	assert.Equal(t, "PHK-001", out.Reference)

	got := env.load(t, "PHK-001")
	assert.Equal(t, models.OrderPaymentFailed, got.Order.Status)
	assert.Equal(t, models.PaymentFailed, got.Payment.Status)
	assert.Equal(t, "1032", got.Payment.ResultCode)
	assert.Equal(t, "Request cancelled by user", got.Payment.ResultDesc)
	assert.Equal(t, "Request cancelled by user", got.Payment.FailureReason)

	last := env.notifier.notices[len(env.notifier.notices)-1]
	assert.Contains(t, last.Message, "failed")
	assert.Empty(t, env.mailer.confirmations)
}

func TestProcessCallback_Success(t *testing.T) {
	env := newTestOrderService(t)
	d := placeMPesaOrder(t, env)

	out, err := env.svc.ProcessCallback(context.Background(),
		callbackBody(d.Payment.CheckoutRequestID, 0, "The service request is processed successfully.", "NLJ7RT61SV"))
	require.NoError(t, err)
	assert.Equal(t, models.PaymentSuccess, out.PaymentStatus)
	assert.Equal(t, models.OrderPlaced, out.OrderStatus)

	got := env.load(t, "PHK-001")
	assert.Equal(t, models.OrderPlaced, got.Order.Status)
	assert.Equal(t, models.PaymentSuccess, got.Payment.Status)
	assert.Equal(t, "0", got.Payment.ResultCode)
	assert.Equal(t, "NLJ7RT61SV", got.Payment.ReceiptNumber)
	assert.Equal(t, "NLJ7RT61SV", got.Payment.TransactionID)

	require.Len(t, env.mailer.confirmations, 1)
	assert.Equal(t, "PHK-001", env.mailer.confirmations[0].Reference)
	assert.Len(t, env.mailer.confirmations[0].Items, 1)
}

func TestProcessCallback_SuccessNeverRegresses(t *testing.T) {
	env := newTestOrderService(t)
	ctx := context.Background()
	d := placeMPesaOrder(t, env)
	id := d.Payment.CheckoutRequestID

	_, err := env.svc.ProcessCallback(ctx, callbackBody(id, 0, "ok", "NLJ7RT61SV"))
	require.NoError(t, err)
	notices := env.notifier.count()

	for _, code := range []int{1, 1032, 2001} {
		out, err := env.svc.ProcessCallback(ctx, callbackBody(id, code, "late failure", ""))
		require.NoError(t, err)
		assert.True(t, out.Accepted)
		assert.Contains(t, out.Detail, "ignored")
	}

	out, err := env.svc.ProcessCallback(ctx, callbackBody(id, 0, "ok", "NLJ7RT61SV"))
	require.NoError(t, err)
	assert.Contains(t, out.Detail, "duplicate")

	got := env.load(t, "PHK-001")
	assert.Equal(t, models.PaymentSuccess, got.Payment.Status)
	assert.Equal(t, models.OrderPlaced, got.Order.Status)
	assert.Equal(t, "0", got.Payment.ResultCode)
	assert.Equal(t, notices, env.notifier.count(), "replays have no side effects")
	assert.Len(t, env.mailer.confirmations, 1)
}

func TestProcessCallback_DuplicateFailureIsNoop(t *testing.T) {
	env := newTestOrderService(t)
	ctx := context.Background()
	d := placeMPesaOrder(t, env)
	body := callbackBody(d.Payment.CheckoutRequestID, 1032, "Request cancelled by user", "")

	_, err := env.svc.ProcessCallback(ctx, body)
	require.NoError(t, err)
	before := env.load(t, "PHK-001")
	notices := env.notifier.count()

	out, err := env.svc.ProcessCallback(ctx, body)
	require.NoError(t, err)
	assert.Contains(t, out.Detail, "duplicate")
	assert.Equal(t, before.Payment, env.load(t, "PHK-001").Payment)
	assert.Equal(t, notices, env.notifier.count())
}

func TestProcessCallback_SuccessAfterFailure(t *testing.T) {
	env := newTestOrderService(t)
	ctx := context.Background()
	d := placeMPesaOrder(t, env)
	id := d.Payment.CheckoutRequestID

	_, err := env.svc.ProcessCallback(ctx, callbackBody(id, 2001, "The initiator information is invalid.", ""))
	require.NoError(t, err)
	_, err = env.svc.ProcessCallback(ctx, callbackBody(id, 0, "ok", "QWE123"))
	require.NoError(t, err)

	got := env.load(t, "PHK-001")
	assert.Equal(t, models.PaymentSuccess, got.Payment.Status)
	assert.Equal(t, models.OrderPlaced, got.Order.Status)
	assert.Empty(t, got.Payment.FailureReason)
}

func TestProcessCallback_SuccessOnCanceledOrderKeepsStatus(t *testing.T) {
	env := newTestOrderService(t)
	ctx := context.Background()
	d := placeMPesaOrder(t, env)
	_, err := env.svc.UpdateOrderStatus(ctx, d.Order.ID, string(models.OrderCanceled), "admin-1")
	require.NoError(t, err)

	out, err := env.svc.ProcessCallback(ctx, callbackBody(d.Payment.CheckoutRequestID, 0, "ok", "ABC"))
	require.NoError(t, err)
	assert.Equal(t, models.PaymentSuccess, out.PaymentStatus)
	assert.Equal(t, models.OrderCanceled, out.OrderStatus)
}

func TestProcessCallback_Unmatched(t *testing.T) {
	tests := []struct {
		name string
		body []byte
	}{
		{"unknown checkout id", callbackBody("ws_CO_999", 0, "ok", "X")},
		{"missing checkout id", callbackBody("", 0, "ok", "X")},
		{"malformed", []byte(`{"Body":`)},
		{"not a callback", []byte(`{"hello":"world"}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestOrderService(t)
			placeMPesaOrder(t, env)
			before := env.load(t, "PHK-001")
			notices := env.notifier.count()

			out, err := env.svc.ProcessCallback(context.Background(), tt.body)

			assert.ErrorIs(t, err, ErrCallbackNotFound)
			require.NotNil(t, out)
			assert.False(t, out.Accepted)
			assert.Contains(t, out.Detail, "ignored")
			after := env.load(t, "PHK-001")
			assert.Equal(t, before.Payment, after.Payment)
			assert.Equal(t, before.Order, after.Order)
			assert.Equal(t, notices, env.notifier.count())
		})
	}
}

func TestProcessCallback_CODOrdersNeverMatch(t *testing.T) {
	env := newTestOrderService(t)
	env.addToCart(t, "user-1", "prod-a", 1, "")
	_, err := env.svc.CreateOrder(context.Background(), "user-1", checkout(models.PaymentMethodCOD, "500"))
	require.NoError(t, err)

	_, err = env.svc.ProcessCallback(context.Background(), callbackBody("", 0, "ok", "X"))
	assert.ErrorIs(t, err, ErrCallbackNotFound)
	assert.Equal(t, models.PaymentPending, env.load(t, "PHK-001").Payment.Status)
}

// ============================================
// RetryPayment
// ============================================

func TestRetryPayment_AfterFailure(t *testing.T) {
	env := newTestOrderService(t)
	ctx := context.Background()
	d := placeMPesaOrder(t, env)
	oldID := d.Payment.CheckoutRequestID
	_, err := env.svc.ProcessCallback(ctx, callbackBody(oldID, 1032, "Request cancelled by user", ""))
	require.NoError(t, err)

	res, err := env.svc.RetryPayment(ctx, "user-1", "PHK-001", "0799000111")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "ws_CO_002", res.CheckoutRequestID)
	assert.Equal(t, "0799000111", env.gateway.lastCall(t).Phone)

	got := env.load(t, "PHK-001")
	assert.Equal(t, models.OrderPendingPayment, got.Order.Status)
	assert.Equal(t, models.PaymentPending, got.Payment.Status)
	assert.Equal(t, "ws_CO_002", got.Payment.CheckoutRequestID)
	assert.Empty(t, got.Payment.FailureReason)

	// A redelivered failure for the first prompt does not touch the live one.
	out, err := env.svc.ProcessCallback(ctx, callbackBody(oldID, 1032, "Request cancelled by user", ""))
	require.NoError(t, err)
	assert.Equal(t, "ignored: superseded prompt", out.Detail)
	got = env.load(t, "PHK-001")
	assert.Equal(t, models.OrderPendingPayment, got.Order.Status)
	assert.Equal(t, models.PaymentPending, got.Payment.Status)

	_, err = env.svc.ProcessCallback(ctx, callbackBody("ws_CO_002", 0, "ok", "NEW123"))
	require.NoError(t, err)
	got = env.load(t, "PHK-001")
	assert.Equal(t, models.OrderPlaced, got.Order.Status)
	assert.Equal(t, "NEW123", got.Payment.ReceiptNumber)
}

func TestRetryPayment_EarlierPromptStillPays(t *testing.T) {
	env := newTestOrderService(t)
	ctx := context.Background()
	d := placeMPesaOrder(t, env)
	firstID := d.Payment.CheckoutRequestID

	// Retry while the first prompt is still unanswered.
	res, err := env.svc.RetryPayment(ctx, "user-1", "PHK-001", "")
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_002", res.CheckoutRequestID)
	confirmations := len(env.mailer.confirmations)

	out, err := env.svc.ProcessCallback(ctx, callbackBody(firstID, 0, "The service request is processed successfully.", "PAID001"))
	require.NoError(t, err)
	assert.True(t, out.Accepted)
	assert.Equal(t, models.PaymentSuccess, out.PaymentStatus)
	assert.Equal(t, models.OrderPlaced, out.OrderStatus)

	got := env.load(t, "PHK-001")
	assert.Equal(t, models.PaymentSuccess, got.Payment.Status)
	assert.Equal(t, models.OrderPlaced, got.Order.Status)
	assert.Equal(t, "PAID001", got.Payment.ReceiptNumber)
	assert.Len(t, env.mailer.confirmations, confirmations+1)

	// The customer dismisses the second prompt afterwards.
	out, err = env.svc.ProcessCallback(ctx, callbackBody("ws_CO_002", 1032, "Request cancelled by user", ""))
	require.NoError(t, err)
	assert.Equal(t, "ignored: payment already succeeded", out.Detail)
	got = env.load(t, "PHK-001")
	assert.Equal(t, models.PaymentSuccess, got.Payment.Status)
	assert.Equal(t, models.OrderPlaced, got.Order.Status)
	assert.Equal(t, "PAID001", got.Payment.ReceiptNumber)

	_, err = env.svc.RetryPayment(ctx, "user-1", "PHK-001", "")
	assert.ErrorIs(t, err, ErrRetryNotAllowed)
}

func TestProcessCallback_SupersededFailureIsInert(t *testing.T) {
	env := newTestOrderService(t)
	ctx := context.Background()
	d := placeMPesaOrder(t, env)
	firstID := d.Payment.CheckoutRequestID

	_, err := env.svc.RetryPayment(ctx, "user-1", "PHK-001", "")
	require.NoError(t, err)
	before := env.notifier.count()

	out, err := env.svc.ProcessCallback(ctx, callbackBody(firstID, 1037, "DS timeout user cannot be reached", ""))
	require.NoError(t, err)
	assert.True(t, out.Accepted)
	assert.Equal(t, "ignored: superseded prompt", out.Detail)
	assert.Equal(t, before, env.notifier.count())

	got := env.load(t, "PHK-001")
	assert.Equal(t, models.PaymentPending, got.Payment.Status)
	assert.Equal(t, models.OrderPendingPayment, got.Order.Status)
	assert.Equal(t, "ws_CO_002", got.Payment.CheckoutRequestID)
	assert.Empty(t, got.Payment.ResultCode)
}

func TestRetryPayment_DefaultsToAddressPhone(t *testing.T) {
	env := newTestOrderService(t)
	placeMPesaOrder(t, env)

	_, err := env.svc.RetryPayment(context.Background(), "user-1", "PHK-001", "")
	require.NoError(t, err)
	assert.Equal(t, "0712345678", env.gateway.lastCall(t).Phone)
}

func TestRetryPayment_Unbounded(t *testing.T) {
	env := newTestOrderService(t)
	ctx := context.Background()
	placeMPesaOrder(t, env)

	for i := 2; i <= 6; i++ {
		id := fmt.Sprintf("ws_CO_%03d", i-1)
		_, err := env.svc.ProcessCallback(ctx, callbackBody(id, 1, "The balance is insufficient for the transaction.", ""))
		require.NoError(t, err)
		res, err := env.svc.RetryPayment(ctx, "user-1", "PHK-001", "")
		require.NoError(t, err, "attempt %d", i)
		assert.Equal(t, fmt.Sprintf("ws_CO_%03d", i), res.CheckoutRequestID)
	}
}

func TestRetryPayment_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T, env *testEnv) string
		userID  string
		wantErr error
	}{
		{
			name:    "unknown order",
			setup:   func(t *testing.T, env *testEnv) string { return "PHK-404" },
			userID:  "user-1",
			wantErr: ErrOrderNotFound,
		},
		{
			name: "not the owner",
			setup: func(t *testing.T, env *testEnv) string {
				return placeMPesaOrder(t, env).Order.Reference
			},
			userID:  "user-2",
			wantErr: ErrForbidden,
		},
		{
			name: "cash on delivery",
			setup: func(t *testing.T, env *testEnv) string {
				env.addToCart(t, "user-1", "prod-a", 1, "")
				d, err := env.svc.CreateOrder(context.Background(), "user-1", checkout(models.PaymentMethodCOD, "500"))
				require.NoError(t, err)
				return d.Order.Reference
			},
			userID:  "user-1",
			wantErr: ErrRetryNotAllowed,
		},
		{
			name: "already paid",
			setup: func(t *testing.T, env *testEnv) string {
				d := placeMPesaOrder(t, env)
				_, err := env.svc.ProcessCallback(context.Background(), callbackBody(d.Payment.CheckoutRequestID, 0, "ok", "R1"))
				require.NoError(t, err)
				return d.Order.Reference
			},
			userID:  "user-1",
			wantErr: ErrRetryNotAllowed,
		},
		{
			name: "canceled order",
			setup: func(t *testing.T, env *testEnv) string {
				d := placeMPesaOrder(t, env)
				_, err := env.svc.UpdateOrderStatus(context.Background(), d.Order.ID, string(models.OrderCanceled), "admin-1")
				require.NoError(t, err)
				return d.Order.Reference
			},
			userID:  "user-1",
			wantErr: ErrRetryNotAllowed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestOrderService(t)
			ref := tt.setup(t, env)
			calls := len(env.gateway.calls)

			_, err := env.svc.RetryPayment(context.Background(), tt.userID, ref, "")

			assert.ErrorIs(t, err, tt.wantErr)
			assert.Len(t, env.gateway.calls, calls, "gateway is not contacted")
		})
	}
}

func TestRetryPayment_GatewayFailure(t *testing.T) {
	env := newTestOrderService(t)
	ctx := context.Background()
	d := placeMPesaOrder(t, env)
	_, err := env.svc.ProcessCallback(ctx, callbackBody(d.Payment.CheckoutRequestID, 1032, "Request cancelled by user", ""))
	require.NoError(t, err)
	before := env.load(t, "PHK-001")

	env.gateway.fail = "mpesa gateway error: http 503"
	res, err := env.svc.RetryPayment(ctx, "user-1", "PHK-001", "")

	assert.ErrorIs(t, err, ErrGatewayUnavailable)
	assert.Equal(t, KindGatewayUnavailable, Kind(err))
	require.NotNil(t, res)
	assert.False(t, res.Success)
	after := env.load(t, "PHK-001")
	assert.Equal(t, before.Payment, after.Payment)
	assert.Equal(t, models.OrderPaymentFailed, after.Order.Status)
}
