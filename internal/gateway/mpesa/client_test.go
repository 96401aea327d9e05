package mpesa

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeDaraja struct {
	tokenCalls atomic.Int32
	pushCalls  atomic.Int32
	mu         sync.Mutex
	lastPush   stkPushRequest
	pushStatus int
	pushBody   string
	delay      time.Duration
}

func (f *fakeDaraja) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		user, pass, ok := r.BasicAuth()
		if !ok || user != "key" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"tok-123","expires_in":"3599"}`))
	})
	mux.HandleFunc(stkPushPath, func(w http.ResponseWriter, r *http.Request) {
		f.pushCalls.Add(1)
		if f.delay > 0 {
			select {
			case <-time.After(f.delay):
			case <-r.Context().Done():
				return
			}
		}
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		var push stkPushRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&push))
		f.mu.Lock()
		f.lastPush = push
		f.mu.Unlock()
		if f.pushStatus != 0 {
			w.WriteHeader(f.pushStatus)
		}
		body := f.pushBody
		if body == "" {
			body = `{"MerchantRequestID":"29115-34620561-1","CheckoutRequestID":"ws_CO_191220191020363925",
				"ResponseCode":"0","ResponseDescription":"Success. Request accepted for processing",
				"CustomerMessage":"Success. Request accepted for processing"}`
		}
		_, _ = w.Write([]byte(body))
	})
	return mux
}

func (f *fakeDaraja) push() stkPushRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastPush
}

func newTestClient(t *testing.T, f *fakeDaraja, timeout time.Duration) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	c := NewClient(Config{
		BaseURL:        srv.URL,
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		ShortCode:      "174379",
		PassKey:        "passkey",
		CallbackURL:    "https://shop.example/api/payments/mpesa/callback",
		Timeout:        timeout,
	}, NewMemoryTokenCache(), zap.NewNop())
	c.now = func() time.Time { return time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC) }
	return c
}

// ============================================
// Access token
// ============================================

func TestClient_GetAccessToken_Caches(t *testing.T) {
	f := &fakeDaraja{}
	c := newTestClient(t, f, time.Second)
	ctx := context.Background()

	tok, err := c.GetAccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-123", tok)

	_, err = c.GetAccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.tokenCalls.Load())
}

func TestClient_GetAccessToken_BadCredentials(t *testing.T) {
	f := &fakeDaraja{}
	c := newTestClient(t, f, time.Second)
	c.cfg.ConsumerSecret = "wrong"

	_, err := c.GetAccessToken(context.Background())
	assert.ErrorIs(t, err, ErrGateway)
	assert.ErrorContains(t, err, "http 401")
}

// ============================================
// STK push
// ============================================

func TestClient_InitiatePayment_Success(t *testing.T) {
	f := &fakeDaraja{}
	c := newTestClient(t, f, time.Second)

	res := c.InitiatePayment(context.Background(), "0712345678", decimal.RequireFromString("999.40"), "PHK-001")

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "ws_CO_191220191020363925", res.CheckoutRequestID)
	assert.Equal(t, "29115-34620561-1", res.MerchantRequestID)

	push := f.push()
	assert.Equal(t, "254712345678", push.PhoneNumber)
	assert.Equal(t, "254712345678", push.PartyA)
	assert.Equal(t, int64(1000), push.Amount, "amount rounds up to whole shillings")
	assert.Equal(t, "PHK-001", push.AccountReference)
	assert.Equal(t, "20240301093000", push.Timestamp)
	assert.Equal(t, TransactionPayBill, push.TransactionType)
	want := base64.StdEncoding.EncodeToString([]byte("174379passkey20240301093000"))
	assert.Equal(t, want, push.Password)
}

func TestClient_InitiatePayment_Failures(t *testing.T) {
	tests := []struct {
		name    string
		fake    *fakeDaraja
		phone   string
		amount  string
		timeout time.Duration
		want    string
	}{
		{name: "invalid phone", phone: "12", amount: "10", want: "invalid phone"},
		{name: "zero amount", phone: "0712345678", amount: "0", want: "amount must be positive"},
		{
			name:   "rejected by gateway",
			fake:   &fakeDaraja{pushBody: `{"ResponseCode":"1","ResponseDescription":"Rejected"}`},
			phone:  "0712345678",
			amount: "10",
			want:   "Rejected",
		},
		{
			name:   "non-2xx",
			fake:   &fakeDaraja{pushStatus: http.StatusBadRequest, pushBody: `{"requestId":"r","errorCode":"400.002.02","errorMessage":"Bad Request - Invalid PhoneNumber"}`},
			phone:  "0712345678",
			amount: "10",
			want:   "Invalid PhoneNumber",
		},
		{
			name:   "server error without body",
			fake:   &fakeDaraja{pushStatus: http.StatusInternalServerError, pushBody: "oops"},
			phone:  "0712345678",
			amount: "10",
			want:   "http 500",
		},
		{
			name:    "timeout",
			fake:    &fakeDaraja{delay: 500 * time.Millisecond},
			phone:   "0712345678",
			amount:  "10",
			timeout: 50 * time.Millisecond,
			want:    "mpesa gateway error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			timeout := tt.timeout
			if timeout == 0 {
				timeout = time.Second
			}
			fake := tt.fake
			if fake == nil {
				fake = &fakeDaraja{}
			}
			c := newTestClient(t, fake, timeout)

			res := c.InitiatePayment(context.Background(), tt.phone, decimal.RequireFromString(tt.amount), "PHK-002")

			assert.False(t, res.Success)
			assert.Empty(t, res.CheckoutRequestID)
			assert.Contains(t, res.Error, tt.want)
		})
	}
}

func TestClient_InitiatePayment_Unreachable(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://127.0.0.1:1", Timeout: 200 * time.Millisecond}, nil, zap.NewNop())

	res := c.InitiatePayment(context.Background(), "0712345678", decimal.NewFromInt(10), "PHK-003")

	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
}
