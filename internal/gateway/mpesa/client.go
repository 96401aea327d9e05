// Package mpesa talks to the Safaricom Daraja API: OAuth tokens, STK push
// (Lipa Na M-Pesa Online) initiation and the asynchronous result callback.
package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	tokenPath    = "/oauth/v1/generate?grant_type=client_credentials"
	stkPushPath  = "/mpesa/stkpush/v1/processrequest"
	tokenKey     = "mpesa:access_token"
	tokenSkew    = 60 * time.Second
	timestampFmt = "20060102150405"

	TransactionPayBill = "CustomerPayBillOnline"
)

var ErrGateway = errors.New("mpesa gateway error")

type Config struct {
	BaseURL         string
	ConsumerKey     string
	ConsumerSecret  string
	ShortCode       string
	PassKey         string
	CallbackURL     string
	CountryCode     string
	TransactionType string
	Timeout         time.Duration
}

// InitiateResult is the outcome of an STK push request. Failures are values,
// never errors.
type InitiateResult struct {
	Success           bool   `json:"success"`
	CheckoutRequestID string `json:"checkout_request_id,omitempty"`
	MerchantRequestID string `json:"merchant_request_id,omitempty"`
	CustomerMessage   string `json:"customer_message,omitempty"`
	Error             string `json:"error,omitempty"`
}

type Client struct {
	cfg   Config
	http  *http.Client
	cache TokenCache
	log   *zap.Logger
	now   func() time.Time
}

func NewClient(cfg Config, cache TokenCache, log *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.TransactionType == "" {
		cfg.TransactionType = TransactionPayBill
	}
	if cfg.CountryCode == "" {
		cfg.CountryCode = "254"
	}
	if cache == nil {
		cache = NewMemoryTokenCache()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: cfg.Timeout},
		cache: cache,
		log:   log.Named("mpesa"),
		now:   time.Now,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// GetAccessToken returns a cached token or fetches a new one.
func (c *Client) GetAccessToken(ctx context.Context) (string, error) {
	if tok, ok, err := c.cache.Get(ctx, tokenKey); err != nil {
		c.log.Warn("token cache read failed", zap.Error(err))
	} else if ok {
		return tok, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+tokenPath, nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	var tr tokenResponse
	if err := c.do(req, &tr); err != nil {
		return "", fmt.Errorf("access token: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrGateway)
	}

	ttl := time.Hour
	if secs, err := strconv.Atoi(tr.ExpiresIn); err == nil && secs > 0 {
		ttl = time.Duration(secs) * time.Second
	}
	if ttl > tokenSkew {
		ttl -= tokenSkew
	}
	if err := c.cache.Set(ctx, tokenKey, tr.AccessToken, ttl); err != nil {
		c.log.Warn("token cache write failed", zap.Error(err))
	}
	return tr.AccessToken, nil
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// InitiatePayment sends an STK push prompt to phone for amount, rounded up to
// whole shillings. The whole exchange is bounded by the configured timeout.
func (c *Client) InitiatePayment(ctx context.Context, phone string, amount decimal.Decimal, reference string) InitiateResult {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	log := c.log.With(zap.String("order_reference", reference))

	msisdn, err := NormalizePhone(phone, c.cfg.CountryCode)
	if err != nil {
		return c.failure(log, err)
	}
	whole := amount.Ceil().IntPart()
	if whole <= 0 {
		return c.failure(log, fmt.Errorf("%w: amount must be positive, got %s", ErrGateway, amount))
	}

	token, err := c.GetAccessToken(ctx)
	if err != nil {
		return c.failure(log, err)
	}

	ts := c.now().Format(timestampFmt)
	body, err := json.Marshal(stkPushRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          c.password(ts),
		Timestamp:         ts,
		TransactionType:   c.cfg.TransactionType,
		Amount:            whole,
		PartyA:            msisdn,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       msisdn,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  reference,
		TransactionDesc:   "Payment for order " + reference,
	})
	if err != nil {
		return c.failure(log, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+stkPushPath, bytes.NewReader(body))
	if err != nil {
		return c.failure(log, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	var resp stkPushResponse
	if err := c.do(req, &resp); err != nil {
		return c.failure(log, err)
	}
	if resp.ResponseCode != "0" || resp.CheckoutRequestID == "" {
		return c.failure(log, fmt.Errorf("%w: %s (code %s)", ErrGateway, resp.ResponseDescription, resp.ResponseCode))
	}

	log.Info("stk push accepted",
		zap.String("checkout_request_id", resp.CheckoutRequestID),
		zap.String("merchant_request_id", resp.MerchantRequestID))
	return InitiateResult{
		Success:           true,
		CheckoutRequestID: resp.CheckoutRequestID,
		MerchantRequestID: resp.MerchantRequestID,
		CustomerMessage:   resp.CustomerMessage,
	}
}

func (c *Client) password(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(c.cfg.ShortCode + c.cfg.PassKey + timestamp))
}

func (c *Client) failure(log *zap.Logger, err error) InitiateResult {
	log.Warn("stk push failed", zap.Error(err))
	return InitiateResult{Success: false, Error: err.Error()}
}

type errorResponse struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// do executes req and decodes a 2xx JSON body into out.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGateway, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrGateway, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var er errorResponse
		if json.Unmarshal(data, &er) == nil && er.ErrorMessage != "" {
			return fmt.Errorf("%w: http %d: %s (%s)", ErrGateway, resp.StatusCode, er.ErrorMessage, er.ErrorCode)
		}
		return fmt.Errorf("%w: http %d", ErrGateway, resp.StatusCode)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrGateway, err)
	}
	return nil
}
