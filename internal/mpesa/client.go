package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/carwash-platform/internal/observability/metrics"
	"github.com/wolfman30/carwash-platform/pkg/logging"
)

var tracer = otel.Tracer("carwash.internal.mpesa")

const (
	DefaultBaseURL = "https://sandbox.safaricom.co.ke"
	defaultTimeout = 30 * time.Second

	tokenPath = "/oauth/v1/generate?grant_type=client_credentials"
	pushPath  = "/mpesa/stkpush/v1/processrequest"
	queryPath = "/mpesa/stkpushquery/v1/query"

	// tokens are treated as expired this long before Daraja says they are
	tokenExpirySkew = 60 * time.Second
)

// Daraja timestamps are in East Africa Time.
var eat = time.FixedZone("EAT", 3*60*60)

// Config carries the Daraja credentials.
type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	PassKey        string
	Timeout        time.Duration
}

// PushRequest describes an STK push to a customer's handset.
type PushRequest struct {
	Phone       string
	AmountCents int64
	Reference   string
	Description string
	CallbackURL string
}

// PushResult is the outcome of an STK push. Transport and provider failures
// are reported through Success/Error rather than a Go error.
type PushResult struct {
	Success             bool
	MerchantRequestID   string
	CheckoutRequestID   string
	ResponseCode        string
	ResponseDescription string
	CustomerMessage     string
	Phone               string
	Error               string
	// Transport marks failures other than a 4xx rejection from Daraja.
	Transport bool
}

// QueryResult is the outcome of an STK status query.
type QueryResult struct {
	Success bool
	// Pending is set while the customer has not yet answered the prompt.
	Pending    bool
	ResultCode int
	ResultDesc string
	Error      string
}

// Final reports whether the query carries a terminal payment result.
func (q QueryResult) Final() bool {
	return q.Success && !q.Pending
}

// Gateway is the subset of the client used by booking and walk-in flows.
type Gateway interface {
	STKPush(ctx context.Context, req PushRequest) PushResult
	QueryStatus(ctx context.Context, checkoutRequestID string) QueryResult
}

// Client talks to the Daraja API. It is safe for concurrent use.
type Client struct {
	cfg        Config
	httpClient *http.Client
	tokens     TokenCache
	breaker    *gobreaker.CircuitBreaker
	metrics    *metrics.GatewayMetrics
	logger     *logging.Logger
	now        func() time.Time
}

// Option customises a Client.
type Option func(*Client)

// WithTokenCache swaps the default in-process token cache.
func WithTokenCache(cache TokenCache) Option {
	return func(c *Client) {
		if cache != nil {
			c.tokens = cache
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func WithMetrics(m *metrics.GatewayMetrics) Option {
	return func(c *Client) { c.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient builds a Daraja client.
func NewClient(cfg Config, logger *logging.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		tokens:     NewMemoryTokenCache(),
		logger:     logger,
		now:        time.Now,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "mpesa",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// provider-side rejections mean the gateway is up
		IsSuccessful: func(err error) bool {
			var upErr *upstreamError
			if errors.As(err, &upErr) {
				return upErr.status < 500 || upErr.api.ErrorCode == processingErrorCode
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("mpesa circuit breaker state changed", "from", from.String(), "to", to.String())
		},
	})
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type stkPushBody struct {
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

type stkQueryBody struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type stkQueryResponse struct {
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResultCode          string `json:"ResultCode"`
	ResultDesc          string `json:"ResultDesc"`
}

type apiError struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

type tokenResponse struct {
	AccessToken string          `json:"access_token"`
	ExpiresIn   json.RawMessage `json:"expires_in"`
}

// processingErrorCode is returned by the query endpoint while the prompt is
// still open on the handset.
const processingErrorCode = "500.001.1001"

// upstreamError is a non-2xx Daraja response.
type upstreamError struct {
	status int
	api    apiError
}

func (e *upstreamError) Error() string {
	if e.api.ErrorMessage != "" {
		return e.api.ErrorMessage
	}
	return fmt.Sprintf("mpesa: unexpected status %d", e.status)
}

// STKPush prompts the customer's handset for payment.
func (c *Client) STKPush(ctx context.Context, req PushRequest) PushResult {
	ctx, span := tracer.Start(ctx, "mpesa.stk_push")
	defer span.End()
	started := c.now()

	phone, err := NormalizePhone(req.Phone)
	if err != nil {
		c.metrics.ObserveRequest("stk_push", "invalid_phone", c.now().Sub(started))
		return PushResult{Error: "Invalid phone number format"}
	}
	amount := ShillingsFromCents(req.AmountCents)
	if amount < 1 {
		return PushResult{Phone: phone, Error: "Amount must be at least 1 KES"}
	}
	span.SetAttributes(attribute.String("mpesa.reference", req.Reference), attribute.Int64("mpesa.amount", amount))

	timestamp := c.timestamp()
	body := stkPushBody{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          c.password(timestamp),
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            amount,
		PartyA:            phone,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       phone,
		CallBackURL:       req.CallbackURL,
		AccountReference:  req.Reference,
		TransactionDesc:   truncate(defaultString(req.Description, "Payment "+req.Reference), 13),
	}

	var resp stkPushResponse
	if err := c.call(ctx, pushPath, body, &resp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stk push failed")
		c.metrics.ObserveRequest("stk_push", outcomeFor(err), c.now().Sub(started))
		c.logger.WithContext(ctx).Warn("mpesa stk push failed", "reference", req.Reference, "error", err)
		return PushResult{Phone: phone, Error: describe(err), Transport: isTransport(err)}
	}
	if resp.ResponseCode != "0" {
		c.metrics.ObserveRequest("stk_push", "rejected", c.now().Sub(started))
		return PushResult{
			Phone:               phone,
			ResponseCode:        resp.ResponseCode,
			ResponseDescription: resp.ResponseDescription,
			Error:               defaultString(resp.ResponseDescription, "STK push was not accepted"),
		}
	}
	c.metrics.ObserveRequest("stk_push", "accepted", c.now().Sub(started))
	span.SetAttributes(attribute.String("mpesa.checkout_request_id", resp.CheckoutRequestID))
	return PushResult{
		Success:             true,
		MerchantRequestID:   resp.MerchantRequestID,
		CheckoutRequestID:   resp.CheckoutRequestID,
		ResponseCode:        resp.ResponseCode,
		ResponseDescription: resp.ResponseDescription,
		CustomerMessage:     resp.CustomerMessage,
		Phone:               phone,
	}
}

// QueryStatus asks Daraja for the result of an earlier STK push.
func (c *Client) QueryStatus(ctx context.Context, checkoutRequestID string) QueryResult {
	ctx, span := tracer.Start(ctx, "mpesa.stk_query")
	defer span.End()
	span.SetAttributes(attribute.String("mpesa.checkout_request_id", checkoutRequestID))
	started := c.now()

	timestamp := c.timestamp()
	body := stkQueryBody{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          c.password(timestamp),
		Timestamp:         timestamp,
		CheckoutRequestID: checkoutRequestID,
	}
	var resp stkQueryResponse
	if err := c.call(ctx, queryPath, body, &resp); err != nil {
		var upErr *upstreamError
		if errors.As(err, &upErr) && upErr.api.ErrorCode == processingErrorCode {
			c.metrics.ObserveRequest("stk_query", "pending", c.now().Sub(started))
			return QueryResult{Success: true, Pending: true, ResultDesc: upErr.api.ErrorMessage}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "stk query failed")
		c.metrics.ObserveRequest("stk_query", outcomeFor(err), c.now().Sub(started))
		return QueryResult{Error: describe(err)}
	}
	if resp.ResultCode == "" {
		c.metrics.ObserveRequest("stk_query", "pending", c.now().Sub(started))
		return QueryResult{Success: true, Pending: true, ResultDesc: resp.ResponseDescription}
	}
	code, err := strconv.Atoi(resp.ResultCode)
	if err != nil {
		c.metrics.ObserveRequest("stk_query", "malformed", c.now().Sub(started))
		return QueryResult{Error: "unexpected result code " + resp.ResultCode}
	}
	c.metrics.ObserveRequest("stk_query", "final", c.now().Sub(started))
	return QueryResult{Success: true, ResultCode: code, ResultDesc: resp.ResultDesc}
}

// call POSTs body to path with a bearer token, through the circuit breaker.
func (c *Client) call(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("mpesa: encode request: %w", err)
	}
	_, err = c.breaker.Execute(func() (interface{}, error) {
		token, err := c.accessToken(ctx)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("mpesa: build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		return nil, c.do(req, out)
	})
	return err
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mpesa: %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("mpesa: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		upErr := &upstreamError{status: resp.StatusCode}
		_ = json.Unmarshal(raw, &upErr.api)
		return upErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("mpesa: decode response: %w", err)
	}
	return nil
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	if token, ok := c.tokens.Get(ctx); ok {
		return token, nil
	}
	unlock, err := c.tokens.Lock(ctx)
	if err != nil {
		return "", fmt.Errorf("mpesa: token lock: %w", err)
	}
	defer unlock()
	// another caller may have refreshed while we waited
	if token, ok := c.tokens.Get(ctx); ok {
		return token, nil
	}
	return c.fetchToken(ctx)
}

func (c *Client) fetchToken(ctx context.Context) (string, error) {
	ctx, span := tracer.Start(ctx, "mpesa.oauth_token")
	defer span.End()
	started := c.now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+tokenPath, nil)
	if err != nil {
		return "", fmt.Errorf("mpesa: build token request: %w", err)
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)
	var resp tokenResponse
	if err := c.do(req, &resp); err != nil {
		c.metrics.ObserveRequest("oauth", outcomeFor(err), c.now().Sub(started))
		return "", fmt.Errorf("mpesa: access token: %w", err)
	}
	if resp.AccessToken == "" {
		return "", errors.New("mpesa: access token missing from response")
	}
	ttl := time.Duration(parseExpiresIn(resp.ExpiresIn))*time.Second - tokenExpirySkew
	if ttl <= 0 {
		ttl = time.Minute
	}
	c.tokens.Set(ctx, resp.AccessToken, ttl)
	c.metrics.ObserveRequest("oauth", "ok", c.now().Sub(started))
	return resp.AccessToken, nil
}

func (c *Client) timestamp() string {
	return c.now().In(eat).Format("20060102150405")
}

func (c *Client) password(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(c.cfg.ShortCode + c.cfg.PassKey + timestamp))
}

// ShillingsFromCents converts an amount in cents to whole shillings, rounding up.
func ShillingsFromCents(cents int64) int64 {
	if cents <= 0 {
		return 0
	}
	return (cents + 99) / 100
}

// expires_in arrives as a quoted string from Daraja, but tolerate a number.
func parseExpiresIn(raw json.RawMessage) int64 {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 3599
	}
	return n
}

func outcomeFor(err error) string {
	var upErr *upstreamError
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "circuit_open"
	case errors.As(err, &upErr):
		return "http_" + strconv.Itoa(upErr.status)
	default:
		return "transport_error"
	}
}

func describe(err error) string {
	var upErr *upstreamError
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "Payment gateway temporarily unavailable"
	case errors.As(err, &upErr):
		return upErr.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "Payment gateway timed out"
	default:
		return "Payment gateway request failed"
	}
}

// isTransport reports failures other than a 4xx rejection from Daraja.
func isTransport(err error) bool {
	var upErr *upstreamError
	return !errors.As(err, &upErr) || upErr.status >= http.StatusInternalServerError
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func defaultString(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
