package mpesa

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/carwash-platform/internal/observability/metrics"
	"github.com/wolfman30/carwash-platform/pkg/logging"
)

type darajaStub struct {
	t          *testing.T
	tokenCalls atomic.Int32
	mu         sync.Mutex
	lastPush   stkPushBody
	pushStatus int
	pushBody   string
	queryBody  string
	queryCode  int
}

func (d *darajaStub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "key" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		d.tokenCalls.Add(1)
		_, _ = io.WriteString(w, `{"access_token":"tok-123","expires_in":"3599"}`)
	})
	mux.HandleFunc(pushPath, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body stkPushBody
		require.NoError(d.t, json.NewDecoder(r.Body).Decode(&body))
		d.mu.Lock()
		d.lastPush = body
		d.mu.Unlock()
		if d.pushStatus != 0 {
			w.WriteHeader(d.pushStatus)
		}
		_, _ = io.WriteString(w, d.pushBody)
	})
	mux.HandleFunc(queryPath, func(w http.ResponseWriter, r *http.Request) {
		if d.queryCode != 0 {
			w.WriteHeader(d.queryCode)
		}
		_, _ = io.WriteString(w, d.queryBody)
	})
	return mux
}

func newTestClient(t *testing.T, stub *darajaStub, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)
	fixed := time.Date(2025, 1, 1, 7, 0, 0, 0, time.UTC)
	opts = append([]Option{WithClock(func() time.Time { return fixed })}, opts...)
	return NewClient(Config{
		BaseURL:        srv.URL,
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		ShortCode:      "174379",
		PassKey:        "passkey",
	}, logging.Discard(), opts...)
}

const acceptedPush = `{"MerchantRequestID":"m-1","CheckoutRequestID":"ws_CO_1","ResponseCode":"0","ResponseDescription":"Success. Request accepted for processing","CustomerMessage":"Success. Request accepted for processing"}`

func TestSTKPushNormalizesPhoneAndSigns(t *testing.T) {
	stub := &darajaStub{t: t, pushBody: acceptedPush}
	client := newTestClient(t, stub)

	res := client.STKPush(context.Background(), PushRequest{
		Phone:       "0712345678",
		AmountCents: 100000,
		Reference:   "BK20250101AB12CD",
		CallbackURL: "https://example.test/mpesa-callback/",
	})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "ws_CO_1", res.CheckoutRequestID)
	assert.Equal(t, "m-1", res.MerchantRequestID)
	assert.Equal(t, "254712345678", res.Phone)

	stub.mu.Lock()
	defer stub.mu.Unlock()
	assert.Equal(t, "254712345678", stub.lastPush.PhoneNumber)
	assert.Equal(t, "254712345678", stub.lastPush.PartyA)
	assert.Equal(t, int64(1000), stub.lastPush.Amount)
	assert.Equal(t, "20250101100000", stub.lastPush.Timestamp)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("174379passkey20250101100000")), stub.lastPush.Password)
	assert.Equal(t, "BK20250101AB12CD", stub.lastPush.AccountReference)
	assert.Equal(t, "CustomerPayBillOnline", stub.lastPush.TransactionType)
}

func TestSTKPushRejectsInvalidPhoneWithoutCallingGateway(t *testing.T) {
	stub := &darajaStub{t: t, pushBody: acceptedPush}
	client := newTestClient(t, stub)

	res := client.STKPush(context.Background(), PushRequest{Phone: "12345", AmountCents: 1000})
	assert.False(t, res.Success)
	assert.Equal(t, "Invalid phone number format", res.Error)
	assert.Zero(t, stub.tokenCalls.Load())
}

func TestSTKPushReportsProviderError(t *testing.T) {
	stub := &darajaStub{
		t:          t,
		pushStatus: http.StatusBadRequest,
		pushBody:   `{"requestId":"r-1","errorCode":"400.002.02","errorMessage":"Bad Request - Invalid Amount"}`,
	}
	client := newTestClient(t, stub)

	res := client.STKPush(context.Background(), PushRequest{Phone: "712345678", AmountCents: 500})
	assert.False(t, res.Success)
	assert.Equal(t, "Bad Request - Invalid Amount", res.Error)
	assert.False(t, res.Transport)
}

func TestSTKPushReportsTransportFailure(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://127.0.0.1:1", ShortCode: "174379"}, logging.Discard())
	res := client.STKPush(context.Background(), PushRequest{Phone: "0712345678", AmountCents: 100})
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
	assert.True(t, res.Transport)
}

func TestAccessTokenIsCached(t *testing.T) {
	stub := &darajaStub{t: t, pushBody: acceptedPush}
	client := newTestClient(t, stub)

	for i := 0; i < 3; i++ {
		res := client.STKPush(context.Background(), PushRequest{Phone: "0712345678", AmountCents: 100})
		require.True(t, res.Success)
	}
	assert.Equal(t, int32(1), stub.tokenCalls.Load())
}

func TestQueryStatusFinalResult(t *testing.T) {
	stub := &darajaStub{t: t, queryBody: `{"ResponseCode":"0","ResponseDescription":"The service request has been accepted successsfully","MerchantRequestID":"m-1","CheckoutRequestID":"ws_CO_1","ResultCode":"1032","ResultDesc":"Request cancelled by user"}`}
	client := newTestClient(t, stub)

	res := client.QueryStatus(context.Background(), "ws_CO_1")
	require.True(t, res.Success)
	assert.True(t, res.Final())
	assert.Equal(t, 1032, res.ResultCode)
	assert.Equal(t, StatusCancelled, ClassifyResult(res.ResultCode))
}

func TestQueryStatusPendingWhileProcessing(t *testing.T) {
	stub := &darajaStub{
		t:         t,
		queryCode: http.StatusInternalServerError,
		queryBody: `{"requestId":"r-1","errorCode":"500.001.1001","errorMessage":"The transaction is being processed"}`,
	}
	client := newTestClient(t, stub)

	res := client.QueryStatus(context.Background(), "ws_CO_1")
	assert.True(t, res.Success)
	assert.True(t, res.Pending)
	assert.False(t, res.Final())
}

func TestBreakerOpensAfterRepeatedServerErrors(t *testing.T) {
	stub := &darajaStub{t: t, pushStatus: http.StatusServiceUnavailable, pushBody: `{}`}
	reg := prometheus.NewRegistry()
	client := newTestClient(t, stub, WithMetrics(metrics.NewGatewayMetrics(reg)))

	for i := 0; i < 5; i++ {
		res := client.STKPush(context.Background(), PushRequest{Phone: "0712345678", AmountCents: 100})
		require.False(t, res.Success)
	}
	res := client.STKPush(context.Background(), PushRequest{Phone: "0712345678", AmountCents: 100})
	assert.Equal(t, "Payment gateway temporarily unavailable", res.Error)
}

func TestShillingsFromCents(t *testing.T) {
	assert.Equal(t, int64(0), ShillingsFromCents(0))
	assert.Equal(t, int64(1), ShillingsFromCents(1))
	assert.Equal(t, int64(10), ShillingsFromCents(1000))
	assert.Equal(t, int64(11), ShillingsFromCents(1001))
}
