package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/avelezcr/washpay-backend/pkg/config"
	pkgerrors "github.com/avelezcr/washpay-backend/pkg/errors"
	"github.com/avelezcr/washpay-backend/pkg/logger"
	"github.com/rs/zerolog"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Level: zerolog.Disabled, Output: io.Discard})
}

func testConfig(baseURL string) config.GatewayConfig {
	return config.GatewayConfig{
		BaseURL:       baseURL,
		ClientID:      "client",
		ClientSecret:  "secret",
		SigningSecret: "signing",
		SuccessCode:   "00",
		CallTimeout:   5 * time.Second,
		RetryAttempts: 2,
		RetryDelay:    time.Millisecond,
		TokenSkew:     time.Second,
	}
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(context.Background(), testConfig(baseURL), testLogger())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func writeToken(w http.ResponseWriter, token string) {
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token": token,
		"expires_in":   3600,
	})
}

func writeEnvelope(w http.ResponseWriter, code string, data any) {
	raw, _ := json.Marshal(data)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"responseCode": code,
		"responseData": json.RawMessage(raw),
	})
}

func TestTokenRenewalIsSingleFlight(t *testing.T) {
	var tokenCalls int64
	var release sync.WaitGroup
	release.Add(1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == tokenPath {
			atomic.AddInt64(&tokenCalls, 1)
			release.Wait()
			writeToken(w, "tok-1")
			return
		}
		writeEnvelope(w, "00", map[string]any{"transactionId": "txn-1"})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, errs[idx] = client.accessToken(context.Background())
		}(i)
	}

	// let every goroutine reach the renewal before it settles
	time.Sleep(50 * time.Millisecond)
	release.Done()
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	if got := atomic.LoadInt64(&tokenCalls); got != 1 {
		t.Fatalf("expected one renewal call, got %d", got)
	}
}

func TestFailedRenewalIsForgotten(t *testing.T) {
	var tokenCalls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == tokenPath {
			n := atomic.AddInt64(&tokenCalls, 1)
			if n == 1 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			writeToken(w, "tok-2")
		}
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	if _, err := client.accessToken(context.Background()); err == nil {
		t.Fatalf("expected first renewal to fail")
	}
	token, err := client.accessToken(context.Background())
	if err != nil {
		t.Fatalf("second renewal should start fresh: %v", err)
	}
	if token != "tok-2" {
		t.Fatalf("unexpected token %q", token)
	}
	if got := atomic.LoadInt64(&tokenCalls); got != 2 {
		t.Fatalf("expected two renewal calls, got %d", got)
	}
}

func TestUnauthorizedTriggersSingleRenewAndReplay(t *testing.T) {
	var tokenCalls, paymentCalls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case tokenPath:
			n := atomic.AddInt64(&tokenCalls, 1)
			writeToken(w, map[int64]string{1: "stale", 2: "fresh"}[min64(n, 2)])
		case "/v1/payments":
			atomic.AddInt64(&paymentCalls, 1)
			if r.Header.Get("Authorization") != "Bearer fresh" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			writeEnvelope(w, "00", map[string]any{"transactionId": "txn-9"})
		}
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	result, err := client.CreatePayment(context.Background(), PaymentParams{OrderRef: "ord-1", Amount: 1000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.TransactionID != "txn-9" {
		t.Fatalf("unexpected transaction id %q", result.TransactionID)
	}
	if got := atomic.LoadInt64(&tokenCalls); got != 2 {
		t.Fatalf("expected exactly one renewal after the 401, got %d token calls", got)
	}
	if got := atomic.LoadInt64(&paymentCalls); got != 2 {
		t.Fatalf("expected one replay after renewal, got %d payment calls", got)
	}
}

func TestProviderCodeDecidesSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == tokenPath {
			writeToken(w, "tok")
			return
		}
		// HTTP 200 with a non-success provider code must be an error
		writeEnvelope(w, "51", map[string]any{"transactionId": "txn"})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	_, err := client.CreatePayment(context.Background(), PaymentParams{OrderRef: "ord-2", Amount: 500})
	if err == nil {
		t.Fatalf("expected provider rejection")
	}
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeDependency {
		t.Fatalf("expected dependency error, got %v", err)
	}
}

func TestSignIsDeterministicAndVerifiable(t *testing.T) {
	client := newTestClient(t, "http://gateway.local")

	body := []byte(`{"orderRef":"ord-1","amount":1000}`)
	first := client.Sign(body)
	second := client.Sign(body)
	if first != second {
		t.Fatalf("signature should be deterministic")
	}
	if !client.VerifySignature(body, first) {
		t.Fatalf("signature should verify")
	}
	if client.VerifySignature([]byte(`{"orderRef":"ord-1","amount":2000}`), first) {
		t.Fatalf("tampered body should not verify")
	}
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
