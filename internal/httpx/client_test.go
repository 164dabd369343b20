package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	apperr "github.com/sqrtlabs/dca-webapp/internal/errors"
)

func TestDoJSONRetriesServerError(t *testing.T) {
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&count, 1)
		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"x"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client := New(2*time.Second, 1)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	var out map[string]any
	if _, err := client.DoJSON(context.Background(), req, &out); err != nil {
		t.Fatalf("DoJSON failed: %v", err)
	}
	if out["ok"] != true {
		t.Fatalf("unexpected response: %#v", out)
	}
}

func TestDoJSONExhaustedRetriesReturnsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := New(2*time.Second, 1)
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
	status, err := client.DoJSON(context.Background(), req, nil)
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if status != http.StatusInternalServerError {
		t.Fatalf("unexpected status: %d", status)
	}
	typed, ok := apperr.As(err)
	if !ok || typed.Kind != apperr.KindQuoteProviderError {
		t.Fatalf("expected quote_provider_error, got %v", err)
	}
	if !typed.Kind.Retryable() {
		t.Fatal("expected provider error to be retryable")
	}
}

func TestDoJSONClientErrorNotRetried(t *testing.T) {
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&count, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"no liquidity"}`))
	}))
	defer srv.Close()

	client := New(2*time.Second, 3)
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
	if _, err := client.DoJSON(context.Background(), req, nil); err == nil {
		t.Fatal("expected error for 422 response")
	}
	if atomic.LoadInt32(&count) != 1 {
		t.Fatalf("expected exactly one attempt for 4xx, got %d", count)
	}
}

func TestDoJSONMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not-json`))
	}))
	defer srv.Close()

	client := New(2*time.Second, 0)
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
	var out map[string]any
	_, err := client.DoJSON(context.Background(), req, &out)
	typed, ok := apperr.As(err)
	if !ok || typed.Kind != apperr.KindQuoteMalformed {
		t.Fatalf("expected quote_malformed for bad JSON, got %v", err)
	}
	if typed.Kind.Retryable() {
		t.Fatal("malformed responses must not be retryable")
	}
}
