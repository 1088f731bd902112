package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	depot "github.com/eugener/depot/internal"
	"github.com/eugener/depot/internal/circuitbreaker"
)

// noSleep records requested backoffs instead of waiting.
func noSleep(c *Client, delays *[]time.Duration) {
	c.sleep = func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
}

func TestFetch_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "application/json" {
			t.Errorf("Accept = %q", got)
		}
		if got := r.URL.Query().Get("id"); got != "42" {
			t.Errorf("id = %q, want 42", got)
		}
		if got := r.URL.Query().Get("fixed"); got != "yes" {
			t.Errorf("fixed = %q, want yes", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"count":5}`))
	}))
	defer srv.Close()

	c := New(srv.Client(), Config{})
	body, err := c.Fetch(context.Background(), Request{
		URL:    srv.URL + "/items?fixed=yes",
		Params: map[string]string{"id": "42"},
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(body) != `{"count":5}` {
		t.Errorf("body = %s", body)
	}
}

func TestFetch_RetriesThenGivesUp(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.Client(), Config{MaxRetries: 3, RetryDelay: 10 * time.Millisecond})
	var delays []time.Duration
	noSleep(c, &delays)

	_, err := c.Fetch(context.Background(), Request{URL: srv.URL})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("upstream calls = %d, want 3", got)
	}

	var te *TerminalError
	if !errors.As(err, &te) {
		t.Fatalf("error type = %T, want *TerminalError", err)
	}
	if te.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", te.Attempts)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != 500 {
		t.Errorf("expected wrapped StatusError 500, got %v", err)
	}
	if !errors.Is(err, depot.ErrUpstream) {
		t.Error("expected errors.Is(err, ErrUpstream)")
	}

	// Linear backoff: delay*1 then delay*2, nothing after the last attempt.
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, delays[i], want[i])
		}
	}
}

func TestFetch_RecoversOnRetry(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`[1,2,3]`))
	}))
	defer srv.Close()

	c := New(srv.Client(), Config{MaxRetries: 3, RetryDelay: time.Millisecond})
	body, err := c.Fetch(context.Background(), Request{URL: srv.URL})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(body) != `[1,2,3]` {
		t.Errorf("body = %s", body)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestFetch_RetryServerErrorsStopsOnClientError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := New(srv.Client(), Config{MaxRetries: 3, Retryable: RetryServerErrors})
	var delays []time.Duration
	noSleep(c, &delays)

	_, err := c.Fetch(context.Background(), Request{URL: srv.URL})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
	if len(delays) != 0 {
		t.Errorf("unexpected backoff %v", delays)
	}
}

func TestFetch_InvalidJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>not json</html>`))
	}))
	defer srv.Close()

	c := New(srv.Client(), Config{MaxRetries: 1})
	_, err := c.Fetch(context.Background(), Request{URL: srv.URL})
	if !errors.Is(err, ErrInvalidJSON) {
		t.Fatalf("err = %v, want ErrInvalidJSON", err)
	}
}

func TestFetch_MethodAndHeaders(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if got := r.Header.Get("X-Tenant"); got != "acme" {
			t.Errorf("X-Tenant = %q", got)
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(srv.Client(), Config{})
	_, err := c.Fetch(context.Background(), Request{
		URL:     srv.URL,
		Method:  http.MethodPost,
		Headers: map[string]string{"X-Tenant": "acme"},
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
}

func TestFetch_BadURL(t *testing.T) {
	t.Parallel()

	c := New(nil, Config{})
	_, err := c.Fetch(context.Background(), Request{URL: "ftp://example.com/x"})
	if !errors.Is(err, depot.ErrBadRequest) {
		t.Fatalf("err = %v, want ErrBadRequest", err)
	}
}

func TestFetch_ContextCanceledStopsRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := New(srv.Client(), Config{MaxRetries: 5, RetryDelay: time.Hour})
	c.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return context.Canceled
	}

	_, err := c.Fetch(ctx, Request{URL: srv.URL})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestFetch_CircuitOpen(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	reg := circuitbreaker.NewRegistry(circuitbreaker.Config{
		ErrorThreshold: 0.5,
		MinSamples:     2,
		WindowSeconds:  60,
		OpenTimeout:    time.Hour,
	})
	c := New(srv.Client(), Config{MaxRetries: 5}, WithBreakers(reg))
	var delays []time.Duration
	noSleep(c, &delays)

	_, err := c.Fetch(context.Background(), Request{URL: srv.URL})
	if !errors.Is(err, depot.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	// Two failures trip the breaker, the third attempt is rejected locally.
	if got := calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

func TestTokenTransport(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer s3cret" {
			t.Errorf("Authorization = %q", got)
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	hc := &http.Client{Transport: &TokenTransport{
		Token:      "s3cret",
		HeaderName: "Authorization",
		Prefix:     "Bearer ",
		Base:       srv.Client().Transport,
	}}
	c := New(hc, Config{})
	if _, err := c.Fetch(context.Background(), Request{URL: srv.URL}); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
}

func TestRetryServerErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"500", &StatusError{StatusCode: 500}, true},
		{"429", &StatusError{StatusCode: 429}, true},
		{"404", &StatusError{StatusCode: 404}, false},
		{"400", &StatusError{StatusCode: 400}, false},
		{"network", errors.New("connection refused"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := RetryServerErrors(tt.err); got != tt.want {
				t.Errorf("RetryServerErrors(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestNewTransport_DNSCache(t *testing.T) {
	t.Parallel()

	tr := NewTransport(nil)
	if tr.DialContext != nil {
		t.Error("DialContext set without resolver")
	}
	if tr.MaxIdleConnsPerHost == 0 {
		t.Error("MaxIdleConnsPerHost not set")
	}
}
