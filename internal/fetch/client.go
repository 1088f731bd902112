// Package fetch retrieves JSON documents from upstream data sources with
// bounded retries and linear backoff.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	depot "github.com/eugener/depot/internal"
	"github.com/eugener/depot/internal/circuitbreaker"
	"github.com/eugener/depot/internal/telemetry"
)

const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = time.Second

	// maxBody caps how much of a response is buffered (16 MB).
	maxBody = 16 << 20
)

// Config holds retry settings. Zero fields take the defaults above.
type Config struct {
	// MaxRetries is the total number of attempts, the first one included.
	MaxRetries int
	// RetryDelay is the backoff unit: after failed attempt n the client
	// waits RetryDelay*n before attempt n+1.
	RetryDelay time.Duration
	// Retryable decides whether a failure is retried. Nil means RetryAll.
	Retryable RetryPolicy
}

// Request describes one upstream retrieval.
type Request struct {
	URL     string
	Method  string            // defaults to GET
	Params  map[string]string // merged into the URL query
	Headers map[string]string
}

// Client performs upstream fetches. It is safe for concurrent use.
type Client struct {
	http     *http.Client
	cfg      Config
	breakers *circuitbreaker.Registry // nil = no circuit breaking
	tracer   trace.Tracer
	sleep    func(ctx context.Context, d time.Duration) error
}

// Option configures a Client.
type Option func(*Client)

// WithBreakers enables per-host circuit breaking.
func WithBreakers(reg *circuitbreaker.Registry) Option {
	return func(c *Client) { c.breakers = reg }
}

// New creates a Client. A nil httpClient uses http.DefaultClient.
func New(httpClient *http.Client, cfg Config, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	if cfg.Retryable == nil {
		cfg.Retryable = RetryAll
	}
	c := &Client{
		http:   httpClient,
		cfg:    cfg,
		tracer: telemetry.Tracer("depot/fetch"),
		sleep:  sleepCtx,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Fetch retrieves req, retrying failed attempts per the client config.
// Once attempts are exhausted it returns a *TerminalError wrapping the last
// failure. An open circuit and a done ctx end the loop early.
func (c *Client) Fetch(ctx context.Context, req Request) ([]byte, error) {
	target, err := buildURL(req.URL, req.Params)
	if err != nil {
		return nil, err
	}
	host := target.Host
	rawURL := target.String()

	ctx, span := c.tracer.Start(ctx, "fetch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.url", rawURL)),
	)
	defer span.End()

	var (
		lastErr  error
		attempts int
	)
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		if c.breakers != nil {
			if err := c.breakers.Allow(host); err != nil {
				lastErr = err
				break
			}
		}

		attempts = attempt
		body, err := c.do(ctx, req, rawURL)
		if c.breakers != nil {
			c.breakers.Record(host, err)
		}
		if err == nil {
			span.SetAttributes(attribute.Int("fetch.attempts", attempt))
			return body, nil
		}
		lastErr = err

		if attempt == c.cfg.MaxRetries || ctx.Err() != nil || !c.cfg.Retryable(err) {
			break
		}
		delay := c.cfg.RetryDelay * time.Duration(attempt)
		slog.LogAttrs(ctx, slog.LevelWarn, "fetch attempt failed, retrying",
			slog.String("url", rawURL),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()),
		)
		if err := c.sleep(ctx, delay); err != nil {
			break
		}
	}

	span.SetAttributes(attribute.Int("fetch.attempts", attempts))
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	return nil, &TerminalError{URL: rawURL, Attempts: attempts, Err: lastErr}
}

// do performs a single attempt.
func (c *Client) do(ctx context.Context, req Request, rawURL string) ([]byte, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetch: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, parseStatusError(rawURL, resp)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("fetch: read body: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w from %s", ErrInvalidJSON, rawURL)
	}
	return body, nil
}

// buildURL parses raw and sets params on its query, overriding existing values.
func buildURL(raw string, params map[string]string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: parse url %q: %v", depot.ErrBadRequest, raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported url scheme %q", depot.ErrBadRequest, u.Scheme)
	}
	if len(params) > 0 {
		q := u.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsTerminal reports whether err came out of Fetch after giving up.
func IsTerminal(err error) bool {
	var te *TerminalError
	return errors.As(err, &te)
}
