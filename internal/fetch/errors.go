package fetch

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	depot "github.com/eugener/depot/internal"
	"github.com/eugener/depot/internal/circuitbreaker"
)

// ErrInvalidJSON is returned when an upstream answers 2xx with a body that
// is not a JSON document.
var ErrInvalidJSON = errors.New("invalid json payload")

// StatusError is a non-2xx response from an upstream data source.
// It satisfies the HTTPStatus contract used by the circuit breaker.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

// Error returns a formatted error string including URL, status, and body.
func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.URL, e.StatusCode, e.Body)
}

// HTTPStatus returns the upstream status code.
func (e *StatusError) HTTPStatus() int { return e.StatusCode }

// Unwrap lets errors.Is(err, depot.ErrUpstream) match.
func (e *StatusError) Unwrap() error { return depot.ErrUpstream }

// parseStatusError reads up to 4KB from the response body and returns a StatusError.
func parseStatusError(url string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &StatusError{URL: url, StatusCode: resp.StatusCode, Body: string(body)}
}

// TerminalError is returned once a fetch gave up. Err is the last attempt's error.
type TerminalError struct {
	URL      string
	Attempts int
	Err      error
}

// Error returns the URL, attempt count and last cause.
func (e *TerminalError) Error() string {
	return fmt.Sprintf("fetch %s: giving up after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

// Unwrap returns the last attempt's error.
func (e *TerminalError) Unwrap() error { return e.Err }

// RetryPolicy decides whether a failed attempt is worth repeating.
type RetryPolicy func(err error) bool

// RetryAll retries every failure, network errors and non-2xx alike.
func RetryAll(error) bool { return true }

// RetryServerErrors retries everything except 4xx responses other than 429,
// which would fail the same way on every attempt.
func RetryServerErrors(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500
	}
	return circuitbreaker.ClassifyError(err) > 0
}
