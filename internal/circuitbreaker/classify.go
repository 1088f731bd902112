package circuitbreaker

import (
	"context"
	"errors"
	"os"
)

// httpStatusError is satisfied by upstream errors that carry an HTTP status,
// such as *fetch.StatusError.
type httpStatusError interface {
	HTTPStatus() int
}

// ClassifyError returns the breaker weight of an attempt outcome.
//
// Weights:
//   - nil -> 0
//   - timeout (deadline exceeded) -> 1.5
//   - 429 -> 0.5
//   - 5xx -> 1.0
//   - other 4xx -> 0 (the request was wrong, the upstream is fine)
//   - anything else (network errors, malformed payloads) -> 1.0
func ClassifyError(err error) float64 {
	if err == nil {
		return 0
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return 1.5
	}
	var he httpStatusError
	if errors.As(err, &he) {
		return ClassifyStatus(he.HTTPStatus())
	}
	return 1.0
}

// ClassifyStatus returns the breaker weight for an HTTP status code.
func ClassifyStatus(code int) float64 {
	switch {
	case code == 429:
		return 0.5
	case code >= 500:
		return 1.0
	default:
		return 0
	}
}
