package depot

import "errors"

// Sentinel errors for the depot domain.
var (
	ErrUnknownSource = errors.New("unknown source")
	ErrUpstream      = errors.New("upstream error")
	ErrCircuitOpen   = errors.New("circuit open")
	ErrClosed        = errors.New("cache closed")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrBadRequest    = errors.New("bad request")
	ErrRateLimited   = errors.New("rate limit exceeded")
)
