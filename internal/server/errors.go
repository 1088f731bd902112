package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	depot "github.com/eugener/depot/internal"
	"github.com/eugener/depot/internal/fetch"
)

// statusClientClosedRequest is the nginx code for a client that went away
// before the response was ready.
const statusClientClosedRequest = 499

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func errorResponse(status int, msg string) apiError {
	var e apiError
	e.Error.Message = msg
	e.Error.Type = errorType(status)
	return e
}

func errorType(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request_error"
	case http.StatusUnauthorized:
		return "authentication_error"
	case http.StatusNotFound:
		return "not_found_error"
	case http.StatusTooManyRequests:
		return "rate_limit_error"
	case http.StatusBadGateway, http.StatusGatewayTimeout:
		return "upstream_error"
	case http.StatusServiceUnavailable:
		return "unavailable_error"
	case statusClientClosedRequest:
		return "client_closed_request"
	default:
		return "api_error"
	}
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, depot.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, depot.ErrUnknownSource):
		return http.StatusNotFound
	case errors.Is(err, depot.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, depot.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, depot.ErrCircuitOpen), errors.Is(err, depot.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, depot.ErrUpstream), fetch.IsTerminal(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err to a status and writes the JSON error body.
func writeError(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	writeJSON(w, status, errorResponse(status, err.Error()))
}

// jsonCT is a pre-allocated header value slice. Direct map assignment
// (w.Header()["Content-Type"] = jsonCT) avoids the []string{v} alloc
// that Header.Set creates on every call.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// writeRaw writes an upstream JSON document as-is.
func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	w.Write(body)
}
