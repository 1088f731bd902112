// Package depot defines domain types for the depot dashboard data gateway.
// This package has no project imports -- it is the dependency root.
package depot

import (
	"context"
	"encoding/json"
	"time"
)

// --- Sources ---

// Source is a named upstream data set that dashboards can request.
type Source struct {
	Name            string            `json:"name"`
	URL             string            `json:"url"`
	Method          string            `json:"method,omitempty"`
	Headers         map[string]string `json:"-"`
	Params          map[string]string `json:"params,omitempty"`
	TTL             time.Duration     `json:"ttl"`
	RefreshInterval time.Duration     `json:"refresh_interval,omitempty"`
}

// --- Events ---

// EventKind distinguishes terminal fetch outcomes.
type EventKind int

const (
	// DataLoaded is published after a fetch succeeds and its value is stored.
	DataLoaded EventKind = iota
	// DataError is published after a fetch fails permanently.
	DataError
)

// String returns the event name used in logs and metric labels.
func (k EventKind) String() string {
	switch k {
	case DataLoaded:
		return "data_loaded"
	case DataError:
		return "data_error"
	default:
		return "unknown"
	}
}

// Event describes the terminal outcome of one upstream fetch.
// Data is set for DataLoaded, Err for DataError.
type Event struct {
	Kind     EventKind
	Name     string
	Key      string
	Data     json.RawMessage
	Err      error
	Waiters  int // callers that joined the fetch before it settled
	Duration time.Duration
	At       time.Time
}

// --- Stats ---

// Stats is a point-in-time view of the data cache.
type Stats struct {
	CacheSize        int     `json:"cache_size"`
	ActiveRefreshers int     `json:"active_refreshers"`
	LoadingRequests  int     `json:"loading_requests"`
	SharedWaiters    int     `json:"shared_waiters"`
	Hits             uint64  `json:"hits"`
	Misses           uint64  `json:"misses"`
	HitRate          float64 `json:"hit_rate"`
}

// --- Context keys ---

type contextKey int

const ctxKeyRequestID contextKey = 0

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}
