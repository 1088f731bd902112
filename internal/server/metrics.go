package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eugener/depot/internal/telemetry"
)

// cacheNone labels responses that never consulted the data cache.
const cacheNone = "none"

// statusLabels holds the status label for every valid code so the hot path
// does not format integers.
var statusLabels = func() [600]string {
	var s [600]string
	for i := range s {
		s[i] = strconv.Itoa(i)
	}
	return s
}()

func statusLabel(code int) string {
	if code >= 0 && code < len(statusLabels) {
		return statusLabels[code]
	}
	return strconv.Itoa(code)
}

// cacheLabel reads the X-Cache outcome the data handlers set.
func cacheLabel(h http.Header) string {
	if v := h[cacheHeader]; len(v) > 0 && v[0] != "" {
		return v[0]
	}
	return cacheNone
}

// metricsMiddleware counts requests by route, status and cache outcome, and
// tracks latency and the number of requests in progress.
func metricsMiddleware(m *telemetry.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.ActiveRequests.Inc()
			defer m.ActiveRequests.Dec()
			start := time.Now()

			sw := statusWriterPool.Get().(*statusWriter)
			sw.ResponseWriter = w
			sw.status = http.StatusOK
			sw.wroteHeader = false
			next.ServeHTTP(sw, r)
			status := sw.status
			sw.ResponseWriter = nil
			statusWriterPool.Put(sw)

			route := routePattern(r)
			m.RequestsTotal.WithLabelValues(r.Method, route, statusLabel(status), cacheLabel(w.Header())).Inc()
			m.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// routePattern returns the chi route pattern to keep label cardinality
// bounded, or the raw path when no route matched.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
