package dataapi

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nornlabs/norn/internal/observability"
)

// RequestLogger logs the start and end of each request with structured
// fields. Evaluation traffic is high-throughput, so successful requests log
// at Debug; only client and server errors surface at Warn/Error.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		reqID := middleware.GetReqID(r.Context())
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		level := slog.LevelDebug
		if status >= 500 {
			level = slog.LevelError
		} else if status >= 400 {
			level = slog.LevelWarn
		}

		slog.Log(r.Context(), level, "HTTP request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration", time.Since(start).String(),
			"request_id", reqID,
			"remote_ip", r.RemoteAddr,
		)
	})
}

// MetricsCollector records request counts and latencies for the Data Plane.
// Labels use the Chi route PATTERN, never the raw path: raw paths carry
// unbounded user input and would explode label cardinality.
func MetricsCollector(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := routePattern(r)
		code := strconv.Itoa(ww.Status())

		observability.DataPlaneReqTotal.WithLabelValues(r.Method, route, code).Inc()
		observability.DataPlaneReqDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// routePattern resolves the matched Chi route pattern after the handler ran.
// Unmatched requests collapse into a single "not_found" label.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return "not_found"
	}
	if pattern := rctx.RoutePattern(); pattern != "" && pattern != "/*" {
		return normalizeRoutePattern(pattern)
	}
	return "not_found"
}

// normalizeRoutePattern trims the trailing "/" Chi appends to subrouter
// patterns.
func normalizeRoutePattern(pattern string) string {
	if len(pattern) > 1 && pattern[len(pattern)-1] == '/' {
		return pattern[:len(pattern)-1]
	}
	return pattern
}
