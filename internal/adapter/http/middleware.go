// Package http provides the REST surface: chi handlers, routes, and the
// HTTP middleware that records request telemetry.
package http

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/performance"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/logger"
)

// SecurityHeaders returns middleware that sets standard HTTP security headers.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-XSS-Protection", "0")
		next.ServeHTTP(w, r)
	})
}

// Logger returns middleware that logs HTTP requests using slog.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := wrap(w)
		next.ServeHTTP(rw, r)

		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", logger.RequestID(r.Context()),
		)
	})
}

// PerformanceTracker records request timings. Track must not fail the
// request it measures.
type PerformanceTracker interface {
	Track(ctx context.Context, req performance.RecordRequest)
}

// untrackedPaths are never recorded as performance metrics.
var untrackedPaths = map[string]bool{
	"/":        true,
	"/health":  true,
	"/metrics": true,
	"/docs":    true,
}

// RequestTelemetry records every request as a performance metric and feeds
// the Prometheus request instruments. Either sink may be nil.
func RequestTelemetry(tracker PerformanceTracker, metrics *RequestMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if untrackedPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			rw := wrap(w)
			next.ServeHTTP(rw, r)
			elapsed := time.Since(start)

			route := routePattern(r)
			metrics.Observe(r.Method, route, rw.status, elapsed)
			if tracker == nil {
				return
			}
			status := performance.StatusSuccess
			errMsg := ""
			if rw.status >= http.StatusBadRequest {
				status = performance.StatusError
				errMsg = "HTTP " + strconv.Itoa(rw.status)
			}
			// The request context is done once the handler returns.
			tracker.Track(context.WithoutCancel(r.Context()), performance.RecordRequest{
				Operation:    r.Method + " " + route,
				DurationMS:   float64(elapsed.Microseconds()) / 1000,
				Status:       status,
				ErrorMessage: errMsg,
				Metadata: map[string]any{
					"method":      r.Method,
					"path":        r.URL.Path,
					"status_code": rw.status,
					"user_agent":  r.UserAgent(),
				},
			})
		})
	}
}

// routePattern returns the matched chi route, falling back to the raw path.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func wrap(w http.ResponseWriter) *responseWriter {
	if rw, ok := w.(*responseWriter); ok {
		return rw
	}
	return &responseWriter{ResponseWriter: w, status: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack implements http.Hijacker, required for WebSocket upgrades.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hj.Hijack()
	}
	return nil, nil, fmt.Errorf("upstream ResponseWriter does not implement http.Hijacker")
}

// Flush implements http.Flusher, required for streaming responses.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
