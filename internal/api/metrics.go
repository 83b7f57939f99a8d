package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/seantiz/fusion/internal/telemetry"
)

const unmatched = "unmatched"

// Option configures a Server.
type Option func(*Server)

// WithMetrics records request metrics into m and serves /metrics from g.
// Passing the registry that also holds the workflow collectors exposes
// both on one endpoint.
func WithMetrics(m *telemetry.HTTPMetrics, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.httpMetrics = m
		s.gatherer = g
	}
}

// defaultMetrics gives a server without WithMetrics its own registry.
func (s *Server) defaultMetrics() {
	reg := prometheus.NewRegistry()
	m, err := telemetry.NewHTTPMetrics(reg)
	if err != nil {
		s.logger.Error("failed to register http metrics", "error", err)
	}
	s.httpMetrics = m
	s.gatherer = reg
}

// metricsMiddleware records request count and duration keyed by the chi
// route pattern.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		if s.httpMetrics == nil {
			return
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.httpMetrics.ObserveRequest(r.Method, routePattern(r), status, time.Since(start))
	})
}

// routePattern extracts the matched chi route pattern, falling back to "unmatched".
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return unmatched
}

func (s *Server) metricsHandler() http.Handler {
	return promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})
}
