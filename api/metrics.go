/*
metrics.go - Prometheus instrumentation for the HTTP API

Exposes request counts and latency histograms per route pattern, plus a
counter for payment allocation outcomes incremented by the handlers.
Scraped at /metrics.
*/
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tab_engine_http_requests_total",
		Help: "HTTP requests processed, by method, route pattern and status code.",
	}, []string{"method", "route", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tab_engine_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds, by method and route pattern.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	allocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tab_engine_allocations_total",
		Help: "Payment allocations performed, by method and result.",
	}, []string{"method", "result"})
)

// MetricsMiddleware records request count and latency for every route.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		// The route pattern is only resolved after chi has matched, so
		// it must be read post-serve.
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		requestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Inc()
		requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// observeAllocation counts an allocation attempt outcome.
func observeAllocation(method string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	allocationsTotal.WithLabelValues(method, result).Inc()
}
