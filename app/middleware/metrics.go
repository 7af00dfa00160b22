// Package middleware holds Fiber middleware shared by the broadcast API
package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const unmatchedRoute = "unmatched"

var (
	// API requests partitioned by method, route template and status code
	apiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_api_requests_total",
			Help: "Requests served by the broadcast API",
		},
		[]string{"method", "route", "status"},
	)

	apiRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "broadcast_api_request_duration_seconds",
			Help:    "Broadcast API request latencies in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "route", "status"},
	)

	apiInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "broadcast_api_inflight_requests",
			Help: "Broadcast API requests currently being served",
		},
	)
)

// Metrics records request counts and latencies. Routes are labelled by their
// template (/api/v1/broadcasts/:uuid) so ids never become label values.
func Metrics() fiber.Handler {
	return func(c fiber.Ctx) error {
		start := time.Now()
		apiInFlight.Inc()
		defer apiInFlight.Dec()

		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}

		labels := prometheus.Labels{
			"method": c.Method(),
			"route":  RouteLabel(c),
			"status": strconv.Itoa(status),
		}
		apiRequestsTotal.With(labels).Inc()
		apiRequestDuration.With(labels).Observe(time.Since(start).Seconds())

		return err
	}
}

// RouteLabel returns the matched route template, or "unmatched" when only a
// catch-all middleware handled the request.
func RouteLabel(c fiber.Ctx) string {
	r := c.Route()
	if r == nil || r.Path == "" || r.Path == "/" && c.Path() != "/" {
		return unmatchedRoute
	}
	return strings.TrimSuffix(r.Path, "/")
}
