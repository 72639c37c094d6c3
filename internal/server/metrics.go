package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	opEncode = "encode"
	opDecode = "decode"
)

const (
	outcomeOK          = "ok"
	outcomeBadRequest  = "bad_request"
	outcomeTooLarge    = "too_large"
	outcomeEncodeError = "encode_error"
	outcomeDecodeError = "decode_error"
	outcomeTimeout     = "timeout"
	outcomeUnavailable = "unavailable"
	outcomeInternal    = "internal"
)

// metrics is registered on a private registry so several handlers can live
// in one process (tests, embedded use) without duplicate registration.
type metrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tokbridge_requests_total",
			Help: "Encode and decode requests by outcome.",
		}, []string{"op", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tokbridge_request_duration_seconds",
			Help:    "Time spent inside the tokenizer per request.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"op"}),
	}

	m.registry.MustRegister(m.requests, m.duration)

	return m
}

func (m *metrics) observe(op, outcome string, elapsed time.Duration) {
	m.requests.WithLabelValues(op, outcome).Inc()

	if elapsed > 0 {
		m.duration.WithLabelValues(op).Observe(elapsed.Seconds())
	}
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
