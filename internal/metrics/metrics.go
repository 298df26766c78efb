// Package metrics defines prometheus metrics to expose
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modelgate_request_duration_seconds",
			Help:    "Total time taken for requests in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"operation"},
	)

	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelgate_request_count_total",
			Help: "Total number of requests processed",
		},
		[]string{"operation", "status"},
	)

	ErrorCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelgate_error_count",
			Help: "Error count by contract error kind",
		},
		[]string{"operation", "kind"},
	)

	ResponseCodes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelgate_status_code",
			Help: "Status Codes",
		},
		[]string{"path", "status_code"},
	)

	StreamChunks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelgate_stream_chunks_total",
			Help: "Chunks emitted by streaming operations",
		},
		[]string{"operation"},
	)

	BatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modelgate_batch_size",
			Help:    "Observed coalesced batch sizes per runner method",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
		},
		[]string{"runner", "method"},
	)

	// EchoCounter is the application-level counter incremented by the text
	// echo operation. Registered at init so a scrape observes it before the
	// first increment.
	EchoCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "modelgate_echo_total",
			Help: "Counter test metric",
		},
	)
)
