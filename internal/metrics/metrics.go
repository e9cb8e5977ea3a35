// Package metrics registers the gateway's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// UpstreamRequests counts KIS REST calls by transaction id and outcome.
	UpstreamRequests = newCounterVec(prometheus.CounterOpts{
		Namespace: "kis_gateway",
		Name:      "upstream_requests_total",
		Help:      "KIS REST requests by transaction id and outcome.",
	}, []string{"tr_id", "outcome"})

	// UpstreamRetries counts retry attempts against the KIS REST API.
	UpstreamRetries = newCounter(prometheus.CounterOpts{
		Namespace: "kis_gateway",
		Name:      "upstream_retries_total",
		Help:      "Retried KIS REST requests.",
	})

	// UpstreamLatency observes KIS REST call duration in seconds.
	UpstreamLatency = newHistVec(prometheus.HistogramOpts{
		Namespace: "kis_gateway",
		Name:      "upstream_request_seconds",
		Help:      "KIS REST request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"tr_id"})

	// CacheLookups counts quote cache lookups by kind and result.
	CacheLookups = newCounterVec(prometheus.CounterOpts{
		Namespace: "kis_gateway",
		Name:      "cache_lookups_total",
		Help:      "Quote cache lookups by kind and hit/miss.",
	}, []string{"kind", "result"})

	// ActiveStreams tracks currently open consumer WebSocket streams.
	ActiveStreams = newGauge(prometheus.GaugeOpts{
		Namespace: "kis_gateway",
		Name:      "active_streams",
		Help:      "Open consumer WebSocket streams.",
	})

	// StreamReconnects counts upstream WebSocket reconnect attempts.
	StreamReconnects = newCounter(prometheus.CounterOpts{
		Namespace: "kis_gateway",
		Name:      "stream_reconnects_total",
		Help:      "Upstream WebSocket reconnect attempts.",
	})
)

func newCounter(opts prometheus.CounterOpts) prometheus.Counter {
	c := prometheus.NewCounter(opts)
	prometheus.MustRegister(c)
	return c
}

func newCounterVec(opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(opts, labels)
	prometheus.MustRegister(c)
	return c
}

func newGauge(opts prometheus.GaugeOpts) prometheus.Gauge {
	g := prometheus.NewGauge(opts)
	prometheus.MustRegister(g)
	return g
}

func newHistVec(opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(opts, labels)
	prometheus.MustRegister(h)
	return h
}
