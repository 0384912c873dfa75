// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ycchat"

type Metrics struct {
	Registry *prometheus.Registry

	Connections      prometheus.Gauge
	SignalsDelivered *prometheus.CounterVec
	SendFailures     *prometheus.CounterVec
	PubSubEvents     *prometheus.CounterVec
	PubSubReconnects prometheus.Counter
	HTTPRequests     *prometheus.CounterVec
	RateLimited      prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_connections",
			Help:      "Live streaming connections on this instance.",
		}),
		SignalsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_delivered_total",
			Help:      "Signals written to live connections, by kind.",
		}, []string{"kind"}),
		SendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signal_send_failures_total",
			Help:      "Sends that failed and dropped the connection, by kind.",
		}, []string{"kind"}),
		PubSubEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pubsub_events_total",
			Help:      "Pub/sub events by direction (published, received, dropped).",
		}, []string{"direction"}),
		PubSubReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pubsub_reconnects_total",
			Help:      "Subscription re-establishments after a transport failure.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Handled HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-user rate limiter.",
		}),
	}
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Connections,
		m.SignalsDelivered,
		m.SendFailures,
		m.PubSubEvents,
		m.PubSubReconnects,
		m.HTTPRequests,
		m.RateLimited,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
