// Package metrics holds the Prometheus collectors of both binaries.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/roboricindustries/chat-ingest/pkg/pubsub"
)

const namespace = "chat_ingest"

type Metrics struct {
	registry *prometheus.Registry

	deliveries   *prometheus.CounterVec
	settleTime   *prometheus.HistogramVec
	published    *prometheus.CounterVec
	replies      *prometheus.CounterVec
	records      *prometheus.CounterVec
	interpreters *prometheus.CounterVec
	notifier     *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Broker deliveries by queue and settle outcome.",
		}, []string{"queue", "outcome"}),
		settleTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_duration_seconds",
			Help:      "Time from delivery receipt to settle.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"queue"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "published_total",
			Help:      "Messages published by the gateway.",
		}, []string{"queue", "result"}),
		replies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_total",
			Help:      "Reply waits by result.",
		}, []string{"result"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Persistence results for new messages and edits.",
		}, []string{"op", "result"}),
		interpreters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interpreter_failures_total",
			Help:      "Messages stored with a fallback body because transcription or captioning failed.",
		}, []string{"kind"}),
		notifier: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifier sends by result.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		m.deliveries, m.settleTime, m.published, m.replies,
		m.records, m.interpreters, m.notifier,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

var _ pubsub.Observer = (*Metrics)(nil)

func (m *Metrics) Settled(queue string, outcome pubsub.Outcome, took time.Duration) {
	m.deliveries.WithLabelValues(queue, string(outcome)).Inc()
	m.settleTime.WithLabelValues(queue).Observe(took.Seconds())
}

func (m *Metrics) Published(queue string, err error) {
	m.published.WithLabelValues(queue, result(err)).Inc()
}

func (m *Metrics) Reply(result string) {
	m.replies.WithLabelValues(result).Inc()
}

func (m *Metrics) Record(op, result string) {
	m.records.WithLabelValues(op, result).Inc()
}

func (m *Metrics) InterpreterFailed(kind string) {
	m.interpreters.WithLabelValues(kind).Inc()
}

func (m *Metrics) Notified(err error) {
	m.notifier.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
