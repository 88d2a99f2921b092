package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "callbridge"

// Metrics holds the Prometheus collectors shared by every session of a Manager.
type Metrics struct {
	SessionsActive   prometheus.Gauge
	SessionsTotal    prometheus.Counter
	MediaForwarded   prometheus.Counter
	MediaDropped     prometheus.Counter
	PacketsSent      prometheus.Counter
	BargeIns         prometheus.Counter
	Utterances       prometheus.Counter
	ToolCalls        *prometheus.CounterVec
	LegFailures      *prometheus.CounterVec
	TurnLatency      prometheus.Histogram
	SessionDurations prometheus.Histogram
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_active",
			Help:      "Number of calls currently bridged",
		}),
		SessionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_total",
			Help:      "Total number of accepted calls",
		}),
		MediaForwarded: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "media_forwarded_total",
			Help:      "Caller audio frames forwarded to recognition",
		}),
		MediaDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "media_dropped_total",
			Help:      "Caller audio frames dropped because recognition was not open",
		}),
		PacketsSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "packets_sent_total",
			Help:      "Paced synthesis packets sent to the caller",
		}),
		BargeIns: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "barge_ins_total",
			Help:      "Synthesis turns interrupted by caller speech",
		}),
		Utterances: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "utterances_total",
			Help:      "Caller utterances sent to the dialogue model",
		}),
		ToolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tool_calls_total",
			Help:      "Tool calls by outcome",
		}, []string{"outcome"}),
		LegFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "leg_failures_total",
			Help:      "Legs that failed to open or errored",
		}, []string{"role"}),
		TurnLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "turn_latency_seconds",
			Help:      "Time from utterance sent to first synthesized audio",
			Buckets:   []float64{0.1, 0.25, 0.5, 0.75, 1, 1.5, 2, 3, 5},
		}),
		SessionDurations: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "session_duration_seconds",
			Help:      "Call duration from accept to teardown",
			Buckets:   prometheus.ExponentialBuckets(5, 2, 10),
		}),
	}
}
