package http

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Sentinel-Gate/botbridge/internal/service"
	"github.com/Sentinel-Gate/botbridge/pkg/channel"
)

const namespace = "botbridge"

// Metrics holds all Prometheus metrics for the bridge.
// It implements service.ReplyObserver.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	CallsTotal       *prometheus.CounterVec
	RepliesTotal     *prometheus.CounterVec
	ReplyDuration    *prometheus.HistogramVec
	DuplicateReplies *prometheus.CounterVec
	ReplyTimeouts    prometheus.Counter

	reg prometheus.Registerer
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests served",
			},
			[]string{"method", "status"}, // method=POST, status=ok/error
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		CallsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "channel_calls_total",
				Help:      "Total channel calls received",
			},
			[]string{"method"},
		),
		RepliesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "channel_replies_total",
				Help:      "Total channel replies by outcome",
			},
			[]string{"method", "reply"}, // reply=headers/solved/cancelled/false/error/not_implemented
		),
		ReplyDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "channel_reply_duration_seconds",
				Help:      "Time from call to reply in seconds",
				Buckets:   []float64{.001, .01, .1, 1, 10, 30, 60, 300},
			},
			[]string{"method", "deferred"},
		),
		DuplicateReplies: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "channel_duplicate_replies_total",
				Help:      "Replies suppressed because the call was already answered",
			},
			[]string{"method"},
		),
		ReplyTimeouts: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "channel_reply_timeouts_total",
				Help:      "HTTP calls answered with a reply timeout",
			},
		),
		reg: reg,
	}
}

// TrackAudit exports the audit queue depth and drop count.
func (m *Metrics) TrackAudit(a *service.AuditService) {
	promauto.With(m.reg).NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "audit_queue_depth",
			Help:      "Audit records waiting to be written",
		},
		func() float64 { return float64(a.ChannelDepth()) },
	)
	promauto.With(m.reg).NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_drops_total",
			Help:      "Total audit records dropped due to backpressure",
		},
		func() float64 { return float64(a.DroppedRecords()) },
	)
}

// TrackPending exports the number of unresolved challenges.
func (m *Metrics) TrackPending(stats *service.StatsService) {
	promauto.With(m.reg).NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_challenges",
			Help:      "Challenges awaiting an outcome",
		},
		func() float64 { return float64(stats.Pending()) },
	)
}

// ObserveCall implements service.ReplyObserver.
func (m *Metrics) ObserveCall(method string) {
	m.CallsTotal.WithLabelValues(method).Inc()
}

// ObserveReply implements service.ReplyObserver.
func (m *Metrics) ObserveReply(method string, reply channel.Reply, deferred bool, latency time.Duration) {
	m.RepliesTotal.WithLabelValues(method, replyLabel(method, reply)).Inc()
	d := "false"
	if deferred {
		d = "true"
	}
	m.ReplyDuration.WithLabelValues(method, d).Observe(latency.Seconds())
}

// ObserveDuplicate implements service.ReplyObserver.
func (m *Metrics) ObserveDuplicate(method string) {
	m.DuplicateReplies.WithLabelValues(method).Inc()
}

// replyLabel keeps label cardinality bounded.
func replyLabel(method string, r channel.Reply) string {
	switch r.Kind {
	case channel.ReplyError:
		return "error"
	case channel.ReplyNotImplemented:
		return "not_implemented"
	}
	if method == channel.MethodGetHeaders {
		return "headers"
	}
	if s, ok := r.Value.(string); ok {
		switch s {
		case "solved", "cancelled", "false":
			return s
		}
	}
	return "other"
}

var _ service.ReplyObserver = (*Metrics)(nil)
