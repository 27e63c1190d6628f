package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	SessionsStarted *prometheus.CounterVec
	SessionsEnded   *prometheus.CounterVec
	ActiveSessions  *prometheus.GaugeVec

	// Frame metrics
	FramesSent     prometheus.Counter
	FramesReceived prometheus.Counter
	FramesRendered prometheus.Counter
	FramesDropped  prometheus.Counter
	DecodeErrors   prometheus.Counter
	BytesSent      prometheus.Counter
	BytesReceived  prometheus.Counter
	PayloadSize    *prometheus.HistogramVec

	// Annotation metrics
	Annotations      *prometheus.CounterVec
	AnnotateDuration prometheus.Histogram

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
}

// New creates all metrics on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		SessionsStarted: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facerelay_sessions_started_total",
				Help: "Total number of sessions started",
			},
			[]string{"direction"},
		),
		SessionsEnded: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facerelay_sessions_ended_total",
				Help: "Total number of sessions ended, by exit reason",
			},
			[]string{"direction", "exit"},
		),
		ActiveSessions: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "facerelay_active_sessions",
				Help: "Number of currently active sessions",
			},
			[]string{"direction"},
		),

		FramesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "facerelay_frames_sent_total",
			Help: "Total number of frames written to the wire",
		}),
		FramesReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "facerelay_frames_received_total",
			Help: "Total number of frames read from the wire",
		}),
		FramesRendered: f.NewCounter(prometheus.CounterOpts{
			Name: "facerelay_frames_rendered_total",
			Help: "Total number of frames handed to the renderer",
		}),
		FramesDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "facerelay_frames_dropped_total",
			Help: "Total number of frames replaced before rendering",
		}),
		DecodeErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "facerelay_decode_errors_total",
			Help: "Total number of payloads skipped because they failed to decode",
		}),
		BytesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "facerelay_bytes_sent_total",
			Help: "Total payload bytes sent",
		}),
		BytesReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "facerelay_bytes_received_total",
			Help: "Total payload bytes received",
		}),
		PayloadSize: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "facerelay_payload_size_bytes",
				Help:    "Size of encoded frame payloads",
				Buckets: prometheus.ExponentialBuckets(4096, 2, 10), // 4KB to ~2MB
			},
			[]string{"direction"},
		),

		Annotations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facerelay_annotations_total",
				Help: "Total number of annotation results, by label",
			},
			[]string{"label"},
		),
		AnnotateDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "facerelay_annotate_duration_seconds",
			Help:    "Time spent detecting and labelling one frame",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),

		HTTPRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facerelay_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SessionStarted records the start of a session in direction
func (m *Metrics) SessionStarted(direction string) {
	if m == nil {
		return
	}
	m.SessionsStarted.WithLabelValues(direction).Inc()
	m.ActiveSessions.WithLabelValues(direction).Inc()
}

// SessionEnded records the end of a session in direction
func (m *Metrics) SessionEnded(direction, exit string) {
	if m == nil {
		return
	}
	m.SessionsEnded.WithLabelValues(direction, exit).Inc()
	m.ActiveSessions.WithLabelValues(direction).Dec()
}

// FrameSent records one payload written to the wire
func (m *Metrics) FrameSent(size int) {
	if m == nil {
		return
	}
	m.FramesSent.Inc()
	m.BytesSent.Add(float64(size))
	m.PayloadSize.WithLabelValues("send").Observe(float64(size))
}

// FrameReceived records one payload read from the wire
func (m *Metrics) FrameReceived(size int) {
	if m == nil {
		return
	}
	m.FramesReceived.Inc()
	m.BytesReceived.Add(float64(size))
	m.PayloadSize.WithLabelValues("receive").Observe(float64(size))
}

// FrameRendered records a frame handed to the renderer
func (m *Metrics) FrameRendered() {
	if m == nil {
		return
	}
	m.FramesRendered.Inc()
}

// FrameDropped records a frame replaced in the render slot
func (m *Metrics) FrameDropped() {
	if m == nil {
		return
	}
	m.FramesDropped.Inc()
}

// DecodeError records a skipped payload
func (m *Metrics) DecodeError() {
	if m == nil {
		return
	}
	m.DecodeErrors.Inc()
}

// Annotated records the labels produced for one frame and how long it took
func (m *Metrics) Annotated(labels []string, seconds float64) {
	if m == nil {
		return
	}
	for _, l := range labels {
		m.Annotations.WithLabelValues(l).Inc()
	}
	m.AnnotateDuration.Observe(seconds)
}
