package monitoring

import (
	"time"

	"quickchat/internal/core/domain"
	"quickchat/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/pion/webrtc/v3"
)

// PrometheusCollector exposes call subsystem metrics. It implements
// ports.CallObserver so the session manager feeds it directly.
type PrometheusCollector struct {
	callsStartedTotal *prometheus.CounterVec
	callsEndedTotal   *prometheus.CounterVec
	callsRejected     prometheus.Counter
	callDuration      prometheus.Histogram
	callActive        prometheus.Gauge

	poolActiveConnections prometheus.Gauge
	poolIdleConnections   *prometheus.GaugeVec

	signalFramesTotal     *prometheus.CounterVec
	signalReconnectsTotal prometheus.Counter
	usersConnected        prometheus.Gauge

	recordingBytesTotal prometheus.Counter
	recordingsTotal     prometheus.Counter
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		callsStartedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "quickchat_calls_started_total",
			Help: "Total number of calls started",
		}, []string{"direction", "kind"}),

		callsEndedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "quickchat_calls_ended_total",
			Help: "Total number of calls ended",
		}, []string{"reason"}),

		callsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "quickchat_calls_rejected_total",
			Help: "Total number of rejected calls",
		}),

		callDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "quickchat_call_duration_seconds",
			Help:    "Duration of completed calls",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),

		callActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "quickchat_call_active",
			Help: "Whether a call is currently active (0 or 1)",
		}),

		poolActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "quickchat_pool_active_connections",
			Help: "Peer connections currently held by call sessions",
		}),

		poolIdleConnections: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "quickchat_pool_idle_connections",
			Help: "Idle peer connections available for reuse",
		}, []string{"kind"}),

		signalFramesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "quickchat_signal_frames_total",
			Help: "Signaling frames processed by the relay",
		}, []string{"type", "outcome"}),

		signalReconnectsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "quickchat_signal_reconnects_total",
			Help: "Signaling channel reconnect attempts",
		}),

		usersConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "quickchat_users_connected",
			Help: "Users currently attached to the signaling relay",
		}),

		recordingBytesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "quickchat_recording_bytes_total",
			Help: "Total bytes captured by the call recorder",
		}),

		recordingsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "quickchat_recordings_total",
			Help: "Total number of completed recordings",
		}),
	}
}

// CallStarted implements ports.CallObserver.
func (p *PrometheusCollector) CallStarted(call *domain.Call) {
	p.callsStartedTotal.WithLabelValues(string(call.Direction), string(call.Kind)).Inc()
	p.callActive.Set(1)
}

func (p *PrometheusCollector) CallRinging(call *domain.Call) {
	p.callsStartedTotal.WithLabelValues(string(call.Direction), string(call.Kind)).Inc()
	p.callActive.Set(1)
}

func (p *PrometheusCollector) CallAccepted(call *domain.Call) {}

func (p *PrometheusCollector) CallRejected(call *domain.Call) {
	p.callsRejected.Inc()
}

func (p *PrometheusCollector) CallEnded(record *domain.CallRecord) {
	p.callsEndedTotal.WithLabelValues(string(record.EndReason)).Inc()
	p.callActive.Set(0)
	if record.Duration > 0 {
		p.callDuration.Observe(record.Duration.Seconds())
	}
}

func (p *PrometheusCollector) ConnectionStateChanged(callID domain.CallID, state webrtc.PeerConnectionState) {
}

// UpdatePoolStats refreshes the pool occupancy gauges.
func (p *PrometheusCollector) UpdatePoolStats(active int, idle map[domain.MediaKind]int) {
	p.poolActiveConnections.Set(float64(active))
	for kind, count := range idle {
		p.poolIdleConnections.WithLabelValues(string(kind)).Set(float64(count))
	}
}

// RecordSignalFrame counts one relay frame by type and outcome.
func (p *PrometheusCollector) RecordSignalFrame(frameType, outcome string) {
	p.signalFramesTotal.WithLabelValues(frameType, outcome).Inc()
}

func (p *PrometheusCollector) RecordReconnect() {
	p.signalReconnectsTotal.Inc()
}

func (p *PrometheusCollector) SetConnectedUsers(count int) {
	p.usersConnected.Set(float64(count))
}

// RecordRecordingProgress tracks captured bytes as chunks arrive.
func (p *PrometheusCollector) RecordRecordingProgress(bytes int64) {
	p.recordingBytesTotal.Add(float64(bytes))
}

func (p *PrometheusCollector) RecordRecordingCompleted(size int64, duration time.Duration) {
	p.recordingsTotal.Inc()
}

var _ ports.CallObserver = (*PrometheusCollector)(nil)
