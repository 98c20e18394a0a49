package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics はバックエンドのメトリクス
type Metrics struct {
	registry         *prometheus.Registry
	ActiveStreams    prometheus.Gauge
	FramesTotal      *prometheus.CounterVec
	SettingsRequests *prometheus.CounterVec
	CameraScans      prometheus.Counter
}

// NewMetrics は専用レジストリにメトリクスを登録して返す
func NewMetrics() *Metrics {
	r := prometheus.NewRegistry()
	m := &Metrics{
		registry: r,
		ActiveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "webmonitor",
			Name:      "active_streams",
			Help:      "Number of MJPEG streams currently being served",
		}),
		FramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "webmonitor",
			Name:      "frames_total",
			Help:      "Total JPEG frames written to clients",
		}, []string{"camera"}),
		SettingsRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "webmonitor",
			Name:      "settings_requests_total",
			Help:      "Camera settings requests by result",
		}, []string{"result"}),
		CameraScans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "webmonitor",
			Name:      "camera_scans_total",
			Help:      "Total camera discovery scans",
		}),
	}
	r.MustRegister(m.ActiveStreams, m.FramesTotal, m.SettingsRequests, m.CameraScans)
	return m
}

// Registry はメトリクスのレジストリを返す
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
