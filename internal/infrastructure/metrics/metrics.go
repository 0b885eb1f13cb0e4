// Package metrics exposes MultiCam Core's Prometheus collectors.
//
// All collectors live on a private registry (plus the Go and process
// collectors) so tests can create as many Metrics as they like without
// duplicate-registration panics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "multicam"

// Result label values.
const (
	resultOK     = "ok"
	resultFailed = "failed"
	resultReused = "reused"
	resultOpened = "opened"
)

// Metrics holds every collector the core updates.
type Metrics struct {
	registry *prometheus.Registry

	DispatchesTotal    *prometheus.CounterVec
	DispatchDuration   *prometheus.HistogramVec
	DeviceResultsTotal *prometheus.CounterVec
	SessionConnects    *prometheus.CounterVec
	SessionConnectTime prometheus.Histogram
	SessionReleases    prometheus.Counter
	DevicesOnline      prometheus.Gauge
	DevicesTotal       prometheus.Gauge
	ConfigReloads      *prometheus.CounterVec
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		DispatchesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Actions dispatched, by action and overall result.",
		}, []string{"action_id", "result"}),
		DispatchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Wall-clock time of one dispatch including pacing.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"action_id"}),
		DeviceResultsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_results_total",
			Help:      "Per-device command outcomes.",
		}, []string{"device_id", "result"}),
		SessionConnects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_connects_total",
			Help:      "EnsureSession outcomes: reused, opened or failed.",
		}, []string{"result"}),
		SessionConnectTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_connect_seconds",
			Help:      "Time to reuse or open a device session.",
			Buckets:   prometheus.DefBuckets,
		}),
		SessionReleases: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_releases_total",
			Help:      "Sessions torn down.",
		}),
		DevicesOnline: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices_online",
			Help:      "Devices currently marked online.",
		}),
		DevicesTotal: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices",
			Help:      "Devices in the current registry.",
		}),
		ConfigReloads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_reloads_total",
			Help:      "Config reloads by result.",
		}, []string{"result"}),
	}
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveDispatch records one completed dispatch.
func (m *Metrics) ObserveDispatch(actionID string, ok bool, elapsed time.Duration) {
	m.DispatchesTotal.WithLabelValues(actionID, result(ok)).Inc()
	m.DispatchDuration.WithLabelValues(actionID).Observe(elapsed.Seconds())
}

// ObserveDeviceResult records one device's outcome within a dispatch.
func (m *Metrics) ObserveDeviceResult(_, deviceID string, ok bool) {
	m.DeviceResultsTotal.WithLabelValues(deviceID, result(ok)).Inc()
}

// ObserveConnect records an EnsureSession call.
func (m *Metrics) ObserveConnect(_ string, reused bool, err error, elapsed time.Duration) {
	switch {
	case err != nil:
		m.SessionConnects.WithLabelValues(resultFailed).Inc()
	case reused:
		m.SessionConnects.WithLabelValues(resultReused).Inc()
	default:
		m.SessionConnects.WithLabelValues(resultOpened).Inc()
	}
	m.SessionConnectTime.Observe(elapsed.Seconds())
}

// ObserveRelease records a session teardown.
func (m *Metrics) ObserveRelease(string) {
	m.SessionReleases.Inc()
}

// SetDevicesOnline updates the online and total gauges.
func (m *Metrics) SetDevicesOnline(online, total int) {
	m.DevicesOnline.Set(float64(online))
	m.DevicesTotal.Set(float64(total))
}

// ObserveReload records a config reload.
func (m *Metrics) ObserveReload(ok bool) {
	m.ConfigReloads.WithLabelValues(result(ok)).Inc()
}

func result(ok bool) string {
	if ok {
		return resultOK
	}
	return resultFailed
}
