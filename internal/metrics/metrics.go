// v1
// internal/metrics/metrics.go
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Ahmedbooudouh/cst8916-final-project/internal/breaker"
	"github.com/Ahmedbooudouh/cst8916-final-project/internal/device"
)

// Metrics exposes fleet activity to Prometheus and doubles as a worker
// observer.
type Metrics struct {
	registry *prometheus.Registry

	published      *prometheus.CounterVec
	publishLatency *prometheus.HistogramVec
	consecutive    *prometheus.GaugeVec
	workerState    *prometheus.GaugeVec
	lastReading    *prometheus.GaugeVec
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	excluded       prometheus.Gauge
}

// New registers every collector on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sensorsim_messages_total",
			Help: "Telemetry publishes by device and outcome; breaker_open counts sends rejected by an open circuit.",
		}, []string{"device", "outcome"}),
		publishLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sensorsim_publish_duration_seconds",
			Help:    "Histogram of telemetry publish durations by device.",
			Buckets: prometheus.DefBuckets,
		}, []string{"device"}),
		consecutive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sensorsim_consecutive_failures",
			Help: "Current run of failed publishes per device.",
		}, []string{"device"}),
		workerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sensorsim_worker_state",
			Help: "1 for the state each device worker is currently in, 0 otherwise.",
		}, []string{"device", "state"}),
		lastReading: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sensorsim_last_reading",
			Help: "Most recently published value per device and quantity.",
		}, []string{"device", "quantity"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		excluded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sensorsim_devices_excluded",
			Help: "Devices excluded at startup because of configuration errors.",
		}),
	}

	m.registry.MustRegister(
		m.published,
		m.publishLatency,
		m.consecutive,
		m.workerState,
		m.lastReading,
		m.httpRequests,
		m.httpDuration,
		m.excluded,
	)
	return m
}

// Registry returns the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

var allStates = []device.State{device.Connecting, device.Running, device.Stopping, device.Stopped, device.Failed}

// OnState implements device.Observer.
func (m *Metrics) OnState(id device.Identity, state device.State, _ error) {
	if m == nil {
		return
	}
	for _, s := range allStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.workerState.WithLabelValues(id.DeviceID, s.String()).Set(v)
	}
}

// OnPublish implements device.Observer.
func (m *Metrics) OnPublish(o device.Outcome) {
	if m == nil {
		return
	}
	dev := o.Identity.DeviceID
	m.consecutive.WithLabelValues(dev).Set(float64(o.ConsecutiveFailures))
	switch {
	case o.Err == nil:
		m.published.WithLabelValues(dev, "ok").Inc()
		m.publishLatency.WithLabelValues(dev).Observe(o.Latency.Seconds())
		m.lastReading.WithLabelValues(dev, "ice_thickness_cm").Set(o.Reading.IceThickness)
		m.lastReading.WithLabelValues(dev, "surface_temperature_c").Set(o.Reading.SurfaceTemperature)
		m.lastReading.WithLabelValues(dev, "snow_accumulation_cm").Set(o.Reading.SnowAccumulation)
		m.lastReading.WithLabelValues(dev, "external_temperature_c").Set(o.Reading.ExternalTemperature)
	case errors.Is(o.Err, breaker.ErrRejected):
		m.published.WithLabelValues(dev, "breaker_open").Inc()
	default:
		m.published.WithLabelValues(dev, "error").Inc()
		m.publishLatency.WithLabelValues(dev).Observe(o.Latency.Seconds())
	}
}

// SetExcluded records how many devices were left out at startup.
func (m *Metrics) SetExcluded(n int) {
	if m == nil {
		return
	}
	m.excluded.Set(float64(n))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler counts and times requests for route.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		if m != nil {
			m.httpRequests.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}
