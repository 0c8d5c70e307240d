// Package metrics exports handshake and connection metrics to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	rerrors "github.com/alxayo/go-rtmp-handshake/internal/errors"
)

// NewRegistry returns a fresh Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Handler returns a Prometheus HTTP handler bound to the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Observer records handshake outcomes and connection counts. A nil *Observer
// is valid and records nothing.
type Observer struct {
	handshakes *prometheus.CounterVec
	duration   prometheus.Histogram
	inFlight   prometheus.Gauge
	active     prometheus.Gauge
}

// NewObserver registers handshake metrics on reg.
func NewObserver(reg prometheus.Registerer) *Observer {
	o := &Observer{
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rtmp_handshakes_total",
			Help: "Server handshakes by result and failure reason.",
		}, []string{"result", "reason"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rtmp_handshake_duration_seconds",
			Help:    "Time from accept to S2 sent or failure.",
			Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rtmp_handshakes_in_flight",
			Help: "Handshakes currently in progress.",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rtmp_connections_active",
			Help: "Connections that completed the handshake and are still open.",
		}),
	}
	reg.MustRegister(o.handshakes, o.duration, o.inFlight, o.active)
	return o
}

// RegisterPoolGauge exports the outstanding-buffer count of a pool.
func RegisterPoolGauge(reg prometheus.Registerer, outstanding func() int64) {
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "rtmp_bufpool_outstanding",
		Help: "Buffers acquired from the shared pool and not yet released.",
	}, func() float64 { return float64(outstanding()) }))
}

func (o *Observer) HandshakeStarted() {
	if o == nil {
		return
	}
	o.inFlight.Inc()
}

// HandshakeFinished records the outcome of a handshake started with HandshakeStarted.
func (o *Observer) HandshakeFinished(d time.Duration, err error) {
	if o == nil {
		return
	}
	o.inFlight.Dec()
	o.duration.Observe(d.Seconds())
	if err != nil {
		o.handshakes.WithLabelValues("failed", rerrors.Reason(err)).Inc()
		return
	}
	o.handshakes.WithLabelValues("ok", "none").Inc()
}

func (o *Observer) ConnectionOpened() {
	if o == nil {
		return
	}
	o.active.Inc()
}

func (o *Observer) ConnectionClosed() {
	if o == nil {
		return
	}
	o.active.Dec()
}
