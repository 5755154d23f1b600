// Package prom exports the chat server's Observer events as Prometheus
// metrics.
package prom

import (
	"net/http"
	"time"

	"github.com/fenwicklabs/chatline/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry returns a fresh Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Handler returns a Prometheus HTTP handler bound to the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Observer exports server-wide metrics to Prometheus.
type Observer struct {
	connGauge     prometheus.Gauge
	peerGauge     prometheus.Gauge
	authTotal     *prometheus.CounterVec
	disconnect    *prometheus.CounterVec
	parseErrors   prometheus.Counter
	writeErrors   prometheus.Counter
	broadcastSize prometheus.Histogram
	queueOverflow prometheus.Counter
	handshake     *prometheus.CounterVec
	dispatchTime  *prometheus.HistogramVec
}

// New registers chat server metrics on the registry.
func New(reg *prometheus.Registry) *Observer {
	o := &Observer{
		connGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chatline_connections",
			Help: "Current accepted connection count.",
		}),
		peerGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chatline_peers",
			Help: "Current live (authenticated) peer count.",
		}),
		authTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatline_auth_total",
			Help: "Login/register attempts by action, result, and reason.",
		}, []string{"action", "result", "reason"}),
		disconnect: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatline_disconnect_total",
			Help: "Peer disconnects by reason.",
		}, []string{"reason"}),
		parseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatline_frame_parse_errors_total",
			Help: "Frames that failed to parse.",
		}),
		writeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatline_frame_write_errors_total",
			Help: "Outbound frame writes that failed.",
		}),
		broadcastSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chatline_broadcast_recipients",
			Help:    "Number of recipients per broadcast/unicast message.",
			Buckets: prometheus.LinearBuckets(0, 5, 10),
		}),
		queueOverflow: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatline_queue_overflow_total",
			Help: "Outbound queue overflows (slow-consumer teardowns).",
		}),
		handshake: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatline_handshake_total",
			Help: "Private-session handshake transitions by result.",
		}, []string{"result"}),
		dispatchTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatline_dispatch_seconds",
			Help:    "Dispatcher handler latency by action.",
			Buckets: prometheus.DefBuckets,
		}, []string{"action"}),
	}
	reg.MustRegister(
		o.connGauge,
		o.peerGauge,
		o.authTotal,
		o.disconnect,
		o.parseErrors,
		o.writeErrors,
		o.broadcastSize,
		o.queueOverflow,
		o.handshake,
		o.dispatchTime,
	)
	return o
}

func (o *Observer) ConnCount(n int64) { o.connGauge.Set(float64(n)) }
func (o *Observer) PeerCount(n int)   { o.peerGauge.Set(float64(n)) }

func (o *Observer) Auth(action string, result observability.AuthResult, reason observability.AuthReason) {
	o.authTotal.WithLabelValues(action, string(result), string(reason)).Inc()
}

func (o *Observer) Disconnect(reason observability.DisconnectReason) {
	o.disconnect.WithLabelValues(string(reason)).Inc()
}

func (o *Observer) FrameParseError() { o.parseErrors.Inc() }
func (o *Observer) FrameWriteError() { o.writeErrors.Inc() }

func (o *Observer) Broadcast(recipients int) {
	o.broadcastSize.Observe(float64(recipients))
}

func (o *Observer) QueueOverflow() { o.queueOverflow.Inc() }

func (o *Observer) HandshakeTransition(result observability.HandshakeResult) {
	o.handshake.WithLabelValues(string(result)).Inc()
}

func (o *Observer) DispatchLatency(action string, d time.Duration) {
	o.dispatchTime.WithLabelValues(action).Observe(d.Seconds())
}
