// Package metrics exposes the game server's Prometheus collectors. Traffic
// counters are read straight from util.Stats at scrape time; the rest are
// fed by the server as events happen.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/1ureka/gamenet/internal/util"
)

// Login results used as the "result" label.
const (
	LoginAccepted = "accepted"
	LoginRejected = "rejected"
)

// Metrics holds one private registry and its collectors.
type Metrics struct {
	registry *prometheus.Registry

	rtt         prometheus.Histogram
	logins      *prometheus.CounterVec
	disconnects prometheus.Counter
	players     prometheus.Gauge
}

// New registers every collector under namespace.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	counter := func(name, help string, v func() int64) {
		factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(v()) })
	}
	counter("connections_total", "Connections accepted since start", util.Stats.TotalConns.Load)
	counter("bytes_received_total", "Bytes read from client streams", util.Stats.BytesRecv.Load)
	counter("bytes_sent_total", "Bytes written to client streams", util.Stats.BytesSent.Load)
	counter("packets_received_total", "Packets framed off client streams", util.Stats.PacketsRecv.Load)
	counter("packets_sent_total", "Packets written to client streams", util.Stats.PacketsSent.Load)

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connections_active",
		Help:      "Connections accepted and not yet torn down",
	}, func() float64 { return float64(util.Stats.Live()) })

	return &Metrics{
		registry: reg,
		rtt: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rtt_seconds",
			Help:      "Ping round-trip time",
			Buckets:   []float64{.005, .01, .025, .05, .075, .1, .15, .25, .5, 1},
		}),
		logins: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by result",
		}, []string{"result"}),
		disconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "Clients dropped",
		}),
		players: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "players",
			Help:      "Logged-in players",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ObserveRTT(d time.Duration) { m.rtt.Observe(d.Seconds()) }

func (m *Metrics) Login(result string) { m.logins.WithLabelValues(result).Inc() }

func (m *Metrics) Disconnect() { m.disconnects.Inc() }

func (m *Metrics) SetPlayers(n int) { m.players.Set(float64(n)) }
