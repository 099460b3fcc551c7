package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Command outcomes recorded by CommandHandled.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Recorder receives gateway events for metrics.
type Recorder interface {
	SessionOpened()
	SessionClosed()
	CommandHandled(command, outcome string)
	ErrorRendered(kind string)
}

// NopRecorder discards every event.
type NopRecorder struct{}

func (NopRecorder) SessionOpened()                {}
func (NopRecorder) SessionClosed()                {}
func (NopRecorder) CommandHandled(string, string) {}
func (NopRecorder) ErrorRendered(string)          {}

// Metrics is a Prometheus-backed Recorder.
type Metrics struct {
	registry       *prometheus.Registry
	sessionsActive prometheus.Gauge
	sessionsTotal  prometheus.Counter
	commands       *prometheus.CounterVec
	errors         *prometheus.CounterVec
}

// NewMetrics creates the gateway collectors and registers them, together with
// the Go runtime and process collectors, on a fresh registry.
//
// Postcondition: Returns a non-nil Metrics or a registration error.
func NewMetrics() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nightraid",
			Name:      "sessions_active",
			Help:      "Number of currently open sessions.",
		}),
		sessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nightraid",
			Name:      "sessions_total",
			Help:      "Total number of sessions opened.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nightraid",
			Name:      "commands_total",
			Help:      "Commands dispatched, by command and outcome.",
		}, []string{"command", "outcome"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nightraid",
			Name:      "errors_total",
			Help:      "Errors rendered to clients, by kind.",
		}, []string{"kind"}),
	}

	for _, c := range []prometheus.Collector{
		m.sessionsActive,
		m.sessionsTotal,
		m.commands,
		m.errors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := m.registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) SessionOpened() {
	m.sessionsActive.Inc()
	m.sessionsTotal.Inc()
}

func (m *Metrics) SessionClosed() {
	m.sessionsActive.Dec()
}

func (m *Metrics) CommandHandled(command, outcome string) {
	m.commands.WithLabelValues(command, outcome).Inc()
}

func (m *Metrics) ErrorRendered(kind string) {
	m.errors.WithLabelValues(kind).Inc()
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// PoolStatsFunc reports connection pool occupancy at scrape time.
type PoolStatsFunc func() (acquired, idle, total int32)

type poolCollector struct {
	desc  *prometheus.Desc
	stats PoolStatsFunc
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) { ch <- c.desc }

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	acquired, idle, total := c.stats()
	ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(acquired), "acquired")
	ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(idle), "idle")
	ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(total), "total")
}

// ObservePool registers nightraid_db_connections{state} backed by stats.
//
// Precondition: stats must be non-nil and safe to call concurrently.
// Postcondition: Returns an error if a pool is already being observed.
func (m *Metrics) ObservePool(stats PoolStatsFunc) error {
	return m.registry.Register(&poolCollector{
		desc: prometheus.NewDesc(
			"nightraid_db_connections",
			"Credential store connections, by state.",
			[]string{"state"}, nil,
		),
		stats: stats,
	})
}
