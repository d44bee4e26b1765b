package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"agentbridge/internal/routing"
)

// ActiveCallsProvider exposes the number of established calls.
type ActiveCallsProvider interface {
	GetActiveCallCount() int
}

// PendingBridgeProvider exposes the number of calls still waiting for the agent leg.
type PendingBridgeProvider interface {
	GetPendingBridgeCount() int
}

// ConnectionProvider reports whether the ARI session is up.
type ConnectionProvider interface {
	Connected() bool
}

// Collector is a prometheus.Collector that reads registry state at scrape
// time and counts routing notifications as they happen.
type Collector struct {
	activeCalls ActiveCallsProvider
	pending     PendingBridgeProvider
	conn        ConnectionProvider
	startTime   time.Time

	activeCallsDesc *prometheus.Desc
	pendingDesc     *prometheus.Desc
	connectedDesc   *prometheus.Desc
	uptimeDesc      *prometheus.Desc

	transitions *prometheus.CounterVec
	holds       *prometheus.CounterVec
}

// NewCollector creates a new metrics collector. Any provider may be nil if unavailable.
func NewCollector(activeCalls ActiveCallsProvider, pending PendingBridgeProvider, conn ConnectionProvider, startTime time.Time) *Collector {
	return &Collector{
		activeCalls: activeCalls,
		pending:     pending,
		conn:        conn,
		startTime:   startTime,

		activeCallsDesc: prometheus.NewDesc(
			"agentbridge_active_calls",
			"Number of calls with both legs bridged",
			nil, nil,
		),
		pendingDesc: prometheus.NewDesc(
			"agentbridge_pending_bridges",
			"Number of inbound calls waiting for the agent leg",
			nil, nil,
		),
		connectedDesc: prometheus.NewDesc(
			"agentbridge_ari_connected",
			"ARI websocket state (1=connected, 0=disconnected)",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"agentbridge_uptime_seconds",
			"Seconds since the process started",
			nil, nil,
		),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentbridge_call_transitions_total",
			Help: "Call registry transitions by type",
		}, []string{"type"}),
		holds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentbridge_hold_requests_total",
			Help: "Hold and unhold requests by action and result",
		}, []string{"action", "result"}),
	}
}

// Notify implements routing.Observer.
func (c *Collector) Notify(n routing.Notification) {
	c.transitions.WithLabelValues(string(n.Type)).Inc()
}

// ObserveHold counts one hold or unhold request. result is "ok", "not_found" or "error".
func (c *Collector) ObserveHold(action, result string) {
	c.holds.WithLabelValues(action, result).Inc()
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeCallsDesc
	ch <- c.pendingDesc
	ch <- c.connectedDesc
	ch <- c.uptimeDesc
	c.transitions.Describe(ch)
	c.holds.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.activeCalls != nil {
		ch <- prometheus.MustNewConstMetric(
			c.activeCallsDesc, prometheus.GaugeValue,
			float64(c.activeCalls.GetActiveCallCount()),
		)
	}

	if c.pending != nil {
		ch <- prometheus.MustNewConstMetric(
			c.pendingDesc, prometheus.GaugeValue,
			float64(c.pending.GetPendingBridgeCount()),
		)
	}

	if c.conn != nil {
		val := 0.0
		if c.conn.Connected() {
			val = 1.0
		}
		ch <- prometheus.MustNewConstMetric(c.connectedDesc, prometheus.GaugeValue, val)
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)

	c.transitions.Collect(ch)
	c.holds.Collect(ch)
}

// Handler returns a /metrics handler serving only this collector and the Go runtime metrics.
func Handler(c *Collector) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(c, prometheus.NewGoCollector())
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
