// Package metrics exposes controller activity to Prometheus.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/tank-controller/internal/logic"
	"github.com/sweeney/tank-controller/internal/valve"
)

const namespace = "tank"

// Metrics owns a private registry so tests and the daemon don't share state.
type Metrics struct {
	reg *prometheus.Registry

	transitions  *prometheus.CounterVec
	open         *prometheus.GaugeVec
	alerts       *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
}

// New creates and registers the controller metrics plus the Go and process
// collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "valve_transitions_total",
			Help:      "Valve transitions by valve and resulting state.",
		}, []string{"valve", "status"}),
		open: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "valve_open",
			Help:      "1 while the valve is open.",
		}, []string{"valve"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alerts raised by kind.",
		}, []string{"kind"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route template and status code.",
		}, []string{"route", "code"}),
	}

	m.reg.MustRegister(
		m.transitions,
		m.open,
		m.alerts,
		m.httpRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveValve counts a transition and tracks the open gauge. It is a
// valve.Observer and runs under the valve lock, so it only touches
// in-memory collectors.
func (m *Metrics) ObserveValve(e valve.Event) {
	m.transitions.WithLabelValues(e.Valve, string(e.Status)).Inc()
	if e.Status == valve.StatusOpen {
		m.open.WithLabelValues(e.Valve).Set(1)
	} else {
		m.open.WithLabelValues(e.Valve).Set(0)
	}
}

// Alert counts an alert. Metrics is a logic.Alerter.
func (m *Metrics) Alert(a logic.Alert) {
	m.alerts.WithLabelValues(string(a.Kind)).Inc()
}

// WatchLockout exports fn as the tank_fill_locked_out gauge, sampled on
// every scrape.
func (m *Metrics) WatchLockout(fn func() bool) error {
	return m.reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "fill_locked_out",
		Help:      "1 while automated fills are locked out by a fill timeout.",
	}, func() float64 {
		if fn() {
			return 1
		}
		return 0
	}))
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// Middleware counts requests by mux route template. Use with
// (*mux.Router).Use.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		m.httpRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}
