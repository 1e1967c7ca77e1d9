package metrics

import (
	"net/http"

	"cove-observer/src/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cove"

// -----------------------------------------------------------------------------
// Metrics holds every collector of the observer on its own registry.
// Observe is meant to be subscribed to the exchange, ledger and balance buses.
// -----------------------------------------------------------------------------

type Metrics struct {
	Registry *prometheus.Registry

	Ticks           *prometheus.CounterVec
	LastPrice       *prometheus.GaugeVec
	Errors          *prometheus.CounterVec
	ConnectionState *prometheus.GaugeVec
	Connects        *prometheus.CounterVec
	Disconnects     *prometheus.CounterVec
	BalanceUpdates  prometheus.Counter
	Transactions    prometheus.Counter
	MaxRetries      *prometheus.CounterVec
	WSClients       prometheus.Gauge
}

// -----------------------------------------------------------------------------

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		Ticks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "exchange",
			Name:      "ticks_total",
			Help:      "Price ticks received per source",
		}, []string{"source"}),
		LastPrice: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "exchange",
			Name:      "last_price",
			Help:      "Latest close price per source",
		}, []string{"source"}),
		Errors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Error events per component",
		}, []string{"source"}),
		ConnectionState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "0 disconnected, 1 connecting, 2 connected, 3 reconnecting",
		}, []string{"source"}),
		Connects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connects_total",
			Help:      "Successful connections per component",
		}, []string{"source"}),
		Disconnects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "Lost or closed connections per component",
		}, []string{"source"}),
		BalanceUpdates: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "balance_updates_total",
			Help:      "Balance changes delivered to watchers",
		}),
		Transactions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "transactions_total",
			Help:      "Streamed transactions received",
		}),
		MaxRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "max_retries_reached_total",
			Help:      "Components that gave up after exhausting retries",
		}, []string{"source"}),
		WSClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "ws_clients",
			Help:      "Connected dashboard websocket clients",
		}),
	}
}

// -----------------------------------------------------------------------------

// Observe updates the collectors from one bus event
func (m *Metrics) Observe(ev models.MEvent) {
	switch ev.Kind {
	case models.EventPrice:
		m.Ticks.WithLabelValues(ev.Source).Inc()
		if ev.Tick != nil {
			m.LastPrice.WithLabelValues(ev.Source).Set(ev.Tick.Close)
		}
	case models.EventBalance:
		m.BalanceUpdates.Inc()
	case models.EventTransaction:
		m.Transactions.Inc()
	case models.EventError:
		m.Errors.WithLabelValues(ev.Source).Inc()
	case models.EventMaxRetriesReached:
		m.MaxRetries.WithLabelValues(ev.Source).Inc()
	case models.EventConnected:
		m.Connects.WithLabelValues(ev.Source).Inc()
		m.ConnectionState.WithLabelValues(ev.Source).Set(float64(models.StateConnected))
	case models.EventDisconnected:
		m.Disconnects.WithLabelValues(ev.Source).Inc()
		m.ConnectionState.WithLabelValues(ev.Source).Set(float64(ev.State))
	case models.EventStateChanged:
		m.ConnectionState.WithLabelValues(ev.Source).Set(float64(ev.State))
	}
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
