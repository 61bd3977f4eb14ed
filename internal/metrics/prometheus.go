package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "aster_funding_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	ordersPlaced := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_placed_total",
		Help:      "Total number of order legs placed.",
	})
	ordersFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_failed_total",
		Help:      "Total number of order leg placement failures.",
	})
	roundsSuccess := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "rounds_success_total",
		Help:      "Total number of fully hedged batch rounds.",
	})
	roundsDegraded := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "rounds_degraded_total",
		Help:      "Total number of rounds that timed out awaiting a fill.",
	})
	roundsFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "rounds_failed_total",
		Help:      "Total number of failed batch rounds.",
	})
	rateLimitHits := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "rate_limit_hits_total",
		Help:      "Total number of exchange rate-limit responses.",
	})

	registry.MustRegister(ordersPlaced, ordersFailed, roundsSuccess, roundsDegraded, roundsFailed, rateLimitHits)

	m := &Metrics{
		OrdersPlaced:   promCounter{ordersPlaced},
		OrdersFailed:   promCounter{ordersFailed},
		RoundsSuccess:  promCounter{roundsSuccess},
		RoundsDegraded: promCounter{roundsDegraded},
		RoundsFailed:   promCounter{roundsFailed},
		RateLimitHits:  promCounter{rateLimitHits},
	}

	return &Prometheus{
		Metrics:  m,
		registry: registry,
	}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
