package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "idp"

// Collector records grant lifecycle and seeding activity. A nil *Collector
// is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	issued    *prometheus.CounterVec
	consumed  *prometheus.CounterVec
	validated *prometheus.CounterVec
	revoked   prometheus.Counter
	rejected  *prometheus.CounterVec
	swept     prometheus.Counter
	seeded    *prometheus.CounterVec
}

// New creates a Collector on its own registry
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		issued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "grants",
			Name:      "issued_total",
			Help:      "Grants issued, by grant type.",
		}, []string{"type"}),
		consumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "grants",
			Name:      "consumed_total",
			Help:      "One-shot grants consumed, by grant type.",
		}, []string{"type"}),
		validated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "grants",
			Name:      "validated_total",
			Help:      "Reusable grants validated, by grant type.",
		}, []string{"type"}),
		revoked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "grants",
			Name:      "revoked_total",
			Help:      "Grants removed by explicit revocation.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "grants",
			Name:      "rejected_total",
			Help:      "Consume or validate calls that failed, by operation and reason.",
		}, []string{"operation", "reason"}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "grants",
			Name:      "swept_total",
			Help:      "Expired grants removed by the sweeper.",
		}),
		seeded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "seed",
			Name:      "collections_total",
			Help:      "Seeder outcomes, by collection and outcome.",
		}, []string{"collection", "outcome"}),
	}
	c.registry.MustRegister(
		c.issued, c.consumed, c.validated, c.revoked, c.rejected, c.swept, c.seeded,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) GrantIssued(grantType string) {
	if c == nil {
		return
	}
	c.issued.WithLabelValues(grantType).Inc()
}

func (c *Collector) GrantConsumed(grantType string) {
	if c == nil {
		return
	}
	c.consumed.WithLabelValues(grantType).Inc()
}

func (c *Collector) GrantValidated(grantType string) {
	if c == nil {
		return
	}
	c.validated.WithLabelValues(grantType).Inc()
}

func (c *Collector) GrantsRevoked(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.revoked.Add(float64(n))
}

// GrantRejected counts a failed consume or validate. reason is a short
// stable token such as "not_found" or "expired".
func (c *Collector) GrantRejected(operation, reason string) {
	if c == nil {
		return
	}
	c.rejected.WithLabelValues(operation, reason).Inc()
}

func (c *Collector) GrantsSwept(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.swept.Add(float64(n))
}

func (c *Collector) SeedOutcome(collection, outcome string) {
	if c == nil {
		return
	}
	c.seeded.WithLabelValues(collection, outcome).Inc()
}
