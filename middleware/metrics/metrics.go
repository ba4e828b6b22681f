package metrics

import (
	"github.com/miekg/dns"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nonamed-dns/nonamed/cache"
	"github.com/nonamed-dns/nonamed/middleware"
)

// Metrics type
type Metrics struct {
	queries      *prometheus.CounterVec
	cacheEntries prometheus.Gauge
	cacheBytes   prometheus.Gauge

	cache *cache.Cache
}

// New return new metrics registered on reg. c may be nil.
func New(reg prometheus.Registerer, c *cache.Cache) *Metrics {
	m := &Metrics{
		queries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nonamed_queries_total",
				Help: "How many DNS queries processed",
			},
			[]string{"qtype", "outcome", "rcode"},
		),
		cacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nonamed_cache_entries",
			Help: "Replies held in the cache",
		}),
		cacheBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nonamed_cache_bytes",
			Help: "Memory charged to the cache",
		}),
		cache: c,
	}

	if reg != nil {
		reg.MustRegister(m.queries, m.cacheEntries, m.cacheBytes)
	}

	return m
}

// Name return middleware name
func (m *Metrics) Name() string { return name }

// ServeDNS implements the Handle interface.
func (m *Metrics) ServeDNS(ch *middleware.Chain) {
	ch.Next()

	outcome, rcode := middleware.Relay, "none"
	switch {
	case ch.Writer.Dropped():
		outcome = middleware.Drop
	case ch.Writer.Written():
		outcome = middleware.Answer
		rcode = dns.RcodeToString[ch.Writer.Rcode()]
	}

	qtype, ok := dns.TypeToString[ch.Request.Question.Type]
	if !ok {
		qtype = "OTHER"
	}

	m.queries.With(
		prometheus.Labels{
			"qtype":   qtype,
			"outcome": outcome.String(),
			"rcode":   rcode,
		}).Inc()

	m.Observe()
}

// Observe samples the cache gauges.
func (m *Metrics) Observe() {
	if m.cache == nil {
		return
	}
	m.cacheEntries.Set(float64(m.cache.Len()))
	m.cacheBytes.Set(float64(m.cache.Bytes()))
}

const name = "metrics"
