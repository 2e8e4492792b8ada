package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics owns a private registry so tests can build it repeatedly.
type Metrics struct {
	Registry *prometheus.Registry

	ledgerEntries     *prometheus.CounterVec
	pointsExpired     prometheus.Counter
	conversions       *prometheus.CounterVec
	coinsIssued       prometheus.Counter
	segmentRefresh    *prometheus.HistogramVec
	membershipChanges *prometheus.CounterVec
	jobs              *prometheus.CounterVec
	auditDropped      prometheus.Counter
	cacheLookups      *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		ledgerEntries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loyalty_ledger_entries_total",
			Help: "Ledger entries recorded by kind and status.",
		}, []string{"kind", "status"}),
		pointsExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "loyalty_points_expired_total",
			Help: "Points removed by expiration passes.",
		}),
		conversions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loyalty_conversions_total",
			Help: "Conversion attempts by outcome kind.",
		}, []string{"outcome"}),
		coinsIssued: factory.NewCounter(prometheus.CounterOpts{
			Name: "loyalty_coins_issued_total",
			Help: "Coins credited by conversions.",
		}),
		segmentRefresh: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loyalty_segment_refresh_duration_seconds",
			Help:    "Duration of segment reconciliation runs.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		membershipChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loyalty_segment_membership_changes_total",
			Help: "Membership rows added or removed.",
		}, []string{"change"}),
		jobs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loyalty_jobs_total",
			Help: "Background job outcomes by kind.",
		}, []string{"kind", "outcome"}),
		auditDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "loyalty_audit_events_dropped_total",
			Help: "Audit events that could not be published.",
		}),
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loyalty_cache_lookups_total",
			Help: "Response cache lookups by result.",
		}, []string{"result"}),
	}
}

func (m *Metrics) IncrLedgerEntry(kind, status string) {
	m.ledgerEntries.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) AddPointsExpired(points int64) {
	m.pointsExpired.Add(float64(points))
}

func (m *Metrics) IncrConversion(outcome string, coins int64) {
	m.conversions.WithLabelValues(outcome).Inc()
	if coins > 0 {
		m.coinsIssued.Add(float64(coins))
	}
}

func (m *Metrics) RecordSegmentRefresh(outcome string, d time.Duration, added, removed int) {
	m.segmentRefresh.WithLabelValues(outcome).Observe(d.Seconds())
	m.membershipChanges.WithLabelValues("added").Add(float64(added))
	m.membershipChanges.WithLabelValues("removed").Add(float64(removed))
}

func (m *Metrics) IncrJob(kind, outcome string) {
	m.jobs.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) IncrAuditDropped() {
	m.auditDropped.Inc()
}

func (m *Metrics) IncrCacheLookup(hit bool) {
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}
