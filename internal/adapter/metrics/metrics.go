package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/V4T54L/argos/internal/domain"
)

const namespace = "argos"

// IngestMetrics holds all Prometheus metrics for the ingest service.
type IngestMetrics struct {
	EventsTotal             *prometheus.CounterVec
	BytesTotal              prometheus.Counter
	WALActive               prometheus.Gauge
	CollectorKeyCacheHits   prometheus.Counter
	CollectorKeyCacheMisses prometheus.Counter
}

// NewIngestMetrics initializes the ingest metrics and registers them with reg.
func NewIngestMetrics(reg prometheus.Registerer) *IngestMetrics {
	f := promauto.With(reg)
	return &IngestMetrics{
		EventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "events_total",
			Help:      "Total number of ingested events by status.",
		}, []string{"status"}), // status: accepted, error_parse, error_validation, error_size, error_buffer, error_media_type
		BytesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "bytes_total",
			Help:      "Total number of bytes ingested.",
		}),
		WALActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "wal_active_gauge",
			Help:      "Indicates if the Write-Ahead Log is currently active (1 for active, 0 for inactive).",
		}),
		CollectorKeyCacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "collector_key_cache_hits_total",
			Help:      "Total number of collector key cache hits.",
		}),
		CollectorKeyCacheMisses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "collector_key_cache_misses_total",
			Help:      "Total number of collector key cache misses.",
		}),
	}
}

// SetWALActive is suitable as a failover callback.
func (m *IngestMetrics) SetWALActive(active bool) {
	if active {
		m.WALActive.Set(1)
		return
	}
	m.WALActive.Set(0)
}

// EngineMetrics holds the fusion engine's cycle metrics. It satisfies the
// cycle observer the run-cycle use case reports to.
type EngineMetrics struct {
	CyclesTotal     *prometheus.CounterVec
	CycleDuration   prometheus.Histogram
	EventsTotal     *prometheus.CounterVec
	ErrorsTotal     *prometheus.CounterVec
	ClustersTotal   *prometheus.CounterVec
	ZoneEscalation  *prometheus.GaugeVec
	LastCycleErrors prometheus.Gauge
}

// NewEngineMetrics initializes the engine metrics and registers them with reg.
func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	f := promauto.With(reg)
	return &EngineMetrics{
		CyclesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "runs_total",
			Help:      "Completed fusion cycles by clustering mode.",
		}, []string{"mode"}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "duration_seconds",
			Help:      "Wall time of a fusion cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		EventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "events_total",
			Help:      "Events handled by fusion cycles by outcome.",
		}, []string{"outcome"}), // outcome: in, duplicate, cross_lingual, skipped
		ErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "errors_total",
			Help:      "Cycle errors by kind.",
		}, []string{"kind"}),
		ClustersTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "clusters_total",
			Help:      "Clusters written by fusion cycles by outcome.",
		}, []string{"outcome"}), // outcome: created, updated
		ZoneEscalation: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "zone",
			Name:      "escalation_score",
			Help:      "Escalation score of a conflict zone as of its last update.",
		}, []string{"zone"}),
		LastCycleErrors: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "last_errors",
			Help:      "Error count of the most recent cycle.",
		}),
	}
}

func (m *EngineMetrics) ObserveCycle(s domain.CycleSummary, mode string) {
	if mode == "" {
		mode = "none"
	}
	m.CyclesTotal.WithLabelValues(mode).Inc()
	if d := s.FinishedAt.Sub(s.StartedAt); d >= 0 {
		m.CycleDuration.Observe(d.Seconds())
	}
	m.EventsTotal.WithLabelValues("in").Add(float64(s.EventsIn))
	m.EventsTotal.WithLabelValues("duplicate").Add(float64(s.DuplicatesFound))
	m.EventsTotal.WithLabelValues("cross_lingual").Add(float64(s.CrossLingualMatches))
	m.EventsTotal.WithLabelValues("skipped").Add(float64(s.Skipped))
	m.ClustersTotal.WithLabelValues("created").Add(float64(s.NewClusters))
	m.ClustersTotal.WithLabelValues("updated").Add(float64(s.ClustersUpdated))
	for kind, n := range s.Errors {
		m.ErrorsTotal.WithLabelValues(kind).Add(float64(n))
	}
	m.LastCycleErrors.Set(float64(s.ErrorCount()))
}

func (m *EngineMetrics) ObserveZone(z domain.ConflictZoneState) {
	m.ZoneEscalation.WithLabelValues(z.ZoneID).Set(z.CurrentEscalationScore)
}
