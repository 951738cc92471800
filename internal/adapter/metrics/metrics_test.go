package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/V4T54L/argos/internal/domain"
)

func TestEngineMetrics_ObserveCycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewEngineMetrics(reg)

	start := time.Date(2024, 3, 20, 9, 0, 0, 0, time.UTC)
	s := domain.NewCycleSummary("c1", start)
	s.FinishedAt = start.Add(1500 * time.Millisecond)
	s.EventsIn = 10
	s.DuplicatesFound = 3
	s.CrossLingualMatches = 1
	s.NewClusters = 4
	s.ClustersUpdated = 2
	s.RecordError(domain.ErrEmbeddingUnavailable)
	s.RecordError(domain.ErrEmbeddingUnavailable)
	s.RecordKind(domain.KindAck)

	m.ObserveCycle(s, "greedy")
	m.ObserveCycle(domain.NewCycleSummary("c2", start), "")

	if got := testutil.ToFloat64(m.CyclesTotal.WithLabelValues("greedy")); got != 1 {
		t.Errorf("expected 1 greedy cycle, got %v", got)
	}
	if got := testutil.ToFloat64(m.CyclesTotal.WithLabelValues("none")); got != 1 {
		t.Errorf("expected 1 cycle without mode, got %v", got)
	}
	if got := testutil.ToFloat64(m.EventsTotal.WithLabelValues("in")); got != 10 {
		t.Errorf("expected 10 events in, got %v", got)
	}
	if got := testutil.ToFloat64(m.ClustersTotal.WithLabelValues("created")); got != 4 {
		t.Errorf("expected 4 created clusters, got %v", got)
	}
	if got := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues(domain.KindEmbeddingUnavailable)); got != 2 {
		t.Errorf("expected 2 embedding errors, got %v", got)
	}
	if got := testutil.ToFloat64(m.LastCycleErrors); got != 0 {
		t.Errorf("expected last cycle errors reset to 0, got %v", got)
	}
	if n := testutil.CollectAndCount(m.CycleDuration); n != 1 {
		t.Errorf("expected one histogram series, got %d", n)
	}
}

func TestEngineMetrics_ObserveZone(t *testing.T) {
	m := NewEngineMetrics(prometheus.NewRegistry())

	m.ObserveZone(domain.ConflictZoneState{ZoneID: "ukraine", CurrentEscalationScore: 7.5})
	m.ObserveZone(domain.ConflictZoneState{ZoneID: "ukraine", CurrentEscalationScore: 7.2})

	if got := testutil.ToFloat64(m.ZoneEscalation.WithLabelValues("ukraine")); got != 7.2 {
		t.Errorf("expected gauge to hold latest score 7.2, got %v", got)
	}
}

func TestIngestMetrics_SetWALActive(t *testing.T) {
	m := NewIngestMetrics(prometheus.NewRegistry())

	m.SetWALActive(true)
	if got := testutil.ToFloat64(m.WALActive); got != 1 {
		t.Errorf("expected WAL gauge 1, got %v", got)
	}
	m.SetWALActive(false)
	if got := testutil.ToFloat64(m.WALActive); got != 0 {
		t.Errorf("expected WAL gauge 0, got %v", got)
	}
}
