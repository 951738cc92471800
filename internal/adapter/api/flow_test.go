package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/V4T54L/argos/internal/adapter/api/handler"
	"github.com/V4T54L/argos/internal/adapter/metrics"
	"github.com/V4T54L/argos/internal/adapter/pii"
	"github.com/V4T54L/argos/internal/clustering"
	"github.com/V4T54L/argos/internal/domain"
	"github.com/V4T54L/argos/internal/domain/mocks"
	"github.com/V4T54L/argos/internal/escalation"
	"github.com/V4T54L/argos/internal/similarity"
	"github.com/V4T54L/argos/internal/usecase"
)

// TestIngestionFlow pushes an NDJSON batch through the ingest router, runs a
// cycle over what was buffered and reads the result back from the admin
// router. Re-sending the same batch must not change the stored clusters.
func TestIngestionFlow(t *testing.T) {
	stream := &mocks.MockEventStream{}
	store := mocks.NewMockStore()
	seen := &mocks.MockSeenRepository{}
	tracker := escalation.NewTracker(escalation.DefaultConfig())

	keys := &mocks.MockCollectorKeyRepository{Keys: map[string]string{"supersecretkey": "integration"}}
	ingest := usecase.NewIngestEventUseCase(stream, pii.NewRedactor([]string{"author_handle"}, testLogger), 3, testLogger)
	ingestRouter := NewRouter(testLogger, 1<<20, keys, ingest, metrics.NewIngestMetrics(prometheus.NewRegistry()))

	sim := similarity.NewEngine(similarity.DefaultConfig(), store, testLogger)
	cycle := usecase.NewRunCycleUseCase(usecase.RunCycleDeps{
		Source:     stream,
		Quarantine: stream,
		Zones:      store,
		Writer:     store,
		Seen:       seen,
		Locker:     escalation.NewLocalLocker(),
		Similarity: sim,
		Clustering: clustering.NewEngine(clustering.DefaultConfig(), sim, nil, testLogger),
		Tracker:    tracker,
	}, usecase.CycleConfig{BatchSize: 100, EmbeddingDims: 3, MaxConcurrency: 2, RetryBackoff: time.Millisecond}, testLogger)

	streams := usecase.NewEventStreamAdminUseCase(&mocks.MockStreamAdminRepository{}, eventStream, dlqStream)
	query := usecase.NewQueryUseCase(store, store, tracker)
	adminRouter := NewAdminRouter(handler.NewAdminHandler(streams, query, testLogger), prometheus.NewRegistry(), testLogger)

	at := time.Now().UTC().Add(-time.Hour)
	var body bytes.Buffer
	for i, src := range []string{"Reuters", "Kyiv Independent", "Ukrinform"} {
		killed := 4
		ev := domain.RawEvent{
			ID:                 fmt.Sprintf("flow-%d", i),
			EstimatedTimestamp: at.Add(time.Duration(i) * 10 * time.Minute),
			Precision:          domain.PrecisionExact,
			TimeConfidence:     0.9,
			LocationName:       "Kharkiv",
			Country:            "Ukraine",
			EventType:          domain.EventArtillery,
			Casualties:         domain.Casualties{Killed: &killed},
			Embedding:          []float64{1, 0, 0},
			SourceName:         src,
			SourceReliability:  0.8,
			Language:           "en",
		}
		line, err := json.Marshal(ev)
		if err != nil {
			t.Fatalf("marshal event: %v", err)
		}
		body.Write(line)
		body.WriteByte('\n')
	}
	payload := body.Bytes()

	send := func() {
		t.Helper()
		req := httptest.NewRequest(http.MethodPost, "/ingest", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/x-ndjson")
		req.Header.Set("X-API-Key", "supersecretkey")
		rr := httptest.NewRecorder()
		ingestRouter.ServeHTTP(rr, req)
		if rr.Code != http.StatusAccepted {
			t.Fatalf("Expected status 202 Accepted, got %d: %s", rr.Code, rr.Body.String())
		}
	}
	// deliver hands everything buffered since the last call to the engine.
	deliver := func() {
		t.Helper()
		batch := make([]domain.RawEvent, len(stream.BufferedEvents))
		for i, ev := range stream.BufferedEvents {
			ev.StreamMessageID = fmt.Sprintf("%d-0", i+1)
			batch[i] = ev
		}
		stream.BufferedEvents = nil
		stream.ReadBatchResult = batch
		if _, err := cycle.RunCycle(context.Background()); err != nil {
			t.Fatalf("cycle failed: %v", err)
		}
	}
	members := func() int {
		n := 0
		for _, c := range store.Clusters {
			n += len(c.MemberEventIDs)
		}
		return n
	}

	send()
	if len(stream.BufferedEvents) != 3 {
		t.Fatalf("Expected 3 buffered events, got %d", len(stream.BufferedEvents))
	}
	deliver()

	if got := members(); got != 3 {
		t.Fatalf("Expected 3 clustered events after first cycle, got %d", got)
	}
	clusterCount := len(store.Clusters)
	if len(stream.AckedMessageIDs) != 3 {
		t.Errorf("Expected all 3 stream entries acknowledged, got %v", stream.AckedMessageIDs)
	}

	rr := httptest.NewRecorder()
	adminRouter.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/zones/ukraine", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected zone to be queryable, got %d: %s", rr.Code, rr.Body.String())
	}
	var zone domain.ConflictZoneState
	if err := json.Unmarshal(rr.Body.Bytes(), &zone); err != nil {
		t.Fatalf("decode zone: %v", err)
	}
	if zone.CurrentEscalationScore < domain.MinEscalationScore || len(zone.ContributingEventIDs) != 3 {
		t.Errorf("Unexpected zone state: %+v", zone)
	}

	// Idempotency: the same batch again changes nothing.
	send()
	deliver()
	if got := members(); got != 3 {
		t.Errorf("Idempotency test failed: expected 3 clustered events, got %d", got)
	}
	if len(store.Clusters) != clusterCount {
		t.Errorf("Idempotency test failed: expected %d clusters, got %d", clusterCount, len(store.Clusters))
	}
}
