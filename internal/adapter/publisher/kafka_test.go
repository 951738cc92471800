package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/segmentio/kafka-go"

	"github.com/V4T54L/argos/internal/domain"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestKafkaPublisher_NoBrokers(t *testing.T) {
	p := NewKafkaPublisher(Config{ClusterTopic: "clusters"}, testLogger())

	if err := p.PublishClusters(context.Background(), []domain.EventCluster{{ClusterID: "c1"}}); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
	if err := p.PublishZoneStates(context.Background(), []domain.ConflictZoneState{{ZoneID: "ukraine"}}); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestKafkaPublisher_Publish(t *testing.T) {
	clusters, zones := &fakeWriter{}, &fakeWriter{}
	p := &KafkaPublisher{clusters: clusters, zones: zones, logger: testLogger()}

	err := p.PublishClusters(context.Background(), []domain.EventCluster{
		{ClusterID: "c1", MemberEventIDs: []string{"e1", "e2"}},
		{ClusterID: "c2", MemberEventIDs: []string{"e3"}},
	})
	if err != nil {
		t.Fatalf("publish clusters: %v", err)
	}
	if len(clusters.msgs) != 2 || string(clusters.msgs[0].Key) != "c1" {
		t.Fatalf("unexpected cluster messages: %+v", clusters.msgs)
	}
	var decoded domain.EventCluster
	if err := json.Unmarshal(clusters.msgs[0].Value, &decoded); err != nil || len(decoded.MemberEventIDs) != 2 {
		t.Errorf("unexpected payload %s (%v)", clusters.msgs[0].Value, err)
	}

	if err := p.PublishZoneStates(context.Background(), []domain.ConflictZoneState{{ZoneID: "ukraine", CurrentEscalationScore: 6}}); err != nil {
		t.Fatalf("publish zones: %v", err)
	}
	if len(zones.msgs) != 1 || string(zones.msgs[0].Key) != "ukraine" {
		t.Errorf("unexpected zone messages: %+v", zones.msgs)
	}

	if err := p.Close(); err != nil || !clusters.closed || !zones.closed {
		t.Errorf("expected both writers closed (%v)", err)
	}
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	p := &KafkaPublisher{clusters: &fakeWriter{err: errors.New("leader not available")}, logger: testLogger()}
	if err := p.PublishClusters(context.Background(), []domain.EventCluster{{ClusterID: "c1"}}); err == nil {
		t.Fatal("expected error, got nil")
	}
}
