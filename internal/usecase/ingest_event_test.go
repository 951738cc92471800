package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/V4T54L/argos/internal/adapter/pii"
	"github.com/V4T54L/argos/internal/domain"
	"github.com/V4T54L/argos/internal/domain/mocks"
)

func TestIngestEventUseCase_Ingest(t *testing.T) {
	logger := testLogger()
	redactor := pii.NewRedactor([]string{"author_handle"}, logger)

	t.Run("Successful Ingestion", func(t *testing.T) {
		buffer := &mocks.MockEventStream{}
		uc := NewIngestEventUseCase(buffer, redactor, 3, logger)

		event := kyivEvent("", t0)
		event.MergedEventIDs = []string{"forged"}
		err := uc.Ingest(context.Background(), &event)

		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if event.ID == "" {
			t.Error("expected event ID to be generated")
		}
		if len(buffer.BufferedEvents) != 1 {
			t.Fatalf("expected 1 event to be buffered, got %d", len(buffer.BufferedEvents))
		}
		got := buffer.BufferedEvents[0]
		if got.ID != event.ID {
			t.Error("buffered event ID mismatch")
		}
		if len(got.MergedEventIDs) != 0 || got.StreamMessageID != "" {
			t.Errorf("expected engine-owned fields cleared, got %+v", got)
		}
	})

	t.Run("Invalid Event", func(t *testing.T) {
		buffer := &mocks.MockEventStream{}
		uc := NewIngestEventUseCase(buffer, redactor, 3, logger)

		event := kyivEvent("e1", t0)
		event.SourceReliability = 1.5
		err := uc.Ingest(context.Background(), &event)

		if !errors.Is(err, domain.ErrInvalidEvent) {
			t.Fatalf("expected ErrInvalidEvent, got %v", err)
		}
		if len(buffer.BufferedEvents) != 0 {
			t.Error("invalid event must not be buffered")
		}
	})

	t.Run("Malformed Embedding Dropped", func(t *testing.T) {
		buffer := &mocks.MockEventStream{}
		uc := NewIngestEventUseCase(buffer, redactor, 3, logger)

		event := kyivEvent("e1", t0)
		event.Embedding = []float64{1, 2}
		if err := uc.Ingest(context.Background(), &event); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(buffer.BufferedEvents[0].Embedding) != 0 {
			t.Errorf("expected embedding dropped, got %v", buffer.BufferedEvents[0].Embedding)
		}
	})

	t.Run("Buffer Error", func(t *testing.T) {
		buffer := &mocks.MockEventStream{BufferErr: errors.New("buffer is full")}
		uc := NewIngestEventUseCase(buffer, redactor, 3, logger)

		event := kyivEvent("e1", t0)
		err := uc.Ingest(context.Background(), &event)

		if err == nil {
			t.Fatal("expected an error, got nil")
		}
		if err.Error() != "buffer is full" {
			t.Errorf("unexpected error message: got %q", err.Error())
		}
	})

	t.Run("Metadata Redaction", func(t *testing.T) {
		buffer := &mocks.MockEventStream{}
		uc := NewIngestEventUseCase(buffer, redactor, 3, logger)

		event := kyivEvent("e1", t0)
		event.Metadata = []byte(`{"author_handle": "@witness"}`)
		if err := uc.Ingest(context.Background(), &event); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		got := buffer.BufferedEvents[0]
		if !got.MetadataRedacted {
			t.Error("expected MetadataRedacted flag to be true")
		}
		expected := `{"author_handle":"[REDACTED]"}`
		if string(got.Metadata) != expected {
			t.Errorf("expected metadata to be redacted: got %s, want %s", got.Metadata, expected)
		}
	})

	t.Run("Non-Object Metadata Is Kept", func(t *testing.T) {
		buffer := &mocks.MockEventStream{}
		uc := NewIngestEventUseCase(buffer, redactor, 3, logger)

		event := kyivEvent("e1", t0)
		event.Metadata = []byte(`["author_handle"]`)
		if err := uc.Ingest(context.Background(), &event); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(buffer.BufferedEvents) != 1 {
			t.Error("expected event buffered despite redaction failure")
		}
	})
}
