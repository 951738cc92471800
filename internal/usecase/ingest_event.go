package usecase

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/V4T54L/argos/internal/adapter/pii"
	"github.com/V4T54L/argos/internal/domain"
)

// IngestEventUseCase handles the intake of one extracted event.
type IngestEventUseCase struct {
	buffer   domain.EventBuffer
	redactor *pii.Redactor
	dims     int
	logger   *slog.Logger
}

// NewIngestEventUseCase creates a new IngestEventUseCase. dims is the
// configured embedding length; zero disables the dimension check.
func NewIngestEventUseCase(buffer domain.EventBuffer, redactor *pii.Redactor, dims int, logger *slog.Logger) *IngestEventUseCase {
	return &IngestEventUseCase{
		buffer:   buffer,
		redactor: redactor,
		dims:     dims,
		logger:   logger,
	}
}

// Ingest validates, redacts and buffers an event. Schema violations are
// returned as domain.ErrInvalidEvent; a malformed embedding is dropped and
// the event accepted.
func (uc *IngestEventUseCase) Ingest(ctx context.Context, event *domain.RawEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	// Merge bookkeeping is owned by the engine.
	event.Sources = nil
	event.MergedEventIDs = nil
	event.StreamMessageID = ""

	err := event.Validate(uc.dims)
	switch {
	case errors.Is(err, domain.ErrInvalidVectorDimension):
		uc.logger.Warn("dropping malformed embedding", "event_id", event.ID, "error", err)
		event.Embedding = nil
	case err != nil:
		return err
	}

	if uc.redactor != nil {
		if err := uc.redactor.Redact(event); err != nil {
			// Non-fatal: metadata we cannot parse is buffered as-is.
			uc.logger.Warn("failed to redact metadata, proceeding with original event", "error", err, "event_id", event.ID)
		}
	}

	if err := uc.buffer.BufferEvent(ctx, *event); err != nil {
		uc.logger.Error("failed to buffer event", "error", err, "event_id", event.ID)
		return err
	}
	return nil
}
