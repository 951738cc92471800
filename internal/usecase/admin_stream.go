package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/V4T54L/argos/internal/domain"
)

const (
	defaultPendingCount    = 100
	maxAdminCount          = 1000
	defaultClaimIdle       = time.Minute
	defaultQuarantineCount = 100
)

// ErrInvalidArgument marks admin requests rejected before reaching the stream.
var ErrInvalidArgument = errors.New("invalid argument")

// EventStreamAdminUseCase inspects and repairs the extracted-event stream and
// its quarantine. Only the configured streams are reachable.
type EventStreamAdminUseCase struct {
	repo       domain.StreamAdminRepository
	streams    map[string]bool
	quarantine string
}

// NewEventStreamAdminUseCase creates a new EventStreamAdminUseCase.
func NewEventStreamAdminUseCase(repo domain.StreamAdminRepository, eventStream, quarantineStream string) *EventStreamAdminUseCase {
	return &EventStreamAdminUseCase{
		repo:       repo,
		streams:    map[string]bool{eventStream: true, quarantineStream: true},
		quarantine: quarantineStream,
	}
}

func (uc *EventStreamAdminUseCase) check(stream string) error {
	if !uc.streams[stream] {
		return fmt.Errorf("stream %q: %w", stream, domain.ErrNotFound)
	}
	return nil
}

func (uc *EventStreamAdminUseCase) GetGroupInfo(ctx context.Context, stream string) ([]domain.ConsumerGroupInfo, error) {
	if err := uc.check(stream); err != nil {
		return nil, err
	}
	return uc.repo.GetGroupInfo(ctx, stream)
}

func (uc *EventStreamAdminUseCase) GetPendingSummary(ctx context.Context, stream, group string) (*domain.PendingMessageSummary, error) {
	if err := uc.check(stream); err != nil {
		return nil, err
	}
	return uc.repo.GetPendingSummary(ctx, stream, group)
}

func (uc *EventStreamAdminUseCase) GetPendingMessages(ctx context.Context, stream, group, consumer string, startID string, count int64) ([]domain.PendingMessageDetail, error) {
	if err := uc.check(stream); err != nil {
		return nil, err
	}
	if startID == "" {
		startID = "-"
	}
	if count <= 0 {
		count = defaultPendingCount
	}
	count = min(count, maxAdminCount)
	return uc.repo.GetPendingMessages(ctx, stream, group, consumer, startID, count)
}

// ClaimMessages moves stuck deliveries to another consumer. minIdle defaults
// to one minute so a live consumer's in-flight batch is not stolen.
func (uc *EventStreamAdminUseCase) ClaimMessages(ctx context.Context, stream, group, consumer string, minIdle time.Duration, messageIDs []string) ([]domain.RawEvent, error) {
	if err := uc.check(stream); err != nil {
		return nil, err
	}
	if consumer == "" {
		return nil, fmt.Errorf("%w: consumer is required", ErrInvalidArgument)
	}
	if len(messageIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one message ID is required", ErrInvalidArgument)
	}
	if minIdle <= 0 {
		minIdle = defaultClaimIdle
	}
	return uc.repo.ClaimMessages(ctx, stream, group, consumer, minIdle, messageIDs)
}

func (uc *EventStreamAdminUseCase) AcknowledgeMessages(ctx context.Context, stream, group string, messageIDs ...string) (int64, error) {
	if err := uc.check(stream); err != nil {
		return 0, err
	}
	if len(messageIDs) == 0 {
		return 0, fmt.Errorf("%w: at least one message ID is required", ErrInvalidArgument)
	}
	return uc.repo.AcknowledgeMessages(ctx, stream, group, messageIDs...)
}

func (uc *EventStreamAdminUseCase) TrimStream(ctx context.Context, stream string, maxLen int64) (int64, error) {
	if err := uc.check(stream); err != nil {
		return 0, err
	}
	if maxLen <= 0 {
		return 0, fmt.Errorf("%w: maxlen must be positive", ErrInvalidArgument)
	}
	return uc.repo.TrimStream(ctx, stream, maxLen)
}

// ReadQuarantine lists the most recent quarantined records.
func (uc *EventStreamAdminUseCase) ReadQuarantine(ctx context.Context, count int64) ([]domain.QuarantineEntry, error) {
	if count <= 0 {
		count = defaultQuarantineCount
	}
	return uc.repo.ReadQuarantine(ctx, uc.quarantine, min(count, maxAdminCount))
}
