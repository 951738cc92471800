package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/V4T54L/argos/internal/domain"
	"github.com/V4T54L/argos/internal/domain/mocks"
)

const (
	testEventStream = "argos:events"
	testDLQStream   = "argos:events:dlq"
)

func TestEventStreamAdminUseCase_UnknownStream(t *testing.T) {
	uc := NewEventStreamAdminUseCase(&mocks.MockStreamAdminRepository{}, testEventStream, testDLQStream)

	_, err := uc.GetGroupInfo(context.Background(), "session:tokens")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unconfigured stream, got %v", err)
	}
	if _, err := uc.TrimStream(context.Background(), "other", 10); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from trim, got %v", err)
	}
}

func TestEventStreamAdminUseCase_ClaimMessages(t *testing.T) {
	claimed := []domain.RawEvent{kyivEvent("e1", t0)}

	t.Run("Default Idle", func(t *testing.T) {
		repo := &mocks.MockStreamAdminRepository{Claimed: claimed}
		uc := NewEventStreamAdminUseCase(repo, testEventStream, testDLQStream)

		got, err := uc.ClaimMessages(context.Background(), testEventStream, "engine", "engine-2", 0, []string{"1-0"})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(got) != 1 || got[0].ID != "e1" {
			t.Errorf("unexpected claimed events: %+v", got)
		}
		if repo.LastClaimIdle != time.Minute {
			t.Errorf("expected default min idle of 1m, got %v", repo.LastClaimIdle)
		}
	})

	t.Run("Missing Arguments", func(t *testing.T) {
		uc := NewEventStreamAdminUseCase(&mocks.MockStreamAdminRepository{}, testEventStream, testDLQStream)
		if _, err := uc.ClaimMessages(context.Background(), testEventStream, "engine", "", time.Second, []string{"1-0"}); err == nil {
			t.Error("expected error for missing consumer")
		}
		if _, err := uc.ClaimMessages(context.Background(), testEventStream, "engine", "engine-2", time.Second, nil); err == nil {
			t.Error("expected error for empty message ids")
		}
	})
}

func TestEventStreamAdminUseCase_Validation(t *testing.T) {
	repo := &mocks.MockStreamAdminRepository{AckCount: 2, Trimmed: 5}
	uc := NewEventStreamAdminUseCase(repo, testEventStream, testDLQStream)
	ctx := context.Background()

	if _, err := uc.AcknowledgeMessages(ctx, testEventStream, "engine"); err == nil {
		t.Error("expected error acknowledging zero ids")
	}
	n, err := uc.AcknowledgeMessages(ctx, testEventStream, "engine", "1-0", "2-0")
	if err != nil || n != 2 {
		t.Errorf("expected 2 acked, got %d (%v)", n, err)
	}
	if _, err := uc.TrimStream(ctx, testDLQStream, 0); err == nil {
		t.Error("expected error for non-positive maxlen")
	}
	trimmed, err := uc.TrimStream(ctx, testDLQStream, 100)
	if err != nil || trimmed != 5 {
		t.Errorf("expected 5 trimmed, got %d (%v)", trimmed, err)
	}
}

func TestEventStreamAdminUseCase_ReadQuarantine(t *testing.T) {
	repo := &mocks.MockStreamAdminRepository{
		Quarantine: []domain.QuarantineEntry{{MessageID: "9-0", EventID: "bad", Reason: "invalid event: source_name is required"}},
	}
	uc := NewEventStreamAdminUseCase(repo, testEventStream, testDLQStream)

	entries, err := uc.ReadQuarantine(context.Background(), 0)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(entries) != 1 || entries[0].EventID != "bad" {
		t.Errorf("unexpected entries: %+v", entries)
	}

	repo.Err = errors.New("connection refused")
	if _, err := uc.ReadQuarantine(context.Background(), 10); err == nil {
		t.Error("expected repository error to propagate")
	}
}
