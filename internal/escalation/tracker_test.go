package escalation

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/V4T54L/argos/internal/domain"
)

var now = time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)

func zone(score float64, age time.Duration) domain.ConflictZoneState {
	return domain.ConflictZoneState{
		ZoneID:                 "ukraine",
		CurrentEscalationScore: score,
		PeakScore:              score,
		LastUpdated:            now.Add(-age),
	}
}

func TestDecay(t *testing.T) {
	tr := NewTracker(DefaultConfig())

	tests := []struct {
		name  string
		state domain.ConflictZoneState
		check func(t *testing.T, got float64)
	}{
		{"inside grace window", zone(6.2, 47*time.Hour), func(t *testing.T, got float64) {
			assert.Equal(t, 6.2, got)
		}},
		{"critical zone quiet for 100h keeps floor", zone(9, 100*time.Hour), func(t *testing.T, got float64) {
			assert.GreaterOrEqual(t, got, 5.0)
		}},
		{"critical zone quiet for 200h decays at a quarter rate", zone(8, 200*time.Hour), func(t *testing.T, got float64) {
			assert.InDelta(t, 8*math.Pow(1-0.0005, 152), got, 1e-9)
			assert.GreaterOrEqual(t, got, 5.0)
		}},
		{"critical zone quiet for a year reaches its floor", zone(10, 365*24*time.Hour), func(t *testing.T, got float64) {
			assert.Equal(t, 5.0, got)
		}},
		{"elevated zone floors at 3", zone(6.5, 10000*time.Hour), func(t *testing.T, got float64) {
			assert.Equal(t, 3.0, got)
		}},
		{"low zone floors at 1", zone(4, 10000*time.Hour), func(t *testing.T, got float64) {
			assert.Equal(t, 1.0, got)
		}},
		{"low zone decays geometrically", zone(4, 148*time.Hour), func(t *testing.T, got float64) {
			assert.InDelta(t, 4*0.818567, got, 1e-3)
		}},
		{"zero timestamp holds", domain.ConflictZoneState{CurrentEscalationScore: 5}, func(t *testing.T, got float64) {
			assert.Equal(t, 5.0, got)
		}},
		{"out of range score is clamped", zone(14, time.Hour), func(t *testing.T, got float64) {
			assert.Equal(t, 10.0, got)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, tr.Decay(tt.state, now))
		})
	}
}

func TestUpdate_CriticalEventAgainstLowBaseline(t *testing.T) {
	tr := NewTracker(DefaultConfig())

	got := tr.Update(zone(2, time.Hour), []ScoredEvent{{ID: "e1", Score: 8}}, now)

	assert.GreaterOrEqual(t, got.CurrentEscalationScore, 7.0)
	assert.InDelta(t, 7.5, got.CurrentEscalationScore, 1e-9)
	assert.Equal(t, got.CurrentEscalationScore, got.PeakScore)
	assert.Equal(t, []string{"e1"}, got.ContributingEventIDs)
	assert.Equal(t, now, got.LastUpdated)
}

func TestUpdate_RiseAndFall(t *testing.T) {
	tr := NewTracker(DefaultConfig())

	t.Run("moderate rise", func(t *testing.T) {
		got := tr.Update(zone(2, time.Hour), []ScoredEvent{{ID: "e1", Score: 5}}, now)
		assert.InDelta(t, 0.55*2+0.45*5, got.CurrentEscalationScore, 1e-9)
	})

	t.Run("slow fall during a burst", func(t *testing.T) {
		got := tr.Update(zone(5, time.Hour), []ScoredEvent{{ID: "e1", Score: 2}}, now)
		assert.InDelta(t, 0.95*5+0.05*2, got.CurrentEscalationScore, 1e-9)
		assert.Equal(t, 5.0, got.PeakScore)
	})

	t.Run("slower fall after a quiet gap", func(t *testing.T) {
		got := tr.Update(zone(5, 12*time.Hour), []ScoredEvent{{ID: "e1", Score: 2}}, now)
		assert.InDelta(t, 0.99*5+0.01*2, got.CurrentEscalationScore, 1e-9)
	})

	t.Run("high score drops at most half a point", func(t *testing.T) {
		got := tr.Update(zone(9.5, time.Hour), []ScoredEvent{{ID: "e1", Score: 1}}, now)
		assert.GreaterOrEqual(t, got.CurrentEscalationScore, 9.0)
	})
}

// A quiet critical zone read cycle after cycle only ever goes down and
// settles on the critical floor. A low event arriving afterwards blends
// against the decayed score rather than the stale stored one.
func TestQuietCriticalZoneDecaysToFloor(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	state := zone(10, 0)
	state.LastUpdated = now

	last := state.CurrentEscalationScore
	for h := 0; h <= 365*24; h += 6 {
		got := tr.View(state, now.Add(time.Duration(h)*time.Hour)).CurrentEscalationScore
		require.LessOrEqual(t, got, last, "hour %d", h)
		require.GreaterOrEqual(t, got, 5.0, "hour %d", h)
		last = got
	}
	assert.Equal(t, 5.0, last)

	later := now.Add(365 * 24 * time.Hour)
	got := tr.Update(state, []ScoredEvent{{ID: "e1", Score: 1}}, later)
	assert.InDelta(t, 0.99*5+0.01*1, got.CurrentEscalationScore, 1e-9)
	assert.Equal(t, later, got.LastUpdated)
}

func TestUpdate_IgnoresContributedEvents(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	prev := zone(4, time.Hour)
	prev.ContributingEventIDs = []string{"e1"}

	got := tr.Update(prev, []ScoredEvent{{ID: "e1", Score: 10}, {ID: ""}}, now)

	assert.Equal(t, 4.0, got.CurrentEscalationScore)
	assert.Equal(t, []string{"e1"}, got.ContributingEventIDs)
	assert.Equal(t, []string{"e1"}, prev.ContributingEventIDs)
}

func TestUpdate_DuplicateIDsInBatchCountOnce(t *testing.T) {
	tr := NewTracker(DefaultConfig())

	got := tr.Update(zone(2, time.Hour), []ScoredEvent{{ID: "e1", Score: 5}, {ID: "e1", Score: 5}}, now)

	assert.Equal(t, []string{"e1"}, got.ContributingEventIDs)
}

func TestUpdate_CapsContributingIDs(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	state := domain.NewZoneState("ukraine", now.Add(-time.Hour))

	for batch := 0; batch < 3; batch++ {
		events := make([]ScoredEvent, 50)
		for i := range events {
			events[i] = ScoredEvent{ID: fmt.Sprintf("e%03d", batch*50+i), Score: 4}
		}
		state = tr.Update(state, events, now)
	}

	require.Len(t, state.ContributingEventIDs, 100)
	assert.Equal(t, "e050", state.ContributingEventIDs[0])
	assert.Equal(t, "e149", state.ContributingEventIDs[99])
}

func TestUpdate_StaysInBounds(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	state := domain.NewZoneState("ukraine", now)
	scores := []float64{10, 10, 0, -3, 42, 1, 9.9, 1, 1, 1, 8, 2}

	ts := now
	for i, s := range scores {
		ts = ts.Add(time.Duration(i*13) * time.Hour)
		state = tr.Update(state, []ScoredEvent{{ID: fmt.Sprint(i), Score: s}}, ts)
		assert.GreaterOrEqual(t, state.CurrentEscalationScore, domain.MinEscalationScore)
		assert.LessOrEqual(t, state.CurrentEscalationScore, domain.MaxEscalationScore)
		assert.GreaterOrEqual(t, state.PeakScore, state.CurrentEscalationScore)
	}
}

func TestView(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	state := zone(4, 10000*time.Hour)
	state.ContributingEventIDs = []string{"e1"}

	v := tr.View(state, now)
	v.ContributingEventIDs[0] = "changed"

	assert.Equal(t, 1.0, v.CurrentEscalationScore)
	assert.Equal(t, 4.0, state.CurrentEscalationScore)
	assert.Equal(t, "e1", state.ContributingEventIDs[0])
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.DecayRate = 1.5
	cfg.ContributingCap = 0
	cfg.ElevatedFloor = 6
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decay rate")
	assert.Contains(t, err.Error(), "contributing cap")
	assert.Contains(t, err.Error(), "floors")
}

func TestScorer(t *testing.T) {
	intp := func(v int) *int { return &v }
	var s Scorer

	tests := []struct {
		name  string
		event domain.RawEvent
		want  float64
	}{
		{"supplied score wins", domain.RawEvent{EventType: domain.EventProtest, EscalationScore: 6.5}, 6.5},
		{"type base", domain.RawEvent{EventType: domain.EventAirstrike}, 6},
		{"casualty boost", domain.RawEvent{EventType: domain.EventMissileStrike, Casualties: domain.Casualties{Killed: intp(9)}}, 8.5},
		{"wounded boost", domain.RawEvent{EventType: domain.EventRiot, Casualties: domain.Casualties{Wounded: intp(99)}}, 4},
		{"unknown type", domain.RawEvent{EventType: "mystery"}, 2},
		{"clamped", domain.RawEvent{EventType: domain.EventTerrorAttack, Casualties: domain.Casualties{Killed: intp(9999)}}, 10},
		{"diplomatic stays above floor", domain.RawEvent{EventType: domain.EventDiplomatic}, 1.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, s.Score(&tt.event), 1e-9)
		})
	}
}

func TestLocalLocker(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "ukraine")
	require.NoError(t, err)

	other, err := l.Lock(ctx, "sudan")
	require.NoError(t, err)
	other()

	timeout, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(timeout, "ukraine")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	acquired := make(chan struct{})
	go func() {
		u, err := l.Lock(ctx, "ukraine")
		if err == nil {
			u()
		}
		close(acquired)
	}()
	unlock()
	unlock()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock was not released")
	}
}
