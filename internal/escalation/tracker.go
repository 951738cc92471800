// Package escalation maintains the per-zone escalation score: a bounded,
// decaying severity estimate that rises quickly on new violence and falls
// slowly when a zone goes quiet.
package escalation

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/V4T54L/argos/internal/domain"
)

// Config holds the escalation tunables.
type Config struct {
	// GraceWindow is how long a score holds before it starts to decay.
	GraceWindow time.Duration
	// DecayRate is the fractional decay per hour beyond the grace window.
	DecayRate float64
	// CriticalFloor and ElevatedFloor bound decay for zones whose previous
	// score was >= 8 or in [6,8).
	CriticalFloor float64
	ElevatedFloor float64
	// MinEventInterval separates bursts of activity from quiet periods.
	MinEventInterval time.Duration
	// ContributingCap bounds the contributing event id list.
	ContributingCap int
}

// DefaultConfig returns the default escalation configuration.
func DefaultConfig() Config {
	return Config{
		GraceWindow:      48 * time.Hour,
		DecayRate:        0.002,
		CriticalFloor:    5,
		ElevatedFloor:    3,
		MinEventInterval: 6 * time.Hour,
		ContributingCap:  100,
	}
}

// Validate checks the configuration is usable.
func (c Config) Validate() error {
	var errs []error
	if c.GraceWindow < 0 {
		errs = append(errs, errors.New("grace window must not be negative"))
	}
	if c.DecayRate < 0 || c.DecayRate >= 1 {
		errs = append(errs, fmt.Errorf("decay rate %v outside [0,1)", c.DecayRate))
	}
	if c.ElevatedFloor < domain.MinEscalationScore || c.CriticalFloor < c.ElevatedFloor || c.CriticalFloor > domain.MaxEscalationScore {
		errs = append(errs, fmt.Errorf("floors must satisfy 1 <= elevated (%v) <= critical (%v) <= 10", c.ElevatedFloor, c.CriticalFloor))
	}
	if c.ContributingCap <= 0 {
		errs = append(errs, errors.New("contributing cap must be positive"))
	}
	return errors.Join(errs...)
}

const (
	criticalScore = 8.0
	elevatedScore = 6.0
	// An update never takes a decayed score above highScore down by more
	// than maxDrop.
	highScore = 7.0
	maxDrop   = 0.5

	riseBaseWeight    = 0.3
	riseGapWeight     = 0.05
	riseMaxWeight     = 0.6
	criticalBoost     = 1.5
	criticalMaxWeight = 0.8
	fallWeight        = 0.95
	quietFallWeight   = 0.99
)

// ScoredEvent is one event's contribution to its zone.
type ScoredEvent struct {
	ID    string
	Score float64
}

// Tracker applies the escalation state machine.
type Tracker struct {
	cfg Config
}

// NewTracker returns a Tracker.
func NewTracker(cfg Config) *Tracker {
	return &Tracker{cfg: cfg}
}

// Decay returns the zone's score as of now. Scores hold for the grace window
// and then decay geometrically from the last stored score, more slowly for
// zones that were recently critical and never below the floor tied to that
// score. Quiet cycles leave the stored state alone, so the full quiet period
// is always measured from the last update.
func (t *Tracker) Decay(state domain.ConflictZoneState, now time.Time) float64 {
	prev := clamp(state.CurrentEscalationScore)
	if state.LastUpdated.IsZero() {
		return prev
	}
	elapsed := now.Sub(state.LastUpdated)
	if elapsed <= t.cfg.GraceWindow {
		return prev
	}
	beyond := (elapsed - t.cfg.GraceWindow).Hours()

	rate, floor := t.cfg.DecayRate, domain.MinEscalationScore
	switch {
	case prev >= criticalScore:
		rate, floor = rate*0.25, t.cfg.CriticalFloor
	case prev >= elevatedScore:
		rate, floor = rate*0.5, t.cfg.ElevatedFloor
	}
	return clamp(math.Max(prev*math.Pow(1-rate, beyond), floor))
}

// View returns the state as it reads at now, with decay applied.
func (t *Tracker) View(state domain.ConflictZoneState, now time.Time) domain.ConflictZoneState {
	state.CurrentEscalationScore = t.Decay(state, now)
	state.ContributingEventIDs = append([]string(nil), state.ContributingEventIDs...)
	return state
}

// Update advances a zone by one cycle given the events observed for it.
// prev is not modified.
func (t *Tracker) Update(prev domain.ConflictZoneState, events []ScoredEvent, now time.Time) domain.ConflictZoneState {
	decayed := t.Decay(prev, now)

	next := prev
	next.ContributingEventIDs = append([]string(nil), prev.ContributingEventIDs...)
	next.LastUpdated = now

	fresh := make([]ScoredEvent, 0, len(events))
	seen := make(map[string]bool, len(events))
	for _, e := range events {
		if e.ID == "" || seen[e.ID] || prev.Contributed(e.ID) {
			continue
		}
		seen[e.ID] = true
		fresh = append(fresh, e)
	}
	if len(fresh) == 0 {
		next.CurrentEscalationScore = decayed
		next.PeakScore = math.Max(prev.PeakScore, decayed)
		return next
	}

	var sum, peak float64
	for _, e := range fresh {
		s := clamp(e.Score)
		sum += s
		peak = math.Max(peak, s)
	}
	mean := sum / float64(len(fresh))
	critical := peak >= criticalScore

	var score float64
	if mean > decayed || critical {
		w := math.Min(riseBaseWeight+riseGapWeight*math.Max(0, mean-decayed), riseMaxWeight)
		if critical {
			w = math.Min(w*criticalBoost, criticalMaxWeight)
		}
		score = (1-w)*decayed + w*mean
		if critical {
			score = math.Max(score, highScore+0.5*(mean-highScore))
		}
	} else {
		w := fallWeight
		if now.Sub(prev.LastUpdated) > t.cfg.MinEventInterval {
			w = quietFallWeight
		}
		score = w*decayed + (1-w)*mean
	}
	score = clamp(score)
	if decayed > highScore && score < decayed-maxDrop {
		score = decayed - maxDrop
	}

	next.CurrentEscalationScore = score
	next.PeakScore = math.Max(prev.PeakScore, score)
	for _, e := range fresh {
		next.ContributingEventIDs = append(next.ContributingEventIDs, e.ID)
	}
	if n := len(next.ContributingEventIDs) - t.cfg.ContributingCap; n > 0 {
		next.ContributingEventIDs = append([]string(nil), next.ContributingEventIDs[n:]...)
	}
	return next
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return domain.MinEscalationScore
	}
	return math.Max(domain.MinEscalationScore, math.Min(domain.MaxEscalationScore, v))
}
