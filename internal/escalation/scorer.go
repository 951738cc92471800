package escalation

import (
	"math"

	"github.com/V4T54L/argos/internal/domain"
)

var baseSeverity = map[domain.EventType]float64{
	domain.EventMissileStrike:      7,
	domain.EventTerrorAttack:       7,
	domain.EventAirstrike:          6,
	domain.EventBombing:            6,
	domain.EventArtillery:          5.5,
	domain.EventArmedClash:         5,
	domain.EventCeasefireViolation: 4,
	domain.EventTroopMovement:      4,
	domain.EventCyberattack:        3.5,
	domain.EventRiot:               3,
	domain.EventHumanitarian:       2.5,
	domain.EventProtest:            2,
	domain.EventOther:              2,
	domain.EventDiplomatic:         1.5,
}

// Scorer rates a single event's severity on the [1,10] escalation scale.
type Scorer struct{}

// Score returns the extracted escalation score when one was supplied, and
// otherwise derives it from event type and casualty counts.
func (Scorer) Score(event *domain.RawEvent) float64 {
	if s := event.EscalationScore; s >= domain.MinEscalationScore && s <= domain.MaxEscalationScore {
		return s
	}
	score, ok := baseSeverity[event.EventType]
	if !ok {
		score = 2
	}
	if k := event.Casualties.Killed; k != nil && *k > 0 {
		score += 1.5 * math.Log10(1+float64(*k))
	}
	if w := event.Casualties.Wounded; w != nil && *w > 0 {
		score += 0.5 * math.Log10(1+float64(*w))
	}
	return clamp(score)
}
