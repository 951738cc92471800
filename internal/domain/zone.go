package domain

import "time"

// Escalation score bounds.
const (
	MinEscalationScore = 1.0
	MaxEscalationScore = 10.0
)

// ConflictZoneState is the long-lived severity posture of one zone. It is
// created lazily on the zone's first event and never deleted.
type ConflictZoneState struct {
	ZoneID                 string    `json:"zone_id"`
	CurrentEscalationScore float64   `json:"current_escalation_score"`
	PeakScore              float64   `json:"peak_score"`
	LastUpdated            time.Time `json:"last_updated"`
	ContributingEventIDs   []string  `json:"contributing_event_ids"`
}

// NewZoneState returns the baseline state for a zone seen for the first time.
func NewZoneState(zoneID string, now time.Time) ConflictZoneState {
	return ConflictZoneState{
		ZoneID:                 zoneID,
		CurrentEscalationScore: MinEscalationScore,
		PeakScore:              MinEscalationScore,
		LastUpdated:            now,
	}
}

// Contributed reports whether eventID has already fed this zone's score.
func (z *ConflictZoneState) Contributed(eventID string) bool {
	for _, id := range z.ContributingEventIDs {
		if id == eventID {
			return true
		}
	}
	return false
}
