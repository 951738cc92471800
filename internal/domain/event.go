package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Precision describes how finely an event's timestamp is known.
type Precision string

const (
	PrecisionExact     Precision = "exact"
	PrecisionDay       Precision = "day"
	PrecisionWeek      Precision = "week"
	PrecisionMonth     Precision = "month"
	PrecisionYear      Precision = "year"
	PrecisionRelative  Precision = "relative"
	PrecisionUncertain Precision = "uncertain"
)

// Valid reports whether p is one of the known precision levels.
func (p Precision) Valid() bool {
	switch p {
	case PrecisionExact, PrecisionDay, PrecisionWeek, PrecisionMonth, PrecisionYear, PrecisionRelative, PrecisionUncertain:
		return true
	}
	return false
}

// EventType is the enumerated category assigned by extraction.
type EventType string

const (
	EventAirstrike          EventType = "airstrike"
	EventMissileStrike      EventType = "missile_strike"
	EventArtillery          EventType = "artillery"
	EventArmedClash         EventType = "armed_clash"
	EventBombing            EventType = "bombing"
	EventTerrorAttack       EventType = "terrorist_attack"
	EventCeasefireViolation EventType = "ceasefire_violation"
	EventTroopMovement      EventType = "troop_movement"
	EventCyberattack        EventType = "cyberattack"
	EventRiot               EventType = "riot"
	EventProtest            EventType = "protest"
	EventHumanitarian       EventType = "humanitarian"
	EventDiplomatic         EventType = "diplomatic"
	EventOther              EventType = "other"
)

var knownEventTypes = map[EventType]struct{}{
	EventAirstrike: {}, EventMissileStrike: {}, EventArtillery: {}, EventArmedClash: {},
	EventBombing: {}, EventTerrorAttack: {}, EventCeasefireViolation: {}, EventTroopMovement: {},
	EventCyberattack: {}, EventRiot: {}, EventProtest: {}, EventHumanitarian: {},
	EventDiplomatic: {}, EventOther: {},
}

// Valid reports whether t is a known category.
func (t EventType) Valid() bool {
	_, ok := knownEventTypes[t]
	return ok
}

// Coordinates is a WGS84 point.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Casualties holds reported counts. A nil field means "not reported", which is
// different from a reported zero.
type Casualties struct {
	Killed  *int `json:"killed,omitempty"`
	Wounded *int `json:"wounded,omitempty"`
}

// Referent says what a time expression refers to.
type Referent string

const (
	RefersToEvent       Referent = "event"
	RefersToPublication Referent = "publication"
	RefersToUnknown     Referent = ""
)

// TimeExpression is a fuzzy time span lifted from report text by extraction.
type TimeExpression struct {
	Text   string   `json:"text"`
	Refers Referent `json:"refers,omitempty"`
}

// SourceRef identifies one outlet that reported an event.
type SourceRef struct {
	Name        string  `json:"name"`
	Reliability float64 `json:"reliability"`
	Language    string  `json:"language,omitempty"`
}

// RawEvent is a single extracted conflict-event report. It is immutable once
// created; merged records are new values produced by the merger.
type RawEvent struct {
	ID                 string           `json:"event_id"`
	EstimatedTimestamp time.Time        `json:"estimated_timestamp"`
	Precision          Precision        `json:"precision"`
	TimeConfidence     float64          `json:"time_confidence"`
	PublishedAt        time.Time        `json:"published_at,omitempty"`
	TimeExpressions    []TimeExpression `json:"time_expressions,omitempty"`
	LocationName       string           `json:"location_name,omitempty"`
	Country            string           `json:"country,omitempty"`
	Coordinates        *Coordinates     `json:"coordinates,omitempty"`
	PrimaryActors      []string         `json:"primary_actors,omitempty"`
	EventType          EventType        `json:"event_type"`
	Casualties         Casualties       `json:"casualties"`
	Embedding          []float64        `json:"embedding,omitempty"`
	Headline           string           `json:"headline,omitempty"`
	Summary            string           `json:"summary,omitempty"`
	SourceName         string           `json:"source_name"`
	SourceReliability  float64          `json:"source_reliability"`
	Language           string           `json:"language"`
	EscalationScore    float64          `json:"escalation_score,omitempty"`
	Metadata           json.RawMessage  `json:"metadata,omitempty"`

	// Populated only on merged primary records.
	Sources        []SourceRef `json:"sources,omitempty"`
	MergedEventIDs []string    `json:"merged_event_ids,omitempty"`

	StreamMessageID  string `json:"-"`
	MetadataRedacted bool   `json:"metadata_redacted,omitempty"`
}

// Validate is the single schema check applied at the ingestion boundary.
// dims is the expected embedding length; zero disables the dimension check.
// A dimension mismatch is reported as ErrInvalidVectorDimension so callers can
// drop the vector and keep the event.
func (e *RawEvent) Validate(dims int) error {
	var errs []error
	if strings.TrimSpace(e.ID) == "" {
		errs = append(errs, errors.New("event_id is required"))
	}
	if e.EstimatedTimestamp.IsZero() && e.PublishedAt.IsZero() {
		errs = append(errs, errors.New("estimated_timestamp or published_at is required"))
	}
	if e.Precision != "" && !e.Precision.Valid() {
		errs = append(errs, fmt.Errorf("unknown precision %q", e.Precision))
	}
	if !inUnit(e.TimeConfidence) {
		errs = append(errs, fmt.Errorf("time_confidence %v outside [0,1]", e.TimeConfidence))
	}
	if !inUnit(e.SourceReliability) {
		errs = append(errs, fmt.Errorf("source_reliability %v outside [0,1]", e.SourceReliability))
	}
	if strings.TrimSpace(e.SourceName) == "" {
		errs = append(errs, errors.New("source_name is required"))
	}
	if e.EventType != "" && !e.EventType.Valid() {
		errs = append(errs, fmt.Errorf("unknown event_type %q", e.EventType))
	}
	if c := e.Coordinates; c != nil && (c.Lat < -90 || c.Lat > 90 || c.Lng < -180 || c.Lng > 180) {
		errs = append(errs, fmt.Errorf("coordinates out of range (%v,%v)", c.Lat, c.Lng))
	}
	if k := e.Casualties.Killed; k != nil && *k < 0 {
		errs = append(errs, errors.New("casualties.killed is negative"))
	}
	if w := e.Casualties.Wounded; w != nil && *w < 0 {
		errs = append(errs, errors.New("casualties.wounded is negative"))
	}
	if e.EscalationScore != 0 && (e.EscalationScore < MinEscalationScore || e.EscalationScore > MaxEscalationScore) {
		errs = append(errs, fmt.Errorf("escalation_score %v outside [1,10]", e.EscalationScore))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidEvent, errors.Join(errs...))
	}

	if len(e.Embedding) > 0 {
		if dims > 0 && len(e.Embedding) != dims {
			return fmt.Errorf("%w: got %d, want %d", ErrInvalidVectorDimension, len(e.Embedding), dims)
		}
		for _, v := range e.Embedding {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: non-finite component", ErrInvalidVectorDimension)
			}
		}
	}
	return nil
}

// ZoneID is the conflict zone an event contributes to. Zones are keyed by
// normalized country; events without a country have no zone.
func (e *RawEvent) ZoneID() string {
	return NormalizeZone(e.Country)
}

// SourceList returns the record's sources. A raw, never-merged event has
// exactly one implicit source.
func (e *RawEvent) SourceList() []SourceRef {
	if len(e.Sources) > 0 {
		out := make([]SourceRef, len(e.Sources))
		copy(out, e.Sources)
		return out
	}
	if e.SourceName == "" {
		return nil
	}
	return []SourceRef{{Name: e.SourceName, Reliability: e.SourceReliability, Language: e.Language}}
}

// LocationConfidence grades how precisely the event is placed.
func (e *RawEvent) LocationConfidence() float64 {
	switch {
	case e.Coordinates != nil && e.LocationName != "":
		return 1.0
	case e.Coordinates != nil:
		return 0.8
	case e.LocationName != "":
		return 0.6
	case e.Country != "":
		return 0.3
	}
	return 0
}

// NormalizeZone canonicalizes a zone key.
func NormalizeZone(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func inUnit(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
