// Package merge combines a cluster's primary record with a newly accepted
// duplicate report.
package merge

import (
	"math"
	"strings"

	"github.com/V4T54L/argos/internal/domain"
	"github.com/V4T54L/argos/internal/similarity"
)

// MaxReliability caps corroborated reliability; no set of sources is certain.
const MaxReliability = 0.99

// Merge returns a new primary record combining primary and event. Neither
// input is modified. It returns domain.ErrAlreadyMember if event was already
// merged into primary, so re-presenting an event is a no-op.
func Merge(primary, event domain.RawEvent) (domain.RawEvent, error) {
	if event.ID == primary.ID || contains(primary.MergedEventIDs, event.ID) {
		return domain.RawEvent{}, domain.ErrAlreadyMember
	}

	out := primary.Clone()
	out.Sources = mergeSources(primary.SourceList(), event.SourceList())
	out.SourceReliability = Reliability(out.Sources)

	out.MergedEventIDs = append(out.MergedEventIDs, event.ID)
	for _, id := range event.MergedEventIDs {
		if id != primary.ID && !contains(out.MergedEventIDs, id) {
			out.MergedEventIDs = append(out.MergedEventIDs, id)
		}
	}

	out.PrimaryActors = unionActors(primary.PrimaryActors, event.PrimaryActors)
	out.Casualties = domain.Casualties{
		Killed:  maxCount(primary.Casualties.Killed, event.Casualties.Killed),
		Wounded: maxCount(primary.Casualties.Wounded, event.Casualties.Wounded),
	}

	if event.TimeConfidence > primary.TimeConfidence {
		out.EstimatedTimestamp = event.EstimatedTimestamp
		out.Precision = event.Precision
		out.TimeConfidence = event.TimeConfidence
	}
	if event.LocationConfidence() > primary.LocationConfidence() {
		out.LocationName = event.LocationName
		if event.Country != "" {
			out.Country = event.Country
		}
		out.Coordinates = nil
		if event.Coordinates != nil {
			c := *event.Coordinates
			out.Coordinates = &c
		}
	}
	if out.Country == "" {
		out.Country = event.Country
	}

	if len(out.Embedding) == 0 && len(event.Embedding) > 0 {
		out.Embedding = append([]float64(nil), event.Embedding...)
	}
	if out.EventType == "" || out.EventType == domain.EventOther {
		if event.EventType != "" {
			out.EventType = event.EventType
		}
	}
	out.EscalationScore = math.Max(primary.EscalationScore, event.EscalationScore)
	if out.Headline == "" {
		out.Headline = event.Headline
	}
	if out.Summary == "" {
		out.Summary = event.Summary
	}
	return out, nil
}

// Reliability combines independent source reliabilities: the probability
// that at least one source is right, capped at MaxReliability.
func Reliability(sources []domain.SourceRef) float64 {
	if len(sources) == 0 {
		return 0
	}
	miss := 1.0
	for _, s := range sources {
		miss *= 1 - math.Max(0, math.Min(1, s.Reliability))
	}
	return math.Min(MaxReliability, 1-miss)
}

// mergeSources appends sources from b not already in a, keyed by
// case-insensitive name. A repeated source keeps its highest reliability.
func mergeSources(a, b []domain.SourceRef) []domain.SourceRef {
	out := make([]domain.SourceRef, 0, len(a)+len(b))
	index := make(map[string]int, len(a)+len(b))
	for _, list := range [][]domain.SourceRef{a, b} {
		for _, s := range list {
			key := strings.ToLower(strings.TrimSpace(s.Name))
			if i, ok := index[key]; ok {
				if s.Reliability > out[i].Reliability {
					out[i].Reliability = s.Reliability
				}
				continue
			}
			index[key] = len(out)
			out = append(out, s)
		}
	}
	return out
}

func unionActors(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	seen := make(map[string]bool, len(a)+len(b))
	for _, actor := range append(append([]string(nil), a...), b...) {
		key := similarity.NormalizeActor(actor)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, actor)
	}
	return out
}

func maxCount(a, b *int) *int {
	switch {
	case a == nil && b == nil:
		return nil
	case a == nil:
		v := *b
		return &v
	case b == nil || *a >= *b:
		v := *a
		return &v
	}
	v := *b
	return &v
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
