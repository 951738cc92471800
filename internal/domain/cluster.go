package domain

import "time"

// EventCluster is a set of reports judged to describe one real-world incident.
// It is the durable, queryable output unit: created on first sighting and
// mutated (never deleted) on every accepted duplicate.
type EventCluster struct {
	ClusterID            string    `json:"cluster_id"`
	PrimaryEvent         RawEvent  `json:"primary_event"`
	MemberEventIDs       []string  `json:"member_event_ids"`
	MemberSimilarities   []float64 `json:"member_similarities,omitempty"`
	SourceCount          int       `json:"source_count"`
	SourceDiversityScore float64   `json:"source_diversity_score"`
	Confidence           float64   `json:"confidence"`
	Languages            []string  `json:"languages,omitempty"`
	Centroid             []float64 `json:"-"`
	EmbeddedCount        int       `json:"-"`
	CreatedAt            time.Time `json:"created_at"`
	LastUpdatedAt        time.Time `json:"last_updated_at"`
}

// HasMember reports whether eventID already belongs to the cluster.
func (c *EventCluster) HasMember(eventID string) bool {
	for _, id := range c.MemberEventIDs {
		if id == eventID {
			return true
		}
	}
	return false
}

// ZoneID is the conflict zone of the cluster's primary event.
func (c *EventCluster) ZoneID() string {
	return c.PrimaryEvent.ZoneID()
}

// Language is the cluster's language tag, taken from its primary event.
func (c *EventCluster) Language() string {
	return c.PrimaryEvent.Language
}

// Clone returns a deep copy so callers never alias slices across clusters.
func (c EventCluster) Clone() EventCluster {
	out := c
	out.PrimaryEvent = c.PrimaryEvent.Clone()
	out.MemberEventIDs = append([]string(nil), c.MemberEventIDs...)
	out.MemberSimilarities = append([]float64(nil), c.MemberSimilarities...)
	out.Languages = append([]string(nil), c.Languages...)
	out.Centroid = append([]float64(nil), c.Centroid...)
	return out
}

// Clone returns a deep copy of the event.
func (e RawEvent) Clone() RawEvent {
	out := e
	out.TimeExpressions = append([]TimeExpression(nil), e.TimeExpressions...)
	out.PrimaryActors = append([]string(nil), e.PrimaryActors...)
	out.Embedding = append([]float64(nil), e.Embedding...)
	out.Sources = append([]SourceRef(nil), e.Sources...)
	out.MergedEventIDs = append([]string(nil), e.MergedEventIDs...)
	out.Metadata = append([]byte(nil), e.Metadata...)
	if e.Coordinates != nil {
		c := *e.Coordinates
		out.Coordinates = &c
	}
	if e.Casualties.Killed != nil {
		k := *e.Casualties.Killed
		out.Casualties.Killed = &k
	}
	if e.Casualties.Wounded != nil {
		w := *e.Casualties.Wounded
		out.Casualties.Wounded = &w
	}
	return out
}
