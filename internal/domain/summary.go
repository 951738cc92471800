package domain

import "time"

// CycleSummary is the per-cycle report handed to the scheduler and operators.
type CycleSummary struct {
	CycleID             string         `json:"cycle_id"`
	StartedAt           time.Time      `json:"started_at"`
	FinishedAt          time.Time      `json:"finished_at"`
	EventsIn            int            `json:"events_in"`
	DuplicatesFound     int            `json:"duplicates_found"`
	CrossLingualMatches int            `json:"cross_lingual_matches"`
	NewClusters         int            `json:"new_clusters"`
	ClustersUpdated     int            `json:"clusters_updated"`
	ZonesUpdated        int            `json:"zones_updated"`
	Skipped             int            `json:"skipped"`
	Errors              map[string]int `json:"errors"`
}

// NewCycleSummary starts an empty summary.
func NewCycleSummary(cycleID string, startedAt time.Time) CycleSummary {
	return CycleSummary{CycleID: cycleID, StartedAt: startedAt, Errors: make(map[string]int)}
}

// RecordError increments the counter for err's kind.
func (s *CycleSummary) RecordError(err error) {
	s.RecordKind(ErrorKind(err))
}

// RecordKind increments a named error counter.
func (s *CycleSummary) RecordKind(kind string) {
	if kind == "" {
		return
	}
	if s.Errors == nil {
		s.Errors = make(map[string]int)
	}
	s.Errors[kind]++
}

// ErrorCount is the total of all error counters.
func (s *CycleSummary) ErrorCount() int {
	n := 0
	for _, v := range s.Errors {
		n += v
	}
	return n
}
