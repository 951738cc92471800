// Package similarity scores how likely two conflict-event reports describe the
// same incident and looks up duplicates among recently stored clusters.
package similarity

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Weights is the hybrid-similarity weight table. It is the single
// engine-wide table; all callers score through Engine so it is never
// duplicated per call site.
type Weights struct {
	Vector     float64 `yaml:"vector" json:"vector"`
	Temporal   float64 `yaml:"temporal" json:"temporal"`
	Geographic float64 `yaml:"geographic" json:"geographic"`
	Actor      float64 `yaml:"actor" json:"actor"`
}

// DefaultWeights is the canonical table: semantic content dominates, the
// three structural signals share the rest equally.
func DefaultWeights() Weights {
	return Weights{Vector: 0.4, Temporal: 0.2, Geographic: 0.2, Actor: 0.2}
}

func (w Weights) sum() float64 {
	return w.Vector + w.Temporal + w.Geographic + w.Actor
}

// Validate checks every weight is in [0,1] and the table sums to 1.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"vector": w.Vector, "temporal": w.Temporal, "geographic": w.Geographic, "actor": w.Actor,
	} {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("weight %s=%v outside [0,1]", name, v)
		}
	}
	if s := w.sum(); math.Abs(s-1) > 1e-6 {
		return fmt.Errorf("weights sum to %v, want 1", s)
	}
	return nil
}

// Config holds the tunables of the similarity engine.
type Config struct {
	Weights Weights
	// TemporalWindow is the span over which the temporal feature decays to 0.
	TemporalWindow        time.Duration
	DuplicateWindow       time.Duration
	DuplicateThreshold    float64
	CrossLingualWindow    time.Duration
	CrossLingualThreshold float64
	// CandidateLimit caps how many clusters one lookup scores.
	CandidateLimit int
	MaxConcurrency int
	// NearbyKm is the distance under which two coordinates count as the same place.
	NearbyKm float64
}

// DefaultConfig returns the default similarity configuration.
func DefaultConfig() Config {
	return Config{
		Weights:               DefaultWeights(),
		TemporalWindow:        48 * time.Hour,
		DuplicateWindow:       24 * time.Hour,
		DuplicateThreshold:    0.85,
		CrossLingualWindow:    48 * time.Hour,
		CrossLingualThreshold: 0.75,
		CandidateLimit:        200,
		MaxConcurrency:        8,
		NearbyKm:              25,
	}
}

// Validate checks the configuration is usable.
func (c Config) Validate() error {
	var errs []error
	if err := c.Weights.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.TemporalWindow <= 0 {
		errs = append(errs, errors.New("temporal window must be positive"))
	}
	if c.DuplicateWindow <= 0 || c.CrossLingualWindow <= 0 {
		errs = append(errs, errors.New("duplicate windows must be positive"))
	}
	for name, v := range map[string]float64{
		"duplicate threshold": c.DuplicateThreshold, "cross-lingual threshold": c.CrossLingualThreshold,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s %v outside [0,1]", name, v))
		}
	}
	if c.CandidateLimit <= 0 {
		errs = append(errs, errors.New("candidate limit must be positive"))
	}
	if c.MaxConcurrency <= 0 {
		errs = append(errs, errors.New("max concurrency must be positive"))
	}
	return errors.Join(errs...)
}
