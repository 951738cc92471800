package config

import (
	"errors"
	"time"

	"github.com/V4T54L/argos/internal/clustering"
	"github.com/V4T54L/argos/internal/escalation"
	"github.com/V4T54L/argos/internal/similarity"
	"github.com/V4T54L/argos/internal/usecase"
)

// Tuning holds every engine tunable. Each field can be set from the
// environment (TUNING_ prefix) or from the YAML file named by TUNING_FILE.
type Tuning struct {
	Weights WeightsTuning `envPrefix:"WEIGHT_" yaml:"weights"`

	TemporalWindow        time.Duration `env:"TEMPORAL_WINDOW" envDefault:"48h" yaml:"temporal_window"`
	DuplicateWindow       time.Duration `env:"DUPLICATE_WINDOW" envDefault:"24h" yaml:"duplicate_window"`
	DuplicateThreshold    float64       `env:"DUPLICATE_THRESHOLD" envDefault:"0.85" yaml:"duplicate_threshold"`
	CrossLingualWindow    time.Duration `env:"CROSS_LINGUAL_WINDOW" envDefault:"48h" yaml:"cross_lingual_window"`
	CrossLingualThreshold float64       `env:"CROSS_LINGUAL_THRESHOLD" envDefault:"0.75" yaml:"cross_lingual_threshold"`
	CandidateLimit        int           `env:"CANDIDATE_LIMIT" envDefault:"200" yaml:"candidate_limit"`
	NearbyKm              float64       `env:"NEARBY_KM" envDefault:"25" yaml:"nearby_km"`

	BatchThreshold  float64 `env:"BATCH_THRESHOLD" envDefault:"0.75" yaml:"batch_threshold"`
	OnlineThreshold float64 `env:"ONLINE_THRESHOLD" envDefault:"0.7" yaml:"online_threshold"`
	BatchLimit      int     `env:"BATCH_LIMIT" envDefault:"2000" yaml:"batch_limit"`

	GraceWindow      time.Duration `env:"GRACE_WINDOW" envDefault:"48h" yaml:"grace_window"`
	DecayRate        float64       `env:"DECAY_RATE" envDefault:"0.002" yaml:"decay_rate"`
	CriticalFloor    float64       `env:"CRITICAL_FLOOR" envDefault:"5" yaml:"critical_floor"`
	ElevatedFloor    float64       `env:"ELEVATED_FLOOR" envDefault:"3" yaml:"elevated_floor"`
	MinEventInterval time.Duration `env:"MIN_EVENT_INTERVAL" envDefault:"6h" yaml:"min_event_interval"`
	ContributingCap  int           `env:"CONTRIBUTING_CAP" envDefault:"100" yaml:"contributing_cap"`

	MaxConcurrency int           `env:"MAX_CONCURRENCY" envDefault:"8" yaml:"max_concurrency"`
	BatchSize      int           `env:"BATCH_SIZE" envDefault:"1000" yaml:"batch_size"`
	RetryCount     int           `env:"RETRY_COUNT" envDefault:"3" yaml:"retry_count"`
	RetryBackoff   time.Duration `env:"RETRY_BACKOFF" envDefault:"1s" yaml:"retry_backoff"`

	External ExternalTuning `envPrefix:"EXTERNAL_" yaml:"external"`
}

// WeightsTuning is the hybrid similarity weight table.
type WeightsTuning struct {
	Vector     float64 `env:"VECTOR" envDefault:"0.4" yaml:"vector"`
	Temporal   float64 `env:"TEMPORAL" envDefault:"0.2" yaml:"temporal"`
	Geographic float64 `env:"GEOGRAPHIC" envDefault:"0.2" yaml:"geographic"`
	Actor      float64 `env:"ACTOR" envDefault:"0.2" yaml:"actor"`
}

// ExternalTuning configures out-of-process clustering. An empty command
// keeps clustering in process.
type ExternalTuning struct {
	Command        string        `env:"COMMAND" yaml:"command"`
	Args           []string      `env:"ARGS" envSeparator:" " yaml:"args"`
	MinClusterSize int           `env:"MIN_CLUSTER_SIZE" envDefault:"2" yaml:"min_cluster_size"`
	MinSamples     int           `env:"MIN_SAMPLES" envDefault:"1" yaml:"min_samples"`
	Metric         string        `env:"METRIC" envDefault:"euclidean" yaml:"metric"`
	Epsilon        float64       `env:"EPSILON" envDefault:"0.3" yaml:"epsilon"`
	UsePCA         bool          `env:"USE_PCA" yaml:"use_pca"`
	Timeout        time.Duration `env:"TIMEOUT" envDefault:"60s" yaml:"timeout"`
}

// Validate checks each engine's configuration.
func (t *Tuning) Validate() error {
	return errors.Join(
		t.Similarity().Validate(),
		t.Clustering().Validate(),
		t.Escalation().Validate(),
	)
}

func (t *Tuning) Similarity() similarity.Config {
	return similarity.Config{
		Weights: similarity.Weights{
			Vector:     t.Weights.Vector,
			Temporal:   t.Weights.Temporal,
			Geographic: t.Weights.Geographic,
			Actor:      t.Weights.Actor,
		},
		TemporalWindow:        t.TemporalWindow,
		DuplicateWindow:       t.DuplicateWindow,
		DuplicateThreshold:    t.DuplicateThreshold,
		CrossLingualWindow:    t.CrossLingualWindow,
		CrossLingualThreshold: t.CrossLingualThreshold,
		CandidateLimit:        t.CandidateLimit,
		MaxConcurrency:        t.MaxConcurrency,
		NearbyKm:              t.NearbyKm,
	}
}

func (t *Tuning) Clustering() clustering.Config {
	return clustering.Config{
		BatchThreshold:  t.BatchThreshold,
		OnlineThreshold: t.OnlineThreshold,
		BatchLimit:      t.BatchLimit,
		Workers:         t.MaxConcurrency,
	}
}

// ExternalClustering returns the subprocess configuration, or false when
// clustering stays in process.
func (t *Tuning) ExternalClustering() (clustering.ExternalConfig, bool) {
	if t.External.Command == "" {
		return clustering.ExternalConfig{}, false
	}
	return clustering.ExternalConfig{
		Command:        t.External.Command,
		Args:           t.External.Args,
		MinClusterSize: t.External.MinClusterSize,
		MinSamples:     t.External.MinSamples,
		Metric:         t.External.Metric,
		Epsilon:        t.External.Epsilon,
		UsePCA:         t.External.UsePCA,
		Timeout:        t.External.Timeout,
	}, true
}

func (t *Tuning) Escalation() escalation.Config {
	return escalation.Config{
		GraceWindow:      t.GraceWindow,
		DecayRate:        t.DecayRate,
		CriticalFloor:    t.CriticalFloor,
		ElevatedFloor:    t.ElevatedFloor,
		MinEventInterval: t.MinEventInterval,
		ContributingCap:  t.ContributingCap,
	}
}

func (t *Tuning) Cycle(dims int) usecase.CycleConfig {
	return usecase.CycleConfig{
		BatchSize:      t.BatchSize,
		EmbeddingDims:  dims,
		MaxConcurrency: t.MaxConcurrency,
		RetryCount:     t.RetryCount,
		RetryBackoff:   t.RetryBackoff,
	}
}
