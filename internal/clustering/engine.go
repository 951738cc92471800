// Package clustering groups a cycle's events into incident clusters, either
// in batch or by incremental assignment against maintained centroids.
package clustering

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/V4T54L/argos/internal/domain"
	"github.com/V4T54L/argos/internal/similarity"
)

// Algorithm labels a batch of events. Labels are per input item; events
// sharing a non-negative label belong together and -1 means unclustered.
type Algorithm interface {
	Name() string
	Labels(ctx context.Context, events []domain.RawEvent) ([]int, error)
}

// ScoredAlgorithm is an Algorithm that also reports the similarity that
// admitted each item to its cluster. Batch records that score as the
// member's similarity instead of re-scoring against the merged cluster.
type ScoredAlgorithm interface {
	Algorithm
	ScoredLabels(ctx context.Context, events []domain.RawEvent) ([]int, []float64, error)
}

// Config holds the clustering tunables.
type Config struct {
	BatchThreshold  float64
	OnlineThreshold float64
	// BatchLimit is the largest batch clustered pairwise; larger batches are
	// assigned online to avoid quadratic cost.
	BatchLimit int
	Workers    int
}

// DefaultConfig returns the default clustering configuration.
func DefaultConfig() Config {
	return Config{
		BatchThreshold:  0.75,
		OnlineThreshold: 0.7,
		BatchLimit:      2000,
		Workers:         8,
	}
}

// Validate checks the configuration is usable.
func (c Config) Validate() error {
	var errs []error
	if c.BatchThreshold < 0 || c.BatchThreshold > 1 {
		errs = append(errs, fmt.Errorf("batch threshold %v outside [0,1]", c.BatchThreshold))
	}
	if c.OnlineThreshold < 0 || c.OnlineThreshold > 1 {
		errs = append(errs, fmt.Errorf("online threshold %v outside [0,1]", c.OnlineThreshold))
	}
	if c.BatchLimit <= 0 {
		errs = append(errs, errors.New("batch limit must be positive"))
	}
	if c.Workers <= 0 {
		errs = append(errs, errors.New("workers must be positive"))
	}
	return errors.Join(errs...)
}

// Clustering modes reported in Result.Mode.
const (
	ModeAlgorithm = "algorithm"
	ModeOnline    = "online"
	ModeSingleton = "singleton"
)

// Result is the outcome of a batch run.
type Result struct {
	Clusters []domain.EventCluster
	Mode     string
	// Degraded is set when the algorithm failed and every event was made its
	// own cluster. It wraps domain.ErrExternalClusteringFailure.
	Degraded error
	// MergeFailures counts members that could not be merged into their cluster
	// and were split out as singletons.
	MergeFailures int
}

// Engine runs batch and online clustering.
type Engine struct {
	cfg    Config
	sim    *similarity.Engine
	algo   Algorithm
	logger *slog.Logger
}

// NewEngine creates a clustering engine. A nil algo selects in-process
// greedy clustering.
func NewEngine(cfg Config, sim *similarity.Engine, algo Algorithm, logger *slog.Logger) *Engine {
	if algo == nil {
		algo = NewGreedy(sim, cfg.BatchThreshold, cfg.Workers)
	}
	return &Engine{cfg: cfg, sim: sim, algo: algo, logger: logger.With("component", "clustering")}
}

// Batch clusters one cycle's events. Algorithm failure is never fatal: the
// batch degrades to one singleton cluster per event.
func (e *Engine) Batch(ctx context.Context, events []domain.RawEvent, now time.Time) Result {
	events = collapse(events)
	if len(events) == 0 {
		return Result{Mode: ModeAlgorithm}
	}

	if len(events) > e.cfg.BatchLimit {
		e.logger.Info("Batch exceeds pairwise limit, assigning online", "events", len(events), "limit", e.cfg.BatchLimit)
		return e.online(events, now)
	}

	labels, admitted, err := e.label(ctx, events)
	if err == nil && len(labels) != len(events) {
		err = fmt.Errorf("%s returned %d labels for %d events", e.algo.Name(), len(labels), len(events))
	}
	if err != nil {
		if !errors.Is(err, domain.ErrExternalClusteringFailure) {
			err = fmt.Errorf("%w: %w", domain.ErrExternalClusteringFailure, err)
		}
		e.logger.Warn("Clustering algorithm failed, falling back to singletons", "algorithm", e.algo.Name(), "error", err)
		res := Result{Mode: ModeSingleton, Degraded: err}
		for _, ev := range events {
			res.Clusters = append(res.Clusters, NewCluster(ev, now))
		}
		return res
	}

	res := Result{Mode: ModeAlgorithm}
	byLabel := make(map[int]int)
	for i, ev := range events {
		label := labels[i]
		idx, ok := byLabel[label]
		if label < 0 || !ok {
			res.Clusters = append(res.Clusters, NewCluster(ev, now))
			if label >= 0 {
				byLabel[label] = len(res.Clusters) - 1
			}
			continue
		}
		score := -1.0
		if admitted != nil {
			score = admitted[i]
		}
		if !e.join(&res, idx, ev, score, now) {
			res.Clusters = append(res.Clusters, NewCluster(ev, now))
		}
	}
	return res
}

func (e *Engine) label(ctx context.Context, events []domain.RawEvent) ([]int, []float64, error) {
	if sa, ok := e.algo.(ScoredAlgorithm); ok {
		labels, admitted, err := sa.ScoredLabels(ctx, events)
		if err == nil && len(admitted) != len(labels) {
			admitted = nil
		}
		return labels, admitted, err
	}
	labels, err := e.algo.Labels(ctx, events)
	return labels, nil, err
}

// join absorbs ev into cluster idx, reporting whether it is now a member.
// A negative score means the algorithm reported none, and ev is scored
// against the cluster as it stands.
func (e *Engine) join(res *Result, idx int, ev domain.RawEvent, score float64, now time.Time) bool {
	c := &res.Clusters[idx]
	if score < 0 {
		view := c.PrimaryEvent
		if len(c.Centroid) > 0 {
			view.Embedding = c.Centroid
		}
		score = e.sim.Pairwise(&view, &ev).Hybrid
	}
	updated, err := Absorb(*c, ev, score, now)
	switch {
	case errors.Is(err, domain.ErrAlreadyMember):
		return true
	case err != nil:
		res.MergeFailures++
		e.logger.Warn("Failed to merge event into cluster", "event_id", ev.ID, "cluster_id", c.ClusterID, "error", err)
		return false
	}
	*c = updated
	return true
}

func (e *Engine) online(events []domain.RawEvent, now time.Time) Result {
	res := Result{Mode: ModeOnline}
	for _, ev := range events {
		idx, score, ok := e.AssignOnline(&ev, res.Clusters)
		if !ok {
			res.Clusters = append(res.Clusters, NewCluster(ev, now))
			continue
		}
		updated, err := Absorb(res.Clusters[idx], ev, score, now)
		switch {
		case errors.Is(err, domain.ErrAlreadyMember):
		case err != nil:
			res.MergeFailures++
			res.Clusters = append(res.Clusters, NewCluster(ev, now))
		default:
			res.Clusters[idx] = updated
		}
	}
	return res
}

// AssignOnline finds the cluster whose centroid is most similar to the
// event's embedding. ok is false when the event has no embedding or no
// centroid reaches the online threshold; the caller then opens a new cluster.
func (e *Engine) AssignOnline(event *domain.RawEvent, clusters []domain.EventCluster) (index int, score float64, ok bool) {
	if len(event.Embedding) == 0 {
		return -1, 0, false
	}
	index = -1
	for i := range clusters {
		centroid := clusters[i].Centroid
		if len(centroid) == 0 {
			centroid = clusters[i].PrimaryEvent.Embedding
		}
		s := similarity.Cosine(event.Embedding, centroid)
		if s >= e.cfg.OnlineThreshold && s > score {
			index, score = i, s
		}
	}
	return index, score, index >= 0
}

// collapse drops events already represented in the batch: repeated ids and
// ids another event in the batch already carries as merged members.
func collapse(events []domain.RawEvent) []domain.RawEvent {
	owned := make(map[string]bool)
	for _, ev := range events {
		for _, id := range ev.MergedEventIDs {
			owned[id] = true
		}
	}
	seen := make(map[string]bool, len(events))
	out := make([]domain.RawEvent, 0, len(events))
	for _, ev := range events {
		if seen[ev.ID] || owned[ev.ID] {
			continue
		}
		seen[ev.ID] = true
		out = append(out, ev)
	}
	return out
}
