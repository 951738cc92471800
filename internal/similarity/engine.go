package similarity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/V4T54L/argos/internal/domain"
)

// Match is a candidate cluster that scored at or above a lookup threshold.
type Match struct {
	Cluster  domain.EventCluster
	Features Features
}

// Score is the hybrid similarity of the match.
func (m Match) Score() float64 { return m.Features.Hybrid }

// Engine computes hybrid similarity and performs windowed duplicate lookups
// against a cluster store.
type Engine struct {
	cfg    Config
	store  domain.ClusterRepository
	logger *slog.Logger
}

// NewEngine creates a similarity engine. store may be nil when only pairwise
// scoring is needed.
func NewEngine(cfg Config, store domain.ClusterRepository, logger *slog.Logger) *Engine {
	return &Engine{cfg: cfg, store: store, logger: logger.With("component", "similarity")}
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config { return e.cfg }

// Pairwise scores two events on every feature and combines them with the
// engine's weight table. A missing or mismatched embedding contributes no
// vector signal.
func (e *Engine) Pairwise(a, b *domain.RawEvent) Features {
	f := Features{
		Vector:       math.Max(0, Cosine(a.Embedding, b.Embedding)),
		Temporal:     Temporal(a.EstimatedTimestamp, b.EstimatedTimestamp, e.cfg.TemporalWindow),
		Geographic:   Geographic(a, b, e.cfg.NearbyKm),
		ActorOverlap: Jaccard(a.PrimaryActors, b.PrimaryActors),
	}
	f.Hybrid = e.cfg.Weights.hybrid(f)
	return f
}

// VectorSimilarity is the cosine similarity between an event's embedding and
// a query vector, clamped at 0.
func (e *Engine) VectorSimilarity(event *domain.RawEvent, query []float64) float64 {
	return math.Max(0, Cosine(event.Embedding, query))
}

// FindDuplicate returns the best same-language cluster whose primary event
// lies in the trailing window ending at the event's timestamp and scores at
// least threshold. Zero window or threshold select the configured defaults.
// An event that is already a member of any stored cluster maps back to that
// cluster first, whatever its time or language.
// A nil match with a nil error means no duplicate. Store failures wrap
// domain.ErrStoreUnavailable; callers treat them as "no duplicate".
func (e *Engine) FindDuplicate(ctx context.Context, event *domain.RawEvent, window time.Duration, threshold float64) (*Match, error) {
	if owner, err := e.owner(ctx, event.ID); err != nil || owner != nil {
		return owner, err
	}
	if window <= 0 {
		window = e.cfg.DuplicateWindow
	}
	if threshold <= 0 {
		threshold = e.cfg.DuplicateThreshold
	}
	q := e.query(event, window)
	q.Language = event.Language

	candidates, err := e.candidates(ctx, q)
	if err != nil {
		return nil, err
	}
	matches, err := e.score(ctx, event, candidates, threshold, func(c *domain.EventCluster) bool {
		return event.Language == "" || c.Language() == event.Language
	})
	if err != nil || len(matches) == 0 {
		return nil, err
	}
	return &matches[0], nil
}

// FindCrossLingualDuplicate returns every cluster in a different language
// than the event that scores at least threshold, best first. Clusters
// sharing the event's language tag are never returned.
func (e *Engine) FindCrossLingualDuplicate(ctx context.Context, event *domain.RawEvent, window time.Duration, threshold float64) ([]Match, error) {
	if window <= 0 {
		window = e.cfg.CrossLingualWindow
	}
	if threshold <= 0 {
		threshold = e.cfg.CrossLingualThreshold
	}
	if event.Language == "" {
		return nil, nil
	}
	q := e.query(event, window)
	q.ExcludeLanguage = event.Language

	candidates, err := e.candidates(ctx, q)
	if err != nil {
		return nil, err
	}
	return e.score(ctx, event, candidates, threshold, func(c *domain.EventCluster) bool {
		return c.Language() != event.Language
	})
}

// owner looks up the cluster that already holds eventID.
func (e *Engine) owner(ctx context.Context, eventID string) (*Match, error) {
	if e.store == nil {
		return nil, fmt.Errorf("%w: no cluster store configured", domain.ErrStoreUnavailable)
	}
	c, err := e.store.FindClusterByMember(ctx, eventID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return nil, nil
	case err != nil:
		e.logger.Warn("Membership lookup failed", "event_id", eventID, "error", err)
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return &Match{Cluster: *c, Features: Features{Vector: 1, Temporal: 1, Geographic: 1, ActorOverlap: 1, Hybrid: 1}}, nil
}

func (e *Engine) query(event *domain.RawEvent, window time.Duration) domain.CandidateQuery {
	to := event.EstimatedTimestamp
	return domain.CandidateQuery{
		From:      to.Add(-window),
		To:        to,
		Embedding: event.Embedding,
		Limit:     e.cfg.CandidateLimit,
	}
}

func (e *Engine) candidates(ctx context.Context, q domain.CandidateQuery) ([]domain.EventCluster, error) {
	if e.store == nil {
		return nil, fmt.Errorf("%w: no cluster store configured", domain.ErrStoreUnavailable)
	}
	candidates, err := e.store.FindCandidates(ctx, q)
	if err != nil {
		e.logger.Warn("Candidate lookup failed", "error", err)
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	// The window is enforced here as well as in the store.
	out := candidates[:0]
	for _, c := range candidates {
		ts := c.PrimaryEvent.EstimatedTimestamp
		if ts.Before(q.From) || ts.After(q.To) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// score compares the event with every eligible candidate in parallel and
// returns those at or above threshold, best first. Ties keep store order.
func (e *Engine) score(ctx context.Context, event *domain.RawEvent, candidates []domain.EventCluster, threshold float64, eligible func(*domain.EventCluster) bool) ([]Match, error) {
	scores := make([]Features, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxConcurrency)
	for i := range candidates {
		c := &candidates[i]
		if !eligible(c) {
			scores[i].Hybrid = -1
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			view := clusterView(c)
			scores[i] = e.Pairwise(event, &view)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var matches []Match
	for i, f := range scores {
		if f.Hybrid >= threshold {
			matches = append(matches, Match{Cluster: candidates[i], Features: f})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score() > matches[j].Score() })
	return matches, nil
}

// clusterView is the event a cluster is compared as: its primary record with
// the member centroid standing in for the embedding when one exists.
func clusterView(c *domain.EventCluster) domain.RawEvent {
	view := c.PrimaryEvent
	if len(c.Centroid) > 0 {
		view.Embedding = c.Centroid
	}
	return view
}
