package clustering

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/V4T54L/argos/internal/domain"
	"github.com/V4T54L/argos/internal/similarity"
)

// Greedy is single-pass single-link clustering: each unlabelled event seeds
// a cluster and every later unlabelled event scoring at least Threshold
// against the seed joins it.
type Greedy struct {
	sim       *similarity.Engine
	threshold float64
	workers   int
}

// NewGreedy returns the in-process clustering algorithm.
func NewGreedy(sim *similarity.Engine, threshold float64, workers int) *Greedy {
	if workers <= 0 {
		workers = 1
	}
	return &Greedy{sim: sim, threshold: threshold, workers: workers}
}

func (g *Greedy) Name() string { return "greedy" }

func (g *Greedy) Labels(ctx context.Context, events []domain.RawEvent) ([]int, error) {
	labels, _, err := g.ScoredLabels(ctx, events)
	return labels, err
}

// ScoredLabels scores each seed's row in parallel, then assigns the row
// serially in input order so no event is claimed twice. admitted holds the
// score against the seed that let each event join; seeds score 1.
func (g *Greedy) ScoredLabels(ctx context.Context, events []domain.RawEvent) (labels []int, admitted []float64, err error) {
	labels = make([]int, len(events))
	admitted = make([]float64, len(events))
	for i := range labels {
		labels[i] = -1
	}
	scores := make([]float64, len(events))
	next := 0
	for i := range events {
		if labels[i] >= 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		labels[i] = next
		admitted[i] = 1
		next++

		eg, egctx := errgroup.WithContext(ctx)
		eg.SetLimit(g.workers)
		for j := i + 1; j < len(events); j++ {
			scores[j] = -1
			if labels[j] >= 0 {
				continue
			}
			eg.Go(func() error {
				if err := egctx.Err(); err != nil {
					return err
				}
				scores[j] = g.sim.Pairwise(&events[i], &events[j]).Hybrid
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return nil, nil, err
		}
		for j := i + 1; j < len(events); j++ {
			if labels[j] < 0 && scores[j] >= g.threshold {
				labels[j] = labels[i]
				admitted[j] = scores[j]
			}
		}
	}
	return labels, admitted, nil
}
