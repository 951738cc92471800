package clustering

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"

	"github.com/V4T54L/argos/internal/domain"
	"github.com/V4T54L/argos/internal/merge"
)

// NewCluster opens a cluster seeded by event. Ids the event already carries
// as merged members count as members of the new cluster.
func NewCluster(event domain.RawEvent, now time.Time) domain.EventCluster {
	c := domain.EventCluster{
		ClusterID:          uuid.NewString(),
		PrimaryEvent:       event.Clone(),
		MemberEventIDs:     []string{event.ID},
		MemberSimilarities: []float64{1},
		CreatedAt:          now,
		LastUpdatedAt:      now,
	}
	for _, id := range event.MergedEventIDs {
		if !c.HasMember(id) {
			c.MemberEventIDs = append(c.MemberEventIDs, id)
			c.MemberSimilarities = append(c.MemberSimilarities, 1)
		}
	}
	if len(event.Embedding) > 0 {
		c.Centroid = append([]float64(nil), event.Embedding...)
		c.EmbeddedCount = 1
	}
	c.Languages = addLanguage(nil, event.Language)
	refresh(&c)
	return c
}

// Absorb returns a copy of c with event merged into its primary record.
// It returns domain.ErrAlreadyMember when the event is already a member.
func Absorb(c domain.EventCluster, event domain.RawEvent, similarity float64, now time.Time) (domain.EventCluster, error) {
	if c.HasMember(event.ID) {
		return domain.EventCluster{}, domain.ErrAlreadyMember
	}
	merged, err := merge.Merge(c.PrimaryEvent, event)
	if err != nil {
		return domain.EventCluster{}, fmt.Errorf("merge %s into %s: %w", event.ID, c.ClusterID, err)
	}

	out := c.Clone()
	out.PrimaryEvent = merged
	out.MemberEventIDs = append(out.MemberEventIDs, event.ID)
	out.MemberSimilarities = append(out.MemberSimilarities, math.Max(0, math.Min(1, similarity)))
	addToCentroid(&out, event.Embedding)
	out.Languages = addLanguage(out.Languages, event.Language)
	out.LastUpdatedAt = now
	refresh(&out)
	return out, nil
}

// Confidence scores a cluster: corroboration by many sources and high
// internal similarity both raise it. A singleton's confidence is its own
// source reliability.
func Confidence(c *domain.EventCluster) float64 {
	if len(c.MemberEventIDs) <= 1 {
		return clamp01(c.PrimaryEvent.SourceReliability)
	}
	return math.Min(1, 0.5+0.1*float64(c.SourceCount)+0.2*averageSimilarity(c))
}

// averageSimilarity is the mean join similarity of every member but the seed.
func averageSimilarity(c *domain.EventCluster) float64 {
	if len(c.MemberSimilarities) < 2 {
		return 0
	}
	return floats.Sum(c.MemberSimilarities[1:]) / float64(len(c.MemberSimilarities)-1)
}

// Diversity is the fraction of a cluster's reports that came from distinct
// outlets.
func Diversity(c *domain.EventCluster) float64 {
	if c.SourceCount == 0 {
		return 0
	}
	unique := len(c.PrimaryEvent.SourceList())
	return clamp01(float64(unique) / float64(c.SourceCount))
}

// Centroid is the arithmetic mean of the given vectors. Vectors whose length
// differs from the first are ignored.
func Centroid(vectors [][]float64) []float64 {
	var (
		sum []float64
		n   int
	)
	for _, v := range vectors {
		if len(v) == 0 {
			continue
		}
		if sum == nil {
			sum = make([]float64, len(v))
		}
		if len(v) != len(sum) {
			continue
		}
		floats.Add(sum, v)
		n++
	}
	if n == 0 {
		return nil
	}
	floats.Scale(1/float64(n), sum)
	return sum
}

// addToCentroid folds v into the running member mean.
func addToCentroid(c *domain.EventCluster, v []float64) {
	if len(v) == 0 {
		return
	}
	if len(c.Centroid) == 0 {
		c.Centroid = append([]float64(nil), v...)
		c.EmbeddedCount = 1
		return
	}
	if len(v) != len(c.Centroid) {
		return
	}
	k := float64(c.EmbeddedCount)
	floats.Scale(k/(k+1), c.Centroid)
	floats.AddScaled(c.Centroid, 1/(k+1), v)
	c.EmbeddedCount++
}

func refresh(c *domain.EventCluster) {
	c.SourceCount = len(c.MemberEventIDs)
	c.SourceDiversityScore = Diversity(c)
	c.Confidence = Confidence(c)
}

func addLanguage(langs []string, lang string) []string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" {
		return langs
	}
	for _, l := range langs {
		if l == lang {
			return langs
		}
	}
	return append(langs, lang)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
