package clustering

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/V4T54L/argos/internal/domain"
)

var (
	discard = slog.New(slog.NewTextHandler(io.Discard, nil))
	t0      = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)

func intp(v int) *int { return &v }

func event(id string, ts time.Time, emb []float64) domain.RawEvent {
	return domain.RawEvent{
		ID:                 id,
		EstimatedTimestamp: ts,
		Precision:          domain.PrecisionExact,
		TimeConfidence:     0.9,
		LocationName:       "Kyiv",
		Country:            "Ukraine",
		PrimaryActors:      []string{"Russia"},
		EventType:          domain.EventMissileStrike,
		Casualties:         domain.Casualties{Killed: intp(5)},
		Embedding:          emb,
		SourceName:         "source-" + id,
		SourceReliability:  0.7,
		Language:           "en",
	}
}

func TestNewCluster(t *testing.T) {
	e := event("a", t0, []float64{1, 0})
	c := NewCluster(e, t0)

	assert.NotEmpty(t, c.ClusterID)
	assert.Equal(t, []string{"a"}, c.MemberEventIDs)
	assert.Equal(t, 1, c.SourceCount)
	assert.Equal(t, 1.0, c.SourceDiversityScore)
	assert.Equal(t, 0.7, c.Confidence, "singleton confidence is source reliability")
	assert.Equal(t, []float64{1, 0}, c.Centroid)
	assert.Equal(t, []string{"en"}, c.Languages)

	c.Centroid[0] = 5
	assert.Equal(t, 1.0, e.Embedding[0], "cluster must not alias the event's embedding")
}

func TestNewCluster_FromMergedRecord(t *testing.T) {
	e := event("a", t0, nil)
	e.MergedEventIDs = []string{"b", "c"}

	c := NewCluster(e, t0)

	assert.Equal(t, []string{"a", "b", "c"}, c.MemberEventIDs)
	assert.Equal(t, 3, c.SourceCount)
	assert.True(t, c.HasMember("c"))
}

func TestAbsorb(t *testing.T) {
	c := NewCluster(event("a", t0, []float64{1, 0}), t0)
	later := t0.Add(time.Hour)

	b := event("b", t0.Add(time.Hour), []float64{0, 1})
	b.Language = "uk"
	c2, err := Absorb(c, b, 0.8, later)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, c2.MemberEventIDs)
	assert.Equal(t, []string{"b"}, c2.PrimaryEvent.MergedEventIDs)
	assert.Equal(t, 2, c2.SourceCount)
	assert.Equal(t, 1.0, c2.SourceDiversityScore)
	assert.InDelta(t, 0.5+0.2+0.2*0.8, c2.Confidence, 1e-9)
	assert.InDeltaSlice(t, []float64{0.5, 0.5}, c2.Centroid, 1e-12)
	assert.Equal(t, []string{"en", "uk"}, c2.Languages)
	assert.Equal(t, later, c2.LastUpdatedAt)
	assert.Equal(t, t0, c2.CreatedAt)

	// The input cluster is untouched.
	assert.Equal(t, []string{"a"}, c.MemberEventIDs)
	assert.Equal(t, []float64{1, 0}, c.Centroid)

	c3, err := Absorb(c2, event("c", t0, []float64{1, 1}), 0.9, later)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{2.0 / 3, 2.0 / 3}, c3.Centroid, 1e-12)
	assert.InDeltaSlice(t, Centroid([][]float64{{1, 0}, {0, 1}, {1, 1}}), c3.Centroid, 1e-12)
	assert.InDelta(t, 0.5+0.3+0.2*0.85, c3.Confidence, 1e-9)

	t.Run("idempotent", func(t *testing.T) {
		_, err := Absorb(c3, b, 0.8, later)
		assert.ErrorIs(t, err, domain.ErrAlreadyMember)
	})
}

func TestConfidence_Capped(t *testing.T) {
	c := domain.EventCluster{
		MemberEventIDs:     []string{"a", "b", "c", "d", "e", "f"},
		MemberSimilarities: []float64{1, 0.9, 0.9, 0.9, 0.9, 0.9},
		SourceCount:        6,
	}
	assert.Equal(t, 1.0, Confidence(&c))
}

func TestDiversity_RepeatedOutlet(t *testing.T) {
	c := NewCluster(event("a", t0, nil), t0)
	b := event("b", t0, nil)
	b.SourceName = "source-a"

	c2, err := Absorb(c, b, 0.9, t0)
	require.NoError(t, err)

	assert.Equal(t, 2, c2.SourceCount)
	assert.Equal(t, 0.5, c2.SourceDiversityScore)
}

func TestCentroid(t *testing.T) {
	assert.Nil(t, Centroid(nil))
	assert.Equal(t, []float64{2, 3}, Centroid([][]float64{{1, 2}, nil, {3, 4}, {9}}))
}
