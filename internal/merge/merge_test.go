package merge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/V4T54L/argos/internal/domain"
)

func intp(v int) *int { return &v }

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func primaryEvent() domain.RawEvent {
	return domain.RawEvent{
		ID:                 "a",
		EstimatedTimestamp: t0,
		Precision:          domain.PrecisionDay,
		TimeConfidence:     0.85,
		LocationName:       "Kyiv",
		Country:            "Ukraine",
		PrimaryActors:      []string{"Russia"},
		EventType:          domain.EventMissileStrike,
		Casualties:         domain.Casualties{Killed: intp(5)},
		Embedding:          []float64{1, 0},
		SourceName:         "Kyiv Independent",
		SourceReliability:  0.8,
		Language:           "en",
	}
}

func TestMerge(t *testing.T) {
	primary := primaryEvent()
	event := domain.RawEvent{
		ID:                 "b",
		EstimatedTimestamp: t0.Add(2 * time.Hour),
		Precision:          domain.PrecisionExact,
		TimeConfidence:     0.95,
		LocationName:       "Kyiv",
		Country:            "Ukraine",
		Coordinates:        &domain.Coordinates{Lat: 50.45, Lng: 30.52},
		PrimaryActors:      []string{"Russian Forces", "Ukraine"},
		Casualties:         domain.Casualties{Killed: intp(3), Wounded: intp(12)},
		SourceName:         "Ukrainska Pravda",
		SourceReliability:  0.7,
		Language:           "uk",
	}

	merged, err := Merge(primary, event)
	require.NoError(t, err)

	assert.Equal(t, "a", merged.ID)
	assert.Equal(t, []string{"b"}, merged.MergedEventIDs)
	assert.Equal(t, []string{"Russia", "Ukraine"}, merged.PrimaryActors)
	assert.Equal(t, 5, *merged.Casualties.Killed)
	assert.Equal(t, 12, *merged.Casualties.Wounded)
	require.Len(t, merged.Sources, 2)
	assert.InDelta(t, 1-0.2*0.3, merged.SourceReliability, 1e-9)

	// Higher-confidence time and location come from the new event.
	assert.Equal(t, event.EstimatedTimestamp, merged.EstimatedTimestamp)
	assert.Equal(t, domain.PrecisionExact, merged.Precision)
	require.NotNil(t, merged.Coordinates)
	assert.Equal(t, 50.45, merged.Coordinates.Lat)
	assert.Equal(t, []float64{1, 0}, merged.Embedding)

	t.Run("inputs are not mutated", func(t *testing.T) {
		assert.Empty(t, primary.MergedEventIDs)
		assert.Empty(t, primary.Sources)
		assert.Equal(t, []string{"Russia"}, primary.PrimaryActors)
		assert.Nil(t, primary.Coordinates)
		assert.Equal(t, 3, *event.Casualties.Killed)

		*merged.Casualties.Killed = 99
		merged.Coordinates.Lat = 0
		assert.Equal(t, 5, *primary.Casualties.Killed)
		assert.Equal(t, 50.45, event.Coordinates.Lat)
	})
}

func TestMerge_Idempotent(t *testing.T) {
	primary := primaryEvent()
	event := primaryEvent()
	event.ID = "b"
	event.SourceName = "Reuters"

	merged, err := Merge(primary, event)
	require.NoError(t, err)

	_, err = Merge(merged, event)
	assert.ErrorIs(t, err, domain.ErrAlreadyMember)

	_, err = Merge(merged, primary)
	assert.ErrorIs(t, err, domain.ErrAlreadyMember)
}

func TestMerge_DeduplicatesSources(t *testing.T) {
	primary := primaryEvent()
	event := primaryEvent()
	event.ID = "b"
	event.SourceName = "kyiv independent"
	event.SourceReliability = 0.9

	merged, err := Merge(primary, event)
	require.NoError(t, err)

	require.Len(t, merged.Sources, 1)
	assert.Equal(t, 0.9, merged.Sources[0].Reliability)
	assert.InDelta(t, 0.9, merged.SourceReliability, 1e-12)
}

func TestMerge_KeepsHigherConfidenceTime(t *testing.T) {
	primary := primaryEvent()
	event := primaryEvent()
	event.ID = "b"
	event.SourceName = "Reuters"
	event.EstimatedTimestamp = t0.Add(-72 * time.Hour)
	event.Precision = domain.PrecisionUncertain
	event.TimeConfidence = 0.3
	event.Embedding = nil

	merged, err := Merge(primary, event)
	require.NoError(t, err)

	assert.Equal(t, t0, merged.EstimatedTimestamp)
	assert.Equal(t, domain.PrecisionDay, merged.Precision)
	assert.Equal(t, []float64{1, 0}, merged.Embedding)
}

func TestMerge_NilCasualties(t *testing.T) {
	primary := primaryEvent()
	primary.Casualties = domain.Casualties{}
	event := primaryEvent()
	event.ID = "b"
	event.SourceName = "Reuters"
	event.Casualties = domain.Casualties{Wounded: intp(0)}

	merged, err := Merge(primary, event)
	require.NoError(t, err)

	assert.Nil(t, merged.Casualties.Killed)
	require.NotNil(t, merged.Casualties.Wounded)
	assert.Equal(t, 0, *merged.Casualties.Wounded)
}

func TestReliability(t *testing.T) {
	assert.Zero(t, Reliability(nil))
	assert.InDelta(t, 0.8, Reliability([]domain.SourceRef{{Name: "a", Reliability: 0.8}}), 1e-12)
	assert.Equal(t, MaxReliability, Reliability([]domain.SourceRef{{Reliability: 1}, {Reliability: 0.9}}))
}
