package temporal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/V4T54L/argos/internal/domain"
)

// Wednesday.
var ref = time.Date(2024, time.March, 20, 12, 0, 0, 0, time.UTC)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestResolver_NoExpressions(t *testing.T) {
	res := NewResolver().Resolve(nil, ref)

	assert.True(t, res.Ambiguous)
	assert.Equal(t, ref, res.Timestamp)
	assert.Equal(t, domain.PrecisionUncertain, res.Precision)
	assert.InDelta(t, 0.3, res.Confidence, 1e-9)
	assert.Equal(t, ref.Add(-72*time.Hour), res.EarliestPossible)
	assert.Equal(t, ref, res.LatestPossible)
}

func TestResolver_SingleExpression(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		want      time.Time
		precision domain.Precision
	}{
		{"days ago", "3 days ago", ref.AddDate(0, 0, -3), domain.PrecisionRelative},
		{"word count", "two hours ago", ref.Add(-2 * time.Hour), domain.PrecisionRelative},
		{"yesterday", "yesterday", day(2024, time.March, 19), domain.PrecisionDay},
		{"today", "earlier today", day(2024, time.March, 20), domain.PrecisionDay},
		{"last weekday", "last Monday", day(2024, time.March, 18), domain.PrecisionDay},
		{"last same weekday", "last Wednesday", day(2024, time.March, 13), domain.PrecisionDay},
		{"on same weekday", "on Wednesday", day(2024, time.March, 20), domain.PrecisionDay},
		{"month day year", "March 15, 2024", day(2024, time.March, 15), domain.PrecisionDay},
		{"day month year", "15th of March 2024", day(2024, time.March, 15), domain.PrecisionDay},
		{"month day infers previous year", "December 28", day(2023, time.December, 28), domain.PrecisionDay},
		{"iso date", "2024-03-02", day(2024, time.March, 2), domain.PrecisionDay},
		{"iso datetime", "2024-03-15T10:30:00Z", time.Date(2024, time.March, 15, 10, 30, 0, 0, time.UTC), domain.PrecisionExact},
		{"month year", "February 2024", day(2024, time.February, 15), domain.PrecisionMonth},
		{"current month", "March 2024", day(2024, time.March, 15), domain.PrecisionMonth},
		{"last week", "last week", ref.AddDate(0, 0, -7), domain.PrecisionWeek},
		{"year", "in 2022", day(2022, time.July, 2), domain.PrecisionYear},
	}

	r := NewResolver()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Resolve([]domain.TimeExpression{{Text: tt.text}}, ref)
			require.False(t, res.Ambiguous)
			assert.True(t, tt.want.Equal(res.Timestamp), "got %v, want %v", res.Timestamp, tt.want)
			assert.Equal(t, tt.precision, res.Precision)
			assert.Equal(t, Confidence(tt.precision), res.Confidence)
		})
	}
}

func TestResolver_ClampsCoarsePeriodsToReference(t *testing.T) {
	res := NewResolver().Resolve([]domain.TimeExpression{{Text: "in 2024"}}, ref)
	assert.Equal(t, domain.PrecisionYear, res.Precision)
	assert.True(t, res.Timestamp.Equal(ref))
}

func TestResolver_PrefersEventReferent(t *testing.T) {
	exprs := []domain.TimeExpression{
		{Text: "2024-03-19T08:00:00Z", Refers: domain.RefersToPublication},
		{Text: "2 days ago", Refers: domain.RefersToEvent},
	}
	res := NewResolver().Resolve(exprs, ref)

	assert.Equal(t, "2 days ago", res.Expression)
	assert.Equal(t, domain.PrecisionRelative, res.Precision)
}

func TestResolver_PrefersHigherConfidenceWithinTier(t *testing.T) {
	exprs := []domain.TimeExpression{{Text: "last week"}, {Text: "yesterday"}}
	res := NewResolver().Resolve(exprs, ref)

	assert.Equal(t, "yesterday", res.Expression)
	assert.Equal(t, domain.PrecisionDay, res.Precision)
}

func TestResolver_FallsBackWhenUnparseable(t *testing.T) {
	res := NewResolver().Resolve([]domain.TimeExpression{{Text: "some time ago"}}, ref)
	assert.True(t, res.Ambiguous)
	assert.Equal(t, domain.PrecisionUncertain, res.Precision)
}

func TestInterval(t *testing.T) {
	tm := day(2024, time.March, 10)
	tests := []struct {
		p             domain.Precision
		before, after time.Duration
	}{
		{domain.PrecisionExact, 0, 0},
		{domain.PrecisionDay, 0, 24 * time.Hour},
		{domain.PrecisionWeek, 3 * 24 * time.Hour, 3 * 24 * time.Hour},
		{domain.PrecisionMonth, 15 * 24 * time.Hour, 15 * 24 * time.Hour},
		{domain.PrecisionYear, 182 * 24 * time.Hour, 182 * 24 * time.Hour},
		{domain.PrecisionRelative, 24 * time.Hour, 24 * time.Hour},
		{domain.PrecisionUncertain, 72 * time.Hour, 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.p), func(t *testing.T) {
			earliest, latest := Interval(tt.p, tm)
			assert.Equal(t, tm.Add(-tt.before), earliest)
			assert.Equal(t, tm.Add(tt.after), latest)
		})
	}
}

func TestConsistency(t *testing.T) {
	t.Run("single time", func(t *testing.T) {
		sd, score := Consistency([]time.Time{ref})
		assert.Zero(t, sd)
		assert.Equal(t, 1.0, score)
	})
	t.Run("tight agreement", func(t *testing.T) {
		_, score := Consistency([]time.Time{ref, ref.Add(2 * time.Hour)})
		assert.GreaterOrEqual(t, score, 0.9)
	})
	t.Run("moderate spread", func(t *testing.T) {
		sd, score := Consistency([]time.Time{ref, ref.Add(100 * time.Hour)})
		assert.InDelta(t, 50, sd, 1e-9)
		assert.InDelta(t, 0.575, score, 1e-9)
	})
	t.Run("wide spread", func(t *testing.T) {
		_, score := Consistency([]time.Time{ref, ref.Add(200 * time.Hour)})
		assert.Equal(t, 0.3, score)
	})
}

func TestExtract(t *testing.T) {
	text := "Published March 20, 2024. The strike occurred yesterday in Kharkiv."
	exprs := Extract(text)

	require.Len(t, exprs, 2)
	assert.Equal(t, "March 20, 2024", exprs[0].Text)
	assert.Equal(t, domain.RefersToPublication, exprs[0].Refers)
	assert.Equal(t, "yesterday", exprs[1].Text)
	assert.Equal(t, domain.RefersToEvent, exprs[1].Refers)

	res := NewResolver().ResolveText(text, ref)
	assert.Equal(t, "yesterday", res.Expression)
	assert.True(t, res.Timestamp.Equal(day(2024, time.March, 19)))
}

func TestExtract_PrefersLongestMatch(t *testing.T) {
	exprs := Extract("shelling continued the day before yesterday")
	require.Len(t, exprs, 1)
	assert.Equal(t, "day before yesterday", exprs[0].Text)
	assert.Equal(t, domain.RefersToEvent, exprs[0].Refers)
}
