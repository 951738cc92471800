// Package temporal turns fuzzy time expressions lifted from report text into
// an estimated timestamp with a precision, a confidence and a validity interval.
package temporal

import (
	"math"
	"time"

	"github.com/V4T54L/argos/internal/domain"
)

// Resolution is the outcome of resolving a set of time expressions.
type Resolution struct {
	Timestamp        time.Time
	Precision        domain.Precision
	Confidence       float64
	EarliestPossible time.Time
	LatestPossible   time.Time
	// Expression is the text the timestamp was resolved from, empty on fallback.
	Expression string
	// Consistency scores agreement between all event-time expressions.
	Consistency float64
	// Ambiguous is set when nothing could be parsed and the reference time was used.
	Ambiguous bool
}

// Confidence returns the base confidence of a precision level.
func Confidence(p domain.Precision) float64 {
	switch p {
	case domain.PrecisionExact:
		return 0.95
	case domain.PrecisionDay:
		return 0.85
	case domain.PrecisionRelative:
		return 0.75
	case domain.PrecisionWeek:
		return 0.6
	case domain.PrecisionMonth:
		return 0.5
	case domain.PrecisionYear:
		return 0.4
	}
	return 0.3
}

// Interval returns the [earliest, latest] bound on an event's true occurrence
// time given its estimate and precision.
func Interval(p domain.Precision, t time.Time) (time.Time, time.Time) {
	const day = 24 * time.Hour
	switch p {
	case domain.PrecisionExact:
		return t, t
	case domain.PrecisionDay:
		return t, t.Add(day)
	case domain.PrecisionWeek:
		return t.Add(-3 * day), t.Add(3 * day)
	case domain.PrecisionMonth:
		return t.Add(-15 * day), t.Add(15 * day)
	case domain.PrecisionYear:
		return t.Add(-182 * day), t.Add(182 * day)
	case domain.PrecisionRelative:
		return t.Add(-day), t.Add(day)
	}
	return t.Add(-72 * time.Hour), t
}

// Consistency computes the standard deviation in hours of a set of candidate
// event times and maps it onto a [0.3,1] agreement score. Fewer than two
// times are trivially consistent.
func Consistency(times []time.Time) (stddevHours, score float64) {
	if len(times) < 2 {
		return 0, 1
	}
	var mean float64
	hours := make([]float64, len(times))
	for i, t := range times {
		hours[i] = float64(t.Unix()) / 3600
		mean += hours[i]
	}
	mean /= float64(len(hours))
	var variance float64
	for _, h := range hours {
		variance += (h - mean) * (h - mean)
	}
	stddevHours = math.Sqrt(variance / float64(len(hours)))

	switch {
	case stddevHours < 24:
		score = 1 - 0.1*stddevHours/24
	case stddevHours > 72:
		score = 0.3
	default:
		score = 0.9 - 0.6*(stddevHours-24)/48
	}
	return stddevHours, score
}

// Resolver resolves time expressions against a reference timestamp. The zero
// value is ready to use.
type Resolver struct{}

// NewResolver returns a Resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

type candidate struct {
	expr      domain.TimeExpression
	t         time.Time
	precision domain.Precision
	order     int
}

func (c candidate) tier() int {
	switch c.expr.Refers {
	case domain.RefersToEvent:
		return 2
	case domain.RefersToPublication:
		return 0
	}
	return 1
}

// Resolve picks the best expression. Expressions referring to the event
// itself outrank unmarked ones, which outrank publication-time ones; within
// a tier the most precise wins, then the earliest listed.
func (r *Resolver) Resolve(exprs []domain.TimeExpression, ref time.Time) Resolution {
	var (
		best      *candidate
		eventTime []time.Time
	)
	for i, e := range exprs {
		t, p, ok := parse(e.Text, ref)
		if !ok {
			continue
		}
		c := candidate{expr: e, t: t, precision: p, order: i}
		if c.tier() > 0 {
			eventTime = append(eventTime, t)
		}
		if best == nil || better(c, *best) {
			best = &c
		}
	}

	if best == nil {
		earliest, latest := Interval(domain.PrecisionUncertain, ref)
		return Resolution{
			Timestamp:        ref,
			Precision:        domain.PrecisionUncertain,
			Confidence:       Confidence(domain.PrecisionUncertain),
			EarliestPossible: earliest,
			LatestPossible:   latest,
			Consistency:      1,
			Ambiguous:        true,
		}
	}

	_, consistency := Consistency(eventTime)
	earliest, latest := Interval(best.precision, best.t)
	return Resolution{
		Timestamp:        best.t,
		Precision:        best.precision,
		Confidence:       Confidence(best.precision),
		EarliestPossible: earliest,
		LatestPossible:   latest,
		Expression:       best.expr.Text,
		Consistency:      consistency,
	}
}

// ResolveText extracts expressions from free text and resolves them.
func (r *Resolver) ResolveText(text string, ref time.Time) Resolution {
	return r.Resolve(Extract(text), ref)
}

func better(a, b candidate) bool {
	if a.tier() != b.tier() {
		return a.tier() > b.tier()
	}
	ca, cb := Confidence(a.precision), Confidence(b.precision)
	if ca != cb {
		return ca > cb
	}
	return a.order < b.order
}
