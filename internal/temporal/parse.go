package temporal

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/V4T54L/argos/internal/domain"
)

const monthNames = `january|february|march|april|may|june|july|august|september|october|november|december|` +
	`jan|feb|mar|apr|jun|jul|aug|sept|sep|oct|nov|dec`

const weekdayNames = `monday|tuesday|wednesday|thursday|friday|saturday|sunday`

var months = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may": time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sept": time.September, "sep": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
	"thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday,
}

var numberWords = map[string]int{
	"a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10, "several": 3, "a few": 3,
}

type rule struct {
	re      *regexp.Regexp
	resolve func(m []string, ref time.Time) (time.Time, domain.Precision, bool)
}

// rules are tried in order; the first that resolves wins.
var rules = []rule{
	{regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})[T ](\d{1,2}):(\d{2})(?::(\d{2}))?(Z|[+-]\d{2}:?\d{2})?`), resolveISODateTime},
	{regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`), resolveISODate},
	{regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)?\s+(?:of\s+)?(` + monthNames + `)\.?,?\s+(\d{4})\b`), resolveDayMonthYear},
	{regexp.MustCompile(`(?i)\b(` + monthNames + `)\.?\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(\d{4})\b`), resolveMonthDayYear},
	{regexp.MustCompile(`(?i)\b(` + monthNames + `)\s+(?:of\s+)?(\d{4})\b`), resolveMonthYear},
	{regexp.MustCompile(`(?i)\b(` + monthNames + `)\.?\s+(\d{1,2})(?:st|nd|rd|th)?\b`), resolveMonthDay},
	{regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)?\s+(?:of\s+)?(` + monthNames + `)\b`), resolveDayMonth},
	{regexp.MustCompile(`(?i)\b(\d+|a few|an|a|one|two|three|four|five|six|seven|eight|nine|ten|several)\s+(minute|hour|day|week|month|year)s?\s+ago\b`), resolveAgo},
	{regexp.MustCompile(`(?i)\b(day before yesterday|earlier today|this morning|this afternoon|this evening|last night|yesterday|tonight|today)\b`), resolveDayWord},
	{regexp.MustCompile(`(?i)\b(last|on|this past|past)\s+(` + weekdayNames + `)\b`), resolveWeekday},
	{regexp.MustCompile(`(?i)\b(last|this|past)\s+(week|month|year)\b`), resolveRelativeUnit},
	{regexp.MustCompile(`(?i)\b(?:in|during|since|early|late|mid)[\s-]+((?:19|20)\d{2})\b`), resolveYear},
}

// parse resolves a single expression.
func parse(text string, ref time.Time) (time.Time, domain.Precision, bool) {
	for _, r := range rules {
		m := r.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if t, p, ok := r.resolve(m, ref); ok {
			return clampToRef(t, p, ref), p, true
		}
	}
	return time.Time{}, "", false
}

// Coarse periods that contain the reference time resolve no later than it.
func clampToRef(t time.Time, p domain.Precision, ref time.Time) time.Time {
	switch p {
	case domain.PrecisionWeek, domain.PrecisionMonth, domain.PrecisionYear:
		if t.After(ref) {
			return ref
		}
	}
	return t
}

var (
	publicationCues = []string{"published", "posted", "updated", "dated", "as of", "reported", "report from", "press release"}
	eventCues       = []string{
		"occurred", "happened", "took place", "struck", "attack", "killed", "launched", "began",
		"started", "fired", "clash", "shelling", "explosion", "hit", "strike", "erupted",
	}
)

const cueWindow = 48

// Extract finds time expressions in free text and classifies each by the
// nearest preceding cue word as referring to the event or to publication.
func Extract(text string) []domain.TimeExpression {
	type span struct{ start, end, rule int }
	var spans []span
	for i, r := range rules {
		for _, loc := range r.re.FindAllStringIndex(text, -1) {
			spans = append(spans, span{loc[0], loc[1], i})
		}
	}
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		if li, lj := spans[i].end-spans[i].start, spans[j].end-spans[j].start; li != lj {
			return li > lj
		}
		return spans[i].rule < spans[j].rule
	})

	lower := strings.ToLower(text)
	var out []domain.TimeExpression
	end := -1
	for _, s := range spans {
		if s.start < end {
			continue
		}
		end = s.end
		out = append(out, domain.TimeExpression{
			Text:   text[s.start:s.end],
			Refers: referent(lower, s.start),
		})
	}
	return out
}

func referent(lower string, start int) domain.Referent {
	from := start - cueWindow
	if from < 0 {
		from = 0
	}
	window := lower[from:start]
	pub, evt := lastCue(window, publicationCues), lastCue(window, eventCues)
	switch {
	case pub < 0 && evt < 0:
		return domain.RefersToUnknown
	case pub > evt:
		return domain.RefersToPublication
	}
	return domain.RefersToEvent
}

func lastCue(window string, cues []string) int {
	best := -1
	for _, c := range cues {
		if i := strings.LastIndex(window, c); i > best {
			best = i
		}
	}
	return best
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func validDate(y int, m time.Month, d int) bool {
	if m < time.January || m > time.December || d < 1 {
		return false
	}
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Month() == m
}

func resolveISODateTime(m []string, ref time.Time) (time.Time, domain.Precision, bool) {
	y, _ := strconv.Atoi(m[1])
	mo, _ := strconv.Atoi(m[2])
	d, _ := strconv.Atoi(m[3])
	hh, _ := strconv.Atoi(m[4])
	mm, _ := strconv.Atoi(m[5])
	ss := 0
	if m[6] != "" {
		ss, _ = strconv.Atoi(m[6])
	}
	if !validDate(y, time.Month(mo), d) || hh > 23 || mm > 59 || ss > 59 {
		return time.Time{}, "", false
	}
	loc := ref.Location()
	switch tz := m[7]; {
	case tz == "Z":
		loc = time.UTC
	case tz != "":
		sign := 1
		if tz[0] == '-' {
			sign = -1
		}
		digits := strings.ReplaceAll(tz[1:], ":", "")
		oh, _ := strconv.Atoi(digits[:2])
		om, _ := strconv.Atoi(digits[2:])
		loc = time.FixedZone(tz, sign*(oh*3600+om*60))
	}
	return time.Date(y, time.Month(mo), d, hh, mm, ss, 0, loc), domain.PrecisionExact, true
}

func resolveISODate(m []string, ref time.Time) (time.Time, domain.Precision, bool) {
	y, _ := strconv.Atoi(m[1])
	mo, _ := strconv.Atoi(m[2])
	d, _ := strconv.Atoi(m[3])
	if !validDate(y, time.Month(mo), d) {
		return time.Time{}, "", false
	}
	return time.Date(y, time.Month(mo), d, 0, 0, 0, 0, ref.Location()), domain.PrecisionDay, true
}

func resolveDayMonthYear(m []string, ref time.Time) (time.Time, domain.Precision, bool) {
	return dayPrecision(m[1], m[2], m[3], ref)
}

func resolveMonthDayYear(m []string, ref time.Time) (time.Time, domain.Precision, bool) {
	return dayPrecision(m[2], m[1], m[3], ref)
}

func resolveMonthDay(m []string, ref time.Time) (time.Time, domain.Precision, bool) {
	return dayPrecision(m[2], m[1], "", ref)
}

func resolveDayMonth(m []string, ref time.Time) (time.Time, domain.Precision, bool) {
	return dayPrecision(m[1], m[2], "", ref)
}

// dayPrecision builds a calendar date. Without a year the most recent
// occurrence not after the reference day is used.
func dayPrecision(day, month, year string, ref time.Time) (time.Time, domain.Precision, bool) {
	d, _ := strconv.Atoi(day)
	mo, ok := months[strings.ToLower(month)]
	if !ok {
		return time.Time{}, "", false
	}
	y := ref.Year()
	if year != "" {
		y, _ = strconv.Atoi(year)
	}
	if !validDate(y, mo, d) {
		return time.Time{}, "", false
	}
	t := time.Date(y, mo, d, 0, 0, 0, 0, ref.Location())
	if year == "" && t.After(startOfDay(ref)) {
		t = t.AddDate(-1, 0, 0)
	}
	return t, domain.PrecisionDay, true
}

func resolveMonthYear(m []string, ref time.Time) (time.Time, domain.Precision, bool) {
	mo, ok := months[strings.ToLower(m[1])]
	if !ok {
		return time.Time{}, "", false
	}
	y, _ := strconv.Atoi(m[2])
	return time.Date(y, mo, 15, 0, 0, 0, 0, ref.Location()), domain.PrecisionMonth, true
}

func resolveYear(m []string, ref time.Time) (time.Time, domain.Precision, bool) {
	y, _ := strconv.Atoi(m[1])
	return time.Date(y, time.July, 2, 0, 0, 0, 0, ref.Location()), domain.PrecisionYear, true
}

func resolveAgo(m []string, ref time.Time) (time.Time, domain.Precision, bool) {
	word := strings.ToLower(m[1])
	n, ok := numberWords[word]
	if !ok {
		var err error
		if n, err = strconv.Atoi(word); err != nil {
			return time.Time{}, "", false
		}
	}
	switch strings.ToLower(m[2]) {
	case "minute":
		return ref.Add(-time.Duration(n) * time.Minute), domain.PrecisionRelative, true
	case "hour":
		return ref.Add(-time.Duration(n) * time.Hour), domain.PrecisionRelative, true
	case "day":
		return ref.AddDate(0, 0, -n), domain.PrecisionRelative, true
	case "week":
		return ref.AddDate(0, 0, -7*n), domain.PrecisionWeek, true
	case "month":
		return ref.AddDate(0, -n, 0), domain.PrecisionMonth, true
	}
	return ref.AddDate(-n, 0, 0), domain.PrecisionYear, true
}

func resolveDayWord(m []string, ref time.Time) (time.Time, domain.Precision, bool) {
	today := startOfDay(ref)
	switch strings.ToLower(m[1]) {
	case "day before yesterday":
		return today.AddDate(0, 0, -2), domain.PrecisionDay, true
	case "yesterday", "last night":
		return today.AddDate(0, 0, -1), domain.PrecisionDay, true
	}
	return today, domain.PrecisionDay, true
}

func resolveWeekday(m []string, ref time.Time) (time.Time, domain.Precision, bool) {
	wd, ok := weekdays[strings.ToLower(m[2])]
	if !ok {
		return time.Time{}, "", false
	}
	back := (int(ref.Weekday()) - int(wd) + 7) % 7
	if back == 0 && !strings.EqualFold(m[1], "on") {
		back = 7
	}
	return startOfDay(ref).AddDate(0, 0, -back), domain.PrecisionDay, true
}

func resolveRelativeUnit(m []string, ref time.Time) (time.Time, domain.Precision, bool) {
	last := !strings.EqualFold(m[1], "this")
	switch strings.ToLower(m[2]) {
	case "week":
		if last {
			return ref.AddDate(0, 0, -7), domain.PrecisionWeek, true
		}
		return ref, domain.PrecisionWeek, true
	case "month":
		if last {
			return ref.AddDate(0, -1, 0), domain.PrecisionMonth, true
		}
		return ref, domain.PrecisionMonth, true
	}
	if last {
		return ref.AddDate(-1, 0, 0), domain.PrecisionYear, true
	}
	return ref, domain.PrecisionYear, true
}
