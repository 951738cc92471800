package similarity

import (
	"math"
	"strings"
	"time"
	"unicode"

	"gonum.org/v1/gonum/floats"

	"github.com/V4T54L/argos/internal/domain"
)

// Features is the per-feature breakdown of a pairwise comparison.
type Features struct {
	Vector       float64 `json:"vector"`
	Temporal     float64 `json:"temporal"`
	Geographic   float64 `json:"geographic"`
	ActorOverlap float64 `json:"actor_overlap"`
	Hybrid       float64 `json:"hybrid"`
}

// Cosine returns the cosine similarity of a and b, or 0 when either is
// empty, their lengths differ, or a component is not finite.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	na, nb := floats.Dot(a, a), floats.Dot(b, b)
	if na == 0 || nb == 0 {
		return 0
	}
	cos := floats.Dot(a, b) / math.Sqrt(na*nb)
	if math.IsNaN(cos) || math.IsInf(cos, 0) {
		return 0
	}
	return math.Max(-1, math.Min(1, cos))
}

// Temporal decays linearly from 1 at zero separation to 0 at window.
func Temporal(a, b time.Time, window time.Duration) float64 {
	if a.IsZero() || b.IsZero() || window <= 0 {
		return 0
	}
	apart := math.Abs(a.Sub(b).Hours())
	return math.Max(0, 1-apart/window.Hours())
}

// Jaccard is the Jaccard similarity of two actor lists after normalization.
// Two empty lists score 0: absence of actors is not evidence of sameness.
func Jaccard(a, b []string) float64 {
	sa, sb := actorSet(a), actorSet(b)
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}
	inter := 0
	for k := range sa {
		if _, ok := sb[k]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	return float64(inter) / float64(union)
}

func actorSet(actors []string) map[string]struct{} {
	set := make(map[string]struct{}, len(actors))
	for _, a := range actors {
		if n := NormalizeActor(a); n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}

// Generic organisational words dropped from the end of actor names so that
// "Russian Forces" and "Russia" resolve to the same actor.
var actorSuffixes = map[string]bool{
	"forces": true, "force": true, "army": true, "military": true, "troops": true,
	"government": true, "authorities": true, "soldiers": true, "armed": true,
	"regime": true, "officials": true, "militia": true,
}

var actorAliases = map[string]string{
	"russian": "russia", "russians": "russia", "russian federation": "russia",
	"ukrainian": "ukraine", "ukrainians": "ukraine",
	"israeli": "israel", "idf": "israel", "israel defense": "israel",
	"palestinian": "palestine", "iranian": "iran", "syrian": "syria",
	"turkish": "turkey", "chinese": "china", "sudanese": "sudan",
	"yemeni": "yemen", "lebanese": "lebanon", "iraqi": "iraq",
	"afghan": "afghanistan", "pakistani": "pakistan", "indian": "india",
	"american": "united states", "us": "united states", "usa": "united states",
	"british": "united kingdom", "uk": "united kingdom",
	"houthi": "houthis", "ansar allah": "houthis",
	"rsf": "rapid support", "rapid support": "rapid support",
	"saf": "sudan",
}

// NormalizeActor canonicalizes an actor name: case and punctuation are
// folded, generic organisational suffixes are dropped and demonyms are
// mapped to the country they denote.
func NormalizeActor(s string) string {
	s = strings.ReplaceAll(strings.ToLower(s), ".", "")
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, s)
	words := strings.Fields(s)
	if len(words) > 0 && words[0] == "the" {
		words = words[1:]
	}
	full := strings.Join(words, " ")
	for len(words) > 1 && actorSuffixes[words[len(words)-1]] {
		words = words[:len(words)-1]
	}
	if len(words) == 1 && actorSuffixes[words[0]] {
		return full
	}
	name := strings.Join(words, " ")
	if alias, ok := actorAliases[name]; ok {
		return alias
	}
	return name
}

var placeAliases = map[string]string{
	"kiev": "kyiv", "kharkov": "kharkiv", "odessa": "odesa", "lvov": "lviv",
	"nikolaev": "mykolaiv", "mykolayiv": "mykolaiv", "zaporozhye": "zaporizhzhia",
	"dnepr": "dnipro", "dnipropetrovsk": "dnipro", "artemovsk": "bakhmut",
	"gaza city": "gaza", "al quds": "jerusalem", "halab": "aleppo",
	"rangoon": "yangon", "bombay": "mumbai", "sanaa": "sana a",
}

func normalizePlace(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

func canonicalPlace(s string) string {
	if alias, ok := placeAliases[s]; ok {
		return alias
	}
	return s
}

// Geographic grades co-location: exact name match 1.0, alias match 0.8,
// substring match or coordinates within nearbyKm 0.7, same country 0.4.
func Geographic(a, b *domain.RawEvent, nearbyKm float64) float64 {
	na, nb := normalizePlace(a.LocationName), normalizePlace(b.LocationName)
	if na != "" && nb != "" {
		switch {
		case na == nb:
			return 1.0
		case canonicalPlace(na) == canonicalPlace(nb):
			return 0.8
		case strings.Contains(na, nb) || strings.Contains(nb, na):
			return 0.7
		}
	}
	if a.Coordinates != nil && b.Coordinates != nil && haversineKm(*a.Coordinates, *b.Coordinates) <= nearbyKm {
		return 0.7
	}
	if za := a.ZoneID(); za != "" && za == b.ZoneID() {
		return 0.4
	}
	return 0
}

const earthRadiusKm = 6371.0

func haversineKm(a, b domain.Coordinates) float64 {
	rad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat, dLng := rad(b.Lat-a.Lat), rad(b.Lng-a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(rad(a.Lat))*math.Cos(rad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// hybrid is the weighted mean of the features, clamped to [0,1].
func (w Weights) hybrid(f Features) float64 {
	s := w.sum()
	if s == 0 {
		return 0
	}
	h := (w.Vector*f.Vector + w.Temporal*f.Temporal + w.Geographic*f.Geographic + w.Actor*f.ActorOverlap) / s
	return math.Max(0, math.Min(1, h))
}
