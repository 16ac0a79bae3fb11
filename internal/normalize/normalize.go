// Package normalize turns the date strings found in upstream records into
// canonical UTC instants.
//
// Accepted inputs are absolute timestamps (ISO-8601 with or without a zone,
// "YYYY-MM-DD HH:MM:SS" with an optional numeric offset, bare dates) and
// relative durations such as "3 weeks ago" or cgit's bare "3 weeks". Relative text resolves against
// the clock at the moment of the call, so a value must be normalized once and
// then persisted, never normalized again.
package normalize

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Average calendar units; relative months and years are never computed with
// calendar arithmetic.
const (
	Day   = 24 * time.Hour
	Week  = 7 * Day
	Month = time.Duration(30.44 * float64(Day))
	Year  = time.Duration(365.25 * float64(Day))
)

var units = map[string]time.Duration{
	"second": time.Second,
	"sec":    time.Second,
	"minute": time.Minute,
	"min":    time.Minute,
	"hour":   time.Hour,
	"day":    Day,
	"week":   Week,
	"month":  Month,
	"year":   Year,
}

var (
	relativeRe = regexp.MustCompile(`^(?:(?:about|over|around|almost|nearly|roughly|approximately)\s+)?(\d+|an?|one)\s+(second|sec|minute|min|hour|day|week|month|year)s?(?:\s+ago)?$`)
	lastRe     = regexp.MustCompile(`^last\s+(week|month|year)$`)

	embedded = []*regexp.Regexp{
		regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}(?::\d{2}(?:\.\d+)?)?(?:Z|[+-]\d{2}:?\d{2})?`),
		regexp.MustCompile(`\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}(?: ?[+-]\d{2}:?\d{2})?`),
		regexp.MustCompile(`\d{4}-\d{2}-\d{2}`),
	}
)

// Tried in order; the first layout that parses wins.
var layouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05-0700",
	"2006-01-02 15:04:05 -07:00",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Normalizer converts textual dates into UTC instants.
type Normalizer struct {
	now func() time.Time
}

type Option func(*Normalizer)

// WithClock overrides the instant relative durations are measured from.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) { n.now = now }
}

func New(opts ...Option) *Normalizer {
	n := &Normalizer{now: time.Now}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Parse returns the UTC instant for text, or false when no strategy
// recognizes it.
func (n *Normalizer) Parse(text string) (time.Time, bool) {
	s := strings.TrimSpace(text)
	if s == "" {
		return time.Time{}, false
	}
	if t, ok := n.relative(s); ok {
		return t, true
	}
	if t, ok := Absolute(s); ok {
		return t, true
	}
	for _, re := range embedded {
		for _, m := range re.FindAllString(s, -1) {
			if t, ok := Absolute(m); ok {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// ParseValue is Parse for loosely typed record fields. Absent values (nil)
// and non-string types yield false.
func (n *Normalizer) ParseValue(v any) (time.Time, bool) {
	switch s := v.(type) {
	case string:
		return n.Parse(s)
	case *string:
		if s == nil {
			return time.Time{}, false
		}
		return n.Parse(*s)
	default:
		return time.Time{}, false
	}
}

func (n *Normalizer) relative(s string) (time.Time, bool) {
	s = strings.Join(strings.Fields(strings.ToLower(s)), " ")
	now := n.now().UTC()
	switch s {
	case "just now", "now", "today":
		return now.Truncate(time.Second), true
	case "yesterday":
		return now.Add(-Day).Truncate(time.Second), true
	}
	if m := lastRe.FindStringSubmatch(s); m != nil {
		return now.Add(-units[m[1]]).Truncate(time.Second), true
	}
	m := relativeRe.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}
	count := 1.0
	switch m[1] {
	case "a", "an", "one":
	default:
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return time.Time{}, false
		}
		count = v
	}
	d := count * float64(units[m[2]])
	if d >= math.MaxInt64 {
		return time.Time{}, false
	}
	return now.Add(-time.Duration(d)).Truncate(time.Second), true
}

// Absolute parses s with the strict absolute layouts only. A trailing "Z"
// is read as a +00:00 offset and zone-less values are taken as UTC.
func Absolute(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "Z") || strings.HasSuffix(s, "z") {
		s = strings.TrimSpace(s[:len(s)-1]) + "+00:00"
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Truncate(time.Second), true
		}
	}
	return time.Time{}, false
}

// Format renders t the way persisted documents carry dates.
func Format(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}
