// Package analytics derives the time-bucketed report from the per-source
// event stores. Nothing here is persisted state; the report is rebuilt from
// scratch on every invocation.
package analytics

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aheev/my-portfolio/internal/model"
	"github.com/aheev/my-portfolio/internal/normalize"
	"github.com/aheev/my-portfolio/internal/store"
)

// FileName is the report document written next to the source stores.
const FileName = "analytics.json"

const (
	DefaultBuckets = 24
	DefaultRecent  = 10

	// Other absorbs articles that carry no tags.
	Other = "other"
)

// Width is the size of one bucket.
type Width int

const (
	Month Width = iota // key YYYY-MM
	Day                // key YYYY-MM-DD
)

func (w Width) key(t time.Time) string {
	if w == Day {
		return t.Format("2006-01-02")
	}
	return t.Format("2006-01")
}

func (w Width) floor(t time.Time) time.Time {
	t = t.UTC()
	if w == Day {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func (w Width) step(t time.Time, n int) time.Time {
	if w == Day {
		return t.AddDate(0, 0, n)
	}
	return t.AddDate(0, n, 0)
}

// ParseWidth accepts "month" or "day"; anything else is an error.
func ParseWidth(s string) (Width, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "month", "months":
		return Month, nil
	case "day", "days":
		return Day, nil
	}
	return Month, fmt.Errorf("unknown bucket width %q", s)
}

type Options struct {
	Months int       // number of trailing buckets, whatever the width
	Width  Width
	Now    time.Time // fallback window end when no event has a date
	Recent int       // size of the recent list
}

type Timeline struct {
	Earliest *string `json:"earliest"`
	Latest   *string `json:"latest"`
}

type RecentEvent struct {
	Source string  `json:"source"`
	Title  string  `json:"title"`
	URL    string  `json:"url"`
	Date   *string `json:"date"`
}

// Report is the aggregate document. Series holds one count array per source
// key, each the same length as Months; they are emitted as top-level fields.
type Report struct {
	Months        []string
	Series        map[string][]int
	TotalPerMonth []int
	Totals        map[string]int
	TopRepos      map[string]int
	Subsystems    map[string]int
	Languages     map[string]int
	PatchStatus   map[string]int
	TicketStatus  map[string]int
	Tags          map[string]int
	PerYear       map[string]int
	Timeline      Timeline
	Recent        []RecentEvent
	GeneratedAt   time.Time
}

func (r Report) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(r.Series)+14)
	for k, v := range r.Series {
		doc[k] = v
	}
	doc["months"] = r.Months
	doc["total_per_month"] = r.TotalPerMonth
	doc["totals"] = r.Totals
	doc["top_repos"] = r.TopRepos
	doc["subsystems"] = r.Subsystems
	doc["languages"] = r.Languages
	doc["patch_status"] = r.PatchStatus
	doc["ticket_status"] = r.TicketStatus
	doc["tags"] = r.Tags
	doc["per_year"] = r.PerYear
	doc["timeline"] = r.Timeline
	doc["recent"] = r.Recent
	doc["generated_at"] = normalize.Format(r.GeneratedAt)
	return json.Marshal(doc)
}

// Build aggregates stores into a report. The bucket window is a run of
// opts.Months consecutive buckets ending at the newest bucket holding a dated
// event, or at the bucket of opts.Now when no event has a date. Events
// without a date are left out of the series but counted in the totals.
func Build(stores map[model.Source][]model.Event, opts Options) Report {
	if opts.Months <= 0 {
		opts.Months = DefaultBuckets
	}
	if opts.Recent <= 0 {
		opts.Recent = DefaultRecent
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	opts.Now = opts.Now.UTC()

	r := Report{
		Series:       make(map[string][]int),
		Totals:       map[string]int{"all": 0},
		TopRepos:     map[string]int{},
		Subsystems:   map[string]int{},
		Languages:    map[string]int{},
		PatchStatus:  map[string]int{},
		TicketStatus: map[string]int{},
		Tags:         map[string]int{},
		PerYear:      map[string]int{},
		Recent:       []RecentEvent{},
		GeneratedAt:  opts.Now.Truncate(time.Second),
	}

	var earliest, latest time.Time
	for _, evs := range stores {
		for _, e := range evs {
			if !e.HasDate() {
				continue
			}
			if earliest.IsZero() || e.Date.Before(earliest) {
				earliest = e.Date
			}
			if latest.IsZero() || e.Date.After(latest) {
				latest = e.Date
			}
		}
	}

	end := opts.Now
	if !latest.IsZero() {
		end = latest
		r.Timeline.Earliest = formatPtr(earliest)
		r.Timeline.Latest = formatPtr(latest)
	}
	end = opts.Width.floor(end)
	start := opts.Width.step(end, -(opts.Months - 1))

	index := make(map[string]int, opts.Months)
	for i, b := 0, start; i < opts.Months; i, b = i+1, opts.Width.step(b, 1) {
		k := opts.Width.key(b)
		index[k] = i
		r.Months = append(r.Months, k)
	}
	r.TotalPerMonth = make([]int, opts.Months)

	for _, src := range sources(stores) {
		evs := stores[src]
		counts := make([]int, opts.Months)
		for _, e := range evs {
			if e.HasDate() {
				if i, ok := index[opts.Width.key(e.Date)]; ok {
					counts[i]++
					r.TotalPerMonth[i]++
				}
				r.PerYear[strconv.Itoa(e.Date.Year())]++
			}
			distribute(&r, src, e)
		}
		r.Series[src.Key()] = counts
		r.Totals[src.Key()] = len(evs)
		r.Totals["all"] += len(evs)
	}

	var all []model.Event
	for _, evs := range stores {
		all = append(all, evs...)
	}
	// Map iteration order is random; fix it before the stable date sort.
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Source != all[j].Source {
			return all[i].Source < all[j].Source
		}
		return all[i].Key < all[j].Key
	})
	model.SortNewestFirst(all)
	if len(all) > opts.Recent {
		all = all[:opts.Recent]
	}
	for _, e := range all {
		re := RecentEvent{Source: e.Source.Key(), Title: e.Title, URL: e.Key}
		if e.HasDate() {
			re.Date = formatPtr(e.Date)
		}
		r.Recent = append(r.Recent, re)
	}
	return r
}

func distribute(r *Report, src model.Source, e model.Event) {
	switch src {
	case model.PullRequest:
		r.TopRepos[e.Attr("repo")]++
		r.Languages[e.Attr("language")]++
	case model.Ticket:
		r.TicketStatus[e.Attr("status")]++
	case model.KernelCommit:
		r.Subsystems[e.Attr("subsystem")]++
	case model.KernelPatch:
		r.Subsystems[e.Attr("subsystem")]++
		r.PatchStatus[e.Attr("state")]++
	case model.Article:
		n := 0
		for _, tag := range strings.Split(e.Attributes["tags"], ",") {
			if tag = strings.ToLower(strings.TrimSpace(tag)); tag != "" {
				r.Tags[tag]++
				n++
			}
		}
		if n == 0 {
			r.Tags[Other]++
		}
	}
}

// sources lists every known source plus any extra keys of stores, in a
// stable order, so every known series is present even when empty.
func sources(stores map[model.Source][]model.Event) []model.Source {
	out := model.AllSources()
	var extra []model.Source
	for s := range stores {
		if !s.Valid() {
			extra = append(extra, s)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(out, extra...)
}

func formatPtr(t time.Time) *string {
	s := normalize.Format(t)
	return &s
}

// Collect loads every source document found in dir. A missing document is
// an empty store. Corrupt documents are skipped and reported in the joined
// error while the remaining stores are still returned.
func Collect(dir string) (map[model.Source][]model.Event, error) {
	stores := make(map[model.Source][]model.Event)
	var errs []error
	for _, src := range model.AllSources() {
		evs, err := store.Files{Dir: dir}.Load(src)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", src, err))
			continue
		}
		stores[src] = evs
	}
	return stores, errors.Join(errs...)
}

// Write stores the report as dir/analytics.json.
func Write(dir string, r Report) (string, error) {
	path := filepath.Join(dir, FileName)
	return path, store.WriteJSON(path, r)
}
