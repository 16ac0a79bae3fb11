// Package ingest drives one run: for every source it pages through the
// upstream, extracts and enriches records, merges them into the persisted
// store and writes the store back.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/aheev/my-portfolio/internal/extract"
	"github.com/aheev/my-portfolio/internal/httpx"
	"github.com/aheev/my-portfolio/internal/metrics"
	"github.com/aheev/my-portfolio/internal/model"
	"github.com/aheev/my-portfolio/internal/postprocess"
	"github.com/aheev/my-portfolio/internal/source"
	"github.com/aheev/my-portfolio/internal/store"
)

// NewLimiter paces page requests: one request per interval, the first one
// immediately. A non-positive interval means no pacing.
func NewLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// Store loads and saves the per-source event lists; store.Files is the
// on-disk implementation.
type Store interface {
	Load(src model.Source) ([]model.Event, error)
	Save(src model.Source, events []model.Event) error
}

type Pipeline struct {
	Sources    []source.Source
	Store      Store
	MaxPages   int
	PageLimits map[string]int // per source name, overrides MaxPages
	EarlyStop  int            // <= 0 disables
	Limiter    *rate.Limiter  // shared by every source; nil means no pacing
	Extractor  *extract.Extractor
	Rules      *postprocess.Engine
	Metrics    *metrics.Metrics
	Logger     zerolog.Logger
	Now        func() time.Time
}

// Stat is the outcome for one source.
type Stat struct {
	Source       string
	Kind         model.Source
	Pages        int
	Fetched      int
	Dropped      int
	Undated      int
	Added        int
	Total        int
	EarlyStopped bool
	Skipped      bool
	FetchErr     error // last fetch failure; the run kept what it had
	Err          error // load or persistence failure; the store was not written
}

type Summary struct {
	Sources  []Stat
	Duration time.Duration
}

// Added sums new events across sources.
func (s Summary) Added() int {
	n := 0
	for _, st := range s.Sources {
		n += st.Added
	}
	return n
}

// Failed lists the sources whose store could not be loaded or written.
func (s Summary) Failed() []Stat {
	var out []Stat
	for _, st := range s.Sources {
		if st.Err != nil {
			out = append(out, st)
		}
	}
	return out
}

// Run processes every source in order. A failure in one source never stops
// the others.
func (p *Pipeline) Run(ctx context.Context) Summary {
	now := p.Now
	if now == nil {
		now = time.Now
	}
	start := now()
	sum := Summary{Sources: make([]Stat, 0, len(p.Sources))}
	for _, src := range p.Sources {
		sum.Sources = append(sum.Sources, p.runSource(ctx, src, now))
	}
	sum.Duration = now().Sub(start)
	p.Metrics.ObserveRun(sum.Duration)
	return sum
}

func (p *Pipeline) maxPages(name string) int {
	if n := p.PageLimits[name]; n > 0 {
		return n
	}
	if p.MaxPages > 0 {
		return p.MaxPages
	}
	return 1
}

func (p *Pipeline) runSource(ctx context.Context, src source.Source, now func() time.Time) Stat {
	name, kind := src.Name(), src.Kind()
	st := Stat{Source: name, Kind: kind}
	log := p.Logger.With().Str("source", name).Str("kind", string(kind)).Logger()

	existing, err := p.Store.Load(kind)
	if err != nil {
		// A document we cannot read is never overwritten.
		st.Err = err
		log.Error().Err(err).Msg("load store")
		return st
	}

	merger := store.NewMerger(existing, p.EarlyStop)
	limit := p.maxPages(name)
	for page := 0; page < limit; page++ {
		if p.Limiter != nil {
			if err := p.Limiter.Wait(ctx); err != nil {
				st.FetchErr = err
				log.Warn().Err(err).Msg("pagination interrupted")
				break
			}
		}
		recs, err := src.Page(ctx, page)
		if errors.Is(err, source.ErrNotConfigured) {
			st.Skipped = true
			log.Warn().Err(err).Msg("skipping source")
			break
		}
		if err != nil {
			st.FetchErr = err
			if errors.Is(err, httpx.ErrTransport) {
				p.Metrics.TransportFailure(name)
			}
			log.Warn().Err(err).Int("page", page).Msg("fetch failed, keeping what we have")
			break
		}
		st.Pages++
		p.Metrics.Page(name, len(recs))
		if len(recs) == 0 {
			break
		}
		st.Fetched += len(recs)

		events, dropped := p.Extractor.ExtractAll(kind, recs)
		st.Dropped += dropped
		p.Metrics.Dropped(name, metrics.ReasonMalformed, dropped)
		undated := 0
		for _, e := range events {
			if !e.HasDate() {
				undated++
			}
		}
		st.Undated += undated
		p.Metrics.Undated(name, undated)

		events = p.Rules.Apply(events)
		added := merger.Offer(events)
		p.Metrics.Dropped(name, metrics.ReasonDuplicate, len(events)-added)
		log.Debug().Int("page", page).Int("records", len(recs)).Int("dropped", dropped).
			Int("added", added).Int("known_run", merger.Known()).Msg("page merged")

		if merger.Stop() {
			st.EarlyStopped = true
			p.Metrics.EarlyStop(name)
			log.Info().Int("page", page).Int("known_run", merger.Known()).Msg("reached known history, stopping")
			break
		}
	}

	merged, added := merger.Result()
	st.Added, st.Total = added, len(merged)
	if err := p.Store.Save(kind, merged); err != nil {
		st.Err = fmt.Errorf("save %s: %w", name, err)
		p.Metrics.PersistenceFailure(name)
		log.Error().Err(err).Msg("persist store")
		return st
	}
	p.Metrics.Added(name, added)
	p.Metrics.Persisted(name, len(merged), now())
	log.Info().Int("pages", st.Pages).Int("fetched", st.Fetched).Int("dropped", st.Dropped).
		Int("added", added).Int("total", len(merged)).Msg("source done")
	return st
}
