package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aheev/my-portfolio/internal/analytics"
	"github.com/aheev/my-portfolio/internal/config"
	"github.com/aheev/my-portfolio/internal/extract"
	"github.com/aheev/my-portfolio/internal/httpx"
	"github.com/aheev/my-portfolio/internal/ingest"
	"github.com/aheev/my-portfolio/internal/logging"
	"github.com/aheev/my-portfolio/internal/metrics"
	"github.com/aheev/my-portfolio/internal/model"
	"github.com/aheev/my-portfolio/internal/normalize"
	"github.com/aheev/my-portfolio/internal/postprocess"
	"github.com/aheev/my-portfolio/internal/source"
	"github.com/aheev/my-portfolio/internal/store"
)

type app struct {
	cfg     *config.Config
	log     zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// setup loads .env, the config file and the flag overrides, then builds the
// run logger.
func setup(g *globals, logOut io.Writer) (*app, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if g.dataDir != "" {
		cfg.DataDir = g.dataDir
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.logJSON {
		cfg.Log.JSON = true
	}

	log := logging.New(logOut, logging.ParseLevel(cfg.Log.Level), cfg.Log.JSON).
		With().Str("run_id", uuid.NewString()).Logger()
	return &app{cfg: cfg, log: log, metrics: metrics.New(), now: time.Now}, nil
}

// selection is what --source asked for: configured source names, or event
// kinds ("kernel_commit", "commits") standing for every enabled source of
// that kind.
type selection struct {
	names []string
	kinds []model.Source
}

func (a *app) selection(only []string) (selection, error) {
	var sel selection
	for _, arg := range only {
		if slices.ContainsFunc(a.cfg.Sources, func(s config.SourceConfig) bool { return s.Name == arg }) {
			sel.names = append(sel.names, arg)
			continue
		}
		if k, ok := model.ParseSource(arg); ok {
			sel.kinds = append(sel.kinds, k)
			continue
		}
		return sel, fmt.Errorf("unknown source %q", arg)
	}
	return sel, nil
}

func (s selection) empty() bool { return len(s.names) == 0 && len(s.kinds) == 0 }

// pipeline wires adapters, extraction, rules and the on-disk store. When only
// is non-empty the other sources are left out; naming an unknown source is
// an error. A disabled source runs only when named explicitly.
func (a *app) pipeline(only []string) (*ingest.Pipeline, error) {
	rules, err := postprocess.New(a.cfg.Post)
	if err != nil {
		return nil, fmt.Errorf("postprocess rules: %w", err)
	}
	sel, err := a.selection(only)
	if err != nil {
		return nil, err
	}

	hc := httpx.New(httpx.Options{
		Timeout:    a.cfg.HTTP.Timeout,
		Attempts:   a.cfg.HTTP.Attempts,
		Backoff:    a.cfg.HTTP.Backoff,
		MaxBackoff: a.cfg.HTTP.MaxBackoff,
		UserAgent:  a.cfg.HTTP.UserAgent,
		Logger:     a.log,
	})
	deps := source.Deps{HTTP: hc, Identity: a.cfg.Identity, Logger: a.log}

	var srcs []source.Source
	limits := map[string]int{}
	for _, sc := range a.cfg.Sources {
		named := slices.Contains(sel.names, sc.Name)
		if !named && sc.Disabled {
			a.log.Debug().Str("source", sc.Name).Msg("source disabled")
			continue
		}
		s, err := source.NewFromConfig(sc, deps)
		if err != nil {
			return nil, fmt.Errorf("build source %q: %w", sc.Name, err)
		}
		if !sel.empty() && !named && !slices.Contains(sel.kinds, s.Kind()) {
			continue
		}
		srcs = append(srcs, s)
		if sc.MaxPages > 0 {
			limits[sc.Name] = sc.MaxPages
		}
		a.log.Debug().Str("source", s.Name()).Str("kind", string(s.Kind())).Msg("configured source")
	}

	return &ingest.Pipeline{
		Sources:    srcs,
		Store:      store.Files{Dir: a.cfg.DataDir},
		MaxPages:   a.cfg.Ingest.MaxPages,
		PageLimits: limits,
		EarlyStop:  a.cfg.Ingest.EarlyStop,
		Limiter:    ingest.NewLimiter(a.cfg.Ingest.Sleep),
		Extractor:  extract.New(normalize.New(normalize.WithClock(a.now))),
		Rules:      rules,
		Metrics:    a.metrics,
		Logger:     a.log,
		Now:        a.now,
	}, nil
}

// fetch runs the pipeline and reports per-source outcomes. Source failures
// are logged, never returned.
func (a *app) fetch(ctx context.Context, p *ingest.Pipeline, out io.Writer) ingest.Summary {
	a.log.Info().Int("sources", len(p.Sources)).Str("data_dir", a.cfg.DataDir).Msg("fetch starting")
	sum := p.Run(ctx)

	for _, st := range sum.Sources {
		status := "ok"
		switch {
		case st.Err != nil:
			status = "failed: " + st.Err.Error()
		case st.Skipped:
			status = "skipped"
		case st.FetchErr != nil:
			status = "partial: " + st.FetchErr.Error()
		case st.EarlyStopped:
			status = "ok (early stop)"
		}
		fmt.Fprintf(out, "%-16s pages=%-3d fetched=%-4d dropped=%-3d added=%-4d total=%-5d %s\n",
			st.Source, st.Pages, st.Fetched, st.Dropped, st.Added, st.Total, status)
	}

	if path := a.cfg.Metrics.Textfile; path != "" {
		if err := a.metrics.WriteTextfile(path); err != nil {
			a.log.Error().Err(err).Str("path", path).Msg("write metrics textfile")
		}
	}
	a.log.Info().Int("added", sum.Added()).Int("failed", len(sum.Failed())).
		Dur("took", sum.Duration.Truncate(time.Millisecond)).Str("metrics", a.metrics.Dump()).
		Msg("fetch finished")
	return sum
}

// analyze rebuilds the analytics document. Corrupt source documents are
// logged and left out; only a failed write is an error.
func (a *app) analyze(out io.Writer) error {
	width, err := analytics.ParseWidth(a.cfg.Analytics.Width)
	if err != nil {
		return fmt.Errorf("analytics width: %w", err)
	}
	stores, err := analytics.Collect(a.cfg.DataDir)
	if err != nil {
		a.log.Warn().Err(err).Msg("some source documents could not be read")
	}

	report := analytics.Build(stores, analytics.Options{
		Months: a.cfg.Analytics.Months,
		Width:  width,
		Now:    a.now(),
		Recent: a.cfg.Analytics.Recent,
	})
	path, err := analytics.Write(a.cfg.DataDir, report)
	if err != nil {
		return fmt.Errorf("write analytics: %w", err)
	}

	window := ""
	if n := len(report.Months); n > 0 {
		window = report.Months[0] + ".." + report.Months[n-1]
	}
	fmt.Fprintf(out, "wrote %s: %d events, window %s\n", path, report.Totals["all"], window)
	a.log.Info().Str("path", path).Int("events", report.Totals["all"]).Msg("analytics written")
	return nil
}
