// Package source holds the upstream adapters. An adapter only retrieves raw
// records page by page; extraction, merging and persistence happen in the
// ingest pipeline.
package source

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aheev/my-portfolio/internal/config"
	"github.com/aheev/my-portfolio/internal/extract"
	"github.com/aheev/my-portfolio/internal/httpx"
	"github.com/aheev/my-portfolio/internal/model"
)

// ErrNotConfigured is returned by Page when the identity the adapter queries
// by (token, email, username) is missing. Such a source is skipped.
var ErrNotConfigured = errors.New("source not configured")

// Source retrieves raw records from one upstream system. Pages are requested
// in order starting at 0; an empty page ends pagination. A page that failed
// after all retries comes back empty together with an error wrapping
// httpx.ErrTransport.
type Source interface {
	Name() string
	Kind() model.Source
	Page(ctx context.Context, page int) ([]extract.Record, error)
}

// Deps are shared by every adapter.
type Deps struct {
	HTTP     *httpx.Client
	Identity config.Identity
	Logger   zerolog.Logger
}

func NewFromConfig(c config.SourceConfig, d Deps) (Source, error) {
	if d.HTTP == nil {
		return nil, errors.New("source: nil http client")
	}
	name := c.Name
	if name == "" {
		name = c.Type
	}
	log := d.Logger.With().Str("source", name).Logger()
	switch c.Type {
	case "github":
		return NewGitHubPRs(name, c, d.Identity, d.HTTP, log), nil
	case "github_commits":
		return NewGitHubCommits(name, c, d.Identity, d.HTTP, log), nil
	case "jira":
		return NewJira(name, c, d.Identity, d.HTTP, log), nil
	case "devto":
		return NewDevto(name, c, d.Identity, d.HTTP, log), nil
	case "gitkernel":
		return NewGitKernel(name, c, d.Identity, d.HTTP, log), nil
	case "lore":
		return NewLore(name, c, d.Identity, d.HTTP, log), nil
	default:
		return nil, fmt.Errorf("unknown source type: %s", c.Type)
	}
}

func baseURL(configured, def string) string {
	if s := strings.TrimRight(strings.TrimSpace(configured), "/"); s != "" {
		return s
	}
	return def
}

// commitURL returns the configured commit URL template, or def.
func commitURL(configured, def string) string {
	if s := strings.TrimSpace(configured); s != "" {
		return s
	}
	return def
}

func pageSize(configured, def int) int {
	if configured <= 0 {
		return def
	}
	return configured
}

func records(items []map[string]any) []extract.Record {
	out := make([]extract.Record, 0, len(items))
	for _, it := range items {
		if it != nil {
			out = append(out, extract.Record(it))
		}
	}
	return out
}
