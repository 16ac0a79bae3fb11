package source

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/aheev/my-portfolio/internal/config"
	"github.com/aheev/my-portfolio/internal/extract"
	"github.com/aheev/my-portfolio/internal/httpx"
	"github.com/aheev/my-portfolio/internal/model"
)

const devtoAPI = "https://dev.to/api"

type devto struct {
	name    string
	baseURL string
	perPage int
	id      config.Identity
	http    *httpx.Client
	log     zerolog.Logger
}

func NewDevto(name string, c config.SourceConfig, id config.Identity, hc *httpx.Client, log zerolog.Logger) *devto {
	return &devto{
		name:    name,
		baseURL: baseURL(c.BaseURL, devtoAPI),
		perPage: pageSize(c.PageSize, 30),
		id:      id,
		http:    hc,
		log:     log,
	}
}

func (s *devto) Name() string       { return s.name }
func (s *devto) Kind() model.Source { return model.Article }

func (s *devto) Page(ctx context.Context, page int) ([]extract.Record, error) {
	if s.id.DevtoUser == "" {
		return nil, fmt.Errorf("%w: dev.to needs a username", ErrNotConfigured)
	}
	var items []map[string]any
	err := s.http.GetJSON(ctx, httpx.Request{
		URL: s.baseURL + "/articles",
		Query: map[string]string{
			"username": s.id.DevtoUser,
			"page":     strconv.Itoa(page + 1),
			"per_page": strconv.Itoa(s.perPage),
		},
	}, &items)
	if err != nil {
		return nil, err
	}
	s.log.Debug().Int("page", page).Int("articles", len(items)).Msg("dev.to articles")
	return records(items), nil
}
