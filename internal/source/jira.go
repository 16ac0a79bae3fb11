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

const apacheJira = "https://issues.apache.org/jira"

// jira runs a JQL search through the REST API, paging with startAt.
type jira struct {
	name    string
	baseURL string
	size    int
	id      config.Identity
	http    *httpx.Client
	log     zerolog.Logger
	total   int
}

func NewJira(name string, c config.SourceConfig, id config.Identity, hc *httpx.Client, log zerolog.Logger) *jira {
	return &jira{
		name:    name,
		baseURL: baseURL(c.BaseURL, apacheJira),
		size:    pageSize(c.PageSize, 20),
		id:      id,
		http:    hc,
		log:     log,
	}
}

func (s *jira) Name() string       { return s.name }
func (s *jira) Kind() model.Source { return model.Ticket }

type jiraSearchResponse struct {
	StartAt int              `json:"startAt"`
	Total   int              `json:"total"`
	Issues  []map[string]any `json:"issues"`
}

func (s *jira) Page(ctx context.Context, page int) ([]extract.Record, error) {
	if s.id.JiraJQL == "" {
		return nil, fmt.Errorf("%w: jira needs a JQL query", ErrNotConfigured)
	}
	if page == 0 {
		s.total = -1
	}
	startAt := page * s.size
	if s.total >= 0 && startAt >= s.total {
		return nil, nil
	}

	var resp jiraSearchResponse
	err := s.http.GetJSON(ctx, httpx.Request{
		URL: s.baseURL + "/rest/api/2/search",
		Query: map[string]string{
			"jql":        s.id.JiraJQL,
			"startAt":    strconv.Itoa(startAt),
			"maxResults": strconv.Itoa(s.size),
			"fields":     "summary,created,status,project",
		},
		Header: map[string]string{"Accept": "application/json"},
	}, &resp)
	if err != nil {
		return nil, err
	}
	s.total = resp.Total

	recs := records(resp.Issues)
	for _, r := range recs {
		// Browse URL on this instance; the API only returns "self".
		if key := r.String("key"); key != "" && r.String("url") == "" {
			r["url"] = s.baseURL + "/browse/" + key
		}
	}
	s.log.Debug().Int("page", page).Int("issues", len(recs)).Int("total", resp.Total).Msg("jira search")
	return recs, nil
}
