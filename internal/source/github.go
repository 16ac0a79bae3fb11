package source

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aheev/my-portfolio/internal/config"
	"github.com/aheev/my-portfolio/internal/extract"
	"github.com/aheev/my-portfolio/internal/httpx"
	"github.com/aheev/my-portfolio/internal/model"
)

const (
	githubAPI         = "https://api.github.com"
	githubGraphQL     = githubAPI + "/graphql"
	defaultKernelRepo = "torvalds/linux"
)

const pullRequestsQuery = `query($login: String!, $first: Int!, $after: String) {
  user(login: $login) {
    pullRequests(first: $first, after: $after, orderBy: {field: CREATED_AT, direction: DESC}) {
      pageInfo { hasNextPage endCursor }
      nodes {
        title
        url
        merged
        state
        createdAt
        mergedAt
        closedAt
        repository {
          nameWithOwner
          url
          primaryLanguage { name }
        }
      }
    }
  }
}`

// gitHubPRs pages through a user's pull requests with the GraphQL API,
// newest first. Page n needs the cursor returned by page n-1.
type gitHubPRs struct {
	name     string
	endpoint string
	first    int
	id       config.Identity
	http     *httpx.Client
	log      zerolog.Logger

	cursors []string // cursors[n] is the "after" value for page n
	done    bool
}

func NewGitHubPRs(name string, c config.SourceConfig, id config.Identity, hc *httpx.Client, log zerolog.Logger) *gitHubPRs {
	return &gitHubPRs{
		name:     name,
		endpoint: baseURL(c.BaseURL, githubGraphQL),
		first:    pageSize(c.PageSize, 50),
		id:       id,
		http:     hc,
		log:      log,
	}
}

func (s *gitHubPRs) Name() string       { return s.name }
func (s *gitHubPRs) Kind() model.Source { return model.PullRequest }

type graphQLError struct {
	Message string `json:"message"`
}

type pullRequestsResponse struct {
	Data struct {
		User *struct {
			PullRequests struct {
				PageInfo struct {
					HasNextPage bool   `json:"hasNextPage"`
					EndCursor   string `json:"endCursor"`
				} `json:"pageInfo"`
				Nodes []map[string]any `json:"nodes"`
			} `json:"pullRequests"`
		} `json:"user"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}

func (s *gitHubPRs) Page(ctx context.Context, page int) ([]extract.Record, error) {
	if s.id.GitHubToken == "" || s.id.GitHubUser == "" {
		return nil, fmt.Errorf("%w: github needs a token and a user", ErrNotConfigured)
	}
	if page == 0 {
		s.cursors, s.done = []string{""}, false
	}
	if s.done || page >= len(s.cursors) {
		return nil, nil
	}

	vars := map[string]any{"login": s.id.GitHubUser, "first": s.first}
	if c := s.cursors[page]; c != "" {
		vars["after"] = c
	}
	var resp pullRequestsResponse
	err := s.http.PostJSON(ctx, httpx.Request{
		URL:    s.endpoint,
		Header: map[string]string{"Authorization": "bearer " + s.id.GitHubToken},
		Body:   map[string]any{"query": pullRequestsQuery, "variables": vars},
	}, &resp)
	if err != nil {
		s.done = true
		return nil, err
	}
	if len(resp.Errors) > 0 {
		s.done = true
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, fmt.Errorf("github graphql: %s", strings.Join(msgs, "; "))
	}
	if resp.Data.User == nil {
		s.done = true
		return nil, fmt.Errorf("github graphql: user %q not found", s.id.GitHubUser)
	}

	prs := resp.Data.User.PullRequests
	if prs.PageInfo.HasNextPage && prs.PageInfo.EndCursor != "" {
		s.cursors = append(s.cursors[:page+1], prs.PageInfo.EndCursor)
	} else {
		s.done = true
	}
	s.log.Debug().Int("page", page).Int("nodes", len(prs.Nodes)).Bool("more", !s.done).Msg("github pull requests")
	return records(prs.Nodes), nil
}

// gitHubCommits finds commits by author email through the commit search API,
// an alternative to scraping git.kernel.org.
type gitHubCommits struct {
	name    string
	baseURL string
	repo    string
	commit  string // commit URL template
	perPage int
	id      config.Identity
	http    *httpx.Client
	log     zerolog.Logger
	total   int
}

func NewGitHubCommits(name string, c config.SourceConfig, id config.Identity, hc *httpx.Client, log zerolog.Logger) *gitHubCommits {
	repo := strings.TrimSpace(c.Repo)
	if repo == "" {
		repo = defaultKernelRepo
	}
	// torvalds/linux commits share the git.kernel.org identity with the
	// cgit scraper; other repositories keep their GitHub page.
	def := "https://github.com/" + repo + "/commit/%s"
	if repo == defaultKernelRepo {
		def = gitKernelOrg + torvaldsLinux + "/commit/?id=%s"
	}
	return &gitHubCommits{
		name:    name,
		baseURL: baseURL(c.BaseURL, githubAPI),
		repo:    repo,
		commit:  commitURL(c.CommitURL, def),
		perPage: pageSize(c.PageSize, 100),
		id:      id,
		http:    hc,
		log:     log,
	}
}

func (s *gitHubCommits) Name() string       { return s.name }
func (s *gitHubCommits) Kind() model.Source { return model.KernelCommit }

type commitSearchResponse struct {
	TotalCount int              `json:"total_count"`
	Items      []map[string]any `json:"items"`
}

func (s *gitHubCommits) Page(ctx context.Context, page int) ([]extract.Record, error) {
	if s.id.GitHubToken == "" || s.id.KernelEmail == "" {
		return nil, fmt.Errorf("%w: commit search needs a token and an author email", ErrNotConfigured)
	}
	if page == 0 {
		s.total = -1
	}
	if s.total >= 0 && page*s.perPage >= s.total {
		return nil, nil
	}

	var resp commitSearchResponse
	err := s.http.GetJSON(ctx, httpx.Request{
		URL: s.baseURL + "/search/commits",
		Query: map[string]string{
			"q":        fmt.Sprintf("repo:%s author-email:%s", s.repo, s.id.KernelEmail),
			"sort":     "author-date",
			"order":    "desc",
			"per_page": strconv.Itoa(s.perPage),
			"page":     strconv.Itoa(page + 1),
		},
		Header: map[string]string{
			"Authorization": "bearer " + s.id.GitHubToken,
			"Accept":        "application/vnd.github.cloak-preview",
		},
	}, &resp)
	if err != nil {
		return nil, err
	}
	s.total = resp.TotalCount
	for _, item := range resp.Items {
		if sha, ok := item["sha"].(string); ok && sha != "" {
			item["commit_url"] = fmt.Sprintf(s.commit, sha)
		}
	}
	s.log.Debug().Int("page", page).Int("items", len(resp.Items)).Int("total", resp.TotalCount).Msg("github commit search")
	return records(resp.Items), nil
}
