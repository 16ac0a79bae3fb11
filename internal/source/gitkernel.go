package source

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/aheev/my-portfolio/internal/config"
	"github.com/aheev/my-portfolio/internal/extract"
	"github.com/aheev/my-portfolio/internal/httpx"
	"github.com/aheev/my-portfolio/internal/model"
)

const (
	gitKernelOrg  = "https://git.kernel.org"
	torvaldsLinux = "/pub/scm/linux/kernel/git/torvalds/linux.git"
)

// gitKernel scrapes the cgit commit log of one repository filtered by author.
// cgit pages with an ofs= row offset.
type gitKernel struct {
	name    string
	baseURL string
	repo    string
	commit  string // commit URL template
	rows    int
	id      config.Identity
	http    *httpx.Client
	log     zerolog.Logger
}

func NewGitKernel(name string, c config.SourceConfig, id config.Identity, hc *httpx.Client, log zerolog.Logger) *gitKernel {
	repo := strings.TrimRight(strings.TrimSpace(c.Repo), "/")
	if repo == "" {
		repo = torvaldsLinux
	}
	if !strings.HasPrefix(repo, "/") {
		repo = "/" + repo
	}
	return &gitKernel{
		name:    name,
		baseURL: baseURL(c.BaseURL, gitKernelOrg),
		repo:    repo,
		commit:  commitURL(c.CommitURL, gitKernelOrg+repo+"/commit/?id=%s"),
		rows:    pageSize(c.PageSize, 50),
		id:      id,
		http:    hc,
		log:     log,
	}
}

func (s *gitKernel) Name() string       { return s.name }
func (s *gitKernel) Kind() model.Source { return model.KernelCommit }

func (s *gitKernel) Page(ctx context.Context, page int) ([]extract.Record, error) {
	if s.id.KernelEmail == "" {
		return nil, fmt.Errorf("%w: git.kernel.org needs an author email", ErrNotConfigured)
	}
	logURL := s.baseURL + s.repo + "/log/"
	q := map[string]string{"qt": "author", "q": s.id.KernelEmail}
	if page > 0 {
		q["ofs"] = strconv.Itoa(page * s.rows)
	}
	body, err := s.http.GetText(ctx, httpx.Request{
		URL:    logURL,
		Query:  q,
		Header: map[string]string{"Accept": "text/html,application/xhtml+xml"},
	})
	if err != nil {
		return nil, err
	}
	pageURL, err := url.Parse(logURL)
	if err != nil {
		return nil, fmt.Errorf("gitkernel: %w", err)
	}
	recs, err := parseCgitLog(pageURL, body)
	if err != nil {
		return nil, err
	}
	for _, r := range recs {
		r["commit_url"] = fmt.Sprintf(s.commit, r["id"])
	}
	s.log.Debug().Int("page", page).Int("commits", len(recs)).Msg("cgit log")
	return recs, nil
}

// parseCgitLog reads the rows of a cgit log table. Each row has an age cell
// ("3 days", class age-days) whose span usually carries the absolute date in
// its title, and a subject link to commit/?id=<sha>.
func parseCgitLog(pageURL *url.URL, body string) ([]extract.Record, error) {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse cgit log: %w", err)
	}
	var out []extract.Record
	for _, tr := range findAll(doc, atom.Tr) {
		var link *html.Node
		for _, a := range findAll(tr, atom.A) {
			if strings.Contains(attr(a, "href"), "/commit/") {
				link = a
				break
			}
		}
		if link == nil {
			continue
		}
		u, ok := resolve(pageURL, attr(link, "href"))
		if !ok {
			continue
		}
		sha := u.Query().Get("id")
		if sha == "" {
			continue
		}
		// Drop the search parameters cgit appends so the identity is stable.
		u.RawQuery = "id=" + sha
		u.Fragment = ""

		rec := extract.Record{
			"url":   u.String(),
			"id":    sha,
			"title": text(link),
		}
		for _, span := range findAll(tr, atom.Span) {
			title := attr(span, "title")
			if title == "" && !isAgeSpan(span) {
				continue
			}
			if title != "" {
				rec["date"] = title
			}
			if age := text(span); age != "" {
				rec["age"] = age
			}
			break
		}
		if tds := findAll(tr, atom.Td); len(tds) > 2 {
			if author := text(tds[2]); author != "" {
				rec["author"] = author
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func isAgeSpan(n *html.Node) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if strings.HasPrefix(c, "age-") {
			return true
		}
	}
	return false
}
