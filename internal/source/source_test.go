package source

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aheev/my-portfolio/internal/config"
	"github.com/aheev/my-portfolio/internal/extract"
	"github.com/aheev/my-portfolio/internal/httpx"
	"github.com/aheev/my-portfolio/internal/model"
	"github.com/aheev/my-portfolio/internal/normalize"
)

var identity = config.Identity{
	KernelEmail: "me@example.com",
	GitHubUser:  "aheev",
	GitHubToken: "tok",
	DevtoUser:   "writer",
	JiraJQL:     "project=KAFKA AND reporter=aheev",
}

func deps(id config.Identity) Deps {
	return Deps{
		HTTP: httpx.New(httpx.Options{
			Timeout:    2 * time.Second,
			Attempts:   1,
			Backoff:    time.Millisecond,
			MaxBackoff: time.Millisecond,
			Logger:     zerolog.Nop(),
		}),
		Identity: id,
		Logger:   zerolog.Nop(),
	}
}

func build(t *testing.T, typ, base string, id config.Identity) Source {
	t.Helper()
	s, err := NewFromConfig(config.SourceConfig{Type: typ, BaseURL: base}, deps(id))
	require.NoError(t, err)
	return s
}

func extractor() *extract.Extractor {
	return extract.New(normalize.New(normalize.WithClock(func() time.Time {
		return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	})))
}

func TestNewFromConfig(t *testing.T) {
	kinds := map[string]model.Source{
		"github":         model.PullRequest,
		"github_commits": model.KernelCommit,
		"jira":           model.Ticket,
		"devto":          model.Article,
		"gitkernel":      model.KernelCommit,
		"lore":           model.KernelPatch,
	}
	for typ, kind := range kinds {
		s := build(t, typ, "", identity)
		assert.Equal(t, typ, s.Name())
		assert.Equal(t, kind, s.Kind(), typ)
	}

	s, err := NewFromConfig(config.SourceConfig{Type: "lore", Name: "netdev"}, deps(identity))
	require.NoError(t, err)
	assert.Equal(t, "netdev", s.Name())

	_, err = NewFromConfig(config.SourceConfig{Type: "mastodon"}, deps(identity))
	assert.Error(t, err)
}

func TestMissingIdentityIsNotConfigured(t *testing.T) {
	for _, typ := range []string{"github", "github_commits", "jira", "devto", "gitkernel", "lore"} {
		s := build(t, typ, "http://127.0.0.1:0", config.Identity{})
		recs, err := s.Page(context.Background(), 0)
		assert.Empty(t, recs, typ)
		assert.True(t, errors.Is(err, ErrNotConfigured), typ)
	}
}

func TestGitHubPullRequestsFollowCursor(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "bearer tok", r.Header.Get("Authorization"))
		var req struct {
			Query     string         `json:"query"`
			Variables map[string]any `json:"variables"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "aheev", req.Variables["login"])
		assert.Contains(t, req.Query, "pullRequests")

		if req.Variables["after"] == nil {
			_, _ = io.WriteString(w, `{"data":{"user":{"pullRequests":{
				"pageInfo":{"hasNextPage":true,"endCursor":"c1"},
				"nodes":[{"title":"first","url":"https://github.com/apache/kafka/pull/2","mergedAt":"2024-02-01T00:00:00Z","state":"MERGED",
				          "repository":{"nameWithOwner":"apache/kafka","primaryLanguage":{"name":"Java"}}}]}}}}`)
			return
		}
		assert.Equal(t, "c1", req.Variables["after"])
		_, _ = io.WriteString(w, `{"data":{"user":{"pullRequests":{
			"pageInfo":{"hasNextPage":false,"endCursor":"c2"},
			"nodes":[{"title":"second","url":"https://github.com/apache/kafka/pull/1","createdAt":"2023-05-01T00:00:00Z","state":"CLOSED",
			          "repository":{"nameWithOwner":"apache/kafka","primaryLanguage":null}}]}}}}`)
	}))
	defer srv.Close()

	s := build(t, "github", srv.URL, identity)
	ctx := context.Background()

	p0, err := s.Page(ctx, 0)
	require.NoError(t, err)
	require.Len(t, p0, 1)
	ev, err := extractor().Extract(s.Kind(), p0[0])
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/apache/kafka/pull/2", ev.Key)
	assert.Equal(t, "Java", ev.Attributes["language"])

	p1, err := s.Page(ctx, 1)
	require.NoError(t, err)
	require.Len(t, p1, 1)
	assert.Equal(t, "second", p1[0].String("title"))

	p2, err := s.Page(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, p2)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestGitHubGraphQLErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":null,"errors":[{"message":"Bad credentials"}]}`)
	}))
	defer srv.Close()

	s := build(t, "github", srv.URL, identity)
	recs, err := s.Page(context.Background(), 0)
	assert.Empty(t, recs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Bad credentials")
	assert.False(t, errors.Is(err, httpx.ErrTransport))
}

func TestGitHubCommitSearch(t *testing.T) {
	var pages []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/commits", r.URL.Path)
		assert.Equal(t, "repo:torvalds/linux author-email:me@example.com", r.URL.Query().Get("q"))
		assert.Equal(t, "application/vnd.github.cloak-preview", r.Header.Get("Accept"))
		pages = append(pages, r.URL.Query().Get("page"))
		_, _ = io.WriteString(w, `{"total_count": 150, "items": [{
			"sha": "0123abcd",
			"html_url": "https://github.com/torvalds/linux/commit/0123abcd",
			"commit": {"message": "usb: gadget: fix leak\n\nbody", "author": {"date": "2024-01-02T03:04:05Z"}}
		}]}`)
	}))
	defer srv.Close()

	s := build(t, "github_commits", srv.URL, identity)
	ctx := context.Background()
	for page := 0; page < 2; page++ {
		recs, err := s.Page(ctx, page)
		require.NoError(t, err)
		require.Len(t, recs, 1)
	}
	recs, err := s.Page(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, recs, "100 per page covers 150 results in two pages")
	assert.Equal(t, []string{"1", "2"}, pages)

	ev, err := extractor().Extract(s.Kind(), recs0(t, s))
	require.NoError(t, err)
	assert.Equal(t, "usb: gadget: fix leak", ev.Title)
	assert.Equal(t, "usb", ev.Attributes["subsystem"])
}

func recs0(t *testing.T, s Source) extract.Record {
	t.Helper()
	recs, err := s.Page(context.Background(), 0)
	require.NoError(t, err)
	require.NotEmpty(t, recs)
	return recs[0]
}

func TestJiraStartAtPaging(t *testing.T) {
	issues := []string{
		`{"key":"KAFKA-1","fields":{"summary":"one","created":"2023-01-01T00:00:00.000+0000","status":{"name":"Open"}}}`,
		`{"key":"KAFKA-2","fields":{"summary":"two","created":"2023-02-01T00:00:00.000+0000","status":{"name":"Resolved"}}}`,
		`{"key":"KAFKA-3","fields":{"created":"2023-03-01T00:00:00.000+0000"}}`,
	}
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/rest/api/2/search", r.URL.Path)
		assert.Equal(t, identity.JiraJQL, r.URL.Query().Get("jql"))
		assert.Equal(t, "2", r.URL.Query().Get("maxResults"))
		body := `{"startAt":0,"total":3,"issues":[` + issues[0] + `,` + issues[1] + `]}`
		if r.URL.Query().Get("startAt") == "2" {
			body = `{"startAt":2,"total":3,"issues":[` + issues[2] + `]}`
		}
		_, _ = io.WriteString(w, body)
	}))
	defer srv.Close()

	s, err := NewFromConfig(config.SourceConfig{Type: "jira", BaseURL: srv.URL, PageSize: 2}, deps(identity))
	require.NoError(t, err)
	ctx := context.Background()

	p0, err := s.Page(ctx, 0)
	require.NoError(t, err)
	require.Len(t, p0, 2)
	assert.Equal(t, srv.URL+"/browse/KAFKA-1", p0[0].String("url"))

	p1, err := s.Page(ctx, 1)
	require.NoError(t, err)
	require.Len(t, p1, 1)
	ev, err := extractor().Extract(model.Ticket, p1[0])
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/browse/KAFKA-3", ev.Key)
	assert.Equal(t, "No Summary", ev.Title)
	assert.Equal(t, "KAFKA-3", ev.Attributes["key"])

	p2, err := s.Page(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, p2)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestDevto(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/articles", r.URL.Path)
		assert.Equal(t, "writer", r.URL.Query().Get("username"))
		if r.URL.Query().Get("page") != "1" {
			_, _ = io.WriteString(w, `[]`)
			return
		}
		_, _ = io.WriteString(w, `[{"title":"Hello","url":"https://dev.to/writer/hello-1","published_at":"2024-04-01T10:00:00Z","tag_list":["go","linux"]}]`)
	}))
	defer srv.Close()

	s := build(t, "devto", srv.URL, identity)
	p0, err := s.Page(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, p0, 1)
	ev, err := extractor().Extract(model.Article, p0[0])
	require.NoError(t, err)
	assert.Equal(t, "go,linux", ev.Attributes["tags"])

	p1, err := s.Page(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, p1)
}

const cgitAgeOnly = `<html><body><table class='list'>
<tr class='nohover'><th class='left'>Age</th><th class='left'>Commit message</th><th class='left'>Author</th></tr>
<tr><td><span class='age-days'>3 days</span></td><td><a href='/pub/scm/linux/kernel/git/torvalds/linux.git/commit/?id=fed987'>mm: fix</a></td><td>Some One</td></tr>
<tr><td><span class='age-weeks'>2 weeks</span></td><td><a href='/pub/scm/linux/kernel/git/torvalds/linux.git/commit/?id=cba654'>mm: more</a></td><td>Some One</td></tr>
</table></body></html>`

func TestGitKernelAgeWithoutTitle(t *testing.T) {
	u, err := url.Parse("https://git.kernel.org/pub/scm/linux/kernel/git/torvalds/linux.git/log/")
	require.NoError(t, err)
	recs, err := parseCgitLog(u, cgitAgeOnly)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Empty(t, recs[0].String("date"))
	assert.Equal(t, "3 days", recs[0].String("age"))
	assert.Equal(t, "2 weeks", recs[1].String("age"))

	ev, err := extractor().Extract(model.KernelCommit, recs[0])
	require.NoError(t, err)
	require.True(t, ev.HasDate())
	assert.Equal(t, time.Date(2024, 5, 29, 0, 0, 0, 0, time.UTC), ev.Date)
}

func TestCommitSourcesShareIdentity(t *testing.T) {
	const sha = "0123456789abcdef0123456789abcdef01234567"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/search/commits":
			_, _ = io.WriteString(w, `{"total_count": 1, "items": [{
				"sha": "`+sha+`",
				"html_url": "https://github.com/torvalds/linux/commit/`+sha+`",
				"commit": {"message": "net: phy: fix reset", "author": {"date": "2024-03-01T09:00:00Z"}}
			}]}`)
		default:
			_, _ = io.WriteString(w, `<html><body><table class='list'>
<tr><td><span title='2024-03-01 09:00:00 +0000'>3 months</span></td><td><a href='/pub/scm/linux/kernel/git/torvalds/linux.git/commit/?id=`+sha+`'>net: phy: fix reset</a></td><td>Some One</td></tr>
</table></body></html>`)
		}
	}))
	defer srv.Close()

	x := extractor()
	var keys []string
	for _, typ := range []string{"github_commits", "gitkernel"} {
		s := build(t, typ, srv.URL, identity)
		recs, err := s.Page(context.Background(), 0)
		require.NoError(t, err, typ)
		require.Len(t, recs, 1, typ)
		ev, err := x.Extract(s.Kind(), recs[0])
		require.NoError(t, err, typ)
		keys = append(keys, ev.Key)
	}
	want := "https://git.kernel.org/pub/scm/linux/kernel/git/torvalds/linux.git/commit/?id=" + sha
	assert.Equal(t, []string{want, want}, keys)
}

func TestCommitURLTemplate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"total_count": 1, "items": [{"sha": "abc", "commit": {"message": "x: y"}}]}`)
	}))
	defer srv.Close()

	other, err := NewFromConfig(config.SourceConfig{Type: "github_commits", BaseURL: srv.URL, Repo: "gregkh/linux"}, deps(identity))
	require.NoError(t, err)
	recs, err := other.Page(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/gregkh/linux/commit/abc", recs[0].String("commit_url"))

	custom, err := NewFromConfig(config.SourceConfig{
		Type: "github_commits", BaseURL: srv.URL, Repo: "gregkh/linux",
		CommitURL: "https://git.kernel.org/pub/scm/linux/kernel/git/stable/linux.git/commit/?id=%s",
	}, deps(identity))
	require.NoError(t, err)
	recs, err = custom.Page(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, "https://git.kernel.org/pub/scm/linux/kernel/git/stable/linux.git/commit/?id=abc", recs[0].String("commit_url"))
}

func TestTransportFailureIsEmptyPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	for _, typ := range []string{"github", "github_commits", "jira", "devto", "gitkernel", "lore"} {
		s := build(t, typ, srv.URL, identity)
		recs, err := s.Page(context.Background(), 0)
		assert.Empty(t, recs, typ)
		assert.True(t, errors.Is(err, httpx.ErrTransport), typ)
	}
}

const cgitLog = `<!DOCTYPE html>
<html><body>
<div class='content'><table class='list nowrap'>
<tr class='nohover'><th class='left'>Age</th><th class='left'>Commit message</th><th class='left'>Author</th></tr>
<tr><td><span title='2024-03-01 10:00:00 +0100'>2024-03-01</span></td><td><a href='/pub/scm/linux/kernel/git/torvalds/linux.git/commit/?id=abc123&amp;qt=author&amp;q=me%40example.com'>net: phy: fix reset</a></td><td>Some One</td></tr>
<tr><td><span title='2024-02-01 09:00:00 +0000'>5 weeks</span></td><td><a href='/pub/scm/linux/kernel/git/torvalds/linux.git/commit/?id=def456'>drm/amd: tweak   clocks</a> <span class='decoration'><a class='tag-deco' href='/pub/scm/linux/kernel/git/torvalds/linux.git/tag/?h=v6.8'>v6.8</a></span></td><td>Some One</td></tr>
</table></div>
<ul class='pager'><li><a href='?qt=author&amp;q=me%40example.com&amp;ofs=50'>[next]</a></li></ul>
</body></html>`

func TestGitKernelScrape(t *testing.T) {
	const logPath = "/pub/scm/linux/kernel/git/torvalds/linux.git/log/"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, logPath, r.URL.Path)
		assert.Equal(t, "author", r.URL.Query().Get("qt"))
		assert.Equal(t, "me@example.com", r.URL.Query().Get("q"))
		if r.URL.Query().Get("ofs") == "50" {
			_, _ = io.WriteString(w, `<html><body><table class='list'></table></body></html>`)
			return
		}
		_, _ = io.WriteString(w, cgitLog)
	}))
	defer srv.Close()

	s := build(t, "gitkernel", srv.URL, identity)
	p0, err := s.Page(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, p0, 2)

	commitBase := srv.URL + "/pub/scm/linux/kernel/git/torvalds/linux.git/commit/?id="
	assert.Equal(t, commitBase+"abc123", p0[0].String("url"))
	assert.Equal(t, "2024-03-01 10:00:00 +0100", p0[0].String("date"))
	assert.Equal(t, "Some One", p0[0].String("author"))
	assert.Equal(t, commitBase+"def456", p0[1].String("url"))
	assert.Equal(t, "drm/amd: tweak clocks", p0[1].String("title"))

	x := extractor()
	ev, err := x.Extract(model.KernelCommit, p0[0])
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), ev.Date)
	assert.Equal(t, "net", ev.Attributes["subsystem"])
	assert.Equal(t, "abc123", ev.Attributes["sha"])
	assert.Equal(t, "https://git.kernel.org/pub/scm/linux/kernel/git/torvalds/linux.git/commit/?id=abc123", ev.Key)
	assert.Equal(t, "5 weeks", p0[1].String("age"))

	p1, err := s.Page(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, p1)
}

const loreSnippets = `<html><head><title>a:me@example.com - search results</title></head><body>
<form action="./"><pre><input name=q value="a:me@example.com"> <input type=submit value=search></pre></form>
<pre>1. <b><a class="snippet-subject" href="20240112101541.1234-1-me@example.com/">[PATCH net-next v2 1/3] net: ethtool: add knob</a></b>
    - by Some One @ 2024-01-12 10:15 UTC [100%]

2. <b><a class="snippet-subject" href="20240110080000.99-1-me@example.com/">Re: [RFC] mm: idea</a></b>
    - by Some One @ 2024-01-10 08:00 UTC [90%]
</pre>
<pre>page: <a href="?q=a%3Ame%40example.com&amp;o=200">next (older)</a></pre>
</body></html>`

const lorePlain = `<html><body>
<pre>1. <b><a href="/r/abc.1-me@example.com">[PATCH] usb: fix</a></b>
    - by Some One @ 2023-12-01 12:30 UTC [100%]
2. <b><a href="def.2-me@example.com/">undated entry</a></b>
</pre>
<pre><a href="?q=x&amp;o=200">next</a> <a href="_/text/help/">help</a> <a href="https://example.org/me@example.com">elsewhere</a></pre>
</body></html>`

func TestLoreSnippetResults(t *testing.T) {
	var offsets []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/all/", r.URL.Path)
		assert.Equal(t, "a:me@example.com", r.URL.Query().Get("q"))
		offsets = append(offsets, r.URL.Query().Get("o"))
		if r.URL.Query().Get("o") != "" {
			_, _ = io.WriteString(w, `<html><body><pre>[No results found]</pre></body></html>`)
			return
		}
		_, _ = io.WriteString(w, loreSnippets)
	}))
	defer srv.Close()

	s := build(t, "lore", srv.URL, identity)
	p0, err := s.Page(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, p0, 2)

	assert.Equal(t, srv.URL+"/all/20240112101541.1234-1-me@example.com/", p0[0].String("url"))
	assert.Equal(t, "20240112101541.1234-1-me@example.com", p0[0].String("message_id"))
	assert.Equal(t, "2024-01-12 10:15:00", p0[0].String("date"))
	assert.Equal(t, "Some One", p0[0].String("author"))
	assert.Equal(t, "2024-01-10 08:00:00", p0[1].String("date"))

	ev, err := extractor().Extract(model.KernelPatch, p0[0])
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 12, 10, 15, 0, 0, time.UTC), ev.Date)
	assert.Equal(t, "net-next", ev.Attributes["subsystem"])
	assert.Equal(t, "patch", ev.Attributes["state"])

	reply, err := extractor().Extract(model.KernelPatch, p0[1])
	require.NoError(t, err)
	assert.Equal(t, "reply", reply.Attributes["state"])

	p1, err := s.Page(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, p1)
	assert.Equal(t, []string{"", "200"}, offsets)
}

func TestLorePreFallback(t *testing.T) {
	page, _ := url.Parse("https://lore.kernel.org/netdev/")
	recs, err := parseLoreResults(page, lorePlain)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, "https://lore.kernel.org/r/abc.1-me@example.com", recs[0].String("url"))
	assert.Equal(t, "abc.1-me@example.com", recs[0].String("message_id"))
	assert.Equal(t, "2023-12-01 12:30:00", recs[0].String("date"))

	assert.Equal(t, "https://lore.kernel.org/netdev/def.2-me@example.com/", recs[1].String("url"))
	assert.Equal(t, "", recs[1].String("date"))

	ev, err := extractor().Extract(model.KernelPatch, recs[1])
	require.NoError(t, err)
	assert.False(t, ev.HasDate())
	assert.Equal(t, "netdev", ev.Attributes["list"])
}

func TestLoreListAttribute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/netdev/", r.URL.Path)
		_, _ = io.WriteString(w, loreSnippets)
	}))
	defer srv.Close()

	s, err := NewFromConfig(config.SourceConfig{Type: "lore", BaseURL: srv.URL, List: "netdev"}, deps(identity))
	require.NoError(t, err)
	recs, err := s.Page(context.Background(), 0)
	require.NoError(t, err)
	require.NotEmpty(t, recs)
	assert.Equal(t, "netdev", recs[0].String("list"))
}
