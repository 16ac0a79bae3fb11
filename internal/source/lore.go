package source

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
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

const loreKernelOrg = "https://lore.kernel.org"

// "- by Some One @ 2024-01-12 10:15 UTC [100%]"
var loreTrailerRe = regexp.MustCompile(`(?:by\s+(.+?)\s+)?@\s+(\d{4}-\d{2}-\d{2})\s+(\d{2}:\d{2})(?::(\d{2}))?`)

// lore searches a public-inbox archive for messages from an author. The
// result page lists one subject link per message followed by a trailer with
// the author and date.
type lore struct {
	name    string
	baseURL string
	list    string
	size    int
	id      config.Identity
	http    *httpx.Client
	log     zerolog.Logger
}

func NewLore(name string, c config.SourceConfig, id config.Identity, hc *httpx.Client, log zerolog.Logger) *lore {
	list := strings.Trim(strings.TrimSpace(c.List), "/")
	if list == "" {
		list = "all"
	}
	return &lore{
		name:    name,
		baseURL: baseURL(c.BaseURL, loreKernelOrg),
		list:    list,
		size:    pageSize(c.PageSize, 200),
		id:      id,
		http:    hc,
		log:     log,
	}
}

func (s *lore) Name() string       { return s.name }
func (s *lore) Kind() model.Source { return model.KernelPatch }

func (s *lore) Page(ctx context.Context, page int) ([]extract.Record, error) {
	if s.id.KernelEmail == "" {
		return nil, fmt.Errorf("%w: lore needs an author email", ErrNotConfigured)
	}
	inbox := s.baseURL + "/" + s.list + "/"
	q := map[string]string{"q": "a:" + s.id.KernelEmail}
	if page > 0 {
		q["o"] = strconv.Itoa(page * s.size)
	}
	body, err := s.http.GetText(ctx, httpx.Request{
		URL:    inbox,
		Query:  q,
		Header: map[string]string{"Accept": "text/html,application/xhtml+xml"},
	})
	if err != nil {
		return nil, err
	}
	pageURL, err := url.Parse(inbox)
	if err != nil {
		return nil, fmt.Errorf("lore: %w", err)
	}
	recs, err := parseLoreResults(pageURL, body)
	if err != nil {
		return nil, err
	}
	if s.list != "all" {
		for _, r := range recs {
			r["list"] = s.list
		}
	}
	s.log.Debug().Int("page", page).Int("messages", len(recs)).Msg("lore search")
	return recs, nil
}

type loreHit struct {
	link    *html.Node
	trailer strings.Builder
}

// parseLoreResults prefers anchors with class snippet-subject. Without them
// it falls back to message links inside <pre> blocks: message-id paths
// (they contain '@') or /r/ redirects.
func parseLoreResults(pageURL *url.URL, body string) ([]extract.Record, error) {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse lore results: %w", err)
	}

	hits := collectHits(doc, func(a *html.Node, inPre bool) bool {
		return hasClass(a, "snippet-subject")
	})
	if len(hits) == 0 {
		hits = collectHits(doc, func(a *html.Node, inPre bool) bool {
			href := attr(a, "href")
			if !inPre || strings.HasPrefix(href, "?") || strings.HasPrefix(href, "#") || strings.Contains(href, "://") {
				return false
			}
			return strings.Contains(href, "@") || strings.HasPrefix(href, "/r/")
		})
	}

	out := make([]extract.Record, 0, len(hits))
	for _, h := range hits {
		u, ok := resolve(pageURL, attr(h.link, "href"))
		if !ok {
			continue
		}
		u.RawQuery, u.Fragment = "", ""
		rec := extract.Record{
			"url":     u.String(),
			"subject": text(h.link),
		}
		if mid := messageID(u); mid != "" {
			rec["message_id"] = mid
		}
		if m := loreTrailerRe.FindStringSubmatch(h.trailer.String()); m != nil {
			sec := m[4]
			if sec == "" {
				sec = "00"
			}
			rec["date"] = m[2] + " " + m[3] + ":" + sec
			if author := strings.TrimSpace(m[1]); author != "" {
				rec["author"] = author
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

// collectHits walks doc in order. Text seen after a matching link, up to the
// next one, becomes that link's trailer.
func collectHits(doc *html.Node, match func(a *html.Node, inPre bool) bool) []*loreHit {
	var hits []*loreHit
	var cur *loreHit
	var walk func(n *html.Node, inPre bool)
	walk = func(n *html.Node, inPre bool) {
		switch {
		case n.Type == html.ElementNode && n.DataAtom == atom.A && attr(n, "href") != "" && match(n, inPre):
			cur = &loreHit{link: n}
			hits = append(hits, cur)
			return
		case n.Type == html.TextNode && cur != nil:
			cur.trailer.WriteString(n.Data)
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.Pre {
			inPre = true
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, inPre)
		}
	}
	walk(doc, false)
	return hits
}

func messageID(u *url.URL) string {
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := len(parts) - 1; i >= 0; i-- {
		if strings.Contains(parts[i], "@") {
			if mid, err := url.PathUnescape(parts[i]); err == nil {
				return mid
			}
			return parts[i]
		}
	}
	return ""
}
