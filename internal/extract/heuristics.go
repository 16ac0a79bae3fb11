package extract

import (
	"net/url"
	"regexp"
	"strings"
)

// Best-effort attribute derivations. They never fail; an empty result lets
// the table default apply.

var (
	versionTag = regexp.MustCompile(`^(?i:v\d+|\d+/\d+)$`)
	ticketKey  = regexp.MustCompile(`^[A-Z][A-Z0-9_]+-\d+$`)
	commitID   = regexp.MustCompile(`^[0-9a-f]{7,40}$`)
)

var bracketNoise = map[string]bool{
	"PATCH":  true,
	"RFC":    true,
	"RESEND": true,
	"RFT":    true,
	"GIT":    true,
	"PULL":   true,
}

// RepoFromURL turns https://github.com/<owner>/<repo>/... into owner/repo.
func RepoFromURL(key, _ string) string {
	u, err := url.Parse(key)
	if err != nil || !strings.HasSuffix(strings.ToLower(u.Host), "github.com") {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if strings.EqualFold(u.Host, "api.github.com") && len(parts) >= 3 && parts[0] == "repos" {
		parts = parts[1:]
	}
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return ""
	}
	return parts[0] + "/" + parts[1]
}

// bracketTokens splits "[PATCH net-next v2 1/3] rest" into its bracket
// tokens and the remainder. Several leading bracket groups are merged.
func bracketTokens(title string) ([]string, string) {
	var tokens []string
	rest := strings.TrimSpace(title)
	for strings.HasPrefix(rest, "[") {
		end := strings.Index(rest, "]")
		if end < 0 {
			break
		}
		tokens = append(tokens, strings.Fields(rest[1:end])...)
		rest = strings.TrimSpace(rest[end+1:])
	}
	return tokens, rest
}

// SubsystemFromTitle reads a subsystem tag from a kernel subject line. A
// bracketed prefix wins ("[PATCH net-next v2 1/3]" -> net-next); otherwise
// a leading "subsys: " prefix is used ("drm/amd: fix x" -> drm/amd).
func SubsystemFromTitle(_, title string) string {
	tokens, rest := bracketTokens(stripReply(title))
	for _, tok := range tokens {
		if bracketNoise[strings.ToUpper(tok)] || versionTag.MatchString(tok) {
			continue
		}
		return strings.ToLower(tok)
	}
	prefix, _, ok := strings.Cut(rest, ": ")
	if !ok || prefix == "" || len(prefix) > 40 || strings.ContainsAny(prefix, " \t[]") {
		return ""
	}
	return prefix
}

func stripReply(title string) string {
	t := strings.TrimSpace(title)
	for {
		lower := strings.ToLower(t)
		switch {
		case strings.HasPrefix(lower, "re:"):
			t = strings.TrimSpace(t[3:])
		case strings.HasPrefix(lower, "fwd:"):
			t = strings.TrimSpace(t[4:])
		default:
			return t
		}
	}
}

// PatchStateFromTitle classifies a mailing-list subject.
func PatchStateFromTitle(_, title string) string {
	t := strings.TrimSpace(title)
	if strings.HasPrefix(strings.ToLower(t), "re:") {
		return "reply"
	}
	tokens, _ := bracketTokens(t)
	state := ""
	for _, tok := range tokens {
		switch strings.ToUpper(tok) {
		case "RFC":
			return "rfc"
		case "PULL":
			state = "pull"
		case "PATCH":
			if state == "" {
				state = "patch"
			}
		}
	}
	return state
}

// ListFromURL returns the public-inbox list of a lore.kernel.org URL.
func ListFromURL(key, _ string) string {
	u, err := url.Parse(key)
	if err != nil || !strings.Contains(u.Host, "lore.kernel.org") {
		return ""
	}
	first, _, _ := strings.Cut(strings.Trim(u.Path, "/"), "/")
	switch first {
	case "", "all", "r":
		return ""
	}
	return first
}

// TicketKeyFromURL returns KAFKA-123 from a Jira browse URL.
func TicketKeyFromURL(key, _ string) string {
	i := strings.LastIndex(strings.TrimRight(key, "/"), "/")
	if i < 0 {
		return ""
	}
	k := strings.TrimRight(key, "/")[i+1:]
	if ticketKey.MatchString(k) {
		return k
	}
	return ""
}

// ProjectFromTicketKey returns KAFKA from a ticket URL ending in KAFKA-123.
func ProjectFromTicketKey(key, title string) string {
	k := TicketKeyFromURL(key, title)
	if k == "" {
		return ""
	}
	project, _, _ := strings.Cut(k, "-")
	return project
}

// CommitFromURL returns the commit id from a cgit or GitHub commit URL.
func CommitFromURL(key, _ string) string {
	u, err := url.Parse(key)
	if err != nil {
		return ""
	}
	if id := u.Query().Get("id"); commitID.MatchString(id) {
		return id
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if last := parts[len(parts)-1]; commitID.MatchString(last) {
		return last
	}
	return ""
}
