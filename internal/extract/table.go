package extract

import (
	"fmt"

	"github.com/aheev/my-portfolio/internal/model"
)

// Candidate is one way to obtain an identity. Format, when set, is a
// printf template turning a remote id into a canonical URL.
type Candidate struct {
	Field  string
	Format string
}

// AttrSpec describes one attribute: candidate fields first, then a
// derivation from the identity and title, then Default. An empty Default
// leaves the attribute unset.
type AttrSpec struct {
	Name    string
	Fields  []string
	Derive  func(key, title string) string
	Default string
}

// Spec is the field-priority row for one source.
type Spec struct {
	Identity     []Candidate
	Title        []string
	TitleLine    bool // keep only the first line (commit messages)
	TitleDefault string
	Dates        []string
	Attributes   []AttrSpec
}

func (s Spec) identity(rec Record) string {
	for _, c := range s.Identity {
		v := rec.String(c.Field)
		if v == "" {
			continue
		}
		if c.Format != "" {
			return fmt.Sprintf(c.Format, v)
		}
		return v
	}
	return ""
}

const (
	jiraBrowse  = "https://issues.apache.org/jira/browse/%s"
	linuxCommit = "https://git.kernel.org/pub/scm/linux/kernel/git/torvalds/linux.git/commit/?id=%s"
	loreMessage = "https://lore.kernel.org/all/%s/"
)

// LinuxCommitURL is the identity of a mainline kernel commit.
func LinuxCommitURL(sha string) string { return fmt.Sprintf(linuxCommit, sha) }

// Table holds the candidate-field priorities for every source.
var Table = map[model.Source]Spec{
	model.PullRequest: {
		Identity: []Candidate{{Field: "html_url"}, {Field: "url"}, {Field: "permalink"}},
		Title:    []string{"title"},
		Dates:    []string{"mergedAt", "merged_at", "closedAt", "closed_at", "createdAt", "created_at", "date"},
		Attributes: []AttrSpec{
			{Name: "repo", Fields: []string{"repository.nameWithOwner", "repo", "base.repo.full_name"}, Derive: RepoFromURL, Default: model.Unknown},
			{Name: "state", Fields: []string{"state"}, Default: model.Unknown},
			{Name: "language", Fields: []string{"repository.primaryLanguage.name", "language"}, Default: model.Unknown},
		},
	},
	model.Ticket: {
		Identity:     []Candidate{{Field: "html_url"}, {Field: "url"}, {Field: "key", Format: jiraBrowse}},
		Title:        []string{"fields.summary", "summary", "title"},
		TitleDefault: "No Summary",
		Dates:        []string{"fields.created", "created", "date"},
		Attributes: []AttrSpec{
			{Name: "key", Fields: []string{"key"}, Derive: TicketKeyFromURL},
			{Name: "status", Fields: []string{"fields.status.name", "status"}, Default: model.Unknown},
			{Name: "project", Fields: []string{"fields.project.key", "project"}, Derive: ProjectFromTicketKey, Default: model.Unknown},
		},
	},
	model.KernelCommit: {
		// Keyed by commit id so the GitHub search and cgit shapes of one
		// commit collapse into a single event.
		Identity: []Candidate{
			{Field: "commit_url"},
			{Field: "sha", Format: linuxCommit},
			{Field: "id", Format: linuxCommit},
			{Field: "html_url"},
			{Field: "url"},
		},
		Title:     []string{"title", "commit.message", "subject"},
		TitleLine: true,
		Dates:     []string{"date", "commit.author.date", "commit.committer.date", "age"},
		Attributes: []AttrSpec{
			{Name: "subsystem", Fields: []string{"subsystem"}, Derive: SubsystemFromTitle, Default: model.Unknown},
			{Name: "sha", Fields: []string{"sha", "id"}, Derive: CommitFromURL},
		},
	},
	model.KernelPatch: {
		Identity: []Candidate{{Field: "url"}, {Field: "message_id", Format: loreMessage}},
		Title:    []string{"subject", "title"},
		Dates:    []string{"date", "age"},
		Attributes: []AttrSpec{
			{Name: "subsystem", Fields: []string{"subsystem"}, Derive: SubsystemFromTitle, Default: model.Unknown},
			{Name: "state", Fields: []string{"state"}, Derive: PatchStateFromTitle, Default: "patch"},
			{Name: "list", Fields: []string{"list"}, Derive: ListFromURL, Default: model.Unknown},
		},
	},
	model.Article: {
		Identity: []Candidate{{Field: "url"}, {Field: "canonical_url"}},
		Title:    []string{"title"},
		Dates:    []string{"published_at", "published_timestamp", "date", "created_at"},
		Attributes: []AttrSpec{
			{Name: "tags", Fields: []string{"tag_list", "tags"}},
			{Name: "description", Fields: []string{"description", "desc"}},
		},
	},
}
