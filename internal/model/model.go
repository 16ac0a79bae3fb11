package model

import (
	"sort"
	"time"
)

// Source identifies the upstream system an Event came from.
type Source string

const (
	PullRequest  Source = "pull_request"
	Ticket       Source = "ticket"
	KernelCommit Source = "kernel_commit"
	KernelPatch  Source = "kernel_patch"
	Article      Source = "article"
)

// Unknown is the sentinel used for attributes that could not be derived.
const Unknown = "unknown"

var sourceKeys = map[Source]string{
	PullRequest:  "pull_requests",
	Ticket:       "tickets",
	KernelCommit: "commits",
	KernelPatch:  "patches",
	Article:      "articles",
}

var sourceFiles = map[Source]string{
	PullRequest:  "github.json",
	Ticket:       "jira.json",
	KernelCommit: "kernel_commits.json",
	KernelPatch:  "kernel_patches.json",
	Article:      "blogs.json",
}

// Names older data directories used for the same documents.
var legacyFiles = map[Source][]string{
	Ticket:       {"kafka_jira.json"},
	KernelCommit: {"linux_commits.json", "gitkernel.json"},
	KernelPatch:  {"linux_patches.json"},
}

// LegacyFiles lists file names read when File does not exist yet, in order
// of preference.
func (s Source) LegacyFiles() []string { return legacyFiles[s] }

// AllSources returns every known source in report order.
func AllSources() []Source {
	return []Source{PullRequest, Ticket, KernelCommit, KernelPatch, Article}
}

// Key is the top-level key of the source's persisted document and its
// series name in the analytics report.
func (s Source) Key() string {
	if k, ok := sourceKeys[s]; ok {
		return k
	}
	return string(s)
}

// File is the file name of the source's persisted document.
func (s Source) File() string {
	if f, ok := sourceFiles[s]; ok {
		return f
	}
	return string(s) + ".json"
}

func (s Source) Valid() bool {
	_, ok := sourceKeys[s]
	return ok
}

// ParseSource accepts either the source tag or its document key.
func ParseSource(v string) (Source, bool) {
	for _, s := range AllSources() {
		if v == string(s) || v == s.Key() {
			return s, true
		}
	}
	return "", false
}

// Event is the normalized representation for all sources.
type Event struct {
	Source     Source
	Key        string    // canonical URL or permanent remote id; sole dedup key
	Title      string    // never empty once extracted
	Date       time.Time // UTC, second precision; zero means unknown
	Attributes map[string]string
}

func (e Event) HasDate() bool { return !e.Date.IsZero() }

// Attr returns the named attribute or Unknown.
func (e Event) Attr(name string) string {
	if v := e.Attributes[name]; v != "" {
		return v
	}
	return Unknown
}

// SortNewestFirst orders events by date descending. Events without a date
// sort last; ties keep their relative order.
func SortNewestFirst(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.HasDate() != b.HasDate() {
			return a.HasDate()
		}
		return a.Date.After(b.Date)
	})
}
