package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aheev/my-portfolio/internal/extract"
	"github.com/aheev/my-portfolio/internal/model"
	"github.com/aheev/my-portfolio/internal/normalize"
)

var (
	// ErrPersistence wraps every failure to write a document.
	ErrPersistence = errors.New("persistence failure")
	// ErrCorrupt is returned when an existing document cannot be decoded.
	// Callers must not overwrite such a file.
	ErrCorrupt = errors.New("corrupt document")
)

// Fields owned by the document layout; attributes never shadow them.
var reserved = map[string]bool{"title": true, "url": true, "date": true}

// Path returns the document path for src under dir.
func Path(dir string, src model.Source) string {
	return filepath.Join(dir, src.File())
}

// Load reads the events persisted for src. A missing file is an empty
// store. Besides {"<key>": [...]} it accepts the older {"items": [...]} and
// bare-array layouts. Stored dates are parsed back verbatim and never
// re-resolved from relative text.
func Load(path string, src model.Source) ([]model.Event, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, nil
	}

	var items []json.RawMessage
	var obj map[string]json.RawMessage
	switch {
	case json.Unmarshal(b, &obj) == nil:
		raw, ok := obj[src.Key()]
		if !ok {
			raw, ok = obj["items"]
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s has no %q list", ErrCorrupt, path, src.Key())
		}
		if string(bytes.TrimSpace(raw)) == "null" {
			return nil, nil
		}
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
		}
	case json.Unmarshal(b, &items) == nil:
	default:
		return nil, fmt.Errorf("%w: %s is not a JSON object or array", ErrCorrupt, path)
	}

	events := make([]model.Event, 0, len(items))
	for i, raw := range items {
		ev, err := decodeEvent(raw, src)
		if err != nil {
			return nil, fmt.Errorf("%w: %s entry %d: %v", ErrCorrupt, path, i, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// Save writes events for src as {"<key>": [...]} replacing the whole file
// atomically.
func Save(path string, src model.Source, events []model.Event) error {
	items := make([]json.RawMessage, 0, len(events))
	for _, e := range events {
		b, err := encodeEvent(e)
		if err != nil {
			return fmt.Errorf("%w: encode %s: %v", ErrPersistence, e.Key, err)
		}
		items = append(items, b)
	}
	return WriteJSON(path, map[string][]json.RawMessage{src.Key(): items})
}

func encodeEvent(e model.Event) (json.RawMessage, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	write := func(k string, v any) error {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		vb, err := json.Marshal(v)
		if err != nil {
			return err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
		return nil
	}

	var date any
	if e.HasDate() {
		date = normalize.Format(e.Date)
	}
	if err := write("title", e.Title); err != nil {
		return nil, err
	}
	if err := write("url", e.Key); err != nil {
		return nil, err
	}
	if err := write("date", date); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(e.Attributes))
	for k := range e.Attributes {
		if !reserved[k] {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	for _, k := range names {
		if err := write(k, e.Attributes[k]); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func decodeEvent(raw json.RawMessage, src model.Source) (model.Event, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return model.Event{}, err
	}

	rec := extract.Record(fields)
	ev := model.Event{
		Source:     src,
		Key:        rec.First("url", "html_url", "id"),
		Title:      rec.String("title"),
		Attributes: make(map[string]string),
	}
	if ev.Title == "" {
		ev.Title = rec.First("subject", "summary")
	}
	if ev.Title == "" {
		ev.Title = extract.DefaultTitle
	}
	if d := rec.String("date"); d != "" {
		if t, ok := normalize.Absolute(d); ok {
			ev.Date = t
		} else {
			ev.Attributes["date_raw"] = d
		}
	}
	for k, v := range fields {
		if reserved[k] {
			continue
		}
		if s := extract.Stringify(v); s != "" {
			ev.Attributes[k] = s
		}
	}
	return ev, nil
}

// WriteJSON marshals v with indentation and replaces path atomically: the
// data goes to a temporary file in the same directory which is synced and
// renamed over the target.
func WriteJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal %s: %v", ErrPersistence, path, err)
	}
	b = append(b, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	name := tmp.Name()
	cleanup := func() { _ = os.Remove(name) }

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("%w: write %s: %v", ErrPersistence, name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("%w: sync %s: %v", ErrPersistence, name, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("%w: close %s: %v", ErrPersistence, name, err)
	}
	if err := os.Chmod(name, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("%w: chmod %s: %v", ErrPersistence, name, err)
	}
	if err := os.Rename(name, path); err != nil {
		cleanup()
		return fmt.Errorf("%w: rename %s: %v", ErrPersistence, path, err)
	}
	return nil
}

// Files keeps one document per source under Dir.
type Files struct {
	Dir string
}

func (f Files) Path(src model.Source) string { return Path(f.Dir, src) }

// Load reads the document for src. Until one has been written it falls back
// to the first legacy file that exists; the next Save writes the current
// name, so history carries over once.
func (f Files) Load(src model.Source) ([]model.Event, error) {
	path := f.Path(src)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		for _, name := range src.LegacyFiles() {
			legacy := filepath.Join(f.Dir, name)
			if _, err := os.Stat(legacy); err == nil {
				events, err := Load(legacy, src)
				if err != nil {
					return nil, err
				}
				return migrate(src, events), nil
			}
		}
	}
	return Load(path, src)
}

func (f Files) Save(src model.Source, events []model.Event) error {
	return Save(f.Path(src), src, events)
}

const githubLinuxCommit = "https://github.com/torvalds/linux/commit/"

// migrate rekeys legacy mainline commits recorded by their GitHub page so
// they match the keys fetched now.
func migrate(src model.Source, events []model.Event) []model.Event {
	if src != model.KernelCommit {
		return events
	}
	for i, e := range events {
		if !strings.HasPrefix(e.Key, githubLinuxCommit) {
			continue
		}
		if sha := extract.CommitFromURL(e.Key, ""); sha != "" {
			events[i].Key = extract.LinuxCommitURL(sha)
		}
	}
	return dedupe(events)
}

func dedupe(events []model.Event) []model.Event {
	seen := make(map[string]bool, len(events))
	out := events[:0]
	for _, e := range events {
		if seen[e.Key] {
			continue
		}
		seen[e.Key] = true
		out = append(out, e)
	}
	return out
}
