// Package extract maps raw upstream records onto canonical events.
//
// Field selection is table driven: every source has an ordered list of
// candidate fields for its identity, title, date and attributes, and the
// first non-empty candidate wins. Adding a source means adding a Table row.
package extract

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/aheev/my-portfolio/internal/model"
	"github.com/aheev/my-portfolio/internal/normalize"
)

// ErrMalformedRecord is returned when no identity can be derived from a record.
var ErrMalformedRecord = errors.New("malformed record")

// DefaultTitle replaces missing titles for sources without their own sentinel.
const DefaultTitle = "(untitled)"

// Extractor applies a field table and a Normalizer to raw records.
type Extractor struct {
	norm  *normalize.Normalizer
	table map[model.Source]Spec
}

func New(n *normalize.Normalizer) *Extractor {
	if n == nil {
		n = normalize.New()
	}
	return &Extractor{norm: n, table: Table}
}

// Extract produces one event from rec. A record without a usable identity
// yields ErrMalformedRecord; an unparseable date only leaves Date zero.
func (x *Extractor) Extract(src model.Source, rec Record) (model.Event, error) {
	spec, ok := x.table[src]
	if !ok {
		return model.Event{}, fmt.Errorf("extract: unknown source %q", src)
	}

	key := spec.identity(rec)
	if key == "" {
		return model.Event{}, fmt.Errorf("%w: %s record has no identity", ErrMalformedRecord, src)
	}

	raw := rec.First(spec.Title...)
	if spec.TitleLine {
		raw, _, _ = strings.Cut(raw, "\n")
	}
	title := CleanTitle(raw)
	if title == "" {
		title = spec.TitleDefault
		if title == "" {
			title = DefaultTitle
		}
	}

	ev := model.Event{
		Source:     src,
		Key:        key,
		Title:      title,
		Attributes: make(map[string]string, len(spec.Attributes)),
	}

	// First non-empty candidate wins even if it does not parse.
	for _, path := range spec.Dates {
		v, ok := rec.Lookup(path)
		if !ok || Stringify(v) == "" {
			continue
		}
		if t, ok := x.norm.ParseValue(v); ok {
			ev.Date = t
		}
		break
	}

	for _, a := range spec.Attributes {
		v := rec.First(a.Fields...)
		if v == "" && a.Derive != nil {
			v = a.Derive(key, title)
		}
		if v == "" {
			v = a.Default
		}
		if v != "" {
			ev.Attributes[a.Name] = v
		}
	}
	return ev, nil
}

// ExtractAll extracts every record, dropping malformed ones. Input order is
// preserved.
func (x *Extractor) ExtractAll(src model.Source, recs []Record) ([]model.Event, int) {
	out := make([]model.Event, 0, len(recs))
	dropped := 0
	for _, rec := range recs {
		ev, err := x.Extract(src, rec)
		if err != nil {
			dropped++
			continue
		}
		out = append(out, ev)
	}
	return out, dropped
}

// CleanTitle collapses whitespace and applies NFC normalization.
func CleanTitle(s string) string {
	return norm.NFC.String(strings.Join(strings.Fields(s), " "))
}
