package postprocess

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/aheev/my-portfolio/internal/config"
	"github.com/aheev/my-portfolio/internal/model"
)

// Engine sets attributes on freshly extracted events. It never touches the
// identity key, title or date.
type Engine struct {
	kws  []keywordRule
	regs []regexRule
	maps []mapRule
}

type keywordRule struct {
	words []string
	attrs map[string]string
}

type regexRule struct {
	field string
	re    *regexp.Regexp
	attrs map[string]string
}

type mapRule struct {
	field   string
	outKey  string
	mapping map[string]string
}

// New compiles the rules. Rules with nothing to match on are skipped; an
// invalid expression is an error.
func New(cfg config.PostProcessConfig) (*Engine, error) {
	eng := &Engine{}
	for _, kr := range cfg.Keywords {
		words := make([]string, 0, len(kr.When))
		for _, w := range kr.When {
			if s := strings.TrimSpace(w); s != "" {
				words = append(words, strings.ToLower(s))
			}
		}
		if len(words) == 0 || len(kr.Attrs) == 0 {
			continue
		}
		eng.kws = append(eng.kws, keywordRule{words: words, attrs: kr.Attrs})
	}
	for i, rr := range cfg.Regex {
		if strings.TrimSpace(rr.Field) == "" || strings.TrimSpace(rr.Expr) == "" {
			continue
		}
		re, err := regexp.Compile(rr.Expr)
		if err != nil {
			return nil, fmt.Errorf("regex rule %d (%s): %w", i, rr.Field, err)
		}
		eng.regs = append(eng.regs, regexRule{field: rr.Field, re: re, attrs: rr.Attrs})
	}
	for _, mr := range cfg.Maps {
		if strings.TrimSpace(mr.Field) == "" || len(mr.Mapping) == 0 {
			continue
		}
		out := mr.OutKey
		if out == "" {
			out = mr.Field
		}
		eng.maps = append(eng.maps, mapRule{field: mr.Field, outKey: out, mapping: mr.Mapping})
	}
	return eng, nil
}

// Empty reports whether the engine has no rules.
func (e *Engine) Empty() bool {
	return e == nil || len(e.kws)+len(e.regs)+len(e.maps) == 0
}

func field(ev *model.Event, name string) string {
	switch strings.ToLower(name) {
	case "title":
		return ev.Title
	case "url", "key":
		return ev.Key
	case "source":
		return string(ev.Source)
	default:
		return ev.Attributes[name]
	}
}

// Apply runs keyword, regex and map rules in that order and returns the
// events with their attributes updated. Attribute maps are copied, never
// shared with the input.
func (e *Engine) Apply(events []model.Event) []model.Event {
	if e.Empty() || len(events) == 0 {
		return events
	}
	out := make([]model.Event, 0, len(events))
	for _, ev := range events {
		attrs := make(map[string]string, len(ev.Attributes)+2)
		for k, v := range ev.Attributes {
			attrs[k] = v
		}
		ev.Attributes = attrs

		// keyword rules: every word must appear in the title
		title := strings.ToLower(ev.Title)
		for _, kr := range e.kws {
			matched := true
			for _, w := range kr.words {
				if !strings.Contains(title, w) {
					matched = false
					break
				}
			}
			if matched {
				for k, v := range kr.attrs {
					ev.Attributes[k] = v
				}
			}
		}

		for _, rr := range e.regs {
			if val := field(&ev, rr.field); val != "" && rr.re.MatchString(val) {
				for k, v := range rr.attrs {
					ev.Attributes[k] = v
				}
			}
		}

		for _, mr := range e.maps {
			val := field(&ev, mr.field)
			if val == "" {
				continue
			}
			if mapped, ok := mr.mapping[val]; ok {
				ev.Attributes[mr.outKey] = mapped
			}
		}

		out = append(out, ev)
	}
	return out
}
