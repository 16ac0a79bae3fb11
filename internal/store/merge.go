package store

import "github.com/aheev/my-portfolio/internal/model"

// Merger folds freshly extracted events into a persisted store.
//
// Existing events are never reordered, rewritten or removed. Events whose key
// is new are collected in the order offered and placed ahead of the existing
// events, so a newest-first upstream keeps the store newest-first. The merger
// also tracks how many already-known keys were seen in a row, which lets a
// paginating caller stop fetching once it reaches history it already has.
type Merger struct {
	existing  []model.Event
	fresh     []model.Event
	seen      map[string]struct{}
	threshold int
	known     int // contiguous already-known keys, across Offer calls
}

// NewMerger starts a merge against existing. A threshold <= 0 disables the
// early-stop signal.
func NewMerger(existing []model.Event, threshold int) *Merger {
	seen := make(map[string]struct{}, len(existing))
	for _, e := range existing {
		seen[e.Key] = struct{}{}
	}
	return &Merger{existing: existing, seen: seen, threshold: threshold}
}

// Offer merges one page of incoming events and returns how many were new.
// A key repeated within the incoming stream counts as known the second time.
func (m *Merger) Offer(incoming []model.Event) int {
	added := 0
	for _, e := range incoming {
		if _, ok := m.seen[e.Key]; ok {
			m.known++
			continue
		}
		m.known = 0
		m.seen[e.Key] = struct{}{}
		m.fresh = append(m.fresh, e)
		added++
	}
	return added
}

// Stop reports whether the contiguous run of known keys reached the
// threshold. It is a fetch-cost hint only; ignoring it never changes the
// merged result.
func (m *Merger) Stop() bool {
	return m.threshold > 0 && m.known >= m.threshold
}

// Known returns the current run of contiguous already-known keys.
func (m *Merger) Known() int { return m.known }

// Result returns the merged store and the number of events added so far.
// The returned slice is freshly allocated; existing is not modified.
func (m *Merger) Result() ([]model.Event, int) {
	out := make([]model.Event, 0, len(m.fresh)+len(m.existing))
	out = append(out, m.fresh...)
	out = append(out, m.existing...)
	return out, len(m.fresh)
}

// Merge combines existing and incoming in one step.
func Merge(existing, incoming []model.Event) ([]model.Event, int) {
	m := NewMerger(existing, 0)
	m.Offer(incoming)
	return m.Result()
}
