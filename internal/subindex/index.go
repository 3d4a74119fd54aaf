// Package subindex maintains inverted maps from single filter criteria to
// subscription ids so the propagation pipeline can shortlist candidates in
// O(matching-criteria) time instead of scanning every subscription.
package subindex

import (
	"strings"
	"sync"

	"ilprelay/internal/event"
)

type Index struct {
	mu      sync.Mutex
	authors map[string]map[string]struct{}
	kinds   map[int]map[string]struct{}
	tags    map[string]map[string]struct{}
}

type Stats struct {
	Authors   int `json:"authors"`
	Kinds     int `json:"kinds"`
	Tags      int `json:"tags"`
	CrossRefs int `json:"cross_refs"`
}

func New() *Index {
	return &Index{
		authors: make(map[string]map[string]struct{}),
		kinds:   make(map[int]map[string]struct{}),
		tags:    make(map[string]map[string]struct{}),
	}
}

// Add registers id under every author, kind and tag pair appearing in every
// filter. A filter with no criteria is not indexed under anything; callers
// that want catch-all delivery must arrange it elsewhere.
func (x *Index) Add(id string, filters []event.Filter) {
	if x == nil || id == "" {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, f := range filters {
		for _, author := range f.Authors {
			addRef(x.authors, strings.ToLower(author), id)
		}
		for _, kind := range f.Kinds {
			addRef(x.kinds, kind, id)
		}
		for key, values := range f.Tags {
			name := strings.TrimPrefix(key, "#")
			for _, v := range values {
				addRef(x.tags, name+":"+v, id)
			}
		}
	}
}

// Remove de-registers id from every criterion of filters, pruning sets that
// become empty. It must be called with the same filters Add was.
func (x *Index) Remove(id string, filters []event.Filter) {
	if x == nil || id == "" {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, f := range filters {
		for _, author := range f.Authors {
			dropRef(x.authors, strings.ToLower(author), id)
		}
		for _, kind := range f.Kinds {
			dropRef(x.kinds, kind, id)
		}
		for key, values := range f.Tags {
			name := strings.TrimPrefix(key, "#")
			for _, v := range values {
				dropRef(x.tags, name+":"+v, id)
			}
		}
	}
}

// FindCandidates returns the union of ids indexed under the event's author,
// kind and tag pairs. The result is a superset of true matches: the index
// narrows by single criteria only, so callers must still re-check full filter
// satisfaction before delivering.
func (x *Index) FindCandidates(ev *event.Event) map[string]struct{} {
	out := make(map[string]struct{})
	if x == nil || ev == nil {
		return out
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	for id := range x.authors[strings.ToLower(ev.PubKey)] {
		out[id] = struct{}{}
	}
	for id := range x.kinds[ev.Kind] {
		out[id] = struct{}{}
	}
	for _, tag := range ev.Tags {
		if len(tag) < 2 {
			continue
		}
		for id := range x.tags[tag[0]+":"+tag[1]] {
			out[id] = struct{}{}
		}
	}
	return out
}

func (x *Index) Stats() Stats {
	var s Stats
	if x == nil {
		return s
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	s.Authors = len(x.authors)
	s.Kinds = len(x.kinds)
	s.Tags = len(x.tags)
	for _, set := range x.authors {
		s.CrossRefs += len(set)
	}
	for _, set := range x.kinds {
		s.CrossRefs += len(set)
	}
	for _, set := range x.tags {
		s.CrossRefs += len(set)
	}
	return s
}

func addRef[K comparable](m map[K]map[string]struct{}, key K, id string) {
	set, ok := m[key]
	if !ok {
		set = make(map[string]struct{})
		m[key] = set
	}
	set[id] = struct{}{}
}

func dropRef[K comparable](m map[K]map[string]struct{}, key K, id string) {
	set, ok := m[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(m, key)
	}
}
