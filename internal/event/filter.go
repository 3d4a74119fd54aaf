package event

import "strings"

// Filter narrows the events a subscription receives. Every criterion present
// must hold for the filter to match (AND); a subscription matches when any of
// its filters matches (OR).
type Filter struct {
	Authors []string            `json:"authors,omitempty"`
	Kinds   []int               `json:"kinds,omitempty"`
	Tags    map[string][]string `json:"tags,omitempty"`
	Since   int64               `json:"since,omitempty"`
	Until   int64               `json:"until,omitempty"`
	Limit   int                 `json:"limit,omitempty"`
}

// IsCatchAll reports whether the filter carries no criteria at all. Such
// filters are never indexed; see subindex.
func (f Filter) IsCatchAll() bool {
	return len(f.Authors) == 0 && len(f.Kinds) == 0 && len(f.Tags) == 0 &&
		f.Since == 0 && f.Until == 0
}

// Matches applies full AND semantics across all criteria present in f.
func (f Filter) Matches(ev *Event) bool {
	if ev == nil {
		return false
	}
	if len(f.Authors) > 0 && !containsFold(f.Authors, ev.PubKey) {
		return false
	}
	if len(f.Kinds) > 0 && !containsInt(f.Kinds, ev.Kind) {
		return false
	}
	if f.Since > 0 && ev.CreatedAt < f.Since {
		return false
	}
	if f.Until > 0 && ev.CreatedAt > f.Until {
		return false
	}
	for key, wanted := range f.Tags {
		if len(wanted) == 0 {
			continue
		}
		name := strings.TrimPrefix(key, "#")
		values := ev.TagValues(name)
		if !intersects(values, wanted) {
			return false
		}
	}
	return true
}

// MatchesAny reports whether any filter in the set matches ev. An empty set
// matches nothing.
func MatchesAny(filters []Filter, ev *Event) bool {
	for _, f := range filters {
		if f.Matches(ev) {
			return true
		}
	}
	return false
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

func containsInt(list []int, v int) bool {
	for _, n := range list {
		if n == v {
			return true
		}
	}
	return false
}

func intersects(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
