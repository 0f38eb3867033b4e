// Package relay implements the fan-out client for the append-only relay
// log: concurrent connect, deduplicating query, and confirmed publish
// across a set of interchangeable, unreliable endpoints.
package relay

import (
	"encoding/json"

	"github.com/packrelay/packrelay/internal/fact"
)

// Filter selects facts on a relay subscription. Zero-value fields are
// omitted from the wire form. Tag selectors are keyed by tag name and
// serialized with the "#" prefix the log protocol uses.
type Filter struct {
	IDs     []string
	Authors []string
	Kinds   []fact.Kind
	Tags    map[string][]string
	Limit   int
}

// MarshalJSON renders the wire form, e.g.
// {"kinds":[35000],"#d":["order-1"],"limit":500}.
func (f Filter) MarshalJSON() ([]byte, error) {
	m := make(map[string]any)
	if len(f.IDs) > 0 {
		m["ids"] = f.IDs
	}
	if len(f.Authors) > 0 {
		m["authors"] = f.Authors
	}
	if len(f.Kinds) > 0 {
		m["kinds"] = f.Kinds
	}
	for name, values := range f.Tags {
		if len(values) > 0 {
			m["#"+name] = values
		}
	}
	if f.Limit > 0 {
		m["limit"] = f.Limit
	}
	return json.Marshal(m)
}

// Matches reports whether f's constraints all hold for fct. Limit is a
// result bound, not a match constraint, and is ignored here.
func (f Filter) Matches(fct fact.Fact) bool {
	if len(f.Kinds) > 0 && !containsKind(f.Kinds, fct.Kind) {
		return false
	}
	if len(f.IDs) > 0 && !containsString(f.IDs, fct.ID) {
		return false
	}
	if len(f.Authors) > 0 && !containsString(f.Authors, fct.Author) {
		return false
	}
	for name, values := range f.Tags {
		if len(values) == 0 {
			continue
		}
		v, ok := fct.TagValue(name)
		if !ok || !containsString(values, v) {
			return false
		}
	}
	return true
}

func containsKind(kinds []fact.Kind, k fact.Kind) bool {
	for _, kind := range kinds {
		if kind == k {
			return true
		}
	}
	return false
}

func containsString(values []string, v string) bool {
	for _, value := range values {
		if value == v {
			return true
		}
	}
	return false
}

// KindFilter is the common query shape: all facts of one kind.
func KindFilter(kind fact.Kind, limit int) Filter {
	return Filter{Kinds: []fact.Kind{kind}, Limit: limit}
}
