package models

import (
	"maps"
	"slices"
)

// TransientSet holds the names of data that only live for the duration of a
// single execution and never reach the persisted result.
type TransientSet map[string]struct{}

// NewTransientSet builds a set from the given names.
func NewTransientSet(names ...string) TransientSet {
	set := make(TransientSet, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}

	return set
}

func (s TransientSet) Add(name string) {
	s[name] = struct{}{}
}

func (s TransientSet) Remove(name string) {
	delete(s, name)
}

func (s TransientSet) Contains(name string) bool {
	_, ok := s[name]

	return ok
}

func (s TransientSet) Len() int {
	return len(s)
}

// Names returns the members in lexical order.
func (s TransientSet) Names() []string {
	return slices.Sorted(maps.Keys(s))
}

// Clone returns an independent copy. A nil set clones to an empty one.
func (s TransientSet) Clone() TransientSet {
	clone := make(TransientSet, len(s))
	maps.Copy(clone, s)

	return clone
}

// Equal reports whether both sets have the same members.
func (s TransientSet) Equal(other TransientSet) bool {
	if len(s) != len(other) {
		return false
	}

	for name := range s {
		if !other.Contains(name) {
			return false
		}
	}

	return true
}

// Strip returns a copy of data without any transient entry. data is left untouched.
func (s TransientSet) Strip(data map[string]any) map[string]any {
	result := make(map[string]any, len(data))

	for name, value := range data {
		if s.Contains(name) {
			continue
		}

		result[name] = value
	}

	return result
}
