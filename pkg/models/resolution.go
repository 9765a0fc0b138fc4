package models

import (
	"maps"
	"slices"
)

// ResolutionMap picks the builder to use for a datum that more than one
// registered builder can produce. Keys are datum names, values builder names.
type ResolutionMap map[string]string

// Resolve returns the builder chosen for the datum, if any.
func (r ResolutionMap) Resolve(datum string) (string, bool) {
	builder, ok := r[datum]

	return builder, ok
}

// Set records builder as the producer for datum.
func (r ResolutionMap) Set(datum, builder string) {
	r[datum] = builder
}

// Delete drops the entry for datum.
func (r ResolutionMap) Delete(datum string) {
	delete(r, datum)
}

func (r ResolutionMap) Len() int {
	return len(r)
}

// Datums returns the resolved datum names in lexical order.
func (r ResolutionMap) Datums() []string {
	return slices.Sorted(maps.Keys(r))
}

// Clone returns an independent copy. A nil map clones to an empty one.
func (r ResolutionMap) Clone() ResolutionMap {
	clone := make(ResolutionMap, len(r))
	maps.Copy(clone, r)

	return clone
}

// Equal reports whether both maps hold the same entries. Nil and empty are equal.
func (r ResolutionMap) Equal(other ResolutionMap) bool {
	return maps.Equal(r, other)
}
