// Package protocol defines the interfaces and contracts for pluggable builders.
package protocol

// Builder is a registered unit of computation that consumes named data and
// produces exactly one named datum.
type Builder interface {
	// ID returns the unique name the builder is registered under
	ID() string

	// Description returns a description of what this builder produces
	Description() string

	// Consumes returns the data the builder requires
	Consumes() []string

	// Optionals returns the data the builder uses when present
	Optionals() []string

	// Produces returns the datum the builder generates
	Produces() string
}
