package models

// BuilderMeta describes the capability of a registered builder: the data it
// consumes and the single datum it produces.
type BuilderMeta struct {
	Name        string   `json:"name"                  validate:"required" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description"`
	Consumes    []string `json:"consumes"              yaml:"consumes"`
	Optionals   []string `json:"optionals,omitempty"   yaml:"optionals"`
	Produces    string   `json:"produces"              validate:"required" yaml:"produces"`
}

// BuilderRegistry is the process-wide catalog of builder capabilities.
// Implementations must be safe for concurrent lookups.
type BuilderRegistry interface {
	Lookup(name string) (BuilderMeta, bool)
}

// DependencyGraph is the compiled structure attached to a flow. The flow only
// requires that it can produce an independent copy of itself.
type DependencyGraph interface {
	DeepCopy() DependencyGraph
}

// LoopReporter is implemented by graphs that can tell whether reaching the
// target requires re-invoking the same builder.
type LoopReporter interface {
	HasLoops() bool
}

// graphComparer is implemented by graphs that support value equality.
type graphComparer interface {
	Equal(other DependencyGraph) bool
}
