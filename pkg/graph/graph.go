// Package graph provides the dependency graph attached to a compiled dataflow.
//
// An ExecutionGraph records which builder feeds which, and the per-run
// execution counters of each builder. It is not safe for concurrent
// mutation: a registered flow's graph is only ever read, and each execution
// mutates the graph of its own clone.
package graph

import (
	"fmt"
	"maps"
	"slices"

	"github.com/dukex/dataflow/pkg/models"
)

// ExecutionGraph is the reference models.DependencyGraph implementation.
type ExecutionGraph struct {
	target     string
	vertices   map[string]*vertex
	order      []string
	executions map[string]int
}

type vertex struct {
	meta      models.BuilderMeta
	dependsOn map[string]struct{}
}

// New creates an empty graph for the given target datum. The zero value is
// an empty graph with no target.
func New(target string) *ExecutionGraph {
	return &ExecutionGraph{
		target:     target,
		vertices:   make(map[string]*vertex),
		executions: make(map[string]int),
	}
}

func (g *ExecutionGraph) Target() string {
	return g.target
}

// AddBuilder adds a builder vertex. Adding an existing builder replaces its metadata.
func (g *ExecutionGraph) AddBuilder(meta models.BuilderMeta) {
	if g.vertices == nil {
		g.vertices = make(map[string]*vertex)
	}

	if v, ok := g.vertices[meta.Name]; ok {
		v.meta = meta

		return
	}

	g.vertices[meta.Name] = &vertex{
		meta:      meta,
		dependsOn: make(map[string]struct{}),
	}
	g.order = append(g.order, meta.Name)
}

// AddDependency records that builder consumes the output of dependsOn.
// A builder depending on itself is a loop, not an error.
func (g *ExecutionGraph) AddDependency(builder, dependsOn string) error {
	v, ok := g.vertices[builder]
	if !ok {
		return fmt.Errorf("builder not found in graph: %s", builder)
	}

	if _, ok := g.vertices[dependsOn]; !ok {
		return fmt.Errorf("dependency not found in graph: %s", dependsOn)
	}

	v.dependsOn[dependsOn] = struct{}{}

	return nil
}

// Builders returns builder names in insertion order.
func (g *ExecutionGraph) Builders() []string {
	return slices.Clone(g.order)
}

// Builder returns the metadata of a builder in the graph.
func (g *ExecutionGraph) Builder(name string) (models.BuilderMeta, bool) {
	v, ok := g.vertices[name]
	if !ok {
		return models.BuilderMeta{}, false
	}

	return v.meta, true
}

// DependenciesOf returns the builders that name depends on, sorted.
func (g *ExecutionGraph) DependenciesOf(name string) ([]string, error) {
	v, ok := g.vertices[name]
	if !ok {
		return nil, fmt.Errorf("builder not found in graph: %s", name)
	}

	return slices.Sorted(maps.Keys(v.dependsOn)), nil
}

// HasLoops reports whether any builder is reachable from itself.
func (g *ExecutionGraph) HasLoops() bool {
	const (
		unvisited = iota
		visiting
		done
	)

	state := make(map[string]int, len(g.vertices))

	var visit func(name string) bool
	visit = func(name string) bool {
		switch state[name] {
		case visiting:
			return true
		case done:
			return false
		}

		state[name] = visiting

		for dep := range g.vertices[name].dependsOn {
			if visit(dep) {
				return true
			}
		}

		state[name] = done

		return false
	}

	for _, name := range g.order {
		if state[name] == unvisited && visit(name) {
			return true
		}
	}

	return false
}

// MarkExecuted bumps the execution counter of a builder and returns the new count.
func (g *ExecutionGraph) MarkExecuted(name string) int {
	if g.executions == nil {
		g.executions = make(map[string]int)
	}

	g.executions[name]++

	return g.executions[name]
}

// Executions returns how many times a builder ran in this graph's execution.
func (g *ExecutionGraph) Executions(name string) int {
	return g.executions[name]
}

// DeepCopy duplicates structure and execution state. g is only read.
func (g *ExecutionGraph) DeepCopy() models.DependencyGraph {
	clone := &ExecutionGraph{
		target:     g.target,
		vertices:   make(map[string]*vertex, len(g.vertices)),
		order:      slices.Clone(g.order),
		executions: maps.Clone(g.executions),
	}

	if clone.executions == nil {
		clone.executions = make(map[string]int)
	}

	for name, v := range g.vertices {
		meta := v.meta
		meta.Consumes = slices.Clone(v.meta.Consumes)
		meta.Optionals = slices.Clone(v.meta.Optionals)

		clone.vertices[name] = &vertex{
			meta:      meta,
			dependsOn: maps.Clone(v.dependsOn),
		}
	}

	return clone
}

// Equal compares target, structure and execution state.
func (g *ExecutionGraph) Equal(other models.DependencyGraph) bool {
	o, ok := other.(*ExecutionGraph)
	if !ok {
		return false
	}

	if g.target != o.target || !slices.Equal(g.order, o.order) || !maps.Equal(g.executions, o.executions) {
		return false
	}

	for name, v := range g.vertices {
		ov, ok := o.vertices[name]
		if !ok {
			return false
		}

		if v.meta.Name != ov.meta.Name || v.meta.Produces != ov.meta.Produces ||
			!slices.Equal(v.meta.Consumes, ov.meta.Consumes) ||
			!slices.Equal(v.meta.Optionals, ov.meta.Optionals) ||
			!maps.Equal(v.dependsOn, ov.dependsOn) {
			return false
		}
	}

	return len(g.vertices) == len(o.vertices)
}
