// Package flow holds the active set of dataflows and the registration-time
// checks that decide whether a definition may run.
package flow

import (
	"errors"
	"fmt"

	"github.com/dukex/dataflow/pkg/models"
)

// ErrNoProducer indicates no registered builder produces the requested datum.
var ErrNoProducer = errors.New("no builder produces datum")

// ProducerLister is implemented by registries that can enumerate the
// builders producing a datum.
type ProducerLister interface {
	ProducersOf(datum string) []string
}

// Activator runs the checks that gate a flow's activation. It only reads the
// flow and its registry.
type Activator struct{}

func NewActivator() *Activator {
	return &Activator{}
}

// Activate runs CheckResolutions followed by CheckLooping.
func (a *Activator) Activate(flow *models.DataFlow) error {
	err := a.CheckResolutions(flow)
	if err != nil {
		return err
	}

	return a.CheckLooping(flow)
}

// CheckResolutions verifies that every builder named in the resolution map is
// registered. Entries are checked in datum order so the reported error is
// stable.
func (a *Activator) CheckResolutions(flow *models.DataFlow) error {
	specs := flow.ResolutionSpecs()
	registry := flow.BuilderRegistry()

	for _, datum := range specs.Datums() {
		builder, _ := specs.Resolve(datum)

		if registry == nil {
			return &models.UnresolvedBuilderError{Flow: flow.Name(), Data: datum, Builder: builder}
		}

		if _, ok := registry.Lookup(builder); !ok {
			return &models.UnresolvedBuilderError{Flow: flow.Name(), Data: datum, Builder: builder}
		}
	}

	return nil
}

// CheckLooping rejects an attached graph that reports loops when the flow has
// looping disabled. Graphs that cannot report loops are accepted.
func (a *Activator) CheckLooping(flow *models.DataFlow) error {
	if flow.LoopingEnabled() {
		return nil
	}

	reporter, ok := flow.DependencyGraph().(models.LoopReporter)
	if !ok || !reporter.HasLoops() {
		return nil
	}

	return &models.LoopingNotAllowedError{Flow: flow.Name()}
}

// ResolveProducer picks the builder that produces datum for flow. A resolution
// entry always wins. Without one, a single producer is used; several
// producers are an AmbiguousBuilderError and none is ErrNoProducer.
func (a *Activator) ResolveProducer(flow *models.DataFlow, datum string) (string, error) {
	registry := flow.BuilderRegistry()

	if builder, ok := flow.ResolutionSpecs().Resolve(datum); ok {
		if registry == nil {
			return "", &models.UnresolvedBuilderError{Flow: flow.Name(), Data: datum, Builder: builder}
		}

		if _, found := registry.Lookup(builder); !found {
			return "", &models.UnresolvedBuilderError{Flow: flow.Name(), Data: datum, Builder: builder}
		}

		return builder, nil
	}

	lister, ok := registry.(ProducerLister)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoProducer, datum)
	}

	producers := lister.ProducersOf(datum)

	switch len(producers) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrNoProducer, datum)
	case 1:
		return producers[0], nil
	default:
		return "", &models.AmbiguousBuilderError{Flow: flow.Name(), Data: datum, Candidates: producers}
	}
}

// PersistableResult returns the part of a finished run's data context that
// may outlive the run: everything except the flow's transient data. data is
// not modified.
func PersistableResult(flow *models.DataFlow, data map[string]any) map[string]any {
	if flow == nil {
		return models.TransientSet(nil).Strip(data)
	}

	return flow.Transients().Strip(data)
}
