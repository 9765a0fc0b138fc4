package flow

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/dataflow/pkg/graph"
	"github.com/dukex/dataflow/pkg/models"
)

// Compiler turns a flow definition into the dependency graph it runs on.
type Compiler interface {
	Compile(ctx context.Context, flow *models.DataFlow) (models.DependencyGraph, error)
}

// CompilerFunc adapts a function to the Compiler interface.
type CompilerFunc func(ctx context.Context, flow *models.DataFlow) (models.DependencyGraph, error)

func (f CompilerFunc) Compile(ctx context.Context, flow *models.DataFlow) (models.DependencyGraph, error) {
	return f(ctx, flow)
}

// ProducerCompiler discovers the builders a flow needs by walking back from
// the target datum through each builder's inputs. Inputs nobody produces are
// expected in the request data. It does not order the graph.
type ProducerCompiler struct {
	activator *Activator
}

func NewProducerCompiler(activator *Activator) *ProducerCompiler {
	if activator == nil {
		activator = NewActivator()
	}

	return &ProducerCompiler{activator: activator}
}

// nolint:ireturn
func (c *ProducerCompiler) Compile(ctx context.Context, flow *models.DataFlow) (models.DependencyGraph, error) {
	registry := flow.BuilderRegistry()
	if registry == nil {
		return nil, fmt.Errorf("dataflow %q has no builder registry", flow.Name())
	}

	root, err := c.activator.ResolveProducer(flow, flow.TargetData())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve target %q: %w", flow.TargetData(), err)
	}

	g := graph.New(flow.TargetData())
	pending := []producerRef{{builder: root, datum: flow.TargetData()}}

	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ref := pending[0]
		pending = pending[1:]

		if _, added := g.Builder(ref.builder); added {
			continue
		}

		meta, ok := registry.Lookup(ref.builder)
		if !ok {
			return nil, &models.UnresolvedBuilderError{Flow: flow.Name(), Data: ref.datum, Builder: ref.builder}
		}

		g.AddBuilder(meta)

		producers, err := c.inputProducers(flow, meta)
		if err != nil {
			return nil, err
		}

		pending = append(pending, producers...)
	}

	err = c.link(flow, g)
	if err != nil {
		return nil, err
	}

	return g, nil
}

// producerRef is a builder queued for compilation and the datum it was
// resolved for.
type producerRef struct {
	builder string
	datum   string
}

func (c *ProducerCompiler) inputProducers(flow *models.DataFlow, meta models.BuilderMeta) ([]producerRef, error) {
	producers := make([]producerRef, 0, len(meta.Consumes)+len(meta.Optionals))

	for _, datum := range meta.Consumes {
		producer, err := c.activator.ResolveProducer(flow, datum)
		if errors.Is(err, ErrNoProducer) {
			continue
		}

		if err != nil {
			return nil, err
		}

		producers = append(producers, producerRef{builder: producer, datum: datum})
	}

	for _, datum := range meta.Optionals {
		producer, err := c.activator.ResolveProducer(flow, datum)
		if err != nil {
			continue
		}

		producers = append(producers, producerRef{builder: producer, datum: datum})
	}

	return producers, nil
}

// link adds an edge from every builder to the producers of its inputs. All
// vertices exist by now, so self and back references become loops.
func (c *ProducerCompiler) link(flow *models.DataFlow, g *graph.ExecutionGraph) error {
	for _, name := range g.Builders() {
		meta, _ := g.Builder(name)

		inputs := append(append([]string{}, meta.Consumes...), meta.Optionals...)

		for _, datum := range inputs {
			producer, err := c.activator.ResolveProducer(flow, datum)
			if err != nil {
				continue
			}

			if _, ok := g.Builder(producer); !ok {
				continue
			}

			err = g.AddDependency(name, producer)
			if err != nil {
				return err
			}
		}
	}

	return nil
}
