package flow_test

import (
	"context"
	"testing"

	"github.com/dukex/dataflow/pkg/flow"
	"github.com/dukex/dataflow/pkg/graph"
	"github.com/dukex/dataflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProducerCompiler_OrderTotal(t *testing.T) {
	f := orderFlow(t, orderRegistry(t))

	compiled, err := flow.NewProducerCompiler(nil).Compile(context.Background(), f)
	require.NoError(t, err)

	g, ok := compiled.(*graph.ExecutionGraph)
	require.True(t, ok)

	assert.Equal(t, "totalAmount", g.Target())
	assert.Equal(t, []string{"totalBuilder", "lineItemsBuilder", "defaultTaxBuilder"}, g.Builders())
	assert.False(t, g.HasLoops())

	deps, err := g.DependenciesOf("totalBuilder")
	require.NoError(t, err)
	assert.Equal(t, []string{"defaultTaxBuilder", "lineItemsBuilder"}, deps)

	deps, err = g.DependenciesOf("lineItemsBuilder")
	require.NoError(t, err)
	assert.Empty(t, deps)
}

func TestProducerCompiler_ResolutionPicksBuilder(t *testing.T) {
	f := orderFlow(t, orderRegistry(t), models.WithResolutionSpecs(map[string]string{"tax": "exemptTaxBuilder"}))

	compiled, err := flow.NewProducerCompiler(nil).Compile(context.Background(), f)
	require.NoError(t, err)

	g := compiled.(*graph.ExecutionGraph)
	_, hasExempt := g.Builder("exemptTaxBuilder")
	_, hasDefault := g.Builder("defaultTaxBuilder")
	assert.True(t, hasExempt)
	assert.False(t, hasDefault)
}

func TestProducerCompiler_Errors(t *testing.T) {
	reg := orderRegistry(t)
	compiler := flow.NewProducerCompiler(nil)

	ambiguous := orderFlow(t, reg, models.WithResolutionSpecs(nil))
	_, err := compiler.Compile(context.Background(), ambiguous)
	assert.ErrorIs(t, err, models.ErrAmbiguousBuilder)

	noProducer, err := models.NewDataFlow("shipping", "shippingCost", models.WithBuilderRegistry(reg))
	require.NoError(t, err)

	_, err = compiler.Compile(context.Background(), noProducer)
	assert.ErrorIs(t, err, flow.ErrNoProducer)

	noRegistry, err := models.NewDataFlow("order-total", "totalAmount")
	require.NoError(t, err)

	_, err = compiler.Compile(context.Background(), noRegistry)
	assert.Error(t, err)
}

func TestProducerCompiler_SelfLoop(t *testing.T) {
	f, err := models.NewDataFlow("scoring", "score", models.WithBuilderRegistry(orderRegistry(t)))
	require.NoError(t, err)

	compiled, err := flow.NewProducerCompiler(nil).Compile(context.Background(), f)
	require.NoError(t, err)

	assert.True(t, compiled.(models.LoopReporter).HasLoops())
}

func TestProducerCompiler_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := flow.NewProducerCompiler(nil).Compile(ctx, orderFlow(t, orderRegistry(t)))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCompilerFunc(t *testing.T) {
	g := graph.New("totalAmount")

	compiler := flow.CompilerFunc(func(_ context.Context, _ *models.DataFlow) (models.DependencyGraph, error) {
		return g, nil
	})

	compiled, err := compiler.Compile(context.Background(), orderFlow(t, nil))
	require.NoError(t, err)
	assert.Same(t, g, compiled)
}

// staleIndexRegistry lists producers that its catalog no longer knows.
type staleIndexRegistry struct {
	builders  map[string]models.BuilderMeta
	producers map[string][]string
}

func (r *staleIndexRegistry) Lookup(name string) (models.BuilderMeta, bool) {
	meta, ok := r.builders[name]

	return meta, ok
}

func (r *staleIndexRegistry) ProducersOf(datum string) []string {
	return r.producers[datum]
}

func TestProducerCompiler_UnresolvedInputNamesDatum(t *testing.T) {
	reg := &staleIndexRegistry{
		builders: map[string]models.BuilderMeta{
			"totalBuilder": {Name: "totalBuilder", Consumes: []string{"lineItems"}, Produces: "totalAmount"},
		},
		producers: map[string][]string{
			"totalAmount": {"totalBuilder"},
			"lineItems":   {"lineItemsBuilder"},
		},
	}

	f, err := models.NewDataFlow("order-total", "totalAmount", models.WithBuilderRegistry(reg))
	require.NoError(t, err)

	_, err = flow.NewProducerCompiler(nil).Compile(context.Background(), f)
	require.ErrorIs(t, err, models.ErrUnresolvedBuilder)

	var unresolved *models.UnresolvedBuilderError
	require.ErrorAs(t, err, &unresolved)
	assert.Equal(t, "lineItems", unresolved.Data)
	assert.Equal(t, "lineItemsBuilder", unresolved.Builder)
}
