package flow_test

import (
	"log/slog"
	"testing"

	"github.com/dukex/dataflow/pkg/models"
	"github.com/dukex/dataflow/pkg/registry"
	"github.com/stretchr/testify/require"
)

func orderRegistry(t *testing.T) *registry.Registry {
	t.Helper()

	reg := registry.NewRegistry(slog.Default())

	for _, meta := range []models.BuilderMeta{
		{Name: "lineItemsBuilder", Consumes: []string{"order"}, Produces: "lineItems"},
		{Name: "defaultTaxBuilder", Consumes: []string{"lineItems"}, Produces: "tax"},
		{Name: "exemptTaxBuilder", Consumes: []string{"lineItems", "exemption"}, Produces: "tax"},
		{Name: "totalBuilder", Consumes: []string{"lineItems", "tax"}, Produces: "totalAmount"},
		{Name: "scoreBuilder", Consumes: []string{"signals"}, Optionals: []string{"score"}, Produces: "score"},
	} {
		require.NoError(t, reg.RegisterBuilder(registry.NewStaticBuilder(meta)))
	}

	return reg
}

func orderFlow(t *testing.T, reg models.BuilderRegistry, opts ...models.Option) *models.DataFlow {
	t.Helper()

	opts = append([]models.Option{
		models.WithResolutionSpecs(map[string]string{"tax": "defaultTaxBuilder"}),
		models.WithTransients("lineItems"),
		models.WithBuilderRegistry(reg),
	}, opts...)

	flow, err := models.NewDataFlow("order-total", "totalAmount", opts...)
	require.NoError(t, err)

	return flow
}
