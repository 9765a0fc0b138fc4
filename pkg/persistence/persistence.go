// Package persistence provides the storage abstraction for dataflow definitions.
package persistence

import (
	"context"

	"github.com/dukex/dataflow/pkg/models"
)

// Persistence stores flows in their persisted form. Graphs and builder
// registries are never stored; loaders return flows without them.
type Persistence interface {
	DataFlows(ctx context.Context) ([]*models.DataFlow, error)
	// DataFlowByName returns nil and no error when the flow does not exist.
	DataFlowByName(ctx context.Context, name string) (*models.DataFlow, error)
	SaveDataFlow(ctx context.Context, flow *models.DataFlow) error
	// DeleteDataFlow reports ErrDataFlowNotFound when nothing was deleted.
	DeleteDataFlow(ctx context.Context, name string) error
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}
