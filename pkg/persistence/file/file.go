// Package file provides file-based persistence implementation for dataflows.
package file

import (
	"context"
	"os"
	"strings"

	"github.com/dukex/dataflow/pkg/models"
	"github.com/dukex/dataflow/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root         string
	dataFlowRepo *DataFlowRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) persistence.Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:         cleanRoot,
		dataFlowRepo: NewDataFlowRepository(cleanRoot),
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) DataFlows(ctx context.Context) ([]*models.DataFlow, error) {
	return fp.dataFlowRepo.GetAll(ctx)
}

func (fp *Persistence) DataFlowByName(ctx context.Context, name string) (*models.DataFlow, error) {
	return fp.dataFlowRepo.GetByName(ctx, name)
}

func (fp *Persistence) SaveDataFlow(ctx context.Context, flow *models.DataFlow) error {
	return fp.dataFlowRepo.Save(ctx, flow)
}

func (fp *Persistence) DeleteDataFlow(ctx context.Context, name string) error {
	return fp.dataFlowRepo.Delete(ctx, name)
}
