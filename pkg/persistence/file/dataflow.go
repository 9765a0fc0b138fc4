package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dukex/dataflow/pkg/models"
	"github.com/dukex/dataflow/pkg/persistence"
)

const dataFlowsDir = "dataflows"

// DataFlowRepository stores one JSON document per flow.
type DataFlowRepository struct {
	root string // File system root for storing dataflows
}

// NewDataFlowRepository creates a new dataflow repository.
func NewDataFlowRepository(root string) *DataFlowRepository {
	return &DataFlowRepository{root: root}
}

// GetAll loads every stored flow, sorted by name.
func (r *DataFlowRepository) GetAll(ctx context.Context) ([]*models.DataFlow, error) {
	dir := filepath.Join(r.root, dataFlowsDir)

	jsonFiles, err := fs.Glob(os.DirFS(dir), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list dataflow files: %w", err)
	}

	flows := make([]*models.DataFlow, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		name, err := url.PathUnescape(strings.TrimSuffix(file, ".json"))
		if err != nil {
			return nil, fmt.Errorf("invalid dataflow file name %s: %w", file, err)
		}

		flow, err := r.GetByName(ctx, name)
		if err != nil {
			return nil, err
		}

		if flow != nil {
			flows = append(flows, flow)
		}
	}

	sort.Slice(flows, func(i, j int) bool {
		return flows[i].Name() < flows[j].Name()
	})

	return flows, nil
}

// GetByName retrieves a flow from the file system. A missing file yields nil, nil.
func (r *DataFlowRepository) GetByName(_ context.Context, name string) (*models.DataFlow, error) {
	body, err := os.ReadFile(r.filePath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to fetch dataflow %s: %w", name, err)
	}

	flow, err := models.ParseDataFlow(body)
	if err != nil {
		return nil, &persistence.DataFlowError{
			Op:      "GetByName",
			Name:    name,
			Err:     persistence.ErrCorruptDataFlow,
			Message: err.Error(),
		}
	}

	return flow, nil
}

// Save writes a flow to the file system, replacing any previous version.
func (r *DataFlowRepository) Save(_ context.Context, flow *models.DataFlow) error {
	err := os.MkdirAll(filepath.Join(r.root, dataFlowsDir), 0750)
	if err != nil {
		return fmt.Errorf("failed to create dataflows directory: %w", err)
	}

	data, err := json.MarshalIndent(flow, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal dataflow %s: %w", flow.Name(), err)
	}

	return os.WriteFile(r.filePath(flow.Name()), data, 0600)
}

// Delete removes a flow by its name.
func (r *DataFlowRepository) Delete(_ context.Context, name string) error {
	err := os.Remove(r.filePath(name))
	if err != nil && os.IsNotExist(err) {
		return persistence.NewDataFlowError("Delete", name, persistence.ErrDataFlowNotFound)
	}

	if err != nil {
		return fmt.Errorf("failed to delete dataflow %s: %w", name, err)
	}

	return nil
}

func (r *DataFlowRepository) filePath(name string) string {
	return filepath.Join(r.root, dataFlowsDir, url.PathEscape(name)+".json")
}
