package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/dataflow/pkg/models"
	"github.com/dukex/dataflow/pkg/persistence"
)

// DataFlowRepository handles dataflow-related database operations.
type DataFlowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewDataFlowRepository creates a new dataflow repository.
func NewDataFlowRepository(db *sql.DB, logger *slog.Logger) *DataFlowRepository {
	return &DataFlowRepository{db: db, logger: logger}
}

const selectDataFlows = `
	SELECT
		name
	  , description
	  , target_data
	  , resolution_specs
	  , transients
	  , enabled
	  , looping_enabled
	FROM dataflows
`

type rowScanner interface {
	Scan(dest ...any) error
}

// GetAll returns all dataflows from the database.
func (r *DataFlowRepository) GetAll(ctx context.Context) ([]*models.DataFlow, error) {
	rows, err := r.db.QueryContext(ctx, selectDataFlows+" ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to query dataflows: %w", err)
	}

	defer func(ctx context.Context, r *DataFlowRepository) {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}(ctx, r)

	flows := make([]*models.DataFlow, 0)

	for rows.Next() {
		flow, err := r.scanDataFlow(rows)
		if err != nil {
			return nil, err
		}

		flows = append(flows, flow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating dataflows: %w", err)
	}

	return flows, nil
}

// GetByName returns nil, nil when no row matches.
func (r *DataFlowRepository) GetByName(ctx context.Context, name string) (*models.DataFlow, error) {
	row := r.db.QueryRowContext(ctx, selectDataFlows+" WHERE name = $1", name)

	flow, err := r.scanDataFlow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, err
	}

	return flow, nil
}

// Save upserts a dataflow by name.
func (r *DataFlowRepository) Save(ctx context.Context, flow *models.DataFlow) error {
	specsJSON, err := json.Marshal(flow.ResolutionSpecs())
	if err != nil {
		return fmt.Errorf("failed to marshal resolution specs: %w", err)
	}

	transientsJSON, err := json.Marshal(flow.Transients().Names())
	if err != nil {
		return fmt.Errorf("failed to marshal transients: %w", err)
	}

	query := `
		INSERT INTO dataflows (
			name, description, target_data, resolution_specs, transients, enabled, looping_enabled, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (name) DO UPDATE SET
			description = EXCLUDED.description,
			target_data = EXCLUDED.target_data,
			resolution_specs = EXCLUDED.resolution_specs,
			transients = EXCLUDED.transients,
			enabled = EXCLUDED.enabled,
			looping_enabled = EXCLUDED.looping_enabled,
			updated_at = NOW()
	`

	_, err = r.db.ExecContext(ctx, query,
		flow.Name(),
		flow.Description(),
		flow.TargetData(),
		specsJSON,
		transientsJSON,
		flow.Enabled(),
		flow.LoopingEnabled(),
	)
	if err != nil {
		return fmt.Errorf("failed to save dataflow %s: %w", flow.Name(), err)
	}

	return nil
}

// Delete removes a dataflow by name.
func (r *DataFlowRepository) Delete(ctx context.Context, name string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM dataflows WHERE name = $1", name)
	if err != nil {
		return fmt.Errorf("failed to delete dataflow %s: %w", name, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.NewDataFlowError("Delete", name, persistence.ErrDataFlowNotFound)
	}

	return nil
}

func (r *DataFlowRepository) scanDataFlow(row rowScanner) (*models.DataFlow, error) {
	var (
		name, description, targetData string
		specsJSON, transientsJSON     []byte
		enabled, loopingEnabled       bool
	)

	err := row.Scan(&name, &description, &targetData, &specsJSON, &transientsJSON, &enabled, &loopingEnabled)
	if err != nil {
		return nil, fmt.Errorf("failed to scan dataflow: %w", err)
	}

	var specs map[string]string

	err = json.Unmarshal(specsJSON, &specs)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal resolution specs: %w", err)
	}

	var transients []string

	err = json.Unmarshal(transientsJSON, &transients)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal transients: %w", err)
	}

	flow, err := models.NewDataFlow(name, targetData,
		models.WithDescription(description),
		models.WithResolutionSpecs(specs),
		models.WithTransients(transients...),
		models.WithEnabled(enabled),
		models.WithLoopingEnabled(loopingEnabled),
	)
	if err != nil {
		return nil, &persistence.DataFlowError{
			Op:      "scan",
			Name:    name,
			Err:     persistence.ErrCorruptDataFlow,
			Message: err.Error(),
		}
	}

	return flow, nil
}
