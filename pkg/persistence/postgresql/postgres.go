// Package postgresql provides PostgreSQL persistence implementation for dataflows.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/dukex/dataflow/pkg/models"
	"github.com/dukex/dataflow/pkg/persistence/sqlbase"
	_ "github.com/lib/pq"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db           *sql.DB
	logger       *slog.Logger
	dataFlowRepo *DataFlowRepository
}

// NewPersistence creates a new PostgreSQL persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	postgres := &Persistence{
		db:           database,
		logger:       logger,
		dataFlowRepo: NewDataFlowRepository(database, logger),
	}

	// Run migrations on initialization
	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return postgres, nil
}

// Close closes the database connection.
func (p *Persistence) Close(ctx context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// DataFlows returns all dataflows ordered by name.
func (p *Persistence) DataFlows(ctx context.Context) ([]*models.DataFlow, error) {
	return p.dataFlowRepo.GetAll(ctx)
}

func (p *Persistence) DataFlowByName(ctx context.Context, name string) (*models.DataFlow, error) {
	return p.dataFlowRepo.GetByName(ctx, name)
}

// SaveDataFlow inserts the dataflow or replaces the stored row with the same name.
func (p *Persistence) SaveDataFlow(ctx context.Context, flow *models.DataFlow) error {
	return p.dataFlowRepo.Save(ctx, flow)
}

func (p *Persistence) DeleteDataFlow(ctx context.Context, name string) error {
	return p.dataFlowRepo.Delete(ctx, name)
}
