package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/dataflow/pkg/flow"
	"github.com/dukex/dataflow/pkg/models"
	"github.com/dukex/dataflow/pkg/otelhelper"
	"github.com/dukex/dataflow/pkg/persistence"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type DataFlow struct {
	persistence persistence.Persistence
	manager     *flow.Manager
	logger      *slog.Logger
}

// NewDataFlow creates a new dataflow service. manager may be nil, in which
// case activation operations fail with ErrManagerNotActive.
func NewDataFlow(logger *slog.Logger, persistence persistence.Persistence, manager *flow.Manager) *DataFlow {
	return &DataFlow{
		persistence: persistence,
		manager:     manager,
		logger:      logger.With("module", "dataflow_service"),
	}
}

// HealthCheck checks the health of the persistence layer.
func (s *DataFlow) HealthCheck(ctx context.Context) (string, bool) {
	if s.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := s.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

func (s *DataFlow) List(ctx context.Context) ([]*models.DataFlow, error) {
	flows, err := s.persistence.DataFlows(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list dataflows: %w", err)
	}

	return flows, nil
}

func (s *DataFlow) FetchByName(ctx context.Context, name string) (*models.DataFlow, error) {
	stored, err := s.persistence.DataFlowByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch dataflow: %w", err)
	}

	if stored == nil {
		return nil, persistence.NewDataFlowError("FetchByName", name, ErrDataFlowNotFound)
	}

	return stored, nil
}

// Create stores a new flow. The name must not be taken.
func (s *DataFlow) Create(ctx context.Context, definition *models.DataFlow) (*models.DataFlow, error) {
	if definition == nil {
		return nil, ErrDataFlowNil
	}

	err := definition.Validate()
	if err != nil {
		return nil, err
	}

	existing, err := s.persistence.DataFlowByName(ctx, definition.Name())
	if err != nil {
		return nil, fmt.Errorf("failed to check existing dataflow: %w", err)
	}

	if existing != nil {
		return nil, persistence.NewDataFlowError("Create", definition.Name(), ErrDataFlowAlreadyExists)
	}

	err = s.persistence.SaveDataFlow(ctx, definition)
	if err != nil {
		return nil, fmt.Errorf("failed to save dataflow: %w", err)
	}

	s.logger.InfoContext(ctx, "Created dataflow", "dataflow", definition.Name())

	return definition, nil
}

// Update replaces a stored flow. An active flow is checked before saving and
// re-registered after, so the active set never holds an unsaved definition.
func (s *DataFlow) Update(ctx context.Context, name string, definition *models.DataFlow) (*models.DataFlow, error) {
	if definition == nil {
		return nil, ErrDataFlowNil
	}

	if definition.Name() != name {
		return nil, NewValidationError("Update", "name_mismatch",
			fmt.Sprintf("body names %q but path names %q", definition.Name(), name), ErrNameMismatch)
	}

	err := definition.Validate()
	if err != nil {
		return nil, err
	}

	_, err = s.FetchByName(ctx, name)
	if err != nil {
		return nil, err
	}

	active := s.isActive(name)
	if active {
		err = s.manager.Check(ctx, definition)
		if err != nil {
			return nil, err
		}
	}

	err = s.persistence.SaveDataFlow(ctx, definition)
	if err != nil {
		return nil, fmt.Errorf("failed to save dataflow: %w", err)
	}

	if active {
		err = s.manager.Register(ctx, definition)
		if err != nil {
			return nil, err
		}
	}

	s.logger.InfoContext(ctx, "Updated dataflow", "dataflow", name)

	return definition, nil
}

// Delete removes a stored flow and deactivates it.
func (s *DataFlow) Delete(ctx context.Context, name string) error {
	err := s.persistence.DeleteDataFlow(ctx, name)
	if err != nil {
		if persistence.IsDataFlowNotFound(err) {
			return err
		}

		return fmt.Errorf("failed to delete dataflow: %w", err)
	}

	if s.isActive(name) {
		err = s.manager.Deregister(ctx, name)
		if err != nil && !persistence.IsDataFlowNotFound(err) {
			return err
		}
	}

	s.logger.InfoContext(ctx, "Deleted dataflow", "dataflow", name)

	return nil
}

// Activate registers the stored flow with the active registry.
func (s *DataFlow) Activate(ctx context.Context, name string) (*models.DataFlow, error) {
	if s.manager == nil {
		return nil, ErrManagerNotActive
	}

	stored, err := s.FetchByName(ctx, name)
	if err != nil {
		return nil, err
	}

	err = s.manager.Register(ctx, stored)
	if err != nil {
		return nil, err
	}

	active, _ := s.manager.Lookup(name)

	return active, nil
}

// Deactivate removes the flow from the active registry. The stored flow is kept.
func (s *DataFlow) Deactivate(ctx context.Context, name string) error {
	if s.manager == nil {
		return ErrManagerNotActive
	}

	err := s.manager.Deregister(ctx, name)
	if persistence.IsDataFlowNotFound(err) {
		return &ServiceError{Op: "Deactivate", Message: fmt.Sprintf("dataflow %q is not active", name), Err: ErrDataFlowNotActive}
	}

	return err
}

// SetEnabled stores the new flag and applies it to the active flow, if any.
func (s *DataFlow) SetEnabled(ctx context.Context, name string, enabled bool) (*models.DataFlow, error) {
	stored, err := s.FetchByName(ctx, name)
	if err != nil {
		return nil, err
	}

	stored.SetEnabled(enabled)

	err = s.persistence.SaveDataFlow(ctx, stored)
	if err != nil {
		return nil, fmt.Errorf("failed to save dataflow: %w", err)
	}

	if s.isActive(name) {
		err = s.manager.SetEnabled(ctx, name, enabled)
		if err != nil {
			return nil, err
		}
	}

	return stored, nil
}

// Checkout describes one execution copy of an active flow.
type Checkout struct {
	ID       string          `json:"id"`
	DataFlow *models.DataFlow `json:"dataflow"`
	Builders []string        `json:"builders"`
}

type builderLister interface {
	Builders() []string
}

// Checkout hands out an execution copy of an active, enabled flow.
func (s *DataFlow) Checkout(ctx context.Context, name string) (*Checkout, error) {
	if s.manager == nil {
		return nil, ErrManagerNotActive
	}

	run, err := s.manager.Checkout(ctx, name)
	if err != nil {
		if persistence.IsDataFlowNotFound(err) {
			return nil, &ServiceError{Op: "Checkout", Message: fmt.Sprintf("dataflow %q is not active", name), Err: ErrDataFlowNotActive}
		}

		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate checkout ID: %w", err)
	}

	checkout := &Checkout{ID: id.String(), DataFlow: run, Builders: []string{}}

	trace.SpanFromContext(ctx).SetAttributes(attribute.String(otelhelper.CheckoutIDKey, checkout.ID))

	if lister, ok := run.DependencyGraph().(builderLister); ok {
		checkout.Builders = lister.Builders()
	}

	return checkout, nil
}

// PersistableResult strips the flow's transient data from a run's data
// context. The active template is preferred over the stored definition.
func (s *DataFlow) PersistableResult(ctx context.Context, name string, data map[string]any) (map[string]any, error) {
	if s.manager != nil {
		if active, ok := s.manager.Lookup(name); ok {
			return flow.PersistableResult(active, data), nil
		}
	}

	stored, err := s.FetchByName(ctx, name)
	if err != nil {
		return nil, err
	}

	return flow.PersistableResult(stored, data), nil
}

// Active lists the names in the active registry.
func (s *DataFlow) Active() []string {
	if s.manager == nil {
		return []string{}
	}

	return s.manager.Names()
}

func (s *DataFlow) isActive(name string) bool {
	if s.manager == nil {
		return false
	}

	_, ok := s.manager.Lookup(name)

	return ok
}
