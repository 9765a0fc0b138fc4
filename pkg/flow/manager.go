package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dukex/dataflow/pkg/eventbus"
	"github.com/dukex/dataflow/pkg/events"
	"github.com/dukex/dataflow/pkg/metrics"
	"github.com/dukex/dataflow/pkg/models"
	"github.com/dukex/dataflow/pkg/otelhelper"
	"github.com/dukex/dataflow/pkg/persistence"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrNoPersistence indicates Reload was called on a manager without storage.
var ErrNoPersistence = errors.New("manager has no persistence configured")

// Manager holds the active set: the registered templates that executions are
// copied from. Templates are never mutated after registration; changes swap
// in a modified copy.
type Manager struct {
	logger      *slog.Logger
	registry    models.BuilderRegistry
	activator   *Activator
	compiler    Compiler
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	metrics     *metrics.Metrics
	tracer      trace.Tracer

	mu    sync.RWMutex
	flows map[string]*models.DataFlow
	// generation counts changes to flows; changed holds the generation of
	// the last change per name so Reload can keep changes made while it ran.
	generation uint64
	changed    map[string]uint64

	reloadMu sync.Mutex

	cronMu     sync.Mutex
	cron       *cron.Cron
	stopReload chan struct{}
}

type ManagerOption func(*Manager)

// WithCompiler compiles flows that are registered without a graph.
func WithCompiler(compiler Compiler) ManagerOption {
	return func(m *Manager) {
		m.compiler = compiler
	}
}

// WithPersistence is the source Reload reads from.
func WithPersistence(p persistence.Persistence) ManagerOption {
	return func(m *Manager) {
		m.persistence = p
	}
}

func WithPublisher(publisher eventbus.EventPublisher) ManagerOption {
	return func(m *Manager) {
		m.publisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) ManagerOption {
	return func(mgr *Manager) {
		mgr.metrics = m
	}
}

func WithTracer(tracer trace.Tracer) ManagerOption {
	return func(m *Manager) {
		m.tracer = tracer
	}
}

// NewManager creates a manager whose flows default to registry when they
// carry no registry of their own.
func NewManager(logger *slog.Logger, registry models.BuilderRegistry, opts ...ManagerOption) *Manager {
	m := &Manager{
		logger:    logger.With("module", "flow_manager"),
		registry:  registry,
		activator: NewActivator(),
		flows:     make(map[string]*models.DataFlow),
		changed:   make(map[string]uint64),
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.tracer == nil {
		m.tracer = otelhelper.NoopTracer()
	}

	return m
}

// Register validates and activates flow, then makes it available for
// checkout. The manager keeps its own copy; later changes to flow are not
// seen. A flow with the same name is replaced.
func (m *Manager) Register(ctx context.Context, flow *models.DataFlow) error {
	if flow == nil {
		return &models.ValidationError{Fields: []string{"name", "targetData"}, Err: models.ErrValidation}
	}

	ctx, span := otelhelper.StartSpan(ctx, m.tracer, "dataflow.register",
		attribute.String(otelhelper.DataFlowNameKey, flow.Name()),
		attribute.String(otelhelper.DataFlowTargetKey, flow.TargetData()),
	)
	defer span.End()

	template, err := m.prepare(ctx, flow)
	if err != nil {
		reason := rejectionReason(err)
		m.metrics.RecordRejection(reason)
		otelhelper.SetError(span, err, attribute.String(otelhelper.RejectionReasonKey, reason))
		m.logger.WarnContext(ctx, "Rejected dataflow", "dataflow", flow.Name(), "error", err)

		return err
	}

	m.mu.Lock()
	_, replaced := m.flows[template.Name()]
	m.flows[template.Name()] = template
	m.touch(template.Name())
	active := len(m.flows)
	m.mu.Unlock()

	m.metrics.RecordRegistration(replaced)
	m.metrics.SetActiveFlows(active)

	m.logger.InfoContext(ctx, "Registered dataflow",
		"dataflow", template.Name(),
		"target_data", template.TargetData(),
		"replaced", replaced,
	)

	m.publish(ctx, template.Name(), events.DataFlowRegistered{
		BaseEvent:  events.NewBaseEvent(events.DataFlowRegisteredEvent, template.Name()),
		TargetData: template.TargetData(),
		Replaced:   replaced,
	})

	return nil
}

// Check runs the activation checks Register would run without changing the
// active set.
func (m *Manager) Check(ctx context.Context, flow *models.DataFlow) error {
	if flow == nil {
		return &models.ValidationError{Fields: []string{"name", "targetData"}, Err: models.ErrValidation}
	}

	_, err := m.prepare(ctx, flow)

	return err
}

// touch records a change to name. Callers hold m.mu.
func (m *Manager) touch(name string) {
	m.generation++
	m.changed[name] = m.generation
}

func (m *Manager) prepare(ctx context.Context, flow *models.DataFlow) (*models.DataFlow, error) {
	err := flow.Validate()
	if err != nil {
		return nil, err
	}

	template := flow.DeepCopy()
	if template.BuilderRegistry() == nil {
		template.SetBuilderRegistry(m.registry)
	}

	err = m.activator.CheckResolutions(template)
	if err != nil {
		return nil, err
	}

	if template.DependencyGraph() == nil && m.compiler != nil {
		compiled, err := m.compiler.Compile(ctx, template)
		if err != nil {
			return nil, fmt.Errorf("failed to compile dataflow %q: %w", template.Name(), err)
		}

		template.SetDependencyGraph(compiled)
	}

	err = m.activator.CheckLooping(template)
	if err != nil {
		return nil, err
	}

	return template, nil
}

// Deregister removes a flow from the active set. Copies already handed out
// are unaffected.
func (m *Manager) Deregister(ctx context.Context, name string) error {
	m.mu.Lock()
	_, ok := m.flows[name]
	if ok {
		delete(m.flows, name)
		m.touch(name)
	}
	active := len(m.flows)
	m.mu.Unlock()

	if !ok {
		return persistence.NewDataFlowError("Deregister", name, persistence.ErrDataFlowNotFound)
	}

	m.metrics.SetActiveFlows(active)
	m.logger.InfoContext(ctx, "Deregistered dataflow", "dataflow", name)

	m.publish(ctx, name, events.DataFlowDeregistered{
		BaseEvent: events.NewBaseEvent(events.DataFlowDeregisteredEvent, name),
	})

	return nil
}

// Checkout returns an independent copy of an enabled flow for one execution.
func (m *Manager) Checkout(ctx context.Context, name string) (*models.DataFlow, error) {
	_, span := otelhelper.StartSpan(ctx, m.tracer, "dataflow.checkout",
		attribute.String(otelhelper.DataFlowNameKey, name))
	defer span.End()

	m.mu.RLock()
	template, ok := m.flows[name]
	m.mu.RUnlock()

	if !ok {
		m.metrics.RecordCheckout("not_found")

		err := persistence.NewDataFlowError("Checkout", name, persistence.ErrDataFlowNotFound)
		otelhelper.SetError(span, err)

		return nil, err
	}

	if !template.Enabled() {
		m.metrics.RecordCheckout("disabled")

		err := &models.FlowDisabledError{Flow: name}
		otelhelper.SetError(span, err)

		return nil, err
	}

	m.metrics.RecordCheckout("ok")

	// templates are never mutated once stored, so copying outside the lock is safe
	return template.DeepCopy(), nil
}

// Lookup returns a copy of a registered flow whether or not it is enabled.
func (m *Manager) Lookup(name string) (*models.DataFlow, bool) {
	m.mu.RLock()
	template, ok := m.flows[name]
	m.mu.RUnlock()

	if !ok {
		return nil, false
	}

	return template.DeepCopy(), true
}

// SetEnabled replaces the stored template with a copy carrying the new flag.
func (m *Manager) SetEnabled(ctx context.Context, name string, enabled bool) error {
	m.mu.Lock()

	template, ok := m.flows[name]
	if !ok {
		m.mu.Unlock()

		return persistence.NewDataFlowError("SetEnabled", name, persistence.ErrDataFlowNotFound)
	}

	changed := template.Enabled() != enabled
	if changed {
		updated := template.DeepCopy()
		updated.SetEnabled(enabled)
		m.flows[name] = updated
		m.touch(name)
	}

	m.mu.Unlock()

	if !changed {
		return nil
	}

	m.logger.InfoContext(ctx, "Changed dataflow state", "dataflow", name, "enabled", enabled)

	if enabled {
		m.publish(ctx, name, events.DataFlowEnabled{
			BaseEvent: events.NewBaseEvent(events.DataFlowEnabledEvent, name),
		})
	} else {
		m.publish(ctx, name, events.DataFlowDisabled{
			BaseEvent: events.NewBaseEvent(events.DataFlowDisabledEvent, name),
		})
	}

	return nil
}

// Names returns the registered flow names in order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	names := make([]string, 0, len(m.flows))

	for name := range m.flows {
		names = append(names, name)
	}
	m.mu.RUnlock()

	slices.Sort(names)

	return names
}

// Reload rebuilds the active set from persistence. Flows that fail
// activation are left out and reported in the returned names; the rest
// replace the current set in one step. Flows registered, deregistered or
// toggled while the reload runs keep their newer state.
func (m *Manager) Reload(ctx context.Context) ([]string, error) {
	if m.persistence == nil {
		return nil, ErrNoPersistence
	}

	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	ctx, span := otelhelper.StartSpan(ctx, m.tracer, "dataflow.reload")
	defer span.End()

	start := time.Now()

	m.mu.RLock()
	startGeneration := m.generation
	m.mu.RUnlock()

	stored, err := m.persistence.DataFlows(ctx)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to load dataflows: %w", err)
	}

	flows := make(map[string]*models.DataFlow, len(stored))
	failed := make([]string, 0)

	for _, flow := range stored {
		template, err := m.prepare(ctx, flow)
		if err != nil {
			m.metrics.RecordRejection(rejectionReason(err))
			m.logger.ErrorContext(ctx, "Failed to activate stored dataflow", "dataflow", flow.Name(), "error", err)
			failed = append(failed, flow.Name())

			continue
		}

		flows[template.Name()] = template
	}

	m.mu.Lock()

	for name, generation := range m.changed {
		if generation <= startGeneration {
			delete(m.changed, name)

			continue
		}

		if current, ok := m.flows[name]; ok {
			flows[name] = current
		} else {
			delete(flows, name)
		}
	}

	m.flows = flows
	m.mu.Unlock()

	m.metrics.SetActiveFlows(len(flows))
	m.metrics.ObserveReload(time.Since(start))

	span.SetAttributes(attribute.Int(otelhelper.DataFlowCountKey, len(flows)))
	m.logger.InfoContext(ctx, "Reloaded dataflows", "registered", len(flows), "failed", len(failed))

	m.publish(ctx, "", events.DataFlowReloaded{
		BaseEvent:  events.NewBaseEvent(events.DataFlowReloadedEvent, ""),
		Registered: len(flows),
		Failed:     failed,
	})

	return failed, nil
}

// StartReloading runs Reload on a cron schedule until Stop is called or ctx
// is done.
func (m *Manager) StartReloading(ctx context.Context, spec string) error {
	if m.persistence == nil {
		return ErrNoPersistence
	}

	m.cronMu.Lock()
	defer m.cronMu.Unlock()

	if m.cron != nil {
		return errors.New("reloading already started")
	}

	cronLogger := cron.PrintfLogger(slog.NewLogLogger(m.logger.Handler(), slog.LevelInfo))

	scheduler := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cronLogger),
		cron.Recover(cronLogger),
	))

	_, err := scheduler.AddFunc(spec, func() {
		_, err := m.Reload(ctx)
		if err != nil {
			m.logger.ErrorContext(ctx, "Scheduled reload failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid reload schedule %q: %w", spec, err)
	}

	scheduler.Start()
	m.cron = scheduler

	done := make(chan struct{})
	m.stopReload = done

	m.logger.InfoContext(ctx, "Started scheduled reload", "schedule", spec)

	go func() {
		select {
		case <-ctx.Done():
			m.stop(done)
		case <-done:
		}
	}()

	return nil
}

// Stop halts scheduled reloading and waits for a running reload to finish.
func (m *Manager) Stop() {
	m.stop(nil)
}

// stop halts the running schedule. A non-nil only restricts it to the
// schedule started with that stop channel.
func (m *Manager) stop(only chan struct{}) {
	m.cronMu.Lock()

	if m.cron == nil || (only != nil && only != m.stopReload) {
		m.cronMu.Unlock()

		return
	}

	scheduler := m.cron
	m.cron = nil
	close(m.stopReload)
	m.stopReload = nil
	m.cronMu.Unlock()

	<-scheduler.Stop().Done()
}

func (m *Manager) publish(ctx context.Context, key string, event eventbus.Event) {
	if m.publisher == nil {
		return
	}

	err := m.publisher.Publish(ctx, key, event)
	if err != nil {
		m.logger.ErrorContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

func rejectionReason(err error) string {
	switch {
	case models.IsValidationError(err):
		return "validation"
	case errors.Is(err, models.ErrUnresolvedBuilder):
		return "unresolved_builder"
	case errors.Is(err, models.ErrLoopingNotAllowed):
		return "looping"
	case errors.Is(err, models.ErrAmbiguousBuilder):
		return "ambiguous_builder"
	default:
		return "compile"
	}
}
