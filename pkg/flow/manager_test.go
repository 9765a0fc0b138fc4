package flow_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/dataflow/pkg/events"
	"github.com/dukex/dataflow/pkg/flow"
	"github.com/dukex/dataflow/pkg/graph"
	"github.com/dukex/dataflow/pkg/metrics"
	"github.com/dukex/dataflow/pkg/mocks"
	"github.com/dukex/dataflow/pkg/models"
	"github.com/dukex/dataflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T, opts ...flow.ManagerOption) *flow.Manager {
	t.Helper()

	opts = append([]flow.ManagerOption{
		flow.WithCompiler(flow.NewProducerCompiler(nil)),
		flow.WithMetrics(metrics.New()),
	}, opts...)

	return flow.NewManager(slog.Default(), orderRegistry(t), opts...)
}

func TestManager_RegisterAndCheckout(t *testing.T) {
	ctx := context.Background()
	manager := newManager(t)

	require.NoError(t, manager.Register(ctx, orderFlow(t, nil)))

	run, err := manager.Checkout(ctx, "order-total")
	require.NoError(t, err)

	assert.Equal(t, "order-total", run.Name())
	assert.NotNil(t, run.BuilderRegistry())
	require.NotNil(t, run.DependencyGraph())

	run.ResolutionSpecs().Set("tax", "exemptTaxBuilder")
	run.Transients().Add("tax")
	run.DependencyGraph().(*graph.ExecutionGraph).MarkExecuted("totalBuilder")

	template, ok := manager.Lookup("order-total")
	require.True(t, ok)

	builder, _ := template.ResolutionSpecs().Resolve("tax")
	assert.Equal(t, "defaultTaxBuilder", builder)
	assert.False(t, template.Transients().Contains("tax"))
	assert.Equal(t, 0, template.DependencyGraph().(*graph.ExecutionGraph).Executions("totalBuilder"))
}

func TestManager_RegisterKeepsOwnCopy(t *testing.T) {
	ctx := context.Background()
	manager := newManager(t)
	original := orderFlow(t, nil)

	require.NoError(t, manager.Register(ctx, original))

	original.SetEnabled(false)
	original.ResolutionSpecs().Set("tax", "missingBuilder")

	run, err := manager.Checkout(ctx, "order-total")
	require.NoError(t, err)

	builder, _ := run.ResolutionSpecs().Resolve("tax")
	assert.Equal(t, "defaultTaxBuilder", builder)
}

func TestManager_RegisterRejectsLoopsWhenLoopingDisabled(t *testing.T) {
	ctx := context.Background()
	manager := newManager(t)

	scoring, err := models.NewDataFlow("scoring", "score", models.WithLoopingEnabled(false))
	require.NoError(t, err)

	err = manager.Register(ctx, scoring)
	require.Error(t, err)

	var looping *models.LoopingNotAllowedError
	require.True(t, errors.As(err, &looping))
	assert.Equal(t, "scoring", looping.Flow)
	assert.Empty(t, manager.Names())

	scoring.SetLoopingEnabled(true)
	require.NoError(t, manager.Register(ctx, scoring))
	assert.Equal(t, []string{"scoring"}, manager.Names())
}

func TestManager_RegisterRejectsAttachedLoopingGraph(t *testing.T) {
	manager := flow.NewManager(slog.Default(), orderRegistry(t))

	scoring, err := models.NewDataFlow("scoring", "score",
		models.WithLoopingEnabled(false),
		models.WithDependencyGraph(loopingGraph(t)),
	)
	require.NoError(t, err)

	assert.ErrorIs(t, manager.Register(context.Background(), scoring), models.ErrLoopingNotAllowed)
}

func TestManager_RegisterRejectsUnresolvedBuilder(t *testing.T) {
	manager := newManager(t)
	f := orderFlow(t, nil, models.WithResolutionSpecs(map[string]string{"tax": "vatBuilder"}))

	err := manager.Register(context.Background(), f)
	require.Error(t, err)

	var unresolved *models.UnresolvedBuilderError
	require.True(t, errors.As(err, &unresolved))
	assert.Equal(t, "vatBuilder", unresolved.Builder)
	assert.Equal(t, "tax", unresolved.Data)
}

func TestManager_RegisterRejectsAmbiguousProducer(t *testing.T) {
	manager := newManager(t)
	f := orderFlow(t, nil, models.WithResolutionSpecs(nil))

	assert.ErrorIs(t, manager.Register(context.Background(), f), models.ErrAmbiguousBuilder)
}

func TestManager_RegisterRejectsInvalidFlow(t *testing.T) {
	manager := newManager(t)

	f := orderFlow(t, nil)
	f.SetTargetData("")

	err := manager.Register(context.Background(), f)
	assert.True(t, models.IsValidationError(err))

	assert.True(t, models.IsValidationError(manager.Register(context.Background(), nil)))
}

func TestManager_CheckoutErrors(t *testing.T) {
	ctx := context.Background()
	manager := newManager(t)

	_, err := manager.Checkout(ctx, "missing")
	assert.True(t, persistence.IsDataFlowNotFound(err))

	require.NoError(t, manager.Register(ctx, orderFlow(t, nil, models.WithEnabled(false))))

	_, err = manager.Checkout(ctx, "order-total")
	require.Error(t, err)
	assert.True(t, models.IsFlowDisabled(err))

	var disabled *models.FlowDisabledError
	require.True(t, errors.As(err, &disabled))
	assert.Equal(t, "order-total", disabled.Flow)
}

func TestManager_SetEnabled(t *testing.T) {
	ctx := context.Background()
	publisher := &mocks.MockEventBus{}
	publisher.On("Publish", mock.Anything, "order-total", mock.AnythingOfType("events.DataFlowRegistered")).Return(nil).Once()
	publisher.On("Publish", mock.Anything, "order-total", mock.AnythingOfType("events.DataFlowDisabled")).Return(nil).Once()
	publisher.On("Publish", mock.Anything, "order-total", mock.AnythingOfType("events.DataFlowEnabled")).Return(nil).Once()

	manager := newManager(t, flow.WithPublisher(publisher))
	require.NoError(t, manager.Register(ctx, orderFlow(t, nil)))

	before, ok := manager.Lookup("order-total")
	require.True(t, ok)

	require.NoError(t, manager.SetEnabled(ctx, "order-total", false))
	require.NoError(t, manager.SetEnabled(ctx, "order-total", false))

	_, err := manager.Checkout(ctx, "order-total")
	assert.True(t, models.IsFlowDisabled(err))
	assert.True(t, before.Enabled())

	require.NoError(t, manager.SetEnabled(ctx, "order-total", true))

	_, err = manager.Checkout(ctx, "order-total")
	assert.NoError(t, err)

	assert.True(t, persistence.IsDataFlowNotFound(manager.SetEnabled(ctx, "missing", true)))
	publisher.AssertExpectations(t)
}

func TestManager_ReplaceAndDeregister(t *testing.T) {
	ctx := context.Background()
	publisher := &mocks.MockEventBus{}
	publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	manager := newManager(t, flow.WithPublisher(publisher))

	require.NoError(t, manager.Register(ctx, orderFlow(t, nil)))
	require.NoError(t, manager.Register(ctx, orderFlow(t, nil, models.WithDescription("second"))))

	template, ok := manager.Lookup("order-total")
	require.True(t, ok)
	assert.Equal(t, "second", template.Description())

	publisher.AssertCalled(t, "Publish", mock.Anything, "order-total", mock.MatchedBy(func(e events.DataFlowRegistered) bool {
		return e.Replaced
	}))

	require.NoError(t, manager.Deregister(ctx, "order-total"))
	assert.Empty(t, manager.Names())
	assert.True(t, persistence.IsDataFlowNotFound(manager.Deregister(ctx, "order-total")))
}

func TestManager_PublishFailureDoesNotFailRegistration(t *testing.T) {
	publisher := &mocks.MockEventBus{}
	publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down"))

	manager := newManager(t, flow.WithPublisher(publisher))

	assert.NoError(t, manager.Register(context.Background(), orderFlow(t, nil)))
}

func TestManager_Names(t *testing.T) {
	ctx := context.Background()
	manager := newManager(t)

	scoring, err := models.NewDataFlow("scoring", "score")
	require.NoError(t, err)

	require.NoError(t, manager.Register(ctx, scoring))
	require.NoError(t, manager.Register(ctx, orderFlow(t, nil)))

	assert.Equal(t, []string{"order-total", "scoring"}, manager.Names())
}

func TestManager_Reload(t *testing.T) {
	ctx := context.Background()

	broken := orderFlow(t, nil, models.WithResolutionSpecs(map[string]string{"tax": "vatBuilder"}))
	broken.SetName("broken")

	scoring, err := models.NewDataFlow("scoring", "score")
	require.NoError(t, err)

	store := &mocks.MockPersistence{}
	store.On("DataFlows", mock.Anything).Return([]*models.DataFlow{orderFlow(t, nil), broken, scoring}, nil)

	manager := newManager(t, flow.WithPersistence(store))

	require.NoError(t, manager.Register(ctx, orderFlow(t, nil, models.WithDescription("stale"))))

	failed, err := manager.Reload(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"broken"}, failed)
	assert.Equal(t, []string{"order-total", "scoring"}, manager.Names())

	template, _ := manager.Lookup("order-total")
	assert.Empty(t, template.Description())
	store.AssertExpectations(t)
}

func TestManager_ReloadErrors(t *testing.T) {
	ctx := context.Background()

	_, err := newManager(t).Reload(ctx)
	assert.ErrorIs(t, err, flow.ErrNoPersistence)

	store := &mocks.MockPersistence{}
	store.On("DataFlows", mock.Anything).Return(nil, errors.New("connection refused"))

	manager := newManager(t, flow.WithPersistence(store))
	require.NoError(t, manager.Register(ctx, orderFlow(t, nil)))

	_, err = manager.Reload(ctx)
	require.Error(t, err)
	assert.Equal(t, []string{"order-total"}, manager.Names())
}

func TestManager_StartReloading(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := &mocks.MockPersistence{}
	store.On("DataFlows", mock.Anything).Return([]*models.DataFlow{orderFlow(t, nil)}, nil)

	manager := newManager(t, flow.WithPersistence(store))

	assert.Error(t, manager.StartReloading(ctx, "not a schedule"))
	require.NoError(t, manager.StartReloading(ctx, "@every 1s"))
	assert.Error(t, manager.StartReloading(ctx, "@every 1s"))

	assert.Eventually(t, func() bool {
		return len(manager.Names()) == 1
	}, 5*time.Second, 50*time.Millisecond)

	manager.Stop()
	manager.Stop()
}

func TestManager_ReloadKeepsChangesMadeWhileLoading(t *testing.T) {
	ctx := context.Background()

	legacy := orderFlow(t, nil)
	legacy.SetName("legacy")

	scoring, err := models.NewDataFlow("scoring", "score")
	require.NoError(t, err)

	loading := make(chan struct{})
	release := make(chan struct{})

	store := &mocks.MockPersistence{}
	store.On("DataFlows", mock.Anything).
		Run(func(mock.Arguments) {
			close(loading)
			<-release
		}).
		Return([]*models.DataFlow{orderFlow(t, nil), legacy}, nil).Once()
	store.On("DataFlows", mock.Anything).Return([]*models.DataFlow{orderFlow(t, nil)}, nil).Once()

	manager := newManager(t, flow.WithPersistence(store))
	require.NoError(t, manager.Register(ctx, orderFlow(t, nil)))
	require.NoError(t, manager.Register(ctx, legacy))

	type reloadResult struct {
		failed []string
		err    error
	}

	done := make(chan reloadResult, 1)

	go func() {
		failed, err := manager.Reload(ctx)
		done <- reloadResult{failed: failed, err: err}
	}()

	<-loading
	require.NoError(t, manager.Register(ctx, scoring))
	require.NoError(t, manager.SetEnabled(ctx, "order-total", false))
	require.NoError(t, manager.Deregister(ctx, "legacy"))
	close(release)

	result := <-done
	require.NoError(t, result.err)
	assert.Empty(t, result.failed)

	assert.Equal(t, []string{"order-total", "scoring"}, manager.Names())

	template, ok := manager.Lookup("order-total")
	require.True(t, ok)
	assert.False(t, template.Enabled())

	// the next reload starts after those changes, so storage wins again
	_, err = manager.Reload(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"order-total"}, manager.Names())

	template, ok = manager.Lookup("order-total")
	require.True(t, ok)
	assert.True(t, template.Enabled())
	store.AssertExpectations(t)
}

func TestManager_Check(t *testing.T) {
	ctx := context.Background()
	manager := newManager(t)

	require.NoError(t, manager.Check(ctx, orderFlow(t, nil)))

	err := manager.Check(ctx, orderFlow(t, nil, models.WithResolutionSpecs(map[string]string{"tax": "vatBuilder"})))
	assert.ErrorIs(t, err, models.ErrUnresolvedBuilder)

	assert.True(t, models.IsValidationError(manager.Check(ctx, nil)))
	assert.Empty(t, manager.Names())
}

func TestManager_RestartReloadingAfterStop(t *testing.T) {
	var loads atomic.Int32

	store := &mocks.MockPersistence{}
	store.On("DataFlows", mock.Anything).
		Run(func(mock.Arguments) { loads.Add(1) }).
		Return([]*models.DataFlow{orderFlow(t, nil)}, nil)

	manager := newManager(t, flow.WithPersistence(store))

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	require.NoError(t, manager.StartReloading(firstCtx, "@every 1s"))
	manager.Stop()

	secondCtx, cancelSecond := context.WithCancel(context.Background())
	defer cancelSecond()

	require.NoError(t, manager.StartReloading(secondCtx, "@every 1s"))

	// cancelling the first context must not stop the second schedule
	cancelFirst()
	time.Sleep(50 * time.Millisecond)

	seen := loads.Load()

	assert.Eventually(t, func() bool {
		return loads.Load() >= seen+2
	}, 5*time.Second, 50*time.Millisecond)

	manager.Stop()
}

func TestManager_StartReloadingWithoutPersistence(t *testing.T) {
	assert.ErrorIs(t, newManager(t).StartReloading(context.Background(), "@every 1s"), flow.ErrNoPersistence)
}

func TestManager_ConcurrentCheckouts(t *testing.T) {
	ctx := context.Background()
	manager := newManager(t)
	require.NoError(t, manager.Register(ctx, orderFlow(t, nil)))

	var wg sync.WaitGroup

	for range 32 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			run, err := manager.Checkout(ctx, "order-total")
			if !assert.NoError(t, err) {
				return
			}

			run.DependencyGraph().(*graph.ExecutionGraph).MarkExecuted("totalBuilder")
			run.Transients().Add("tax")
		}()
	}

	wg.Wait()

	template, _ := manager.Lookup("order-total")
	assert.Equal(t, 0, template.DependencyGraph().(*graph.ExecutionGraph).Executions("totalBuilder"))
	assert.False(t, template.Transients().Contains("tax"))
}
