package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/dataflow/pkg/models"
	"github.com/dukex/dataflow/pkg/persistence"
	"github.com/dukex/dataflow/pkg/persistence/postgresql"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	for _, table := range []string{"dataflows", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping PostgreSQL integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("dataflow_test"),
			postgres.WithUsername("dataflow"),
			postgres.WithPassword("dataflow"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = p.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return p, ctx, databaseURL
}

func newFlow(t *testing.T, name string, opts ...models.Option) *models.DataFlow {
	t.Helper()

	flow, err := models.NewDataFlow(name, "totalAmount", opts...)
	require.NoError(t, err)

	return flow
}

func TestNewPersistence_Migrations(t *testing.T) {
	_, ctx, databaseURL := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		err := db.Close()
		require.NoError(t, err)
	}()

	var exists bool

	err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM
information_schema.tables WHERE table_name = 'dataflows')`).Scan(&exists)
	require.NoError(t, err)
	assert.True(t, exists, "dataflows table should exist")

	var version int

	err = db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestNewPersistence_MigrationsAreIdempotent(t *testing.T) {
	_, ctx, databaseURL := setupTestDB(t)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	again, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)
	require.NoError(t, again.Close(ctx))
}

func TestNewPersistence_HealthCheck(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	assert.NoError(t, p.HealthCheck(ctx))
}

func TestNewPersistence_SaveAndRetrieveDataFlow(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	flow := newFlow(t, "order-total",
		models.WithDescription("order totals"),
		models.WithResolutionSpecs(map[string]string{"tax": "defaultTaxBuilder"}),
		models.WithTransients("rawLineItems", "sessionToken"),
		models.WithLoopingEnabled(false),
	)

	require.NoError(t, p.SaveDataFlow(ctx, flow))

	retrieved, err := p.DataFlowByName(ctx, "order-total")
	require.NoError(t, err)
	require.NotNil(t, retrieved)

	assert.True(t, flow.Equal(retrieved))
	assert.Equal(t, "order totals", retrieved.Description())
	assert.False(t, retrieved.LoopingEnabled())
	assert.True(t, retrieved.Enabled())

	notFound, err := p.DataFlowByName(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, notFound)
}

func TestNewPersistence_UpdateDataFlow(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	require.NoError(t, p.SaveDataFlow(ctx, newFlow(t, "order-total")))

	updated := newFlow(t, "order-total",
		models.WithEnabled(false),
		models.WithResolutionSpecs(map[string]string{"tax": "exemptTaxBuilder"}),
	)
	require.NoError(t, p.SaveDataFlow(ctx, updated))

	retrieved, err := p.DataFlowByName(ctx, "order-total")
	require.NoError(t, err)
	require.NotNil(t, retrieved)

	assert.False(t, retrieved.Enabled())
	builder, _ := retrieved.ResolutionSpecs().Resolve("tax")
	assert.Equal(t, "exemptTaxBuilder", builder)
}

func TestNewPersistence_ListDataFlows(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	require.NoError(t, p.SaveDataFlow(ctx, newFlow(t, "shipping")))
	require.NoError(t, p.SaveDataFlow(ctx, newFlow(t, "invoice")))

	flows, err := p.DataFlows(ctx)
	require.NoError(t, err)
	require.Len(t, flows, 2)
	assert.Equal(t, "invoice", flows[0].Name())
	assert.Equal(t, "shipping", flows[1].Name())
}

func TestNewPersistence_DeleteDataFlow(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	require.NoError(t, p.SaveDataFlow(ctx, newFlow(t, "order-total")))
	require.NoError(t, p.DeleteDataFlow(ctx, "order-total"))

	deleted, err := p.DataFlowByName(ctx, "order-total")
	require.NoError(t, err)
	assert.Nil(t, deleted)

	err = p.DeleteDataFlow(ctx, "order-total")
	assert.True(t, persistence.IsDataFlowNotFound(err))
}

func TestNewPersistence_CorruptRow(t *testing.T) {
	p, ctx, databaseURL := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		require.NoError(t, db.Close())
	}()

	_, err = db.ExecContext(ctx, "INSERT INTO dataflows (name, target_data) VALUES ('broken', '')")
	require.NoError(t, err)

	_, err = p.DataFlowByName(ctx, "broken")
	assert.ErrorIs(t, err, persistence.ErrCorruptDataFlow)
}
