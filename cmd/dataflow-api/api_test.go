package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dukex/dataflow/pkg/cmd"
	"github.com/dukex/dataflow/pkg/metrics"
	"github.com/dukex/dataflow/pkg/mocks"
	"github.com/dukex/dataflow/pkg/otelhelper"
	"github.com/dukex/dataflow/pkg/persistence/file"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()

	catalog := filepath.Join(t.TempDir(), "builders.json")
	require.NoError(t, os.WriteFile(catalog, []byte(`[
		{"name":"lineItemsBuilder","consumes":["order"],"produces":"lineItems"},
		{"name":"defaultTaxBuilder","consumes":["lineItems"],"produces":"tax"},
		{"name":"totalBuilder","consumes":["lineItems","tax"],"produces":"totalAmount"}
	]`), 0600))

	registry, err := cmd.NewRegistry(context.Background(), slog.Default(), catalog, "")
	require.NoError(t, err)

	persistence := file.NewPersistence(t.TempDir())

	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	m := metrics.New()
	manager := newManager(slog.Default(), registry, persistence, bus, m, otelhelper.NoopTracer())

	return NewAPI(slog.Default(), persistence, registry, manager, m).App()
}

func request(t *testing.T, app *fiber.App, method, target, body string) (int, string) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(payload)
}

func TestAPI_Root(t *testing.T) {
	app := setupTestApp(t)

	status, body := request(t, app, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Dataflow API", body)

	status, _ = request(t, app, http.MethodGet, healthcheck.DefaultLivenessEndpoint, "")
	assert.Equal(t, http.StatusOK, status)
}

func TestAPI_ActivateRecordsMetrics(t *testing.T) {
	app := setupTestApp(t)

	status, body := request(t, app, http.MethodPost, "/dataflows",
		`{"name":"order-total","targetData":"totalAmount","transients":["lineItems"]}`)
	require.Equal(t, http.StatusCreated, status, body)

	status, body = request(t, app, http.MethodPost, "/dataflows/order-total/activate", "")
	require.Equal(t, http.StatusOK, status, body)

	status, body = request(t, app, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `dataflow_registry_registrations_total{status="registered"} 1`)
	assert.Contains(t, body, "dataflow_registry_active_flows 1")
}

func TestSplitServers(t *testing.T) {
	assert.Nil(t, splitServers(""))
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, splitServers("kafka-1:9092, kafka-2:9092"))
}
