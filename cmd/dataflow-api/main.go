package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dukex/dataflow/pkg/cmd"
	"github.com/dukex/dataflow/pkg/eventbus"
	"github.com/dukex/dataflow/pkg/flow"
	"github.com/dukex/dataflow/pkg/log"
	"github.com/dukex/dataflow/pkg/metrics"
	"github.com/dukex/dataflow/pkg/otelhelper"
	"github.com/dukex/dataflow/pkg/persistence"
	"github.com/dukex/dataflow/pkg/registry"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultPort           = 9091
	defaultReloadSchedule = "@every 1m"
)

func main() {
	command := &cli.Command{
		Name:                  "dataflow-api",
		Usage:                 "Store, activate and check out dataflows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (file path, postgres:// or redis://)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka, nats)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "event-bus-servers",
				Usage:   "Comma separated Kafka brokers or NATS URLs",
				Sources: cli.EnvVars("EVENT_BUS_SERVERS", "KAFKA_BROKERS", "NATS_URL"),
			},
			&cli.StringFlag{
				Name:    "builder-catalog",
				Usage:   "Path to a JSON catalog of builder descriptions",
				Sources: cli.EnvVars("BUILDER_CATALOG"),
			},
			&cli.StringFlag{
				Name:    "plugins-path",
				Usage:   "Path to the directory containing builder plugins",
				Value:   "./plugins",
				Sources: cli.EnvVars("PLUGINS_PATH"),
			},
			&cli.StringFlag{
				Name:    "reload-schedule",
				Usage:   "Cron schedule for reloading stored dataflows, empty to disable",
				Value:   defaultReloadSchedule,
				Sources: cli.EnvVars("RELOAD_SCHEDULE"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export traces over OTLP",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: run,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := command.Run(ctx, os.Args)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	logger := log.WithModule("api")
	logger.InfoContext(ctx, "Initializing dataflow API")

	tracer := otelhelper.NoopTracer()

	if command.Bool("tracing") {
		var (
			shutdown otelhelper.ShutdownFunc
			err      error
		)

		tracer, shutdown, err = otelhelper.NewTracer(ctx, "dataflow-api")
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}

		defer func() {
			if err := shutdown(context.WithoutCancel(ctx)); err != nil {
				logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
			}
		}()
	}

	registry, err := cmd.NewRegistry(ctx, logger, command.String("builder-catalog"), command.String("plugins-path"))
	if err != nil {
		return err
	}

	persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := persistence.Close(context.WithoutCancel(ctx)); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), splitServers(command.String("event-bus-servers")), logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	m := metrics.New()
	manager := newManager(logger, registry, persistence, eventBus, m, tracer)

	failed, err := manager.Reload(ctx)
	if err != nil {
		return fmt.Errorf("failed to load stored dataflows: %w", err)
	}

	if len(failed) > 0 {
		logger.WarnContext(ctx, "Some stored dataflows were not activated", "dataflows", failed)
	}

	if schedule := command.String("reload-schedule"); schedule != "" {
		err = manager.StartReloading(ctx, schedule)
		if err != nil {
			return err
		}

		defer manager.Stop()
	}

	api := NewAPI(logger, persistence, registry, manager, m)

	return api.Start(ctx, command.Int("port"))
}

func newManager(
	logger *slog.Logger,
	registry *registry.Registry,
	persistence persistence.Persistence,
	publisher eventbus.EventPublisher,
	m *metrics.Metrics,
	tracer trace.Tracer,
) *flow.Manager {
	return flow.NewManager(logger, registry,
		flow.WithCompiler(flow.NewProducerCompiler(flow.NewActivator())),
		flow.WithPersistence(persistence),
		flow.WithPublisher(publisher),
		flow.WithMetrics(m),
		flow.WithTracer(tracer),
	)
}

func splitServers(value string) []string {
	if value == "" {
		return nil
	}

	servers := strings.Split(value, ",")
	for i := range servers {
		servers[i] = strings.TrimSpace(servers[i])
	}

	return servers
}
