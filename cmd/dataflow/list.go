package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/dukex/dataflow/pkg/cmd"
	"github.com/dukex/dataflow/pkg/log"
	"github.com/urfave/cli/v3"
)

func NewListCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List stored dataflows",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))
			logger := log.WithModule("dataflow").With("action", "list")

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			flows, err := persistence.DataFlows(ctx)
			if err != nil {
				return fmt.Errorf("failed to fetch dataflows: %w", err)
			}

			out := command.Root().Writer

			_, _ = fmt.Fprintln(out, "Stored Dataflows:")
			_, _ = fmt.Fprintln(out, "=================")

			for _, f := range flows {
				_, _ = fmt.Fprintf(out, "\nDataflow: %s\n", f.Name())
				_, _ = fmt.Fprintf(out, "Target: %s\n", f.TargetData())
				_, _ = fmt.Fprintf(out, "Enabled: %t\n", f.Enabled())

				if datums := f.ResolutionSpecs().Datums(); len(datums) > 0 {
					_, _ = fmt.Fprintf(out, "Resolutions:\n")

					for _, datum := range datums {
						builder, _ := f.ResolutionSpecs().Resolve(datum)
						_, _ = fmt.Fprintf(out, "  - %s: %s\n", datum, builder)
					}
				}

				if f.Transients().Len() > 0 {
					_, _ = fmt.Fprintf(out, "Transients: %s\n", strings.Join(f.Transients().Names(), ", "))
				}
			}

			_, _ = fmt.Fprintf(out, "\nTotal dataflows: %d\n", len(flows))

			return nil
		},
	}
}
