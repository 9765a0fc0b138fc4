package main

import (
	"context"
	"fmt"

	"github.com/dukex/dataflow/pkg/cmd"
	"github.com/dukex/dataflow/pkg/log"
	"github.com/urfave/cli/v3"
)

func NewImportCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Aliases:   []string{"i"},
		Usage:     "Store dataflow documents, replacing flows with the same name",
		ArgsUsage: "<file...>",
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
			logger := log.WithModule("dataflow").With("action", "import")

			files := command.Args().Slice()
			if len(files) == 0 {
				return cli.Exit("at least one dataflow file is required", 2)
			}

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			out := command.Root().Writer

			for _, path := range files {
				definition, err := readDataFlow(path)
				if err != nil {
					return err
				}

				err = persistence.SaveDataFlow(ctx, definition)
				if err != nil {
					return fmt.Errorf("failed to store %s: %w", definition.Name(), err)
				}

				_, _ = fmt.Fprintf(out, "Imported %s from %s\n", definition.Name(), path)
			}

			return nil
		},
	}
}
