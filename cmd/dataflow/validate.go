package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dukex/dataflow/pkg/cmd"
	"github.com/dukex/dataflow/pkg/flow"
	"github.com/dukex/dataflow/pkg/log"
	"github.com/dukex/dataflow/pkg/models"
	"github.com/urfave/cli/v3"
)

// ErrInvalidDataFlows is returned when at least one definition failed.
var ErrInvalidDataFlows = errors.New("invalid dataflows found")

func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Aliases:   []string{"v"},
		Usage:     "Validate dataflow documents, and activate them against a builder catalog when one is given",
		ArgsUsage: "<file...>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "builder-catalog",
				Usage:   "Path to a JSON catalog of builder descriptions",
				Sources: cli.EnvVars("BUILDER_CATALOG"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))
			logger := log.WithModule("dataflow").With("action", "validate")

			files := command.Args().Slice()
			if len(files) == 0 {
				return cli.Exit("at least one dataflow file is required", 2)
			}

			var manager *flow.Manager

			if catalog := command.String("builder-catalog"); catalog != "" {
				registry, err := cmd.NewRegistry(ctx, logger, catalog, "")
				if err != nil {
					return err
				}

				manager = flow.NewManager(logger, registry, flow.WithCompiler(flow.NewProducerCompiler(nil)))
			}

			out := command.Root().Writer

			_, _ = fmt.Fprintln(out, "Dataflow Validation Results:")
			_, _ = fmt.Fprintln(out, "============================")

			invalid := 0

			for _, path := range files {
				_, _ = fmt.Fprintf(out, "\n%s\n", path)

				definition, err := readDataFlow(path)
				if err == nil && manager != nil {
					err = manager.Register(ctx, definition)
				}

				if err != nil {
					_, _ = fmt.Fprintf(out, "    ❌ INVALID: %v\n", err)
					invalid++

					continue
				}

				_, _ = fmt.Fprintf(out, "    ✅ VALID: %s -> %s\n", definition.Name(), definition.TargetData())
			}

			_, _ = fmt.Fprintf(out, "\nValidation Summary:\n")
			_, _ = fmt.Fprintf(out, "  Total dataflows: %d\n", len(files))
			_, _ = fmt.Fprintf(out, "  Valid dataflows: %d\n", len(files)-invalid)
			_, _ = fmt.Fprintf(out, "  Invalid dataflows: %d\n", invalid)

			if invalid > 0 {
				return fmt.Errorf("%w: %d", ErrInvalidDataFlows, invalid)
			}

			return nil
		},
	}
}

func readDataFlow(path string) (*models.DataFlow, error) {
	document, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	return models.ParseDataFlow(document)
}
