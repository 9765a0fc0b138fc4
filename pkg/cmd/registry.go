package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/dataflow/pkg/registry"
)

// NewRegistry loads the builder catalog, if any, then every builder plugin
// under pluginsPath.
func NewRegistry(ctx context.Context, log *slog.Logger, catalogPath, pluginsPath string) (*registry.Registry, error) {
	reg := registry.NewRegistry(log)

	if catalogPath != "" {
		err := reg.LoadCatalog(ctx, catalogPath)
		if err != nil {
			return nil, err
		}
	}

	if pluginsPath != "" {
		builders, err := reg.LoadBuilderPlugins(ctx, pluginsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load builder plugins: %w", err)
		}

		for _, builder := range builders {
			err = reg.RegisterBuilder(builder)
			if err != nil {
				return nil, err
			}
		}
	}

	return reg, nil
}
