// Package registry provides the process-wide catalog of builder capabilities.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"plugin"
	"slices"
	"strings"
	"sync"

	"github.com/dukex/dataflow/pkg/models"
	"github.com/dukex/dataflow/pkg/protocol"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var (
	// ErrBuilderAlreadyRegistered indicates a builder with the same ID is already in the registry.
	ErrBuilderAlreadyRegistered = errors.New("builder already registered")

	// ErrInvalidPlugin indicates a plugin does not export a usable Builder symbol.
	ErrInvalidPlugin = errors.New("invalid builder plugin")
)

// Registry is safe for concurrent use. It is shared by every flow that
// references it and is never copied by them.
type Registry struct {
	logger   *slog.Logger
	mu       sync.RWMutex
	builders map[string]protocol.Builder
	order    []string
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:   log,
		builders: make(map[string]protocol.Builder),
	}
}

// RegisterBuilder adds a builder. IDs are unique.
func (r *Registry) RegisterBuilder(builder protocol.Builder) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.builders[builder.ID()]; exists {
		return fmt.Errorf("%w: %s", ErrBuilderAlreadyRegistered, builder.ID())
	}

	r.builders[builder.ID()] = builder
	r.order = append(r.order, builder.ID())

	return nil
}

// Lookup implements models.BuilderRegistry.
func (r *Registry) Lookup(name string) (models.BuilderMeta, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	builder, ok := r.builders[name]
	if !ok {
		return models.BuilderMeta{}, false
	}

	return describe(builder), true
}

// ProducersOf returns the builders that produce datum, in registration order.
func (r *Registry) ProducersOf(datum string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	producers := make([]string, 0)

	for _, id := range r.order {
		if r.builders[id].Produces() == datum {
			producers = append(producers, id)
		}
	}

	return producers
}

// Builders returns every registered builder, in registration order.
func (r *Registry) Builders() []models.BuilderMeta {
	r.mu.RLock()
	defer r.mu.RUnlock()

	metas := make([]models.BuilderMeta, 0, len(r.order))
	for _, id := range r.order {
		metas = append(metas, describe(r.builders[id]))
	}

	return metas
}

func (r *Registry) HealthCheck() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.builders) == 0 {
		return "No builders registered", false
	}

	return fmt.Sprintf("%d builders registered", len(r.builders)), true
}

// LoadCatalog reads an array of builder descriptions and registers them.
// Files ending in .yaml or .yml are read as YAML, anything else as JSON.
func (r *Registry) LoadCatalog(ctx context.Context, path string) error {
	body, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to read builder catalog %s: %w", path, err)
	}

	var metas []models.BuilderMeta

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(body, &metas)
	default:
		err = json.Unmarshal(body, &metas)
	}

	if err != nil {
		return fmt.Errorf("failed to unmarshal builder catalog %s: %w", path, err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	for _, meta := range metas {
		err := validate.Struct(meta)
		if err != nil {
			return fmt.Errorf("invalid builder %q in catalog %s: %w", meta.Name, path, err)
		}

		err = r.RegisterBuilder(NewStaticBuilder(meta))
		if err != nil {
			return err
		}
	}

	r.logger.InfoContext(ctx, "Loaded builder catalog", "path", path, "builders", len(metas))

	return nil
}

// LoadBuilderPlugins opens every .so under <pluginsPath>/builders and returns
// the Builder symbol each one exports.
func (r *Registry) LoadBuilderPlugins(ctx context.Context, pluginsPath string) ([]protocol.Builder, error) {
	return loadPlugin[protocol.Builder](ctx, r.logger, pluginsPath, "Builder")
}

func loadPlugin[T any](ctx context.Context, logger *slog.Logger, pluginsPath string, symbolName string) ([]T, error) {
	rootPath := filepath.Join(pluginsPath, "builders")

	_, err := os.Stat(rootPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	pluginPathList, err := fs.Glob(os.DirFS(rootPath), "*.so")
	if err != nil {
		return nil, err
	}

	l := logger.With(slog.String("path", pluginsPath), slog.String("type", symbolName))
	l.InfoContext(ctx, "Loading plugins")

	pluginList := make([]T, 0, len(pluginPathList))

	for _, p := range pluginPathList {
		plg, err := plugin.Open(filepath.Join(rootPath, p))
		if err != nil {
			return nil, fmt.Errorf("failed to open plugin %s: %w", p, err)
		}

		v, err := plg.Lookup(symbolName)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidPlugin, p, err)
		}

		castV, ok := v.(T)
		if !ok {
			return nil, fmt.Errorf("%w: %s does not implement %s", ErrInvalidPlugin, p, symbolName)
		}

		pluginList = append(pluginList, castV)

		l.InfoContext(ctx, "Loaded builder plugin", slog.String("plugin", p))
	}

	return pluginList, nil
}

func describe(builder protocol.Builder) models.BuilderMeta {
	return models.BuilderMeta{
		Name:        builder.ID(),
		Description: builder.Description(),
		Consumes:    slices.Clone(builder.Consumes()),
		Optionals:   slices.Clone(builder.Optionals()),
		Produces:    builder.Produces(),
	}
}

// StaticBuilder is a Builder described entirely by its metadata.
type StaticBuilder struct {
	meta models.BuilderMeta
}

func NewStaticBuilder(meta models.BuilderMeta) *StaticBuilder {
	return &StaticBuilder{meta: meta}
}

func (b *StaticBuilder) ID() string {
	return b.meta.Name
}

func (b *StaticBuilder) Description() string {
	return b.meta.Description
}

func (b *StaticBuilder) Consumes() []string {
	return b.meta.Consumes
}

func (b *StaticBuilder) Optionals() []string {
	return b.meta.Optionals
}

func (b *StaticBuilder) Produces() string {
	return b.meta.Produces
}
