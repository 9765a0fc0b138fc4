// Package models defines the flow definition consumed by the data-production engine.
package models

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

// DataFlow is the template describing how a target datum is produced from
// registered builders. Once registered it is treated as immutable: every
// execution works on a DeepCopy.
type DataFlow struct {
	name            string
	description     string
	targetData      string
	resolutionSpecs ResolutionMap
	dependencyGraph DependencyGraph
	transients      TransientSet
	enabled         bool
	loopingEnabled  bool
	builderRegistry BuilderRegistry
}

// Option configures a DataFlow at construction time.
type Option func(*DataFlow)

func WithDescription(description string) Option {
	return func(f *DataFlow) {
		f.description = description
	}
}

// WithResolutionSpecs copies specs into the flow's resolution map.
func WithResolutionSpecs(specs map[string]string) Option {
	return func(f *DataFlow) {
		f.resolutionSpecs = ResolutionMap(specs).Clone()
	}
}

func WithTransients(names ...string) Option {
	return func(f *DataFlow) {
		f.transients = NewTransientSet(names...)
	}
}

func WithEnabled(enabled bool) Option {
	return func(f *DataFlow) {
		f.enabled = enabled
	}
}

func WithLoopingEnabled(enabled bool) Option {
	return func(f *DataFlow) {
		f.loopingEnabled = enabled
	}
}

func WithBuilderRegistry(registry BuilderRegistry) Option {
	return func(f *DataFlow) {
		f.builderRegistry = registry
	}
}

func WithDependencyGraph(graph DependencyGraph) Option {
	return func(f *DataFlow) {
		f.dependencyGraph = graph
	}
}

// NewDataFlow builds and validates a flow. Enabled and looping default to true.
func NewDataFlow(name, targetData string, opts ...Option) (*DataFlow, error) {
	flow := &DataFlow{
		name:            name,
		targetData:      targetData,
		resolutionSpecs: ResolutionMap{},
		transients:      TransientSet{},
		enabled:         true,
		loopingEnabled:  true,
	}

	for _, opt := range opts {
		opt(flow)
	}

	err := flow.Validate()
	if err != nil {
		return nil, err
	}

	return flow, nil
}

// dataFlowDocument is the persisted form of a flow. The graph and the
// builder registry are attached programmatically and never serialized.
type dataFlowDocument struct {
	Name            string            `json:"name"                     validate:"required,notblank"`
	Description     string            `json:"description,omitempty"`
	TargetData      string            `json:"targetData"               validate:"required,notblank"`
	ResolutionSpecs map[string]string `json:"resolutionSpecs"          validate:"dive,keys,required,endkeys,required"`
	Transients      []string          `json:"transients,omitempty"     validate:"dive,required"`
	Enabled         *bool             `json:"enabled,omitempty"`
	LoopingEnabled  *bool             `json:"loopingEnabled,omitempty"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func documentValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("notblank", validators.NotBlank)
		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}

			return name
		})
	})

	return validate
}

// Validate checks the fields required before a flow may enter a registry.
// It never consults the builder registry; that happens at activation.
func (f *DataFlow) Validate() error {
	err := documentValidator().Struct(f.document())
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return &ValidationError{Flow: f.name, Err: err}
	}

	fields := make([]string, 0, len(fieldErrors))
	for _, fieldErr := range fieldErrors {
		fields = append(fields, fieldErr.Field())
	}

	return &ValidationError{Flow: f.name, Fields: fields, Err: err}
}

func (f *DataFlow) Name() string {
	return f.name
}

func (f *DataFlow) SetName(name string) {
	f.name = name
}

func (f *DataFlow) Description() string {
	return f.description
}

func (f *DataFlow) SetDescription(description string) {
	f.description = description
}

func (f *DataFlow) TargetData() string {
	return f.targetData
}

// SetTargetData replaces the target. The attached graph is not recompiled.
func (f *DataFlow) SetTargetData(targetData string) {
	f.targetData = targetData
}

// ResolutionSpecs returns the flow's own resolution map, not a copy.
func (f *DataFlow) ResolutionSpecs() ResolutionMap {
	return f.resolutionSpecs
}

// SetResolutionSpecs replaces the resolution map. The attached graph is not recompiled.
func (f *DataFlow) SetResolutionSpecs(specs ResolutionMap) {
	f.resolutionSpecs = specs
}

// Transients returns the flow's own transient set, not a copy.
func (f *DataFlow) Transients() TransientSet {
	return f.transients
}

func (f *DataFlow) SetTransients(transients TransientSet) {
	f.transients = transients
}

func (f *DataFlow) Enabled() bool {
	return f.enabled
}

func (f *DataFlow) SetEnabled(enabled bool) {
	f.enabled = enabled
}

func (f *DataFlow) LoopingEnabled() bool {
	return f.loopingEnabled
}

func (f *DataFlow) SetLoopingEnabled(enabled bool) {
	f.loopingEnabled = enabled
}

// DependencyGraph returns the compiled graph, or nil before compilation.
func (f *DataFlow) DependencyGraph() DependencyGraph {
	return f.dependencyGraph
}

// SetDependencyGraph attaches a compiled graph. Passing nil releases it.
func (f *DataFlow) SetDependencyGraph(graph DependencyGraph) {
	f.dependencyGraph = graph
}

func (f *DataFlow) BuilderRegistry() BuilderRegistry {
	return f.builderRegistry
}

func (f *DataFlow) SetBuilderRegistry(registry BuilderRegistry) {
	f.builderRegistry = registry
}

// DeepCopy returns a flow that shares nothing mutable with f. Scalars are
// copied, the graph and both containers are duplicated, and the builder
// registry is carried over by reference. f is only read.
func (f *DataFlow) DeepCopy() *DataFlow {
	if f == nil {
		return nil
	}

	clone := &DataFlow{
		name:            f.name,
		description:     f.description,
		targetData:      f.targetData,
		resolutionSpecs: f.resolutionSpecs.Clone(),
		transients:      f.transients.Clone(),
		enabled:         f.enabled,
		loopingEnabled:  f.loopingEnabled,
		builderRegistry: f.builderRegistry,
	}

	if f.dependencyGraph != nil {
		clone.dependencyGraph = f.dependencyGraph.DeepCopy()
	}

	return clone
}

// Equal reports field-by-field value equality. Graphs are compared through
// their own Equal method when they have one, otherwise only by presence.
func (f *DataFlow) Equal(other *DataFlow) bool {
	if f == nil || other == nil {
		return f == other
	}

	return f.name == other.name &&
		f.description == other.description &&
		f.targetData == other.targetData &&
		f.enabled == other.enabled &&
		f.loopingEnabled == other.loopingEnabled &&
		f.resolutionSpecs.Equal(other.resolutionSpecs) &&
		f.transients.Equal(other.transients) &&
		sameRegistry(f.builderRegistry, other.builderRegistry) &&
		graphsEqual(f.dependencyGraph, other.dependencyGraph)
}

// sameRegistry compares registry identity. Registries backed by maps,
// slices or funcs are not comparable with ==, so those compare by the
// address of their backing data.
func sameRegistry(a, b BuilderRegistry) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}

	if va.Comparable() && vb.Comparable() {
		return a == b
	}

	switch va.Kind() {
	case reflect.Map, reflect.Func:
		return va.Pointer() == vb.Pointer()
	case reflect.Slice:
		return va.Pointer() == vb.Pointer() && va.Len() == vb.Len()
	default:
		return reflect.DeepEqual(a, b)
	}
}

func graphsEqual(a, b DependencyGraph) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if comparer, ok := a.(graphComparer); ok {
		return comparer.Equal(b)
	}

	return true
}

func (f *DataFlow) document() dataFlowDocument {
	enabled := f.enabled
	loopingEnabled := f.loopingEnabled

	doc := dataFlowDocument{
		Name:            f.name,
		Description:     f.description,
		TargetData:      f.targetData,
		ResolutionSpecs: f.resolutionSpecs.Clone(),
		Enabled:         &enabled,
		LoopingEnabled:  &loopingEnabled,
	}

	if f.transients.Len() > 0 {
		doc.Transients = f.transients.Names()
	}

	return doc
}

// MarshalJSON writes the persisted form.
func (f *DataFlow) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.document())
}

// UnmarshalJSON reads the persisted form, applying defaults for absent flags.
// Unknown fields are ignored. It does not validate; use ParseDataFlow for that.
func (f *DataFlow) UnmarshalJSON(data []byte) error {
	var doc dataFlowDocument

	err := json.Unmarshal(data, &doc)
	if err != nil {
		return err
	}

	f.name = doc.Name
	f.description = doc.Description
	f.targetData = doc.TargetData
	f.resolutionSpecs = ResolutionMap(doc.ResolutionSpecs).Clone()
	f.transients = NewTransientSet(doc.Transients...)
	f.enabled = doc.Enabled == nil || *doc.Enabled
	f.loopingEnabled = doc.LoopingEnabled == nil || *doc.LoopingEnabled

	return nil
}
