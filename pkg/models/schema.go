package models

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// JSONSchema represents a JSON Schema document.
type JSONSchema struct {
	Schema      string               `json:"$schema,omitempty"`
	Type        string               `json:"type"`
	Properties  map[string]*Property `json:"properties,omitempty"`
	Required    []string             `json:"required,omitempty"`
	Title       string               `json:"title,omitempty"`
	Description string               `json:"description,omitempty"`
}

// Property represents a JSON Schema property. Type is a type name or a list
// of type names.
type Property struct {
	Type                 any                  `json:"type"`
	Description          string               `json:"description,omitempty"`
	Default              any                  `json:"default,omitempty"`
	MinLength            *int                 `json:"minLength,omitempty"`
	Items                *Property            `json:"items,omitempty"`
	Properties           map[string]*Property `json:"properties,omitempty"`
	AdditionalProperties *Property            `json:"additionalProperties,omitempty"`
	Required             []string             `json:"required,omitempty"`
}

// DataFlowSchema describes the persisted form of a flow. Unknown fields are allowed.
func DataFlowSchema() *JSONSchema {
	nonEmpty := 1

	return &JSONSchema{
		Schema:      "http://json-schema.org/draft-07/schema#",
		Type:        "object",
		Title:       "DataFlow",
		Description: "Flow definition for the data-production engine",
		Required:    []string{"name", "targetData"},
		Properties: map[string]*Property{
			"name": {
				Type:        "string",
				Description: "Unique name of the flow",
				MinLength:   &nonEmpty,
			},
			"description": {
				Type:        []string{"string", "null"},
				Description: "Free text description",
			},
			"targetData": {
				Type:        "string",
				Description: "Datum the flow must ultimately produce",
				MinLength:   &nonEmpty,
			},
			"resolutionSpecs": {
				Type:                 []string{"object", "null"},
				Description:          "Datum name to builder name, used when several builders produce the same datum",
				AdditionalProperties: &Property{Type: "string", MinLength: &nonEmpty},
			},
			"transients": {
				Type:        []string{"array", "null"},
				Description: "Data excluded from the persisted result",
				Items:       &Property{Type: "string", MinLength: &nonEmpty},
			},
			"enabled": {
				Type:    "boolean",
				Default: true,
			},
			"loopingEnabled": {
				Type:    "boolean",
				Default: true,
			},
		},
	}
}

var dataFlowSchemaLoader = gojsonschema.NewGoLoader(DataFlowSchema())

// ValidateDocument checks a persisted-form JSON document against DataFlowSchema.
func ValidateDocument(document []byte) error {
	result, err := gojsonschema.Validate(dataFlowSchemaLoader, gojsonschema.NewBytesLoader(document))
	if err != nil {
		return &ValidationError{Err: fmt.Errorf("failed to read dataflow document: %w", err)}
	}

	if result.Valid() {
		return nil
	}

	fields := make([]string, 0, len(result.Errors()))
	messages := make([]string, 0, len(result.Errors()))

	for _, desc := range result.Errors() {
		field := desc.Field()
		if property, ok := desc.Details()["property"].(string); ok && field == "(root)" {
			field = property
		}

		fields = append(fields, field)
		messages = append(messages, desc.String())
	}

	return &ValidationError{
		Fields: fields,
		Err:    fmt.Errorf("schema validation errors: %s", strings.Join(messages, "; ")),
	}
}

// ParseDataFlow loads a flow from its persisted form: schema check, decode, then
// the same validation as NewDataFlow.
func ParseDataFlow(document []byte, opts ...Option) (*DataFlow, error) {
	err := ValidateDocument(document)
	if err != nil {
		return nil, err
	}

	flow := &DataFlow{}

	err = flow.UnmarshalJSON(document)
	if err != nil {
		return nil, &ValidationError{Err: err}
	}

	for _, opt := range opts {
		opt(flow)
	}

	err = flow.Validate()
	if err != nil {
		return nil, err
	}

	return flow, nil
}
