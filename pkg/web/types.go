// Package web provides HTTP request and response types for the dataflow API.
package web

import (
	"github.com/dukex/dataflow/pkg/models"
	"github.com/moogar0880/problems"
)

// ValidationProblem is an RFC 7807 problem listing the invalid fields.
type ValidationProblem struct {
	*problems.Problem

	Fields []string `json:"fields,omitempty"`
}

// ListDataFlowsResponse represents the response for listing stored dataflows.
type ListDataFlowsResponse struct {
	DataFlows  []*models.DataFlow `json:"dataflows"`
	TotalCount int                `json:"total_count"`
	Active     []string           `json:"active"`
}

// ResultsRequest carries the data context of a finished run.
type ResultsRequest struct {
	Data map[string]any `json:"data" validate:"required"`
}

// ResultsResponse is the part of a run's data context that may be persisted.
type ResultsResponse struct {
	DataFlow string         `json:"dataflow"`
	Data     map[string]any `json:"data"`
}

// BuildersResponse lists the registered builders.
type BuildersResponse struct {
	Builders []models.BuilderMeta `json:"builders"`
}
