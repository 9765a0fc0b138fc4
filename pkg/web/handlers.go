// Package web provides HTTP handlers and REST API endpoints for dataflow management.
package web

import (
	"errors"
	"net/http"
	"time"

	"github.com/dukex/dataflow/pkg/models"
	"github.com/dukex/dataflow/pkg/registry"
	"github.com/dukex/dataflow/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	dataFlowService *services.DataFlow
	validator       *validator.Validate
	registry        *registry.Registry
}

func NewAPIHandlers(
	dataFlowService *services.DataFlow,
	validator *validator.Validate,
	registry *registry.Registry,
) *APIHandlers {
	return &APIHandlers{
		dataFlowService: dataFlowService,
		validator:       validator,
		registry:        registry,
	}
}

func (h *APIHandlers) GetDataFlows(c fiber.Ctx) error {
	flows, err := h.dataFlowService.List(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(ListDataFlowsResponse{
		DataFlows:  flows,
		TotalCount: len(flows),
		Active:     h.dataFlowService.Active(),
	})
}

func (h *APIHandlers) GetDataFlow(c fiber.Ctx) error {
	name := c.Params("name")
	if name == "" {
		return badRequest(c, "Dataflow name is required")
	}

	stored, err := h.dataFlowService.FetchByName(c.Context(), name)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(stored)
}

// CreateDataFlow accepts a dataflow in its persisted form.
func (h *APIHandlers) CreateDataFlow(c fiber.Ctx) error {
	definition, err := h.parseDataFlow(c)
	if err != nil {
		return handleServiceError(c, err)
	}

	created, err := h.dataFlowService.Create(c.Context(), definition)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

// UpdateDataFlow replaces the stored dataflow with the persisted form in the body.
func (h *APIHandlers) UpdateDataFlow(c fiber.Ctx) error {
	name := c.Params("name")
	if name == "" {
		return badRequest(c, "Dataflow name is required")
	}

	definition, err := h.parseDataFlow(c)
	if err != nil {
		return handleServiceError(c, err)
	}

	updated, err := h.dataFlowService.Update(c.Context(), name, definition)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteDataFlow(c fiber.Ctx) error {
	name := c.Params("name")
	if name == "" {
		return badRequest(c, "Dataflow name is required")
	}

	err := h.dataFlowService.Delete(c.Context(), name)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ActivateDataFlow(c fiber.Ctx) error {
	active, err := h.dataFlowService.Activate(c.Context(), c.Params("name"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(active)
}

func (h *APIHandlers) DeactivateDataFlow(c fiber.Ctx) error {
	err := h.dataFlowService.Deactivate(c.Context(), c.Params("name"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) EnableDataFlow(c fiber.Ctx) error {
	return h.setEnabled(c, true)
}

func (h *APIHandlers) DisableDataFlow(c fiber.Ctx) error {
	return h.setEnabled(c, false)
}

func (h *APIHandlers) setEnabled(c fiber.Ctx, enabled bool) error {
	stored, err := h.dataFlowService.SetEnabled(c.Context(), c.Params("name"), enabled)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(stored)
}

func (h *APIHandlers) CheckoutDataFlow(c fiber.Ctx) error {
	checkout, err := h.dataFlowService.Checkout(c.Context(), c.Params("name"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(checkout)
}

// PersistableResult strips transient data from a finished run's data context.
func (h *APIHandlers) PersistableResult(c fiber.Ctx) error {
	name := c.Params("name")

	var req ResultsRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	data, err := h.dataFlowService.PersistableResult(c.Context(), name, req.Data)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(ResultsResponse{DataFlow: name, Data: data})
}

func (h *APIHandlers) GetBuilders(c fiber.Ctx) error {
	return c.JSON(BuildersResponse{Builders: h.registry.Builders()})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	registryCheck, regOk := h.registry.HealthCheck()
	repositoryCheck, repOk := h.dataFlowService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Dataflow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if regOk && repOk {
		status = "healthy"
		message = "Dataflow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"registry":   registryCheck,
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

// parseDataFlow runs the body through schema and construction validation and
// attaches the builder registry.
func (h *APIHandlers) parseDataFlow(c fiber.Ctx) (*models.DataFlow, error) {
	body := c.Body()
	if len(body) == 0 {
		return nil, services.NewValidationError("parse", "empty_body", "request body is required", services.ErrInvalidRequest)
	}

	definition, err := models.ParseDataFlow(body, models.WithBuilderRegistry(h.registry))
	if err != nil {
		if models.IsValidationError(err) {
			return nil, err
		}

		return nil, errors.Join(services.ErrInvalidRequest, err)
	}

	return definition, nil
}

// Mount registers the dataflow routes on router.
func (h *APIHandlers) Mount(router fiber.Router) {
	router.Get("/health", h.HealthCheck)
	router.Get("/builders", h.GetBuilders)

	dataFlows := router.Group("/dataflows")
	dataFlows.Get("/", h.GetDataFlows)
	dataFlows.Post("/", h.CreateDataFlow)
	dataFlows.Get("/:name", h.GetDataFlow)
	dataFlows.Put("/:name", h.UpdateDataFlow)
	dataFlows.Delete("/:name", h.DeleteDataFlow)
	dataFlows.Post("/:name/activate", h.ActivateDataFlow)
	dataFlows.Delete("/:name/activate", h.DeactivateDataFlow)
	dataFlows.Post("/:name/enable", h.EnableDataFlow)
	dataFlows.Post("/:name/disable", h.DisableDataFlow)
	dataFlows.Post("/:name/checkout", h.CheckoutDataFlow)
	dataFlows.Post("/:name/results", h.PersistableResult)
}
