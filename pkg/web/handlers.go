// Package web provides HTTP handlers and REST API endpoints for schemas, records and workflows.
package web

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/nodebase/pkg/models"
	"github.com/dukex/nodebase/pkg/registry"
	"github.com/dukex/nodebase/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// RecordWriter applies record writes through the workflows gating them.
type RecordWriter interface {
	Create(ctx context.Context, organizationID int64, actor string, payload models.RecordData) (models.RecordData, error)
	Update(ctx context.Context, organizationID int64, actor, recordID string, payload models.RecordData) (models.RecordData, error)
	UpsertMultiple(ctx context.Context, organizationID int64, actor string, payloads []models.RecordData) ([]models.RecordData, error)
	Delete(ctx context.Context, organizationID int64, actor, recordID string) error
	CreateReferenceNode(ctx context.Context, organizationID int64, actor, sourceID, attributeName string, payload models.RecordData) (models.RecordData, error)
}

type APIHandlers struct {
	schemas   *services.Schema
	records   *services.Records
	workflows *services.Workflows
	writer    RecordWriter
	validator *validator.Validate
	registry  *registry.Registry
}

func NewAPIHandlers(
	schemas *services.Schema,
	records *services.Records,
	workflows *services.Workflows,
	writer RecordWriter,
	validator *validator.Validate,
	registry *registry.Registry,
) *APIHandlers {
	return &APIHandlers{
		schemas:   schemas,
		records:   records,
		workflows: workflows,
		writer:    writer,
		validator: validator,
		registry:  registry,
	}
}

// identity reads the organization and actor of the request.
func identity(c fiber.Ctx) (int64, string, error) {
	raw := strings.TrimSpace(c.Get(HeaderOrganizationID))
	if raw == "" {
		return 0, "", fmt.Errorf("%s header is required", HeaderOrganizationID)
	}

	organizationID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || organizationID <= 0 {
		return 0, "", fmt.Errorf("%s header must be a positive integer", HeaderOrganizationID)
	}

	actor := strings.TrimSpace(c.Get(HeaderActor))
	if actor == "" {
		actor = defaultActor
	}

	return organizationID, actor, nil
}

func queryInt(c fiber.Ctx, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}

	return value, nil
}

func queryBool(c fiber.Ctx, key string) (bool, error) {
	raw := c.Query(key)
	if raw == "" {
		return false, nil
	}

	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean", key)
	}

	return value, nil
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	guards, actions, serviceNames := h.registry.Names()
	registryCheck := fmt.Sprintf("%d guards, %d actions and %d services registered", len(guards), len(actions), len(serviceNames))
	repositoryCheck, repOk := h.workflows.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Nodebase API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "Nodebase API is healthy"
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

// Registry lists the guard, action and service names workflow configs may use.
func (h *APIHandlers) Registry(c fiber.Ctx) error {
	guards, actions, serviceNames := h.registry.Names()

	return c.JSON(fiber.Map{
		"guards":   guards,
		"actions":  actions,
		"services": serviceNames,
	})
}

// Routes mounts every endpoint on the router.
func (h *APIHandlers) Routes(router fiber.Router) {
	router.Get("/registry", h.Registry)

	schemas := router.Group("/schemas")
	schemas.Get("/", h.FindSchemas)
	schemas.Post("/", h.CreateSchema)
	schemas.Get("/by-name/:name", h.FindSchemaByName)
	schemas.Get("/by-type/:type", h.FindSchemasByType)
	schemas.Get("/:id", h.FindSchema)
	schemas.Delete("/:id", h.DeleteSchema)
	schemas.Post("/:id/versions", h.CreateSchemaVersion)

	versions := router.Group("/schema-versions")
	versions.Get("/:id", h.FindSchemaVersion)
	versions.Put("/:id", h.UpdateSchemaVersion)
	versions.Post("/:id/publish", h.PublishSchemaVersion)
	versions.Get("/:id/records", h.FindRecords)
	versions.Post("/:id/records", h.CreateVersionRecord)
	versions.Get("/:id/workflows", h.FindWorkflowsBySchemaVersion)

	records := router.Group("/records")
	records.Post("/", h.CreateRecord)
	records.Post("/batch", h.UpsertRecords)
	records.Get("/:id", h.FindRecord)
	records.Patch("/:id", h.UpdateRecord)
	records.Delete("/:id", h.DeleteRecord)
	records.Get("/:id/history", h.RecordHistory)
	records.Post("/:id/references/:attribute", h.CreateReferenceNode)

	workflows := router.Group("/workflows")
	workflows.Post("/", h.CreateWorkflow)
	workflows.Delete("/:id", h.DeleteWorkflow)
	workflows.Get("/versions/:id", h.FindWorkflowVersion)
	workflows.Put("/versions/:id", h.UpdateWorkflowVersion)
	workflows.Post("/versions/:id/publish", h.PublishWorkflowVersion)
	workflows.Post("/versions/:id/versions", h.CreateWorkflowVersion)
}
