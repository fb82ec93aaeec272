package web

import (
	"github.com/dukex/nodebase/pkg/models"
	"github.com/dukex/nodebase/pkg/services"
	"github.com/gofiber/fiber/v3"
)

func (h *APIHandlers) FindWorkflowVersion(c fiber.Ctx) error {
	organizationID, _, err := identity(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	version, err := h.workflows.FindByVersionID(c.Context(), organizationID, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(version)
}

func (h *APIHandlers) FindWorkflowsBySchemaVersion(c fiber.Ctx) error {
	organizationID, _, err := identity(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	versions, err := h.workflows.FindByNodeSchemaVersionID(c.Context(), organizationID, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	if versions == nil {
		versions = []*models.WorkflowVersion{}
	}

	return c.JSON(versions)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	organizationID, actor, err := identity(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	var req services.WorkflowPayload
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	version, err := h.workflows.Create(c.Context(), organizationID, actor, req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(version)
}

func (h *APIHandlers) UpdateWorkflowVersion(c fiber.Ctx) error {
	organizationID, actor, err := identity(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	var req services.WorkflowPayload
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	version, err := h.workflows.Update(c.Context(), organizationID, actor, c.Params("id"), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(version)
}

func (h *APIHandlers) PublishWorkflowVersion(c fiber.Ctx) error {
	organizationID, actor, err := identity(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	version, err := h.workflows.Publish(c.Context(), organizationID, actor, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(version)
}

func (h *APIHandlers) CreateWorkflowVersion(c fiber.Ctx) error {
	organizationID, actor, err := identity(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	version, err := h.workflows.CreateVersion(c.Context(), organizationID, actor, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(version)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	organizationID, actor, err := identity(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	err = h.workflows.Delete(c.Context(), organizationID, actor, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}
