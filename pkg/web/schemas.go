package web

import (
	"github.com/dukex/nodebase/pkg/services"
	"github.com/gofiber/fiber/v3"
)

func (h *APIHandlers) FindSchemas(c fiber.Ctx) error {
	organizationID, _, err := identity(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	req, err := parseFindSchemasRequest(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	summaries, total, err := h.schemas.Find(c.Context(), organizationID, req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(ListSchemasResponse{
		Schemas: summaries,
		Total:   total,
		Limit:   req.Limit,
		Offset:  req.Offset,
	})
}

func parseFindSchemasRequest(c fiber.Ctx) (services.FindSchemasRequest, error) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		return services.FindSchemasRequest{}, err
	}

	offset, err := queryInt(c, "offset")
	if err != nil {
		return services.FindSchemasRequest{}, err
	}

	return services.FindSchemasRequest{
		Search:    c.Query("search"),
		Limit:     limit,
		Offset:    offset,
		SortBy:    c.Query("sort_by"),
		SortOrder: c.Query("sort_order"),
	}, nil
}

func (h *APIHandlers) FindSchema(c fiber.Ctx) error {
	organizationID, _, err := identity(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	version, err := h.schemas.FindByID(c.Context(), organizationID, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(version)
}

func (h *APIHandlers) FindSchemaByName(c fiber.Ctx) error {
	organizationID, _, err := identity(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	version, err := h.schemas.FindByName(c.Context(), organizationID, c.Params("name"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(version)
}

func (h *APIHandlers) FindSchemasByType(c fiber.Ctx) error {
	organizationID, _, err := identity(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	versions, err := h.schemas.FindByType(c.Context(), organizationID, c.Params("type"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(versions)
}

func (h *APIHandlers) FindSchemaVersion(c fiber.Ctx) error {
	organizationID, _, err := identity(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	version, err := h.schemas.FindVersionByID(c.Context(), organizationID, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(version)
}

func (h *APIHandlers) CreateSchema(c fiber.Ctx) error {
	organizationID, actor, err := identity(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	var req services.SchemaPayload
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	version, err := h.schemas.Create(c.Context(), organizationID, actor, req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(version)
}

func (h *APIHandlers) UpdateSchemaVersion(c fiber.Ctx) error {
	organizationID, actor, err := identity(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	var req services.SchemaPayload
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	version, err := h.schemas.Update(c.Context(), organizationID, actor, c.Params("id"), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(version)
}

func (h *APIHandlers) PublishSchemaVersion(c fiber.Ctx) error {
	organizationID, actor, err := identity(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	version, err := h.schemas.Publish(c.Context(), organizationID, actor, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(version)
}

func (h *APIHandlers) CreateSchemaVersion(c fiber.Ctx) error {
	organizationID, actor, err := identity(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	version, err := h.schemas.CreateVersion(c.Context(), organizationID, actor, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(version)
}

func (h *APIHandlers) DeleteSchema(c fiber.Ctx) error {
	organizationID, actor, err := identity(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	err = h.schemas.Delete(c.Context(), organizationID, actor, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}
