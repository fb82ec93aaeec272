package web

import (
	"strings"

	"github.com/dukex/nodebase/pkg/models"
	"github.com/dukex/nodebase/pkg/query"
	"github.com/dukex/nodebase/pkg/services"
	"github.com/gofiber/fiber/v3"
)

func (h *APIHandlers) FindRecords(c fiber.Ctx) error {
	organizationID, _, err := identity(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	req, err := parseFindRecordsQuery(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	opts, err := req.Options()
	if err != nil {
		return badRequest(c, err.Error())
	}

	data, total, err := h.records.Find(c.Context(), organizationID, c.Params("id"), opts)
	if err != nil {
		return handleServiceError(c, err)
	}

	if data == nil {
		data = []models.RecordData{}
	}

	return c.JSON(ListRecordsResponse{
		Records: data,
		Total:   total,
		Page:    req.Page,
		Limit:   req.Limit,
	})
}

func parseFindRecordsQuery(c fiber.Ctx) (FindRecordsQuery, error) {
	req := FindRecordsQuery{
		Where:     c.Query("where"),
		Search:    c.Query("search"),
		Order:     c.Query("order"),
		Relations: splitList(c.Query("relations")),
	}

	var err error

	req.Page, err = queryInt(c, "page")
	if err != nil {
		return req, err
	}

	req.Limit, err = queryInt(c, "limit")
	if err != nil {
		return req, err
	}

	req.IncludeReferences, req.IncludeBackReferences, err = includeFlags(c)

	return req, err
}

func includeFlags(c fiber.Ctx) (references, backReferences bool, err error) {
	references, err = queryBool(c, "include_references")
	if err != nil {
		return false, false, err
	}

	backReferences, err = queryBool(c, "include_back_references")

	return references, backReferences, err
}

func splitList(raw string) []string {
	var items []string

	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}

	return items
}

func (h *APIHandlers) FindRecord(c fiber.Ctx) error {
	organizationID, _, err := identity(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	references, backReferences, err := includeFlags(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	data, err := h.records.FindByID(c.Context(), organizationID, c.Params("id"), services.Include{
		References:     references,
		BackReferences: backReferences,
		Relations:      query.ParseRelations(splitList(c.Query("relations"))),
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(data)
}

func (h *APIHandlers) RecordHistory(c fiber.Ctx) error {
	organizationID, _, err := identity(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	logs, err := h.records.History(c.Context(), organizationID, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	if logs == nil {
		logs = []*models.AttributeValueLog{}
	}

	return c.JSON(logs)
}

func (h *APIHandlers) CreateRecord(c fiber.Ctx) error {
	organizationID, actor, err := identity(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	var payload models.RecordData
	if err := c.Bind().JSON(&payload); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	data, err := h.writer.Create(c.Context(), organizationID, actor, payload)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(data)
}

// CreateVersionRecord creates a record of the schema version named in the path.
func (h *APIHandlers) CreateVersionRecord(c fiber.Ctx) error {
	organizationID, actor, err := identity(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	var payload models.RecordData
	if err := c.Bind().JSON(&payload); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if payload == nil {
		payload = models.RecordData{}
	}

	payload[models.FieldSchemaVersionID] = c.Params("id")

	data, err := h.writer.Create(c.Context(), organizationID, actor, payload)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(data)
}

func (h *APIHandlers) UpdateRecord(c fiber.Ctx) error {
	organizationID, actor, err := identity(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	var payload models.RecordData
	if err := c.Bind().JSON(&payload); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	data, err := h.writer.Update(c.Context(), organizationID, actor, c.Params("id"), payload)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(data)
}

func (h *APIHandlers) UpsertRecords(c fiber.Ctx) error {
	organizationID, actor, err := identity(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	var req UpsertMultipleRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	data, err := h.writer.UpsertMultiple(c.Context(), organizationID, actor, req.Records)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"records": data})
}

func (h *APIHandlers) DeleteRecord(c fiber.Ctx) error {
	organizationID, actor, err := identity(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	err = h.writer.Delete(c.Context(), organizationID, actor, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) CreateReferenceNode(c fiber.Ctx) error {
	organizationID, actor, err := identity(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	var payload models.RecordData
	if err := c.Bind().JSON(&payload); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	data, err := h.writer.CreateReferenceNode(c.Context(), organizationID, actor, c.Params("id"), c.Params("attribute"), payload)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(data)
}
