package web

import (
	"errors"

	"github.com/dukex/nodebase/pkg/models"
	"github.com/dukex/nodebase/pkg/persistence"
	"github.com/dukex/nodebase/pkg/query"
	"github.com/dukex/nodebase/pkg/services"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

// workflowProblem is a problem document listing the violations of a gated write.
type workflowProblem struct {
	*problems.Problem

	Errors []models.FieldError `json:"errors"`
}

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, problemType, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType(problemType).
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleServiceError provides typed error handling for service layer errors.
func handleServiceError(c fiber.Ctx, err error) error {
	if validation, ok := services.IsWorkflowValidationError(err); ok {
		problem := workflowProblem{
			Problem: problems.NewStatusProblem(422).
				WithInstance(c.Path()).
				WithType("workflow_validation_error").
				WithDetail(validation.Error()),
			Errors: validation.Errors,
		}

		return c.Status(fiber.StatusUnprocessableEntity).JSON(problem)
	}

	switch {
	case services.IsValidationError(err), isQueryError(err):
		return badRequest(c, err.Error())

	case services.IsConflictError(err):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("conflict").
			WithDetail(err.Error())

		return c.Status(fiber.StatusConflict).JSON(problem)

	case persistence.IsRecordNotFound(err):
		return notFound(c, "record_not_found", "record not found")

	case errors.Is(err, persistence.ErrSchemaVersionNotFound):
		return notFound(c, "schema_version_not_found", "schema version not found")

	case persistence.IsSchemaNotFound(err):
		return notFound(c, "schema_not_found", "schema not found")

	case persistence.IsWorkflowNotFound(err):
		return notFound(c, "workflow_not_found", "workflow not found")

	case services.IsNotFoundError(err):
		return notFound(c, "not_found", err.Error())

	default:
		return internalError(c, err)
	}
}

func isQueryError(err error) bool {
	return errors.Is(err, query.ErrInvalidWhere) ||
		errors.Is(err, query.ErrInvalidOrder) ||
		errors.Is(err, query.ErrInvalidPage) ||
		errors.Is(err, query.ErrUnknownField)
}
