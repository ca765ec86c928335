package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/inkletter/inkletter/pkg/services"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
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

// handleServiceError maps service layer errors onto RFC 7807 responses.
func handleServiceError(c fiber.Ctx, err error) error {
	if validationErr, ok := services.IsValidationError(err); ok {
		problem := problems.NewStatusProblem(422).
			WithInstance(c.Path()).
			WithType("workflow_invalid").
			WithDetail(validationErr.Error())

		return c.Status(fiber.StatusUnprocessableEntity).JSON(problem)
	}

	switch {
	case errors.Is(err, services.ErrWorkflowNotFound):
		return notFound(c, "workflow not found")

	case errors.Is(err, services.ErrWorkflowDeleted):
		problem := problems.NewStatusProblem(410).
			WithInstance(c.Path()).
			WithType("workflow_deleted").
			WithDetail("workflow has been deleted")

		return c.Status(fiber.StatusGone).JSON(problem)

	case errors.Is(err, services.ErrInvalidStatus):
		return badRequest(c, err.Error())

	default:
		return internalError(c, err)
	}
}
