package server

import (
	"errors"
	"log/slog"

	"fetch/internal/models"
	"fetch/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// param returns a copy of the route parameter key. c.Params aliases the
// request buffer, which fasthttp reuses once the handler returns, and ids end
// up in events that outlive the request.
func param(c *fiber.Ctx, key string) string {
	return utils.CopyString(c.Params(key))
}

// parseLimit reads the limit query parameter, clamped to (0, maxListLimit].
func parseLimit(c *fiber.Ctx, defaultLimit int) int {
	limit := c.QueryInt("limit", defaultLimit)
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit
}

// respondError maps a service error onto its HTTP status. Errors outside the
// taxonomy are logged and reported as internal errors.
func respondError(c *fiber.Ctx, err error) error {
	var appErr *models.AppError
	if !errors.As(err, &appErr) {
		observability.Logger.ErrorContext(c.UserContext(), "request failed",
			slog.String("path", c.Path()),
			slog.String("error", err.Error()),
		)
		err = models.NewInternalError(err)
	}
	return models.RespondWithError(c, models.StatusFor(err), err)
}

// parseBody decodes the JSON body into out, writing a 400 on failure.
// Callers should return nil when ok is false.
func parseBody(c *fiber.Ctx, out interface{}) bool {
	if err := c.BodyParser(out); err != nil {
		_ = models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
		return false
	}
	return true
}
