// handlers/errors.go
package handlers

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"matching-game-service/game"
	"matching-game-service/services"
	"matching-game-service/workers"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	var persistErr *services.AttemptPersistenceError
	switch {
	case errors.Is(err, game.ErrNoContent), errors.Is(err, workers.ErrInvalidCatalog):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, services.ErrGameLocked), errors.Is(err, services.ErrNotSessionOwner):
		return fiber.StatusForbidden
	case errors.Is(err, services.ErrGameNotFound), errors.Is(err, services.ErrSessionNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, game.ErrSessionNotActive),
		errors.Is(err, game.ErrAlreadyMatched),
		errors.Is(err, services.ErrGameInactive),
		errors.Is(err, services.ErrSessionIncomplete),
		errors.Is(err, services.ErrSessionConflict):
		return fiber.StatusConflict
	case errors.Is(err, game.ErrUnknownItem):
		return fiber.StatusBadRequest
	case errors.As(err, &persistErr):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func respondError(c *fiber.Ctx, msg string, err error) error {
	status := statusFor(err)
	if status >= fiber.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Path()).Msg(msg)
	}
	body := fiber.Map{"error": msg, "cause": err.Error()}
	if status == fiber.StatusServiceUnavailable {
		body["retryable"] = true
	}
	return c.Status(status).JSON(body)
}

// parseBody decodes and validates a JSON request body into out.
func parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

func badRequest(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": "bad request",
		"cause": err.Error(),
	})
}
