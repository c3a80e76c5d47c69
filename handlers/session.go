// handlers/session.go
package handlers

import (
	"github.com/gofiber/fiber/v2"

	"matching-game-service/middleware"
	"matching-game-service/services"
)

type attemptRequest struct {
	LeftItemID  string `json:"left_item_id" validate:"required"`
	RightItemID string `json:"right_item_id" validate:"required"`
}

func SetupSessionRoutes(r fiber.Router, sessions *services.SessionService) {
	r.Post("/games/:id/sessions", func(c *fiber.Ctx) error {
		v, err := sessions.Start(c.UserContext(), middleware.UserID(c), c.Params("id"))
		if err != nil {
			return respondError(c, "failed to start session", err)
		}
		return c.Status(fiber.StatusCreated).JSON(v)
	})

	r.Get("/sessions/:id", func(c *fiber.Ctx) error {
		v, err := sessions.Get(c.UserContext(), middleware.UserID(c), c.Params("id"))
		if err != nil {
			return respondError(c, "failed to get session", err)
		}
		return c.JSON(v)
	})

	r.Post("/sessions/:id/attempts", func(c *fiber.Ctx) error {
		var req attemptRequest
		if err := parseBody(c, &req); err != nil {
			return badRequest(c, err)
		}
		res, err := sessions.Attempt(c.UserContext(), middleware.UserID(c), c.Params("id"), req.LeftItemID, req.RightItemID)
		if err != nil {
			return respondError(c, "attempt rejected", err)
		}
		return c.JSON(res)
	})

	r.Get("/sessions/:id/attempts", func(c *fiber.Ctx) error {
		attempts, err := sessions.Attempts(c.UserContext(), middleware.UserID(c), c.Params("id"))
		if err != nil {
			return respondError(c, "failed to list attempts", err)
		}
		return c.JSON(attempts)
	})

	r.Post("/sessions/:id/complete", func(c *fiber.Ctx) error {
		v, err := sessions.Complete(c.UserContext(), middleware.UserID(c), c.Params("id"))
		if err != nil {
			return respondError(c, "failed to complete session", err)
		}
		return c.JSON(v)
	})

	r.Post("/sessions/:id/abandon", func(c *fiber.Ctx) error {
		v, err := sessions.Abandon(c.UserContext(), middleware.UserID(c), c.Params("id"))
		if err != nil {
			return respondError(c, "failed to abandon session", err)
		}
		return c.JSON(v)
	})
}
