// handlers/progression_routes.go
package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"matching-game-service/middleware"
	"matching-game-service/services"
)

func SetupProgressionRoutes(r fiber.Router, progression *services.ProgressionService, broker *services.Broker) {
	r.Get("/user/progress", func(c *fiber.Ctx) error {
		rows, err := progression.Progress(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return respondError(c, "failed to load progress", err)
		}
		return c.JSON(rows)
	})

	// Change hints only; clients refetch /user/progress on each event.
	r.Get("/user/progress/stream", broker.StreamProgressSSE)
}

type activationRequest struct {
	IsActive *bool `json:"is_active" validate:"required"`
}

type resetRequest struct {
	PlayerID string `json:"player_id" validate:"required"`
}

func SetupAdminRoutes(r fiber.Router, d Deps) {
	r.Post("/games/:id/activation", func(c *fiber.Ctx) error {
		var req activationRequest
		if err := parseBody(c, &req); err != nil {
			return badRequest(c, err)
		}
		id := c.Params("id")
		if err := d.Catalog.SetActive(c.UserContext(), id, *req.IsActive); err != nil {
			return respondError(c, "failed to set activation", err)
		}
		log.Info().Str("game_id", id).Bool("is_active", *req.IsActive).Str("admin_id", middleware.UserID(c)).Msg("[ADMIN] game activation changed")
		return c.JSON(fiber.Map{"game_id": id, "is_active": *req.IsActive})
	})

	r.Post("/progress/reset", func(c *fiber.Ctx) error {
		var req resetRequest
		if err := parseBody(c, &req); err != nil {
			return badRequest(c, err)
		}
		n, err := d.Progression.Reset(c.UserContext(), req.PlayerID)
		if err != nil {
			return respondError(c, "failed to reset progress", err)
		}
		return c.JSON(fiber.Map{"player_id": req.PlayerID, "rows_deleted": n})
	})

	r.Post("/catalog/sync", func(c *fiber.Ctx) error {
		if d.Syncer == nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "catalog sync is not configured",
				"cause": "CATALOG_SOURCE is none",
			})
		}
		report, err := d.Syncer.SyncOnce(c.UserContext())
		if err != nil {
			return respondError(c, "catalog sync failed", err)
		}
		return c.JSON(report)
	})
}
