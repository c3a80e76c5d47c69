// handlers/game.go
package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"matching-game-service/middleware"
	"matching-game-service/models"
	"matching-game-service/services"
)

// GameView is a catalog entry with the caller's progress on it.
type GameView struct {
	models.Game
	IsUnlocked  bool `json:"is_unlocked"`
	IsCompleted bool `json:"is_completed"`
	BestScore   int  `json:"best_score"`
}

func SetupGameRoutes(r fiber.Router, catalog *services.CatalogService, progression *services.ProgressionService) {
	r.Get("/games", func(c *fiber.Ctx) error {
		level := 0
		if raw := c.Query("level"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "invalid level",
					"cause": "level must be a positive integer",
				})
			}
			level = n
		}

		games, err := catalog.Search(c.UserContext(), level, c.Query("q"))
		if err != nil {
			return respondError(c, "failed to list games", err)
		}
		rows, err := progression.Progress(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return respondError(c, "failed to load progress", err)
		}
		byGame := make(map[string]models.PlayerGameProgress, len(rows))
		for _, r := range rows {
			byGame[r.GameID] = r
		}

		out := make([]GameView, 0, len(games))
		for _, g := range games {
			p := byGame[g.ID]
			out = append(out, GameView{Game: g, IsUnlocked: p.IsUnlocked, IsCompleted: p.IsCompleted, BestScore: p.BestScore})
		}
		return c.JSON(out)
	})

	r.Get("/games/:id", func(c *fiber.Ctx) error {
		g, err := catalog.Game(c.UserContext(), c.Params("id"))
		if err != nil {
			return respondError(c, "failed to get game", err)
		}
		return c.JSON(g)
	})

	r.Get("/levels", func(c *fiber.Ctx) error {
		levels, err := catalog.Levels(c.UserContext())
		if err != nil {
			return respondError(c, "failed to list levels", err)
		}
		return c.JSON(levels)
	})
}
