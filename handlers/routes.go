// handlers/routes.go
package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"matching-game-service/middleware"
	"matching-game-service/services"
	"matching-game-service/workers"
)

// CatalogSyncer runs one catalog import on demand.
type CatalogSyncer interface {
	SyncOnce(ctx context.Context) (*workers.SyncReport, error)
}

type Deps struct {
	Catalog     *services.CatalogService
	Progression *services.ProgressionService
	Sessions    *services.SessionService
	Broker      *services.Broker
	Syncer      CatalogSyncer // nil when no catalog source is configured
}

// NewApp builds the fiber app. Immutable is required: sessions and progress
// rows keep player and game ids taken from the request.
func NewApp() *fiber.App {
	return fiber.New(fiber.Config{
		Immutable: true,
		BodyLimit: 1 * 1024 * 1024,
	})
}

// Register mounts every route. All of them need the gateway's user context;
// /s/admin additionally needs the admin role.
func Register(app *fiber.App, d Deps) {
	secured := app.Group("/", middleware.UserContextMiddleware())

	SetupGameRoutes(secured, d.Catalog, d.Progression)
	SetupSessionRoutes(secured, d.Sessions)
	SetupProgressionRoutes(secured, d.Progression, d.Broker)

	admin := app.Group("/s/admin", middleware.RequireRole("admin"))
	SetupAdminRoutes(admin, d)
}
