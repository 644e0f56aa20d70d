package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/chatrag/backend/internal/api/handlers"
	"github.com/chatrag/backend/internal/metrics"
	"github.com/chatrag/backend/internal/middleware/ratelimit"
	"github.com/chatrag/backend/internal/middleware/security"
	"github.com/chatrag/backend/internal/middleware/validation"
	"github.com/chatrag/backend/pkg/config"
)

type Services struct {
	Ingester handlers.Ingester
	Querier  handlers.Querier
	Runs     handlers.RunLister
}

// NewServer builds the HTTP surface. The returned func stops background work
// owned by the middleware and should be called after Shutdown.
func NewServer(conf *config.Config, svc Services) (*fiber.App, func()) {
	cfg := conf.Server
	app := fiber.New(fiber.Config{
		AppName:      "chatrag",
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
		BodyLimit:    cfg.BodyLimit,
	})

	limiter := ratelimit.New(ratelimit.Config{MaxRequestsPerMinute: cfg.RatePerMinute})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, " + ratelimit.UserHeader,
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{IsDevelopment: cfg.Development}))

	app.Get("/metrics", metrics.MetricsHandler())

	ingestHandler := handlers.NewIngestHandler(svc.Ingester, svc.Runs)
	queryHandler := handlers.NewQueryHandler(svc.Querier)

	api := app.Group("/api/v1")

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	guarded := api.Group("", limiter.Middleware(), validation.Middleware(validation.Config{
		AllowLocalSources: conf.Source.LocalRoot != "",
	}))
	guarded.Post("/ingest", ingestHandler.HandleIngest)
	guarded.Get("/ingestions", ingestHandler.ListRuns)
	guarded.Post("/query", queryHandler.HandleQuery)
	guarded.Get("/history", queryHandler.GetQueryHistory)

	return app, limiter.Stop
}
