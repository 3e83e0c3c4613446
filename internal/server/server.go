// Package server builds the HTTP and websocket surface.
package server

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/tubepost/api/internal/command"
	"github.com/tubepost/api/internal/config"
	"github.com/tubepost/api/internal/handler"
	"github.com/tubepost/api/internal/middleware"
	"github.com/tubepost/api/internal/notify"
	"github.com/tubepost/api/internal/store"
	ws "github.com/tubepost/api/internal/websocket"
	"github.com/tubepost/api/pkg/response"
)

// Deps are the collaborators the routes need
type Deps struct {
	Config        *config.Config
	Store         store.Store
	Sender        command.Sender
	Badges        notify.BadgeFeed
	Notifications notify.NotificationFeed
	Hub           *ws.Hub
	// nil on the memory backend
	Redis    *redis.Client
	Validate *validator.Validate
	Log      *logrus.Logger
}

// New creates the fiber app with every route mounted
func New(d Deps) *fiber.App {
	cfg := d.Config
	validate := d.Validate
	if validate == nil {
		validate = validator.New()
	}

	generationHandler := handler.NewGenerationHandler(d.Store, d.Sender, d.Badges, d.Notifications, validate, d.Log)

	authMiddleware := middleware.NewAuthMiddleware(cfg.Auth.JWTSecret, cfg.Auth.Enabled)
	rateLimiter := middleware.NewRateLimiter(d.Redis, cfg.Redis.KeyPrefix, d.Log)

	app := fiber.New(fiber.Config{
		ErrorHandler:          customErrorHandler,
		DisableStartupMessage: true,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
		Output: d.Log.WriterLevel(logrus.DebugLevel),
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		services := fiber.Map{"redis": "disabled", "generation": "unconfigured"}
		status := "ok"
		if d.Redis != nil {
			services["redis"] = "ok"
			if err := d.Redis.Ping(c.UserContext()).Err(); err != nil {
				services["redis"] = "down"
				status = "degraded"
			}
		}
		if cfg.Generation.Endpoint != "" {
			services["generation"] = "configured"
		}
		return c.JSON(fiber.Map{"status": status, "services": services})
	})

	// API routes
	api := app.Group("/api", authMiddleware.Authenticate())

	generation := api.Group("/generation")
	generation.Get("/state", generationHandler.State)
	generation.Get("/badge", generationHandler.Badge)
	generation.Get("/notifications", generationHandler.Notifications)
	generation.Post("/start", rateLimiter.StartLimit(cfg.RateLimit.StartPerHour), generationHandler.Start)
	generation.Post("/reset", generationHandler.Reset)

	// WebSocket routes
	app.Use("/ws", authMiddleware.Authenticate(), func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/generation", websocket.New(func(c *websocket.Conn) {
		d.Hub.HandleConnection(c, c.Query("page"))
	}))

	return app
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	return response.Error(c, code, response.CodeServiceError, message, nil)
}
