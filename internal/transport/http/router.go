package http

import (
	"errors"
	"strings"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/processlens/backend/internal/config"
	"github.com/processlens/backend/internal/core/ports"
	"github.com/processlens/backend/internal/infrastructure/logger"
	"github.com/processlens/backend/internal/transport/http/handlers"
	httpmw "github.com/processlens/backend/internal/transport/http/middleware"
	"github.com/processlens/backend/pkg/api"
)

const Version = "1.0.0"

type RouterConfig struct {
	Config   *config.Config
	Logger   *logger.Logger
	Analysis ports.AnalysisService
	Health   ports.HealthService
	Hub      handlers.Subscriber
}

// NewApp builds the fiber app with middleware and every route registered.
func NewApp(cfg RouterConfig) *fiber.App {
	// leave headroom for the multipart envelope around the file itself
	bodyLimit := int(cfg.Config.Analysis.MaxUploadBytes) + 1<<20

	app := fiber.New(fiber.Config{
		ReadTimeout:           cfg.Config.Server.ReadTimeout,
		WriteTimeout:          cfg.Config.Server.WriteTimeout,
		IdleTimeout:           cfg.Config.Server.IdleTimeout,
		BodyLimit:             bodyLimit,
		ErrorHandler:          globalErrorHandler(cfg.Logger),
		DisableStartupMessage: true,
	})

	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	allowedOrigins := "http://localhost:3000"
	if len(cfg.Config.Auth.AllowedOrigins) > 0 {
		allowedOrigins = strings.Join(cfg.Config.Auth.AllowedOrigins, ",")
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: allowedOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Admin-Token, X-Request-ID",
		AllowMethods: "GET, POST, HEAD, OPTIONS",
	}))

	app.Use(httpmw.SecurityHeaders())
	app.Use(httpmw.RequestID(cfg.Config.Features.RequestIDHeader))
	if cfg.Config.Features.EnableRequestLogging {
		app.Use(httpmw.AccessLog(cfg.Logger))
	}

	SetupRoutes(app, cfg)
	return app
}

func SetupRoutes(app *fiber.App, cfg RouterConfig) {
	analysisHandler := handlers.NewAnalysisHandler(cfg.Analysis, cfg.Logger, cfg.Config.Analysis.MaxUploadBytes)
	projectHandler := handlers.NewProjectHandler(cfg.Analysis)
	healthHandler := handlers.NewHealthHandler(cfg.Health, Version, streamSettings(cfg.Config.Stream))
	cleanupHandler := handlers.NewCleanupHandler(cfg.Analysis, cfg.Logger)
	// clients ping every interval; three silent intervals mean the peer is gone
	streamHandler := handlers.NewStreamHandler(cfg.Analysis, cfg.Hub, cfg.Logger, 3*cfg.Config.Stream.PingInterval)

	app.Get("/", healthHandler.Info)
	app.Get("/health", healthHandler.Health)

	app.Post("/analyze", analysisHandler.Analyze)
	app.Get("/analyze/:id", analysisHandler.GetStatus)
	app.Get("/status/:id", analysisHandler.GetStatus)
	app.Get("/projects", projectHandler.List)

	admin := app.Group("/admin", httpmw.AdminAuth(cfg.Config))
	admin.Post("/cleanup", cleanupHandler.Cleanup)

	// Analysis progress stream
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/:id", websocket.New(streamHandler.Handle))
}

func streamSettings(sc config.StreamConfig) api.StreamSettings {
	retries := make([]int64, 0, len(sc.RetryInterval))
	for _, d := range sc.RetryInterval {
		retries = append(retries, d.Milliseconds())
	}
	return api.StreamSettings{
		Path:             "/ws/{task_id}",
		PingIntervalMS:   sc.PingInterval.Milliseconds(),
		RetryIntervalsMS: retries,
		MaxRetries:       sc.MaxRetries,
	}
}

func globalErrorHandler(log *logger.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		msg := "Internal server error"

		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
			msg = fe.Message
		}

		if code < fiber.StatusInternalServerError {
			log.Warnw("request failed",
				"method", c.Method(),
				"path", c.Path(),
				"status", code,
				"error", err.Error(),
				"request_id", c.Locals("request_id"),
			)
		} else {
			log.Errorw("request error",
				"method", c.Method(),
				"path", c.Path(),
				"status", code,
				"error", err.Error(),
				"request_id", c.Locals("request_id"),
			)
		}

		return c.Status(code).JSON(api.ErrorBody{
			Error:      msg,
			StatusCode: code,
		})
	}
}
