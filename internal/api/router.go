package api

import (
	"ledgermatch/internal/api/handlers"
	"ledgermatch/pkg/auth"
	"ledgermatch/pkg/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/swagger"
	"go.uber.org/zap"
)

func SetupRouter(
	authHandler *handlers.AuthHandler,
	matchHandler *handlers.MatchHandler,
	calibrationHandler *handlers.CalibrationHandler,
	suggestionHandler *handlers.SuggestionHandler,
	jwtManager *auth.JWTManager,
	appLogger *zap.Logger,
) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	// Middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))
	app.Use(logger.New())

	app.Get("/swagger/*", swagger.HandlerDefault)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Auth routes (public)
	user := app.Group("/user")
	authGroup := user.Group("/auth")
	authGroup.Post("/register", authHandler.Register)
	authGroup.Post("/login", authHandler.Login)
	authGroup.Post("/refresh", authHandler.RefreshToken)

	// Protected routes
	protected := app.Group("/api/v1", middleware.AuthMiddleware(jwtManager, appLogger))

	matching := protected.Group("/matching")
	matching.Post("/inbox/:id", matchHandler.MatchInboxItem)
	matching.Post("/transaction/:id", matchHandler.MatchTransaction)
	matching.Post("/batch", matchHandler.BatchMatch)
	matching.Post("/smart", matchHandler.SmartMatch)

	calibration := protected.Group("/calibration")
	calibration.Get("", calibrationHandler.GetCalibration)
	calibration.Post("/refresh", calibrationHandler.RefreshCalibration)
	calibration.Delete("", calibrationHandler.ResetCalibration)

	suggestions := protected.Group("/suggestions")
	suggestions.Post("/:inboxId/:transactionId/feedback", suggestionHandler.RecordFeedback)

	return app
}
