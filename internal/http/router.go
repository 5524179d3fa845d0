package http

import (
	"time"

	"github.com/escrowdesk/backend/internal/config"
	"github.com/escrowdesk/backend/internal/http/handlers"
	"github.com/escrowdesk/backend/internal/middleware"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SetupRouter mounts the API. rdb may be nil, in which case rate limits are
// kept in process.
func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	authHandler *handlers.AuthHandler,
	dealHandler *handlers.DealHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))
	app.Use(middleware.MetricsMiddleware())

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api/v1")
	api.Use(middleware.RateLimitMiddleware(rdb, cfg.RateLimitPerMinute, time.Minute))

	// Auth (public)
	api.Post("/auth/telegram", authHandler.TelegramAuth)

	// Protected endpoints
	protected := api.Group("", middleware.AuthMiddleware(cfg, log))

	protected.Get("/me", authHandler.GetMe)

	// Deals. Static segments go before /deals/:id.
	protected.Post("/deals", dealHandler.CreateDeal)
	protected.Get("/deals", dealHandler.ListDeals)
	protected.Get("/deals/all", dealHandler.ListAllDeals)
	protected.Get("/deals/find/:handle", dealHandler.FindByHandle)
	protected.Get("/deals/:id", dealHandler.GetDeal)
	protected.Post("/deals/:id/deposit", dealHandler.InitiateDeposit)
	protected.Post("/deals/:id/deposit/retry", dealHandler.RetryDeposit)
	protected.Get("/deals/:id/payment", dealHandler.GetPaymentInfo)
	protected.Post("/deals/:id/deliver", dealHandler.MarkDelivered)
	protected.Post("/deals/:id/release", dealHandler.Release)
	protected.Post("/deals/:id/dispute", dealHandler.OpenDispute)
	protected.Post("/deals/:id/resolve", dealHandler.ResolveDeal)
	protected.Post("/deals/:id/cancel", dealHandler.CancelDeal)
	protected.Get("/deals/:id/secret", dealHandler.GetSecretHalf)
	protected.Get("/deals/:id/events", dealHandler.GetDealEvents)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}
