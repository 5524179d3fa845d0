package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/escrowdesk/backend/internal/config"
	"github.com/escrowdesk/backend/internal/db"
	"github.com/escrowdesk/backend/internal/events"
	apphttp "github.com/escrowdesk/backend/internal/http"
	"github.com/escrowdesk/backend/internal/http/dto"
	"github.com/escrowdesk/backend/internal/http/handlers"
	"github.com/escrowdesk/backend/internal/secrets"
	"github.com/escrowdesk/backend/internal/services"
	"github.com/escrowdesk/backend/internal/verification"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	if err := cfg.Validate(log); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}
	if cfg.DepositAddress != "" {
		if err := services.ValidateDepositAddress(cfg.DepositAddress); err != nil {
			log.Warn("DEPOSIT_ADDRESS does not look like a TON address", zap.Error(err))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	stores, err := db.OpenStores(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to open stores", zap.Error(err))
	}
	defer stores.Close()

	// Events: Redis when configured, otherwise in process
	var (
		rdb        *redis.Client
		publisher  events.Publisher
		subscriber events.Subscriber
	)
	if cfg.RedisURL != "" {
		rdb, err = db.NewRedisClient(ctx, cfg.RedisURL, log)
		if err != nil {
			log.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer rdb.Close()
		publisher = events.NewRedisPublisher(rdb, log)
		subscriber = events.NewRedisSubscriber(rdb, log)
	} else {
		bus := events.NewMemoryBus()
		publisher, subscriber = bus, bus
	}

	// Verification
	probe := verification.NewSimulatedProbe(cfg.DepositSuccessRate, rand.NewSource(time.Now().UnixNano()))
	scheduler := verification.NewScheduler(probe, log)

	// Services
	admins := services.NewAdminSet(cfg.AdminTelegramIDs...)
	dealService := services.NewDealService(
		stores.Deals,
		stores.Audit,
		secrets.NewIssuer(stores.Deals),
		scheduler,
		publisher,
		admins,
		services.DepositOptions{VerifyDelay: cfg.DepositVerifyDelay, Address: cfg.DepositAddress},
		log,
	)
	scheduler.SetVerifier(dealService)

	if _, err := dealService.RearmPending(ctx); err != nil {
		log.Fatal("failed to re-arm pending deposit checks", zap.Error(err))
	}

	// Handlers
	authHandler := handlers.NewAuthHandler(dealService, cfg, log)
	dealHandler := handlers.NewDealHandler(dealService, log)
	wsHub := handlers.NewWSHub(cfg, subscriber, admins, log)

	if err := wsHub.Start(ctx); err != nil {
		log.Fatal("failed to subscribe ws hub", zap.Error(err))
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(dto.ErrorResponse{Error: err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, authHandler, dealHandler, wsHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		_ = app.ShutdownWithTimeout(10 * time.Second)
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Error("server error", zap.Error(err))
	}

	// Pending checks survive in the store and are re-armed on the next start.
	scheduler.Stop()
	cancel()
}
