package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/escrowdesk/backend/internal/config"
	"github.com/escrowdesk/backend/internal/db"
	"github.com/escrowdesk/backend/internal/events"
	"github.com/escrowdesk/backend/internal/goroutine"
	"github.com/escrowdesk/backend/internal/services"
	"go.uber.org/zap"
)

// Notify Bridge subscribes to deal events in Redis and forwards deposit
// outcomes and status changes to the bot, which messages the participants.

const forwardTimeout = 20 * time.Second

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	if cfg.RedisURL == "" {
		log.Fatal("REDIS_URL is required: the bridge reads events published by the API")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	subscriber := events.NewRedisSubscriber(rdb, log)
	forwarder := services.NewNotifyForwarder(services.NewBotClient(cfg.BotInternalURL, log), log)

	err = subscriber.Subscribe(ctx, events.StreamDeals, func(event events.Event) {
		goroutine.SafeGo(log, "notify-forward", func() {
			fctx, fcancel := context.WithTimeout(ctx, forwardTimeout)
			defer fcancel()
			if n := forwarder.Forward(fctx, event); n > 0 {
				log.Info("forwarded event to bot", zap.String("type", event.Type), zap.Int("recipients", n))
			}
		})
	})
	if err != nil {
		log.Fatal("failed to subscribe to deal events", zap.Error(err))
	}

	log.Info("notify-bridge started", zap.String("bot_url", cfg.BotInternalURL))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down notify-bridge")
	cancel()
}
