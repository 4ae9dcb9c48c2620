package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"pos-terminal/config"
	"pos-terminal/internal/client"
	"pos-terminal/internal/logger"
	"pos-terminal/internal/notify"
	"pos-terminal/internal/session"
)

func main() {
	_ = godotenv.Load()
	isDev := os.Getenv("ENV") == "development"
	if err := logger.Init(isDev); err != nil {
		panic(err)
	}
	defer logger.Sync()

	log := logger.L()
	cfg := config.Load(log)

	api := client.New(cfg.APIBaseURL, cfg.APIKey, log)

	notifier, err := notify.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log)
	if err != nil {
		log.Fatal("failed to connect notifier", zap.Error(err))
	}
	defer notifier.Close()

	ctrl := session.New(api, cfg.TableID, log,
		session.WithDebounce(cfg.Debounce),
		session.WithPushErrorHandler(func(err error) {
			log.Warn("order could not be saved, state re-anchored from server", zap.Error(err))
		}),
	)
	defer ctrl.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := ctrl.Start(ctx); err != nil {
		log.Fatal("failed to open order session", zap.Int("table", cfg.TableID), zap.Error(err))
	}
	log.Info("order session started", zap.Int("table", cfg.TableID))

	unsubscribe, err := notifier.Subscribe(ctx, notify.ChannelOrdersUpdated, func() {
		if err := ctrl.Refresh(context.Background()); err != nil {
			log.Warn("refresh on notification failed", zap.Error(err))
		}
	})
	if err != nil {
		log.Fatal("failed to subscribe to order updates", zap.Error(err))
	}
	defer unsubscribe()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down order session...")
}
