// Package main запускает HTTP-сервер сервиса доставки пиццы.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/baganov/pizzanat-system/internal/auth"
	"github.com/baganov/pizzanat-system/internal/config"
	"github.com/baganov/pizzanat-system/internal/delivery"
	"github.com/baganov/pizzanat-system/internal/gateway"
	"github.com/baganov/pizzanat-system/internal/handler"
	"github.com/baganov/pizzanat-system/internal/middleware"
	"github.com/baganov/pizzanat-system/internal/notify"
	"github.com/baganov/pizzanat-system/internal/order"
	"github.com/baganov/pizzanat-system/internal/payment"
	"github.com/baganov/pizzanat-system/internal/repository"
	"github.com/baganov/pizzanat-system/internal/telegram"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	gatewayClient := gateway.NewClient(cfg.GatewayAPIURL, cfg.GatewayShopID, cfg.GatewaySecretKey)
	sender := telegram.NewSender(cfg.TelegramAPIURL, cfg.TelegramBotToken)

	var limiter notify.AlertLimiter
	if cfg.RedisAddr != "" {
		limiter = notify.NewRedisLimiter(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}), cfg.AlertCooldown)
		sugar.Infow("alert cooldown backed by redis", "addr", cfg.RedisAddr)
	} else {
		limiter = notify.NewMemoryLimiter(cfg.AlertCooldown)
	}

	dispatcher := notify.NewDispatcher(sender, cfg.TelegramAdminChatID, limiter, cfg.HighAmountThreshold, logger)
	scheduler := notify.NewScheduler(repo, sender, cfg.NotificationDrainInterval, cfg.ReferralDelay, logger)

	deliverySvc := delivery.NewService(repo, delivery.FallbackZone{
		Enabled:       cfg.DefaultZoneEnabled,
		BaseCost:      cfg.DefaultZoneCost,
		FreeThreshold: cfg.DefaultZoneFreeThreshold,
	}, logger)

	authSvc := auth.NewService(repo)
	orderSvc := order.NewService(repo, deliverySvc, dispatcher, scheduler, logger)
	paymentSvc := payment.NewService(repo, gatewayClient, orderSvc, dispatcher, cfg.AppURL, logger)
	reconciler := payment.NewReconciler(paymentSvc, cfg.PaymentPollInterval, cfg.PaymentPollWindow, cfg.PaymentPollWorkers, logger)

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret, cfg.AdminAPIKey)
	h := handler.NewHandler(authSvc, orderSvc, deliverySvc, paymentSvc, logger, authMiddleware)

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: h.SetupRouter(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Фоновая сверка незавершённых платежей со шлюзом
	g.Go(func() error {
		if err := reconciler.Run(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("reconciler error: %w", err)
		}
		return nil
	})

	// Отправка отложенных уведомлений
	g.Go(func() error {
		if err := scheduler.Run(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("notification scheduler error: %w", err)
		}
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting pizzanat server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
