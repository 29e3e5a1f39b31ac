// Package main запускает сервис магазина накрутки.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/smmshop-system/internal/bot"
	"github.com/mmeshcher/smmshop-system/internal/config"
	"github.com/mmeshcher/smmshop-system/internal/handler"
	"github.com/mmeshcher/smmshop-system/internal/provider"
	"github.com/mmeshcher/smmshop-system/internal/repository"
	"github.com/mmeshcher/smmshop-system/internal/service"
	"github.com/mmeshcher/smmshop-system/internal/session"
	"github.com/mmeshcher/smmshop-system/internal/telegram"
)

// chatNotifier адаптирует клиент чат-платформы под контракт уведомлений сервиса.
type chatNotifier struct {
	client *telegram.Client
}

func (n *chatNotifier) Notify(ctx context.Context, chatID int64, text string) error {
	return n.client.SendMessage(ctx, chatID, text, nil)
}

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

	providerClient := provider.NewClient(cfg.ProviderAPIURL, cfg.ProviderAPIKey)
	chatClient := telegram.NewClient(cfg.TelegramToken)

	svc := service.NewService(repo, providerClient, &chatNotifier{client: chatClient}, logger, service.Options{
		ReconcileInterval: cfg.ReconcileInterval,
		ReconcileBatch:    cfg.ReconcileBatch,
	})
	defer svc.Close()

	sessions := session.NewStore()
	shopBot := bot.New(svc, chatClient, sessions, logger, cfg.AdminIDs, cfg.MinDepositCents)

	h := handler.NewHandler(shopBot, svc, logger, cfg.WebhookSecret)
	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск фоновой сверки статусов заказов
	g.Go(func() error {
		svc.StartReconciliation(ctx)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting smmshop server", "addr", cfg.RunAddress)
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
