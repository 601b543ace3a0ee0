// Package main запускает HTTP-сервер трекера целей.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/goaltracker/internal/coach"
	"github.com/mmeshcher/goaltracker/internal/config"
	"github.com/mmeshcher/goaltracker/internal/handler"
	"github.com/mmeshcher/goaltracker/internal/lifecycle"
	"github.com/mmeshcher/goaltracker/internal/middleware"
	"github.com/mmeshcher/goaltracker/internal/payment"
	"github.com/mmeshcher/goaltracker/internal/repository"
	"github.com/mmeshcher/goaltracker/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := openRepository(cfg)
	if err != nil {
		sugar.Fatalw("storage initialization error", "error", err.Error())
	}

	var suggester service.Coach
	if cfg.Coach.APIKey != "" {
		suggester = coach.NewClient(cfg.Coach.BaseURL, cfg.Coach.APIKey, cfg.Coach.Model, cfg.Coach.Timeout)
	} else {
		sugar.Warn("coach API key is not set, /api/generate is disabled")
	}

	if cfg.AuthSecret == "" {
		sugar.Warn("AUTH_SECRET is not set, sessions will not survive a restart")
	}

	svc := service.NewService(repo, payment.NewSimulator(cfg.PaymentSuccessRate, nil), suggester, logger, service.Options{
		StartingBalance: cfg.StartingBalance,
		Location:        cfg.Location,
		Policy:          lifecycle.Policy{MediumCancelRefundPercent: cfg.MediumCancelRefundPercent},
	})
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, logger, authMiddleware, cfg.CORSOrigin)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Фоновая отмена просроченных задач
	g.Go(func() error {
		svc.StartDeadlineSweeps(ctx, cfg.DeadlineSweepInterval)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting goaltracker server", "addr", cfg.RunAddress)
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

// openRepository выбирает PostgreSQL, если задан DATABASE_URI, иначе файловое хранилище.
func openRepository(cfg *config.Config) (service.Repository, error) {
	if cfg.DatabaseURI != "" {
		return repository.NewPostgresRepository(cfg.DatabaseURI)
	}
	return repository.NewFileRepository(cfg.StorageDir)
}
