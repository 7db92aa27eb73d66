// Package main запускает HTTP-сервер сервиса бронирования столовой.
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

	"github.com/mmeshcher/canteen-system/internal/auth"
	"github.com/mmeshcher/canteen-system/internal/config"
	"github.com/mmeshcher/canteen-system/internal/directory"
	"github.com/mmeshcher/canteen-system/internal/handler"
	"github.com/mmeshcher/canteen-system/internal/middleware"
	"github.com/mmeshcher/canteen-system/internal/notifier"
	"github.com/mmeshcher/canteen-system/internal/repository"
	"github.com/mmeshcher/canteen-system/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	var repo service.Repository
	if cfg.DatabaseURI != "" {
		pgRepo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
		if err != nil {
			sugar.Fatalw("database initialization error", "error", err.Error())
		}
		repo = pgRepo
	} else {
		sugar.Info("no database URI provided, using in-memory storage")
		repo = repository.NewMemoryRepository()
	}
	defer repo.Close()

	var directoryClient *directory.Client
	if cfg.DirectoryAddress != "" {
		directoryClient = directory.NewClient(cfg.DirectoryAddress)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var events *notifier.Notifier
	if cfg.AMQPURL != "" {
		events, err = notifier.New(ctx, cfg.AMQPURL)
		if err != nil {
			sugar.Fatalw("notifier initialization error", "error", err.Error())
		}
	}

	svc := service.NewService(repo, directoryClient, events)
	defer svc.Close()

	if cfg.SeedMenu {
		if err := svc.SeedTodayMenu(ctx); err != nil {
			sugar.Fatalw("menu seeding error", "error", err.Error())
		}
	}

	resolver := auth.NewResolver(cfg.EmailDomain, cfg.AdminEmailList())
	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret, resolver)
	h := handler.NewHandler(svc, resolver, logger, authMiddleware)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	g, ctx := errgroup.WithContext(ctx)

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting canteen server", "addr", cfg.RunAddress)
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
