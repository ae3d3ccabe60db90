// Package main запускает клиент умной тележки и его киоск-API.
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

	"github.com/mmeshcher/smartcart/internal/assistance"
	"github.com/mmeshcher/smartcart/internal/config"
	"github.com/mmeshcher/smartcart/internal/device"
	"github.com/mmeshcher/smartcart/internal/handler"
	"github.com/mmeshcher/smartcart/internal/middleware"
	"github.com/mmeshcher/smartcart/internal/remote"
	"github.com/mmeshcher/smartcart/internal/repository"
	"github.com/mmeshcher/smartcart/internal/service"
	"github.com/mmeshcher/smartcart/internal/session"
)

type stateStore interface {
	session.Store
	Close() error
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = lvl
	return zcfg.Build()
}

// openStores выбирает хранилище состояния клиента и реестра вызовов помощи.
// При заданном DATABASE_URI вызовы помощи хранятся в PostgreSQL, иначе в памяти процесса.
func openStores(cfg *config.Config) (stateStore, assistance.Repository, func(), error) {
	var pg *repository.PostgresRepository
	if cfg.DatabaseURI != "" {
		repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("database initialization: %w", err)
		}
		pg = repo
	}

	memory := repository.NewMemoryRepository()

	var store stateStore
	switch cfg.StateStore {
	case config.StoreMemory:
		store = memory
	case config.StoreRedis:
		rs, err := repository.NewRedisStore(cfg.RedisAddress, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			if pg != nil {
				pg.Close()
			}
			return nil, nil, nil, fmt.Errorf("redis initialization: %w", err)
		}
		store = rs
	case config.StorePostgres:
		store = pg
	default:
		fs, err := repository.NewFileStore(cfg.StateDir)
		if err != nil {
			if pg != nil {
				pg.Close()
			}
			return nil, nil, nil, fmt.Errorf("state directory: %w", err)
		}
		store = fs
	}

	var requests assistance.Repository = memory
	if pg != nil {
		requests = pg
	}

	closeAll := func() {
		_ = store.Close()
		if pg != nil && store != stateStore(pg) {
			_ = pg.Close()
		}
	}

	return store, requests, closeAll, nil
}

func main() {
	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger error:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	sugar := logger.Sugar()

	store, requests, closeStores, err := openStores(cfg)
	if err != nil {
		sugar.Fatalw("storage initialization error", "error", err.Error())
	}
	defer closeStores()

	client := remote.NewClient(cfg.APIHost, cfg.RequestTimeout)

	sessions := session.NewController(client, store, logger)
	if err := sessions.Hydrate(context.Background()); err != nil {
		sugar.Warnw("restore session failed", "error", err.Error())
	}

	display := device.NewDisplay(client, device.Options{
		RefreshInterval: cfg.PollInterval,
		ConnectInterval: cfg.ConnectPollInterval,
	}, logger)
	tracker := assistance.NewTracker(requests, logger)

	svc := service.NewService(sessions, client, client, display, tracker, logger)
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(svc.Role)
	h := handler.NewHandler(svc, logger, authMiddleware, cfg.Origins())

	r := h.SetupRouter()

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Корзина восстановленной сессии загружается в фоне, чтобы не задерживать старт сервера
	g.Go(func() error {
		if _, err := svc.RefreshCart(ctx); err != nil {
			sugar.Debugw("initial cart refresh skipped", "error", err.Error())
		}
		return nil
	})

	g.Go(func() error {
		sugar.Infow("starting smart cart kiosk API",
			"addr", cfg.RunAddress,
			"backend", cfg.APIHost,
			"store", cfg.StateStore,
			"status", string(sessions.Status()),
		)
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

		display.Close()

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
