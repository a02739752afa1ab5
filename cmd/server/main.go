package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/mcoot/roundsync/internal/api"
	"github.com/mcoot/roundsync/internal/broadcast"
	"github.com/mcoot/roundsync/internal/config"
	"github.com/mcoot/roundsync/internal/factory"
	"github.com/mcoot/roundsync/internal/realtime"
	"github.com/mcoot/roundsync/internal/services/auth"
	redisstorage "github.com/mcoot/roundsync/internal/storage/redis"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Level(),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server failed", slog.Any("error", err))
		stop()
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	app, err := factory.New(factoryConfig(cfg, logger))
	if err != nil {
		return fmt.Errorf("create application: %w", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Warn("failed to close storage", slog.Any("error", err))
		}
	}()

	router := api.NewRouter(api.RouterConfig{
		Logger:   logger,
		Rounds:   app.RoundService,
		Sessions: app.AuthService,
		Registry: app.Realtime,
		Gatherer: app.Registry,
	})

	serverConfig := api.DefaultServerConfig()
	serverConfig.Host = cfg.Host
	serverConfig.Port = cfg.Port
	server := api.NewServer(router, serverConfig, logger)
	server.OnShutdown(app.Realtime.CloseAll)

	logger.Info("starting roundsync", slog.String("storage", cfg.Storage))

	// Either side failing stops the other
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx)
	})
	g.Go(func() error {
		if err := app.Consumer.Run(gctx); err != nil {
			return fmt.Errorf("change consumer: %w", err)
		}
		return nil
	})

	err = g.Wait()
	app.Queue.Wait()
	app.Fanout.Wait()
	return err
}

func factoryConfig(cfg config.Config, logger *slog.Logger) factory.Config {
	broadcastCfg := broadcast.DefaultConfig()
	broadcastCfg.EmptyRetryDelay = cfg.BroadcastEmptyRetryDelay
	broadcastCfg.MaxParallelSends = cfg.BroadcastParallelSends

	realtimeCfg := realtime.DefaultConfig()
	realtimeCfg.PingInterval = cfg.PingInterval
	realtimeCfg.SendBuffer = cfg.SendBuffer

	factoryCfg := factory.Config{
		Logger:          logger,
		StorageType:     cfg.Storage,
		AuthConfig:      auth.Config{SessionTTL: cfg.SessionTTL},
		BroadcastConfig: &broadcastCfg,
		RealtimeConfig:  &realtimeCfg,
	}
	if cfg.Storage == factory.StorageTypeRedis {
		instanceID, ephemeral := cfg.Instance()
		redisCfg := redisstorage.DefaultConfig().ForInstance(instanceID)
		redisCfg.URL = cfg.RedisURL
		redisCfg.DestroyGroupOnClose = ephemeral
		factoryCfg.RedisConfig = &redisCfg
	}
	return factoryCfg
}
