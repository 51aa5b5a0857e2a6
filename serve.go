package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/qianlnk/werewolf-channels/api"
	"github.com/qianlnk/werewolf-channels/auth"
	"github.com/qianlnk/werewolf-channels/cache"
	"github.com/qianlnk/werewolf-channels/config"
	"github.com/qianlnk/werewolf-channels/services"
	"github.com/qianlnk/werewolf-channels/store"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const shutdownTimeout = 10 * time.Second

func serveRun(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := services.ParseRolePool(cfg.Game.RolePool)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := services.NewMetrics(reg)

	history, closeHistory, err := openHistory(ctx, cfg.History, logger)
	if err != nil {
		return err
	}
	defer closeHistory()

	entryStore, closeEntries, err := openEntryStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeEntries()

	hub := services.NewHub(cfg.WebSocket.SendBuffer, metrics, logger)
	channels := services.NewMemoryChannels()
	games := services.NewGameManager(services.GameOptions{
		RolePool: pool,
		Timeouts: services.PhaseTimeouts{
			Day:   cfg.Game.DayTimeout,
			Night: cfg.Game.NightTimeout,
		},
		Broadcaster: hub,
		History:     history,
		Metrics:     metrics,
		Logger:      logger,
	})
	entries := services.NewEntryRegistry(entryStore, channels, games, hub, services.EntryOptions{
		Capacity:   cfg.Entry.Capacity,
		MinPlayers: cfg.Entry.MinPlayers,
		BotFill:    cfg.Game.BotFill,
	}, metrics, logger)

	server := api.NewServer(api.Deps{
		Entries:  entries,
		Games:    games,
		Hub:      hub,
		Channels: channels,
		History:  history,
		Verifier: auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		Gatherer: reg,
		Debug:    cfg.Server.Debug,
		Logger:   logger,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr, "component", programName)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down", "component", programName)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	games.Shutdown()
	hub.Close()
	return srv.Shutdown(shutdownCtx)
}

func openHistory(ctx context.Context, cfg config.HistoryConfig, logger *slog.Logger) (services.HistoryStore, func(), error) {
	switch cfg.Driver {
	case "sqlite":
		s, err := store.NewSQLiteStore(cfg.DSN, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "mongo":
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx, nil); err != nil {
			return nil, nil, fmt.Errorf("ping mongo: %w", err)
		}
		s, err := store.NewMongoStore(ctx, client, cfg.MongoDatabase, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = client.Disconnect(context.Background()) }, nil
	default:
		logger.Warn("history persistence disabled", "component", programName)
		return nil, func() {}, nil
	}
}

func openEntryStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (services.EntryStore, func(), error) {
	if cfg.Entry.Store != "redis" {
		return services.NewMemoryEntryStore(), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("using redis entry store", "addr", cfg.Redis.Addr, "component", programName)
	return cache.NewEntryCache(client, cfg.Redis.EntryTTL), func() { _ = client.Close() }, nil
}
