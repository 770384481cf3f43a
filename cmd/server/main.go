package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	apihttp "playerhub/internal/api/http"
	"playerhub/internal/app"
	"playerhub/internal/domain/ports"
	"playerhub/internal/metrics"
	"playerhub/internal/services/cache/fetch"
	"playerhub/internal/services/cache/loader"
	"playerhub/internal/services/cache/proxy"
	"playerhub/internal/services/session/player"
	sessionmongo "playerhub/internal/services/session/repository/mongo"
	"playerhub/internal/storage/disk"
	"playerhub/internal/storage/memory"
	"playerhub/internal/telemetry"
	"playerhub/internal/usecase"
)

const serviceName = "playerhub"

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Error("configuration invalid", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	telCfg, err := telemetry.ConfigFromEnv()
	if err != nil {
		logger.Warn("otel config invalid", slog.String("error", err.Error()))
	}
	shutdownTracer, err := telemetry.Init(context.Background(), serviceName, telCfg)
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", serviceName),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.Bool("cacheEnabled", cfg.CacheEnabled),
		slog.String("cacheStore", cfg.CacheStore),
		slog.String("cacheDir", cfg.CacheDir),
		slog.Int64("memoryLimitBytes", cfg.CacheMemoryLimitBytes),
		slog.Bool("watchHistory", cfg.MongoURI != ""),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var provider ports.StoreProvider
	var diskProvider *disk.Provider
	if cfg.CacheStore == app.StoreMemory {
		provider = memory.NewProvider(memory.WithMaxBytes(cfg.CacheMemoryLimitBytes))
	} else {
		diskProvider, err = disk.NewProvider(cfg.CacheDir, disk.WithLogger(logger))
		if err != nil {
			logger.Error("cache store init failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		provider = diskProvider
	}

	fetcher := fetch.NewHTTPFetcher(
		fetch.WithChunkSize(cfg.FetchChunkBytes),
		fetch.WithRateLimit(cfg.FetchRateLimitBytes),
		fetch.WithLogger(logger),
	)
	cacheProxy := proxy.New(provider, fetcher, loader.Config{
		IdleFetchBytes: cfg.IdleFetchBytes,
		RideWindow:     cfg.RideWindowBytes,
	}, logger)

	var (
		mongoClient *mongo.Client
		historyRepo *sessionmongo.WatchHistoryRepository
	)
	if cfg.MongoURI != "" {
		mongoClient, historyRepo = connectHistory(rootCtx, cfg, logger)
	}

	serverOpts := []apihttp.ServerOption{
		apihttp.WithProxy(cacheProxy),
		apihttp.WithLogger(logger),
		apihttp.WithAllowedOrigins(cfg.CORSAllowedOrigins),
		apihttp.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
	}
	if historyRepo != nil {
		serverOpts = append(serverOpts, apihttp.WithWatchHistory(historyRepo))
	}
	handler := apihttp.NewServer(serverOpts...)

	// The controller drives the remote engine, so it is wired after the server.
	var playerProxy player.CacheProxy
	if cfg.CacheEnabled {
		playerProxy = cacheProxy
	}
	playerOpts := []player.Option{
		player.WithObserver(handler),
		player.WithLogger(logger),
	}
	if historyRepo != nil {
		playerOpts = append(playerOpts, player.WithHistory(historyRepo))
	}
	controller := player.New(handler.RemoteEngine(), playerProxy, player.Config{
		Lookahead:    cfg.PlayerLookahead,
		CacheEnabled: cfg.CacheEnabled,
		PreloadBytes: cfg.PreloadBytes,
	}, playerOpts...)
	handler.SetPlayer(controller)

	go publishCacheStats(rootCtx, handler)

	if diskProvider != nil && cfg.MinFreeBytes > 0 {
		pressure := usecase.DiskPressure{
			Cache:        diskProvider,
			Live:         cacheProxy,
			Logger:       logger,
			DataDir:      cfg.CacheDir,
			MinFreeBytes: cfg.MinFreeBytes,
			ResumeBytes:  cfg.MinFreeBytes * 2,
		}
		go pressure.Run(rootCtx)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("server started", slog.String("addr", cfg.HTTPAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	controller.Close()
	handler.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}
	cacheProxy.Close()
	if err := provider.Close(); err != nil {
		logger.Warn("cache store close error", slog.String("error", err.Error()))
	}
	if mongoClient != nil {
		if err := mongoClient.Disconnect(context.Background()); err != nil {
			logger.Warn("mongo disconnect error", slog.String("error", err.Error()))
		}
	}

	logger.Info("server stopped")
}

// connectHistory opens the watch history store. Failures are logged and
// leave history disabled; playback works without it.
func connectHistory(ctx context.Context, cfg app.Config, logger *slog.Logger) (*mongo.Client, *sessionmongo.WatchHistoryRepository) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := sessionmongo.Connect(ctx, cfg.MongoURI)
	if err != nil {
		logger.Warn("mongo connect failed, watch history disabled", slog.String("error", err.Error()))
		return nil, nil
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		logger.Warn("mongo ping failed, watch history disabled", slog.String("error", err.Error()))
		_ = client.Disconnect(context.Background())
		return nil, nil
	}

	repo := sessionmongo.NewWatchHistoryRepository(client, cfg.MongoDatabase)
	if err := repo.EnsureIndexes(ctx); err != nil {
		logger.Warn("mongo ensure indexes failed", slog.String("error", err.Error()))
	}
	return client, repo
}

func publishCacheStats(ctx context.Context, handler *apihttp.Server) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			handler.BroadcastCacheStats(ctx)
		}
	}
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
