package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/joho/godotenv"

	httpadapter "github.com/couchcryptid/regatta-imagery/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/regatta-imagery/internal/adapter/kafka"
	"github.com/couchcryptid/regatta-imagery/internal/adapter/rainviewer"
	"github.com/couchcryptid/regatta-imagery/internal/adapter/storage"
	"github.com/couchcryptid/regatta-imagery/internal/adapter/tiles"
	"github.com/couchcryptid/regatta-imagery/internal/cache"
	"github.com/couchcryptid/regatta-imagery/internal/config"
	"github.com/couchcryptid/regatta-imagery/internal/domain"
	"github.com/couchcryptid/regatta-imagery/internal/imagery"
	"github.com/couchcryptid/regatta-imagery/internal/observability"
	"github.com/couchcryptid/regatta-imagery/internal/scheduler"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := newStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to open cache storage", "backend", cfg.StorageBackend, "error", err)
		os.Exit(1)
	}
	defer closeStore()
	logger.Info("cache storage ready", "backend", cfg.StorageBackend)

	radar := rainviewer.NewClient(rainviewer.Options{
		MetadataURL: cfg.RadarMetadataURL,
		Timeout:     cfg.RadarTimeout,
		MaxRetries:  cfg.RadarMaxRetries,
	}, metrics, logger)
	tileSource := tiles.NewSource(tiles.Options{
		SatelliteURL:    cfg.SatelliteTileURL,
		LayerURL:        cfg.LayerTileURL,
		SatelliteFrames: cfg.SatelliteFrames,
	}, clock)
	builder := domain.NewFrameBuilder(nil, cfg.FallbackTileURL+"/{z}/{x}/{y}.png")
	imageryCache := cache.New(store, clock, logger, metrics)

	var opts []imagery.Option
	if check, ok := store.(imagery.DependencyCheck); ok {
		opts = append(opts, imagery.WithDependencyCheck(cfg.StorageBackend, check))
	}
	var writer *kafkaadapter.Writer
	if cfg.KafkaEnabled {
		writer = kafkaadapter.NewWriter(cfg, logger)
		opts = append(opts, imagery.WithPublisher(writer))
		logger.Info("frame update publishing enabled", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers)
	} else {
		logger.Info("frame update publishing disabled")
	}

	svc := imagery.New(radar, tileSource, builder, imageryCache, clock, logger, metrics, opts...)
	svc.Init(ctx)

	var warmer *scheduler.Warmer
	if cfg.WarmEnabled {
		warmer = scheduler.NewWarmer(svc, cfg.WarmInterval, logger, metrics)
		if err := warmer.Start(); err != nil {
			logger.Error("failed to start cache warmer", "error", err)
			os.Exit(1)
		}
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, svc, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if warmer != nil {
		warmer.Stop()
	}
	if err := svc.Dispose(shutdownCtx); err != nil {
		logger.Error("imagery service dispose error", "error", err)
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}

// newStore opens the configured cache backend and returns its release func.
func newStore(ctx context.Context, cfg *config.Config) (cache.Store, func(), error) {
	if cfg.StorageBackend == config.StorageRedis {
		rs, err := storage.NewRedisStore(ctx, storage.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Key:      cfg.CacheStorageKey,
		})
		if err != nil {
			return nil, nil, err
		}
		return rs, func() { _ = rs.Close() }, nil
	}
	return storage.NewFileStore(cfg.CacheFile), func() {}, nil
}
