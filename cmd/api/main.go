package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"townsquare/api/internal/app"
	"townsquare/api/internal/blob"
	"townsquare/api/internal/config"
	"townsquare/api/internal/export"
	"townsquare/api/internal/logging"
	"townsquare/api/internal/metrics"
	"townsquare/api/internal/ratelimit"
	"townsquare/api/internal/search"
	"townsquare/api/internal/session"
	"townsquare/api/internal/store"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New(logging.Config{})
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Caller: cfg.Log.Caller})
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.Database.URL, store.PoolOptions{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	applied, err := store.ApplyMigrations(ctx, db)
	if err != nil {
		logger.Fatal().Err(err).Msg("migrations failed")
	}
	logger.Info().Int("applied", applied).Msg("database schema up to date")

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	deps := app.Deps{
		Store:   store.NewPostgresStore(db),
		Metrics: metrics.New(registry),
		Logger:  logger,
	}

	if url := strings.TrimSpace(cfg.Redis.URL); url != "" {
		client, err := session.Connect(url)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		sessions := session.NewRedisStoreWithClient(client)
		defer sessions.Close()
		deps.Sessions = sessions
		deps.Limiter = ratelimit.New(client, cfg.RateLimit.IssuesPerDay, 24*time.Hour)
		logger.Info().Msg("using redis for sessions and rate limiting")
	} else {
		logger.Warn().Msg("REDIS_URL not set: sessions are in memory and issue rate limiting is off")
	}

	if endpoint := strings.TrimSpace(cfg.Storage.Endpoint); endpoint != "" {
		blobs, err := blob.NewMinio(ctx, blob.Config{
			Endpoint:  endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			Bucket:    cfg.Storage.Bucket,
			UseSSL:    cfg.Storage.UseSSL,
			URLExpiry: cfg.Storage.URLExpiry,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("object storage unavailable")
		}
		deps.Blob = blobs
	} else {
		logger.Warn().Msg("MINIO_ENDPOINT not set: image uploads are disabled")
	}

	var index search.Index
	if url := strings.TrimSpace(cfg.Search.MeiliURL); url != "" {
		meili := search.NewMeili(url, cfg.Search.MeiliKey, logger)
		defer meili.Close()
		index = meili
	}
	searchService := search.NewService(index, search.NewPgFTS(db), logger)
	deps.Search = searchService
	go searchService.ReindexAllFromPG(ctx)

	deps.Exporter = export.NewService(export.Options{
		ChromeEnabled: cfg.Export.ChromeEnabled,
		Timeout:       cfg.Export.Timeout,
	}, logger)

	service := app.New(cfg, deps)
	if err := service.Bootstrap(ctx); err != nil {
		logger.Error().Err(err).Msg("bootstrap failed, will retry on next restart")
	}

	httpServer := app.NewHTTPServer(service, app.HTTPOptions{
		CORSOrigins:    cfg.HTTP.CORSOrigins,
		MaxUploadBytes: cfg.HTTP.MaxUploadBytes,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
	})
	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
		ErrorLog:          stdLogger(logger),
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTP.Addr).Str("env", cfg.Env).Msg("townsquare api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
	searchService.Wait()
}

// stdLogger routes net/http server errors into the structured log.
func stdLogger(logger zerolog.Logger) *log.Logger {
	return log.New(logger.With().Str("component", "http").Logger(), "", 0)
}
