package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"

	"pasteapi/internal/applog"
	"pasteapi/internal/config"
	handlers "pasteapi/internal/http/handler"
	"pasteapi/internal/http/middleware"
	"pasteapi/internal/otel"
	"pasteapi/internal/service"
	"pasteapi/internal/storage"
	"pasteapi/internal/store"
)

func main() {
	// Load configuration from environment variables (.env auto-loaded if present)
	cfg := config.Load()

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Fatalf("invalid APP_TIMEZONE %q: %v", cfg.Timezone, err)
	}
	logger := applog.New(os.Stdout, loc)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Init(ctx, logger)
	if err != nil {
		log.Fatalf("failed to initialize tracing: %v", err)
	}

	posts, err := store.FromConfig(afero.NewOsFs(), cfg.Storage)
	if err != nil {
		log.Fatalf("failed to initialize content store: %v", err)
	}

	var mirror storage.Storage
	if cfg.MinIO.Enabled() {
		mirror, err = storage.NewMinIO(cfg.MinIO)
		if err != nil {
			log.Fatalf("failed to initialize object storage mirror: %v", err)
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := service.NewMetrics(reg)
	if err != nil {
		log.Fatalf("failed to register service metrics: %v", err)
	}
	promMiddleware, err := middleware.NewPrometheusMiddleware(reg)
	if err != nil {
		log.Fatalf("failed to register http metrics: %v", err)
	}

	postSvc := service.NewPostService(posts, service.Config{
		Mirror:       mirror,
		Logger:       logger,
		Metrics:      metrics,
		PreviewBytes: cfg.Storage.PreviewBytes,
	})

	app := fiber.New(handlers.AppConfig(cfg.BodyLimitBytes))

	app.Use(middleware.RequestID())
	app.Use(otelfiber.Middleware())
	app.Use(middleware.LoggerWithWriter(os.Stdout, loc))
	app.Use(promMiddleware.Handler())

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	handlers.RegisterRoutes(app, postSvc)

	go func() {
		<-ctx.Done()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logger.Error("server_shutdown_failed", err, nil)
		}
	}()

	logger.Info("server_starting", applog.Fields{
		"addr":         cfg.ListenAddr(),
		"storage_root": cfg.Storage.Root,
		"mirror":       cfg.MinIO.Enabled(),
	})
	if err := app.Listen(cfg.ListenAddr()); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracing(flushCtx); err != nil {
		logger.Error("tracing_shutdown_failed", err, nil)
	}
}
