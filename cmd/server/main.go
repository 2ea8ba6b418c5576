package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"metaetl/internal/delivery"
	"metaetl/internal/domain"
	"metaetl/internal/infrastructure"
	"metaetl/internal/scheduler"
	"metaetl/internal/transform"
	"metaetl/internal/usecase"
	"metaetl/pkg/config"
	"metaetl/pkg/logger"
	"metaetl/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const shutdownTimeout = 30 * time.Second

// storage is what both the memory and postgres backends provide.
type storage interface {
	domain.InsightRepository
	domain.FollowerRepository
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level)
	log.Info("Starting server")

	if err := run(cfg, log); err != nil {
		log.WithError(err).Error("Server stopped with error")
		os.Exit(1)
	}
	log.Info("Server stopped")
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	taxonomy, err := transform.LoadTaxonomy(cfg.ETL.TaxonomyFile)
	if err != nil {
		return err
	}
	log.WithField("taxonomy_version", taxonomy.Version).Info("Action taxonomy loaded")
	transformer := transform.NewTransformer(transform.NewNormalizer(taxonomy), cfg.ETL.WorkerPoolSize, log, m)

	var store storage
	switch cfg.Database.Driver {
	case "postgres":
		pg, err := infrastructure.NewPostgresRepository(ctx, cfg.Database, log)
		if err != nil {
			return err
		}
		defer pg.Close()
		if cfg.Database.BootstrapSchema {
			if err := pg.EnsureSchema(ctx); err != nil {
				return err
			}
		}
		store = pg
	default:
		log.Warn("Using in-memory storage, data is lost on restart")
		store = infrastructure.NewMemoryRepository(log)
	}

	graph := infrastructure.NewGraphClient(cfg.Meta, log, m)

	var notifier domain.Notifier = infrastructure.NewLogNotifier(log, m)
	if cfg.Notify.DiscordWebhookURL != "" {
		notifier = infrastructure.NewDiscordNotifier(cfg.Notify.DiscordWebhookURL, cfg.Notify.DiscordUsername, 10*time.Second, log, m)
	}

	var archive domain.RawArchive
	if cfg.Archive.Endpoint != "" {
		minioArchive, err := infrastructure.NewMinioArchive(cfg.Archive, log)
		if err != nil {
			return err
		}
		if err := minioArchive.EnsureBucket(ctx); err != nil {
			return err
		}
		archive = minioArchive
	}

	etl := usecase.NewETLService(graph, graph, store, store, archive, notifier, transformer, log, m, usecase.ETLOptions{
		AccountIDs:      cfg.Meta.AdAccountIDs,
		DatePreset:      cfg.ETL.DatePreset,
		AccountCooldown: cfg.ETL.AccountCooldown,
		IGAccountID:     cfg.Meta.IGAccountID,
		NotifyOnSuccess: cfg.ETL.NotifyOnSuccess,
		InsightsTable:   cfg.Database.InsightsTable,
	})

	sched, err := scheduler.New(cfg.ETL.Schedule, etl, log)
	if err != nil {
		return err
	}
	if err := sched.Start(ctx, cfg.ETL.RunOnStart); err != nil {
		return err
	}
	defer sched.Stop()

	gin.SetMode(gin.ReleaseMode)
	handlers := delivery.NewHTTPHandlers(etl, usecase.NewInsightsService(store, log), store, log)
	router := delivery.NewHTTPRouter(handlers, log, m, prometheus.DefaultGatherer)

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithField("port", cfg.Server.Port).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
