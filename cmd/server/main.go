package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/processlens/backend/internal/config"
	"github.com/processlens/backend/internal/core/ports"
	"github.com/processlens/backend/internal/core/services"
	"github.com/processlens/backend/internal/infrastructure/db"
	"github.com/processlens/backend/internal/infrastructure/logger"
	"github.com/processlens/backend/internal/infrastructure/remote"
	"github.com/processlens/backend/internal/infrastructure/stats"
	transporthttp "github.com/processlens/backend/internal/transport/http"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the config file")
	flag.Parse()

	if _, err := os.Stat(*configPath); os.IsNotExist(err) {
		*configPath = "../config/config.yaml"
	}

	// the watcher may fire before the logger exists
	var current atomic.Pointer[logger.Logger]
	cfg, err := config.Watch(*configPath,
		func(next *config.Config) {
			l := current.Load()
			if l == nil {
				return
			}
			if err := l.SetLevel(next.Logger.Level); err != nil {
				l.Warnw("config_reload_rejected", "error", err)
			}
		},
		func(err error) {
			if l := current.Load(); l != nil {
				l.Warnw("config_reload_failed", "error", err)
			}
		},
	)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	if err := cfg.Validate(); err != nil {
		panic("invalid config: " + err.Error())
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer log.Sync()
	current.Store(log)

	database, err := db.NewPostgresConnection(cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	log.Info("database connection established")

	if err := db.RunMigrations(database); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}
	log.Info("database migrations completed")

	store, err := newUploadStore(cfg, database, log)
	if err != nil {
		log.Fatalf("failed to initialize upload storage: %v", err)
	}
	log.Infow("upload_storage_ready", "driver", store.Name())

	repo := db.NewAnalysisRepository(database, log)
	hub := services.NewHub(64, log)
	analyzer := services.NewProfiler(cfg.Analysis.TopPatterns)

	analysisService := services.NewAnalysisService(services.AnalysisServiceConfig{
		Repo:           repo,
		Store:          store,
		Analyzer:       analyzer,
		Publisher:      hub,
		Logger:         log,
		MaxUploadBytes: cfg.Analysis.MaxUploadBytes,
		Workers:        cfg.Analysis.Workers,
	})
	healthService := services.NewHealthService(repo, store, analyzer, stats.NewCollector(0), log)
	scheduler := services.NewCleanupScheduler(analysisService, log, cfg.Analysis.CleanupInterval, cfg.Analysis.RetentionDays)

	app := transporthttp.NewApp(transporthttp.RouterConfig{
		Config:   cfg,
		Logger:   log,
		Analysis: analysisService,
		Health:   healthService,
		Hub:      hub,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("server started on %s", cfg.Server.Address())
		return app.Listen(cfg.Server.Address())
	})
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		gracefulShutdown(app.ShutdownWithContext, analysisService, hub, store, database, log)
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Errorw("server_stopped_with_error", "error", err)
		os.Exit(1)
	}
	log.Info("server exited gracefully")
}

func newUploadStore(cfg *config.Config, database *gorm.DB, log *logger.Logger) (ports.UploadStore, error) {
	switch cfg.Storage.Driver {
	case config.StorageDriverSFTP:
		return remote.NewSFTPStore(cfg.Storage.SFTP, log)
	default:
		return db.NewBlobStore(database, log), nil
	}
}

func gracefulShutdown(
	shutdownHTTP func(context.Context) error,
	analysis *services.AnalysisService,
	hub *services.Hub,
	store ports.UploadStore,
	database *gorm.DB,
	log *logger.Logger,
) {
	log.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := shutdownHTTP(ctx); err != nil {
		log.Errorf("server forced to shutdown: %v", err)
	}
	if err := analysis.Shutdown(ctx); err != nil {
		log.Warnw("analysis_workers_abandoned", "error", err)
	}
	hub.Close()

	if c, ok := store.(io.Closer); ok {
		if err := c.Close(); err != nil {
			log.Warnw("upload_storage_close_failed", "error", err)
		}
	}
	if err := db.Close(database); err != nil {
		log.Errorf("failed to close database: %v", err)
	}
}
