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

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/MimeLyc/tune-ripper/internal/config"
	"github.com/MimeLyc/tune-ripper/internal/httpapi"
	"github.com/MimeLyc/tune-ripper/internal/jobs"
	"github.com/MimeLyc/tune-ripper/internal/media"
	"github.com/MimeLyc/tune-ripper/internal/persistence"
	"github.com/MimeLyc/tune-ripper/internal/telemetry"
	"github.com/MimeLyc/tune-ripper/pkg/log"
)

var shutdownTimeout = 10 * time.Second

type workerPool interface {
	Start()
	Stop()
}

type cronEngine interface {
	Start()
	Stop() context.Context
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

type telemetryProviders interface {
	Shutdown(ctx context.Context) error
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("Failed to load .env: %v", err)
	}

	settingsPath := config.RuntimeSettingsFilePath()
	var opts []config.Option
	if settings, err := config.LoadRuntimeSettingsFile(settingsPath); err == nil {
		opts = append(opts, config.WithRuntimeSettings(settings))
	} else if !errors.Is(err, os.ErrNotExist) {
		log.Warn("Ignoring settings file %s: %v", settingsPath, err)
	}

	cfg, err := config.NewFromEnv(opts...)
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}
	closeLog, err := setupLogging(cfg)
	if err != nil {
		log.Fatal("Failed to set up logging: %v", err)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to open %s store: %v", cfg.Store.Driver, err)
	}
	defer closeStore()

	registry := jobs.NewRegistry(store)
	if err := registry.Restore(ctx); err != nil {
		log.Fatal("Failed to restore jobs: %v", err)
	}

	processor := media.NewYTDLP(media.Config{
		Binary:      cfg.Download.YTDLPPath,
		DownloadDir: cfg.Download.Dir,
		Timeout:     cfg.Download.Timeout,
	})
	for _, tool := range processor.Diagnose() {
		log.Warn("%s not found on PATH, conversions will fail until it is installed", tool)
	}

	providers := telemetry.NewProviders()
	recorder := providers.Recorder()
	orchestrator := jobs.NewOrchestrator(registry, processor,
		jobs.WithConcurrency(cfg.Download.MaxConcurrency),
		jobs.WithRecorder(recorder),
	)

	downloadDir := processor.DownloadDir()
	cronEngine := cron.New()
	sweeper := jobs.NewSweeper(registry, downloadDir, jobs.Policy{
		Complete: cfg.Retention.Complete,
		Error:    cfg.Retention.Error,
	})
	if err := sweeper.Schedule(cronEngine, cfg.Retention.SweepCron); err != nil {
		log.Fatal("Failed to schedule retention sweep: %v", err)
	}

	serverOpts := []httpapi.Option{
		httpapi.WithUI(cfg.HTTP.UIStaticDir, cfg.HTTP.UIEnabled),
		httpapi.WithRateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
		httpapi.WithRecorder(recorder),
		httpapi.WithMetrics(providers.Handler()),
	}
	settingsStore, err := config.NewRuntimeSettingsStore(settingsPath, cfg.RuntimeSettings())
	if err != nil {
		log.Warn("Runtime settings disabled: %v", err)
	} else {
		serverOpts = append(serverOpts,
			httpapi.WithRuntimeSettingsStore(settingsStore),
			httpapi.WithRuntimeSettingsApplier(settingsApplier(sweeper, cronEngine)),
		)
	}
	server := httpapi.NewServer(orchestrator, jobs.NewStatusService(registry), downloadDir, serverOpts...)

	if err := runWithComponents(ctx, cfg, orchestrator, cronEngine, server, providers); err != nil {
		log.Fatal("Server stopped: %v", err)
	}
	log.Info("Shut down cleanly")
}

// runWithComponents starts the pool, the sweep cron and the HTTP server and
// blocks until ctx is done or the server fails. Running conversions are
// never cut short, so shutdown may outlast shutdownTimeout by up to one
// processor timeout.
func runWithComponents(ctx context.Context, cfg *config.Config, pool workerPool, cronEngine cronEngine, httpSrv httpServer, tel telemetryProviders) error {
	pool.Start()
	cronEngine.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Listening on %s", cfg.HTTP.Addr)
		if err := httpSrv.ListenAndServe(cfg.HTTP.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := httpSrv.Shutdown(shutdownCtx)
		select {
		case <-cronEngine.Stop().Done():
		case <-shutdownCtx.Done():
			log.Warn("Retention sweep still running at shutdown")
		}

		stopped := make(chan struct{})
		go func() {
			pool.Stop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			log.Warn("Conversions still running after %s, waiting for them to finish", shutdownTimeout)
			<-stopped
		}

		flushCtx, cancelFlush := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelFlush()
		if terr := tel.Shutdown(flushCtx); terr != nil {
			log.Warn("Failed to shut down telemetry: %v", terr)
		}
		if err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// setupLogging applies LOG_LEVEL and, when LOG_FILE is set, tees the log
// into that file.
func setupLogging(cfg *config.Config) (func(), error) {
	level := log.ParseLevel(cfg.LogLevel)
	if cfg.LogFile == "" {
		log.GetLogger().SetLevel(level)
		return func() {}, nil
	}

	fileLogger, err := log.NewFileLogger(cfg.LogFile, level)
	if err != nil {
		return nil, err
	}
	log.SetLogger(fileLogger.Logger)
	log.Info("Logging to %s", cfg.LogFile)
	return func() {
		if err := fileLogger.Close(); err != nil {
			log.Warn("Failed to close log file: %v", err)
		}
	}, nil
}

// openStore returns the configured job store. The memory driver has no
// store, so jobs do not survive a restart.
func openStore(ctx context.Context, cfg *config.Config) (jobs.Store, func(), error) {
	switch cfg.Store.Driver {
	case config.StoreSQLite:
		store, err := persistence.NewSQLiteStore(cfg.DBPath())
		if err != nil {
			return nil, nil, err
		}
		log.Info("Using sqlite store at %s", cfg.DBPath())
		return store, func() {
			if err := store.Close(); err != nil {
				log.Warn("Failed to close sqlite store: %v", err)
			}
		}, nil
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		})
		store := persistence.NewRedisStore(client)
		if err := store.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		log.Info("Using redis store at %s (db %d)", cfg.Store.RedisAddr, cfg.Store.RedisDB)
		return store, func() {
			if err := client.Close(); err != nil {
				log.Warn("Failed to close redis client: %v", err)
			}
		}, nil
	default:
		log.Info("Using in-memory job store")
		return nil, func() {}, nil
	}
}

// settingsApplier pushes saved runtime settings into the running sweeper.
// Zero retention keeps the current value, matching the settings file.
func settingsApplier(sweeper *jobs.Sweeper, scheduler jobs.Scheduler) func(config.RuntimeSettings) error {
	return func(next config.RuntimeSettings) error {
		policy := sweeper.Policy()
		if next.RetentionCompleteSeconds > 0 {
			policy.Complete = next.CompleteRetention()
		}
		if next.RetentionErrorSeconds > 0 {
			policy.Error = next.ErrorRetention()
		}
		sweeper.SetPolicy(policy)

		if next.SweepCron != "" && next.SweepCron != sweeper.Spec() {
			return sweeper.Schedule(scheduler, next.SweepCron)
		}
		return nil
	}
}
