package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"somnoalert/internal/config"
	"somnoalert/internal/handlers"
	"somnoalert/internal/landmarks"
	"somnoalert/internal/logger"
	"somnoalert/internal/repository"
	"somnoalert/internal/repository/postgres"
	"somnoalert/internal/repository/sqlite"
	"somnoalert/internal/routes"
	"somnoalert/internal/services"
	"somnoalert/internal/services/alarm"
	"somnoalert/internal/services/capture"
	"somnoalert/internal/services/fusion"
	"somnoalert/internal/services/settings"
	"somnoalert/internal/services/stats"
	"somnoalert/internal/services/storage"
	"somnoalert/internal/services/websocket"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config        *config.Config
	logger        *logger.Logger
	store         *repository.Store
	bufferService *storage.BufferService
	hubService    *websocket.HubService
	extractor     *landmarks.WSExtractor
	alarm         *alarm.Controller
	manager       *services.Manager
}

func NewApp() (*App, error) {
	cfg := config.Load()
	log := logger.NewLogger(cfg.LogDirectory)

	initial := settings.Defaults()
	initial.Camera = cameraFromConfig(cfg)
	if err := initial.Validate(); err != nil {
		log.Warning("Camera settings from environment are invalid, using defaults: %v", err)
		initial.Camera = settings.Defaults().Camera
	}
	if cfg.PresetsFile != "" {
		presets, err := settings.LoadPresets(cfg.PresetsFile)
		if err != nil {
			log.Error("Error loading presets, using defaults: %v", err)
		} else {
			initial = presets
		}
	}
	for _, warning := range fusion.CheckMonotonic(initial.Thresholds) {
		log.Warning("Thresholds not monotonic: %s", warning)
	}
	store := settings.NewStore(initial)

	opts, err := services.OptionsFrom(cfg)
	if err != nil {
		return nil, err
	}

	metrics := stats.NewMetrics()
	a := &App{
		config:     cfg,
		logger:     log,
		hubService: websocket.NewHubService(log, metrics),
		extractor:  landmarks.NewWSExtractor(cfg.ExtractorURL, time.Duration(cfg.ExtractorTimeoutMs)*time.Millisecond),
		alarm:      alarm.NewController(alarm.NewActuator(cfg.AlarmCommand, log), log),
	}

	deps := services.Dependencies{
		Store:     store,
		Source:    capture.NewSource(cfg.CaptureMaxFailures, log),
		Extractor: a.extractor,
		Alarm:     a.alarm,
		Hub:       a.hubService,
		Metrics:   metrics,
		Logger:    log,
	}

	a.store, err = openStore(cfg, log)
	if err != nil {
		log.Error("Storage disabled: %v", err)
	}
	if a.store != nil {
		a.bufferService = storage.NewBufferService(a.store, cfg.StorageBufferLimit, log, metrics)
		deps.Recorder = a.bufferService
	}

	a.manager = services.NewManager(opts, deps)
	return a, nil
}

func cameraFromConfig(cfg *config.Config) settings.Camera {
	return settings.Camera{
		Index:       cfg.CameraIndex,
		Width:       cfg.CameraWidth,
		Height:      cfg.CameraHeight,
		FPS:         cfg.CameraTargetFPS,
		Codec:       cfg.CameraCodec,
		Orientation: cfg.CameraOrientation,
	}
}

// openStore opens the configured database. A nil store with a nil error
// means storage is turned off.
func openStore(cfg *config.Config, log *logger.Logger) (*repository.Store, error) {
	switch cfg.DBDriver {
	case "none", "":
		log.Info("Storage disabled by configuration")
		return nil, nil
	case "postgres":
		log.Info("Connecting to postgres: %s", cfg.DSNForLog())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return postgres.NewStore(ctx, cfg.DSN())
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		log.Info("Using sqlite database %s", cfg.SQLitePath)
		return sqlite.NewStore(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown DB_DRIVER %q", cfg.DBDriver)
	}
}

// Run serves HTTP, runs the processing loop and flushes storage until
// SIGINT or SIGTERM, then shuts everything down.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer a.close()

	var saver handlers.ConfigSaver
	if a.bufferService != nil {
		if err := a.bufferService.StartSession(ctx, a.config.DeviceName, a.config.DeviceModel, time.Now()); err != nil {
			a.logger.Error("Error starting storage session: %v", err)
		}
		if err := a.bufferService.SaveConfig(ctx, a.manager.GetStore().Get(), time.Now()); err != nil {
			a.logger.Error("Error saving configuration: %v", err)
		}
		saver = a.bufferService
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.config.Port),
		Handler:           routes.SetupRoutes(a.manager, a.config, saver, a.logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	a.logger.Info("somnoalert listening on http://localhost:%d", a.config.Port)
	a.logger.Info("Landmark extractor: %s", a.config.ExtractorURL)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return a.manager.Run(ctx)
	})
	if a.bufferService != nil {
		g.Go(func() error {
			return a.bufferService.Run(ctx, time.Duration(a.config.StorageFlushInterval)*time.Second)
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("Shutting down")
		a.hubService.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (a *App) close() {
	if err := a.extractor.Close(); err != nil {
		a.logger.Warning("Error closing landmark extractor: %v", err)
	}
	if err := a.alarm.Close(); err != nil {
		a.logger.Warning("Error closing alarm: %v", err)
	}
	if a.bufferService != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.bufferService.EndSession(ctx, time.Now()); err != nil {
			a.logger.Error("Error ending storage session: %v", err)
		}
	}
	if a.store != nil && a.store.Close != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error("Error closing database: %v", err)
		}
	}
}
