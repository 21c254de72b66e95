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

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	deviceapp "envsurveillance/internal/devices/application"
	devices "envsurveillance/internal/devices/domain"
	devicememory "envsurveillance/internal/devices/infrastructure/memory"
	devicesql "envsurveillance/internal/devices/infrastructure/sqlstore"
	"envsurveillance/internal/observability/logger"
	"envsurveillance/internal/observability/metrics"
	"envsurveillance/internal/storage"
	telemetryapp "envsurveillance/internal/telemetry/application"
	telemetry "envsurveillance/internal/telemetry/domain"
	telemetrymemory "envsurveillance/internal/telemetry/infrastructure/memory"
	"envsurveillance/internal/telemetry/infrastructure/rediscache"
	telemetrysql "envsurveillance/internal/telemetry/infrastructure/sqlstore"
	"envsurveillance/internal/telemetry/interfaces/stream"
	uplinks "envsurveillance/internal/uplinks/domain"
	uplinkmemory "envsurveillance/internal/uplinks/infrastructure/memory"
	uplinksql "envsurveillance/internal/uplinks/infrastructure/sqlstore"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(2)
	}
	log, err := logger.New(logger.Config{ServiceName: "envsurveillance", Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

// components holds the wired application services.
type components struct {
	devices   *deviceapp.Service
	telemetry *telemetryapp.Service
	uplinks   uplinks.Log
	hub       *stream.Hub
	closers   []func() error
}

func (c *components) close(log *zap.Logger) {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			log.Warn("shutdown: close failed", zap.Error(err))
		}
	}
}

func run(ctx context.Context, cfg config, log *zap.Logger) error {
	comps, err := wire(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer comps.close(log)

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	if comps.hub != nil {
		go comps.hub.Run(hubCtx)
	}

	router, err := newRouter(cfg, log, comps)
	if err != nil {
		return err
	}
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("db_driver", cfg.DBDriver))
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	stopHub()
	if comps.hub != nil {
		comps.hub.Wait(time.Second)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func wire(ctx context.Context, cfg config, log *zap.Logger) (*components, error) {
	comps := &components{}

	var (
		repo      devices.Repository
		points    telemetry.Store
		uplinkLog uplinks.Log
		purgers   []deviceapp.Purger
	)
	switch cfg.DBDriver {
	case driverMemory:
		pointStore := telemetrymemory.NewPointStore()
		memLog := uplinkmemory.NewUplinkLog()
		repo, points, uplinkLog = devicememory.NewDeviceRepository(), pointStore, memLog
		purgers = append(purgers, pointStore, memLog)
		metrics.Init(nil, log)
	default:
		db, err := storage.Open(ctx, storage.Config{Driver: cfg.DBDriver, DSN: cfg.DatabaseURL, SQLitePath: cfg.SQLitePath})
		if err != nil {
			return nil, fmt.Errorf("db open: %w", err)
		}
		comps.closers = append(comps.closers, db.Close)
		if cfg.MigrateOnStart {
			if err := storage.Migrate(db, log); err != nil {
				comps.close(log)
				return nil, fmt.Errorf("db migrate: %w", err)
			}
		}
		repo = devicesql.NewDeviceRepository(db)
		points = telemetrysql.NewPointStore(db)
		uplinkLog = uplinksql.NewUplinkLog(db)
		metrics.Init(db.DB, log)
	}
	comps.uplinks = uplinkLog

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		comps.closers = append(comps.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			log.Warn("redis unreachable, latest cache will fall back to storage", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		cache, err := rediscache.NewLatestCache(points, client, rediscache.WithTTL(cfg.LatestCacheTTL), rediscache.WithLogger(log))
		if err != nil {
			comps.close(log)
			return nil, err
		}
		points = cache
		purgers = append(purgers, cache)
	}

	deviceService, err := deviceapp.NewService(repo, log,
		deviceapp.WithGenerator(devices.EUIGenerator{MaxAttempts: cfg.EUIMaxAttempts}),
		deviceapp.WithPurgers(purgers...),
	)
	if err != nil {
		comps.close(log)
		return nil, err
	}
	comps.devices = deviceService

	opts := []telemetryapp.Option{telemetryapp.WithUplinkRecorder(uplinkLog)}
	if cfg.StreamEnabled {
		comps.hub = stream.NewHub(log, 0)
		opts = append(opts, telemetryapp.WithPublisher(comps.hub))
	}
	telemetryService, err := telemetryapp.NewService(points, deviceService, log, opts...)
	if err != nil {
		comps.close(log)
		return nil, err
	}
	comps.telemetry = telemetryService
	return comps, nil
}
