package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"ourtube/internal/config"
	"ourtube/internal/consts"
	"ourtube/internal/depmanager"
	"ourtube/internal/extractor"
	"ourtube/internal/finalizer"
	"ourtube/internal/library"
	"ourtube/internal/mirror"
	"ourtube/internal/observability"
	"ourtube/internal/proxymgr"
	"ourtube/internal/service"
	"ourtube/internal/storage"
	"ourtube/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
)

// app holds the components shared by every command.
type app struct {
	log       *slog.Logger
	cfg       *config.Config
	metrics   *observability.Metrics
	engine    extractor.Extractor
	finalizer *finalizer.Finalizer
	mirror    mirror.Mirror
	storer    storage.Storer
	library   *library.Library
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.New()
	if err != nil {
		slog.ErrorContext(ctx, "config new", slog.Any("error", err))

		return nil, fmt.Errorf("config: %w", err)
	}

	log, err := logger.New(&logger.Options{
		AddSource: true,
		Level:     cfg.App.LogLevel,
	})
	if err != nil {
		log.WarnContext(ctx, "logger level invalid; defaulting to info", slog.Any("error", err))
	}

	for _, dir := range []string{cfg.Dir.Public, cfg.Dir.Staging, cfg.Dir.Cache} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	metrics := observability.New(prometheus.DefaultRegisterer)

	engine, err := newEngine(ctx, log, cfg, metrics)
	if err != nil {
		return nil, err
	}

	mir, err := mirror.New(ctx, log, cfg, metrics)
	if err != nil {
		return nil, fmt.Errorf("mirror: %w", err)
	}

	storer := storage.New(log)

	return &app{
		log:       log,
		cfg:       cfg,
		metrics:   metrics,
		engine:    engine,
		finalizer: finalizer.New(log, cfg),
		mirror:    mir,
		storer:    storer,
		library:   library.New(log, cfg, metrics, storer),
	}, nil
}

func newEngine(ctx context.Context, log *slog.Logger, cfg *config.Config, metrics *observability.Metrics,
) (extractor.Extractor, error) {
	switch cfg.App.Engine {
	case consts.EngineMock:
		return extractor.NewMock(log, consts.DefaultSimulateTime), nil
	case consts.EngineYTdlp:
	default:
		return nil, fmt.Errorf("unknown engine %q", cfg.App.Engine)
	}

	log.InfoContext(ctx, "resolving yt-dlp, ffmpeg and deno. a first install may take some time...")

	deps := depmanager.New(log, cfg)
	if err := deps.Start(ctx); err != nil {
		return nil, fmt.Errorf("toolchain: %w", err)
	}

	proxies := proxymgr.New(log, cfg, metrics)
	proxies.StartHealthChecker(ctx)

	return extractor.NewYTdlp(log, cfg, deps, proxies, metrics), nil
}

func (a *app) newService(ctx context.Context, hub service.Broadcaster) service.Session {
	return service.New(ctx, a.log, a.cfg, service.Deps{
		Engine:    a.engine,
		Finalizer: a.finalizer,
		Mirror:    a.mirror,
		Storer:    a.storer,
		Hub:       hub,
		Metrics:   a.metrics,
	})
}
