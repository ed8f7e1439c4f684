package main

import (
	"context"
	"log/slog"
	"net/http"

	"ourtube/internal/hub"
	httprouter "ourtube/internal/infrastructure/delivery/http"
	httpserver "ourtube/pkg/http/server"
)

func serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	log := a.log

	broadcaster := hub.New(log, a.cfg, a.metrics)
	go broadcaster.Run(ctx)

	svc := a.newService(ctx, broadcaster)

	a.library.StartJanitor(ctx)

	router := httprouter.New(log, a.cfg, httprouter.Deps{
		Sessions: svc,
		Files:    a.library,
		WS:       http.HandlerFunc(broadcaster.ServeWS),
		Metrics:  a.metrics,
	})

	httpSrv := httpserver.New(router, httpserver.Options{
		Addr:              a.cfg.HTTP.Port,
		ReadHeaderTimeout: a.cfg.HTTP.ReadHeaderTimeout,
		ShutdownTimeout:   a.cfg.HTTP.ShutdownTimeout,
	})

	log.InfoContext(ctx, "ourtube started", slog.String("port", a.cfg.HTTP.Port), slog.String("engine", a.cfg.App.Engine))

	// waiting for shutdown signal
	var serveErr error

	select {
	case <-ctx.Done():
	case serveErr = <-httpSrv.Notify():
		log.ErrorContext(ctx, "http server stopped", slog.Any("error", serveErr))
	}

	if err := httpSrv.Shutdown(); err != nil {
		log.Error("http server shutdown", slog.Any("error", err))
	}

	shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.HTTP.ShutdownTimeout)
	defer stop()

	if err := svc.Shutdown(shutdownCtx); err != nil {
		log.Error("session shutdown", slog.Any("error", err))
	}

	cancel()
	<-broadcaster.Done()

	log.Info("ourtube shut down gracefully")

	return serveErr
}
