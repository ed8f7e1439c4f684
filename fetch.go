package main

import (
	"context"
	"fmt"
	"log/slog"

	"ourtube/internal/consts"
	"ourtube/internal/entity"
	"ourtube/internal/errs"
)

// eventLog stands in for the hub when no clients are attached.
type eventLog struct {
	log  *slog.Logger
	done chan entity.Event
}

func newEventLog(log *slog.Logger) *eventLog {
	return &eventLog{
		log:  log.With(slog.String("component", "fetch")),
		done: make(chan entity.Event, 1),
	}
}

func (e *eventLog) Broadcast(ev entity.Event) {
	e.log.Info(string(ev.Type), slog.Any("event", ev))

	if ev.IsTerminal() {
		select {
		case e.done <- ev:
		default:
		}
	}
}

func fetch(ctx context.Context, url, format, quality string) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	if format == "" {
		format = consts.DefaultFormat
	}

	if quality == "" {
		quality = consts.DefaultQuality
	}

	events := newEventLog(a.log)
	svc := a.newService(ctx, events)

	sess, err := svc.Start(ctx, url, format, quality)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}

	a.log.InfoContext(ctx, "session started", slog.Any("session", sess))

	var result error

	select {
	case ev := <-events.done:
		if ev.Type == entity.EventError {
			result = fmt.Errorf("%w: %s", errs.ErrExtractionFailed, ev.Error)
		}
	case <-ctx.Done():
		result = errs.ErrSessionCancelled
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := svc.Shutdown(shutdownCtx); err != nil {
		a.log.Error("session shutdown", slog.Any("error", err))
	}

	return result
}
