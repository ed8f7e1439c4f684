package library

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

const (
	areaStaging = "staging"
	areaPublic  = "public"
)

// StartJanitor removes expired staging dirs and public files every cleanup interval until ctx is done.
func (l *Library) StartJanitor(ctx context.Context) {
	interval := l.storage.CleanupInterval
	if interval <= 0 {
		return
	}

	log := l.log.With(slog.String("action", "janitor"), slog.Duration("interval", interval))

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				l.Cleanup(ctx)
			case <-ctx.Done():
				log.Info("janitor stopped")

				return
			}
		}
	}()

	log.Info("janitor started")
}

// Cleanup runs one expiry pass over both areas.
func (l *Library) Cleanup(ctx context.Context) {
	now := l.now()

	if l.storage.StagingTTL > 0 {
		l.record(ctx, areaStaging, l.cleanupDir(ctx, l.dir.Staging, now.Add(-l.storage.StagingTTL), true, l.inFlight(ctx)))
	}

	if l.storage.PublicTTL > 0 {
		l.record(ctx, areaPublic, l.cleanupDir(ctx, l.dir.Public, now.Add(-l.storage.PublicTTL), false, nil))
	}
}

// inFlight returns the staging dir names of running sessions.
func (l *Library) inFlight(ctx context.Context) map[string]struct{} {
	if l.registry == nil {
		return nil
	}

	sessions := l.registry.GetSessions(ctx)
	keys := make(map[string]struct{}, len(sessions))

	for _, s := range sessions {
		keys[filepath.Base(s.StagingDir)] = struct{}{}
	}

	return keys
}

func (l *Library) record(ctx context.Context, area string, removed int) {
	if removed == 0 {
		l.log.DebugContext(ctx, "nothing expired", slog.String("area", area))

		return
	}

	l.log.InfoContext(ctx, "expired entries removed", slog.String("area", area), slog.Int("count", removed))

	if l.metrics != nil {
		l.metrics.RecordCleanup(area, removed)
	}
}

// cleanupDir removes entries of dir last modified before cutoff, except names in keep.
// Staging holds one directory per session; the public dir holds plain files.
func (l *Library) cleanupDir(ctx context.Context, dir string, cutoff time.Time, dirs bool, keep map[string]struct{}) int {
	log := l.log.With(slog.String("dir", dir))

	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.ErrorContext(ctx, "read dir", slog.Any("error", err))
		}

		return 0
	}

	removed := 0

	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}

		if entry.IsDir() != dirs {
			continue
		}

		if _, ok := keep[entry.Name()]; ok {
			log.DebugContext(ctx, "session still running", slog.String("name", entry.Name()))

			continue
		}

		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}

		path := filepath.Join(dir, entry.Name())

		if dirs {
			err = os.RemoveAll(path)
		} else {
			err = os.Remove(path)
		}

		if err != nil {
			log.ErrorContext(ctx, "failed to remove expired entry", slog.String("path", path), slog.Any("error", err))

			continue
		}

		removed++

		log.DebugContext(ctx, "expired entry removed", slog.String("path", path))
	}

	return removed
}
