// Package library manages the public directory of finalized files and the staging area.
package library

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"ourtube/internal/config"
	"ourtube/internal/entity"
	"ourtube/internal/errs"
	"ourtube/internal/observability"
)

// Registry reports the sessions still running; their staging dirs are never expired.
type Registry interface {
	GetSessions(ctx context.Context) []entity.Session
}

// Library lists and removes public files and expires old entries.
type Library struct {
	log      *slog.Logger
	dir      config.Dir
	storage  config.Storage
	metrics  *observability.Metrics
	registry Registry
	now      func() time.Time
}

// New creates a library over cfg.Dir. metrics and registry may be nil.
func New(log *slog.Logger, cfg *config.Config, metrics *observability.Metrics, registry Registry) *Library {
	return &Library{
		log:      log.With(slog.String("package", "library")),
		dir:      cfg.Dir,
		storage:  cfg.Storage,
		metrics:  metrics,
		registry: registry,
		now:      time.Now,
	}
}

// List returns every regular, non-hidden file in the public directory, newest first.
// A missing directory is an empty library.
func (l *Library) List(ctx context.Context) ([]entity.File, error) {
	entries, err := os.ReadDir(l.dir.Public)
	if errors.Is(err, fs.ErrNotExist) {
		return []entity.File{}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("read public dir: %w", err)
	}

	files := make([]entity.File, 0, len(entries))

	for _, entry := range entries {
		if isHidden(entry.Name()) || !entry.Type().IsRegular() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			// removed between ReadDir and Info
			l.log.DebugContext(ctx, "skip entry", slog.String("name", entry.Name()), slog.Any("error", err))

			continue
		}

		files = append(files, entity.NewFile(entry.Name(), info.Size(), info.ModTime()))
	}

	slices.SortFunc(files, func(a, b entity.File) int {
		if c := b.ModTime.Compare(a.ModTime); c != 0 {
			return c
		}

		return cmp.Compare(a.Filename, b.Filename)
	})

	return files, nil
}

// Delete removes a public file by name.
func (l *Library) Delete(ctx context.Context, name string) error {
	path, err := l.Path(name)
	if err != nil {
		return err
	}

	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.Mode().IsRegular()) {
		return fmt.Errorf("%w: %s", errs.ErrFileNotFound, name)
	}

	if err != nil {
		return fmt.Errorf("stat %s: %w", name, err)
	}

	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", errs.ErrFileNotFound, name)
		}

		return fmt.Errorf("remove %s: %w", name, err)
	}

	l.log.InfoContext(ctx, "file deleted", slog.String("name", name))

	return nil
}

// Path resolves a public file name, rejecting anything that is not a plain visible name.
func (l *Library) Path(name string) (string, error) {
	if !ValidName(name) {
		return "", fmt.Errorf("%w: %q", errs.ErrInvalidFilename, name)
	}

	return filepath.Join(l.dir.Public, name), nil
}

// ValidName reports whether name is a single visible path element.
func ValidName(name string) bool {
	return name != "" &&
		!isHidden(name) &&
		!strings.ContainsAny(name, `/\`) &&
		!strings.ContainsRune(name, 0) &&
		filepath.Base(name) == name
}

// isHidden covers dotfiles and in-flight temp files in the public dir.
func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
