// Package finalizer moves finished artifacts from staging into the public directory.
package finalizer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"ourtube/internal/config"
	"ourtube/internal/entity"
	"ourtube/internal/errs"
)

const (
	dirPerm = 0o755

	// maxNameBytes keeps the final name under the common NAME_MAX of 255 bytes.
	maxNameBytes = 255
	// suffixReserve fits "_<unix nanos>_<counter>".
	suffixReserve = 24
	// maxCollisionAttempts bounds the counter suffix after both timestamp suffixes are taken.
	maxCollisionAttempts = 100

	tempPattern = ".ourtube-*.part"
)

// Finalizer locates staged artifacts and publishes them.
type Finalizer struct {
	log       *slog.Logger
	publicDir string
	wait      time.Duration
	poll      time.Duration
	now       func() time.Time
}

// New creates a finalizer publishing into cfg.Dir.Public.
func New(log *slog.Logger, cfg *config.Config) *Finalizer {
	return &Finalizer{
		log:       log.With(slog.String("package", "finalizer")),
		publicDir: cfg.Dir.Public,
		wait:      cfg.Session.ArtifactWait,
		poll:      max(cfg.Session.PollInterval, 10*time.Millisecond),
		now:       time.Now,
	}
}

// Locate returns the first existing {dir}/{id}.{ext} for ext in exts.
// It polls until the artifact wait elapses, then fails with errs.ErrArtifactNotFound.
func (f *Finalizer) Locate(ctx context.Context, dir, id string, exts []string) (string, error) {
	if id == "" || filepath.Base(id) != id || strings.HasPrefix(id, ".") {
		return "", fmt.Errorf("%w: bad id %q", errs.ErrArtifactNotFound, id)
	}

	deadline := time.Now().Add(f.wait)

	for {
		if path, ok := find(dir, id, exts); ok {
			return path, nil
		}

		if !time.Now().Before(deadline) {
			return "", fmt.Errorf("%w: %s.{%s} in %s", errs.ErrArtifactNotFound, id, strings.Join(exts, ","), dir)
		}

		timer := time.NewTimer(f.poll)

		select {
		case <-ctx.Done():
			timer.Stop()

			return "", ctx.Err()
		case <-timer.C:
		}
	}
}

func find(dir, id string, exts []string) (string, bool) {
	for _, ext := range exts {
		path := filepath.Join(dir, id+"."+ext)

		info, err := os.Stat(path)
		if err == nil && info.Mode().IsRegular() {
			return path, true
		}
	}

	return "", false
}

// Finalize moves src into the public directory under the sanitized title.
// An existing file is never overwritten: the name gets a timestamp suffix instead.
func (f *Finalizer) Finalize(ctx context.Context, src, title, fallback string) (entity.File, error) {
	log := f.log.With(slog.String("func", "Finalize"), slog.String("src", src))

	if err := os.MkdirAll(f.publicDir, dirPerm); err != nil {
		return entity.File{}, fmt.Errorf("%w: create public dir: %w", errs.ErrFinalize, err)
	}

	ext := filepath.Ext(src)
	base := fitName(SanitizeTitle(title, fallback), maxNameBytes-len(ext)-suffixReserve)

	now := f.now()

	for i := range maxCollisionAttempts + 2 { //nolint:mnd
		name := candidateName(base, ext, now, i)
		dst := filepath.Join(f.publicDir, name)

		err := commit(src, dst)
		if errors.Is(err, fs.ErrExist) {
			log.DebugContext(ctx, "name taken", slog.String("name", name))

			continue
		}

		if err != nil {
			return entity.File{}, fmt.Errorf("%w: %w", errs.ErrFinalize, err)
		}

		if err := os.Remove(src); err != nil {
			log.WarnContext(ctx, "remove staged artifact", slog.Any("error", err))
		}

		info, err := os.Stat(dst)
		if err != nil {
			return entity.File{}, fmt.Errorf("%w: stat published file: %w", errs.ErrFinalize, err)
		}

		log.InfoContext(ctx, "artifact published", slog.String("name", name), slog.Int64("size", info.Size()))

		return entity.NewFile(name, info.Size(), info.ModTime()), nil
	}

	return entity.File{}, fmt.Errorf("%w: no free name for %q", errs.ErrFinalize, base+ext)
}

// candidateName returns the attempt-th name: plain, unix seconds, unix nanos, then nanos plus a counter.
func candidateName(base, ext string, now time.Time, attempt int) string {
	switch attempt {
	case 0:
		return base + ext
	case 1:
		return base + "_" + strconv.FormatInt(now.Unix(), 10) + ext
	case 2: //nolint:mnd
		return base + "_" + strconv.FormatInt(now.UnixNano(), 10) + ext
	default:
		return base + "_" + strconv.FormatInt(now.UnixNano(), 10) + "_" + strconv.Itoa(attempt-2) + ext //nolint:mnd
	}
}

// commit makes src visible at dst without ever replacing an existing dst.
// A hard link is the commit point; filesystems without links across src and dst
// get a hidden copy in the destination dir that is then linked into place.
func commit(src, dst string) error {
	err := os.Link(src, dst)
	if err == nil || errors.Is(err, fs.ErrExist) {
		return err
	}

	if _, err := os.Lstat(dst); err == nil {
		return fs.ErrExist
	}

	return copyCommit(src, dst)
}

func copyCommit(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open staged artifact: %w", err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), tempPattern)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err = io.Copy(tmp, in); err != nil {
		tmp.Close()

		return fmt.Errorf("copy artifact: %w", err)
	}

	if err = tmp.Sync(); err != nil {
		tmp.Close()

		return fmt.Errorf("sync artifact: %w", err)
	}

	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close artifact: %w", err)
	}

	err = os.Link(tmpName, dst)
	if err == nil || errors.Is(err, fs.ErrExist) {
		return err
	}

	// no hard links at all on the public filesystem
	if _, err := os.Lstat(dst); err == nil {
		return fs.ErrExist
	}

	if err := os.Rename(tmpName, dst); err != nil {
		return fmt.Errorf("rename artifact: %w", err)
	}

	return nil
}
