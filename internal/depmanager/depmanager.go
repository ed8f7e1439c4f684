// Package depmanager provides the external executables the extraction engine runs.
// It either resolves them from PATH or downloads release builds into a bins directory
// and replaces them when the published checksums change. Checksums only signal new
// releases; downloads are not verified against them.
package depmanager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"ourtube/internal/config"
	"ourtube/internal/errs"
)

const (
	downloadTimeout = 10 * time.Minute
	execPerm        = 0o755
	filePerm        = 0o644
)

var archiveSuffixes = []string{".zip", ".tar.xz", ".tar.gz"}

// Manager resolves and installs binaries.
type Manager struct {
	log      *slog.Logger
	cfg      config.DepManager
	platform Platform
	client   *http.Client

	mu    sync.RWMutex
	paths map[BinaryName]string
	// installed holds the checksums of the release files currently in BinsDir
	installed map[string]string

	updating atomic.Bool
}

// New creates a manager for the running platform.
func New(log *slog.Logger, cfg *config.Config) *Manager {
	return &Manager{
		log:       log.With(slog.String("package", "depmanager")),
		cfg:       cfg.DepManager,
		platform:  currentPlatform(),
		client:    &http.Client{Timeout: downloadTimeout},
		paths:     make(map[BinaryName]string),
		installed: make(map[string]string),
	}
}

// Start makes the binaries available. With UseSystemBinaries it only searches PATH;
// otherwise it installs missing releases and keeps them updated until ctx is done.
func (m *Manager) Start(ctx context.Context) error {
	if m.cfg.UseSystemBinaries {
		return m.ResolveSystem(ctx)
	}

	if err := m.InstallAll(ctx); err != nil {
		return err
	}

	m.StartUpdateChecker(ctx)

	return nil
}

// ResolveSystem looks every binary up in PATH. Only required tools must be present;
// missing optional ones are left unset so the engine falls back to its own lookup.
func (m *Manager) ResolveSystem(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range tools {
		for _, name := range t.provides {
			path, err := exec.LookPath(string(name))
			if err != nil {
				if t.required {
					return fmt.Errorf("%w: %s not in PATH: %w", errs.ErrBinaryNotFound, name, err)
				}

				m.log.WarnContext(ctx, "optional binary not in PATH", slog.String("binary", string(name)))

				continue
			}

			m.paths[name] = path
		}
	}

	m.log.InfoContext(ctx, "using system binaries", slog.Any("binaries", m.paths))

	return nil
}

// InstallAll downloads every release whose binaries are missing from BinsDir,
// then records the published checksums for later update checks.
func (m *Manager) InstallAll(ctx context.Context) error {
	if err := os.MkdirAll(m.cfg.BinsDir, execPerm); err != nil {
		return fmt.Errorf("create bins dir: %w", err)
	}

	if err := m.loadInstalled(); err != nil {
		m.log.DebugContext(ctx, "no recorded checksums", slog.Any("error", err))
	}

	for _, t := range tools {
		if m.present(t) {
			m.register(t)

			continue
		}

		if err := m.install(ctx, t); err != nil {
			return fmt.Errorf("install %s: %w", t.name, err)
		}
	}

	m.log.InfoContext(ctx, "binaries installed", slog.Any("binaries", m.snapshot()))

	remote, err := m.fetchSums(ctx)
	if err != nil {
		m.log.WarnContext(ctx, "fetch checksums", slog.Any("error", err))

		return nil
	}

	if err := m.saveInstalled(remote); err != nil {
		m.log.WarnContext(ctx, "save checksums", slog.Any("error", err))
	}

	return nil
}

// GetInstalledPath returns the resolved path of a binary, or "" when it is not available.
func (m *Manager) GetInstalledPath(name BinaryName) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.paths[name]
}

// StartUpdateChecker replaces binaries whose published checksum changed, every UpdateInterval.
func (m *Manager) StartUpdateChecker(ctx context.Context) {
	if m.cfg.UpdateInterval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(m.cfg.UpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.update(ctx)
			}
		}
	}()
}

// update runs one update check. Overlapping checks are skipped.
func (m *Manager) update(ctx context.Context) {
	if !m.updating.CompareAndSwap(false, true) {
		return
	}
	defer m.updating.Store(false)

	remote, err := m.fetchSums(ctx)
	if err != nil {
		m.log.WarnContext(ctx, "update check: fetch checksums", slog.Any("error", err))

		return
	}

	stale := m.outdated(remote)
	if len(stale) == 0 {
		m.log.DebugContext(ctx, "update check: up to date")

		return
	}

	for _, t := range stale {
		if err := m.install(ctx, t); err != nil {
			m.log.ErrorContext(ctx, "update check: install",
				slog.String("binary", string(t.name)), slog.Any("error", err))

			// keep the old checksum so the next check retries
			remote[t.asset(m.platform)] = m.recorded(t.asset(m.platform))

			continue
		}

		m.log.InfoContext(ctx, "update check: binary updated", slog.String("binary", string(t.name)))
	}

	if err := m.saveInstalled(remote); err != nil {
		m.log.WarnContext(ctx, "update check: save checksums", slog.Any("error", err))
	}
}

// binPath returns where name lives inside BinsDir.
func (m *Manager) binPath(name BinaryName) string {
	filename := string(name)
	if m.platform.OS == "windows" {
		filename += ".exe"
	}

	return filepath.Join(m.cfg.BinsDir, filename)
}

// present reports whether every binary of t is installed with a non-zero size.
func (m *Manager) present(t tool) bool {
	for _, name := range t.provides {
		info, err := os.Stat(m.binPath(name))
		if err != nil || info.Size() == 0 {
			return false
		}
	}

	return true
}

func (m *Manager) register(t tool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, name := range t.provides {
		m.paths[name] = m.binPath(name)
	}
}

func (m *Manager) snapshot() map[BinaryName]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return maps.Clone(m.paths)
}

// install downloads t's release and places its binaries in BinsDir.
func (m *Manager) install(ctx context.Context, t tool) error {
	url := t.url(m.cfg, m.platform)
	if url == "" {
		return fmt.Errorf("%w: no download url for %s on %s", errs.ErrUnsupportedPlatform, t.name, m.platform)
	}

	m.log.InfoContext(ctx, "downloading binary", slog.String("binary", string(t.name)), slog.String("url", url))

	tmpPath, err := m.download(ctx, url)
	if err != nil {
		return err
	}
	defer os.Remove(tmpPath)

	if isArchive(url) {
		if err := extract(tmpPath, url, m.cfg.BinsDir, t.provides); err != nil {
			return fmt.Errorf("extract: %w", err)
		}
	} else {
		if err := os.Chmod(tmpPath, execPerm); err != nil {
			return fmt.Errorf("chmod: %w", err)
		}

		if err := os.Rename(tmpPath, m.binPath(t.name)); err != nil {
			return fmt.Errorf("rename: %w", err)
		}
	}

	m.register(t)

	return nil
}

// download stores the response body in a temp file inside BinsDir and returns its path.
func (m *Manager) download(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download %s: unexpected status %d", url, resp.StatusCode)
	}

	tmp, err := os.CreateTemp(m.cfg.BinsDir, "download-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	_, copyErr := io.Copy(tmp, resp.Body)
	closeErr := tmp.Close()

	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(tmp.Name())

		return "", fmt.Errorf("write download: %w", err)
	}

	return tmp.Name(), nil
}

func isArchive(url string) bool {
	for _, suffix := range archiveSuffixes {
		if strings.HasSuffix(url, suffix) {
			return true
		}
	}

	return false
}
