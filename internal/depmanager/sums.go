package depmanager

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

const (
	sha256HexLength = 64
	sumsFilename    = ".sha256sums.json"
)

// sumsURLs returns the configured checksum sources. A source may list several comma-separated URLs.
func (m *Manager) sumsURLs() []string {
	var out []string

	for _, t := range tools {
		for part := range strings.SplitSeq(t.sums(m.cfg), ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}

	return out
}

// fetchSums downloads every checksum file and merges them into one filename to hash map.
func (m *Manager) fetchSums(ctx context.Context) (map[string]string, error) {
	sources := m.sumsURLs()
	if len(sources) == 0 {
		return nil, fmt.Errorf("no checksum urls configured")
	}

	sums := make(map[string]string)

	for _, url := range sources {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}

		resp, err := m.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch checksums: %w", err)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetch checksums %s: unexpected status %d", url, resp.StatusCode)
		}

		if err != nil {
			return nil, fmt.Errorf("read checksums: %w", err)
		}

		parseSums(string(body), sums)
	}

	return sums, nil
}

// parseSums adds "hash  filename" lines to into, skipping anything that is not a sha256 line.
// A "*" binary-mode marker before the filename is dropped.
func parseSums(content string, into map[string]string) {
	for line := range strings.Lines(content) {
		fields := strings.Fields(line)
		if len(fields) != 2 || len(fields[0]) != sha256HexLength { //nolint:mnd
			continue
		}

		into[strings.TrimPrefix(fields[1], "*")] = fields[0]
	}
}

// outdated returns the tools whose release checksum differs from the recorded one.
func (m *Manager) outdated(remote map[string]string) []tool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stale []tool

	for _, t := range tools {
		asset := t.asset(m.platform)

		hash, ok := remote[asset]
		if ok && hash != m.installed[asset] {
			stale = append(stale, t)
		}
	}

	return stale
}

func (m *Manager) recorded(asset string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.installed[asset]
}

func (m *Manager) loadInstalled() error {
	data, err := os.ReadFile(filepath.Join(m.cfg.BinsDir, sumsFilename))
	if err != nil {
		return fmt.Errorf("read checksums file: %w", err)
	}

	sums := make(map[string]string)
	if err := json.Unmarshal(data, &sums); err != nil {
		return fmt.Errorf("unmarshal checksums: %w", err)
	}

	m.mu.Lock()
	m.installed = sums
	m.mu.Unlock()

	return nil
}

func (m *Manager) saveInstalled(sums map[string]string) error {
	data, err := json.MarshalIndent(sums, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checksums: %w", err)
	}

	if err := os.WriteFile(filepath.Join(m.cfg.BinsDir, sumsFilename), data, filePerm); err != nil {
		return fmt.Errorf("write checksums file: %w", err)
	}

	m.mu.Lock()
	m.installed = maps.Clone(sums)
	m.mu.Unlock()

	return nil
}
