package extractor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"ourtube/internal/consts"
	"ourtube/internal/errs"
	"ourtube/pkg/gen"
	"ourtube/pkg/urls"
)

// MockFailHost makes the mock engine fail halfway through a fetch.
const MockFailHost = "fail.invalid"

const (
	mockSteps     = 10
	mockTotal     = 10 << 20 // simulated bytes per fetch
	mockIDLength  = 11
	mockFilePerm  = 0o644
	mockDirPerm   = 0o755
	mockThumbnail = "jpg"
)

// Mock simulates an engine run without network access.
type Mock struct {
	log      *slog.Logger
	duration time.Duration
}

// NewMock creates a mock extractor. A non-positive duration uses the default.
func NewMock(log *slog.Logger, duration time.Duration) *Mock {
	if duration <= 0 {
		duration = consts.DefaultSimulateTime
	}

	return &Mock{
		log:      log.With(slog.String("package", "extractor"), slog.String("engine", consts.EngineMock)),
		duration: duration,
	}
}

// Probe derives a stable ID and a title from the URL.
func (m *Mock) Probe(ctx context.Context, url string) (Media, error) {
	if err := ctx.Err(); err != nil {
		return Media{}, err
	}

	if !urls.IsURLValid(url) {
		return Media{}, fmt.Errorf("%w: unsupported url %q", errs.ErrExtractionFailed, url)
	}

	id := strings.ReplaceAll(gen.UUIDv5(url, consts.EngineMock), "-", "")[:mockIDLength]

	title := path.Base(strings.TrimRight(url, "/"))
	if title == "" || title == "." || strings.Contains(title, ":") {
		title = urls.Host(url)
	}

	return Media{ID: id, Title: title}, nil
}

// Fetch reports simulated progress and writes a placeholder artifact into the staging dir.
func (m *Mock) Fetch(ctx context.Context, req FetchRequest, onProgress ProgressFunc) error {
	log := m.log.With(slog.String("func", "Fetch"), slog.String("url", req.URL))

	media, err := m.Probe(ctx, req.URL)
	if err != nil {
		return err
	}

	ext := consts.DefaultFormat
	if len(req.Plan.Extensions) > 0 {
		ext = req.Plan.Extensions[0]
	}

	if req.Plan.ThumbnailOnly {
		ext = mockThumbnail
	}

	filename := media.ID + "." + ext
	fail := urls.Host(req.URL) == MockFailHost

	ticker := time.NewTicker(max(m.duration/mockSteps, time.Millisecond))
	defer ticker.Stop()

	start := time.Now()

	for step := 1; step <= mockSteps; step++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if fail && step > mockSteps/2 {
			return fmt.Errorf("%w: simulated network failure", errs.ErrExtractionFailed)
		}

		if onProgress != nil {
			onProgress(Transfer{
				Filename:   filename,
				Downloaded: mockTotal / mockSteps * step,
				Total:      mockTotal,
				Started:    start,
			}.Format(time.Now()))
		}
	}

	if err := os.MkdirAll(req.StagingDir, mockDirPerm); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}

	if err := os.WriteFile(filepath.Join(req.StagingDir, filename), []byte(req.URL), mockFilePerm); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}

	log.InfoContext(ctx, "simulated fetch done", slog.String("filename", filename))

	return nil
}
