// Package extractor wraps the external media engine behind a small interface.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ourtube/pkg/calc"

	"github.com/dustin/go-humanize"
)

const (
	defaultProgressFreq = 500 * time.Millisecond

	// unknown is shown when a transfer figure cannot be computed yet.
	unknown = "N/A"
)

// Extractor resolves media metadata and fetches media into a staging directory.
type Extractor interface {
	// Probe resolves the media ID and title without downloading anything.
	Probe(ctx context.Context, url string) (Media, error)
	// Fetch downloads the media described by req, reporting progress through onProgress.
	// It blocks until the engine exits.
	Fetch(ctx context.Context, req FetchRequest, onProgress ProgressFunc) error
}

// Media is the engine's view of a URL.
type Media struct {
	ID    string
	Title string
}

// FetchRequest describes one engine run.
type FetchRequest struct {
	URL        string
	Plan       Plan
	StagingDir string
}

// Progress is a point-in-time transfer snapshot already formatted for clients.
type Progress struct {
	Filename string
	Percent  string
	Speed    string
	ETA      string
}

// ProgressFunc receives progress snapshots. It is called from the goroutine running Fetch.
type ProgressFunc func(Progress)

// Transfer holds raw transfer counters reported by an engine.
type Transfer struct {
	Filename      string
	Downloaded    int
	Total         int
	FragmentIndex int
	FragmentCount int
	Started       time.Time
}

// Format turns raw counters into a client-facing snapshot as of now.
func (t Transfer) Format(now time.Time) Progress {
	elapsed := now.Sub(t.Started)
	if t.Started.IsZero() || elapsed < 0 {
		elapsed = 0
	}

	percent := calc.Percent(t.Downloaded, t.Total)
	if t.Total <= 0 && t.FragmentCount > 0 {
		percent = calc.Percent(t.FragmentIndex, t.FragmentCount)
	}

	return Progress{
		Filename: t.Filename,
		Percent:  fmt.Sprintf("%.1f%%", percent),
		Speed:    formatSpeed(calc.Speed(t.Downloaded, elapsed)),
		ETA:      formatETA(calc.ETA(t.Downloaded, t.Total, elapsed)),
	}
}

func formatSpeed(bytesPerSec float64) string {
	if bytesPerSec <= 0 {
		return unknown
	}

	return humanize.IBytes(uint64(bytesPerSec)) + "/s"
}

// formatETA renders d as MM:SS, or HH:MM:SS past one hour.
func formatETA(d time.Duration) string {
	if d <= 0 {
		return unknown
	}

	secs := int(d.Round(time.Second).Seconds())
	h, m, s := secs/3600, secs/60%60, secs%60 //nolint:mnd

	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}

	return fmt.Sprintf("%02d:%02d", m, s)
}

// errorType classifies engine failures for metrics.
func errorType(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "process"
	}
}
