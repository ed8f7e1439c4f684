package extractor

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"ourtube/internal/consts"
)

// Format tokens with special handling.
const (
	FormatThumbnail = "thumbnail"
	FormatAny       = "any"
	FormatMP4       = "mp4"
)

// Quality tokens.
const (
	QualityBest    = "best"
	QualityBestIOS = "best_ios"
	QualityWorst   = "worst"
)

// Format selectors passed to the engine.
const (
	selectorAudio   = "bestaudio/best"
	selectorBest    = "bestvideo+bestaudio/best"
	selectorBestIOS = "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best"
	selectorWorst   = "worstvideo+worstaudio/worst"
	selectorHeight  = "bestvideo[height<=%d]+bestaudio/best[height<=%d]"
)

// DefaultAudioQuality is the target quality handed to the audio post-processor.
const DefaultAudioQuality = "192"

var (
	audioCodecs = []string{"mp3", "m4a", "opus", "wav", "flac"}

	// containers the engine can remux into on request
	mergeContainers = []string{"mkv", "webm", "mov", "flv"}

	thumbnailExts = []string{"jpg", "webp", "png", "jpeg"}

	// fallbackExts covers engine-side remuxing to a container other than the requested one.
	fallbackExts = []string{"mp4", "mkv", "webm", "mov", "m4a", "mp3", "opus", "ogg", "wav", "flac"}
)

// Plan is the engine configuration derived from a (format, quality) request.
type Plan struct {
	Format  string
	Quality string

	// Selector is the engine format selector; empty for thumbnails.
	Selector string
	// MergeFormat forces the output container; empty keeps the engine's native one.
	MergeFormat string

	ExtractAudio bool
	AudioCodec   string
	AudioQuality string

	ThumbnailOnly bool

	// Extensions lists candidate artifact extensions, request-specific first.
	Extensions []string
}

// NewPlan maps a format and quality token to an engine plan.
// The mapping is pure: equal inputs always give equal plans.
func NewPlan(format, quality string) Plan {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = consts.DefaultFormat
	}

	quality = strings.ToLower(strings.TrimSpace(quality))
	if quality == "" {
		quality = consts.DefaultQuality
	}

	plan := Plan{Format: format, Quality: quality}

	switch {
	case format == FormatThumbnail:
		plan.ThumbnailOnly = true
		plan.Extensions = slices.Clone(thumbnailExts)
	case IsAudioFormat(format):
		plan.Selector = selectorAudio
		plan.ExtractAudio = true
		plan.AudioCodec = format
		plan.AudioQuality = DefaultAudioQuality
		plan.Extensions = candidates(format)
	default:
		plan.Selector = VideoSelector(quality)
		plan.MergeFormat = mergeFormat(format)
		plan.Extensions = candidates(plan.MergeFormat)
	}

	return plan
}

// IsAudioFormat reports whether the token requests audio-only extraction.
func IsAudioFormat(format string) bool {
	return slices.Contains(audioCodecs, format)
}

// VideoSelector returns the engine selector for a video quality token.
func VideoSelector(quality string) string {
	switch quality {
	case QualityBest:
		return selectorBest
	case QualityBestIOS:
		return selectorBestIOS
	case QualityWorst:
		return selectorWorst
	}

	if height, ok := parseHeight(quality); ok {
		return fmt.Sprintf(selectorHeight, height, height)
	}

	return selectorBest
}

// parseHeight parses tokens like "720p".
func parseHeight(quality string) (int, bool) {
	digits, ok := strings.CutSuffix(quality, "p")
	if !ok || digits == "" {
		return 0, false
	}

	height, err := strconv.Atoi(digits)
	if err != nil || height <= 0 {
		return 0, false
	}

	return height, true
}

func mergeFormat(format string) string {
	switch {
	case format == FormatMP4 || format == FormatAny:
		return FormatMP4
	case slices.Contains(mergeContainers, format):
		return format
	default:
		return ""
	}
}

func candidates(first string) []string {
	exts := make([]string, 0, len(fallbackExts)+1)
	if first != "" {
		exts = append(exts, first)
	}

	for _, ext := range fallbackExts {
		if ext != first {
			exts = append(exts, ext)
		}
	}

	return exts
}
