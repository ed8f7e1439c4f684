// Package request holds HTTP request bodies and their validation.
package request

import (
	"strings"

	"ourtube/internal/consts"
	"ourtube/internal/errs"
	"ourtube/pkg/urls"
)

// StartDownload is the body of POST /api/downloads.
type StartDownload struct {
	URL     string `json:"url"`
	Format  string `json:"format"`  // mp4, any, mkv, thumbnail, mp3, m4a, opus, wav, flac
	Quality string `json:"quality"` // best, best_ios, worst, or a height such as 720p
}

// Normalize trims the fields and fills in the default format and quality.
func (s *StartDownload) Normalize() {
	s.URL = strings.TrimSpace(s.URL)
	s.Format = strings.TrimSpace(s.Format)
	s.Quality = strings.TrimSpace(s.Quality)

	if s.Format == "" {
		s.Format = consts.DefaultFormat
	}

	if s.Quality == "" {
		s.Quality = consts.DefaultQuality
	}
}

// Validate checks that the URL is an absolute http(s) URL.
func (s *StartDownload) Validate() error {
	if !urls.IsURLValid(s.URL) {
		return errs.ErrInvalidURL
	}

	return nil
}
