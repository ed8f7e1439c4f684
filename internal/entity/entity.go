// Package entity defines the core entities used in the application.
package entity

import (
	"log/slog"
	"net/url"
	"time"

	"ourtube/internal/consts"
)

// Stage represents the lifecycle stage of a download session.
type Stage string

const (
	// StageInitializing indicates that metadata for the URL is being resolved.
	StageInitializing Stage = "initializing"
	// StageDownloading indicates that the engine is transferring media.
	StageDownloading Stage = "downloading"
	// StageMerging indicates that the engine finished fetching and post-processing is settling.
	StageMerging Stage = "merging"
	// StageFinished indicates that the artifact is in the public directory.
	StageFinished Stage = "finished"
	// StageError indicates that the session failed.
	StageError Stage = "error"
)

// IsTerminal reports whether no further transition is allowed out of the stage.
func (s Stage) IsTerminal() bool {
	return s == StageFinished || s == StageError
}

// CanTransition reports whether the session state machine allows moving from s to next.
func (s Stage) CanTransition(next Stage) bool {
	if s.IsTerminal() {
		return false
	}

	if next == StageError {
		return true
	}

	switch s {
	case StageInitializing:
		return next == StageDownloading
	case StageDownloading:
		return next == StageMerging
	case StageMerging:
		return next == StageFinished
	default:
		return false
	}
}

// Session represents one requested download.
// Key is unique per request; ID is the engine's media ID and may repeat across sessions.
type Session struct {
	Key        string    `json:"key"`
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Format     string    `json:"format"`
	Quality    string    `json:"quality"`
	Stage      Stage     `json:"stage"`
	Title      string    `json:"title,omitempty"`
	Filename   string    `json:"filename,omitempty"`
	Error      string    `json:"error,omitempty"`
	StagingDir string    `json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (s Session) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("key", s.Key),
		slog.String("id", s.ID),
		slog.String("url", s.URL),
		slog.String("format", s.Format),
		slog.String("quality", s.Quality),
		slog.String("stage", string(s.Stage)),
		slog.String("title", s.Title),
		slog.String("filename", s.Filename),
		slog.String("error", s.Error),
	)
}

// EventType discriminates messages pushed to connected clients.
type EventType string

const (
	// EventProgress carries a point-in-time progress snapshot.
	EventProgress EventType = "progress"
	// EventFinished announces a successfully finalized session.
	EventFinished EventType = "finished"
	// EventError announces a failed session.
	EventError EventType = "error"
)

// Event is the JSON message broadcast over the persistent channel.
type Event struct {
	Type     EventType `json:"type"`
	ID       string    `json:"id,omitempty"`
	URL      string    `json:"url,omitempty"`
	Filename string    `json:"filename,omitempty"`
	Percent  string    `json:"percent,omitempty"`
	Speed    string    `json:"speed,omitempty"`
	ETA      string    `json:"eta,omitempty"`
	Status   string    `json:"status,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// ProgressEvent builds a progress message.
func ProgressEvent(id, filename, percent, speed, eta string, stage Stage) Event {
	return Event{
		Type:     EventProgress,
		ID:       id,
		Filename: filename,
		Percent:  percent,
		Speed:    speed,
		ETA:      eta,
		Status:   string(stage),
	}
}

// FinishedEvent builds the success terminal message.
func FinishedEvent(id string) Event {
	return Event{Type: EventFinished, ID: id, Status: string(StageFinished)}
}

// ErrorEvent builds the failure terminal message.
func ErrorEvent(id, url, errMsg string) Event {
	return Event{Type: EventError, ID: id, URL: url, Error: errMsg}
}

// IsTerminal reports whether the event ends a session.
func (e Event) IsTerminal() bool {
	return e.Type == EventFinished || e.Type == EventError
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (e Event) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("type", string(e.Type)),
		slog.String("id", e.ID),
		slog.String("status", e.Status),
		slog.String("percent", e.Percent),
		slog.String("speed", e.Speed),
		slog.String("eta", e.ETA),
		slog.String("error", e.Error),
	)
}

// File represents a finalized artifact in the public directory.
type File struct {
	Filename string    `json:"filename"`
	Size     int64     `json:"size"`
	URL      string    `json:"url"`
	ModTime  time.Time `json:"-"`
}

// NewFile describes a public file and builds its retrieval path.
func NewFile(filename string, size int64, modTime time.Time) File {
	return File{
		Filename: filename,
		Size:     size,
		URL:      consts.FilesRoute + url.PathEscape(filename),
		ModTime:  modTime,
	}
}
