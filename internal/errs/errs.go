// Package errs defines common error variables used across the application.
package errs

import "errors"

var (
	// ErrServiceClosed indicates that the service is closed and cannot accept new sessions.
	ErrServiceClosed = errors.New("service is closed")
	// ErrInvalidRequestBody indicates that the request body is invalid or cannot be parsed.
	ErrInvalidRequestBody = errors.New("invalid request body")
)

// Valid request errors.
var (
	// ErrInvalidURL indicates that the URL field in the request is invalid.
	ErrInvalidURL = errors.New("invalid url field")
	// ErrInvalidFilename indicates that a filename escapes the public directory or is hidden.
	ErrInvalidFilename = errors.New("invalid filename")
)

// Session errors.
var (
	// ErrSessionNotFound indicates that no in-flight session has the given ID.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionCancelled indicates that the session was cancelled before completion.
	ErrSessionCancelled = errors.New("session cancelled")
	// ErrInvalidTransition indicates a stage change the session state machine does not allow.
	ErrInvalidTransition = errors.New("invalid stage transition")
)

// Extraction and finalization errors.
var (
	// ErrExtractionFailed indicates that the engine could not resolve or fetch the URL.
	ErrExtractionFailed = errors.New("extraction failed")
	// ErrArtifactNotFound indicates that the engine reported success but no staged file exists.
	ErrArtifactNotFound = errors.New("artifact not found")
	// ErrFinalize indicates a filesystem failure while moving the artifact to the public directory.
	ErrFinalize = errors.New("finalize artifact")
	// ErrFileNotFound indicates that the file is absent from the public directory.
	ErrFileNotFound = errors.New("file not found")
	// ErrMirrorFailed indicates that uploading the artifact to the mirror failed.
	ErrMirrorFailed = errors.New("mirror upload failed")
)

// Toolchain errors.
var (
	// ErrBinaryNotFound indicates that the required binary was not found.
	ErrBinaryNotFound = errors.New("binary not found")
	// ErrUnsupportedPlatform indicates that the current platform is not supported.
	ErrUnsupportedPlatform = errors.New("unsupported platform")
)

// Proxy errors.
var (
	// ErrInvalidProxy indicates a configured proxy URL without a dialable host.
	ErrInvalidProxy = errors.New("invalid proxy url")
)
