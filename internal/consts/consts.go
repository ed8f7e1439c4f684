// Package consts defines application-wide constants.
package consts

import "time"

const (
	// DefaultHandlerTimeout is the default timeout for HTTP handlers.
	DefaultHandlerTimeout = 30 * time.Second
	// DefaultSimulateTime is the default time to simulate processing in the mock engine.
	DefaultSimulateTime = 1 * time.Second
	// DefaultFormat is used when a start request omits the format.
	DefaultFormat = "mp4"
	// DefaultQuality is used when a start request omits the quality.
	DefaultQuality = "best"
	// FilesRoute is the mount point of the public directory.
	FilesRoute = "/files/"
)

// HTTP response messages.
const (
	// RespInvalidRequestBody is returned when the request body is invalid.
	RespInvalidRequestBody = "invalid request body"
	// RespPathParamMissing is returned when a required path parameter is missing or invalid.
	RespPathParamMissing = "path param missing or invalid"
	// RespUnprocessableEntity is returned when the request cannot be processed.
	RespUnprocessableEntity = "unprocessable entity"
	// RespDownloadStarted is returned when a session is launched.
	RespDownloadStarted = "started"
	// RespDownloadStartFail is returned when a session cannot be launched.
	RespDownloadStartFail = "download start failed"
	// RespListFilesFail is returned when the public directory cannot be listed.
	RespListFilesFail = "list files failed"
	// RespFileDeleted is returned when a file is removed.
	RespFileDeleted = "deleted"
	// RespFileNotFound is returned when a file is not found.
	RespFileNotFound = "File not found"
	// RespDeleteFileFail is returned when removing a file fails.
	RespDeleteFileFail = "delete file failed"
	// RespSessionNotFound is returned when a session is not found.
	RespSessionNotFound = "session not found"
	// RespSessionCancelled is returned when a session is cancelled.
	RespSessionCancelled = "cancelled"
	// RespBackendRunning is returned by the status route.
	RespBackendRunning = "OurTube Backend Running"
)

// Engine identifiers.
const (
	// EngineYTdlp is the yt-dlp engine identifier.
	EngineYTdlp = "ytdlp"
	// EngineMock is the mock engine identifier for testing.
	EngineMock = "mock"
)
