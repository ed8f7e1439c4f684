// Package gen provides utility functions for generating values.
package gen

import (
	"fmt"

	"github.com/google/uuid"
)

const (
	sep = "|"

	// fallbackPrefix marks session IDs that were not provided by the engine.
	fallbackPrefix = "url-"
)

// Key generates a key based on the provided strings a and b.
func Key(a, b string) string {
	return fmt.Sprintf("%s%s%s", a, sep, b)
}

// UUIDv5 generates a UUIDv5 based on the provided strings a and b.
func UUIDv5(a, b string) string {
	key := Key(a, b)

	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String()
}

// FallbackID derives a stable session ID from the URL alone.
// It is used when the engine fails before it reports a media ID.
func FallbackID(url string) string {
	return fallbackPrefix + uuid.NewSHA1(uuid.NameSpaceURL, []byte(url)).String()
}

// StagingKey returns a unique directory name for one session's in-progress files.
func StagingKey() string {
	return uuid.NewString()
}
