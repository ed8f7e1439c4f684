// Package calc provides transfer arithmetic for progress reporting.
package calc

import (
	"math"
	"time"
)

// Percent returns downloaded/total as a percentage clamped to [0, 100].
func Percent(downloaded, total int) float64 {
	if total <= 0 || downloaded <= 0 {
		return 0
	}

	return math.Min(float64(downloaded)/float64(total)*100, 100) //nolint:mnd
}

// Speed returns the average transfer rate in bytes per second.
func Speed(downloaded int, elapsed time.Duration) float64 {
	if downloaded <= 0 || elapsed <= 0 {
		return 0
	}

	return float64(downloaded) / elapsed.Seconds()
}

// ETA estimates the remaining time from the average rate so far.
// It returns 0 when the total is unknown or nothing was transferred yet.
func ETA(downloaded, total int, elapsed time.Duration) time.Duration {
	if total <= 0 || downloaded <= 0 || downloaded >= total {
		return 0
	}

	return time.Duration(float64(elapsed) * (float64(total)/float64(downloaded) - 1))
}
