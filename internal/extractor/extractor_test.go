package extractor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lrstanley/go-ytdlp"
)

func TestTransferFormat(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		transfer Transfer
		now      time.Time
		want     Progress
	}{
		{
			name: "half way",
			transfer: Transfer{
				Filename:   "abc.f137.mp4",
				Downloaded: 10 << 20,
				Total:      20 << 20,
				Started:    start,
			},
			now: start.Add(10 * time.Second),
			want: Progress{
				Filename: "abc.f137.mp4",
				Percent:  "50.0%",
				Speed:    "1.0 MiB/s",
				ETA:      "00:10",
			},
		},
		{
			name:     "nothing yet",
			transfer: Transfer{Total: 100, Started: start},
			now:      start,
			want:     Progress{Percent: "0.0%", Speed: unknown, ETA: unknown},
		},
		{
			name: "fragments without total",
			transfer: Transfer{
				Downloaded:    1 << 20,
				FragmentIndex: 3,
				FragmentCount: 12,
				Started:       start,
			},
			now:  start.Add(time.Second),
			want: Progress{Percent: "25.0%", Speed: "1.0 MiB/s", ETA: unknown},
		},
		{
			name: "long eta",
			transfer: Transfer{
				Downloaded: 1 << 20,
				Total:      3601 << 20,
				Started:    start,
			},
			now:  start.Add(time.Second),
			want: Progress{Percent: "0.0%", Speed: "1.0 MiB/s", ETA: "01:00:00"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := tc.transfer.Format(tc.now); got != tc.want {
				t.Errorf("Format() = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestFormatETA(t *testing.T) {
	t.Parallel()

	tests := map[time.Duration]string{
		0:                                 unknown,
		-time.Second:                      unknown,
		31 * time.Second:                  "00:31",
		90 * time.Second:                  "01:30",
		2*time.Hour + 3*time.Minute + 4e9: "02:03:04",
	}

	for in, want := range tests {
		if got := formatETA(in); got != want {
			t.Errorf("formatETA(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestErrorType(t *testing.T) {
	t.Parallel()

	tests := map[error]string{
		context.Canceled:                               "canceled",
		fmt.Errorf("run: %w", context.DeadlineExceeded): "timeout",
		errors.New("exit status 1"):                     "process",
	}

	for err, want := range tests {
		if got := errorType(err); got != want {
			t.Errorf("errorType(%v) = %q, want %q", err, got, want)
		}
	}
}

func TestMediaFromInfo(t *testing.T) {
	t.Parallel()

	title := "My: Video?"

	media, ok := mediaFromInfo([]*ytdlp.ExtractedInfo{nil, {ID: ""}, {ID: "abc123", Title: &title}})
	if !ok {
		t.Fatal("expected media")
	}

	if media.ID != "abc123" || media.Title != title {
		t.Errorf("got %+v", media)
	}

	if _, ok := mediaFromInfo(nil); ok {
		t.Error("expected no media for empty info")
	}
}

func TestTransferFromUpdate(t *testing.T) {
	t.Parallel()

	started := time.Now()

	got := transferFromUpdate(ytdlp.ProgressUpdate{
		Filename:        "/data/staging/x/abc123.f399.mp4",
		DownloadedBytes: 10,
		TotalBytes:      100,
		FragmentIndex:   1,
		FragmentCount:   4,
		Started:         started,
	})

	want := Transfer{
		Filename:      "abc123.f399.mp4",
		Downloaded:    10,
		Total:         100,
		FragmentIndex: 1,
		FragmentCount: 4,
		Started:       started,
	}

	if got != want {
		t.Errorf("transferFromUpdate() = %+v, want %+v", got, want)
	}
}

func TestEngineMessage(t *testing.T) {
	t.Parallel()

	res := &ytdlp.Result{
		Stderr: "WARNING: something\nERROR: [generic] Unsupported URL: https://example.com\n",
	}

	if got := engineMessage(res, errors.New("exit status 1")); got != "[generic] Unsupported URL: https://example.com" {
		t.Errorf("engineMessage() = %q", got)
	}

	if got := engineMessage(nil, errors.New("exit status 1")); got != "exit status 1" {
		t.Errorf("engineMessage(nil) = %q", got)
	}
}
