package service_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"ourtube/internal/config"
	"ourtube/internal/entity"
	"ourtube/internal/errs"
	"ourtube/internal/extractor"
	"ourtube/internal/finalizer"
	"ourtube/internal/observability"
	"ourtube/internal/service"
	"ourtube/internal/storage"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type recorder struct {
	mu     sync.Mutex
	events []entity.Event
}

func (r *recorder) Broadcast(ev entity.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []entity.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]entity.Event(nil), r.events...)
}

func (r *recorder) terminal() []entity.Event {
	var out []entity.Event

	for _, ev := range r.snapshot() {
		if ev.IsTerminal() {
			out = append(out, ev)
		}
	}

	return out
}

// fakeEngine delegates to the configured funcs.
type fakeEngine struct {
	probe func(ctx context.Context, url string) (extractor.Media, error)
	fetch func(ctx context.Context, req extractor.FetchRequest, onProgress extractor.ProgressFunc) error
}

func (e *fakeEngine) Probe(ctx context.Context, url string) (extractor.Media, error) {
	if e.probe == nil {
		return extractor.Media{ID: "abc123", Title: "Clip"}, nil
	}

	return e.probe(ctx, url)
}

func (e *fakeEngine) Fetch(ctx context.Context, req extractor.FetchRequest, onProgress extractor.ProgressFunc) error {
	return e.fetch(ctx, req, onProgress)
}

type fixture struct {
	svc     service.Session
	rec     *recorder
	storer  storage.Storer
	metrics *observability.Metrics
	cfg     *config.Config
}

func newFixture(t *testing.T, engine extractor.Extractor) *fixture {
	t.Helper()

	return newMirroredFixture(t, engine, nil)
}

func newMirroredFixture(t *testing.T, engine extractor.Extractor, mirror service.Mirror) *fixture {
	t.Helper()

	base := t.TempDir()
	cfg := &config.Config{
		Dir: config.Dir{
			Public:  filepath.Join(base, "downloads"),
			Staging: filepath.Join(base, "staging"),
		},
		Session: config.Session{
			SettleDelay:  2 * time.Second,
			ArtifactWait: 3 * time.Second,
			PollInterval: time.Second,
		},
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := &recorder{}
	storer := storage.New(log)
	metrics := observability.New(nil)

	svc := service.New(t.Context(), log, cfg, service.Deps{
		Engine:    engine,
		Finalizer: finalizer.New(log, cfg),
		Mirror:    mirror,
		Storer:    storer,
		Hub:       rec,
		Metrics:   metrics,
	})

	return &fixture{svc: svc, rec: rec, storer: storer, metrics: metrics, cfg: cfg}
}

func (f *fixture) shutdown(t *testing.T) {
	t.Helper()

	if err := f.svc.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

// settle lets every session in the bubble run to completion.
func settle() {
	time.Sleep(time.Minute)
	synctest.Wait()
}

func TestStartFinishes(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		log := slog.New(slog.NewTextHandler(io.Discard, nil))
		f := newFixture(t, extractor.NewMock(log, time.Second))

		sess, err := f.svc.Start(t.Context(), " https://example.com/clip ", "", "")
		if err != nil {
			t.Fatalf("Start: %v", err)
		}

		if sess.URL != "https://example.com/clip" || sess.Stage != entity.StageInitializing {
			t.Fatalf("session = %+v", sess)
		}

		if sess.Format != "mp4" || sess.Quality != "best" {
			t.Errorf("defaults = %q/%q, want mp4/best", sess.Format, sess.Quality)
		}

		settle()

		events := f.rec.snapshot()
		if len(events) < 4 {
			t.Fatalf("got %d events, want at least 4", len(events))
		}

		first := events[0]
		if first.Type != entity.EventProgress || first.Percent != "0%" || first.Status != string(entity.StageInitializing) {
			t.Errorf("first event = %+v", first)
		}

		if first.Filename != "clip" {
			t.Errorf("first event filename = %q, want the title", first.Filename)
		}

		merging := events[len(events)-2]
		if merging.Percent != "99%" || merging.Status != string(entity.StageMerging) {
			t.Errorf("merging event = %+v", merging)
		}

		last := events[len(events)-1]
		if last.Type != entity.EventFinished || last.ID != first.ID {
			t.Errorf("last event = %+v, want finished for %q", last, first.ID)
		}

		for _, ev := range events[1 : len(events)-2] {
			if ev.Status != string(entity.StageDownloading) || ev.ID != first.ID {
				t.Errorf("unexpected event between init and merge: %+v", ev)
			}
		}

		if got := len(f.rec.terminal()); got != 1 {
			t.Errorf("terminal events = %d, want 1", got)
		}

		if _, err := os.Stat(filepath.Join(f.cfg.Dir.Public, "clip.mp4")); err != nil {
			t.Errorf("published file: %v", err)
		}

		if _, err := os.Stat(filepath.Join(f.cfg.Dir.Staging, sess.Key)); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("staging dir still present: %v", err)
		}

		if active := f.svc.Active(t.Context()); len(active) != 0 {
			t.Errorf("active sessions = %d, want 0", len(active))
		}

		if got := testutil.ToFloat64(f.metrics.SessionsFinished); got != 1 {
			t.Errorf("finished metric = %v, want 1", got)
		}

		f.shutdown(t)
	})
}

func TestStartEngineFailure(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		log := slog.New(slog.NewTextHandler(io.Discard, nil))
		f := newFixture(t, extractor.NewMock(log, time.Second))

		const url = "https://" + extractor.MockFailHost + "/watch"

		if _, err := f.svc.Start(t.Context(), url, "mp4", "720p"); err != nil {
			t.Fatalf("Start: %v", err)
		}

		settle()

		terminal := f.rec.terminal()
		if len(terminal) != 1 {
			t.Fatalf("terminal events = %+v, want exactly one", terminal)
		}

		ev := terminal[0]
		if ev.Type != entity.EventError || ev.URL != url || ev.ID == "" {
			t.Errorf("terminal event = %+v", ev)
		}

		if !strings.Contains(ev.Error, errs.ErrExtractionFailed.Error()) {
			t.Errorf("error = %q", ev.Error)
		}

		if got := testutil.ToFloat64(f.metrics.SessionsFailed.WithLabelValues("fetch")); got != 1 {
			t.Errorf("failed{fetch} = %v, want 1", got)
		}

		f.shutdown(t)
	})
}

func TestStartProbeFailureUsesFallbackID(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, &fakeEngine{
			probe: func(context.Context, string) (extractor.Media, error) {
				return extractor.Media{}, errs.ErrExtractionFailed
			},
		})

		sess, err := f.svc.Start(t.Context(), "https://example.com/gone", "", "")
		if err != nil {
			t.Fatalf("Start: %v", err)
		}

		settle()

		events := f.rec.snapshot()
		if len(events) != 1 {
			t.Fatalf("events = %+v, want a single error", events)
		}

		if events[0].Type != entity.EventError || events[0].ID != sess.ID || !strings.HasPrefix(sess.ID, "url-") {
			t.Errorf("event = %+v, session id %q", events[0], sess.ID)
		}

		f.shutdown(t)
	})
}

func TestCancel(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, &fakeEngine{
			fetch: func(ctx context.Context, _ extractor.FetchRequest, _ extractor.ProgressFunc) error {
				<-ctx.Done()

				return ctx.Err()
			},
		})

		sess, err := f.svc.Start(t.Context(), "https://example.com/long", "", "")
		if err != nil {
			t.Fatalf("Start: %v", err)
		}

		synctest.Wait()

		active := f.svc.Active(t.Context())
		if len(active) != 1 || active[0].Stage != entity.StageDownloading || active[0].ID != "abc123" {
			t.Fatalf("active = %+v", active)
		}

		if err := f.svc.Cancel(t.Context(), "abc123"); err != nil {
			t.Fatalf("Cancel: %v", err)
		}

		synctest.Wait()

		terminal := f.rec.terminal()
		if len(terminal) != 1 || terminal[0].Error != errs.ErrSessionCancelled.Error() {
			t.Fatalf("terminal = %+v", terminal)
		}

		if err := f.svc.Cancel(t.Context(), sess.Key); !errors.Is(err, errs.ErrSessionNotFound) {
			t.Errorf("second Cancel = %v, want ErrSessionNotFound", err)
		}

		f.shutdown(t)
	})
}

func TestArtifactNotFound(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, &fakeEngine{
			fetch: func(context.Context, extractor.FetchRequest, extractor.ProgressFunc) error {
				return nil
			},
		})

		if _, err := f.svc.Start(t.Context(), "https://example.com/empty", "webm", ""); err != nil {
			t.Fatalf("Start: %v", err)
		}

		settle()

		terminal := f.rec.terminal()
		if len(terminal) != 1 || terminal[0].Type != entity.EventError {
			t.Fatalf("terminal = %+v", terminal)
		}

		if !strings.Contains(terminal[0].Error, errs.ErrArtifactNotFound.Error()) {
			t.Errorf("error = %q", terminal[0].Error)
		}

		f.shutdown(t)
	})
}

func TestPanicIsContained(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, &fakeEngine{
			fetch: func(_ context.Context, _ extractor.FetchRequest, onProgress extractor.ProgressFunc) error {
				onProgress(extractor.Progress{Percent: "10.0%"})
				panic("engine exploded")
			},
		})

		if _, err := f.svc.Start(t.Context(), "https://example.com/boom", "", ""); err != nil {
			t.Fatalf("Start: %v", err)
		}

		settle()

		terminal := f.rec.terminal()
		if len(terminal) != 1 || !strings.Contains(terminal[0].Error, "engine exploded") {
			t.Fatalf("terminal = %+v", terminal)
		}

		if active := f.svc.Active(t.Context()); len(active) != 0 {
			t.Errorf("active = %+v", active)
		}

		f.shutdown(t)
	})
}

func TestLateProgressIsDropped(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var late extractor.ProgressFunc

		f := newFixture(t, &fakeEngine{
			fetch: func(_ context.Context, _ extractor.FetchRequest, onProgress extractor.ProgressFunc) error {
				late = onProgress

				return errs.ErrExtractionFailed
			},
		})

		if _, err := f.svc.Start(t.Context(), "https://example.com/late", "", ""); err != nil {
			t.Fatalf("Start: %v", err)
		}

		settle()

		before := len(f.rec.snapshot())
		late(extractor.Progress{Percent: "50.0%"})

		events := f.rec.snapshot()
		if len(events) != before || !events[len(events)-1].IsTerminal() {
			t.Errorf("event after terminal was broadcast: %+v", events)
		}

		f.shutdown(t)
	})
}

func TestStartRejects(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, &fakeEngine{})

		if _, err := f.svc.Start(t.Context(), "ftp://example.com/x", "", ""); !errors.Is(err, errs.ErrInvalidURL) {
			t.Errorf("Start(ftp) = %v, want ErrInvalidURL", err)
		}

		f.shutdown(t)

		if _, err := f.svc.Start(t.Context(), "https://example.com/x", "", ""); !errors.Is(err, errs.ErrServiceClosed) {
			t.Errorf("Start after Shutdown = %v, want ErrServiceClosed", err)
		}

		if len(f.rec.snapshot()) != 0 {
			t.Errorf("rejected starts broadcast events")
		}
	})
}

func TestShutdownCancelsRunning(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, &fakeEngine{
			fetch: func(ctx context.Context, _ extractor.FetchRequest, _ extractor.ProgressFunc) error {
				<-ctx.Done()

				return ctx.Err()
			},
		})

		for _, u := range []string{"https://example.com/a", "https://example.com/b"} {
			if _, err := f.svc.Start(t.Context(), u, "", ""); err != nil {
				t.Fatalf("Start(%s): %v", u, err)
			}
		}

		synctest.Wait()
		f.shutdown(t)

		if got := len(f.rec.terminal()); got != 2 {
			t.Errorf("terminal events = %d, want 2", got)
		}
	})
}

// blockingMirror holds every upload until released and records what clients had seen by then.
type blockingMirror struct {
	rec      *recorder
	release  chan struct{}
	mu       sync.Mutex
	names    []string
	terminal []entity.Event
}

func (m *blockingMirror) Upload(ctx context.Context, path, name string) error {
	m.mu.Lock()
	m.terminal = m.rec.terminal()
	m.mu.Unlock()

	if _, err := os.Stat(path); err != nil {
		return err
	}

	select {
	case <-m.release:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.mu.Lock()
	m.names = append(m.names, name)
	m.mu.Unlock()

	return nil
}

func TestFinishedBeforeMirrorUpload(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		log := slog.New(slog.NewTextHandler(io.Discard, nil))
		mirror := &blockingMirror{release: make(chan struct{})}
		f := newMirroredFixture(t, extractor.NewMock(log, time.Second), mirror)
		mirror.rec = f.rec

		if _, err := f.svc.Start(t.Context(), "https://example.com/clip", "mp4", "best"); err != nil {
			t.Fatalf("Start: %v", err)
		}

		settle()

		// the upload is still blocked, yet clients already have the terminal event
		terminal := f.rec.terminal()
		if len(terminal) != 1 || terminal[0].Type != entity.EventFinished {
			t.Fatalf("terminal events while uploading = %+v", terminal)
		}

		mirror.mu.Lock()
		seen := mirror.terminal
		mirror.mu.Unlock()

		if len(seen) != 1 || seen[0].Type != entity.EventFinished {
			t.Errorf("terminal events seen by the upload = %+v", seen)
		}

		close(mirror.release)
		settle()

		mirror.mu.Lock()
		names := mirror.names
		mirror.mu.Unlock()

		if len(names) != 1 || names[0] != "clip.mp4" {
			t.Errorf("uploaded %v, want [clip.mp4]", names)
		}

		if got := len(f.rec.terminal()); got != 1 {
			t.Errorf("terminal events = %d, want 1", got)
		}

		f.shutdown(t)
	})
}
