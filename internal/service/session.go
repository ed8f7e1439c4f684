package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"ourtube/internal/entity"
	"ourtube/internal/errs"
	"ourtube/internal/extractor"
)

// Labels of the synthetic progress events.
const (
	initPercent = "0%"
	initSpeed   = "Connecting..."
	initETA     = "Preparing..."

	mergePercent = "99%"
	mergeSpeed   = "Processing"
	mergeETA     = "Finalizing File..."

	stagingDirPerm = 0o755
)

// run drives one session through its stages. Only its own goroutine and the
// engine's progress callback touch it; mu serializes the two.
type run struct {
	svc  *service
	plan extractor.Plan
	log  *slog.Logger

	mu       sync.Mutex
	sess     entity.Session
	terminal bool
}

func newRun(svc *service, sess entity.Session, plan extractor.Plan) *run {
	return &run{
		svc:  svc,
		plan: plan,
		sess: sess,
		log:  svc.log.With(slog.String("session", sess.Key), slog.String("url", sess.URL)),
	}
}

// execute never panics and always ends with exactly one terminal event.
func (r *run) execute(ctx context.Context) {
	defer r.cleanup()

	defer func() {
		if p := recover(); p != nil {
			r.log.ErrorContext(ctx, "session panicked", slog.Any("panic", p))
			r.fail(ctx, fmt.Errorf("internal error: %v", p), "panic")
		}
	}()

	file, reason, err := r.process(ctx)
	if err != nil {
		if ctx.Err() != nil {
			err, reason = errs.ErrSessionCancelled, "canceled"
		}

		r.fail(ctx, err, reason)

		return
	}

	if r.finish(ctx, file) {
		r.mirror(ctx, file)
	}
}

// process runs the stages and returns the published file, or the failure and its metric reason.
func (r *run) process(ctx context.Context) (entity.File, string, error) {
	svc := r.svc

	media, err := svc.engine.Probe(ctx, r.sess.URL)
	if err != nil {
		return entity.File{}, "probe", err
	}

	r.update(ctx, func(s *entity.Session) {
		s.ID = media.ID
		s.Title = media.Title
	})

	r.emit(entity.ProgressEvent(media.ID, media.Title, initPercent, initSpeed, initETA, entity.StageInitializing))

	if err := r.transition(ctx, entity.StageDownloading); err != nil {
		return entity.File{}, "state", err
	}

	if err := os.MkdirAll(r.sess.StagingDir, stagingDirPerm); err != nil {
		return entity.File{}, "staging", fmt.Errorf("create staging dir: %w", err)
	}

	onProgress := func(p extractor.Progress) {
		r.emit(entity.ProgressEvent(media.ID, p.Filename, p.Percent, p.Speed, p.ETA, entity.StageDownloading))
	}

	err = svc.engine.Fetch(ctx, extractor.FetchRequest{
		URL:        r.sess.URL,
		Plan:       r.plan,
		StagingDir: r.sess.StagingDir,
	}, onProgress)
	if err != nil {
		return entity.File{}, "fetch", err
	}

	if err := r.transition(ctx, entity.StageMerging); err != nil {
		return entity.File{}, "state", err
	}

	r.emit(entity.ProgressEvent(media.ID, "", mergePercent, mergeSpeed, mergeETA, entity.StageMerging))

	// post-processing may still be writing after the engine exits
	if err := sleep(ctx, svc.cfg.Session.SettleDelay); err != nil {
		return entity.File{}, "canceled", err
	}

	src, err := svc.finalizer.Locate(ctx, r.sess.StagingDir, media.ID, r.plan.Extensions)
	if err != nil {
		return entity.File{}, "artifact_not_found", err
	}

	file, err := svc.finalizer.Finalize(ctx, src, media.Title, media.ID)
	if err != nil {
		return entity.File{}, "finalize", err
	}

	r.update(ctx, func(s *entity.Session) { s.Filename = file.Filename })

	return file, "", nil
}

func (r *run) finish(ctx context.Context, file entity.File) bool {
	if err := r.transition(ctx, entity.StageFinished); err != nil {
		r.fail(ctx, err, "state")

		return false
	}

	r.emit(entity.FinishedEvent(r.id()))

	if r.svc.metrics != nil {
		r.svc.metrics.RecordSessionFinished(file.Size)
	}

	r.log.InfoContext(ctx, "session finished", slog.String("filename", file.Filename), slog.Int64("size", file.Size))

	return true
}

// mirror copies the published file after clients were told it is ready.
// A failed copy does not change the session outcome.
func (r *run) mirror(ctx context.Context, file entity.File) {
	if r.svc.mirror == nil {
		return
	}

	if err := r.svc.mirror.Upload(ctx, filepath.Join(r.svc.publicDir, file.Filename), file.Filename); err != nil {
		r.log.WarnContext(ctx, "mirror upload failed", slog.Any("error", err))
	}
}

func (r *run) fail(ctx context.Context, err error, reason string) {
	r.mu.Lock()
	done := r.terminal
	r.mu.Unlock()

	if done {
		r.log.WarnContext(ctx, "failure after terminal event", slog.Any("error", err))

		return
	}

	r.update(ctx, func(s *entity.Session) {
		s.Stage = entity.StageError
		s.Error = err.Error()
	})

	r.emit(entity.ErrorEvent(r.id(), r.sess.URL, err.Error()))

	if r.svc.metrics != nil {
		r.svc.metrics.RecordSessionFailed(reason)
	}

	r.log.ErrorContext(ctx, "session failed", slog.String("reason", reason), slog.Any("error", err))
}

// emit broadcasts ev unless a terminal event was already sent.
func (r *run) emit(ev entity.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.terminal {
		return
	}

	if ev.IsTerminal() {
		r.terminal = true
	}

	r.svc.hub.Broadcast(ev)
}

func (r *run) transition(ctx context.Context, next entity.Stage) error {
	r.mu.Lock()
	cur := r.sess.Stage
	r.mu.Unlock()

	if !cur.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", errs.ErrInvalidTransition, cur, next)
	}

	r.update(ctx, func(s *entity.Session) { s.Stage = next })

	return nil
}

// update applies fn to the local session and mirrors it into the registry.
func (r *run) update(ctx context.Context, fn func(*entity.Session)) {
	r.mu.Lock()
	fn(&r.sess)
	r.sess.UpdatedAt = time.Now()
	r.mu.Unlock()

	r.svc.storer.UpdateSession(ctx, r.sess.Key, func(s *entity.Session) {
		fn(s)
		s.UpdatedAt = r.sess.UpdatedAt
	})
}

func (r *run) id() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.sess.ID
}

func (r *run) cleanup() {
	ctx := context.Background()

	if err := os.RemoveAll(r.sess.StagingDir); err != nil && !errors.Is(err, os.ErrNotExist) {
		r.log.WarnContext(ctx, "remove staging dir", slog.Any("error", err))
	}

	r.svc.storer.DeleteSession(ctx, r.sess.Key)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
