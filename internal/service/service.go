// Package service runs download sessions and announces their progress.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"ourtube/internal/config"
	"ourtube/internal/entity"
	"ourtube/internal/errs"
	"ourtube/internal/extractor"
	"ourtube/internal/observability"
	"ourtube/internal/storage"
	"ourtube/pkg/gen"
	"ourtube/pkg/urls"
)

// Broadcaster delivers events to connected clients without blocking on any one of them.
type Broadcaster interface {
	Broadcast(ev entity.Event)
}

// Finalizer publishes staged artifacts.
type Finalizer interface {
	Locate(ctx context.Context, dir, id string, exts []string) (string, error)
	Finalize(ctx context.Context, src, title, fallback string) (entity.File, error)
}

// Mirror copies a published file elsewhere.
type Mirror interface {
	Upload(ctx context.Context, path, name string) error
}

// Session manages download sessions.
type Session interface {
	// Start launches a session and returns without waiting for it.
	Start(ctx context.Context, url, format, quality string) (entity.Session, error)
	// Cancel stops in-flight sessions matching a session key or media ID.
	Cancel(ctx context.Context, id string) error
	// Active lists in-flight sessions.
	Active(ctx context.Context) []entity.Session
	// Shutdown refuses new sessions, cancels running ones and waits for them to finish.
	Shutdown(ctx context.Context) error
}

var _ Session = (*service)(nil)

type service struct {
	log       *slog.Logger
	cfg       *config.Config
	engine    extractor.Extractor
	finalizer Finalizer
	mirror    Mirror
	storer    storage.Storer
	hub       Broadcaster
	metrics   *observability.Metrics
	publicDir string

	// sessions outlive the request that started them
	rootCtx    context.Context
	rootCancel context.CancelFunc

	wg     sync.WaitGroup
	closed atomic.Bool
}

// Deps groups the collaborators of the session service.
type Deps struct {
	Engine    extractor.Extractor
	Finalizer Finalizer
	Mirror    Mirror
	Storer    storage.Storer
	Hub       Broadcaster
	Metrics   *observability.Metrics
}

// New creates the session service. Sessions are cancelled when ctx is done.
// Mirror and Metrics may be nil.
func New(ctx context.Context, log *slog.Logger, cfg *config.Config, deps Deps) Session {
	rootCtx, rootCancel := context.WithCancel(context.WithoutCancel(ctx))

	svc := &service{
		log:        log.With(slog.String("package", "service")),
		cfg:        cfg,
		engine:     deps.Engine,
		finalizer:  deps.Finalizer,
		mirror:     deps.Mirror,
		storer:     deps.Storer,
		hub:        deps.Hub,
		metrics:    deps.Metrics,
		publicDir:  cfg.Dir.Public,
		rootCtx:    rootCtx,
		rootCancel: rootCancel,
	}

	go func() {
		select {
		case <-ctx.Done():
			svc.closed.Store(true)
			rootCancel()
		case <-rootCtx.Done():
		}
	}()

	return svc
}

func (svc *service) Start(ctx context.Context, url, format, quality string) (entity.Session, error) {
	if svc.closed.Load() {
		return entity.Session{}, errs.ErrServiceClosed
	}

	url = urls.Normalize(url)
	if !urls.IsURLValid(url) {
		return entity.Session{}, errs.ErrInvalidURL
	}

	plan := extractor.NewPlan(format, quality)
	key := gen.StagingKey()
	now := time.Now()

	sess := entity.Session{
		Key:        key,
		ID:         gen.FallbackID(url),
		URL:        url,
		Format:     plan.Format,
		Quality:    plan.Quality,
		Stage:      entity.StageInitializing,
		StagingDir: filepath.Join(svc.cfg.Dir.Staging, key),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	sessCtx, cancel := context.WithCancel(svc.rootCtx)

	svc.storer.SetSession(ctx, sess)
	svc.storer.RegisterCancelFunc(key, cancel)

	if svc.metrics != nil {
		svc.metrics.RecordSessionStarted()
	}

	svc.wg.Add(1)

	go func() {
		defer svc.wg.Done()
		defer cancel()

		if svc.metrics != nil {
			defer svc.metrics.SessionTimer()()
		}

		r := newRun(svc, sess, plan)
		r.execute(sessCtx)
	}()

	svc.log.InfoContext(ctx, "session started", slog.Any("session", sess))

	return sess, nil
}

func (svc *service) Cancel(ctx context.Context, id string) error {
	if err := svc.storer.CancelSession(ctx, id); err != nil {
		return fmt.Errorf("cancel %q: %w", id, err)
	}

	return nil
}

func (svc *service) Active(ctx context.Context) []entity.Session {
	return svc.storer.GetSessions(ctx)
}

func (svc *service) Shutdown(ctx context.Context) error {
	svc.closed.Store(true)
	svc.rootCancel()

	done := make(chan struct{})

	go func() {
		svc.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		svc.log.InfoContext(ctx, "all sessions drained")

		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain sessions: %w", ctx.Err())
	}
}
