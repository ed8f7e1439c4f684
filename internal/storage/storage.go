// Package storage keeps the in-memory registry of in-flight download sessions.
package storage

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"

	"ourtube/internal/entity"
	"ourtube/internal/errs"
)

// Storer defines the interface for session registry operations.
type Storer interface {
	SetSession(ctx context.Context, sess entity.Session)
	GetSession(ctx context.Context, key string) (entity.Session, bool)
	GetSessions(ctx context.Context) []entity.Session
	UpdateSession(ctx context.Context, key string, fn func(*entity.Session)) (entity.Session, bool)
	DeleteSession(ctx context.Context, key string)

	// CancelSession cancels every session whose key or media ID equals id.
	CancelSession(ctx context.Context, id string) error

	// RegisterCancelFunc stores a cancel function for a session.
	RegisterCancelFunc(key string, cancelFunc context.CancelFunc)
}

type storage struct {
	log *slog.Logger

	mu          sync.RWMutex
	sessions    map[string]*entity.Session   // session key : session
	cancelFuncs map[string]context.CancelFunc // session key : cancel func
}

// New creates a new in-memory session registry.
func New(log *slog.Logger) Storer {
	return &storage{
		log:         log.With(slog.String("package", "storage")),
		sessions:    make(map[string]*entity.Session),
		cancelFuncs: make(map[string]context.CancelFunc),
	}
}

func (stg *storage) SetSession(ctx context.Context, sess entity.Session) {
	if sess.Key == "" {
		stg.log.ErrorContext(ctx, "set session: empty key")

		return
	}

	stg.mu.Lock()
	defer stg.mu.Unlock()

	stg.sessions[sess.Key] = &sess
}

func (stg *storage) GetSession(_ context.Context, key string) (entity.Session, bool) {
	stg.mu.RLock()
	defer stg.mu.RUnlock()

	sess, ok := stg.sessions[key]
	if !ok {
		return entity.Session{}, false
	}

	return *sess, true
}

// GetSessions returns a snapshot of all sessions, oldest first.
func (stg *storage) GetSessions(_ context.Context) []entity.Session {
	stg.mu.RLock()
	defer stg.mu.RUnlock()

	sessions := make([]entity.Session, 0, len(stg.sessions))
	for _, sess := range stg.sessions {
		sessions = append(sessions, *sess)
	}

	slices.SortFunc(sessions, func(a, b entity.Session) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}

		return cmp.Compare(a.Key, b.Key)
	})

	return sessions
}

func (stg *storage) UpdateSession(ctx context.Context, key string, fn func(*entity.Session)) (entity.Session, bool) {
	stg.mu.Lock()
	defer stg.mu.Unlock()

	sess, ok := stg.sessions[key]
	if !ok {
		return entity.Session{}, false
	}

	fn(sess)

	stg.log.DebugContext(ctx, "session updated", slog.Any("session", *sess))

	return *sess, true
}

// DeleteSession removes the session and its cancel func.
func (stg *storage) DeleteSession(_ context.Context, key string) {
	stg.mu.Lock()
	defer stg.mu.Unlock()

	delete(stg.sessions, key)
	delete(stg.cancelFuncs, key)
}

func (stg *storage) CancelSession(ctx context.Context, id string) error {
	stg.mu.RLock()

	var cancels []context.CancelFunc

	for key, sess := range stg.sessions {
		if key != id && sess.ID != id {
			continue
		}

		if sess.Stage.IsTerminal() {
			continue
		}

		if cancel := stg.cancelFuncs[key]; cancel != nil {
			cancels = append(cancels, cancel)
		}
	}

	stg.mu.RUnlock()

	if len(cancels) == 0 {
		return errs.ErrSessionNotFound
	}

	for _, cancel := range cancels {
		cancel()
	}

	stg.log.InfoContext(ctx, "session cancelled", slog.String("id", id), slog.Int("count", len(cancels)))

	return nil
}

// RegisterCancelFunc stores a cancel function for a session.
func (stg *storage) RegisterCancelFunc(key string, cancelFunc context.CancelFunc) {
	stg.mu.Lock()
	defer stg.mu.Unlock()

	stg.cancelFuncs[key] = cancelFunc
}
