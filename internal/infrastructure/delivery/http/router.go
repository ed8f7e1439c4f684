// Package httprouter exposes the HTTP API, the WebSocket channel and the public file mount.
package httprouter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"ourtube/internal/config"
	"ourtube/internal/consts"
	"ourtube/internal/entity"
	"ourtube/internal/errs"
	"ourtube/internal/infrastructure/delivery/http/middleware"
	"ourtube/internal/infrastructure/delivery/http/request"
	"ourtube/internal/infrastructure/delivery/http/response"
	"ourtube/internal/observability"
	"ourtube/internal/service"
)

const maxRequestBody = 1 << 20

// Files lists and removes finalized artifacts.
type Files interface {
	List(ctx context.Context) ([]entity.File, error)
	Delete(ctx context.Context, name string) error
}

// Deps groups the handlers' collaborators.
type Deps struct {
	Sessions service.Session
	Files    Files
	// WS serves the broadcast channel.
	WS      http.Handler
	Metrics *observability.Metrics
}

// Router is a ServeMux with global and per-group middleware chains.
type Router struct {
	*http.ServeMux
	log            *slog.Logger
	globalChain    []func(http.Handler) http.Handler
	routeChain     []func(http.Handler) http.Handler
	isSubRouter    bool
	handlerTimeout time.Duration
	publicDir      string
	deps           Deps
}

// New builds the router with all routes and middleware installed.
func New(log *slog.Logger, cfg *config.Config, deps Deps) *Router {
	r := &Router{
		ServeMux:       http.NewServeMux(),
		log:            log.With(slog.String("package", "httprouter")),
		handlerTimeout: cfg.HTTP.HandlerTimeout,
		publicDir:      cfg.Dir.Public,
		deps:           deps,
	}

	if r.handlerTimeout <= 0 {
		r.handlerTimeout = consts.DefaultHandlerTimeout
	}

	r.SetGlobalMiddlewares()
	r.SetRoutes()

	return r
}

// Use appends middleware to the global chain, or to the route chain inside Group.
func (r *Router) Use(mw ...func(http.Handler) http.Handler) {
	if r.isSubRouter {
		r.routeChain = append(r.routeChain, mw...)
	} else {
		r.globalChain = append(r.globalChain, mw...)
	}
}

// Group registers routes that share extra middleware.
func (r *Router) Group(fn func(r *Router)) {
	sub := &Router{
		ServeMux:    r.ServeMux,
		log:         r.log,
		isSubRouter: true,
		routeChain:  slices.Clone(r.routeChain),
	}

	fn(sub)
}

func (r *Router) HandleFunc(pattern string, h http.HandlerFunc) {
	r.Handle(pattern, h)
}

func (r *Router) Handle(pattern string, h http.Handler) {
	for _, mw := range slices.Backward(r.routeChain) {
		h = mw(h)
	}

	r.ServeMux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var h http.Handler = r.ServeMux

	for _, mw := range slices.Backward(r.globalChain) {
		h = mw(h)
	}

	h.ServeHTTP(w, req)
}

func (r *Router) SetGlobalMiddlewares() {
	r.Use(
		middleware.Recoverer(r.log),
		middleware.RequestID,
		middleware.Logger(r.log),
		middleware.CORS,
	)

	if r.deps.Metrics != nil {
		r.Use(middleware.Metrics(r.deps.Metrics))
	}
}

func (r *Router) SetRoutes() {
	r.HandleFunc("GET /{$}", r.Status)
	r.SetRoutesHealthcheck()

	if r.deps.WS != nil {
		r.Handle("GET /ws", r.deps.WS)
	}

	r.Group(func(api *Router) {
		api.Use(r.withTimeout)

		api.HandleFunc("POST /api/downloads", r.StartDownload)
		api.HandleFunc("GET /api/downloads", r.ListFiles)
		api.HandleFunc("DELETE /api/downloads/{filename}", r.DeleteFile)
		api.HandleFunc("GET /api/sessions", r.ListSessions)
		api.HandleFunc("DELETE /api/sessions/{id}", r.CancelSession)
	})

	r.Handle("GET "+consts.FilesRoute, http.StripPrefix(consts.FilesRoute, publicFiles(r.publicDir)))

	if r.deps.Metrics != nil {
		r.Handle("GET /metrics", r.deps.Metrics.Handler())
	}
}

func (r *Router) SetRoutesHealthcheck() {
	healthcheckRouter := &Router{
		ServeMux: http.NewServeMux(),
	}
	healthcheckRouter.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/v1/", http.StripPrefix("/v1", healthcheckRouter))
}

// withTimeout bounds API handlers; sessions started by them are not tied to the request.
func (r *Router) withTimeout(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), r.handlerTimeout)
		defer cancel()

		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

func (r *Router) Status(w http.ResponseWriter, _ *http.Request) {
	response.OK(w, response.Status{Status: consts.RespBackendRunning})
}

func (r *Router) StartDownload(w http.ResponseWriter, req *http.Request) {
	log := r.log.With(slog.String("handler", "StartDownload"))
	ctx := req.Context()

	var in request.StartDownload

	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxRequestBody))
	if err := dec.Decode(&in); err != nil {
		log.WarnContext(ctx, consts.RespInvalidRequestBody, slog.Any("error", err))
		response.BadRequest(w, consts.RespInvalidRequestBody, errs.ErrInvalidRequestBody)

		return
	}

	in.Normalize()

	if err := in.Validate(); err != nil {
		log.WarnContext(ctx, consts.RespUnprocessableEntity, slog.Any("error", err), slog.String("url", in.URL))
		response.UnprocessableEntity(w, consts.RespUnprocessableEntity, err)

		return
	}

	sess, err := r.deps.Sessions.Start(ctx, in.URL, in.Format, in.Quality)

	switch {
	case errors.Is(err, errs.ErrInvalidURL):
		response.UnprocessableEntity(w, consts.RespUnprocessableEntity, err)

		return
	case errors.Is(err, errs.ErrServiceClosed):
		response.ServiceUnavailable(w, consts.RespDownloadStartFail, err)

		return
	case err != nil:
		log.ErrorContext(ctx, consts.RespDownloadStartFail, slog.Any("error", err))
		response.InternalServerError(w, consts.RespDownloadStartFail, err)

		return
	}

	log.InfoContext(ctx, "download started", slog.String("session", sess.Key), slog.String("url", sess.URL))

	response.Accepted(w, response.Status{Status: consts.RespDownloadStarted, URL: in.URL})
}

func (r *Router) ListFiles(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	files, err := r.deps.Files.List(ctx)
	if err != nil {
		r.log.ErrorContext(ctx, consts.RespListFilesFail, slog.Any("error", err))
		response.InternalServerError(w, consts.RespListFilesFail, err)

		return
	}

	if files == nil {
		files = []entity.File{}
	}

	response.OK(w, files)
}

func (r *Router) DeleteFile(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	name := req.PathValue("filename")

	err := r.deps.Files.Delete(ctx, name)

	switch {
	case errors.Is(err, errs.ErrInvalidFilename):
		response.BadRequest(w, consts.RespPathParamMissing, err)
	case errors.Is(err, errs.ErrFileNotFound):
		response.NotFound(w, consts.RespFileNotFound, nil)
	case err != nil:
		r.log.ErrorContext(ctx, consts.RespDeleteFileFail, slog.Any("error", err), slog.String("filename", name))
		response.InternalServerError(w, consts.RespDeleteFileFail, err)
	default:
		response.OK(w, response.Status{Status: consts.RespFileDeleted, Filename: name})
	}
}

func (r *Router) ListSessions(w http.ResponseWriter, req *http.Request) {
	sessions := r.deps.Sessions.Active(req.Context())
	if sessions == nil {
		sessions = []entity.Session{}
	}

	response.OK(w, sessions)
}

func (r *Router) CancelSession(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	id := req.PathValue("id")

	if err := r.deps.Sessions.Cancel(ctx, id); err != nil {
		if errors.Is(err, errs.ErrSessionNotFound) {
			response.NotFound(w, consts.RespSessionNotFound, nil)

			return
		}

		r.log.ErrorContext(ctx, "cancel session", slog.Any("error", err), slog.String("id", id))
		response.InternalServerError(w, consts.RespSessionNotFound, err)

		return
	}

	response.OK(w, response.Status{Status: consts.RespSessionCancelled, ID: id})
}
