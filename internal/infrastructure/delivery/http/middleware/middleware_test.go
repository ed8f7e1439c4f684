package middleware_test

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ourtube/internal/infrastructure/delivery/http/middleware"
	"ourtube/internal/observability"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRecoverer(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantPanic  any
		wantStatus int
	}{
		{
			name: "no panic",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("ok"))
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "string panic",
			handler: func(_ http.ResponseWriter, _ *http.Request) {
				panic("test panic")
			},
			wantStatus: http.StatusInternalServerError,
		},
		{
			name: "error panic",
			handler: func(_ http.ResponseWriter, _ *http.Request) {
				panic(errors.New("test error panic"))
			},
			wantStatus: http.StatusInternalServerError,
		},
		{
			name: "http.ErrAbortHandler re-panic",
			handler: func(_ http.ResponseWriter, _ *http.Request) {
				panic(http.ErrAbortHandler)
			},
			wantPanic: http.ErrAbortHandler,
		},
		{
			name: "panic after response started",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusAccepted)
				_, _ = w.Write([]byte("ok"))
				panic("test panic")
			},
			wantStatus: http.StatusAccepted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mw := middleware.Recoverer(discard())(tt.handler)
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			rec := httptest.NewRecorder()

			if tt.wantPanic != nil {
				defer func() {
					if recovered := recover(); recovered != tt.wantPanic {
						t.Errorf("got panic %v, want %v", recovered, tt.wantPanic)
					}
				}()
			}

			mw.ServeHTTP(rec, req)

			if got := rec.Result().StatusCode; got != tt.wantStatus {
				t.Errorf("got status %v, want %v", got, tt.wantStatus)
			}
		})
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer

	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true

		_, _ = w.Write([]byte(`done`))
	})

	req := httptest.NewRequest(http.MethodPost, "http://example.com/api/downloads?x=1", nil)
	req.RemoteAddr = "1.2.3.4:1234"
	req.ContentLength = 123
	now := time.Now()

	rec := httptest.NewRecorder()
	middleware.Logger(log)(next).ServeHTTP(rec, req)

	if !called {
		t.Error("next handler was not called")
	}

	if body := rec.Body.String(); body != "done" {
		t.Errorf("got %q, want %q", body, "done")
	}

	var entry struct {
		Time    time.Time `json:"time"`
		Level   string    `json:"level"`
		Msg     string    `json:"msg"`
		Request struct {
			Method        string `json:"method"`
			URI           string `json:"uri"`
			RemoteAddr    string `json:"remote_addr"`
			ContentLength int64  `json:"content_length"`
		} `json:"request"`
	}

	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log entry %q: %v", buf.String(), err)
	}

	if entry.Time.Before(now.Add(-time.Minute)) || entry.Level != "DEBUG" || entry.Msg != "http request" {
		t.Errorf("entry = %+v", entry)
	}

	r := entry.Request
	if r.Method != http.MethodPost || r.URI != "http://example.com/api/downloads?x=1" ||
		r.RemoteAddr != "1.2.3.4:1234" || r.ContentLength != 123 {
		t.Errorf("request = %+v", r)
	}
}

func TestRequestID(t *testing.T) {
	tests := []struct {
		name        string
		headerValue string
		validateID  func(string) bool
	}{
		{
			name:        "existing requestID",
			headerValue: "test-request-1234",
			validateID:  func(id string) bool { return id == "test-request-1234" },
		},
		{
			name: "generated requestID",
			validateID: func(id string) bool {
				_, err := uuid.Parse(id)

				return err == nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ctxID string

			next := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				ctxID = middleware.RequestIDFrom(r.Context())
			})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.headerValue != "" {
				req.Header.Set(middleware.HeaderXRequestID, tt.headerValue)
			}

			rec := httptest.NewRecorder()
			middleware.RequestID(next).ServeHTTP(rec, req)

			if !tt.validateID(ctxID) {
				t.Errorf("requestID in context is invalid: %q", ctxID)
			}

			if resID := rec.Header().Get(middleware.HeaderXRequestID); resID != ctxID {
				t.Errorf("response header %q, context %q", resID, ctxID)
			}
		})
	}
}

func TestMetrics(t *testing.T) {
	metrics := observability.New(nil)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/downloads", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("[]"))
	})

	h := middleware.Metrics(metrics)(mux)

	for _, path := range []string{"/api/downloads", "/api/downloads", "/nope"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "GET /api/downloads", "200")); got != 2 {
		t.Errorf("matched requests = %v, want 2", got)
	}

	if got := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "404")); got != 1 {
		t.Errorf("unmatched requests = %v, want 1", got)
	}
}

func TestCORS(t *testing.T) {
	called := false
	h := middleware.CORS(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	preflight := httptest.NewRequest(http.MethodOptions, "/api/downloads", nil)
	preflight.Header.Set("Origin", "http://localhost:3000")
	preflight.Header.Set("Access-Control-Request-Method", http.MethodPost)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, preflight)

	if rec.Code != http.StatusNoContent || called {
		t.Errorf("preflight: status %d, handler called %v", rec.Code, called)
	}

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("allow origin = %q", got)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if !called || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("simple request: handler called %v, headers %v", called, rec.Header())
	}
}

type hijackable struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (h *hijackable) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.hijacked = true
	client, server := net.Pipe()
	_ = server.Close()

	return client, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func TestChainKeepsHijacker(t *testing.T) {
	metrics := observability.New(nil)

	var hijackErr error

	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		conn, _, err := http.NewResponseController(w).Hijack()
		if err == nil {
			_ = conn.Close()
		}

		hijackErr = err
	})

	h := middleware.Recoverer(discard())(middleware.Metrics(metrics)(inner))
	w := &hijackable{ResponseRecorder: httptest.NewRecorder()}

	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws", nil))

	if hijackErr != nil || !w.hijacked {
		t.Fatalf("hijack through chain: err %v, hijacked %v", hijackErr, w.hijacked)
	}

	if got := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "101")); got != 1 {
		t.Errorf("upgrade status not recorded, got %v", got)
	}
}
