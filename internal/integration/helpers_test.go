//go:build integration

package integration_test

import (
	"context"
	_ "embed"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"ourtube/internal/config"
	"ourtube/internal/consts"
	"ourtube/internal/depmanager"
	"ourtube/internal/entity"
	"ourtube/internal/extractor"
	"ourtube/internal/finalizer"
	"ourtube/internal/hub"
	httprouter "ourtube/internal/infrastructure/delivery/http"
	"ourtube/internal/library"
	"ourtube/internal/observability"
	"ourtube/internal/service"
	"ourtube/internal/storage"

	"github.com/gorilla/websocket"
)

//go:embed testdata/fake-ytdlp.sh
var fakeYTdlpScript string

type fakeToolchain struct{ ytdlp string }

func (f fakeToolchain) GetInstalledPath(name depmanager.BinaryName) string {
	if name == depmanager.BinaryYTdlp {
		return f.ytdlp
	}

	return ""
}

type fixture struct {
	cfg *config.Config
	srv *httptest.Server
	hub *hub.Hub
}

func newFixture(t *testing.T, engine string) *fixture {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("fake yt-dlp is a shell script")
	}

	base := t.TempDir()
	cfg := &config.Config{
		App: config.App{Engine: engine},
		Dir: config.Dir{
			Public:  filepath.Join(base, "downloads"),
			Staging: filepath.Join(base, "staging"),
			Cache:   filepath.Join(base, "cache"),
		},
		HTTP:    config.HTTP{HandlerTimeout: 5 * time.Second},
		Session: config.Session{SettleDelay: 10 * time.Millisecond, ArtifactWait: 2 * time.Second, PollInterval: 50 * time.Millisecond},
		Hub:     config.Hub{BroadcastBuffer: 64, ClientBuffer: 64, WriteTimeout: time.Second, PongTimeout: time.Minute},
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.New(nil)

	var eng extractor.Extractor

	switch engine {
	case consts.EngineMock:
		eng = extractor.NewMock(log, 50*time.Millisecond)
	default:
		script := filepath.Join(base, "yt-dlp")
		if err := os.WriteFile(script, []byte(fakeYTdlpScript), 0o755); err != nil {
			t.Fatalf("write fake yt-dlp: %v", err)
		}

		eng = extractor.NewYTdlp(log, cfg, fakeToolchain{ytdlp: script}, nil, metrics)
	}

	ctx, cancel := context.WithCancel(context.Background())

	h := hub.New(log, cfg, metrics)
	go h.Run(ctx)

	storer := storage.New(log)

	svc := service.New(ctx, log, cfg, service.Deps{
		Engine:    eng,
		Finalizer: finalizer.New(log, cfg),
		Storer:    storer,
		Hub:       h,
		Metrics:   metrics,
	})

	srv := httptest.NewServer(httprouter.New(log, cfg, httprouter.Deps{
		Sessions: svc,
		Files:    library.New(log, cfg, metrics, storer),
		WS:       http.HandlerFunc(h.ServeWS),
		Metrics:  metrics,
	}))

	t.Cleanup(func() {
		srv.Close()

		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()

		if err := svc.Shutdown(shutdownCtx); err != nil {
			t.Errorf("service shutdown: %v", err)
		}

		cancel()
		<-h.Done()
	})

	return &fixture{cfg: cfg, srv: srv, hub: h}
}

// dial connects a WebSocket client and waits until the hub has registered it.
func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(f.srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}

	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(5 * time.Second)
	for f.hub.Count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("ws client never registered")
		}

		time.Sleep(10 * time.Millisecond)
	}

	return conn
}

// events reads until a terminal event and returns everything received.
func events(t *testing.T, conn *websocket.Conn) []entity.Event {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(15 * time.Second))

	var got []entity.Event

	for {
		var ev entity.Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read event after %+v: %v", got, err)
		}

		got = append(got, ev)

		if ev.IsTerminal() {
			return got
		}
	}
}

func (f *fixture) request(t *testing.T, method, path, body string) *http.Response {
	t.Helper()

	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(t.Context(), method, f.srv.URL+path, r)
	if err != nil {
		t.Fatal(err)
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}

	t.Cleanup(func() { resp.Body.Close() })

	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}

	return v
}
