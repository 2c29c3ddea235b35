package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"shortgen/internal/adapter/memstore"
	"shortgen/internal/http/handlers"
	"shortgen/internal/pipeline"
)

type nopRunner struct{}

func (nopRunner) Run(context.Context, pipeline.RunRequest) error { return nil }

type nopTasks struct{}

func (nopTasks) Submit(string, func(context.Context)) error { return nil }

func newTestRouter(t *testing.T, opts Options) http.Handler {
	t.Helper()
	signer, err := pipeline.NewCallbackSigner("http://callbacks.test", "secret")
	if err != nil {
		t.Fatalf("NewCallbackSigner: %v", err)
	}
	app := handlers.NewApp(memstore.New().Repositories(), nopRunner{}, nil, signer, nopTasks{}, zerolog.Nop())
	opts.Logger = zerolog.Nop()
	return NewRouter(app, opts)
}

func TestRouterRoutes(t *testing.T) {
	r := newTestRouter(t, Options{})
	tests := []struct {
		method string
		path   string
		status int
	}{
		{http.MethodGet, "/v1/healthz", http.StatusOK},
		{http.MethodGet, "/v1/jobs/missing", http.StatusNotFound},
		{http.MethodGet, "/v1/jobs/missing/events", http.StatusNotFound},
		{http.MethodGet, "/v1/jobs/missing/artifacts", http.StatusNotFound},
		{http.MethodGet, "/v1/jobs/missing/bundle", http.StatusNotFound},
		{http.MethodGet, "/v1/projects/missing", http.StatusNotFound},
		{http.MethodPost, "/v1/webhooks/clips/synthetic-callback/p/j/0", http.StatusUnauthorized},
		{http.MethodGet, "/v1/unknown", http.StatusNotFound},
	}
	for _, tc := range tests {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		if rec.Code != tc.status {
			t.Fatalf("%s %s: got %d, want %d", tc.method, tc.path, rec.Code, tc.status)
		}
		if rec.Header().Get("X-Request-ID") == "" {
			t.Fatalf("%s %s: missing request id", tc.method, tc.path)
		}
	}
}

func TestRouterRateLimitSkipsWebhooks(t *testing.T) {
	r := newTestRouter(t, Options{RateLimitPerMin: 1})
	do := func(method, path string) int {
		req := httptest.NewRequest(method, path, nil)
		req.RemoteAddr = "203.0.113.9:4000"
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec.Code
	}
	if got := do(http.MethodGet, "/v1/jobs/a"); got != http.StatusNotFound {
		t.Fatalf("first request: %d", got)
	}
	if got := do(http.MethodGet, "/v1/jobs/a"); got != http.StatusTooManyRequests {
		t.Fatalf("second request: %d", got)
	}
	for i := 0; i < 3; i++ {
		if got := do(http.MethodPost, "/v1/webhooks/clips/synthetic-callback/p/j/0"); got != http.StatusUnauthorized {
			t.Fatalf("webhook %d throttled: %d", i, got)
		}
	}
}

func TestRouterServesStatic(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "clip.txt"), []byte("media"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	r := newTestRouter(t, Options{StaticDir: dir})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/static/clip.txt", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "media" {
		t.Fatalf("static: %d %q", rec.Code, rec.Body.String())
	}
}
