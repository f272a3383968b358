package next

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"go.uber.org/zap/zaptest"

	"github.com/oreillyross/next.js/internal/config"
	"github.com/oreillyross/next.js/pkg/manifest"
	"github.com/oreillyross/next.js/pkg/routing"
)

func writeProjectFile(t *testing.T, fsys afero.Fs, name, content string) {
	t.Helper()
	if err := afero.WriteFile(fsys, name, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile %s: %v", name, err)
	}
}

func newTestApp(t *testing.T, fsys afero.Fs, cfg *config.Config, opts routing.Options, appCfg Config) *App {
	t.Helper()
	src := manifest.NewDirSource(fsys)
	tbl, err := manifest.LoadLive(context.Background(), cfg, manifest.Options{
		Source: src,
		Logger: zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatalf("LoadLive: %v", err)
	}
	opts.Logger = zaptest.NewLogger(t)
	opts.Resolver.Fs = fsys
	rt, err := routing.New(tbl, opts)
	if err != nil {
		t.Fatalf("routing.New: %v", err)
	}

	appCfg.Router = rt
	appCfg.Source = src
	appCfg.Logger = zaptest.NewLogger(t)
	app, err := New(appCfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return app
}

func serve(app http.Handler, method, target string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	app.ServeHTTP(rr, httptest.NewRequest(method, target, nil))
	return rr
}

func TestStaticServing_PublicFile(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeProjectFile(t, fsys, "public/app.js", "ok")

	app := newTestApp(t, fsys, config.New(), routing.Options{}, Config{})

	rr := serve(app, http.MethodGet, "http://example.com/app.js")
	if rr.Code != http.StatusOK {
		t.Fatalf("GET /app.js status = %d, want %d", rr.Code, http.StatusOK)
	}
	if got := rr.Body.String(); got != "ok" {
		t.Fatalf("GET /app.js body = %q, want %q", got, "ok")
	}
	if got := rr.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/javascript") {
		t.Errorf("Content-Type = %q", got)
	}

	rr = serve(app, http.MethodGet, "http://example.com/public/app.js")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("GET /public/app.js status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestStaticServing_MethodAndHeadHandling(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeProjectFile(t, fsys, "public/app.js", "ok")

	app := newTestApp(t, fsys, config.New(), routing.Options{}, Config{})

	rr := serve(app, http.MethodPost, "http://example.com/app.js")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /app.js status = %d, want %d", rr.Code, http.StatusMethodNotAllowed)
	}
	if got := rr.Header().Get("Allow"); got != "GET, HEAD" {
		t.Errorf("Allow = %q", got)
	}

	rr = serve(app, http.MethodHead, "http://example.com/app.js")
	if rr.Code != http.StatusOK {
		t.Fatalf("HEAD /app.js status = %d, want %d", rr.Code, http.StatusOK)
	}
	if rr.Body.Len() != 0 {
		t.Fatalf("HEAD /app.js body = %q, want empty", rr.Body.String())
	}
}

func TestStaticServing_CacheControlHeaders(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeProjectFile(t, fsys, "public/app.a1b2c3d4.css", "fingerprinted")
	writeProjectFile(t, fsys, "public/app.css", "plain")
	writeProjectFile(t, fsys, ".next/static/chunks/main.js", "chunk")

	app := newTestApp(t, fsys, config.New(), routing.Options{}, Config{
		Static: StaticConfig{CacheControl: CacheControlProduction},
	})

	tests := []struct {
		target string
		want   string
	}{
		{"/app.a1b2c3d4.css", "public, max-age=31536000, immutable"},
		{"/app.css", "public, max-age=0"},
		{"/_next/static/chunks/main.js", "public, max-age=31536000, immutable"},
	}
	for _, tt := range tests {
		rr := serve(app, http.MethodGet, "http://example.com"+tt.target)
		if rr.Code != http.StatusOK {
			t.Fatalf("GET %s status = %d, want %d", tt.target, rr.Code, http.StatusOK)
		}
		if got := rr.Header().Get("Cache-Control"); got != tt.want {
			t.Errorf("GET %s Cache-Control = %q, want %q", tt.target, got, tt.want)
		}
	}

	app = newTestApp(t, fsys, config.New(), routing.Options{}, Config{})
	rr := serve(app, http.MethodGet, "http://example.com/app.css")
	if got := rr.Header().Get("Cache-Control"); got != "no-store, must-revalidate" {
		t.Fatalf("Cache-Control = %q, want %q", got, "no-store, must-revalidate")
	}
}

func TestStaticServing_HeaderRulesWin(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeProjectFile(t, fsys, "public/app.js", "ok")

	cfg := config.New()
	cfg.Headers = []config.Route{{
		Source:  "/:path*",
		Headers: []config.Header{{Key: "Cache-Control", Value: "public, max-age=60"}, {Key: "X-Static", Value: "rule"}},
	}}
	app := newTestApp(t, fsys, cfg, routing.Options{}, Config{
		Static: StaticConfig{
			CacheControl: CacheControlProduction,
			Headers:      map[string]string{"X-Static": "config", "X-Extra": "true"},
		},
	})

	rr := serve(app, http.MethodGet, "http://example.com/app.js")
	if got := rr.Header().Get("Cache-Control"); got != "public, max-age=60" {
		t.Errorf("Cache-Control = %q", got)
	}
	if got := rr.Header().Get("X-Static"); got != "rule" {
		t.Errorf("X-Static = %q, want %q", got, "rule")
	}
	if got := rr.Header().Get("X-Extra"); got != "true" {
		t.Errorf("X-Extra = %q, want %q", got, "true")
	}
}

func TestStaticServing_RejectsTraversal(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeProjectFile(t, fsys, "public/ok.txt", "ok")
	writeProjectFile(t, fsys, "secret.txt", "secret")

	app := newTestApp(t, fsys, config.New(), routing.Options{}, Config{})

	for _, target := range []string{
		"/%2e%2e/secret.txt",
		"/..%2fsecret.txt",
		"/ok.txt%00",
	} {
		rr := serve(app, http.MethodGet, "http://example.com"+target)
		if body, _ := io.ReadAll(rr.Body); strings.Contains(string(body), "secret") {
			t.Errorf("GET %s leaked %q", target, body)
		}
	}
}

// streamSource hides Seek so the copy path is used.
type streamSource struct{ manifest.Source }

func (s streamSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	rc, err := s.Source.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(rc), nil
}

func TestStaticServing_NonSeekableSource(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeProjectFile(t, fsys, "public/data.json", `{"a":1}`)

	app := newTestApp(t, fsys, config.New(), routing.Options{}, Config{})
	app.source = streamSource{app.source}

	rr := serve(app, http.MethodGet, "http://example.com/data.json")
	if rr.Code != http.StatusOK || rr.Body.String() != `{"a":1}` {
		t.Fatalf("GET /data.json = %d %q", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q", got)
	}
}

func TestIsFingerprinted(t *testing.T) {
	cases := []struct {
		path string
		want bool
	}{
		{path: "app.a1b2c3d4.css", want: true},
		{path: "app.A1B2C3D4.css", want: true},
		{path: "app.12345678.css", want: true},
		{path: "app.1234567.css", want: false},
		{path: "app.zzzzzzzz.css", want: false},
		{path: "app.css", want: false},
	}

	for _, tc := range cases {
		if got := isFingerprinted(tc.path); got != tc.want {
			t.Fatalf("isFingerprinted(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}
