package next

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"

	"github.com/oreillyross/next.js/internal/config"
	"github.com/oreillyross/next.js/pkg/edge"
	"github.com/oreillyross/next.js/pkg/routematch"
	"github.com/oreillyross/next.js/pkg/routing"
)

func pagesFs(t *testing.T) afero.Fs {
	t.Helper()
	fsys := afero.NewMemMapFs()
	for _, name := range []string{
		"pages/index.tsx",
		"pages/about.tsx",
		"pages/blog/[slug].tsx",
	} {
		writeProjectFile(t, fsys, name, "")
	}
	writeProjectFile(t, fsys, "public/logo.png", "png")
	return fsys
}

// recordingRenderer writes the page it was asked for.
type recordingRenderer struct {
	mu     sync.Mutex
	serves []*routing.Serve
	header http.Header
	path   string
}

func (rr *recordingRenderer) Render(w http.ResponseWriter, r *http.Request, s *routing.Serve) {
	rr.mu.Lock()
	rr.serves = append(rr.serves, s)
	rr.header = r.Header.Clone()
	rr.path = r.URL.Path
	rr.mu.Unlock()
	io.WriteString(w, "page "+s.Item.ItemPath)
}

func (rr *recordingRenderer) last(t *testing.T) *routing.Serve {
	t.Helper()
	rr.mu.Lock()
	defer rr.mu.Unlock()
	if len(rr.serves) == 0 {
		t.Fatal("renderer was not called")
	}
	return rr.serves[len(rr.serves)-1]
}

type stubInvoker struct {
	resp *edge.Response
	err  error
}

func (s *stubInvoker) Invoke(context.Context, *http.Request, *edge.CloneableBody) (*edge.Response, error) {
	return s.resp, s.err
}

func middlewareConfig() *config.Config {
	cfg := config.New()
	cfg.Middleware.Script = "middleware.js"
	cfg.Middleware.Matcher = config.Matchers{{Source: "/account/:path*"}}
	return cfg
}

func TestAppRendersPages(t *testing.T) {
	renderer := &recordingRenderer{}
	app := newTestApp(t, pagesFs(t), config.New(), routing.Options{}, Config{Renderer: renderer})

	rr := serve(app, http.MethodGet, "/about")
	if rr.Code != http.StatusOK || rr.Body.String() != "page /about" {
		t.Fatalf("GET /about = %d %q", rr.Code, rr.Body.String())
	}

	rr = serve(app, http.MethodGet, "/blog/hello")
	if rr.Code != http.StatusOK {
		t.Fatalf("GET /blog/hello status = %d", rr.Code)
	}
	s := renderer.last(t)
	if s.Page != "/blog/[slug]" {
		t.Errorf("page = %q", s.Page)
	}
	if diff := cmp.Diff(routematch.Params{"slug": "hello"}, s.Params); diff != "" {
		t.Errorf("params mismatch (-want +got):\n%s", diff)
	}
}

func TestAppWithoutRenderer(t *testing.T) {
	app := newTestApp(t, pagesFs(t), config.New(), routing.Options{}, Config{})

	if rr := serve(app, http.MethodGet, "/about"); rr.Code != http.StatusNotImplemented {
		t.Errorf("GET /about status = %d, want %d", rr.Code, http.StatusNotImplemented)
	}
	if rr := serve(app, http.MethodGet, "/logo.png"); rr.Code != http.StatusOK {
		t.Errorf("static files do not need a renderer, status = %d", rr.Code)
	}
}

func TestAppNotFound(t *testing.T) {
	var gotPath string
	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		http.Error(w, "custom 404", http.StatusNotFound)
	})

	cfg := config.New()
	cfg.Rewrites = config.Rewrites{AfterFiles: []config.Route{{Source: "/gone", Destination: "/still-gone"}}}
	app := newTestApp(t, pagesFs(t), cfg, routing.Options{}, Config{NotFound: notFound})

	rr := serve(app, http.MethodGet, "/gone")
	if rr.Code != http.StatusNotFound || !strings.Contains(rr.Body.String(), "custom 404") {
		t.Fatalf("GET /gone = %d %q", rr.Code, rr.Body.String())
	}
	if gotPath != "/still-gone" {
		t.Errorf("not found handler saw %q, want the rewritten path", gotPath)
	}
}

func TestAppRedirects(t *testing.T) {
	cfg := config.New()
	cfg.Redirects = []config.Route{{Source: "/old", Destination: "/about"}}
	app := newTestApp(t, pagesFs(t), cfg, routing.Options{}, Config{})

	rr := serve(app, http.MethodGet, "/old?x=1")
	if rr.Code != http.StatusPermanentRedirect {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusPermanentRedirect)
	}
	if got := rr.Header().Get("Location"); got != "/about?x=1" {
		t.Errorf("Location = %q", got)
	}
	if got := rr.Header().Get("Refresh"); got != "0;url=/about?x=1" {
		t.Errorf("Refresh = %q", got)
	}
}

func TestAppRepeatedSlashes(t *testing.T) {
	renderer := &recordingRenderer{}
	app := newTestApp(t, pagesFs(t), config.New(), routing.Options{}, Config{Renderer: renderer})

	tests := []struct {
		target string
		want   string
	}{
		{"//about", "/about"},
		{"/blog//x?next=//y", "/blog/x?next=//y"},
	}
	for _, tt := range tests {
		rr := serve(app, http.MethodGet, tt.target)
		if rr.Code != http.StatusPermanentRedirect {
			t.Errorf("GET %s status = %d", tt.target, rr.Code)
		}
		if got := rr.Header().Get("Location"); got != tt.want {
			t.Errorf("GET %s Location = %q, want %q", tt.target, got, tt.want)
		}
	}
	if len(renderer.serves) != 0 {
		t.Error("redirected requests must not render")
	}
}

func TestAppProxiesExternalRewrites(t *testing.T) {
	var gotPath, gotHost string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.RequestURI()
		gotHost = r.Host
		w.Header().Set("X-Upstream", "yes")
		io.WriteString(w, "from upstream")
	}))
	defer upstream.Close()

	cfg := config.New()
	cfg.Rewrites = config.Rewrites{
		Fallback: []config.Route{{Source: "/legacy/:path*", Destination: upstream.URL + "/v1/:path*"}},
	}
	app := newTestApp(t, pagesFs(t), cfg, routing.Options{}, Config{})

	rr := serve(app, http.MethodGet, "http://example.com/legacy/a/b?q=1")
	if rr.Code != http.StatusOK || rr.Body.String() != "from upstream" {
		t.Fatalf("proxied response = %d %q", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Upstream") != "yes" {
		t.Error("upstream headers were not copied")
	}
	if gotPath != "/v1/a/b?q=1" {
		t.Errorf("upstream path = %q", gotPath)
	}
	if !strings.HasPrefix(upstream.URL, "http://"+gotHost) {
		t.Errorf("upstream Host = %q", gotHost)
	}
}

func TestAppProxyTimeout(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer upstream.Close()
	defer close(release)

	cfg := config.New()
	cfg.Rewrites = config.Rewrites{
		Fallback: []config.Route{{Source: "/slow", Destination: upstream.URL + "/slow"}},
	}
	app := newTestApp(t, pagesFs(t), cfg, routing.Options{}, Config{ProxyTimeout: 50 * time.Millisecond})

	rr := serve(app, http.MethodGet, "/slow")
	if rr.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusGatewayTimeout)
	}
}

func TestAppProxyUnreachable(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	url := upstream.URL
	upstream.Close()

	cfg := config.New()
	cfg.Rewrites = config.Rewrites{
		Fallback: []config.Route{{Source: "/down", Destination: url + "/down"}},
	}
	app := newTestApp(t, pagesFs(t), cfg, routing.Options{}, Config{})

	if rr := serve(app, http.MethodGet, "/down"); rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadGateway)
	}
}

func TestAppMiddlewareResponse(t *testing.T) {
	inv := &stubInvoker{resp: &edge.Response{
		StatusCode: http.StatusUnauthorized,
		Header:     http.Header{"Set-Cookie": {"a=1", "b=2"}, "X-Mw": {"1"}},
		Body:       io.NopCloser(strings.NewReader("denied")),
	}}
	app := newTestApp(t, pagesFs(t), middlewareConfig(), routing.Options{Invoker: inv}, Config{})

	rr := serve(app, http.MethodGet, "/account/settings")
	if rr.Code != http.StatusUnauthorized || rr.Body.String() != "denied" {
		t.Fatalf("response = %d %q", rr.Code, rr.Body.String())
	}
	if diff := cmp.Diff([]string{"a=1", "b=2"}, rr.Header().Values("Set-Cookie")); diff != "" {
		t.Errorf("Set-Cookie mismatch (-want +got):\n%s", diff)
	}
	if rr.Header().Get("X-Mw") != "1" {
		t.Error("middleware headers were not applied")
	}
}

func TestAppMiddlewareRequestHeaders(t *testing.T) {
	renderer := &recordingRenderer{}
	inv := &stubInvoker{resp: &edge.Response{
		Next:          true,
		Header:        http.Header{},
		RequestHeader: http.Header{"X-User": {"42"}},
		Rewrite:       "/about",
	}}
	app := newTestApp(t, pagesFs(t), middlewareConfig(), routing.Options{Invoker: inv}, Config{Renderer: renderer})

	rr := serve(app, http.MethodGet, "http://example.com/account/me")
	if rr.Code != http.StatusOK || rr.Body.String() != "page /about" {
		t.Fatalf("response = %d %q", rr.Code, rr.Body.String())
	}
	if got := renderer.header.Get("X-User"); got != "42" {
		t.Errorf("renderer saw X-User = %q", got)
	}
	if renderer.path != "/about" {
		t.Errorf("renderer saw path %q", renderer.path)
	}
}

func TestAppMiddlewareRewriteStatus(t *testing.T) {
	inv := &stubInvoker{resp: &edge.Response{
		StatusCode: http.StatusForbidden,
		Header:     http.Header{},
		Rewrite:    "/about",
	}}
	app := newTestApp(t, pagesFs(t), middlewareConfig(), routing.Options{Invoker: inv}, Config{Renderer: &recordingRenderer{}})

	rr := serve(app, http.MethodGet, "http://example.com/account/blocked")
	if rr.Code != http.StatusForbidden || rr.Body.String() != "page /about" {
		t.Fatalf("response = %d %q", rr.Code, rr.Body.String())
	}
}

func TestAppMiddlewareFailureIsBare500(t *testing.T) {
	inv := &stubInvoker{err: errors.New("secret stack trace")}
	app := newTestApp(t, pagesFs(t), middlewareConfig(), routing.Options{Invoker: inv}, Config{})

	rr := serve(app, http.MethodGet, "/account/x")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "secret") {
		t.Errorf("error detail leaked: %q", rr.Body.String())
	}
}

func TestAppDevVirtualItems(t *testing.T) {
	app := newTestApp(t, pagesFs(t), config.New(),
		routing.Options{DevVirtualItems: []string{"/_next/webpack-hmr"}},
		Config{DevHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "hmr")
		})},
	)

	rr := serve(app, http.MethodGet, "/_next/webpack-hmr")
	if rr.Code != http.StatusOK || rr.Body.String() != "hmr" {
		t.Fatalf("response = %d %q", rr.Code, rr.Body.String())
	}
}

func TestAppRequestID(t *testing.T) {
	var ids []string
	renderer := RendererFunc(func(w http.ResponseWriter, r *http.Request, s *routing.Serve) {
		ids = append(ids, RequestID(r.Context()))
	})
	app := newTestApp(t, pagesFs(t), config.New(), routing.Options{}, Config{Renderer: renderer})

	req := httptest.NewRequest(http.MethodGet, "/about", nil)
	req.Header.Set("X-Request-Id", "abc")
	app.ServeHTTP(httptest.NewRecorder(), req)
	serve(app, http.MethodGet, "/about")

	if len(ids) != 2 || ids[0] != "abc" || ids[1] == "" || ids[1] == "abc" {
		t.Errorf("request ids = %q", ids)
	}
}

func TestNewRequiresRouterAndSource(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New without a router succeeded")
	}
}
