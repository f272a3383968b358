// Package next is the serving shell around the routing core. An App
// resolves each request with a routing.Router and carries out the
// decision: streaming static files, handing pages to a Renderer, proxying
// upstream, or writing redirects and middleware responses.
//
//	rt, err := routing.New(table, routing.Options{Invoker: host})
//	if err != nil {
//	    return err
//	}
//	app, err := next.New(next.ConfigFrom(cfg, rt, src))
//	if err != nil {
//	    return err
//	}
//	http.ListenAndServe(cfg.Addr(), app)
package next

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oreillyross/next.js/internal/config"
	"github.com/oreillyross/next.js/pkg/fsitem"
	"github.com/oreillyross/next.js/pkg/manifest"
	"github.com/oreillyross/next.js/pkg/routepath"
	"github.com/oreillyross/next.js/pkg/routing"
)

// =============================================================================
// App Type
// =============================================================================

// App is an http.Handler that routes every request through the pipeline.
type App struct {
	router   *routing.Router
	source   manifest.Source
	renderer Renderer
	proxy    http.Handler

	config Config
	logger *zap.Logger
}

// New creates an App.
func New(cfg Config) (*App, error) {
	if cfg.Router == nil {
		return nil, errors.New("next: Config.Router is required")
	}
	if cfg.Source == nil {
		return nil, errors.New("next: Config.Source is required")
	}
	if cfg.ProxyTimeout == 0 {
		cfg.ProxyTimeout = config.DefaultProxyTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &App{
		router:   cfg.Router,
		source:   cfg.Source,
		renderer: cfg.Renderer,
		config:   cfg,
		logger:   logger.Named("app"),
	}
	a.proxy = a.newProxy()
	return a, nil
}

// Router returns the router the app resolves with.
func (a *App) Router() *routing.Router { return a.router }

// =============================================================================
// http.Handler Implementation
// =============================================================================

// ServeHTTP implements http.Handler.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if loc, ok := repeatedSlashRedirect(r); ok {
		w.Header().Set("Location", loc)
		w.WriteHeader(http.StatusPermanentRedirect)
		io.WriteString(w, loc)
		return
	}

	id := r.Header.Get("X-Request-Id")
	if id == "" {
		id = uuid.NewString()
	}
	ctx := context.WithValue(r.Context(), requestIDKey{}, id)
	r = r.WithContext(ctx)

	res, err := a.router.Resolve(ctx, r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	defer res.Close()

	h := w.Header()
	for k, vs := range res.Headers {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	if res.RequestHeader != nil {
		r.Header = res.RequestHeader.Clone()
	}

	switch d := res.Decision.(type) {
	case *routing.Redirect:
		code := d.StatusCode
		if code == 0 {
			code = http.StatusTemporaryRedirect
		}
		w.WriteHeader(code)

	case *routing.MiddlewareResponse:
		a.writeMiddlewareResponse(w, d)

	case *routing.ProxyUpstream:
		a.serveProxy(w, r, d.URL)

	case *routing.Serve:
		a.serve(w, r, d)

	case *routing.Rewrite:
		if d.StatusCode != 0 && d.StatusCode != http.StatusOK {
			w = &statusOverride{ResponseWriter: w, code: d.StatusCode}
		}
		if d.Target == nil {
			a.notFound(w, withURL(r, d.URL))
			return
		}
		a.serve(w, r, d.Target)

	case *routing.NoMatch:
		a.notFound(w, withURL(r, d.URL))

	default:
		a.fail(w, r, errors.New("unknown routing decision"))
	}
}

// serve carries out a Serve decision.
func (a *App) serve(w http.ResponseWriter, r *http.Request, s *routing.Serve) {
	switch {
	case s.Item != nil && s.Item.Type.IsStatic():
		a.serveStatic(w, r, s.Item)

	case s.Item != nil && s.Item.Type == fsitem.TypeDevVirtual:
		if a.config.DevHandler == nil {
			a.notFound(w, r)
			return
		}
		a.config.DevHandler.ServeHTTP(w, r)

	default:
		if a.renderer == nil {
			http.Error(w, "page rendering is not configured", http.StatusNotImplemented)
			return
		}
		a.renderer.Render(w, withURL(r, s.URL), s)
	}
}

func (a *App) notFound(w http.ResponseWriter, r *http.Request) {
	if a.config.NotFound != nil {
		a.config.NotFound.ServeHTTP(w, r)
		return
	}
	http.NotFound(w, r)
}

// fail logs err and answers with a bare 500. Details never reach the
// client.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	a.logger.Error("request failed",
		zap.String("request_id", RequestID(r.Context())),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

// writeMiddlewareResponse streams a response produced by middleware.
func (a *App) writeMiddlewareResponse(w http.ResponseWriter, d *routing.MiddlewareResponse) {
	code := d.StatusCode
	if code == 0 {
		code = http.StatusOK
	}
	w.WriteHeader(code)
	if d.Body == nil {
		return
	}

	rc := http.NewResponseController(w)
	buf := make([]byte, 32*1024)
	for {
		n, err := d.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			rc.Flush()
		}
		if err != nil {
			if err != io.EOF {
				a.logger.Warn("middleware body interrupted", zap.Error(err))
			}
			return
		}
	}
}

// repeatedSlashRedirect reports the canonical location for request
// targets with repeated slashes or backslashes in the path.
func repeatedSlashRedirect(r *http.Request) (string, bool) {
	target := r.RequestURI
	if !strings.HasPrefix(target, "/") {
		target = r.URL.RequestURI()
	}
	return routepath.NormalizeRepeatedSlashes(target)
}

// withURL returns r with its URL replaced by u, keeping everything else.
func withURL(r *http.Request, u *url.URL) *http.Request {
	if u == nil {
		return r
	}
	r2 := new(http.Request)
	*r2 = *r
	r2.URL = u
	return r2
}

// statusOverride replaces the status of the first WriteHeader or Write.
type statusOverride struct {
	http.ResponseWriter
	code  int
	wrote bool
}

func (s *statusOverride) WriteHeader(int) {
	if s.wrote {
		return
	}
	s.wrote = true
	s.ResponseWriter.WriteHeader(s.code)
}

func (s *statusOverride) Write(p []byte) (int, error) {
	if !s.wrote {
		s.WriteHeader(s.code)
	}
	return s.ResponseWriter.Write(p)
}

func (s *statusOverride) Unwrap() http.ResponseWriter { return s.ResponseWriter }
