package next

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/oreillyross/next.js/internal/config"
	"github.com/oreillyross/next.js/pkg/manifest"
	"github.com/oreillyross/next.js/pkg/routing"
)

// =============================================================================
// Configuration Types
// =============================================================================

// Config configures the serving shell.
type Config struct {
	// Router resolves every request. Required.
	Router *routing.Router

	// Source reads static files named by resolved items. It must read the
	// same project the router's tables were loaded from.
	// Required.
	Source manifest.Source

	// Renderer handles page and app route decisions. If nil, those
	// decisions answer 501.
	Renderer Renderer

	// NotFound handles requests nothing matched. If nil, http.NotFound is
	// used.
	NotFound http.Handler

	// DevHandler serves dev virtual items such as the HMR socket. Requests
	// for dev virtual items answer 404 without it.
	DevHandler http.Handler

	// ProxyTimeout bounds each proxied upstream call.
	// Default: config.DefaultProxyTimeout.
	ProxyTimeout time.Duration

	// Transport carries proxied requests. Default: http.DefaultTransport.
	Transport http.RoundTripper

	// Static configures static file responses.
	Static StaticConfig

	// Logger is the structured logger for the shell.
	// If nil, a no-op logger is used.
	Logger *zap.Logger
}

// StaticConfig configures static file serving.
type StaticConfig struct {
	// CacheControl determines caching behavior for static files.
	// Default: CacheControlNone (no-store, for live mode).
	CacheControl CacheControlStrategy

	// Headers are custom headers added to all static file responses.
	// Header rules from the route table are applied first and win.
	Headers map[string]string
}

// CacheControlStrategy determines caching behavior for static files.
type CacheControlStrategy int

const (
	// CacheControlNone marks every static response no-store.
	CacheControlNone CacheControlStrategy = iota

	// CacheControlProduction uses build-aware caching:
	//   - /_next/static and fingerprinted files: 1 year, immutable
	//   - Other files: public, max-age=0
	CacheControlProduction
)

// Renderer renders pages and app routes. It is the boundary to the
// rendering engine; the shell never renders anything itself.
type Renderer interface {
	Render(w http.ResponseWriter, r *http.Request, serve *routing.Serve)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(w http.ResponseWriter, r *http.Request, serve *routing.Serve)

// Render implements Renderer.
func (f RendererFunc) Render(w http.ResponseWriter, r *http.Request, serve *routing.Serve) {
	f(w, r, serve)
}

// ConfigFrom fills the shell settings carried by the router configuration.
// Non-live servers get production caching.
func ConfigFrom(cfg *config.Config, rt *routing.Router, src manifest.Source) Config {
	c := Config{
		Router:       rt,
		Source:       src,
		ProxyTimeout: cfg.ProxyTimeout,
	}
	if !rt.Table().Live {
		c.Static.CacheControl = CacheControlProduction
	}
	return c
}

type requestIDKey struct{}

// RequestID returns the id the shell assigned to the request, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
