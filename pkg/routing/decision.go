package routing

import (
	"io"
	"net/http"
	"net/url"

	"github.com/oreillyross/next.js/pkg/fsitem"
	"github.com/oreillyross/next.js/pkg/routematch"
)

// Decision is the terminal outcome of the pipeline. It is one of *Serve,
// *Rewrite, *ProxyUpstream, *Redirect, *MiddlewareResponse or *NoMatch.
type Decision interface {
	// Kind names the decision for logs and metrics.
	Kind() string
}

// Serve serves a filesystem item or a page.
type Serve struct {
	Item *fsitem.Item

	// Page and Params are set when a dynamic route matched.
	Page   string
	Params routematch.Params

	// URL is the final path and query after rewrites.
	URL    *url.URL
	Locale string
}

// Rewrite is an internal middleware rewrite. Target is nil when the
// rewritten path matches nothing.
type Rewrite struct {
	URL        *url.URL
	StatusCode int
	Target     *Serve
}

// ProxyUpstream forwards the request to an external URL.
type ProxyUpstream struct {
	URL *url.URL
}

// Redirect answers with a Location header.
type Redirect struct {
	URL        string
	StatusCode int
}

// MiddlewareResponse is a response produced by middleware itself. Body
// is nil for empty responses and must be closed by the caller otherwise.
type MiddlewareResponse struct {
	StatusCode int
	Body       io.ReadCloser
	Refresh    bool
}

// NoMatch means nothing matched. URL is the final path after rewrites.
type NoMatch struct {
	URL *url.URL
}

func (*Serve) Kind() string              { return "serve" }
func (*Rewrite) Kind() string            { return "rewrite" }
func (*ProxyUpstream) Kind() string      { return "proxy" }
func (*Redirect) Kind() string           { return "redirect" }
func (*MiddlewareResponse) Kind() string { return "middleware" }
func (*NoMatch) Kind() string            { return "nomatch" }

// Result is what Resolve returns.
type Result struct {
	Decision Decision

	// Headers are response headers accumulated by header rules, redirects
	// and middleware. Set-Cookie keeps one value per cookie.
	Headers http.Header

	// RequestHeader replaces the request headers seen downstream when
	// middleware overrode them. Nil otherwise.
	RequestHeader http.Header

	// Locale is the detected or default locale, empty without i18n.
	Locale string

	// MiddlewareRan reports whether middleware was invoked.
	MiddlewareRan bool

	BuildID    string
	Generation uint64
}

// Close releases a middleware response body, if any.
func (r *Result) Close() error {
	if mr, ok := r.Decision.(*MiddlewareResponse); ok && mr.Body != nil {
		return mr.Body.Close()
	}
	return nil
}
