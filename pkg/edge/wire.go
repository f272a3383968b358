package edge

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/oreillyross/next.js/pkg/locale"
)

// Wire headers between the router and the middleware endpoint.
const (
	HeaderNext            = "X-Middleware-Next"
	HeaderRewrite         = "X-Middleware-Rewrite"
	HeaderRefresh         = "X-Middleware-Refresh"
	HeaderOverrideHeaders = "X-Middleware-Override-Headers"
	HeaderRequestPrefix   = "X-Middleware-Request-"

	headerInvokeToken = "X-Middleware-Invoke-Token"
	headerConfig      = "X-Middleware-Config"
	headerOrigHost    = "X-Middleware-Original-Host"
	headerOrigProto   = "X-Middleware-Original-Proto"
	headerError       = "X-Middleware-Error"

	middlewarePrefix = "X-Middleware-"
)

// EdgeConfig is the configuration middleware code may see.
type EdgeConfig struct {
	I18n          *locale.Config `json:"i18n,omitempty"`
	BasePath      string         `json:"basePath,omitempty"`
	TrailingSlash bool           `json:"trailingSlash,omitempty"`
}

// Invocation is one request handed to an Executor.
type Invocation struct {
	Method string

	// URL is the absolute URL as the client requested it.
	URL *url.URL

	Header http.Header
	Body   []byte
	Config EdgeConfig
}

// Outcome is what middleware decided for an invocation.
type Outcome struct {
	// Next continues the pipeline.
	Next bool

	// Rewrite is the absolute or path-relative rewrite target.
	Rewrite string

	// Redirect is the Location of a redirect. StatusCode holds its status.
	Redirect string

	// Refresh asks the client router to reload.
	Refresh bool

	// RequestHeader replaces the request headers seen downstream. Nil
	// keeps them.
	RequestHeader http.Header

	StatusCode int
	Header     http.Header
	Body       []byte
}

// Executor runs middleware code.
type Executor interface {
	Execute(ctx context.Context, inv *Invocation) (*Outcome, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, inv *Invocation) (*Outcome, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, inv *Invocation) (*Outcome, error) {
	return f(ctx, inv)
}

// Response is a decoded middleware response.
type Response struct {
	StatusCode int

	// Header holds the response headers with wire and transport headers
	// removed and Set-Cookie values split.
	Header http.Header

	// Body streams the response body. It is nil when the response has no
	// body. Callers close it.
	Body io.ReadCloser

	Next     bool
	Rewrite  string
	Redirect string
	Refresh  bool

	// RequestHeader is the overridden request header set, or nil.
	RequestHeader http.Header
}

// Terminal reports whether the response ends the pipeline. A next
// response that asks for a refresh still answers the client.
func (r *Response) Terminal() bool {
	return !r.Next || r.Refresh
}

// Close releases the body.
func (r *Response) Close() error {
	if r.Body == nil {
		return nil
	}
	return r.Body.Close()
}

// hopHeaders never cross the boundary.
var hopHeaders = map[string]bool{
	"Content-Encoding":  true,
	"Content-Length":    true,
	"Transfer-Encoding": true,
	"Connection":        true,
	"Keep-Alive":        true,
	"Date":              true,
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// writeOutcome encodes out as the endpoint response.
func writeOutcome(w http.ResponseWriter, out *Outcome) {
	h := w.Header()
	for k, vs := range out.Header {
		for _, v := range vs {
			h.Add(k, v)
		}
	}

	status := out.StatusCode
	switch {
	case out.Redirect != "":
		h.Set("Location", out.Redirect)
		if !isRedirect(status) {
			status = http.StatusTemporaryRedirect
		}
	case out.Rewrite != "":
		h.Set(HeaderRewrite, out.Rewrite)
	case out.Next:
		h.Set(HeaderNext, "1")
	}
	if out.Refresh {
		h.Set(HeaderRefresh, "1")
	}

	if out.RequestHeader != nil {
		names := make([]string, 0, len(out.RequestHeader))
		for k := range out.RequestHeader {
			names = append(names, strings.ToLower(k))
		}
		sort.Strings(names)
		h.Set(HeaderOverrideHeaders, strings.Join(names, ","))
		for k, vs := range out.RequestHeader {
			h.Set(HeaderRequestPrefix+k, strings.Join(vs, ", "))
		}
	}

	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(out.Body) > 0 {
		w.Write(out.Body)
	}
}

// readResponse decodes an endpoint response. The body is handed over
// without reading it.
func readResponse(resp *http.Response) *Response {
	out := &Response{
		StatusCode: resp.StatusCode,
		Header:     http.Header{},
	}

	for k, vs := range resp.Header {
		switch {
		case hopHeaders[k]:
		case k == "Set-Cookie":
			for _, v := range vs {
				for _, c := range SplitCookies(v) {
					out.Header.Add(k, c)
				}
			}
		case strings.HasPrefix(k, middlewarePrefix):
		default:
			out.Header[k] = append([]string(nil), vs...)
		}
	}

	out.Next = resp.Header.Get(HeaderNext) != ""
	out.Rewrite = resp.Header.Get(HeaderRewrite)
	out.Refresh = resp.Header.Get(HeaderRefresh) != ""
	if isRedirect(resp.StatusCode) {
		out.Redirect = resp.Header.Get("Location")
		out.Next = false
	}

	if names := resp.Header.Get(HeaderOverrideHeaders); names != "" {
		out.RequestHeader = http.Header{}
		for _, name := range strings.Split(names, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if v := resp.Header.Values(HeaderRequestPrefix + name); len(v) > 0 {
				out.RequestHeader[http.CanonicalHeaderKey(name)] = v
			}
		}
	}

	if resp.Body != nil && resp.Body != http.NoBody && resp.ContentLength != 0 {
		out.Body = resp.Body
	} else if resp.Body != nil {
		resp.Body.Close()
	}
	return out
}
