package manifest

import (
	"net/http"
	"sort"
	"sync/atomic"

	"github.com/oreillyross/next.js/internal/config"
	"github.com/oreillyross/next.js/pkg/locale"
	"github.com/oreillyross/next.js/pkg/routematch"
)

// Set is a set of paths.
type Set map[string]struct{}

// NewSet returns a set holding items.
func NewSet(items ...string) Set {
	s := make(Set, len(items))
	for _, it := range items {
		s[it] = struct{}{}
	}
	return s
}

// Has reports whether p is in the set. A nil set is empty.
func (s Set) Has(p string) bool {
	_, ok := s[p]
	return ok
}

// Add inserts p.
func (s Set) Add(p string) { s[p] = struct{}{} }

// Sorted returns the members in order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// DynamicRoute is a page route with parameters.
type DynamicRoute struct {
	Page        string
	Matcher     *routematch.Matcher
	IsDataRoute bool
}

// Match matches pathname against the route.
func (d DynamicRoute) Match(pathname string) (routematch.Params, bool) {
	return d.Matcher.Match(pathname)
}

// CustomRoute is a compiled header, redirect or rewrite rule.
type CustomRoute struct {
	Source      string
	Destination *routematch.Template
	Matcher     *routematch.Matcher
	StatusCode  int
	Internal    bool

	// Check makes a rewrite consult the filesystem before the pipeline
	// settles on it. Set for afterFiles and fallback rewrites.
	Check bool

	Headers []config.Header
	Has     []*routematch.CompiledCondition
	Missing []*routematch.CompiledCondition
}

// Match matches the request whose effective pathname is pathname. Params
// captured by has conditions override path params.
func (c *CustomRoute) Match(r *http.Request, pathname string) (routematch.Params, bool) {
	params, ok := c.Matcher.Match(pathname)
	if !ok {
		return nil, false
	}
	if len(c.Has) == 0 && len(c.Missing) == 0 {
		return params, true
	}
	hasParams, ok := routematch.MatchHas(r, c.Has, c.Missing)
	if !ok {
		return nil, false
	}
	return params.Merge(hasParams), true
}

// RewriteSet groups rewrites by phase.
type RewriteSet struct {
	BeforeFiles []*CustomRoute
	AfterFiles  []*CustomRoute
	Fallback    []*CustomRoute
}

// MiddlewareRule is one compiled middleware matcher.
type MiddlewareRule struct {
	Source  string
	Matcher *routematch.Matcher
	Has     []*routematch.CompiledCondition
	Missing []*routematch.CompiledCondition
}

// MiddlewareMatcher decides which requests run middleware.
type MiddlewareMatcher struct {
	Name  string
	Files []string
	Rules []MiddlewareRule
}

// Match reports whether middleware runs for the request. An empty rule
// list matches everything.
func (m *MiddlewareMatcher) Match(r *http.Request, pathname string) bool {
	if m == nil {
		return false
	}
	if len(m.Rules) == 0 {
		return true
	}
	for _, rule := range m.Rules {
		if !rule.Matcher.MatchString(pathname) {
			continue
		}
		if len(rule.Has) == 0 && len(rule.Missing) == 0 {
			return true
		}
		if _, ok := routematch.MatchHas(r, rule.Has, rule.Missing); ok {
			return true
		}
	}
	return false
}

// Table is one generation of routing state. It is never mutated after
// Load or LoadLive return it.
type Table struct {
	BuildID    string
	Generation uint64

	// Live tables resolve against the filesystem on every request.
	Live bool

	BasePath      string
	TrailingSlash bool
	CaseSensitive bool
	I18n          *locale.Config

	// Static asset sets hold encoded request paths. Next static entries
	// keep their "/_next/static" prefix.
	PublicFiles       Set
	NextStaticFiles   Set
	LegacyStaticFiles Set

	// Roots of each static kind and of page sources, relative to the
	// project root.
	PublicDir       string
	NextStaticDir   string
	LegacyStaticDir string
	PagesDir        string
	AppDir          string

	// PageFiles and AppFiles hold locale-stripped route paths.
	PageFiles Set
	AppFiles  Set

	// PageOutputs maps a page to its output file, relative to the project
	// root.
	PageOutputs map[string]string

	DynamicRoutes []DynamicRoute

	// DataRoutes holds pages served as /_next/data/<buildId>/<page>.json.
	DataRoutes Set

	Headers   []*CustomRoute
	Redirects []*CustomRoute
	Rewrites  RewriteSet

	Middleware *MiddlewareMatcher

	Prerender *Prerender
}

// Locales returns the configured locales or nil.
func (t *Table) Locales() []string {
	if !t.I18n.Enabled() {
		return nil
	}
	return t.I18n.Locales
}

// DefaultLocale returns the default locale or "".
func (t *Table) DefaultLocale() string {
	if !t.I18n.Enabled() {
		return ""
	}
	return t.I18n.DefaultLocale
}

// MatchDynamic returns the first non-data dynamic route matching pathname.
func (t *Table) MatchDynamic(pathname string) (*DynamicRoute, routematch.Params, bool) {
	for i := range t.DynamicRoutes {
		d := &t.DynamicRoutes[i]
		if d.IsDataRoute {
			continue
		}
		if params, ok := d.Match(pathname); ok {
			return d, params, true
		}
	}
	return nil, nil, false
}

// MatchDataRoute returns the first data route matching pathname.
func (t *Table) MatchDataRoute(pathname string) (*DynamicRoute, routematch.Params, bool) {
	for i := range t.DynamicRoutes {
		d := &t.DynamicRoutes[i]
		if !d.IsDataRoute {
			continue
		}
		if params, ok := d.Match(pathname); ok {
			return d, params, true
		}
	}
	return nil, nil, false
}

// Prerender is the decoded prerender-manifest.json.
type Prerender struct {
	Version        int                              `json:"version"`
	Routes         map[string]PrerenderRoute        `json:"routes"`
	DynamicRoutes  map[string]PrerenderDynamicRoute `json:"dynamicRoutes"`
	NotFoundRoutes []string                         `json:"notFoundRoutes"`
	Preview        PreviewData                      `json:"preview"`
}

// PrerenderRoute is a statically generated path.
type PrerenderRoute struct {
	InitialRevalidateSeconds any    `json:"initialRevalidateSeconds"`
	SrcRoute                 string `json:"srcRoute"`
	DataRoute                string `json:"dataRoute"`
}

// PrerenderDynamicRoute is a dynamic page with generated paths.
type PrerenderDynamicRoute struct {
	RouteRegex     string `json:"routeRegex"`
	DataRoute      string `json:"dataRoute"`
	DataRouteRegex string `json:"dataRouteRegex"`

	// Fallback is false, null or the fallback page.
	Fallback any `json:"fallback"`
}

// PreviewData holds the preview mode secrets.
type PreviewData struct {
	PreviewModeID            string `json:"previewModeId"`
	PreviewModeSigningKey    string `json:"previewModeSigningKey"`
	PreviewModeEncryptionKey string `json:"previewModeEncryptionKey"`
}

// IsNotFound reports whether pathname is a prerendered 404.
func (p *Prerender) IsNotFound(pathname string) bool {
	if p == nil {
		return false
	}
	for _, r := range p.NotFoundRoutes {
		if r == pathname {
			return true
		}
	}
	return false
}

var generation atomic.Uint64

func nextGeneration() uint64 { return generation.Add(1) }
