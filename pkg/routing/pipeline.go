package routing

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	rerrors "github.com/oreillyross/next.js/internal/errors"
	"github.com/oreillyross/next.js/pkg/edge"
	"github.com/oreillyross/next.js/pkg/fsitem"
	"github.com/oreillyross/next.js/pkg/locale"
	"github.com/oreillyross/next.js/pkg/manifest"
	"github.com/oreillyross/next.js/pkg/routematch"
	"github.com/oreillyross/next.js/pkg/routepath"
)

const (
	queryLocale  = "__nextLocale"
	queryDataReq = "__nextDataReq"

	dataPathPrefix = "/_next/data/"
)

// state is one request's walk through the pipeline.
type state struct {
	rt    *Router
	table *manifest.Table
	gen   *generation
	r     *http.Request
	res   *Result

	// u holds the current path and query. Rewrites replace them.
	u *url.URL

	// initial is the matching path before any rewrite.
	initial string

	// localeAdded is set when the default locale was prefixed for
	// matching; redirects drop it again.
	localeAdded bool

	// checked is the last path looked up on the filesystem.
	checked string
}

func newState(rt *Router, gen *generation, r *http.Request) *state {
	u := &url.URL{Path: r.URL.Path, RawPath: r.URL.RawPath, RawQuery: r.URL.RawQuery}
	return &state{
		rt:    rt,
		table: gen.table,
		gen:   gen,
		r:     r,
		u:     u,
		res: &Result{
			Headers:    http.Header{},
			BuildID:    gen.table.BuildID,
			Generation: gen.table.Generation,
		},
	}
}

func (s *state) pathname() string { return s.u.EscapedPath() }

func (s *state) setPath(escaped string) {
	s.u.RawPath = escaped
	if p, err := url.PathUnescape(escaped); err == nil {
		s.u.Path = p
	} else {
		s.u.Path = escaped
	}
}

func (s *state) url() *url.URL {
	u := *s.u
	return &u
}

func (s *state) run(ctx context.Context) (Decision, error) {
	s.prepareLocale()
	s.initial = s.pathname()

	for _, route := range s.table.Headers {
		params, ok := route.Match(s.r, s.pathname())
		if !ok {
			continue
		}
		s.rt.observer.OnRouteMatch(ctx, PhaseHeaders, route)
		for _, h := range route.Headers {
			s.res.Headers.Set(routematch.FormatValue(h.Key, params), routematch.FormatValue(h.Value, params))
		}
	}

	for _, route := range s.table.Redirects {
		params, ok := route.Match(s.r, s.pathname())
		if !ok {
			continue
		}
		s.rt.observer.OnRouteMatch(ctx, PhaseRedirects, route)
		return s.redirect(route, params)
	}

	for _, route := range s.table.Rewrites.BeforeFiles {
		d, matched, err := s.rewrite(ctx, PhaseBeforeFiles, route)
		if err != nil || d != nil {
			return d, err
		}
		if matched {
			break
		}
	}

	if serve, err := s.check(ctx); err != nil || serve != nil {
		return decisionOf(serve), err
	}

	if d, err := s.middleware(ctx); err != nil || d != nil {
		return d, err
	}

	for _, route := range s.table.Rewrites.AfterFiles {
		if d, _, err := s.rewrite(ctx, PhaseAfterFiles, route); err != nil || d != nil {
			return d, err
		}
	}
	if s.pathname() != s.checked {
		if serve, err := s.check(ctx); err != nil || serve != nil {
			return decisionOf(serve), err
		}
	}

	for _, route := range s.table.Rewrites.Fallback {
		if d, _, err := s.rewrite(ctx, PhaseFallback, route); err != nil || d != nil {
			return d, err
		}
	}

	return &NoMatch{URL: s.url()}, nil
}

// decisionOf keeps a nil *Serve from turning into a non-nil Decision.
func decisionOf(serve *Serve) Decision {
	if serve == nil {
		return nil
	}
	return serve
}

// prepareLocale records the request locale and, when the path carries
// none, prefixes the default locale so locale-aware rules match.
func (s *state) prepareLocale() {
	t := s.table
	if !t.I18n.Enabled() {
		return
	}
	s.res.Locale = t.I18n.DefaultLocale

	rest, ok := routepath.StripBasePath(s.pathname(), t.BasePath)
	if !ok || strings.HasPrefix(rest, "/_next/") {
		return
	}
	if res := locale.Normalize(rest, t.I18n.Locales); res.DetectedLocale != "" {
		s.res.Locale = res.DetectedLocale
		return
	}

	p := "/" + t.I18n.DefaultLocale
	if rest != "/" {
		p += rest
	}
	s.setPath(routepath.AddPrefix(p, t.BasePath))
	s.localeAdded = true
}

func (s *state) redirect(route *manifest.CustomRoute, params routematch.Params) (Decision, error) {
	dest, err := route.Destination.Expand(params, routematch.ExpandOptions{Query: s.u.Query()})
	if err != nil {
		return nil, rerrors.New("R027").WithDetail(route.Source).Wrap(err)
	}
	if !route.Destination.External() && s.localeAdded {
		s.dropDefaultLocale(dest)
	}

	status := route.StatusCode
	if status == 0 {
		status = http.StatusPermanentRedirect
	}
	location := dest.String()
	s.res.Headers.Set("Location", location)
	if status == http.StatusPermanentRedirect {
		s.res.Headers.Set("Refresh", "0;url="+location)
	}
	return &Redirect{URL: location, StatusCode: status}, nil
}

// dropDefaultLocale removes a default locale prefix the client never sent.
func (s *state) dropDefaultLocale(dest *url.URL) {
	t := s.table
	rest, ok := routepath.StripBasePath(dest.EscapedPath(), t.BasePath)
	if !ok {
		return
	}
	res := locale.Normalize(rest, []string{t.I18n.DefaultLocale})
	if res.DetectedLocale == "" {
		return
	}
	escaped := routepath.AddPrefix(res.Pathname, t.BasePath)
	dest.RawPath = escaped
	if p, err := url.PathUnescape(escaped); err == nil {
		dest.Path = p
	} else {
		dest.Path = escaped
	}
}

// rewrite applies route when it matches. It returns a Decision when the
// rewrite settles the request: an external destination, or a filesystem
// hit for rules that check.
func (s *state) rewrite(ctx context.Context, phase Phase, route *manifest.CustomRoute) (Decision, bool, error) {
	params, ok := route.Match(s.r, s.pathname())
	if !ok {
		return nil, false, nil
	}
	s.rt.observer.OnRouteMatch(ctx, phase, route)

	dest, err := route.Destination.Expand(params, routematch.ExpandOptions{
		Query:        s.u.Query(),
		AppendParams: true,
		SkipParams:   []string{manifest.LocaleParam},
	})
	if err != nil {
		return nil, true, rerrors.New("R027").WithDetail(route.Source).Wrap(err)
	}
	if route.Destination.External() {
		return &ProxyUpstream{URL: dest}, true, nil
	}

	s.setPath(dest.EscapedPath())
	s.u.RawQuery = dest.RawQuery
	s.rewriteLocale()

	if !route.Check {
		return nil, true, nil
	}
	serve, err := s.check(ctx)
	return decisionOf(serve), true, err
}

// rewriteLocale carries a locale found in a rewritten path into the query.
func (s *state) rewriteLocale() {
	t := s.table
	if !t.I18n.Enabled() {
		return
	}
	rest, ok := routepath.StripBasePath(s.pathname(), t.BasePath)
	if !ok {
		return
	}
	if res := locale.Normalize(rest, t.I18n.Locales); res.DetectedLocale != "" {
		q := s.u.Query()
		q.Set(queryLocale, res.DetectedLocale)
		s.u.RawQuery = q.Encode()
		s.res.Locale = res.DetectedLocale
	}
}

// check looks the current path up on the filesystem, then against the
// dynamic routes. Prerendered 404 paths, and data requests for them, are
// misses.
func (s *state) check(ctx context.Context) (*Serve, error) {
	p := s.pathname()
	s.checked = p

	t := s.table
	rest, inBase := routepath.StripBasePath(p, t.BasePath)
	if inBase && t.Prerender.IsNotFound(rest) {
		return nil, nil
	}

	item, err := s.lookup(ctx, p)
	if err != nil {
		return nil, err
	}
	if item != nil {
		return &Serve{Item: item, URL: s.url(), Locale: s.localeFor(item.Locale)}, nil
	}
	if !inBase {
		return nil, nil
	}

	loc := locale.Normalize(rest, t.Locales())
	match := t.MatchDynamic
	if strings.HasPrefix(rest, dataPathPrefix) {
		match = t.MatchDataRoute
	}
	d, params, ok := match(loc.Pathname)
	if !ok {
		return nil, nil
	}

	detected := loc.DetectedLocale
	if d.IsDataRoute {
		if v := params.String(routematch.LocaleParam); v != "" {
			res := locale.Normalize("/"+v, t.Locales())
			if res.DetectedLocale == "" {
				return nil, nil
			}
			detected = res.DetectedLocale
		}
		delete(params, routematch.LocaleParam)
		if concrete, err := routematch.Interpolate(d.Page, params); err == nil {
			if detected != "" {
				concrete = routepath.AddPrefix(concrete, "/"+detected)
			}
			if t.Prerender.IsNotFound(concrete) {
				return nil, nil
			}
		}
	}

	page, err := s.lookup(ctx, routepath.AddPrefix(d.Page, t.BasePath))
	if err != nil || page == nil {
		return nil, err
	}

	u := s.url()
	if d.IsDataRoute {
		q := u.Query()
		q.Set(queryDataReq, "1")
		u.RawQuery = q.Encode()
	}
	return &Serve{
		Item:   page,
		Page:   d.Page,
		Params: params,
		URL:    u,
		Locale: s.localeFor(detected),
	}, nil
}

func (s *state) lookup(ctx context.Context, p string) (*fsitem.Item, error) {
	start := time.Now()
	item, err := s.gen.resolver.GetItem(ctx, p)
	if err != nil {
		return nil, err
	}
	s.rt.observer.OnResolved(ctx, p, item, time.Since(start))
	return item, nil
}

func (s *state) localeFor(detected string) string {
	if detected != "" {
		return detected
	}
	return s.res.Locale
}

// middleware runs the middleware stage. A nil Decision continues the
// pipeline.
func (s *state) middleware(ctx context.Context) (Decision, error) {
	m := s.table.Middleware
	if s.rt.invoker == nil || !m.Match(s.r, s.initial) {
		return nil, nil
	}

	var body *edge.CloneableBody
	if s.r.Body != nil && s.r.Body != http.NoBody {
		body = edge.NewCloneableBody(s.r.Body)
		defer func() {
			if rc, err := body.Clone(); err == nil {
				s.r.Body = rc
			}
		}()
	}

	start := time.Now()
	resp, err := s.rt.invoker.Invoke(ctx, s.r, body)
	s.rt.observer.OnMiddleware(ctx, resp, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	s.res.MiddlewareRan = true

	for k, vs := range resp.Header {
		if k == "Set-Cookie" {
			for _, v := range vs {
				s.res.Headers.Add(k, v)
			}
			continue
		}
		s.res.Headers[k] = vs
	}
	if resp.RequestHeader != nil {
		s.res.RequestHeader = resp.RequestHeader
	}

	switch {
	case resp.Redirect != "":
		resp.Close()
		s.res.Headers.Set("Location", resp.Redirect)
		return &Redirect{URL: resp.Redirect, StatusCode: resp.StatusCode}, nil
	case resp.Rewrite != "":
		resp.Close()
		return s.middlewareRewrite(ctx, resp)
	case !resp.Terminal():
		resp.Close()
		return nil, nil
	}
	return &MiddlewareResponse{StatusCode: resp.StatusCode, Body: resp.Body, Refresh: resp.Refresh}, nil
}

func (s *state) middlewareRewrite(ctx context.Context, resp *edge.Response) (Decision, error) {
	target, err := url.Parse(resp.Rewrite)
	if err != nil {
		return nil, rerrors.New("R042").WithDetail("invalid rewrite " + resp.Rewrite).Wrap(err)
	}
	if target.Host != "" && target.Host != s.r.Host {
		return &ProxyUpstream{URL: target}, nil
	}

	s.rt.logger.Debug("middleware rewrite",
		zap.String("from", s.r.URL.Path),
		zap.String("to", target.Path),
	)
	s.setPath(target.EscapedPath())
	s.u.RawQuery = target.RawQuery
	s.rewriteLocale()

	serve, err := s.check(ctx)
	if err != nil {
		return nil, err
	}
	return &Rewrite{URL: s.url(), StatusCode: resp.StatusCode, Target: serve}, nil
}
