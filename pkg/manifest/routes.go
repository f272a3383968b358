package manifest

import (
	"fmt"

	"github.com/oreillyross/next.js/internal/config"
	"github.com/oreillyross/next.js/pkg/routematch"
)

// Route kinds.
const (
	kindHeader   = "header"
	kindRedirect = "redirect"
	kindRewrite  = "rewrite"
)

// routeCompiler compiles custom routes for one table.
type routeCompiler struct {
	basePath      string
	caseSensitive bool
}

func (c routeCompiler) compile(r config.Route, kind string, check bool) (*CustomRoute, error) {
	opts := routematch.Options{
		Strict:              true,
		RemoveUnnamedParams: true,
		Sensitive:           c.caseSensitive,
		Internal:            r.Internal,
	}
	if kind == kindRedirect {
		opts.Modifier = routematch.RedirectModifier(c.basePath + "/_next")
	} else {
		opts.Modifier = routematch.RedirectModifier()
	}

	m, err := routematch.Compile(r.Source, opts)
	if err != nil {
		return nil, fmt.Errorf("%s source %q: %w", kind, r.Source, err)
	}

	cr := &CustomRoute{
		Source:   r.Source,
		Matcher:  m,
		Internal: r.Internal,
		Check:    check,
		Headers:  r.Headers,
	}

	if kind != kindHeader {
		tpl, err := routematch.ParseTemplate(r.Destination)
		if err != nil {
			return nil, fmt.Errorf("%s %q: %w", kind, r.Source, err)
		}
		cr.Destination = tpl
	}
	if kind == kindRedirect {
		cr.StatusCode = r.RedirectStatus()
	}

	if cr.Has, err = routematch.CompileConditions(r.Has); err != nil {
		return nil, fmt.Errorf("%s %q: %w", kind, r.Source, err)
	}
	if cr.Missing, err = routematch.CompileConditions(r.Missing); err != nil {
		return nil, fmt.Errorf("%s %q: %w", kind, r.Source, err)
	}
	return cr, nil
}

func (c routeCompiler) compileAll(routes []config.Route, kind string, check bool) ([]*CustomRoute, error) {
	out := make([]*CustomRoute, 0, len(routes))
	for _, r := range routes {
		cr, err := c.compile(r, kind, check)
		if err != nil {
			return nil, err
		}
		out = append(out, cr)
	}
	return out, nil
}

// compileCustomRoutes fills the header, redirect and rewrite lists of t.
// afterFiles and fallback rewrites always check the filesystem.
func (c routeCompiler) compileCustomRoutes(t *Table, headers, redirects []config.Route, rewrites config.Rewrites) error {
	var err error
	if t.Headers, err = c.compileAll(headers, kindHeader, false); err != nil {
		return err
	}
	if t.Redirects, err = c.compileAll(redirects, kindRedirect, false); err != nil {
		return err
	}
	if t.Rewrites.BeforeFiles, err = c.compileAll(rewrites.BeforeFiles, kindRewrite, false); err != nil {
		return err
	}
	if t.Rewrites.AfterFiles, err = c.compileAll(rewrites.AfterFiles, kindRewrite, true); err != nil {
		return err
	}
	if t.Rewrites.Fallback, err = c.compileAll(rewrites.Fallback, kindRewrite, true); err != nil {
		return err
	}
	return nil
}

// dynamicRoutes compiles data routes first, then page routes, dropping
// duplicates of the same page and kind.
func dynamicRoutes(dataPages, pages []string, buildID string, localized bool) ([]DynamicRoute, error) {
	type key struct {
		page string
		data bool
	}
	seen := map[key]bool{}
	var out []DynamicRoute

	for _, page := range dataPages {
		if !routematch.IsDynamicRoute(page) || seen[key{page, true}] {
			continue
		}
		m, err := routematch.CompileDataRoute(page, buildID, localized)
		if err != nil {
			return nil, fmt.Errorf("data route %q: %w", page, err)
		}
		seen[key{page, true}] = true
		out = append(out, DynamicRoute{Page: page, Matcher: m, IsDataRoute: true})
	}

	for _, page := range pages {
		if !routematch.IsDynamicRoute(page) || seen[key{page, false}] {
			continue
		}
		m, err := routematch.CompileRoute(page)
		if err != nil {
			return nil, fmt.Errorf("dynamic route %q: %w", page, err)
		}
		seen[key{page, false}] = true
		out = append(out, DynamicRoute{Page: page, Matcher: m})
	}
	return out, nil
}
