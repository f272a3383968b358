package manifest

import (
	"context"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oreillyross/next.js/internal/config"
	rerrors "github.com/oreillyross/next.js/internal/errors"
	"github.com/oreillyross/next.js/pkg/routematch"
)

// LocaleParam is the parameter that carries the locale segment in
// processed custom routes.
const LocaleParam = "nextInternalLocale"

// LoadLive derives a table from the pages/ and app/ directories and the
// configuration. Each call produces a new build id.
func LoadLive(ctx context.Context, cfg *config.Config, opts Options) (*Table, error) {
	opts = opts.withDefaults(cfg)

	t := &Table{
		BuildID:         uuid.NewString(),
		Generation:      nextGeneration(),
		Live:            true,
		BasePath:        cfg.BasePath,
		TrailingSlash:   cfg.TrailingSlash,
		CaseSensitive:   cfg.Experimental.CaseSensitiveRoutes,
		I18n:            cfg.I18n,
		PublicDir:       publicDirName,
		NextStaticDir:   path.Join(distName(cfg), "static"),
		LegacyStaticDir: legacyStaticDirName,
		PageFiles:       Set{},
		AppFiles:        Set{},
		PageOutputs:     map[string]string{},
		DataRoutes:      Set{},
	}

	scan := &liveScanner{ctx: ctx, src: opts.Source, exts: cfg.PageExtensions}

	pagesDir, pageFiles, err := scan.firstDir("pages", "src/pages")
	if err != nil {
		return nil, rerrors.New("R007").WithFile("pages").Wrap(err)
	}
	t.PagesDir = pagesDir
	for _, f := range pageFiles {
		route, ok := scan.pageRoute(f)
		if !ok {
			continue
		}
		t.PageFiles.Add(route)
		t.PageOutputs[route] = path.Join(pagesDir, f)
		if !isAPIRoute(route) {
			t.DataRoutes.Add(route)
		}
	}

	appDir, appFiles, err := scan.firstDir("app", "src/app")
	if err != nil {
		return nil, rerrors.New("R007").WithFile("app").Wrap(err)
	}
	t.AppDir = appDir
	for _, f := range appFiles {
		route, ok := scan.appRoute(f)
		if !ok {
			continue
		}
		t.AppFiles.Add(route)
		if _, exists := t.PageOutputs[route]; !exists {
			t.PageOutputs[route] = path.Join(appDir, f)
		}
	}

	routes := make([]string, 0, len(t.PageFiles)+len(t.AppFiles))
	for p := range t.PageFiles {
		routes = append(routes, p)
	}
	for p := range t.AppFiles {
		if !t.PageFiles.Has(p) {
			routes = append(routes, p)
		}
	}
	SortBySpecificity(routes)
	dataPages := make([]string, 0, len(t.DataRoutes))
	for _, p := range routes {
		if t.DataRoutes.Has(p) {
			dataPages = append(dataPages, p)
		}
	}

	if t.DynamicRoutes, err = dynamicRoutes(dataPages, routes, t.BuildID, t.I18n.Enabled()); err != nil {
		return nil, rerrors.New("R007").Wrap(err)
	}

	headers := processRoutes(cfg.Headers, cfg, kindHeader)
	redirects := append(internalRedirects(cfg), processRoutes(cfg.Redirects, cfg, kindRedirect)...)
	rewrites := config.Rewrites{
		BeforeFiles: processRoutes(cfg.Rewrites.BeforeFiles, cfg, kindRewrite),
		AfterFiles:  processRoutes(cfg.Rewrites.AfterFiles, cfg, kindRewrite),
		Fallback:    processRoutes(cfg.Rewrites.Fallback, cfg, kindRewrite),
	}
	rc := routeCompiler{basePath: cfg.BasePath, caseSensitive: t.CaseSensitive}
	if err := rc.compileCustomRoutes(t, headers, redirects, rewrites); err != nil {
		return nil, rerrors.New("R024").Wrap(err)
	}

	if cfg.Middleware.Script != "" {
		if t.Middleware, err = liveMiddleware(cfg); err != nil {
			return nil, rerrors.New("R026").Wrap(err)
		}
	}

	opts.Logger.Debug("scanned project",
		zap.String("buildId", t.BuildID),
		zap.Uint64("generation", t.Generation),
		zap.String("pagesDir", t.PagesDir),
		zap.String("appDir", t.AppDir),
		zap.Int("pages", len(t.PageFiles)),
		zap.Int("appRoutes", len(t.AppFiles)),
		zap.Int("dynamicRoutes", len(t.DynamicRoutes)),
	)
	return t, nil
}

type liveScanner struct {
	ctx  context.Context
	src  Source
	exts []string
}

// firstDir lists the first of dirs that holds any file.
func (s *liveScanner) firstDir(dirs ...string) (string, []string, error) {
	for _, dir := range dirs {
		files, err := s.src.List(s.ctx, dir)
		if err != nil {
			return "", nil, err
		}
		if len(files) > 0 {
			return dir, files, nil
		}
	}
	return "", nil, nil
}

// trimExt strips a configured page extension from f.
func (s *liveScanner) trimExt(f string) (string, bool) {
	for _, ext := range s.exts {
		if strings.HasSuffix(f, "."+ext) {
			return strings.TrimSuffix(f, "."+ext), true
		}
	}
	return "", false
}

// pageRoute maps a file below pages/ to its route.
func (s *liveScanner) pageRoute(f string) (string, bool) {
	name, ok := s.trimExt(f)
	if !ok {
		return "", false
	}
	switch name {
	case "_app", "_document", "_error":
		return "", false
	}

	route := "/" + name
	if route == "/index" {
		return "/", true
	}
	return strings.TrimSuffix(route, "/index"), true
}

// appRoute maps a page or route file below app/ to its route. Route
// groups and parallel slots do not appear in the URL and private folders
// are not routable.
func (s *liveScanner) appRoute(f string) (string, bool) {
	name, ok := s.trimExt(f)
	if !ok {
		return "", false
	}
	dir, base := path.Split(name)
	if base != "page" && base != "route" {
		return "", false
	}

	var segments []string
	for _, seg := range strings.Split(strings.Trim(dir, "/"), "/") {
		switch {
		case seg == "":
			continue
		case strings.HasPrefix(seg, "_"):
			return "", false
		case strings.HasPrefix(seg, "(") && strings.HasSuffix(seg, ")"):
			continue
		case strings.HasPrefix(seg, "@"):
			continue
		}
		segments = append(segments, strings.ReplaceAll(seg, "%5F", "_"))
	}
	return "/" + strings.Join(segments, "/"), true
}

func isAPIRoute(route string) bool {
	return route == "/api" || strings.HasPrefix(route, "/api/")
}

// segmentRank orders segment kinds: static, [param], [...catchAll],
// [[...optional]].
func segmentRank(seg string) int {
	switch {
	case strings.HasPrefix(seg, "[[..."):
		return 3
	case strings.HasPrefix(seg, "[..."):
		return 2
	case strings.HasPrefix(seg, "["):
		return 1
	}
	return 0
}

// SortBySpecificity orders routes so that the first structural match is
// the most specific one. Segments are compared left to right; static
// segments beat parameters, which beat catch-alls, which beat optional
// catch-alls. Shorter routes come before their extensions.
func SortBySpecificity(routes []string) {
	sort.SliceStable(routes, func(i, j int) bool {
		a := strings.Split(strings.Trim(routes[i], "/"), "/")
		b := strings.Split(strings.Trim(routes[j], "/"), "/")
		for k := 0; k < len(a) && k < len(b); k++ {
			ra, rb := segmentRank(a[k]), segmentRank(b[k])
			if ra != rb {
				return ra < rb
			}
			if ra == 0 && a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return len(a) < len(b)
	})
}

// processRoutes applies the basePath and locale prefixes to routes taken
// from the configuration. Redirects also get a variant for the default
// locale so "/en/old" redirects like "/old".
func processRoutes(routes []config.Route, cfg *config.Config, kind string) []config.Route {
	if len(routes) == 0 {
		return nil
	}

	var localeAlts string
	if cfg.I18n.Enabled() {
		quoted := make([]string, len(cfg.I18n.Locales))
		for i, l := range cfg.I18n.Locales {
			quoted[i] = regexp.QuoteMeta(l)
		}
		localeAlts = strings.Join(quoted, "|")
	}

	rootSuffix := func(p string) string {
		if p == "/" && !cfg.TrailingSlash {
			return ""
		}
		return p
	}

	out := make([]config.Route, 0, len(routes))
	for _, orig := range routes {
		r := orig

		srcBasePath := cfg.BasePath
		if r.BasePath != nil && !*r.BasePath {
			srcBasePath = ""
		}
		isExternal := !strings.HasPrefix(r.Destination, "/")
		destBasePath := ""
		if srcBasePath != "" && !isExternal {
			destBasePath = srcBasePath
		}

		if cfg.I18n.Enabled() && (r.Locale == nil || *r.Locale) {
			if kind == kindRedirect && !isExternal {
				d := orig
				d.Source = srcBasePath + "/" + cfg.I18n.DefaultLocale + rootSuffix(orig.Source)
				d.Destination = destBasePath + orig.Destination
				out = append(out, d)
			}

			r.Source = "/:" + LocaleParam + "(" + localeAlts + ")" + rootSuffix(r.Source)
			if strings.HasPrefix(r.Destination, "/") {
				r.Destination = "/:" + LocaleParam + rootSuffix(r.Destination)
			}
		}

		if r.Source == "/" && srcBasePath != "" {
			r.Source = srcBasePath
		} else {
			r.Source = srcBasePath + r.Source
		}
		if r.Destination != "" {
			if r.Destination == "/" && destBasePath != "" {
				r.Destination = destBasePath
			} else {
				r.Destination = destBasePath + r.Destination
			}
		}
		out = append(out, r)
	}
	return out
}

// internalRedirects are the generated trailing slash redirects. They go
// ahead of every configured redirect.
func internalRedirects(cfg *config.Config) []config.Route {
	permanent := true
	noBasePath := false
	var noLocale *bool
	if cfg.I18n.Enabled() {
		f := false
		noLocale = &f
	}

	var out []config.Route
	if cfg.TrailingSlash {
		if cfg.BasePath != "" {
			out = append(out, config.Route{
				Source:      cfg.BasePath,
				Destination: cfg.BasePath + "/",
				Permanent:   &permanent,
				BasePath:    &noBasePath,
				Locale:      noLocale,
				Internal:    true,
			})
		}
		out = append(out,
			config.Route{
				Source:      `/:file((?!\.well-known(?:/.*)?)(?:[^/]+/)*[^/]+\.\w+)/`,
				Destination: "/:file",
				Permanent:   &permanent,
				Locale:      noLocale,
				Internal:    true,
				Missing:     []routematch.Condition{{Type: routematch.ConditionHeader, Key: "x-nextjs-data"}},
			},
			config.Route{
				Source:      `/:notfile((?!\.well-known(?:/.*)?)(?:[^/]+/)*[^/\.]+)`,
				Destination: "/:notfile/",
				Permanent:   &permanent,
				Locale:      noLocale,
				Internal:    true,
			},
		)
		return out
	}

	if cfg.BasePath != "" {
		out = append(out, config.Route{
			Source:      cfg.BasePath + "/",
			Destination: cfg.BasePath,
			Permanent:   &permanent,
			BasePath:    &noBasePath,
			Locale:      noLocale,
			Internal:    true,
		})
	}
	return append(out, config.Route{
		Source:      "/:path+/",
		Destination: "/:path+",
		Permanent:   &permanent,
		Locale:      noLocale,
		Internal:    true,
	})
}

// liveMiddleware compiles the configured middleware matchers. Sources also
// match the data route and locale-prefixed forms of the path, and accept a
// trailing delimiter.
func liveMiddleware(cfg *config.Config) (*MiddlewareMatcher, error) {
	m := &MiddlewareMatcher{Name: "middleware", Files: []string{cfg.Middleware.Script}}
	for _, mm := range cfg.Middleware.Matcher {
		source := mm.Source
		isRoot := source == "/"

		if cfg.I18n.Enabled() && (mm.Locale == nil || *mm.Locale) {
			rest := source
			if isRoot {
				rest = ""
			}
			source = "/:" + LocaleParam + "((?!_next/)[^/.]{1,})?" + rest
		}

		if isRoot {
			alt := `/?index|/?index\.json`
			if cfg.I18n.Enabled() {
				alt = `|\.json|` + alt
			}
			source = "/:nextData(_next/data/[^/]{1,})?" + source + "(" + alt + ")?"
		} else {
			source = "/:nextData(_next/data/[^/]{1,})?" + source + `(\.json)?`
		}
		source = cfg.BasePath + source

		matcher, err := routematch.Compile(source, routematch.Options{Internal: true})
		if err != nil {
			return nil, err
		}
		rule := MiddlewareRule{Source: mm.Source, Matcher: matcher}
		if rule.Has, err = routematch.CompileConditions(mm.Has); err != nil {
			return nil, err
		}
		if rule.Missing, err = routematch.CompileConditions(mm.Missing); err != nil {
			return nil, err
		}
		m.Rules = append(m.Rules, rule)
	}
	return m, nil
}
