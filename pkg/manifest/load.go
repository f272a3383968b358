// Package manifest builds the route table a router generation serves from.
//
// In production the table is read from the build output:
//
//	.next/BUILD_ID
//	.next/routes-manifest.json
//	.next/prerender-manifest.json
//	.next/server/pages-manifest.json
//	.next/server/middleware-manifest.json   (optional)
//	.next/app-path-routes-manifest.json     (optional)
//
// plus an eager listing of public/, static/ and .next/static/. In live mode
// (LoadLive) the table is derived from the pages/ and app/ directories and
// the configuration instead, and static folders are checked per request.
package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/oreillyross/next.js/internal/config"
	rerrors "github.com/oreillyross/next.js/internal/errors"
	"github.com/oreillyross/next.js/pkg/locale"
	"github.com/oreillyross/next.js/pkg/routematch"
	"github.com/oreillyross/next.js/pkg/routepath"
)

// Artifact names, relative to the build directory.
const (
	BuildIDFile            = "BUILD_ID"
	RoutesManifest         = "routes-manifest.json"
	PrerenderManifest      = "prerender-manifest.json"
	PagesManifest          = "server/pages-manifest.json"
	MiddlewareManifest     = "server/middleware-manifest.json"
	AppPathRoutesManifest  = "app-path-routes-manifest.json"
	nextStaticPrefix       = "/_next/static"
	publicDirName          = "public"
	legacyStaticDirName    = "static"
	middlewareManifestRoot = "/"
)

// Options configures Load and LoadLive.
type Options struct {
	// Source reads the project. Defaults to the OS filesystem rooted at
	// the configured project directory.
	Source Source

	// Logger receives load diagnostics. Defaults to a no-op logger.
	Logger *zap.Logger
}

func (o Options) withDefaults(cfg *config.Config) Options {
	if o.Source == nil {
		o.Source = NewOsSource(cfg.Dir())
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	o.Logger = o.Logger.Named("manifest")
	return o
}

type routesManifest struct {
	Version       int             `json:"version"`
	BasePath      string          `json:"basePath"`
	CaseSensitive bool            `json:"caseSensitive"`
	Headers       []config.Route  `json:"headers"`
	Redirects     []config.Route  `json:"redirects"`
	Rewrites      config.Rewrites `json:"rewrites"`
	DynamicRoutes []struct {
		Page string `json:"page"`
	} `json:"dynamicRoutes"`
	DataRoutes []struct {
		Page string `json:"page"`
	} `json:"dataRoutes"`
}

type middlewareManifest struct {
	Version    int                        `json:"version"`
	Middleware map[string]middlewareEntry `json:"middleware"`
}

type middlewareEntry struct {
	Name     string   `json:"name"`
	Page     string   `json:"page"`
	Files    []string `json:"files"`
	Matchers []struct {
		Regexp         string                 `json:"regexp"`
		OriginalSource string                 `json:"originalSource"`
		Locale         *bool                  `json:"locale"`
		Has            []routematch.Condition `json:"has"`
		Missing        []routematch.Condition `json:"missing"`
	} `json:"matchers"`
}

// loader reads artifacts from one build directory.
type loader struct {
	ctx  context.Context
	src  Source
	dist string
}

// read returns an artifact. A missing artifact is reported as such; other
// read failures mean the source itself is unavailable.
func (l *loader) read(name string) ([]byte, error) {
	full := path.Join(l.dist, name)
	data, err := l.src.ReadFile(l.ctx, full)
	if err == nil {
		return data, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil, rerrors.New("R002").WithFile(full).Wrap(err).
			WithSuggestion("Run the build before starting the server, or check distDir")
	}
	return nil, rerrors.New("R006").WithFile(full).Wrap(err)
}

// readJSON decodes an artifact into v. Optional artifacts that do not
// exist leave v untouched.
func (l *loader) readJSON(name string, v any, required bool) error {
	data, err := l.read(name)
	if err != nil {
		var re *rerrors.Error
		if !required && errors.As(err, &re) && re.Code == "R002" {
			return nil
		}
		return err
	}

	if err := json.Unmarshal(data, v); err != nil {
		full := path.Join(l.dist, name)
		e := rerrors.New("R003").Wrap(err)
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.As(err, &syntaxErr):
			return e.WithOffset(full, data, syntaxErr.Offset)
		case errors.As(err, &typeErr):
			return e.WithOffset(full, data, typeErr.Offset)
		}
		return e.WithFile(full)
	}
	return nil
}

// distName returns the build directory relative to the project root.
func distName(cfg *config.Config) string {
	d := cfg.DistDir
	if filepath.IsAbs(d) {
		if rel, err := filepath.Rel(cfg.Dir(), d); err == nil {
			d = rel
		}
	}
	return path.Clean(filepath.ToSlash(d))
}

// Load reads a build from its manifests. Any required artifact that is
// missing or malformed is a startup error: the process must not serve.
func Load(ctx context.Context, cfg *config.Config, opts Options) (*Table, error) {
	opts = opts.withDefaults(cfg)
	l := &loader{ctx: ctx, src: opts.Source, dist: distName(cfg)}

	raw, err := l.read(BuildIDFile)
	if err != nil {
		var re *rerrors.Error
		if errors.As(err, &re) && re.Code == "R002" {
			return nil, rerrors.New("R001").WithFile(path.Join(l.dist, BuildIDFile)).Wrap(re.Wrapped).
				WithSuggestion("Run the build before starting the server, or check distDir")
		}
		return nil, err
	}
	buildID := strings.TrimSpace(string(raw))
	if buildID == "" {
		return nil, rerrors.New("R001").WithFile(path.Join(l.dist, BuildIDFile)).
			WithDetail("The BUILD_ID marker is empty.")
	}

	var (
		routes    routesManifest
		prerender Prerender
		pages     map[string]string
		mw        middlewareManifest
		appPaths  map[string]string
	)
	if err := l.readJSON(RoutesManifest, &routes, true); err != nil {
		return nil, err
	}
	if err := l.readJSON(PrerenderManifest, &prerender, true); err != nil {
		return nil, err
	}
	if err := l.readJSON(PagesManifest, &pages, true); err != nil {
		return nil, err
	}
	if err := l.readJSON(MiddlewareManifest, &mw, false); err != nil {
		return nil, err
	}
	if err := l.readJSON(AppPathRoutesManifest, &appPaths, false); err != nil {
		return nil, err
	}

	t := &Table{
		BuildID:         buildID,
		Generation:      nextGeneration(),
		BasePath:        cfg.BasePath,
		TrailingSlash:   cfg.TrailingSlash,
		CaseSensitive:   cfg.Experimental.CaseSensitiveRoutes || routes.CaseSensitive,
		I18n:            cfg.I18n,
		PublicDir:       publicDirName,
		NextStaticDir:   path.Join(l.dist, "static"),
		LegacyStaticDir: legacyStaticDirName,
		PagesDir:        path.Join(l.dist, "server", "pages"),
		AppDir:          path.Join(l.dist, "server", "app"),
		PageFiles:       Set{},
		AppFiles:        Set{},
		PageOutputs:     map[string]string{},
		DataRoutes:      Set{},
		Prerender:       &prerender,
	}

	locales := t.Locales()
	pageKeys := make([]string, 0, len(pages))
	for k := range pages {
		pageKeys = append(pageKeys, k)
	}
	sort.Strings(pageKeys)
	for _, k := range pageKeys {
		p := locale.Normalize(k, locales).Pathname
		t.PageFiles.Add(p)
		if _, ok := t.PageOutputs[p]; !ok {
			t.PageOutputs[p] = path.Join(l.dist, "server", pages[k])
		}
	}
	for _, route := range appPaths {
		t.AppFiles.Add(route)
	}

	dataPages := make([]string, 0, len(routes.DataRoutes))
	for _, d := range routes.DataRoutes {
		dataPages = append(dataPages, d.Page)
		t.DataRoutes.Add(d.Page)
	}
	dynPages := make([]string, 0, len(routes.DynamicRoutes))
	for _, d := range routes.DynamicRoutes {
		dynPages = append(dynPages, d.Page)
	}
	if t.DynamicRoutes, err = dynamicRoutes(dataPages, dynPages, buildID, t.I18n.Enabled()); err != nil {
		return nil, rerrors.New("R004").WithFile(path.Join(l.dist, RoutesManifest)).Wrap(err)
	}

	rc := routeCompiler{basePath: cfg.BasePath, caseSensitive: t.CaseSensitive}
	if err := rc.compileCustomRoutes(t, routes.Headers, routes.Redirects, routes.Rewrites); err != nil {
		return nil, rerrors.New("R004").WithFile(path.Join(l.dist, RoutesManifest)).Wrap(err)
	}

	if entry, ok := mw.Middleware[middlewareManifestRoot]; ok {
		if t.Middleware, err = compileMiddlewareEntry(entry); err != nil {
			return nil, rerrors.New("R005").WithFile(path.Join(l.dist, MiddlewareManifest)).Wrap(err)
		}
	}

	if err := l.listStatic(t); err != nil {
		return nil, err
	}

	opts.Logger.Debug("loaded build",
		zap.String("buildId", t.BuildID),
		zap.Uint64("generation", t.Generation),
		zap.Int("pages", len(t.PageFiles)),
		zap.Int("appRoutes", len(t.AppFiles)),
		zap.Int("dynamicRoutes", len(t.DynamicRoutes)),
		zap.Int("publicFiles", len(t.PublicFiles)),
		zap.Int("staticFiles", len(t.NextStaticFiles)+len(t.LegacyStaticFiles)),
		zap.Bool("middleware", t.Middleware != nil),
	)
	return t, nil
}

func compileMiddlewareEntry(entry middlewareEntry) (*MiddlewareMatcher, error) {
	m := &MiddlewareMatcher{Name: entry.Name, Files: entry.Files}
	for _, mm := range entry.Matchers {
		matcher, err := routematch.CompileRegexp(mm.Regexp, true)
		if err != nil {
			return nil, err
		}
		rule := MiddlewareRule{Source: mm.OriginalSource, Matcher: matcher}
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

// listStatic enumerates the three static folders as encoded request paths.
func (l *loader) listStatic(t *Table) error {
	list := func(dir string) ([]string, error) {
		files, err := l.src.List(l.ctx, dir)
		if err != nil {
			return nil, rerrors.New("R006").WithFile(dir).Wrap(err)
		}
		return files, nil
	}

	public, err := list(t.PublicDir)
	if err != nil {
		return err
	}
	t.PublicFiles = make(Set, len(public))
	for _, f := range public {
		t.PublicFiles.Add(routepath.EncodeURI("/" + f))
	}

	next, err := list(t.NextStaticDir)
	if err != nil {
		return err
	}
	t.NextStaticFiles = make(Set, len(next))
	for _, f := range next {
		t.NextStaticFiles.Add(nextStaticPrefix + routepath.EncodeURI("/"+f))
	}

	legacy, err := list(t.LegacyStaticDir)
	if err != nil {
		return err
	}
	t.LegacyStaticFiles = make(Set, len(legacy))
	for _, f := range legacy {
		t.LegacyStaticFiles.Add(routepath.EncodeURI("/" + f))
	}
	return nil
}
