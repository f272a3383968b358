package fsitem

import (
	"context"
	"errors"
	"io/fs"
	"path"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/oreillyross/next.js/pkg/locale"
	"github.com/oreillyross/next.js/pkg/lru"
	"github.com/oreillyross/next.js/pkg/manifest"
	"github.com/oreillyross/next.js/pkg/routepath"
)

const (
	nextImagePath    = "/_next/image"
	nextStaticPrefix = "/_next/static"
	legacyPrefix     = "/static"
	jsonSuffix       = ".json"
)

// candidates is the resolution order.
var candidates = []Type{
	TypeDevVirtual,
	TypeNextStatic,
	TypeLegacyStatic,
	TypePublic,
	TypeAppFile,
	TypePageFile,
}

// Options configures a Resolver.
type Options struct {
	// Fs is probed in live mode. It is rooted at the project directory.
	Fs afero.Fs

	// Ensure compiles pages and app routes on demand in live mode. Without
	// it, unknown live pages are misses.
	Ensure EnsureFunc

	// CacheWeight bounds the resolution cache. Defaults to
	// DefaultCacheWeight. Live resolvers never cache.
	CacheWeight int

	// Weight weighs cache entries. Defaults to DefaultWeight.
	Weight lru.WeightFunc[*Item]

	Logger *zap.Logger
}

// Resolver resolves request paths for one table generation. It is safe
// for concurrent use.
type Resolver struct {
	table  *manifest.Table
	cache  *lru.Cache[*Item]
	fs     afero.Fs
	ensure EnsureFunc
	logger *zap.Logger

	mu         sync.RWMutex
	devVirtual manifest.Set
}

// New creates a Resolver over table.
func New(table *manifest.Table, opts Options) (*Resolver, error) {
	r := &Resolver{
		table:      table,
		fs:         opts.Fs,
		ensure:     opts.Ensure,
		logger:     opts.Logger,
		devVirtual: manifest.Set{},
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	r.logger = r.logger.Named("fsitem")

	if table.Live {
		if r.fs == nil {
			r.fs = afero.NewOsFs()
		}
		return r, nil
	}

	weight := opts.CacheWeight
	if weight == 0 {
		weight = DefaultCacheWeight
	}
	wf := opts.Weight
	if wf == nil {
		wf = DefaultWeight
	}
	cache, err := lru.New(weight, wf)
	if err != nil {
		return nil, err
	}
	r.cache = cache
	return r, nil
}

// Table returns the table the resolver serves.
func (r *Resolver) Table() *manifest.Table { return r.table }

// DynamicRoutes returns the table's dynamic routes in match order.
func (r *Resolver) DynamicRoutes() []manifest.DynamicRoute { return r.table.DynamicRoutes }

// Cache returns the resolution cache, nil for live resolvers.
func (r *Resolver) Cache() *lru.Cache[*Item] { return r.cache }

// SetDevVirtualItems replaces the dev-only virtual paths.
func (r *Resolver) SetDevVirtualItems(paths ...string) {
	r.mu.Lock()
	r.devVirtual = manifest.NewSet(paths...)
	r.mu.Unlock()
	if r.cache != nil {
		r.cache.Purge()
	}
}

func (r *Resolver) hasDevVirtual(p string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.devVirtual.Has(p)
}

// itemSet returns the membership test for a kind.
func (r *Resolver) itemSet(t Type) func(string) bool {
	switch t {
	case TypeDevVirtual:
		return r.hasDevVirtual
	case TypeNextStatic:
		return r.table.NextStaticFiles.Has
	case TypeLegacyStatic:
		return r.table.LegacyStaticFiles.Has
	case TypePublic:
		return r.table.PublicFiles.Has
	case TypeAppFile:
		return r.table.AppFiles.Has
	case TypePageFile:
		return r.table.PageFiles.Has
	}
	return func(string) bool { return false }
}

func (r *Resolver) itemsRoot(t Type) string {
	switch t {
	case TypeNextStatic:
		return r.table.NextStaticDir
	case TypeLegacyStatic:
		return r.table.LegacyStaticDir
	case TypePublic:
		return r.table.PublicDir
	}
	return ""
}

func decodeOr(p string) string {
	if d, err := routepath.Decode(p); err == nil {
		return d
	}
	return p
}

// GetItem resolves a raw request path. A nil item with a nil error is a
// miss. Only unexpected filesystem and ensure errors are returned.
func (r *Resolver) GetItem(ctx context.Context, requestPath string) (*Item, error) {
	if r.cache != nil {
		if item, ok := r.cache.Get(requestPath); ok {
			return item, nil
		}
	}

	t := r.table
	itemPath, ok := routepath.StripBasePath(requestPath, t.BasePath)
	if !ok {
		return nil, nil
	}
	itemPath = routepath.TrimTrailingSlash(itemPath)
	decodedItemPath := decodeOr(itemPath)

	if itemPath == nextImagePath {
		return &Item{Type: TypeNextImage, ItemPath: itemPath}, nil
	}

	i18n := t.I18n
	for _, typ := range candidates {
		has := r.itemSet(typ)
		curItemPath := itemPath
		curDecoded := decodedItemPath
		itemLocale := ""

		if i18n.Enabled() {
			dynamic := typ == TypePageFile || typ == TypeAppFile
			res := locale.Normalize(itemPath, i18n.Candidates(!dynamic))
			if res.Pathname != curItemPath {
				curItemPath = res.Pathname
				itemLocale = res.DetectedLocale
				curDecoded = decodeOr(curItemPath)
			}
		}

		if typ == TypeLegacyStatic {
			if !routepath.HasPrefix(curItemPath, legacyPrefix) {
				continue
			}
			curItemPath = curItemPath[len(legacyPrefix):]
			curDecoded = decodeOr(curItemPath)
		}

		if typ == TypeNextStatic && !routepath.HasPrefix(curItemPath, nextStaticPrefix) {
			continue
		}

		dataPrefix := "/_next/data/" + t.BuildID + "/"
		if typ == TypePageFile && strings.HasPrefix(curItemPath, dataPrefix) && strings.HasSuffix(curItemPath, jsonSuffix) {
			has = t.DataRoutes.Has
			curItemPath = curItemPath[len(dataPrefix)-1 : len(curItemPath)-len(jsonSuffix)]
			res := locale.Normalize(curItemPath, t.Locales())
			curItemPath = res.Pathname
			if curItemPath == "/index" {
				curItemPath = "/"
			}
			itemLocale = res.DetectedLocale
			curDecoded = decodeOr(curItemPath)
		}

		matched := has(curItemPath)
		if !matched && !t.Live {
			if has(curDecoded) {
				matched = true
				curItemPath = curDecoded
			} else {
				matched = has(routepath.EncodeURI(curItemPath))
			}
		}

		if !matched && !t.Live {
			continue
		}

		root := r.itemsRoot(typ)
		if typ == TypeNextStatic {
			curItemPath = curItemPath[len(nextStaticPrefix):]
		}
		fsPath := ""
		if root != "" && curItemPath != "" {
			fsPath = path.Join(root, decodeOr(curItemPath))
		}
		if typ == TypePageFile || typ == TypeAppFile {
			fsPath = t.PageOutputs[curItemPath]
		}

		if !matched {
			switch {
			case typ.IsStatic() && root != "":
				found, p, err := r.probe(root, curItemPath)
				if err != nil {
					return nil, err
				}
				if !found {
					continue
				}
				fsPath = p
			case typ == TypePageFile || typ == TypeAppFile:
				ok, err := r.ensurePage(ctx, typ, curItemPath)
				if err != nil {
					return nil, err
				}
				if !ok {
					continue
				}
			default:
				continue
			}
		}

		if typ == TypeAppFile && itemLocale != "" && itemLocale != i18n.DefaultLocale {
			continue
		}

		item := &Item{
			Type:      typ,
			FSPath:    fsPath,
			ItemsRoot: root,
			Locale:    itemLocale,
			ItemPath:  curItemPath,
		}
		if r.cache != nil {
			r.cache.Add(requestPath, item)
		}
		return item, nil
	}

	if r.cache != nil {
		r.cache.Add(requestPath, nil)
	}
	return nil, nil
}

// probe looks for a static file below root, trying the raw and then the
// decoded item path.
func (r *Resolver) probe(root, itemPath string) (bool, string, error) {
	variants := []string{itemPath}
	if d := decodeOr(itemPath); d != itemPath {
		variants = append(variants, d)
	}

	for _, v := range variants {
		rel, err := routepath.SafeRelPath(v)
		if err != nil {
			continue
		}
		p := path.Join(root, rel)
		info, err := r.fs.Stat(p)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return false, "", err
		}
		if !info.IsDir() {
			return true, p, nil
		}
	}
	return false, "", nil
}

// ensurePage runs the ensure callback. Misses report false without error.
func (r *Resolver) ensurePage(ctx context.Context, typ Type, itemPath string) (bool, error) {
	if r.ensure == nil {
		return false, nil
	}
	if (typ == TypeAppFile && r.table.AppDir == "") || (typ == TypePageFile && r.table.PagesDir == "") {
		return false, nil
	}
	err := r.ensure(ctx, EnsureRequest{Type: typ, ItemPath: itemPath})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrEnsureFailed), errors.Is(err, fs.ErrNotExist):
		r.logger.Debug("ensure miss", zap.String("type", string(typ)), zap.String("path", itemPath), zap.Error(err))
		return false, nil
	}
	return false, err
}
