// Package routing decides what answers a request.
//
// A Router holds the current routing table generation and runs each
// request through a fixed pipeline:
//
//  1. header rules (every match contributes headers)
//  2. redirects (first match wins)
//  3. beforeFiles rewrites
//  4. the filesystem check: static files, pages, then dynamic routes
//  5. middleware, when its matcher selects the request
//  6. afterFiles rewrites, each checking the filesystem
//  7. fallback rewrites, each checking the filesystem
//
// The outcome is a Result carrying a Decision. Publishing a new table
// swaps the generation atomically; requests already in flight finish on
// the generation they started with.
package routing

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/oreillyross/next.js/pkg/edge"
	"github.com/oreillyross/next.js/pkg/fsitem"
	"github.com/oreillyross/next.js/pkg/manifest"
)

// Invoker runs middleware for a request. *edge.Host implements it.
type Invoker interface {
	Invoke(ctx context.Context, r *http.Request, body *edge.CloneableBody) (*edge.Response, error)
}

// Options configures a Router.
type Options struct {
	// Invoker runs middleware. Without it the middleware stage is skipped.
	Invoker Invoker

	Observer Observer
	Logger   *zap.Logger

	// Resolver configures the filesystem resolver built for each
	// generation.
	Resolver fsitem.Options

	// DevVirtualItems are registered on every published generation.
	DevVirtualItems []string
}

// Router resolves requests against the published generation.
type Router struct {
	gen      atomic.Pointer[generation]
	opts     Options
	invoker  Invoker
	observer Observer
	logger   *zap.Logger
}

type generation struct {
	table    *manifest.Table
	resolver *fsitem.Resolver
}

// New creates a Router and publishes table.
func New(table *manifest.Table, opts Options) (*Router, error) {
	rt := &Router{
		opts:     opts,
		invoker:  opts.Invoker,
		observer: opts.Observer,
		logger:   opts.Logger,
	}
	if rt.observer == nil {
		rt.observer = NopObserver{}
	}
	if rt.logger == nil {
		rt.logger = zap.NewNop()
	}
	rt.logger = rt.logger.Named("routing")
	if rt.opts.Resolver.Logger == nil {
		rt.opts.Resolver.Logger = rt.logger
	}
	if err := rt.Publish(table); err != nil {
		return nil, err
	}
	return rt, nil
}

// Publish makes table the current generation.
func (rt *Router) Publish(table *manifest.Table) error {
	res, err := fsitem.New(table, rt.opts.Resolver)
	if err != nil {
		return err
	}
	if len(rt.opts.DevVirtualItems) > 0 {
		res.SetDevVirtualItems(rt.opts.DevVirtualItems...)
	}
	old := rt.gen.Swap(&generation{table: table, resolver: res})

	fields := []zap.Field{
		zap.String("buildId", table.BuildID),
		zap.Uint64("generation", table.Generation),
	}
	if old != nil {
		fields = append(fields, zap.Uint64("previous", old.table.Generation))
	}
	rt.logger.Info("published routing table", fields...)
	return nil
}

// Table returns the current table.
func (rt *Router) Table() *manifest.Table { return rt.gen.Load().table }

// Resolver returns the current filesystem resolver.
func (rt *Router) Resolver() *fsitem.Resolver { return rt.gen.Load().resolver }

// Generation returns the current generation number.
func (rt *Router) Generation() uint64 { return rt.gen.Load().table.Generation }

// Resolve runs r through the pipeline. When middleware runs, r.Body is
// replaced with a replayable copy so downstream handlers can still read
// it. Errors come from the filesystem resolver, middleware transport or
// route destinations that cannot be built.
func (rt *Router) Resolve(ctx context.Context, r *http.Request) (*Result, error) {
	start := time.Now()
	gen := rt.gen.Load()

	s := newState(rt, gen, r)
	d, err := s.run(ctx)
	if err != nil {
		return nil, err
	}
	s.res.Decision = d

	rt.observer.OnDecision(ctx, r, s.res, time.Since(start))
	return s.res, nil
}
