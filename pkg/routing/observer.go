package routing

import (
	"context"
	"net/http"
	"time"

	"github.com/oreillyross/next.js/pkg/edge"
	"github.com/oreillyross/next.js/pkg/fsitem"
	"github.com/oreillyross/next.js/pkg/manifest"
)

// Phase names a pipeline stage.
type Phase string

const (
	PhaseHeaders     Phase = "headers"
	PhaseRedirects   Phase = "redirects"
	PhaseBeforeFiles Phase = "beforeFiles"
	PhaseFilesystem  Phase = "filesystem"
	PhaseMiddleware  Phase = "middleware"
	PhaseAfterFiles  Phase = "afterFiles"
	PhaseFallback    Phase = "fallback"
)

// Observer receives pipeline events. Implementations must be safe for
// concurrent use and must not block.
type Observer interface {
	// OnRouteMatch is called for every custom route that matched.
	OnRouteMatch(ctx context.Context, phase Phase, route *manifest.CustomRoute)

	// OnResolved is called after each filesystem lookup. item is nil on a
	// miss.
	OnResolved(ctx context.Context, pathname string, item *fsitem.Item, d time.Duration)

	// OnMiddleware is called after each middleware invocation.
	OnMiddleware(ctx context.Context, resp *edge.Response, d time.Duration, err error)

	// OnDecision is called once per successful Resolve.
	OnDecision(ctx context.Context, r *http.Request, res *Result, d time.Duration)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) OnRouteMatch(context.Context, Phase, *manifest.CustomRoute)         {}
func (NopObserver) OnResolved(context.Context, string, *fsitem.Item, time.Duration)    {}
func (NopObserver) OnMiddleware(context.Context, *edge.Response, time.Duration, error) {}
func (NopObserver) OnDecision(context.Context, *http.Request, *Result, time.Duration)  {}
