package observe

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/oreillyross/next.js/pkg/edge"
	"github.com/oreillyross/next.js/pkg/fsitem"
	"github.com/oreillyross/next.js/pkg/manifest"
	"github.com/oreillyross/next.js/pkg/routing"
)

// Log writes routing events to a zap logger. Decisions and matches are
// logged at debug level, middleware failures at warn.
type Log struct {
	logger *zap.Logger
}

// NewLog creates a Log observer.
func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger.Named("routing")}
}

func (l *Log) OnRouteMatch(_ context.Context, phase routing.Phase, route *manifest.CustomRoute) {
	l.logger.Debug("route matched", zap.String("phase", string(phase)), zap.String("source", route.Source))
}

func (l *Log) OnResolved(_ context.Context, pathname string, item *fsitem.Item, d time.Duration) {
	if ce := l.logger.Check(zap.DebugLevel, "fs lookup"); ce != nil {
		typ := "miss"
		if item != nil {
			typ = string(item.Type)
		}
		ce.Write(zap.String("path", pathname), zap.String("type", typ), zap.Duration("took", d))
	}
}

func (l *Log) OnMiddleware(_ context.Context, _ *edge.Response, d time.Duration, err error) {
	if err != nil {
		l.logger.Warn("middleware failed", zap.Duration("took", d), zap.Error(err))
	}
}

func (l *Log) OnDecision(_ context.Context, r *http.Request, res *routing.Result, d time.Duration) {
	if ce := l.logger.Check(zap.DebugLevel, "resolved"); ce != nil {
		ce.Write(
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("decision", res.Decision.Kind()),
			zap.Uint64("generation", res.Generation),
			zap.Duration("took", d),
		)
	}
}

// Multi fans events out to several observers in order.
type Multi []routing.Observer

func (m Multi) OnRouteMatch(ctx context.Context, phase routing.Phase, route *manifest.CustomRoute) {
	for _, o := range m {
		o.OnRouteMatch(ctx, phase, route)
	}
}

func (m Multi) OnResolved(ctx context.Context, pathname string, item *fsitem.Item, d time.Duration) {
	for _, o := range m {
		o.OnResolved(ctx, pathname, item, d)
	}
}

func (m Multi) OnMiddleware(ctx context.Context, resp *edge.Response, d time.Duration, err error) {
	for _, o := range m {
		o.OnMiddleware(ctx, resp, d, err)
	}
}

func (m Multi) OnDecision(ctx context.Context, r *http.Request, res *routing.Result, d time.Duration) {
	for _, o := range m {
		o.OnDecision(ctx, r, res, d)
	}
}

var (
	_ routing.Observer = (*Log)(nil)
	_ routing.Observer = Multi(nil)
)
