package observe

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/oreillyross/next.js/pkg/edge"
	"github.com/oreillyross/next.js/pkg/fsitem"
	"github.com/oreillyross/next.js/pkg/manifest"
	"github.com/oreillyross/next.js/pkg/routing"
)

// Default tracer name.
const defaultTracerName = "nextroute"

// TraceConfig configures the OpenTelemetry observer.
type TraceConfig struct {
	// TracerName is the name of the tracer (default: "nextroute").
	TracerName string

	// Provider supplies the tracer. Defaults to the global provider.
	Provider trace.TracerProvider

	// Filter determines which requests are traced. If nil, all are.
	Filter func(r *http.Request) bool

	// AttributeExtractor adds custom attributes to request spans.
	AttributeExtractor func(r *http.Request, res *routing.Result) []attribute.KeyValue
}

// TraceOption configures the OpenTelemetry observer.
type TraceOption func(*TraceConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) TraceOption {
	return func(c *TraceConfig) {
		c.TracerName = name
	}
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(p trace.TracerProvider) TraceOption {
	return func(c *TraceConfig) {
		c.Provider = p
	}
}

// WithRequestFilter sets a filter function for requests.
func WithRequestFilter(filter func(r *http.Request) bool) TraceOption {
	return func(c *TraceConfig) {
		c.Filter = filter
	}
}

// WithAttributeExtractor sets a custom attribute extractor.
func WithAttributeExtractor(extractor func(r *http.Request, res *routing.Result) []attribute.KeyValue) TraceOption {
	return func(c *TraceConfig) {
		c.AttributeExtractor = extractor
	}
}

// Tracer turns routing events into spans. Decisions become server spans
// back-dated to when resolution started, middleware round trips become
// child spans, and route matches and filesystem lookups become events on
// the span already in the context, if any. It implements
// routing.Observer.
//
// The tracer uses the global OpenTelemetry tracer provider unless one is
// given. Configure it in main() before starting the server:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
type Tracer struct {
	config TraceConfig
	tracer trace.Tracer
}

// NewTracer creates a Tracer.
func NewTracer(opts ...TraceOption) *Tracer {
	config := TraceConfig{TracerName: defaultTracerName}
	for _, opt := range opts {
		opt(&config)
	}
	provider := config.Provider
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return &Tracer{config: config, tracer: provider.Tracer(config.TracerName)}
}

// OnRouteMatch implements routing.Observer.
func (t *Tracer) OnRouteMatch(ctx context.Context, phase routing.Phase, route *manifest.CustomRoute) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent("route.match", trace.WithAttributes(
		attribute.String("next.phase", string(phase)),
		attribute.String("next.route.source", route.Source),
	))
}

// OnResolved implements routing.Observer.
func (t *Tracer) OnResolved(ctx context.Context, pathname string, item *fsitem.Item, d time.Duration) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	typ := "miss"
	if item != nil {
		typ = string(item.Type)
	}
	span.AddEvent("fs.lookup", trace.WithAttributes(
		attribute.String("next.fs.path", pathname),
		attribute.String("next.fs.type", typ),
		attribute.Int64("next.fs.duration_us", d.Microseconds()),
	))
}

// OnMiddleware implements routing.Observer.
func (t *Tracer) OnMiddleware(ctx context.Context, resp *edge.Response, d time.Duration, err error) {
	end := time.Now()
	_, span := t.tracer.Start(ctx, "nextroute middleware",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithTimestamp(end.Add(-d)),
	)
	defer span.End(trace.WithTimestamp(end))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetAttributes(
		attribute.Int("http.status_code", resp.StatusCode),
		attribute.Bool("next.middleware.next", resp.Next),
		attribute.Bool("next.middleware.rewrite", resp.Rewrite != ""),
		attribute.Bool("next.middleware.redirect", resp.Redirect != ""),
	)
	span.SetStatus(codes.Ok, "")
}

// OnDecision implements routing.Observer.
func (t *Tracer) OnDecision(ctx context.Context, r *http.Request, res *routing.Result, d time.Duration) {
	if t.config.Filter != nil && !t.config.Filter(r) {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("http.method", r.Method),
		attribute.String("url.path", r.URL.Path),
		attribute.String("next.decision", res.Decision.Kind()),
		attribute.String("next.build_id", res.BuildID),
		attribute.Int64("next.generation", int64(res.Generation)),
		attribute.Bool("next.middleware", res.MiddlewareRan),
	}
	if res.Locale != "" {
		attrs = append(attrs, attribute.String("next.locale", res.Locale))
	}
	switch dec := res.Decision.(type) {
	case *routing.Serve:
		attrs = append(attrs, attribute.String("next.item.type", string(dec.Item.Type)))
		if dec.Page != "" {
			attrs = append(attrs, attribute.String("next.page", dec.Page))
		}
	case *routing.Redirect:
		attrs = append(attrs, attribute.Int("http.status_code", dec.StatusCode))
	}
	if t.config.AttributeExtractor != nil {
		attrs = append(attrs, t.config.AttributeExtractor(r, res)...)
	}

	end := time.Now()
	_, span := t.tracer.Start(ctx, "nextroute "+res.Decision.Kind(),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...),
		trace.WithTimestamp(end.Add(-d)),
	)
	span.SetStatus(codes.Ok, "")
	span.End(trace.WithTimestamp(end))
}

var _ routing.Observer = (*Tracer)(nil)
