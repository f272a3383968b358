package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	next "github.com/oreillyross/next.js"
	"github.com/oreillyross/next.js/internal/config"
	"github.com/oreillyross/next.js/internal/logging"
	"github.com/oreillyross/next.js/pkg/edge"
	"github.com/oreillyross/next.js/pkg/edge/sandbox"
	"github.com/oreillyross/next.js/pkg/fsitem"
	"github.com/oreillyross/next.js/pkg/manifest"
	"github.com/oreillyross/next.js/pkg/observe"
	"github.com/oreillyross/next.js/pkg/routing"
)

// stackOptions select between a build and a live project.
type stackOptions struct {
	live       bool
	devItems   []string
	devHandler http.Handler
}

// stack is everything one serving process wires together.
type stack struct {
	cfg      *config.Config
	logger   *zap.Logger
	source   manifest.Source
	router   *routing.Router
	host     *edge.Host
	app      *next.App
	metrics  *observe.Metrics
	registry *prometheus.Registry
}

func newStack(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts stackOptions) (*stack, error) {
	s := &stack{cfg: cfg, logger: logger}

	var err error
	if s.source, err = openSource(ctx, cfg, opts.live); err != nil {
		return nil, err
	}

	loadOpts := manifest.Options{Source: s.source, Logger: logger}
	var table *manifest.Table
	if opts.live {
		table, err = manifest.LoadLive(ctx, cfg, loadOpts)
	} else {
		table, err = manifest.Load(ctx, cfg, loadOpts)
	}
	if err != nil {
		return nil, err
	}

	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metrics = observe.NewMetrics(observe.WithRegistry(s.registry))
	s.metrics.RecordPublish(table.Generation)

	routerOpts := routing.Options{
		Observer:        observe.Multi{s.metrics, observe.NewTracer(), observe.NewLog(logger)},
		Logger:          logger,
		DevVirtualItems: opts.devItems,
	}
	if dir, ok := s.source.(*manifest.DirSource); ok {
		routerOpts.Resolver = fsitem.Options{Fs: dir.Fs()}
	}

	// Live projects may gain middleware later, so the host always runs.
	if opts.live || table.Middleware != nil {
		s.host = edge.NewHost(edge.Options{
			Config: edge.EdgeConfig{
				I18n:          table.I18n,
				BasePath:      table.BasePath,
				TrailingSlash: table.TrailingSlash,
			},
			Logger: logger,
		})
		if err := s.loadMiddleware(ctx, table); err != nil {
			return nil, err
		}
		if err := s.host.Start(ctx); err != nil {
			return nil, err
		}
		routerOpts.Invoker = s.host
	}

	if s.router, err = routing.New(table, routerOpts); err != nil {
		return nil, err
	}

	appCfg := next.ConfigFrom(cfg, s.router, s.source)
	appCfg.DevHandler = opts.devHandler
	appCfg.Logger = logger
	if s.app, err = next.New(appCfg); err != nil {
		return nil, err
	}
	return s, nil
}

// openSource picks the bucket for builds with artifacts configured and the
// project directory otherwise.
func openSource(ctx context.Context, cfg *config.Config, live bool) (manifest.Source, error) {
	if live || cfg.Artifacts.Bucket == "" {
		return manifest.NewOsSource(cfg.Dir()), nil
	}

	var optFns []func(*awsconfig.LoadOptions) error
	if cfg.Artifacts.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.Artifacts.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return manifest.NewS3Source(s3.NewFromConfig(awsCfg), cfg.Artifacts.Bucket, cfg.Artifacts.Prefix), nil
}

// middlewareFiles lists the script files behind table's middleware,
// relative to the source root.
func (s *stack) middlewareFiles(table *manifest.Table) []string {
	if table.Middleware == nil {
		return nil
	}
	if table.Live {
		return table.Middleware.Files
	}
	files := make([]string, 0, len(table.Middleware.Files))
	for _, f := range table.Middleware.Files {
		files = append(files, path.Join(s.cfg.DistDir, f))
	}
	return files
}

// loadMiddleware compiles the middleware of table into the host. A table
// without middleware unloads it.
func (s *stack) loadMiddleware(ctx context.Context, table *manifest.Table) error {
	files := s.middlewareFiles(table)
	if len(files) == 0 {
		s.host.SetExecutor(nil)
		return nil
	}

	var src strings.Builder
	for _, f := range files {
		data, err := s.source.ReadFile(ctx, f)
		if err != nil {
			return fmt.Errorf("read middleware %s: %w", f, err)
		}
		src.Write(data)
		src.WriteByte('\n')
	}

	sb, err := sandbox.Compile(files[len(files)-1], src.String(), sandbox.Options{
		Timeout: s.cfg.Middleware.Timeout,
		Logger:  s.logger,
	})
	if err != nil {
		return err
	}
	s.host.SetExecutor(sb)
	return nil
}

// reloadMiddleware recompiles the configured script after a change.
func (s *stack) reloadMiddleware(ctx context.Context, cfg *config.Config) error {
	s.cfg = cfg
	table := &manifest.Table{Live: true}
	if cfg.Middleware.Script != "" {
		table.Middleware = &manifest.MiddlewareMatcher{Files: []string{cfg.Middleware.Script}}
	}
	return s.loadMiddleware(ctx, table)
}

// adminHandler serves metrics and health checks.
func (s *stack) adminHandler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok generation=%d\n", s.router.Generation())
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return r
}

// listen runs an HTTP server in g until ctx is done.
func listen(ctx context.Context, g *errgroup.Group, name, addr string, h http.Handler, logger *zap.Logger) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		logger.Info("listening", zap.String("server", name), zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s server: %w", name, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// newLogger builds the process logger from the config.
func newLogger(cfg *config.Config, level string) (*zap.Logger, error) {
	opts := logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	}
	if level != "" {
		opts.Level = level
	}
	return logging.New(opts)
}
