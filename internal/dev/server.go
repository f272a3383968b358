package dev

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/oreillyross/next.js/internal/config"
	rerrors "github.com/oreillyross/next.js/internal/errors"
	"github.com/oreillyross/next.js/pkg/manifest"
	"github.com/oreillyross/next.js/pkg/routing"
)

// ServerOptions configures the live-mode server.
type ServerOptions struct {
	// Config is the project configuration. Required.
	Config *config.Config

	// Router receives every rebuilt table. Required.
	Router *routing.Router

	// Source reads the project. Defaults to the OS filesystem.
	Source manifest.Source

	// Reload notifies browsers. Optional.
	Reload *ReloadServer

	// LoadConfig rereads the configuration after the config file changed.
	// Config changes are ignored without it.
	LoadConfig func() (*config.Config, error)

	// OnMiddleware recompiles the middleware script. Called after the
	// script or the configuration changed.
	OnMiddleware func(ctx context.Context, cfg *config.Config) error

	// OnPublish is called after each publish.
	OnPublish func(table *manifest.Table)

	// Debounce is the watcher quiet period.
	Debounce time.Duration

	Logger *zap.Logger
}

// Server rebuilds the route table from the project while it changes.
type Server struct {
	options ServerOptions
	logger  *zap.Logger

	mu     sync.Mutex
	config *config.Config
}

// NewServer creates a live-mode server.
func NewServer(options ServerOptions) (*Server, error) {
	if options.Config == nil || options.Router == nil {
		return nil, errors.New("dev: Config and Router are required")
	}
	if options.Source == nil {
		options.Source = manifest.NewOsSource(options.Config.Dir())
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		options: options,
		logger:  logger.Named("dev"),
		config:  options.Config,
	}, nil
}

// Config returns the current configuration.
func (s *Server) Config() *config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// Start watches the project until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.Config()
	paths, flat := CollectWatchPaths(cfg)
	watcher, err := NewWatcher(WatcherConfig{
		Paths:    paths,
		Flat:     flat,
		Ignore:   DefaultIgnore,
		Debounce: s.options.Debounce,
		Classify: Classifier(cfg),
	}, s.logger)
	if err != nil {
		return err
	}

	s.logger.Info("watching project", zap.Strings("paths", paths))
	return watcher.Run(ctx, func(changes []Change) {
		if err := s.HandleChanges(ctx, changes); err != nil {
			s.logger.Error("rebuild failed", zap.Error(err))
		}
	})
}

// HandleChanges applies a batch of changes: config reloads, middleware
// recompiles and table rebuilds, in that order. A failed step keeps the
// current generation serving.
func (s *Server) HandleChanges(ctx context.Context, changes []Change) error {
	var routes, cfgChanged, middleware, assets bool
	for _, c := range changes {
		switch c.Type {
		case ChangeRoutes:
			routes = true
		case ChangeConfig:
			cfgChanged = true
		case ChangeMiddleware:
			middleware = true
		default:
			assets = true
		}
	}

	if cfgChanged && s.options.LoadConfig != nil {
		cfg, err := s.options.LoadConfig()
		if err != nil {
			s.notifyError(err)
			return err
		}
		s.mu.Lock()
		s.config = cfg
		s.mu.Unlock()
		routes, middleware = true, true
	}
	cfg := s.Config()

	if middleware && s.options.OnMiddleware != nil {
		if err := s.options.OnMiddleware(ctx, cfg); err != nil {
			s.notifyError(err)
			return err
		}
		s.logger.Info("middleware reloaded")
	}

	if routes || middleware {
		return s.Rebuild(ctx)
	}
	if assets && s.options.Reload != nil {
		s.options.Reload.NotifyReload()
	}
	return nil
}

// Rebuild scans the project and publishes a new table.
func (s *Server) Rebuild(ctx context.Context) error {
	if s.options.Reload != nil {
		s.options.Reload.NotifyBuilding()
	}
	start := time.Now()

	table, err := manifest.LoadLive(ctx, s.Config(), manifest.Options{
		Source: s.options.Source,
		Logger: s.logger,
	})
	if err == nil {
		err = s.options.Router.Publish(table)
	}
	if err != nil {
		s.notifyError(err)
		return err
	}

	s.logger.Info("rebuilt routes",
		zap.String("buildId", table.BuildID),
		zap.Uint64("generation", table.Generation),
		zap.Duration("took", time.Since(start)),
	)
	if s.options.OnPublish != nil {
		s.options.OnPublish(table)
	}
	if s.options.Reload != nil {
		s.options.Reload.NotifyBuilt(table.BuildID)
	}
	return nil
}

func (s *Server) notifyError(err error) {
	if s.options.Reload == nil {
		return
	}
	var re *rerrors.Error
	if errors.As(err, &re) {
		s.options.Reload.NotifyError(re.FormatCompact())
		return
	}
	s.options.Reload.NotifyError(err.Error())
}
