package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/oreillyross/next.js/internal/dev"
	rerrors "github.com/oreillyross/next.js/internal/errors"
	"github.com/oreillyross/next.js/pkg/manifest"
)

func devCmd(opts *rootOptions) *cobra.Command {
	flags := &serveFlags{}
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Serve a project in live mode",
		Long: `Serve a project straight from its source directories.

Pages, app routes and public files are discovered by scanning the
project. Changes republish the route table and notify connected
browsers over ` + dev.HMRPath + `.

Examples:
  nextroute dev
  nextroute dev --port=3001
  nextroute dev --host=0.0.0.0`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDev(opts, flags, debounce)
		},
	}
	flags.register(cmd)
	cmd.Flags().DurationVar(&debounce, "debounce", 100*time.Millisecond, "Delay before rebuilding after a change")

	return cmd
}

func runDev(opts *rootOptions, flags *serveFlags, debounce time.Duration) error {
	if err := flags.validate(); err != nil {
		return err
	}
	if debounce < 0 {
		return rerrors.New("R060").Wrap(fmt.Errorf("--debounce %s is negative", debounce))
	}
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if flags.port > 0 {
		cfg.Server.Port = flags.port
	}
	if flags.host != "" {
		cfg.Server.Host = flags.host
	}

	logger, err := newLogger(cfg, flags.logLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reload := dev.NewReloadServer(logger)
	defer reload.Close()

	st, err := newStack(ctx, cfg, logger, stackOptions{
		live:       true,
		devItems:   []string{dev.HMRPath},
		devHandler: reload,
	})
	if err != nil {
		return err
	}

	server, err := dev.NewServer(dev.ServerOptions{
		Config:       cfg,
		Router:       st.router,
		Source:       st.source,
		Reload:       reload,
		LoadConfig:   opts.loadConfig,
		OnMiddleware: st.reloadMiddleware,
		OnPublish: func(table *manifest.Table) {
			st.metrics.RecordPublish(table.Generation)
			success("Routes rebuilt (generation %d, %d browsers)", table.Generation, reload.ClientCount())
		},
		Debounce: debounce,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(ctx) })
	listen(ctx, g, "http", cfg.Addr(), st.app, logger)
	if flags.admin != "" {
		listen(ctx, g, "admin", flags.admin, st.adminHandler(), logger)
	}

	success("Ready on http://%s", cfg.Addr())
	if cfg.Middleware.Script == "" {
		warn("no middleware script configured")
	}

	return g.Wait()
}
