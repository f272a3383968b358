package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	rerrors "github.com/oreillyross/next.js/internal/errors"
)

// serveFlags are shared by start and dev.
type serveFlags struct {
	port     int
	host     string
	admin    string
	logLevel string
}

func (f *serveFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&f.port, "port", "p", 0, "Port to run on (default from config)")
	cmd.Flags().StringVarP(&f.host, "host", "H", "", "Host to bind to (default from config)")
	cmd.Flags().StringVar(&f.admin, "admin", "127.0.0.1:9090", "Address for /metrics and /healthz (empty disables)")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "Log level (default from config)")
}

func (f *serveFlags) validate() error {
	if f.port < 0 || f.port > 65535 {
		return rerrors.New("R060").Wrap(fmt.Errorf("--port %d out of range", f.port))
	}
	return nil
}

func startCmd(opts *rootOptions) *cobra.Command {
	flags := &serveFlags{}

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Serve a production build",
		Long: `Serve the build output of a Next.js project.

The route table is read once from the build manifests in distDir, or
from the artifacts bucket when one is configured.

Examples:
  nextroute start
  nextroute start --port=8080
  nextroute start -d ./site --admin=""`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(opts, flags)
		},
	}
	flags.register(cmd)

	return cmd
}

func runStart(opts *rootOptions, flags *serveFlags) error {
	if err := flags.validate(); err != nil {
		return err
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

	st, err := newStack(ctx, cfg, logger, stackOptions{})
	if err != nil {
		return err
	}
	table := st.router.Table()
	success("Loaded build %s", bold(table.BuildID))
	if table.Middleware != nil {
		info("middleware: %s", table.Middleware.Name)
	}

	g, ctx := errgroup.WithContext(ctx)
	listen(ctx, g, "http", cfg.Addr(), st.app, logger)
	if flags.admin != "" {
		listen(ctx, g, "admin", flags.admin, st.adminHandler(), logger)
	}
	success("Ready on http://%s", cfg.Addr())

	return g.Wait()
}
