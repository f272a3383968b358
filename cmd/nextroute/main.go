package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/oreillyross/next.js/internal/config"
	rerrors "github.com/oreillyross/next.js/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootOptions are the flags shared by every command.
type rootOptions struct {
	dir        string
	configFile string
}

// loadConfig reads the project configuration.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	if o.configFile != "" {
		return config.LoadFile(o.configFile)
	}
	return config.Load(o.dir)
}

// validate checks the shared flags before any command runs.
func (o *rootOptions) validate() error {
	info, err := os.Stat(o.dir)
	if err != nil {
		return rerrors.New("R060").Wrap(err).WithSuggestion("Point --dir at the project root")
	}
	if !info.IsDir() {
		return rerrors.New("R060").Wrap(fmt.Errorf("--dir %s is not a directory", o.dir))
	}
	return nil
}

// noArgs rejects positional arguments; the project is chosen with --dir.
func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return rerrors.New("R060").
			Wrap(fmt.Errorf("%s takes no arguments, got %q", cmd.CommandPath(), args[0])).
			WithSuggestion("Pass the project directory with --dir")
	}
	return nil
}

func main() {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:   "nextroute",
		Short: "Route requests for a Next.js project",
		Long: `nextroute serves a Next.js project from its build manifests.

It resolves every request through the routing pipeline: custom headers,
redirects and rewrites, static files, middleware and dynamic pages.
Pages themselves are handed to a renderer.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.validate()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&opts.dir, "dir", "d", ".", "Project directory")
	rootCmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "Config file (default <dir>/next.config.*)")

	rootCmd.AddCommand(
		startCmd(opts),
		devCmd(opts),
		routesCmd(opts),
		versionCmd(opts),
	)

	if err := rootCmd.Execute(); err != nil {
		var re *rerrors.Error
		if errors.As(err, &re) {
			rerrors.PrintError(re)
		} else {
			errorMsg("%s", err)
		}
		os.Exit(1)
	}
}

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("%s %s\n", green("✓"), fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}

// warn prints a warning message.
func warn(format string, args ...any) {
	fmt.Printf("%s %s\n", yellow("⚠"), fmt.Sprintf(format, args...))
}

// errorMsg prints an error message.
func errorMsg(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s %s\n", red("✗"), fmt.Sprintf(format, args...))
}
