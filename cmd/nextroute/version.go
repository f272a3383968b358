package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/oreillyross/next.js/internal/config"
	"github.com/oreillyross/next.js/pkg/manifest"
)

func versionCmd(opts *rootOptions) *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the binary version and the project's build id",
		Long: `Print the nextroute version and the build the project would serve.

The build id is read from BUILD_ID in distDir, or from the artifacts
bucket when one is configured.`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if short {
				fmt.Println(version)
				return nil
			}
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			src, err := openSource(ctx, cfg, false)
			if err != nil {
				return err
			}
			return printVersion(ctx, os.Stdout, cfg, src)
		},
	}

	cmd.Flags().BoolVarP(&short, "short", "s", false, "Print only the version number")

	return cmd
}

func printVersion(ctx context.Context, out io.Writer, cfg *config.Config, src manifest.Source) error {
	fmt.Fprintf(out, "%s %s (%s, %s) %s %s/%s\n",
		bold("nextroute"), version, commit, date, runtime.Version(), runtime.GOOS, runtime.GOARCH)

	from := cfg.Dir()
	if b := cfg.Artifacts.Bucket; b != "" {
		from = "s3://" + path.Join(b, cfg.Artifacts.Prefix)
	}
	fmt.Fprintf(out, "%s %s\n", bold("Artifacts:"), path.Join(from, cfg.DistDir))

	raw, err := src.ReadFile(ctx, path.Join(cfg.DistDir, manifest.BuildIDFile))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		fmt.Fprintf(out, "%s %s\n", bold("Build:"), yellow("none, run the build first"))
	case err != nil:
		return fmt.Errorf("read build id: %w", err)
	default:
		fmt.Fprintf(out, "%s %s\n", bold("Build:"), strings.TrimSpace(string(raw)))
	}
	return nil
}
