package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/oreillyross/next.js/pkg/manifest"
)

func routesCmd(opts *rootOptions) *cobra.Command {
	var live bool

	cmd := &cobra.Command{
		Use:   "routes",
		Short: "Print the route table",
		Long: `Print the route table in pipeline order: headers, redirects,
rewrites by phase, middleware matchers and dynamic routes.

Examples:
  nextroute routes
  nextroute routes --live`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			src, err := openSource(ctx, cfg, live)
			if err != nil {
				return err
			}
			loadOpts := manifest.Options{Source: src}
			var table *manifest.Table
			if live {
				table, err = manifest.LoadLive(ctx, cfg, loadOpts)
			} else {
				table, err = manifest.Load(ctx, cfg, loadOpts)
			}
			if err != nil {
				return err
			}
			return printRoutes(os.Stdout, table)
		},
	}

	cmd.Flags().BoolVar(&live, "live", false, "Scan the project instead of reading the build")

	return cmd
}

func printRoutes(out io.Writer, t *manifest.Table) error {
	fmt.Fprintf(out, "%s %s\n", bold("Build:"), t.BuildID)
	if t.BasePath != "" {
		fmt.Fprintf(out, "%s %s\n", bold("Base path:"), t.BasePath)
	}
	if locales := t.Locales(); len(locales) > 0 {
		fmt.Fprintf(out, "%s %s (default %s)\n", bold("Locales:"), strings.Join(locales, ", "), t.DefaultLocale())
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	section := func(title string, routes []*manifest.CustomRoute) {
		if len(routes) == 0 {
			return
		}
		fmt.Fprintf(tw, "\n%s\n", bold(title))
		for _, r := range routes {
			if r.Internal {
				continue
			}
			dest := ""
			if r.Destination != nil {
				dest = r.Destination.String()
			}
			if r.StatusCode != 0 {
				dest = fmt.Sprintf("%s (%d)", dest, r.StatusCode)
			}
			for _, h := range r.Headers {
				dest = strings.TrimSpace(dest + " " + h.Key + ": " + h.Value)
			}
			fmt.Fprintf(tw, "  %s\t%s\n", r.Source, dest)
		}
	}
	section("Headers", t.Headers)
	section("Redirects", t.Redirects)
	section("Rewrites (beforeFiles)", t.Rewrites.BeforeFiles)
	section("Rewrites (afterFiles)", t.Rewrites.AfterFiles)
	section("Rewrites (fallback)", t.Rewrites.Fallback)

	if t.Middleware != nil {
		fmt.Fprintf(tw, "\n%s\n", bold("Middleware"))
		if len(t.Middleware.Rules) == 0 {
			fmt.Fprintf(tw, "  %s\tall paths\n", t.Middleware.Name)
		}
		for _, rule := range t.Middleware.Rules {
			fmt.Fprintf(tw, "  %s\t%s\n", t.Middleware.Name, rule.Source)
		}
	}

	if len(t.DynamicRoutes) > 0 {
		fmt.Fprintf(tw, "\n%s\n", bold("Dynamic routes"))
		for _, d := range t.DynamicRoutes {
			kind := "page"
			if d.IsDataRoute {
				kind = "data"
			}
			fmt.Fprintf(tw, "  %s\t%s\n", d.Page, kind)
		}
	}

	fmt.Fprintf(tw, "\n%s\n", bold("Files"))
	fmt.Fprintf(tw, "  pages\t%d\n", len(t.PageFiles))
	fmt.Fprintf(tw, "  app routes\t%d\n", len(t.AppFiles))
	fmt.Fprintf(tw, "  public\t%d\n", len(t.PublicFiles))
	fmt.Fprintf(tw, "  static\t%d\n", len(t.NextStaticFiles)+len(t.LegacyStaticFiles))
	return tw.Flush()
}
