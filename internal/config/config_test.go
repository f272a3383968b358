package config

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	rerrors "github.com/oreillyross/next.js/internal/errors"
	"github.com/oreillyross/next.js/pkg/locale"
	"github.com/oreillyross/next.js/pkg/routematch"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestNew(t *testing.T) {
	cfg := New()

	if cfg.DistDir != DefaultDistDir {
		t.Errorf("DistDir = %q, want %q", cfg.DistDir, DefaultDistDir)
	}
	if cfg.ProxyTimeout != DefaultProxyTimeout {
		t.Errorf("ProxyTimeout = %v, want %v", cfg.ProxyTimeout, DefaultProxyTimeout)
	}
	if diff := cmp.Diff(DefaultPageExtensions, cfg.PageExtensions); diff != "" {
		t.Errorf("PageExtensions mismatch (-want +got):\n%s", diff)
	}
	if cfg.Addr() != "localhost:3000" {
		t.Errorf("Addr = %q", cfg.Addr())
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.DistDir != DefaultDistDir {
		t.Errorf("DistDir = %q", cfg.DistDir)
	}
	if cfg.I18n != nil {
		t.Errorf("I18n = %+v, want nil", cfg.I18n)
	}
}

func TestLoadJSON(t *testing.T) {
	dir := writeConfig(t, "next.config.json", `{
  "basePath": "/docs",
  "distDir": "build",
  "i18n": {"locales": ["en", "fr"], "defaultLocale": "en"},
  "trailingSlash": true,
  "experimental": {"caseSensitiveRoutes": true},
  "proxyTimeout": "5s",
  "middleware": {"script": "middleware.js", "matcher": "/account/:path*"},
  "redirects": [{"source": "/old", "destination": "/new", "permanent": false}],
  "rewrites": [{"source": "/a", "destination": "/b"}]
}`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.BasePath != "/docs" {
		t.Errorf("BasePath = %q", cfg.BasePath)
	}
	if cfg.DistPath() != filepath.Join(dir, "build") {
		t.Errorf("DistPath = %q", cfg.DistPath())
	}
	if cfg.DefaultLocale() != "en" || len(cfg.Locales()) != 2 {
		t.Errorf("i18n = %+v", cfg.I18n)
	}
	if !cfg.TrailingSlash || !cfg.Experimental.CaseSensitiveRoutes {
		t.Error("boolean flags not decoded")
	}
	if cfg.ProxyTimeout != 5*time.Second {
		t.Errorf("ProxyTimeout = %v", cfg.ProxyTimeout)
	}
	if diff := cmp.Diff(Matchers{{Source: "/account/:path*"}}, cfg.Middleware.Matcher); diff != "" {
		t.Errorf("Matcher mismatch (-want +got):\n%s", diff)
	}
	if len(cfg.Redirects) != 1 || cfg.Redirects[0].RedirectStatus() != http.StatusTemporaryRedirect {
		t.Errorf("Redirects = %+v", cfg.Redirects)
	}
	if len(cfg.Rewrites.AfterFiles) != 1 || cfg.Rewrites.AfterFiles[0].Destination != "/b" {
		t.Errorf("legacy rewrites list should become afterFiles: %+v", cfg.Rewrites)
	}
}

func TestLoadYAMLPhasedRewrites(t *testing.T) {
	dir := writeConfig(t, "next.config.yaml", `
rewrites:
  beforeFiles:
    - source: /before
      destination: /x
  fallback:
    - source: /:path*
      destination: https://legacy.example.com/:path*
middleware:
  script: middleware.js
  matcher:
    - /a
    - source: /b
      has:
        - type: header
          key: x-flag
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if len(cfg.Rewrites.BeforeFiles) != 1 || len(cfg.Rewrites.Fallback) != 1 {
		t.Errorf("Rewrites = %+v", cfg.Rewrites)
	}
	if len(cfg.Middleware.Matcher) != 2 {
		t.Fatalf("Matcher = %+v", cfg.Middleware.Matcher)
	}
	if m := cfg.Middleware.Matcher[1]; m.Source != "/b" || len(m.Has) != 1 || m.Has[0].Key != "x-flag" {
		t.Errorf("Matcher[1] = %+v", m)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("NEXT_BASEPATH", "/env")
	t.Setenv("NEXT_SERVER_PORT", "8080")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.BasePath != "/env" {
		t.Errorf("BasePath = %q, want /env", cfg.BasePath)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
}

func TestLoadMalformed(t *testing.T) {
	dir := writeConfig(t, "next.config.json", `{"basePath": `)
	_, err := Load(dir)
	if err == nil {
		t.Fatal("expected error")
	}
	if !rerrors.IsCategory(err, rerrors.CategoryConfig) {
		t.Errorf("error category = %v", err)
	}
}

func TestLoadFileUnreadable(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	e, ok := err.(*rerrors.Error)
	if !ok {
		t.Fatalf("LoadFile error = %v, want *errors.Error", err)
	}
	if e.Code != "R020" {
		t.Errorf("Code = %s, want R020", e.Code)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"basePath root", func(c *Config) { c.BasePath = "/" }, "R022"},
		{"basePath no slash", func(c *Config) { c.BasePath = "docs" }, "R022"},
		{"basePath trailing slash", func(c *Config) { c.BasePath = "/docs/" }, "R022"},
		{"default locale missing", func(c *Config) {
			c.I18n = &locale.Config{Locales: []string{"en"}, DefaultLocale: "fr"}
		}, "R023"},
		{"output", func(c *Config) { c.Output = "static" }, "R025"},
		{"negative proxy timeout", func(c *Config) { c.ProxyTimeout = -time.Second }, "R028"},
		{"runtime", func(c *Config) { c.Middleware.Runtime = "deno" }, "R026"},
		{"matcher", func(c *Config) { c.Middleware.Matcher = Matchers{{Source: "account"}} }, "R026"},
		{"redirect without destination", func(c *Config) { c.Redirects = []Route{{Source: "/a"}} }, "R024"},
		{"redirect bad status", func(c *Config) {
			c.Redirects = []Route{{Source: "/a", Destination: "/b", StatusCode: 200}}
		}, "R024"},
		{"header without headers", func(c *Config) { c.Headers = []Route{{Source: "/a"}} }, "R024"},
		{"bad condition", func(c *Config) {
			c.Rewrites.AfterFiles = []Route{{Source: "/a", Destination: "/b", Has: []routematch.Condition{{Type: "body"}}}}
		}, "R024"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate error: %v", err)
				}
				return
			}
			e, ok := err.(*rerrors.Error)
			if !ok {
				t.Fatalf("Validate error = %v, want *errors.Error", err)
			}
			if e.Code != tt.wantErr {
				t.Errorf("Code = %s, want %s", e.Code, tt.wantErr)
			}
		})
	}
}

func TestRedirectStatus(t *testing.T) {
	yes, no := true, false
	tests := []struct {
		route Route
		want  int
	}{
		{Route{}, http.StatusPermanentRedirect},
		{Route{Permanent: &yes}, http.StatusPermanentRedirect},
		{Route{Permanent: &no}, http.StatusTemporaryRedirect},
		{Route{StatusCode: 301, Permanent: &no}, http.StatusMovedPermanently},
	}
	for _, tt := range tests {
		if got := tt.route.RedirectStatus(); got != tt.want {
			t.Errorf("RedirectStatus(%+v) = %d, want %d", tt.route, got, tt.want)
		}
	}
}

func TestRewritesUnmarshalJSON(t *testing.T) {
	var list Rewrites
	if err := json.Unmarshal([]byte(`[{"source":"/a","destination":"/b"}]`), &list); err != nil {
		t.Fatal(err)
	}
	if len(list.AfterFiles) != 1 {
		t.Errorf("list form = %+v", list)
	}

	var phased Rewrites
	if err := json.Unmarshal([]byte(`{"beforeFiles":[{"source":"/a","destination":"/b"}],"fallback":[]}`), &phased); err != nil {
		t.Fatal(err)
	}
	if len(phased.BeforeFiles) != 1 || len(phased.AfterFiles) != 0 {
		t.Errorf("phased form = %+v", phased)
	}
}

func TestMatchersUnmarshalJSON(t *testing.T) {
	tests := []struct {
		in   string
		want Matchers
	}{
		{`"/a"`, Matchers{{Source: "/a"}}},
		{`["/a", "/b"]`, Matchers{{Source: "/a"}, {Source: "/b"}}},
		{`[{"source": "/c"}]`, Matchers{{Source: "/c"}}},
	}
	for _, tt := range tests {
		var got Matchers
		if err := json.Unmarshal([]byte(tt.in), &got); err != nil {
			t.Errorf("Unmarshal(%s) error: %v", tt.in, err)
			continue
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("Unmarshal(%s) mismatch (-want +got):\n%s", tt.in, diff)
		}
	}
}
