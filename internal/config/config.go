package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	rerrors "github.com/oreillyross/next.js/internal/errors"
	"github.com/oreillyross/next.js/pkg/locale"
)

const (
	// ConfigName is the base name of the configuration file. Any extension
	// viper understands is accepted (json, yaml, toml).
	ConfigName = "next.config"

	// EnvPrefix prefixes environment overrides, e.g. NEXT_BASEPATH.
	EnvPrefix = "NEXT"

	// DefaultDistDir is the default build output directory.
	DefaultDistDir = ".next"

	// DefaultProxyTimeout bounds a single proxied upstream call.
	DefaultProxyTimeout = 30 * time.Second

	// DefaultMiddlewareTimeout bounds a single middleware execution.
	DefaultMiddlewareTimeout = 10 * time.Second

	// DefaultPort is the default listener port.
	DefaultPort = 3000

	// DefaultHost is the default listener host.
	DefaultHost = "localhost"
)

// Output modes.
const (
	OutputDefault    = ""
	OutputStandalone = "standalone"
	OutputExport     = "export"
)

// DefaultPageExtensions are the page file extensions scanned in live mode.
var DefaultPageExtensions = []string{"tsx", "ts", "jsx", "js"}

// Config is the validated, read-only router configuration.
type Config struct {
	// BasePath mounts the router under a path prefix.
	BasePath string `mapstructure:"basePath" json:"basePath,omitempty"`

	// DistDir is the build output directory, relative to the project dir.
	DistDir string `mapstructure:"distDir" json:"distDir,omitempty"`

	// I18n enables locale prefixes. Nil when not configured.
	I18n *locale.Config `mapstructure:"i18n" json:"i18n,omitempty"`

	// TrailingSlash selects the canonical trailing slash policy.
	TrailingSlash bool `mapstructure:"trailingSlash" json:"trailingSlash,omitempty"`

	// Output is the build output mode.
	Output string `mapstructure:"output" json:"output,omitempty"`

	Experimental ExperimentalConfig `mapstructure:"experimental" json:"experimental,omitempty"`

	// ProxyTimeout bounds each proxied upstream call.
	ProxyTimeout time.Duration `mapstructure:"proxyTimeout" json:"proxyTimeout,omitempty"`

	// PageExtensions lists page file extensions for live scanning.
	PageExtensions []string `mapstructure:"pageExtensions" json:"pageExtensions,omitempty"`

	Middleware MiddlewareConfig `mapstructure:"middleware" json:"middleware,omitempty"`

	// Headers, Redirects and Rewrites are used in live mode. A build
	// carries its own processed copy in routes-manifest.json.
	Headers   []Route  `mapstructure:"headers" json:"headers,omitempty"`
	Redirects []Route  `mapstructure:"redirects" json:"redirects,omitempty"`
	Rewrites  Rewrites `mapstructure:"rewrites" json:"rewrites,omitempty"`

	Server    ServerConfig    `mapstructure:"server" json:"server,omitempty"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts" json:"artifacts,omitempty"`
	Log       LogConfig       `mapstructure:"log" json:"log,omitempty"`

	// dir is the project directory.
	dir string
}

// ExperimentalConfig holds opt-in behavior.
type ExperimentalConfig struct {
	// CaseSensitiveRoutes makes custom route sources case sensitive.
	CaseSensitiveRoutes bool `mapstructure:"caseSensitiveRoutes" json:"caseSensitiveRoutes,omitempty"`
}

// MiddlewareConfig describes the middleware script for live mode.
type MiddlewareConfig struct {
	// Script is the middleware source file, relative to the project dir.
	Script string `mapstructure:"script" json:"script,omitempty"`

	// Matcher restricts the paths middleware runs for. Empty matches all.
	Matcher Matchers `mapstructure:"matcher" json:"matcher,omitempty"`

	// Runtime is "edge" (default) or "nodejs". Both run in the sandbox.
	Runtime string `mapstructure:"runtime" json:"runtime,omitempty"`

	// Timeout bounds one execution.
	Timeout time.Duration `mapstructure:"timeout" json:"timeout,omitempty"`
}

// ServerConfig is the listener address.
type ServerConfig struct {
	Host string `mapstructure:"host" json:"host,omitempty"`
	Port int    `mapstructure:"port" json:"port,omitempty"`
}

// ArtifactsConfig points at a bucket holding the build output. When Bucket
// is empty the build is read from DistDir.
type ArtifactsConfig struct {
	Bucket string `mapstructure:"bucket" json:"bucket,omitempty"`
	Prefix string `mapstructure:"prefix" json:"prefix,omitempty"`
	Region string `mapstructure:"region" json:"region,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level" json:"level,omitempty"`
	Format string `mapstructure:"format" json:"format,omitempty"`
	File   string `mapstructure:"file" json:"file,omitempty"`
}

// New creates a Config with default values.
func New() *Config {
	return &Config{
		DistDir:        DefaultDistDir,
		ProxyTimeout:   DefaultProxyTimeout,
		PageExtensions: append([]string(nil), DefaultPageExtensions...),
		Middleware: MiddlewareConfig{
			Runtime: "edge",
			Timeout: DefaultMiddlewareTimeout,
		},
		Server: ServerConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		dir: ".",
	}
}

func setDefaults(v *viper.Viper) {
	d := New()
	v.SetDefault("basePath", d.BasePath)
	v.SetDefault("distDir", d.DistDir)
	v.SetDefault("trailingSlash", d.TrailingSlash)
	v.SetDefault("output", d.Output)
	v.SetDefault("experimental.caseSensitiveRoutes", false)
	v.SetDefault("proxyTimeout", d.ProxyTimeout)
	v.SetDefault("pageExtensions", d.PageExtensions)
	v.SetDefault("middleware.script", "")
	v.SetDefault("middleware.runtime", d.Middleware.Runtime)
	v.SetDefault("middleware.timeout", d.Middleware.Timeout)
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("artifacts.bucket", "")
	v.SetDefault("artifacts.prefix", "")
	v.SetDefault("artifacts.region", "")
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", "")
}

// Load reads the configuration from dir. A missing config file is not an
// error: defaults and environment overrides apply.
func Load(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName(ConfigName)
	v.AddConfigPath(dir)
	return load(v, dir)
}

// LoadFile reads the configuration from an explicit file.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v, filepath.Dir(path))
}

func load(v *viper.Viper, dir string) (*Config, error) {
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		var pathErr *fs.PathError
		switch {
		case errors.As(err, &notFound):
		case errors.As(err, &pathErr):
			return nil, rerrors.New("R020").WithFile(v.ConfigFileUsed()).Wrap(err)
		default:
			return nil, rerrors.New("R021").
				WithFile(v.ConfigFileUsed()).
				Wrap(err).
				WithSuggestion("Check that the config file is valid JSON, YAML or TOML")
		}
	}

	cfg := New()
	if err := v.Unmarshal(cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, rerrors.New("R021").WithFile(v.ConfigFileUsed()).Wrap(err)
	}
	cfg.dir = dir

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		matchersHook,
		rewritesHook,
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

var (
	matchersType = reflect.TypeOf(Matchers(nil))
	rewritesType = reflect.TypeOf(Rewrites{})
)

// matchersHook accepts a bare string or a list mixing strings and objects.
func matchersHook(_ reflect.Type, t reflect.Type, data any) (any, error) {
	if t != matchersType {
		return data, nil
	}
	switch d := data.(type) {
	case string:
		return []any{map[string]any{"source": d}}, nil
	case []any:
		out := make([]any, len(d))
		for i, item := range d {
			if s, ok := item.(string); ok {
				out[i] = map[string]any{"source": s}
			} else {
				out[i] = item
			}
		}
		return out, nil
	}
	return data, nil
}

// rewritesHook accepts the legacy list shape as afterFiles rewrites.
func rewritesHook(_ reflect.Type, t reflect.Type, data any) (any, error) {
	if t != rewritesType {
		return data, nil
	}
	if list, ok := data.([]any); ok {
		return map[string]any{"afterFiles": list}, nil
	}
	return data, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if bp := c.BasePath; bp != "" {
		if bp == "/" || !strings.HasPrefix(bp, "/") || strings.HasSuffix(bp, "/") {
			return rerrors.New("R022").
				Wrap(fmt.Errorf("basePath %q", bp)).
				WithSuggestion(`Use a value like "/docs" or leave basePath empty`)
		}
	}

	if c.I18n != nil {
		if len(c.I18n.Locales) == 0 {
			c.I18n = nil
		} else if !locale.Has(c.I18n.Locales, c.I18n.DefaultLocale) {
			return rerrors.New("R023").
				Wrap(fmt.Errorf("defaultLocale %q not in %v", c.I18n.DefaultLocale, c.I18n.Locales))
		}
	}

	switch c.Output {
	case OutputDefault, OutputStandalone, OutputExport:
	default:
		return rerrors.New("R025").Wrap(fmt.Errorf("output %q", c.Output))
	}

	if c.ProxyTimeout < 0 {
		return rerrors.New("R028").Wrap(fmt.Errorf("proxyTimeout %s", c.ProxyTimeout))
	}

	switch c.Middleware.Runtime {
	case "", "edge", "nodejs":
	default:
		return rerrors.New("R026").Wrap(fmt.Errorf("runtime %q", c.Middleware.Runtime))
	}
	for _, m := range c.Middleware.Matcher {
		if !strings.HasPrefix(m.Source, "/") {
			return rerrors.New("R026").Wrap(fmt.Errorf("matcher %q must start with /", m.Source))
		}
	}

	for kind, routes := range map[string][]Route{
		"header":   c.Headers,
		"redirect": c.Redirects,
		"rewrite":  c.Rewrites.All(),
	} {
		for _, r := range routes {
			if err := r.validate(kind); err != nil {
				return rerrors.New("R024").Wrap(err)
			}
		}
	}

	return nil
}

// Dir returns the project directory.
func (c *Config) Dir() string {
	if c.dir == "" {
		return "."
	}
	return c.dir
}

// SetDir sets the project directory.
func (c *Config) SetDir(dir string) { c.dir = dir }

// DistPath returns the build output directory.
func (c *Config) DistPath() string {
	if filepath.IsAbs(c.DistDir) {
		return c.DistDir
	}
	return filepath.Join(c.Dir(), c.DistDir)
}

// Addr returns the listener address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// DefaultLocale returns the default locale or "".
func (c *Config) DefaultLocale() string {
	if c.I18n == nil {
		return ""
	}
	return c.I18n.DefaultLocale
}

// Locales returns the configured locales or nil.
func (c *Config) Locales() []string {
	if c.I18n == nil {
		return nil
	}
	return c.I18n.Locales
}
