package config

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/oreillyross/next.js/pkg/routematch"
)

// Header is a response header set by a header rule.
type Header struct {
	Key   string `mapstructure:"key" json:"key"`
	Value string `mapstructure:"value" json:"value"`
}

// Route is an operator-declared header, redirect or rewrite rule. The same
// shape is read from the config file and from routes-manifest.json.
type Route struct {
	Source      string   `mapstructure:"source" json:"source"`
	Destination string   `mapstructure:"destination" json:"destination,omitempty"`
	Headers     []Header `mapstructure:"headers" json:"headers,omitempty"`

	// StatusCode overrides the redirect status.
	StatusCode int `mapstructure:"statusCode" json:"statusCode,omitempty"`

	// Permanent selects 308 (true or unset) or 307 (false).
	Permanent *bool `mapstructure:"permanent" json:"permanent,omitempty"`

	// BasePath false opts the rule out of the basePath prefix.
	BasePath *bool `mapstructure:"basePath" json:"basePath,omitempty"`

	// Locale false opts the rule out of the locale prefix.
	Locale *bool `mapstructure:"locale" json:"locale,omitempty"`

	// Internal marks generated rules; they skip redirect restrictions.
	Internal bool `mapstructure:"internal" json:"internal,omitempty"`

	Has     []routematch.Condition `mapstructure:"has" json:"has,omitempty"`
	Missing []routematch.Condition `mapstructure:"missing" json:"missing,omitempty"`
}

// RedirectStatus returns the status a redirect rule answers with.
func (r Route) RedirectStatus() int {
	if r.StatusCode != 0 {
		return r.StatusCode
	}
	if r.Permanent != nil && !*r.Permanent {
		return http.StatusTemporaryRedirect
	}
	return http.StatusPermanentRedirect
}

func (r Route) validate(kind string) error {
	if !strings.HasPrefix(r.Source, "/") {
		return fmt.Errorf("%s source %q must start with /", kind, r.Source)
	}
	switch kind {
	case "header":
		if len(r.Headers) == 0 {
			return fmt.Errorf("header rule %q has no headers", r.Source)
		}
	case "redirect":
		if r.Destination == "" {
			return fmt.Errorf("redirect %q has no destination", r.Source)
		}
		switch r.RedirectStatus() {
		case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
			http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		default:
			return fmt.Errorf("redirect %q has invalid statusCode %d", r.Source, r.StatusCode)
		}
	case "rewrite":
		if r.Destination == "" {
			return fmt.Errorf("rewrite %q has no destination", r.Source)
		}
	}
	if _, err := routematch.CompileConditions(r.Has); err != nil {
		return fmt.Errorf("%s %q: %w", kind, r.Source, err)
	}
	if _, err := routematch.CompileConditions(r.Missing); err != nil {
		return fmt.Errorf("%s %q: %w", kind, r.Source, err)
	}
	return nil
}

// Rewrites groups rewrites by phase.
type Rewrites struct {
	BeforeFiles []Route `mapstructure:"beforeFiles" json:"beforeFiles,omitempty"`
	AfterFiles  []Route `mapstructure:"afterFiles" json:"afterFiles,omitempty"`
	Fallback    []Route `mapstructure:"fallback" json:"fallback,omitempty"`
}

// All returns every rewrite in phase order.
func (r Rewrites) All() []Route {
	out := make([]Route, 0, len(r.BeforeFiles)+len(r.AfterFiles)+len(r.Fallback))
	out = append(out, r.BeforeFiles...)
	out = append(out, r.AfterFiles...)
	return append(out, r.Fallback...)
}

// UnmarshalJSON accepts a plain list (afterFiles) or the phased object.
func (r *Rewrites) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var list []Route
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*r = Rewrites{AfterFiles: list}
		return nil
	}
	type phased Rewrites
	var p phased
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = Rewrites(p)
	return nil
}

// MiddlewareMatcher restricts middleware to matching requests.
type MiddlewareMatcher struct {
	Source  string                 `mapstructure:"source" json:"source"`
	Locale  *bool                  `mapstructure:"locale" json:"locale,omitempty"`
	Has     []routematch.Condition `mapstructure:"has" json:"has,omitempty"`
	Missing []routematch.Condition `mapstructure:"missing" json:"missing,omitempty"`
}

// Matchers is a matcher list. It decodes from a string, a list of strings
// or a list of objects.
type Matchers []MiddlewareMatcher

// UnmarshalJSON accepts the string and list forms.
func (m *Matchers) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*m = Matchers{{Source: single}}
		return nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Matchers, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			out = append(out, MiddlewareMatcher{Source: s})
			continue
		}
		var mm MiddlewareMatcher
		if err := json.Unmarshal(item, &mm); err != nil {
			return err
		}
		out = append(out, mm)
	}
	*m = out
	return nil
}
