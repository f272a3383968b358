// Package locale detects and strips locale prefixes from request paths.
package locale

import "strings"

// Result is the outcome of Normalize.
type Result struct {
	// Pathname is the path with the locale segment removed.
	Pathname string

	// DetectedLocale is the matched locale in its configured casing, or "".
	DetectedLocale string
}

// Normalize strips a leading locale segment from pathname.
//
// Only a whole first segment can match: "/en-US/about" matches "en-US" but
// "/english" does not match "en". Comparison ignores case and the longest
// matching locale wins. With no locales, pathname is returned unchanged.
func Normalize(pathname string, locales []string) Result {
	if len(locales) == 0 {
		return Result{Pathname: pathname}
	}

	rest := strings.TrimPrefix(pathname, "/")
	if rest == pathname {
		return Result{Pathname: pathname}
	}
	segment, tail, hasTail := strings.Cut(rest, "/")
	if segment == "" {
		return Result{Pathname: pathname}
	}

	detected := ""
	for _, l := range locales {
		if len(l) > len(detected) && strings.EqualFold(segment, l) {
			detected = l
		}
	}
	if detected == "" {
		return Result{Pathname: pathname}
	}

	stripped := "/"
	if hasTail {
		stripped = "/" + tail
	}
	return Result{Pathname: stripped, DetectedLocale: detected}
}

// Has reports whether locales contains l, ignoring case.
func Has(locales []string, l string) bool {
	for _, c := range locales {
		if strings.EqualFold(c, l) {
			return true
		}
	}
	return false
}

// Config is the i18n section of the configuration.
type Config struct {
	Locales       []string `json:"locales" mapstructure:"locales"`
	DefaultLocale string   `json:"defaultLocale" mapstructure:"defaultLocale"`
}

// Enabled reports whether any locale is configured.
func (c *Config) Enabled() bool {
	return c != nil && len(c.Locales) > 0
}

// Detect normalizes pathname and falls back to the default locale.
// The second result reports whether the locale came from the path.
func (c *Config) Detect(pathname string) (Result, bool) {
	if !c.Enabled() {
		return Result{Pathname: pathname}, false
	}
	r := Normalize(pathname, c.Locales)
	if r.DetectedLocale != "" {
		return r, true
	}
	r.DetectedLocale = c.DefaultLocale
	return r, false
}

// Candidates returns the locales a lookup may resolve under. Static kinds
// only resolve under the default locale.
func (c *Config) Candidates(defaultOnly bool) []string {
	if !c.Enabled() {
		return nil
	}
	if defaultOnly {
		return []string{c.DefaultLocale}
	}
	return c.Locales
}
