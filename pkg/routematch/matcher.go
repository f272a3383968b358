package routematch

import (
	"fmt"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

// MatchTimeout bounds a single regex evaluation. Expressions come from
// operators and build output and may backtrack.
var MatchTimeout = 250 * time.Millisecond

// Modifier post-processes a generated expression before it is compiled.
type Modifier func(expr string) string

// Options configures Compile.
type Options struct {
	// Strict disables the optional trailing delimiter.
	Strict bool

	// RemoveUnnamedParams drops "(pattern)" captures from the result.
	RemoveUnnamedParams bool

	// Sensitive enables case-sensitive matching.
	Sensitive bool

	// Modifier rewrites the expression. Ignored when Internal is set.
	Modifier Modifier

	// Internal marks a system-generated source; it is trusted and never
	// passed through Modifier.
	Internal bool
}

// Params holds matched parameters. Values are string or []string.
type Params map[string]any

// String returns a single-valued parameter. Repeated values are joined
// with "/".
func (p Params) String(name string) string {
	switch v := p[name].(type) {
	case string:
		return v
	case []string:
		return strings.Join(v, "/")
	}
	return ""
}

// Strings returns a parameter as a list.
func (p Params) Strings(name string) []string {
	switch v := p[name].(type) {
	case string:
		return []string{v}
	case []string:
		return v
	}
	return nil
}

// Merge copies other into p, overwriting existing keys.
func (p Params) Merge(other Params) Params {
	if p == nil {
		p = make(Params, len(other))
	}
	for k, v := range other {
		p[k] = v
	}
	return p
}

// Matcher is a compiled path matcher. It is safe for concurrent use.
type Matcher struct {
	source string
	expr   string
	re     *regexp2.Regexp
	keys   []Key
	opts   Options

	// decode percent-decodes captured values (filesystem routes).
	decode bool

	// names maps regex group names to parameter names when they differ.
	names map[string]string
	// repeat marks parameters that always yield []string.
	repeat map[string]bool
}

// Compile turns a path-to-regexp source into a Matcher.
func Compile(source string, opts Options) (*Matcher, error) {
	tokens, err := parse(source)
	if err != nil {
		return nil, err
	}

	expr, keys := toExpr(tokens, opts.Strict)
	if opts.Modifier != nil && !opts.Internal {
		expr = opts.Modifier(expr)
	}

	re, err := compileExpr(expr, opts.Sensitive)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", source, err)
	}

	return &Matcher{
		source: source,
		expr:   expr,
		re:     re,
		keys:   keys,
		opts:   opts,
	}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(source string, opts Options) *Matcher {
	m, err := Compile(source, opts)
	if err != nil {
		panic(err)
	}
	return m
}

// CompileRegexp wraps a ready-made expression, such as the regexp field of
// a middleware manifest entry. Only named groups become parameters.
func CompileRegexp(expr string, sensitive bool) (*Matcher, error) {
	re, err := compileExpr(expr, sensitive)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", expr, err)
	}
	return &Matcher{source: expr, expr: expr, re: re, opts: Options{Sensitive: sensitive}}, nil
}

func compileExpr(expr string, sensitive bool) (*regexp2.Regexp, error) {
	flags := regexp2.RegexOptions(regexp2.ExplicitCapture)
	if !sensitive {
		flags |= regexp2.IgnoreCase
	}
	re, err := regexp2.Compile(expr, flags)
	if err != nil {
		return nil, err
	}
	re.MatchTimeout = MatchTimeout
	return re, nil
}

// Source returns the pattern the matcher was compiled from.
func (m *Matcher) Source() string { return m.source }

// Expr returns the compiled expression.
func (m *Matcher) Expr() string { return m.expr }

// Keys returns the declared parameters in order.
func (m *Matcher) Keys() []Key { return m.keys }

// MatchString reports whether path matches, without extracting params.
func (m *Matcher) MatchString(path string) bool {
	ok, err := m.re.MatchString(path)
	return err == nil && ok
}

// Match matches path and returns its parameters.
func (m *Matcher) Match(path string) (Params, bool) {
	match, err := m.re.FindStringMatch(path)
	if err != nil || match == nil {
		return nil, false
	}

	params := Params{}

	if m.keys != nil {
		for i, key := range m.keys {
			g := match.GroupByName(groupName(i))
			if g == nil || len(g.Captures) == 0 {
				continue
			}
			if key.Unnamed && m.opts.RemoveUnnamedParams {
				continue
			}
			value := g.String()
			if key.Repeat() {
				params[key.Name] = strings.Split(value, key.Prefix+key.Suffix)
			} else {
				params[key.Name] = value
			}
		}
		return params, true
	}

	for _, g := range match.Groups() {
		if len(g.Captures) == 0 || g.Name == "" || g.Name == "0" {
			continue
		}
		name := g.Name
		if n, ok := m.names[name]; ok {
			name = n
		}
		value := g.String()

		if !m.decode {
			params[name] = value
			continue
		}

		if strings.Contains(value, "/") || m.repeat[name] {
			parts := strings.Split(value, "/")
			for i, part := range parts {
				parts[i] = decodeParam(part)
			}
			params[name] = parts
			continue
		}
		params[name] = decodeParam(value)
	}

	return params, true
}

// RedirectModifier returns the post-processor applied to user-declared
// sources: an optional trailing slash is accepted and, when restricted
// prefixes are given, paths under them never match.
func RedirectModifier(restricted ...string) Modifier {
	return func(expr string) string {
		if len(restricted) > 0 {
			alts := make([]string, len(restricted))
			for i, p := range restricted {
				alts[i] = strings.ReplaceAll(p, "/", `\/`)
			}
			expr = strings.Replace(expr, "^", "^(?!"+strings.Join(alts, "|")+")", 1)
		}
		if strings.HasSuffix(expr, "$") {
			expr = strings.TrimSuffix(expr, "$") + `(?:\/)?$`
		}
		return expr
	}
}
