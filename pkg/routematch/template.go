package routematch

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Template is a parsed destination such as
// "https://:sub.example.com/docs/:path*?ref=:ref#top".
// Placeholders use the same ":name" syntax as sources.
type Template struct {
	raw      string
	scheme   string
	host     string
	path     []token
	query    [][2]string
	fragment string

	// pathParams are names referenced by the path or host.
	pathParams map[string]bool
}

// ParseTemplate parses a destination template.
func ParseTemplate(dest string) (*Template, error) {
	t := &Template{raw: dest, pathParams: map[string]bool{}}
	rest := dest

	if i := strings.Index(rest, "://"); i > 0 && !strings.ContainsAny(rest[:i], "/:?#") {
		t.scheme = rest[:i]
		rest = rest[i+3:]
		end := strings.IndexAny(rest, "/?#")
		if end < 0 {
			end = len(rest)
		}
		t.host = rest[:end]
		rest = rest[end:]
		for _, name := range placeholders(t.host) {
			t.pathParams[name] = true
		}
	}

	if i := strings.IndexByte(rest, '#'); i >= 0 {
		t.fragment = rest[i+1:]
		rest = rest[:i]
	}

	if i := strings.IndexByte(rest, '?'); i >= 0 {
		for _, pair := range strings.Split(rest[i+1:], "&") {
			if pair == "" {
				continue
			}
			k, v, _ := strings.Cut(pair, "=")
			if uk, err := url.QueryUnescape(k); err == nil {
				k = uk
			}
			t.query = append(t.query, [2]string{k, v})
		}
		rest = rest[:i]
	}

	if rest == "" {
		rest = "/"
	}
	tokens, err := parse(rest)
	if err != nil {
		return nil, fmt.Errorf("destination %q: %w", dest, err)
	}
	t.path = tokens
	for _, tk := range tokens {
		if tk.key != nil && tk.key.Pattern != "" {
			t.pathParams[tk.key.Name] = true
		}
	}

	return t, nil
}

// External reports whether the destination names its own origin.
func (t *Template) External() bool { return t.scheme != "" }

// String returns the raw template.
func (t *Template) String() string { return t.raw }

// UsesParam reports whether the path or host references name.
func (t *Template) UsesParam(name string) bool { return t.pathParams[name] }

// ExpandOptions controls Expand.
type ExpandOptions struct {
	// Query is the request query, merged under the destination's own query.
	Query url.Values

	// AppendParams adds matched params to the query when none of them is
	// used by the destination path or host. Used for rewrites.
	AppendParams bool

	// SkipParams are never appended to the query.
	SkipParams []string
}

// Expand fills the template with params.
func (t *Template) Expand(params Params, opts ExpandOptions) (*url.URL, error) {
	rawPath, err := t.formatPath(params)
	if err != nil {
		return nil, err
	}
	path, err := url.PathUnescape(rawPath)
	if err != nil {
		path = rawPath
	}

	u := &url.URL{
		Scheme:   t.scheme,
		Host:     formatNonPath(t.host, params),
		Path:     path,
		RawPath:  rawPath,
		Fragment: formatNonPath(t.fragment, params),
	}

	query := url.Values{}
	for k, vs := range opts.Query {
		query[k] = append([]string(nil), vs...)
	}

	dest := url.Values{}
	for _, kv := range t.query {
		v := formatNonPath(kv[1], params)
		if uv, err := url.QueryUnescape(v); err == nil {
			v = uv
		}
		dest.Add(kv[0], v)
	}

	if opts.AppendParams {
		skip := make(map[string]bool, len(opts.SkipParams))
		for _, s := range opts.SkipParams {
			skip[s] = true
		}

		used := false
		for name := range params {
			if !skip[name] && t.pathParams[name] {
				used = true
				break
			}
		}
		if !used {
			names := make([]string, 0, len(params))
			for name := range params {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				if skip[name] {
					continue
				}
				if _, ok := dest[name]; ok {
					continue
				}
				dest[name] = params.Strings(name)
			}
		}
	}

	for k, vs := range dest {
		query[k] = vs
	}
	u.RawQuery = query.Encode()

	return u, nil
}

func (t *Template) formatPath(params Params) (string, error) {
	var b strings.Builder
	for _, tk := range t.path {
		if tk.key == nil {
			b.WriteString(tk.text)
			continue
		}
		k := tk.key
		if k.Pattern == "" {
			b.WriteString(k.Prefix + k.Suffix)
			continue
		}

		values := params.Strings(k.Name)
		if len(values) == 0 {
			if k.Optional() {
				continue
			}
			return "", fmt.Errorf("destination %q: missing parameter %q", t.raw, k.Name)
		}

		if !k.Repeat() {
			values = []string{params.String(k.Name)}
		}
		for _, v := range values {
			b.WriteString(k.Prefix)
			b.WriteString(escapeSegment(v))
			b.WriteString(k.Suffix)
		}
	}

	if b.Len() == 0 {
		return "/", nil
	}
	return b.String(), nil
}

// escapeSegment percent-encodes a value but keeps "/" so multi-segment
// values land as separate path segments.
func escapeSegment(v string) string {
	parts := strings.Split(v, "/")
	for i, p := range parts {
		if u, err := url.PathUnescape(p); err == nil {
			p = u
		}
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// FormatValue substitutes ":name" placeholders in a header key or value.
func FormatValue(s string, params Params) string {
	return formatNonPath(s, params)
}

// formatNonPath substitutes ":name" placeholders in host, query and
// fragment values. Unknown placeholders are left as written.
func formatNonPath(s string, params Params) string {
	if !strings.Contains(s, ":") {
		return s
	}

	var b strings.Builder
	for i := 0; i < len(s); {
		if s[i] != ':' {
			b.WriteByte(s[i])
			i++
			continue
		}
		j := i + 1
		for j < len(s) && isNameChar(s[j]) {
			j++
		}
		name := s[i+1 : j]
		if _, ok := params[name]; name == "" || !ok {
			b.WriteByte(':')
			i++
			continue
		}
		b.WriteString(params.String(name))
		if j < len(s) && strings.ContainsRune("*+?", rune(s[j])) {
			j++
		}
		i = j
	}
	return b.String()
}

func placeholders(s string) []string {
	var names []string
	for i := 0; i < len(s); i++ {
		if s[i] != ':' {
			continue
		}
		j := i + 1
		for j < len(s) && isNameChar(s[j]) {
			j++
		}
		if j > i+1 {
			names = append(names, s[i+1:j])
		}
		i = j - 1
	}
	return names
}
