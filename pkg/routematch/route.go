package routematch

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// dynamicSegment matches a bracketed segment: [id], [...slug], [[...slug]].
var dynamicSegment = regexp.MustCompile(`\[((?:\[.*\])|.+)\]`)

// IsDynamicRoute reports whether a filesystem route has bracket segments.
func IsDynamicRoute(page string) bool {
	return dynamicSegment.MatchString(page)
}

// Segment describes one parsed filesystem route parameter.
type Segment struct {
	Name     string
	Repeat   bool
	Optional bool
}

// parseParameter parses the content of a bracket segment.
// "[...slug]" → {slug, repeat}; "...slug" → {slug, repeat};
// "[[...slug]]" content "[...slug]" → {slug, repeat, optional}.
func parseParameter(param string) Segment {
	optional := strings.HasPrefix(param, "[") && strings.HasSuffix(param, "]")
	if optional {
		param = param[1 : len(param)-1]
	}
	repeat := strings.HasPrefix(param, "...")
	if repeat {
		param = param[3:]
	}
	return Segment{Name: param, Repeat: repeat, Optional: optional}
}

// routeExpr renders a filesystem route without anchors. Parameter groups
// use sanitized names; names maps them back.
func routeExpr(page string) (string, map[string]string, map[string]bool, error) {
	trimmed := strings.TrimSuffix(page, "/")
	if trimmed == "" {
		return "", map[string]string{}, map[string]bool{}, nil
	}

	names := make(map[string]string)
	repeat := make(map[string]bool)
	var b strings.Builder

	for i, seg := range strings.Split(strings.TrimPrefix(trimmed, "/"), "/") {
		m := dynamicSegment.FindStringSubmatch(seg)
		if m == nil {
			b.WriteString("/" + regexp.QuoteMeta(seg))
			continue
		}

		p := parseParameter(m[1])
		if p.Name == "" {
			return "", nil, nil, fmt.Errorf("route %q: empty parameter name", page)
		}
		if _, dup := repeat[p.Name]; dup {
			return "", nil, nil, fmt.Errorf("route %q: duplicate parameter %q", page, p.Name)
		}

		group := safeGroupName(p.Name, i)
		names[group] = p.Name
		repeat[p.Name] = p.Repeat

		switch {
		case p.Repeat && p.Optional:
			fmt.Fprintf(&b, "(?:/(?<%s>.+?))?", group)
		case p.Repeat:
			fmt.Fprintf(&b, "/(?<%s>.+?)", group)
		default:
			fmt.Fprintf(&b, "/(?<%s>[^/]+?)", group)
		}
	}

	return b.String(), names, repeat, nil
}

// safeGroupName derives a regex-safe group name from a parameter name.
func safeGroupName(name string, pos int) string {
	var b strings.Builder
	b.WriteString("nxtP")
	for i := 0; i < len(name); i++ {
		if isNameChar(name[i]) {
			b.WriteByte(name[i])
		}
	}
	fmt.Fprintf(&b, "_%d", pos)
	return b.String()
}

// CompileRoute compiles a filesystem route such as "/blog/[slug]".
// Captured values are percent-decoded; catch-all parameters yield []string.
func CompileRoute(page string) (*Matcher, error) {
	body, names, repeat, err := routeExpr(page)
	if err != nil {
		return nil, err
	}

	expr := "^" + body + "(?:/)?$"
	if body == "" {
		expr = "^/(?:/)?$"
	}

	re, err := compileExpr(expr, true)
	if err != nil {
		return nil, fmt.Errorf("compile route %q: %w", page, err)
	}

	return &Matcher{
		source: page,
		expr:   expr,
		re:     re,
		decode: true,
		names:  names,
		repeat: repeat,
	}, nil
}

// LocaleParam is the parameter carrying the locale segment of a localized
// data route.
const LocaleParam = "nextLocale"

// CompileDataRoute compiles the JSON data variant of a page:
// /_next/data/<buildID>/<page>.json. When localized, the locale segment is
// expected right after the build id and captured as LocaleParam.
func CompileDataRoute(page, buildID string, localized bool) (*Matcher, error) {
	body, names, repeat, err := routeExpr(AssetPathFromRoute(page))
	if err != nil {
		return nil, err
	}

	escapedID := regexp.QuoteMeta(buildID)
	expr := `^/_next/data/` + escapedID + body + `\.json$`
	if localized {
		expr = strings.Replace(expr,
			"/"+escapedID+"/",
			"/"+escapedID+"/(?<"+LocaleParam+">[^/]+?)/", 1)
	}

	re, err := compileExpr(expr, true)
	if err != nil {
		return nil, fmt.Errorf("compile data route %q: %w", page, err)
	}

	return &Matcher{
		source: page,
		expr:   expr,
		re:     re,
		decode: true,
		names:  names,
		repeat: repeat,
	}, nil
}

// AssetPathFromRoute maps a route to its asset base path:
// "/" → "/index", "/index/x" → "/index/index/x".
func AssetPathFromRoute(route string) string {
	switch {
	case route == "/":
		return "/index"
	case route == "/index" || strings.HasPrefix(route, "/index/"):
		return "/index" + route
	}
	return route
}

// Interpolate fills a filesystem route's brackets with params.
// "/blog/[slug]" + {slug: "a b"} → "/blog/a%20b".
func Interpolate(page string, params Params) (string, error) {
	var out []string
	for _, seg := range strings.Split(strings.TrimPrefix(page, "/"), "/") {
		m := dynamicSegment.FindStringSubmatch(seg)
		if m == nil {
			out = append(out, seg)
			continue
		}
		p := parseParameter(m[1])
		values := params.Strings(p.Name)
		if len(values) == 0 {
			if p.Optional {
				continue
			}
			return "", fmt.Errorf("interpolate %q: missing parameter %q", page, p.Name)
		}
		for _, v := range values {
			out = append(out, url.PathEscape(v))
		}
	}
	return "/" + strings.Join(out, "/"), nil
}

func decodeParam(s string) string {
	decoded, err := url.PathUnescape(s)
	if err != nil {
		return s
	}
	return decoded
}
