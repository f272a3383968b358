package routematch

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCompileMatch(t *testing.T) {
	tests := []struct {
		name   string
		source string
		opts   Options
		path   string
		want   Params
		ok     bool
	}{
		{"static", "/about", Options{Strict: true}, "/about", Params{}, true},
		{"static miss", "/about", Options{Strict: true}, "/about/team", nil, false},
		{"named", "/blog/:slug", Options{Strict: true}, "/blog/hello-world", Params{"slug": "hello-world"}, true},
		{"named no decode", "/blog/:slug", Options{Strict: true}, "/blog/a%20b", Params{"slug": "a%20b"}, true},
		{"named miss extra segment", "/blog/:slug", Options{Strict: true}, "/blog/a/b", nil, false},
		{"zero or more absent", "/docs/:path*", Options{Strict: true}, "/docs", Params{}, true},
		{"zero or more", "/docs/:path*", Options{Strict: true}, "/docs/a/b", Params{"path": []string{"a", "b"}}, true},
		{"one or more absent", "/docs/:path+", Options{Strict: true}, "/docs", nil, false},
		{"one or more", "/docs/:path+", Options{Strict: true}, "/docs/a", Params{"path": []string{"a"}}, true},
		{"optional", "/shop/:id?", Options{Strict: true}, "/shop", Params{}, true},
		{"custom pattern", `/team/:id(\d{1,})`, Options{Strict: true}, "/team/42", Params{"id": "42"}, true},
		{"custom pattern miss", `/team/:id(\d{1,})`, Options{Strict: true}, "/team/abc", nil, false},
		{"unnamed kept", "/old/(.*)", Options{Strict: true}, "/old/x/y", Params{"0": "x/y"}, true},
		{"unnamed removed", "/old/(.*)", Options{Strict: true, RemoveUnnamedParams: true}, "/old/x/y", Params{}, true},
		{"insensitive", "/About", Options{Strict: true}, "/about", Params{}, true},
		{"sensitive", "/About", Options{Strict: true, Sensitive: true}, "/about", nil, false},
		{"trailing slash loose", "/about", Options{}, "/about/", Params{}, true},
		{"trailing slash strict", "/about", Options{Strict: true}, "/about/", nil, false},
		{"brace group", "/files{-:name}?", Options{Strict: true}, "/files-report", Params{"name": "report"}, true},
		{"escaped colon", `/a\:b`, Options{Strict: true}, "/a:b", Params{}, true},
		{"dot prefix", "/file.:ext", Options{Strict: true}, "/file.json", Params{"ext": "json"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Compile(tt.source, tt.opts)
			if err != nil {
				t.Fatalf("Compile(%q) error: %v", tt.source, err)
			}
			got, ok := m.Match(tt.path)
			if ok != tt.ok {
				t.Fatalf("Match(%q) ok = %v, want %v (expr %s)", tt.path, ok, tt.ok, m.Expr())
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Match(%q) params mismatch (-want +got):\n%s", tt.path, diff)
			}
		})
	}
}

func TestCompileErrors(t *testing.T) {
	sources := []string{
		"/a/:",
		"/a/(",
		"/a/()",
		"/a/(?x)",
		"/a/((b))",
		"/a/{:b",
		`/a\`,
	}
	for _, src := range sources {
		if _, err := Compile(src, Options{}); err == nil {
			t.Errorf("Compile(%q) expected error", src)
		}
	}
}

func TestRedirectModifier(t *testing.T) {
	mod := RedirectModifier("/_next")

	m, err := Compile("/:path*", Options{Strict: true, Modifier: mod})
	if err != nil {
		t.Fatalf("Compile error: %v", err)
	}

	if m.MatchString("/_next/static/chunk.js") {
		t.Error("redirect source must not match reserved prefix")
	}
	if !m.MatchString("/docs/") {
		t.Error("modified source should accept a trailing slash")
	}
	params, ok := m.Match("/docs/intro")
	if !ok {
		t.Fatal("expected match")
	}
	if got := params.Strings("path"); !cmp.Equal(got, []string{"docs", "intro"}) {
		t.Errorf("path = %v", got)
	}
}

func TestInternalSkipsModifier(t *testing.T) {
	called := false
	mod := func(expr string) string {
		called = true
		return expr
	}

	m, err := Compile("/:path*", Options{Strict: true, Modifier: mod, Internal: true})
	if err != nil {
		t.Fatalf("Compile error: %v", err)
	}
	if called {
		t.Error("modifier must not run for internal sources")
	}
	if !m.MatchString("/_next/data") {
		t.Error("internal source should match reserved prefixes")
	}
}

func TestCompileRegexp(t *testing.T) {
	m, err := CompileRegexp(`^(?:\/(_next\/data\/[^/]{1,}))?\/about(?<rest>\/.*)?(.json)?[\/#\?]?$`, false)
	if err != nil {
		t.Fatalf("CompileRegexp error: %v", err)
	}
	params, ok := m.Match("/about/team")
	if !ok {
		t.Fatal("expected match")
	}
	if diff := cmp.Diff(Params{"rest": "/team"}, params); diff != "" {
		t.Errorf("params mismatch (-want +got):\n%s", diff)
	}
	if m.MatchString("/contact") {
		t.Error("unexpected match")
	}
}

func TestCompileRegexpCaseSensitivity(t *testing.T) {
	tests := []struct {
		sensitive bool
		path      string
		want      bool
	}{
		{false, "/about", true},
		{false, "/ABOUT", true},
		{true, "/about", true},
		{true, "/ABOUT", false},
	}
	for _, tt := range tests {
		m, err := CompileRegexp(`^/about$`, tt.sensitive)
		if err != nil {
			t.Fatalf("CompileRegexp error: %v", err)
		}
		if got := m.MatchString(tt.path); got != tt.want {
			t.Errorf("sensitive=%v MatchString(%q) = %v, want %v", tt.sensitive, tt.path, got, tt.want)
		}
	}
}

func TestParamsAccessors(t *testing.T) {
	p := Params{"a": "x", "b": []string{"y", "z"}}

	if got := p.String("a"); got != "x" {
		t.Errorf("String(a) = %q", got)
	}
	if got := p.String("b"); got != "y/z" {
		t.Errorf("String(b) = %q", got)
	}
	if got := p.Strings("a"); !cmp.Equal(got, []string{"x"}) {
		t.Errorf("Strings(a) = %v", got)
	}
	if got := p.Strings("missing"); got != nil {
		t.Errorf("Strings(missing) = %v", got)
	}

	merged := Params(nil).Merge(p)
	if len(merged) != 2 {
		t.Errorf("Merge into nil = %v", merged)
	}
}

func TestKeys(t *testing.T) {
	keys, err := Keys("/a/:b/(c+)/:d*")
	if err != nil {
		t.Fatalf("Keys error: %v", err)
	}
	var names []string
	for _, k := range keys {
		names = append(names, k.Name)
	}
	if !cmp.Equal(names, []string{"b", "0", "d"}) {
		t.Errorf("names = %v", names)
	}
	if !keys[2].Repeat() || !keys[2].Optional() {
		t.Errorf("d should be repeat and optional: %+v", keys[2])
	}
	if !keys[1].Unnamed {
		t.Error("second key should be unnamed")
	}
}
