package routematch

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestIsDynamicRoute(t *testing.T) {
	tests := []struct {
		page string
		want bool
	}{
		{"/", false},
		{"/about", false},
		{"/blog/[slug]", true},
		{"/docs/[...path]", true},
		{"/shop/[[...path]]", true},
	}
	for _, tt := range tests {
		if got := IsDynamicRoute(tt.page); got != tt.want {
			t.Errorf("IsDynamicRoute(%q) = %v, want %v", tt.page, got, tt.want)
		}
	}
}

func TestCompileRoute(t *testing.T) {
	tests := []struct {
		name string
		page string
		path string
		want Params
		ok   bool
	}{
		{"root", "/", "/", Params{}, true},
		{"static", "/about", "/about", Params{}, true},
		{"static trailing slash", "/about", "/about/", Params{}, true},
		{"single", "/blog/[slug]", "/blog/hello-world", Params{"slug": "hello-world"}, true},
		{"single decoded", "/blog/[slug]", "/blog/a%20b", Params{"slug": "a b"}, true},
		{"single miss", "/blog/[slug]", "/blog", nil, false},
		{"single too deep", "/blog/[slug]", "/blog/a/b", nil, false},
		{"catch-all", "/docs/[...path]", "/docs/a/b", Params{"path": []string{"a", "b"}}, true},
		{"catch-all one", "/docs/[...path]", "/docs/a", Params{"path": []string{"a"}}, true},
		{"catch-all empty", "/docs/[...path]", "/docs", nil, false},
		{"optional catch-all empty", "/shop/[[...path]]", "/shop", Params{}, true},
		{"optional catch-all", "/shop/[[...path]]", "/shop/x/y", Params{"path": []string{"x", "y"}}, true},
		{"two params", "/[lang]/[id]", "/en/7", Params{"lang": "en", "id": "7"}, true},
		{"case sensitive", "/About", "/about", nil, false},
		{"literal dot", "/robots.txt", "/robotsxtxt", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := CompileRoute(tt.page)
			if err != nil {
				t.Fatalf("CompileRoute(%q) error: %v", tt.page, err)
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

func TestCompileRouteErrors(t *testing.T) {
	for _, page := range []string{"/a/[...]", "/[id]/[id]"} {
		if _, err := CompileRoute(page); err == nil {
			t.Errorf("CompileRoute(%q) expected error", page)
		}
	}
}

func TestCompileDataRoute(t *testing.T) {
	m, err := CompileDataRoute("/blog/[slug]", "build-1", false)
	if err != nil {
		t.Fatalf("CompileDataRoute error: %v", err)
	}
	params, ok := m.Match("/_next/data/build-1/blog/hello.json")
	if !ok {
		t.Fatalf("expected match (expr %s)", m.Expr())
	}
	if diff := cmp.Diff(Params{"slug": "hello"}, params); diff != "" {
		t.Errorf("params mismatch (-want +got):\n%s", diff)
	}
	if m.MatchString("/_next/data/build-2/blog/hello.json") {
		t.Error("other build id must not match")
	}
}

func TestCompileDataRouteLocalized(t *testing.T) {
	m, err := CompileDataRoute("/blog/[slug]", "build-1", true)
	if err != nil {
		t.Fatalf("CompileDataRoute error: %v", err)
	}
	params, ok := m.Match("/_next/data/build-1/fr/blog/hello.json")
	if !ok {
		t.Fatalf("expected match (expr %s)", m.Expr())
	}
	want := Params{"slug": "hello", LocaleParam: "fr"}
	if diff := cmp.Diff(want, params); diff != "" {
		t.Errorf("params mismatch (-want +got):\n%s", diff)
	}
}

func TestAssetPathFromRoute(t *testing.T) {
	tests := []struct{ in, want string }{
		{"/", "/index"},
		{"/index", "/index/index"},
		{"/index/about", "/index/index/about"},
		{"/indexes", "/indexes"},
		{"/about", "/about"},
	}
	for _, tt := range tests {
		if got := AssetPathFromRoute(tt.in); got != tt.want {
			t.Errorf("AssetPathFromRoute(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestInterpolate(t *testing.T) {
	tests := []struct {
		page   string
		params Params
		want   string
	}{
		{"/blog/[slug]", Params{"slug": "a b"}, "/blog/a%20b"},
		{"/docs/[...path]", Params{"path": []string{"a", "b"}}, "/docs/a/b"},
		{"/shop/[[...path]]", Params{}, "/shop"},
	}
	for _, tt := range tests {
		got, err := Interpolate(tt.page, tt.params)
		if err != nil {
			t.Errorf("Interpolate(%q) error: %v", tt.page, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Interpolate(%q) = %q, want %q", tt.page, got, tt.want)
		}
	}

	if _, err := Interpolate("/blog/[slug]", Params{}); err == nil {
		t.Error("expected missing parameter error")
	}
}
