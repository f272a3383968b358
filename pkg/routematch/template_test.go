package routematch

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTemplateExpand(t *testing.T) {
	tests := []struct {
		name   string
		dest   string
		params Params
		opts   ExpandOptions
		want   string
	}{
		{
			name:   "path param",
			dest:   "/news/:slug",
			params: Params{"slug": "hello"},
			want:   "/news/hello",
		},
		{
			name:   "path param escaped",
			dest:   "/news/:slug",
			params: Params{"slug": "a b"},
			want:   "/news/a%20b",
		},
		{
			name:   "repeat param",
			dest:   "/docs/:path*",
			params: Params{"path": []string{"a", "b"}},
			want:   "/docs/a/b",
		},
		{
			name:   "optional absent",
			dest:   "/docs/:path*",
			params: Params{},
			want:   "/docs",
		},
		{
			name:   "query placeholder",
			dest:   "/search?q=:term",
			params: Params{"term": "go"},
			want:   "/search?q=go",
		},
		{
			name:   "external host placeholder",
			dest:   "https://:tenant.example.com/:path*",
			params: Params{"tenant": "acme", "path": []string{"a"}},
			want:   "https://acme.example.com/a",
		},
		{
			name:   "append unused params",
			dest:   "/blog",
			params: Params{"slug": "x"},
			opts:   ExpandOptions{AppendParams: true},
			want:   "/blog?slug=x",
		},
		{
			name:   "no append when path uses params",
			dest:   "/blog/:slug",
			params: Params{"slug": "x", "other": "y"},
			opts:   ExpandOptions{AppendParams: true},
			want:   "/blog/x",
		},
		{
			name:   "skip params",
			dest:   "/blog",
			params: Params{"slug": "x", "nextInternalLocale": "en"},
			opts:   ExpandOptions{AppendParams: true, SkipParams: []string{"nextInternalLocale"}},
			want:   "/blog?slug=x",
		},
		{
			name:   "request query merged under destination",
			dest:   "/list?page=2",
			params: Params{},
			opts:   ExpandOptions{Query: url.Values{"page": {"1"}, "sort": {"asc"}}},
			want:   "/list?page=2&sort=asc",
		},
		{
			name:   "fragment",
			dest:   "/guide#:section",
			params: Params{"section": "intro"},
			want:   "/guide#intro",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tpl, err := ParseTemplate(tt.dest)
			if err != nil {
				t.Fatalf("ParseTemplate(%q) error: %v", tt.dest, err)
			}
			u, err := tpl.Expand(tt.params, tt.opts)
			if err != nil {
				t.Fatalf("Expand error: %v", err)
			}
			if got := u.String(); got != tt.want {
				t.Errorf("Expand = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTemplateMissingParam(t *testing.T) {
	tpl, err := ParseTemplate("/news/:slug")
	if err != nil {
		t.Fatalf("ParseTemplate error: %v", err)
	}
	if _, err := tpl.Expand(Params{}, ExpandOptions{}); err == nil {
		t.Error("expected missing parameter error")
	}
}

func TestTemplateExternal(t *testing.T) {
	for dest, want := range map[string]bool{
		"/internal":                  false,
		"https://example.com/x":      true,
		"http://localhost:3000/:p*":  true,
		"/path?redirect=https://a.b": false,
	} {
		tpl, err := ParseTemplate(dest)
		if err != nil {
			t.Fatalf("ParseTemplate(%q) error: %v", dest, err)
		}
		if got := tpl.External(); got != want {
			t.Errorf("External(%q) = %v, want %v", dest, got, want)
		}
	}
}

func TestMatchHas(t *testing.T) {
	newReq := func() *http.Request {
		r := httptest.NewRequest(http.MethodGet, "http://shop.example.com:3000/x?tab=reviews", nil)
		r.Header.Set("X-Tenant", "acme")
		r.AddCookie(&http.Cookie{Name: "session", Value: "abc"})
		return r
	}

	tests := []struct {
		name    string
		has     []Condition
		missing []Condition
		want    Params
		ok      bool
	}{
		{
			name: "header present",
			has:  []Condition{{Type: ConditionHeader, Key: "x-tenant"}},
			want: Params{"xtenant": "acme"},
			ok:   true,
		},
		{
			name: "header value named group",
			has:  []Condition{{Type: ConditionHeader, Key: "x-tenant", Value: "(?<tenant>ac.*)"}},
			want: Params{"tenant": "acme"},
			ok:   true,
		},
		{
			name: "header value mismatch",
			has:  []Condition{{Type: ConditionHeader, Key: "x-tenant", Value: "other"}},
		},
		{
			name: "cookie",
			has:  []Condition{{Type: ConditionCookie, Key: "session"}},
			want: Params{"session": "abc"},
			ok:   true,
		},
		{
			name: "query",
			has:  []Condition{{Type: ConditionQuery, Key: "tab", Value: "reviews"}},
			want: Params{},
			ok:   true,
		},
		{
			name: "host without groups",
			has:  []Condition{{Type: ConditionHost, Value: `shop\.example\.com`}},
			want: Params{"host": "shop.example.com"},
			ok:   true,
		},
		{
			name:    "missing present fails",
			missing: []Condition{{Type: ConditionCookie, Key: "session"}},
		},
		{
			name:    "missing absent passes",
			missing: []Condition{{Type: ConditionHeader, Key: "x-absent"}},
			want:    Params{},
			ok:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			has, err := CompileConditions(tt.has)
			if err != nil {
				t.Fatalf("CompileConditions(has) error: %v", err)
			}
			missing, err := CompileConditions(tt.missing)
			if err != nil {
				t.Fatalf("CompileConditions(missing) error: %v", err)
			}
			got, ok := MatchHas(newReq(), has, missing)
			if ok != tt.ok {
				t.Fatalf("MatchHas ok = %v, want %v", ok, tt.ok)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("params mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCompileConditionErrors(t *testing.T) {
	bad := []Condition{
		{Type: "body", Key: "x"},
		{Type: ConditionHeader},
		{Type: ConditionQuery, Key: "q", Value: "("},
	}
	for _, c := range bad {
		if _, err := CompileCondition(c); err == nil {
			t.Errorf("CompileCondition(%+v) expected error", c)
		}
	}
}
