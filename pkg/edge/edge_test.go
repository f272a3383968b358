package edge

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap/zaptest"

	rerrors "github.com/oreillyross/next.js/internal/errors"
	"github.com/oreillyross/next.js/pkg/locale"
)

func TestSplitCookies(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"a=1, b=2", []string{"a=1", "b=2"}},
		{"a=1", []string{"a=1"}},
		{
			"id=a3fWa; Expires=Wed, 21 Oct 2015 07:28:00 GMT, lang=en; Path=/",
			[]string{"id=a3fWa; Expires=Wed, 21 Oct 2015 07:28:00 GMT", "lang=en; Path=/"},
		},
		{"a=1,b=2,c=3", []string{"a=1", "b=2", "c=3"}},
		{"", nil},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, SplitCookies(tt.in)); diff != "" {
			t.Errorf("SplitCookies(%q) mismatch (-want +got):\n%s", tt.in, diff)
		}
	}
}

func TestCloneableBody(t *testing.T) {
	b := NewCloneableBody(io.NopCloser(strings.NewReader("payload")))
	for i := 0; i < 2; i++ {
		rc, err := b.Clone()
		if err != nil {
			t.Fatal(err)
		}
		data, _ := io.ReadAll(rc)
		if string(data) != "payload" {
			t.Errorf("clone %d = %q", i, data)
		}
	}
	if NewCloneableBody(nil).Len() != 0 {
		t.Error("nil body is empty")
	}
}

func startHost(t *testing.T, exec Executor, cfg EdgeConfig) *Host {
	t.Helper()
	h := NewHost(Options{Executor: exec, Config: cfg, Logger: zaptest.NewLogger(t)})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := h.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	return h
}

func TestHostStartOnce(t *testing.T) {
	h := startHost(t, nil, EdgeConfig{})
	addr := h.Addr()
	if !strings.HasPrefix(addr, "127.0.0.1:") {
		t.Fatalf("Addr = %q", addr)
	}
	if err := h.Start(context.Background()); err != nil || h.Addr() != addr {
		t.Errorf("second Start rebound to %q (%v)", h.Addr(), err)
	}
}

func TestInvokeRequestCrossesBoundary(t *testing.T) {
	var (
		mu  sync.Mutex
		got *Invocation
	)
	exec := ExecutorFunc(func(_ context.Context, inv *Invocation) (*Outcome, error) {
		mu.Lock()
		got = inv
		mu.Unlock()
		return &Outcome{Next: true}, nil
	})
	cfg := EdgeConfig{
		BasePath: "/docs",
		I18n:     &locale.Config{Locales: []string{"en"}, DefaultLocale: "en"},
	}
	h := startHost(t, exec, cfg)

	r := httptest.NewRequest(http.MethodPost, "http://example.com/docs/a?x=1", strings.NewReader("hello"))
	r.Header.Set("X-Custom", "v")
	body := NewCloneableBody(r.Body)

	resp, err := h.Invoke(context.Background(), r, body)
	if err != nil {
		t.Fatalf("Invoke error: %v", err)
	}
	defer resp.Close()

	mu.Lock()
	defer mu.Unlock()
	if got.Method != http.MethodPost || got.URL.String() != "http://example.com/docs/a?x=1" {
		t.Errorf("invocation = %s %s", got.Method, got.URL)
	}
	if string(got.Body) != "hello" || got.Header.Get("X-Custom") != "v" {
		t.Errorf("body %q, header %q", got.Body, got.Header.Get("X-Custom"))
	}
	if got.Header.Get(headerInvokeToken) != "" || got.Header.Get(headerConfig) != "" {
		t.Error("wire headers leaked into the invocation")
	}
	if diff := cmp.Diff(cfg, got.Config); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}

	// The body stays readable for the rest of the pipeline.
	rc, _ := body.Clone()
	if data, _ := io.ReadAll(rc); string(data) != "hello" {
		t.Errorf("replayed body = %q", data)
	}
	if !resp.Next || resp.Terminal() {
		t.Error("next outcome should continue")
	}
}

func TestInvokeResponseDecoding(t *testing.T) {
	tests := []struct {
		name  string
		out   *Outcome
		check func(t *testing.T, resp *Response)
	}{
		{
			name: "cookie fan-out",
			out: &Outcome{Next: true, Header: http.Header{
				"Set-Cookie":       {"a=1, b=2"},
				"Content-Encoding": {"gzip"},
				"X-Extra":          {"1"},
			}},
			check: func(t *testing.T, resp *Response) {
				if diff := cmp.Diff([]string{"a=1", "b=2"}, resp.Header.Values("Set-Cookie")); diff != "" {
					t.Errorf("cookies mismatch (-want +got):\n%s", diff)
				}
				if resp.Header.Get("Content-Encoding") != "" {
					t.Error("content-encoding must be stripped")
				}
				if resp.Header.Get("X-Extra") != "1" {
					t.Error("other headers pass through")
				}
				if resp.Header.Get(HeaderNext) != "" {
					t.Error("wire headers are consumed")
				}
			},
		},
		{
			name: "rewrite",
			out:  &Outcome{Rewrite: "http://example.com/b"},
			check: func(t *testing.T, resp *Response) {
				if resp.Rewrite != "http://example.com/b" || !resp.Terminal() {
					t.Errorf("rewrite = %q", resp.Rewrite)
				}
			},
		},
		{
			name: "redirect",
			out:  &Outcome{Redirect: "/login", StatusCode: http.StatusFound},
			check: func(t *testing.T, resp *Response) {
				if resp.Redirect != "/login" || resp.StatusCode != http.StatusFound {
					t.Errorf("redirect = %q %d", resp.Redirect, resp.StatusCode)
				}
			},
		},
		{
			name: "redirect default status",
			out:  &Outcome{Redirect: "/login"},
			check: func(t *testing.T, resp *Response) {
				if resp.StatusCode != http.StatusTemporaryRedirect {
					t.Errorf("status = %d", resp.StatusCode)
				}
			},
		},
		{
			name: "request header override",
			out: &Outcome{Next: true, RequestHeader: http.Header{
				"X-User": {"42"},
			}},
			check: func(t *testing.T, resp *Response) {
				want := http.Header{"X-User": {"42"}}
				if diff := cmp.Diff(want, resp.RequestHeader); diff != "" {
					t.Errorf("request headers mismatch (-want +got):\n%s", diff)
				}
			},
		},
		{
			name: "direct response streams body",
			out:  &Outcome{StatusCode: http.StatusTeapot, Body: []byte("short and stout")},
			check: func(t *testing.T, resp *Response) {
				if resp.StatusCode != http.StatusTeapot || resp.Body == nil {
					t.Fatalf("status %d, body %v", resp.StatusCode, resp.Body)
				}
				data, _ := io.ReadAll(resp.Body)
				if string(data) != "short and stout" {
					t.Errorf("body = %q", data)
				}
			},
		},
		{
			name: "empty terminal response",
			out:  &Outcome{StatusCode: http.StatusNoContent},
			check: func(t *testing.T, resp *Response) {
				if resp.Body != nil || !resp.Terminal() {
					t.Errorf("body = %v", resp.Body)
				}
			},
		},
		{
			name: "refresh",
			out:  &Outcome{Refresh: true},
			check: func(t *testing.T, resp *Response) {
				if !resp.Refresh {
					t.Error("refresh lost")
				}
			},
		},
		{
			name: "next with refresh answers the client",
			out:  &Outcome{Next: true, Refresh: true},
			check: func(t *testing.T, resp *Response) {
				if !resp.Next || !resp.Terminal() {
					t.Errorf("next = %v, terminal = %v", resp.Next, resp.Terminal())
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := ExecutorFunc(func(context.Context, *Invocation) (*Outcome, error) { return tt.out, nil })
			h := startHost(t, exec, EdgeConfig{})
			resp, err := h.Invoke(context.Background(), httptest.NewRequest(http.MethodGet, "/x", nil), nil)
			if err != nil {
				t.Fatalf("Invoke error: %v", err)
			}
			defer resp.Close()
			tt.check(t, resp)
		})
	}
}

func TestInvokeErrors(t *testing.T) {
	failing := ExecutorFunc(func(context.Context, *Invocation) (*Outcome, error) {
		return nil, errors.New("boom")
	})

	tests := []struct {
		name string
		host func(t *testing.T) *Host
		code string
	}{
		{
			name: "not started",
			host: func(t *testing.T) *Host { return NewHost(Options{Logger: zaptest.NewLogger(t)}) },
			code: "R040",
		},
		{
			name: "no executor",
			host: func(t *testing.T) *Host { return startHost(t, nil, EdgeConfig{}) },
			code: "R040",
		},
		{
			name: "script failure",
			host: func(t *testing.T) *Host { return startHost(t, failing, EdgeConfig{}) },
			code: "R043",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := tt.host(t)
			_, err := h.Invoke(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil), nil)
			var re *rerrors.Error
			if !errors.As(err, &re) || re.Code != tt.code {
				t.Errorf("error = %v, want %s", err, tt.code)
			}
			if !rerrors.IsCategory(err, rerrors.CategoryTransport) {
				t.Error("invoke failures are transport errors")
			}
		})
	}
}

func TestInvokeCancelled(t *testing.T) {
	release := make(chan struct{})
	exec := ExecutorFunc(func(ctx context.Context, _ *Invocation) (*Outcome, error) {
		select {
		case <-ctx.Done():
		case <-release:
		}
		return &Outcome{Next: true}, nil
	})
	h := startHost(t, exec, EdgeConfig{})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h.Invoke(ctx, httptest.NewRequest(http.MethodGet, "/", nil), nil); err == nil {
		t.Error("cancelled invocations fail")
	}
}

func TestEndpointRequiresToken(t *testing.T) {
	h := NewHost(Options{Logger: zaptest.NewLogger(t)})
	rec := httptest.NewRecorder()
	h.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d", rec.Code)
	}
}
