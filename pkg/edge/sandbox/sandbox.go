// Package sandbox executes middleware scripts in pooled goja VMs.
//
// A script is compiled once. Each VM runs the prelude, which provides the
// NextResponse and Response helpers plus minimal Headers, URL and
// URLSearchParams implementations, and then the script itself. The
// middleware function is found as the "middleware" or "default" export,
// module.exports itself, or a global "middleware" function.
//
// A VM only sees the request and the allow-listed edge configuration.
// Every call runs under a time limit and stops when its context is
// cancelled; interrupted VMs are discarded rather than pooled.
package sandbox

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/oreillyross/next.js/pkg/edge"
	"github.com/oreillyross/next.js/pkg/routepath"
)

//go:embed prelude.js
var preludeSource string

var prelude = goja.MustCompile("prelude.js", preludeSource, false)

// DefaultTimeout bounds one execution when Options.Timeout is zero.
const DefaultTimeout = 5 * time.Second

// ErrTimeout is returned when a script exceeds its time limit.
var ErrTimeout = errors.New("sandbox: execution timed out")

// ErrNoHandler is returned when a script exports no middleware function.
var ErrNoHandler = errors.New("sandbox: script exports no middleware function")

// Options configures a Sandbox.
type Options struct {
	Timeout time.Duration
	Logger  *zap.Logger
}

// Sandbox runs one compiled middleware script. It implements
// edge.Executor.
type Sandbox struct {
	name    string
	program *goja.Program
	timeout time.Duration
	logger  *zap.Logger
	pool    sync.Pool
}

type vmState struct {
	vm          *goja.Runtime
	handler     goja.Callable
	makeRequest goja.Callable
	export      goja.Callable
}

var (
	importLine    = regexp.MustCompile(`(?m)^\s*import\s+[^;\n]*from\s+['"][^'"]+['"];?\s*$`)
	exportDefault = regexp.MustCompile(`(?m)^(\s*)export\s+default\s+`)
	exportFunc    = regexp.MustCompile(`(?m)^(\s*)export\s+(async\s+)?function\s+([A-Za-z_$][\w$]*)`)
	exportConst   = regexp.MustCompile(`(?m)^(\s*)export\s+(?:const|let|var)\s+([A-Za-z_$][\w$]*)\s*=`)
)

// Transform rewrites ES module syntax into the CommonJS shape the VM
// understands. Imports are dropped; the runtime provides NextResponse.
func Transform(src string) string {
	src = importLine.ReplaceAllString(src, "")
	src = exportDefault.ReplaceAllString(src, "${1}module.exports.default = ")
	src = exportFunc.ReplaceAllString(src, "${1}module.exports.${3} = ${3};\n${1}${2}function ${3}")
	src = exportConst.ReplaceAllString(src, "${1}var ${2} = module.exports.${2} =")
	return src
}

// Compile compiles src and checks that it exports a middleware function.
func Compile(name, src string, opts Options) (*Sandbox, error) {
	program, err := goja.Compile(name, Transform(src), false)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}

	s := &Sandbox{
		name:    name,
		program: program,
		timeout: opts.Timeout,
		logger:  opts.Logger,
	}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.logger = s.logger.Named("sandbox")

	st, err := s.newVM()
	if err != nil {
		return nil, err
	}
	s.pool.Put(st)
	return s, nil
}

func (s *Sandbox) newVM() (*vmState, error) {
	vm := goja.New()
	if err := vm.Set("__parseURL", parseURL); err != nil {
		return nil, err
	}
	if _, err := vm.RunProgram(prelude); err != nil {
		return nil, fmt.Errorf("prelude: %w", err)
	}

	timer := time.AfterFunc(s.timeout, func() { vm.Interrupt(ErrTimeout) })
	_, err := vm.RunProgram(s.program)
	timer.Stop()
	vm.ClearInterrupt()
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", s.name, err)
	}

	handler, ok := findHandler(vm)
	if !ok {
		return nil, ErrNoHandler
	}
	makeRequest, _ := goja.AssertFunction(vm.Get("__makeRequest"))
	export, _ := goja.AssertFunction(vm.Get("__export"))
	return &vmState{vm: vm, handler: handler, makeRequest: makeRequest, export: export}, nil
}

func findHandler(vm *goja.Runtime) (goja.Callable, bool) {
	mod := vm.Get("module").ToObject(vm)
	exp := mod.Get("exports")
	if fn, ok := goja.AssertFunction(exp); ok {
		return fn, true
	}
	if obj, ok := exp.(*goja.Object); ok {
		for _, name := range []string{"middleware", "default"} {
			if fn, ok := goja.AssertFunction(obj.Get(name)); ok {
				return fn, true
			}
		}
	}
	return goja.AssertFunction(vm.Get("middleware"))
}

func (s *Sandbox) get() (*vmState, error) {
	if st, ok := s.pool.Get().(*vmState); ok {
		return st, nil
	}
	return s.newVM()
}

// result is the object __export hands back.
type result struct {
	Kind           string              `mapstructure:"kind"`
	URL            string              `mapstructure:"url"`
	Status         int                 `mapstructure:"status"`
	Headers        map[string][]string `mapstructure:"headers"`
	RequestHeaders map[string][]string `mapstructure:"requestHeaders"`
	Body           *string             `mapstructure:"body"`
}

// Execute runs the middleware for inv.
func (s *Sandbox) Execute(ctx context.Context, inv *edge.Invocation) (*edge.Outcome, error) {
	st, err := s.get()
	if err != nil {
		return nil, err
	}

	interrupted := false
	timer := time.AfterFunc(s.timeout, func() { st.vm.Interrupt(ErrTimeout) })
	stop := context.AfterFunc(ctx, func() { st.vm.Interrupt(ctx.Err()) })
	defer func() {
		timedOut := !timer.Stop()
		cancelled := !stop() && ctx.Err() != nil
		if interrupted || timedOut || cancelled {
			return
		}
		s.pool.Put(st)
	}()

	raw := requestObject(inv)
	var res result
	err = func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%s: %v", s.name, r)
			}
		}()
		req, err := st.makeRequest(goja.Undefined(), st.vm.ToValue(raw))
		if err != nil {
			return err
		}
		v, err := st.handler(goja.Undefined(), req)
		if err != nil {
			return err
		}
		if v, err = settle(v); err != nil {
			return err
		}
		out, err := st.export(goja.Undefined(), v)
		if err != nil {
			return err
		}
		return decode(out.Export(), &res)
	}()
	if err != nil {
		var ie *goja.InterruptedError
		if errors.As(err, &ie) {
			interrupted = true
			if v, ok := ie.Value().(error); ok {
				err = v
			}
		}
		return nil, err
	}

	return toOutcome(inv, &res)
}

// settle unwraps a promise returned by an async handler. Only promises
// that settled during the call are supported.
func settle(v goja.Value) (goja.Value, error) {
	p, ok := v.Export().(*goja.Promise)
	if !ok {
		return v, nil
	}
	switch p.State() {
	case goja.PromiseStateFulfilled:
		return p.Result(), nil
	case goja.PromiseStateRejected:
		return nil, fmt.Errorf("middleware rejected: %v", p.Result())
	}
	return nil, errors.New("middleware promise did not settle")
}

func decode(in any, out *result) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}

func requestObject(inv *edge.Invocation) map[string]any {
	cfg := inv.Config
	pathname, _ := routepath.StripBasePath(inv.URL.Path, cfg.BasePath)
	prefix := cfg.BasePath

	loc, fromPath := cfg.I18n.Detect(pathname)
	if fromPath {
		prefix += "/" + loc.DetectedLocale
	}
	defaultLocale := ""
	if cfg.I18n.Enabled() {
		defaultLocale = cfg.I18n.DefaultLocale
	}

	headers := map[string]any{}
	for k, vs := range inv.Header {
		list := make([]any, len(vs))
		for i, v := range vs {
			list[i] = v
		}
		headers[k] = list
	}

	return map[string]any{
		"method":        inv.Method,
		"url":           inv.URL.String(),
		"headers":       headers,
		"body":          string(inv.Body),
		"pathname":      loc.Pathname,
		"prefix":        prefix,
		"basePath":      cfg.BasePath,
		"locale":        loc.DetectedLocale,
		"defaultLocale": defaultLocale,
	}
}

func toOutcome(inv *edge.Invocation, res *result) (*edge.Outcome, error) {
	out := &edge.Outcome{StatusCode: res.Status}
	if len(res.Headers) > 0 {
		out.Header = http.Header{}
		for k, vs := range res.Headers {
			out.Header[http.CanonicalHeaderKey(k)] = vs
		}
		if out.Header.Get(edge.HeaderRefresh) != "" {
			out.Refresh = true
			out.Header.Del(edge.HeaderRefresh)
		}
	}

	switch res.Kind {
	case "next":
		out.Next = true
	case "rewrite":
		u, err := resolve(inv.URL, res.URL)
		if err != nil {
			return nil, err
		}
		out.Rewrite = u
	case "redirect":
		u, err := resolve(inv.URL, res.URL)
		if err != nil {
			return nil, err
		}
		out.Redirect = u
	case "response":
		if res.Body != nil {
			out.Body = []byte(*res.Body)
		}
	default:
		return nil, fmt.Errorf("unknown response kind %q", res.Kind)
	}

	if res.RequestHeaders != nil {
		out.RequestHeader = http.Header{}
		for k, vs := range res.RequestHeaders {
			out.RequestHeader[http.CanonicalHeaderKey(k)] = vs
		}
	}
	return out, nil
}

func resolve(base *url.URL, ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", ref, err)
	}
	return base.ResolveReference(u).String(), nil
}

// parseURL backs the URL constructor in the prelude.
func parseURL(input, base string) (map[string]string, error) {
	u, err := url.Parse(input)
	if err != nil {
		return nil, err
	}
	if base != "" {
		b, err := url.Parse(base)
		if err != nil {
			return nil, err
		}
		u = b.ResolveReference(u)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("invalid URL: %s", input)
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	search := ""
	if u.RawQuery != "" {
		search = "?" + u.RawQuery
	}
	hash := ""
	if u.Fragment != "" {
		hash = "#" + u.Fragment
	}
	return map[string]string{
		"protocol": u.Scheme + ":",
		"host":     u.Host,
		"hostname": u.Hostname(),
		"port":     u.Port(),
		"pathname": path,
		"search":   search,
		"hash":     hash,
	}, nil
}

var _ edge.Executor = (*Sandbox)(nil)
