// Package edge runs middleware behind a loopback endpoint.
//
// The Host binds 127.0.0.1 on an ephemeral port once per process and serves
// an endpoint that accepts cloned requests, hands them to an Executor along
// with the allow-listed EdgeConfig and encodes the Outcome as an HTTP
// response using the x-middleware-* headers. Invoke is the router side of
// that boundary: it clones the request, sends it, and decodes the answer
// into a Response whose body is streamed, never buffered.
package edge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	rerrors "github.com/oreillyross/next.js/internal/errors"
)

const errRejected = "rejected"

// ErrNoExecutor is returned by the endpoint when no middleware is loaded.
var ErrNoExecutor = errors.New("edge: no middleware loaded")

// Options configures a Host.
type Options struct {
	Executor Executor
	Config   EdgeConfig
	Logger   *zap.Logger

	// Client sends invocations. Defaults to a client that never follows
	// redirects.
	Client *http.Client
}

// Host owns the loopback endpoint.
type Host struct {
	exec   atomic.Pointer[executorBox]
	cfg    EdgeConfig
	logger *zap.Logger
	client *http.Client
	token  string

	mu   sync.Mutex
	srv  *http.Server
	addr string
}

type executorBox struct{ Executor }

// NewHost creates a Host. Start must be called before Invoke.
func NewHost(opts Options) *Host {
	h := &Host{
		cfg:    opts.Config,
		logger: opts.Logger,
		client: opts.Client,
		token:  uuid.NewString(),
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	h.logger = h.logger.Named("edge")
	if h.client == nil {
		h.client = &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	h.SetExecutor(opts.Executor)
	return h
}

// SetExecutor swaps the middleware implementation. Nil unloads it.
func (h *Host) SetExecutor(e Executor) {
	if e == nil {
		h.exec.Store(nil)
		return
	}
	h.exec.Store(&executorBox{e})
}

func (h *Host) executor() Executor {
	if b := h.exec.Load(); b != nil {
		return b.Executor
	}
	return nil
}

// Start binds the endpoint. It is a no-op when already started. The
// endpoint shuts down when ctx is done.
func (h *Host) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.srv != nil {
		return nil
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return rerrors.New("R040").Wrap(err)
	}

	h.srv = &http.Server{
		Handler:           h.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	h.addr = ln.Addr().String()

	go func() {
		if err := h.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("endpoint stopped", zap.Error(err))
		}
	}()
	context.AfterFunc(ctx, func() { h.Close() })

	h.logger.Debug("endpoint started", zap.String("addr", h.addr))
	return nil
}

// Addr returns the bound address, or "" before Start.
func (h *Host) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.addr
}

// Close stops the endpoint.
func (h *Host) Close() error {
	h.mu.Lock()
	srv := h.srv
	h.mu.Unlock()
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// Handler returns the endpoint handler.
func (h *Host) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(h.requireToken)
	r.HandleFunc("/*", h.serveInvoke)
	return r
}

func (h *Host) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(headerInvokeToken) != h.token {
			w.Header().Set(headerError, errRejected)
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Host) serveInvoke(w http.ResponseWriter, r *http.Request) {
	inv, err := decodeInvocation(r)
	if err != nil {
		h.logger.Warn("bad invocation", zap.Error(err))
		w.Header().Set(headerError, errRejected)
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	exec := h.executor()
	if exec == nil {
		w.Header().Set(headerError, ErrNoExecutor.Error())
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	out, err := exec.Execute(r.Context(), inv)
	if err != nil {
		h.logger.Warn("middleware failed", zap.String("url", inv.URL.String()), zap.Error(err))
		w.Header().Set(headerError, "1")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if out == nil {
		out = &Outcome{Next: true}
	}
	writeOutcome(w, out)
}

func decodeInvocation(r *http.Request) (*Invocation, error) {
	var cfg EdgeConfig
	if raw := r.Header.Get(headerConfig); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			return nil, err
		}
	}

	proto := r.Header.Get(headerOrigProto)
	if proto == "" {
		proto = "http"
	}
	u := &url.URL{
		Scheme:   proto,
		Host:     r.Header.Get(headerOrigHost),
		Path:     r.URL.Path,
		RawPath:  r.URL.RawPath,
		RawQuery: r.URL.RawQuery,
	}

	header := r.Header.Clone()
	for _, k := range []string{headerInvokeToken, headerConfig, headerOrigHost, headerOrigProto} {
		header.Del(k)
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}

	return &Invocation{
		Method: r.Method,
		URL:    u,
		Header: header,
		Body:   body,
		Config: cfg,
	}, nil
}

// Invoke runs middleware for r. The body is read from body so the caller
// can replay it downstream; nil means no body. Cancelling ctx aborts the
// round trip.
func (h *Host) Invoke(ctx context.Context, r *http.Request, body *CloneableBody) (*Response, error) {
	addr := h.Addr()
	if addr == "" {
		return nil, rerrors.New("R040")
	}

	var rd io.Reader = http.NoBody
	if body != nil && body.Len() > 0 {
		rc, err := body.Clone()
		if err != nil {
			return nil, rerrors.New("R041").Wrap(err)
		}
		rd = rc
	}

	target := "http://" + addr + r.URL.RequestURI()
	req, err := http.NewRequestWithContext(ctx, r.Method, target, rd)
	if err != nil {
		return nil, rerrors.New("R041").Wrap(err)
	}
	req.Header = r.Header.Clone()
	req.Header.Set(headerInvokeToken, h.token)
	req.Header.Set(headerOrigHost, r.Host)
	if r.TLS != nil {
		req.Header.Set(headerOrigProto, "https")
	}
	cfg, err := json.Marshal(h.cfg)
	if err != nil {
		return nil, rerrors.New("R041").Wrap(err)
	}
	req.Header.Set(headerConfig, string(cfg))

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, rerrors.New("R041").Wrap(err)
	}

	if msg := resp.Header.Get(headerError); msg != "" {
		resp.Body.Close()
		switch {
		case resp.StatusCode == http.StatusServiceUnavailable:
			return nil, rerrors.New("R040").Wrap(ErrNoExecutor)
		case msg == errRejected:
			return nil, rerrors.New("R042").WithDetail("endpoint answered " + resp.Status)
		}
		return nil, rerrors.New("R043")
	}

	return readResponse(resp), nil
}
