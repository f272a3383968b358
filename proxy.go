package next

import (
	"context"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"

	"go.uber.org/zap"

	rerrors "github.com/oreillyross/next.js/internal/errors"
)

type proxyTargetKey struct{}

// newProxy builds the reverse proxy used for external rewrites. The
// target travels in the request context so one proxy serves every
// destination.
func (a *App) newProxy() http.Handler {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			target := pr.In.Context().Value(proxyTargetKey{}).(*url.URL)
			pr.Out.URL = cloneURL(target)
			pr.Out.Host = target.Host
			pr.SetXForwarded()
		},
		Transport:     a.config.Transport,
		FlushInterval: -1,
		ErrorHandler:  a.proxyError,
	}
}

// serveProxy forwards r to target with the configured deadline.
func (a *App) serveProxy(w http.ResponseWriter, r *http.Request, target *url.URL) {
	ctx, cancel := context.WithTimeout(r.Context(), a.config.ProxyTimeout)
	defer cancel()
	ctx = context.WithValue(ctx, proxyTargetKey{}, target)
	a.proxy.ServeHTTP(w, r.WithContext(ctx))
}

func (a *App) proxyError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) && r.Context().Err() == context.Canceled {
		return
	}
	target, _ := r.Context().Value(proxyTargetKey{}).(*url.URL)
	perr := rerrors.New("R044").Wrap(err)
	if target != nil {
		perr = perr.WithDetail(target.Redacted())
	}
	a.logger.Warn("proxy failed",
		zap.String("request_id", RequestID(r.Context())),
		zap.Error(perr),
	)

	code := http.StatusBadGateway
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(r.Context().Err(), context.DeadlineExceeded) {
		code = http.StatusGatewayTimeout
	}
	http.Error(w, http.StatusText(code), code)
}

func cloneURL(u *url.URL) *url.URL {
	u2 := *u
	if u.User != nil {
		user := *u.User
		u2.User = &user
	}
	return &u2
}
