// Package devproxy forwards client bundle and hot reload traffic to the
// client dev server during development.
package devproxy

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"

	"github.com/keithlinneman/linnemanlabs-ssr/internal/log"
)

const unavailableMsg = "client dev server unavailable"

// DefaultPaths are the hot reload endpoints of common client dev servers.
var DefaultPaths = []string{"/__webpack_hmr", "/sockjs-node/", "/@vite/"}

type Options struct {
	// Host and Port of the client dev server.
	Host string
	Port int

	// Paths are URL prefixes forwarded to the dev server. A prefix ending
	// in "/" also matches the bare path without it. Other requests pass.
	Paths []string
}

// Origin is the host:port the dev server is reached on.
func (o Options) Origin() string {
	host := o.Host
	if host == "" {
		host = "localhost"
	}
	return net.JoinHostPort(host, strconv.Itoa(o.Port))
}

type Proxy struct {
	paths []string
	rp    *httputil.ReverseProxy
}

func New(opts Options) (*Proxy, error) {
	if opts.Port < 1 || opts.Port > 65535 {
		return nil, fmt.Errorf("devproxy: invalid port %d", opts.Port)
	}
	if len(opts.Paths) == 0 {
		return nil, errors.New("devproxy: no paths to forward")
	}
	target := &url.URL{Scheme: "http", Host: opts.Origin()}

	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			ctx := r.Context()
			log.FromContext(ctx).Warn(ctx, "dev proxy error", "err", err.Error(), "target", target.Host)
			http.Error(w, unavailableMsg, http.StatusBadGateway)
		},
	}
	return &Proxy{paths: opts.Paths, rp: rp}, nil
}

// Middleware forwards matching requests and passes the rest.
func (p *Proxy) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !p.forwards(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		p.rp.ServeHTTP(w, r)
	})
}

func (p *Proxy) forwards(path string) bool {
	for _, prefix := range p.paths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
		if bare, ok := strings.CutSuffix(prefix, "/"); ok && bare != "" && path == bare {
			return true
		}
	}
	return false
}
