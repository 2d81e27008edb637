package httpmw

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

type clientIPKey struct{}

const unknownClient = "0.0.0.0"

// ClientIPOptions configures client IP extraction behavior.
type ClientIPOptions struct {
	// TrustedHops counts the reverse proxies in front of this server. With
	// 0 the forwarded headers are ignored. With 1 (a single load balancer)
	// the rightmost X-Forwarded-For entry is the client.
	TrustedHops int
}

// ClientIP resolves the client address with no trusted proxies.
func ClientIP(next http.Handler) http.Handler {
	return ClientIPWithOptions(ClientIPOptions{})(next)
}

// ClientIPWithOptions stores the resolved client address in the request
// context. Forwarded headers that are not trusted are removed from the
// request so later stages cannot act on them.
func ClientIPWithOptions(opts ClientIPOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := extractRealClientAddr(r, opts.TrustedHops)
			next.ServeHTTP(w, r.WithContext(WithClientIP(r.Context(), ip)))
		})
	}
}

func extractRealClientAddr(r *http.Request, trustedHops int) string {
	peer, trusted := peerAddr(r.RemoteAddr)
	if !trusted || trustedHops <= 0 {
		r.Header.Del("X-Forwarded-For")
		r.Header.Del("X-Forwarded-Proto")
		return peer
	}

	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return peer
	}
	hops := strings.Split(xff, ",")
	if len(hops) < trustedHops {
		// fewer entries than proxies: spoofed or misconfigured
		r.Header.Del("X-Forwarded-For")
		r.Header.Del("X-Forwarded-Proto")
		return peer
	}
	if addr, err := netip.ParseAddr(strings.TrimSpace(hops[len(hops)-trustedHops])); err == nil {
		return addr.String()
	}
	return peer
}

// peerAddr returns the connection's address and whether it may be one of
// our proxies (private or loopback, with a port).
func peerAddr(remote string) (string, bool) {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		if remote == "" {
			return unknownClient, false
		}
		return remote, false
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return unknownClient, false
	}
	addr = addr.Unmap()
	return host, addr.IsPrivate() || addr.IsLoopback()
}

func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey{}, ip)
}
