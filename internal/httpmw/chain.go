package httpmw

import (
	"net/http"
	"slices"
)

// Middleware is the shape every stage in this package has.
type Middleware = func(http.Handler) http.Handler

// Chain wraps h so that mws[0] sees the request first. nil entries are
// skipped, which lets callers leave optional stages unset.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for _, mw := range slices.Backward(mws) {
		if mw != nil {
			h = mw(h)
		}
	}
	return h
}

// Compose folds middlewares into one, in Chain order.
func Compose(mws ...Middleware) Middleware {
	return func(next http.Handler) http.Handler { return Chain(next, mws...) }
}
