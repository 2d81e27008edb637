package sitehttp

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes mounts the site pipeline on a listener's router.
type Routes struct {
	Site http.Handler
}

func New(site http.Handler) *Routes { return &Routes{Site: site} }

// RegisterRoutes makes the pipeline answer every request the router has
// no explicit route for, including known paths hit with another method.
// Registered last, it leaves probe and ops routes in front.
func (rt *Routes) RegisterRoutes(r chi.Router) {
	fallback := rt.Site.ServeHTTP
	r.NotFound(fallback)
	r.MethodNotAllowed(fallback)
}
