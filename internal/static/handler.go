package static

import (
	"net/http"
	"strings"
)

type Handler struct {
	opts Options
}

func New(opts Options) (*Handler, error) {
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Handler{opts: opts}, nil
}

// Middleware serves a matching file and otherwise passes to next. Only
// GET and HEAD are served; other methods always pass.
func (h *Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}

		fsys, ok := h.opts.Files.FS()
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		rel, under := h.relative(r.URL.Path)
		if !under {
			next.ServeHTTP(w, r)
			return
		}

		file, redirectTo, found := resolvePath(rel, fsys)
		if redirectTo != "" {
			target := h.opts.Prefix + redirectTo
			if r.URL.RawQuery != "" {
				target += "?" + r.URL.RawQuery
			}
			// 308 keeps the method even though only GET/HEAD get here
			http.Redirect(w, r, target, http.StatusPermanentRedirect)
			return
		}
		if !found {
			next.ServeHTTP(w, r)
			return
		}

		if cc := cacheControlForFile(file, &h.opts); cc != "" {
			w.Header().Set("Cache-Control", cc)
		}
		http.ServeFileFS(w, r, fsys, file)
	})
}

func (h *Handler) relative(p string) (string, bool) {
	if h.opts.Prefix == "" {
		return p, true
	}
	if p == h.opts.Prefix {
		return "/", true
	}
	rest, ok := strings.CutPrefix(p, h.opts.Prefix+"/")
	return "/" + rest, ok
}
