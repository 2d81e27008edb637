// Package render produces server-rendered pages from html/template files.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/keithlinneman/linnemanlabs-ssr/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-ssr/internal/xerrors"
)

const layoutFile = "layout.html"

// route maps a request path to a page template and status.
type route struct {
	page   string
	title  string
	status int
}

var routes = map[string]route{
	"/":      {page: "home.html", title: "Home", status: http.StatusOK},
	"/about": {page: "about.html", title: "About", status: http.StatusOK},
}

var notFound = route{page: "notfound.html", title: "Not found", status: http.StatusNotFound}

type Options struct {
	// Templates holds layout.html plus one file per page.
	Templates fs.FS

	SiteName       string
	WelcomeMessage string

	// ClientScript and ClientStyle are URLs of the client bundle entry
	// points; empty omits the tag.
	ClientScript string
	ClientStyle  string
	Manifest     string

	// ServiceWorker is the URL the page registers as service worker; empty
	// skips registration.
	ServiceWorker string
}

// Page is the data every template executes with.
type Page struct {
	Title         string
	SiteName      string
	Welcome       string
	Path          string
	Nonce         string
	ClientScript  string
	ClientStyle   string
	Manifest      string
	ServiceWorker string
}

type Renderer struct {
	opts  Options
	pages atomic.Pointer[map[string]*template.Template]
}

func New(opts Options) (*Renderer, error) {
	if opts.Templates == nil {
		return nil, errors.New("render: Templates is nil")
	}
	if opts.SiteName == "" {
		opts.SiteName = "linnemanlabs"
	}
	r := &Renderer{opts: opts}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-parses every template. On error the previous set stays active.
func (rd *Renderer) Reload() error {
	pages, err := parse(rd.opts.Templates)
	if err != nil {
		return err
	}
	rd.pages.Store(&pages)
	return nil
}

func parse(fsys fs.FS) (map[string]*template.Template, error) {
	layout, err := template.ParseFS(fsys, layoutFile)
	if err != nil {
		return nil, xerrors.Wrap(err, "parse layout")
	}
	pages := make(map[string]*template.Template, len(routes)+1)
	for _, rt := range append(routeList(), notFound) {
		t, err := layout.Clone()
		if err != nil {
			return nil, xerrors.Wrapf(err, "clone layout for %s", rt.page)
		}
		if _, err := t.ParseFS(fsys, rt.page); err != nil {
			return nil, xerrors.Wrapf(err, "parse %s", rt.page)
		}
		pages[rt.page] = t
	}
	return pages, nil
}

func routeList() []route {
	out := make([]route, 0, len(routes))
	for _, rt := range routes {
		out = append(out, rt)
	}
	return out
}

// Render writes the page for r. The body is rendered to a buffer first so
// a template error or an expired deadline leaves the response untouched.
func (rd *Renderer) Render(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	if err := ctx.Err(); err != nil {
		return err
	}

	rt, ok := routes[strings.TrimSuffix(r.URL.Path, "/")]
	if r.URL.Path == "/" {
		rt, ok = routes["/"], true
	}
	if !ok {
		rt = notFound
	}

	pages := *rd.pages.Load()
	t := pages[rt.page]
	if t == nil {
		return fmt.Errorf("render: no template for %s", rt.page)
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", rd.page(ctx, rt, r.URL.Path)); err != nil {
		return xerrors.Wrapf(err, "execute %s", rt.page)
	}
	// rendering may have outlived the request deadline
	if err := ctx.Err(); err != nil {
		return err
	}

	h := w.Header()
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(rt.status)
	if r.Method == http.MethodHead {
		return nil
	}
	_, _ = w.Write(buf.Bytes())
	return nil
}

func (rd *Renderer) page(ctx context.Context, rt route, path string) Page {
	return Page{
		Title:         rt.title,
		SiteName:      rd.opts.SiteName,
		Welcome:       rd.opts.WelcomeMessage,
		Path:          path,
		Nonce:         httpmw.NonceFromContext(ctx),
		ClientScript:  rd.opts.ClientScript,
		ClientStyle:   rd.opts.ClientStyle,
		Manifest:      rd.opts.Manifest,
		ServiceWorker: rd.opts.ServiceWorker,
	}
}
