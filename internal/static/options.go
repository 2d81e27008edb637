package static

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var ErrInvalidOptions = errors.New("static: invalid options")

// Source yields the filesystem to serve. ok is false while nothing is
// available yet (e.g. no release bundle has been loaded).
type Source interface {
	FS() (fs.FS, bool)
}

// SourceFunc adapts a function to Source.
type SourceFunc func() (fs.FS, bool)

func (f SourceFunc) FS() (fs.FS, bool) { return f() }

// FromFS always serves fsys.
func FromFS(fsys fs.FS) Source {
	return SourceFunc(func() (fs.FS, bool) { return fsys, fsys != nil })
}

// Dir serves the directory at root. A relative root is resolved against
// appRoot.
func Dir(appRoot, root string) Source {
	return FromFS(os.DirFS(ResolveDir(appRoot, root)))
}

// ResolveDir resolves p against appRoot unless p is absolute.
func ResolveDir(appRoot, p string) string {
	if filepath.IsAbs(p) || appRoot == "" {
		return filepath.Clean(p)
	}
	return filepath.Join(appRoot, p)
}

type Options struct {
	Files Source

	// Prefix is the mount path stripped from the URL before lookup, e.g.
	// "/client/". Empty serves off the root.
	Prefix string

	// Cache policies applied by file extension.
	HTMLCacheControl  string // default: "no-cache"
	AssetCacheControl string // default: "public, max-age=31536000, immutable"
	OtherCacheControl string // default: "public, max-age=3600"

	// Immutable applies AssetCacheControl to every file. Content-hashed
	// client bundles never change under a name.
	Immutable bool
}

func (o *Options) setDefaults() {
	if o.HTMLCacheControl == "" {
		o.HTMLCacheControl = "no-cache"
	}
	if o.AssetCacheControl == "" {
		o.AssetCacheControl = "public, max-age=31536000, immutable"
	}
	if o.OtherCacheControl == "" {
		o.OtherCacheControl = "public, max-age=3600"
	}
	o.Prefix = strings.TrimSuffix(o.Prefix, "/")
}

func (o *Options) validate() error {
	if o.Files == nil {
		return fmt.Errorf("%w: Files is nil", ErrInvalidOptions)
	}
	if o.Prefix != "" && !strings.HasPrefix(o.Prefix, "/") {
		return fmt.Errorf("%w: prefix %q must start with /", ErrInvalidOptions, o.Prefix)
	}
	return nil
}
