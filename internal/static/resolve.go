package static

import (
	"io/fs"
	"path"
	"strings"
)

// resolvePath maps a mount-relative URL path to a regular file in fsys.
// A directory named without its trailing slash yields redirectTo instead
// of a file so the caller can send the client to the canonical url.
func resolvePath(urlPath string, fsys fs.FS) (file string, redirectTo string, ok bool) {
	if unsafePath(urlPath) {
		return "", "", false
	}

	dir := urlPath == "" || strings.HasSuffix(urlPath, "/")
	name := strings.TrimPrefix(path.Clean("/"+urlPath), "/")

	if dir {
		index := path.Join(name, "index.html")
		if existsFile(fsys, index) {
			return index, "", true
		}
		return "", "", false
	}

	switch {
	case existsFile(fsys, name):
		return name, "", true
	case path.Ext(name) == "" && existsFile(fsys, path.Join(name, "index.html")):
		return "", "/" + name + "/", true
	}
	return "", "", false
}

// unsafePath rejects anything a client could use to step outside the
// mount or confuse the filesystem layer.
func unsafePath(p string) bool {
	return strings.ContainsAny(p, "\x00\\") ||
		strings.Contains(p, "..") ||
		hasDotSegments(p)
}

// hasDotSegments reports whether any path segment is "." or "..".
func hasDotSegments(p string) bool {
	for seg := range strings.SplitSeq(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

func existsFile(fsys fs.FS, name string) bool {
	if !fs.ValidPath(name) || name == "" || name == "." {
		return false
	}
	info, err := fs.Stat(fsys, name)
	return err == nil && info.Mode().IsRegular()
}
