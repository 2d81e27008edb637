package static

import (
	"path"
	"strings"
)

type fileClass int

const (
	classOther fileClass = iota
	classPage
	classAsset
)

var extClass = map[string]fileClass{
	"":      classPage, // pretty urls resolve to documents
	".html": classPage,

	".css": classAsset, ".js": classAsset, ".mjs": classAsset, ".map": classAsset,
	".png": classAsset, ".jpg": classAsset, ".jpeg": classAsset, ".webp": classAsset,
	".gif": classAsset, ".svg": classAsset, ".ico": classAsset,
	".woff": classAsset, ".woff2": classAsset, ".ttf": classAsset, ".eot": classAsset,
}

func classify(name string) fileClass {
	return extClass[strings.ToLower(path.Ext(name))]
}

func cacheControlForFile(name string, o *Options) string {
	if o.Immutable {
		return o.AssetCacheControl
	}
	switch classify(name) {
	case classPage:
		return o.HTMLCacheControl
	case classAsset:
		return o.AssetCacheControl
	}
	return o.OtherCacheControl
}
