// Package webassets embeds the page templates compiled into the binary.
package webassets

import (
	"embed"
	"fmt"
	"io/fs"
)

//go:embed templates
var embedded embed.FS

// Templates returns the embedded page templates rooted at the templates
// directory.
func Templates() fs.FS {
	sub, err := fs.Sub(embedded, "templates")
	if err != nil {
		panic(fmt.Errorf("webassets: templates subfs: %w", err))
	}
	return sub
}
