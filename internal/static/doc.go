// Package static serves files from a filesystem as pipeline units.
//
// A Handler serves a directory tree (the public assets root, the client
// bundle) and passes the request on when nothing matches, so later stages
// and finally the render fallback get their turn. File serves exactly one
// file and never passes: it is meant for exact mounts such as the service
// worker and the offline page.
package static
