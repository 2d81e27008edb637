// Package bundle holds the active client bundle: the built client assets
// served under the client web path, plus the service worker and offline
// page.
//
// A bundle comes either from a directory on disk or from a tar.gz release
// in S3 whose sha256 is published in an SSM parameter. Releases are
// verified (digest, optional KMS signature, required files) and extracted
// to memory; the Watcher polls SSM and swaps new releases in atomically.
package bundle
