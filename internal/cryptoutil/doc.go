// Package cryptoutil verifies client bundle releases: sha256 digests
// compared in constant time and detached signatures checked against a KMS
// public key.
package cryptoutil
