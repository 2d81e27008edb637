// Package xerrors records where errors happen. New and WithStack capture
// the goroutine stack; Wrap and Mark capture the single calling frame.
// The logger reads both back through the StackPCs and PC methods to render
// the stack and error_links attributes.
package xerrors
