// Package httpmw provides HTTP middleware for the site listener.
//
// Two groups live here. The ambient layers wrap the whole site handler in
// httpserver.NewHandler: recovery, request ID, client IP, rate limiting,
// tracing, metrics, request logging, body limit and request deadline. The
// site units are mounted as pipeline stages by sitehttp.Assemble: security
// headers with a CSP nonce, compression, HTTPS enforcement and basic auth.
//
// User-supplied data (query params, user-agent, headers) is intentionally
// excluded from logs to prevent PII leaks and log injection.
package httpmw
