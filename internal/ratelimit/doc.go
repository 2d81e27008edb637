// Package ratelimit limits site requests per client IP ahead of the
// request pipeline, evicting idle visitors in the background.
//
// The limiter is in-memory and per instance. It keys on the address
// resolved by httpmw.ClientIP, so TRUSTED_PROXY_HOPS must match the proxies
// in front of the listener or every visitor shares the load balancer's
// bucket. Distributed floods belong to the CDN or WAF.
package ratelimit
