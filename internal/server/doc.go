// Package server hosts the Fiber HTTP service that exposes the image cache to
// remote consumers: request-ID middleware, the image route, and the shared
// upstream http.Client used by the cache engine for downloads and
// content-type probes. Handlers are injected so tests can replace them;
// maintenance endpoints live in the routes subpackage.
package server
