// Package consumer is the lifecycle-driven caller of the cache engine. An
// Image validates its source URL against the configured protocols and host
// whitelist, holds an eviction lock on its key while mounted, and resolves the
// local file path through the engine. The HTTP server mounts one Image per
// request; embedders can do the same for any long-lived view of a cached file.
package consumer
