// Package cache implements the disk-backed image cache engine. Resources are
// stored under <root>/<namespace>/<key>, where key is the SHA1 of the source
// URL plus a normalised image extension and namespace is either "permanent"
// (never evicted) or "cache" (pruned oldest-first to a byte budget).
//
// The package is split along the engine's collaborators: KeyDeriver maps URLs
// to keys, PathGuard sandboxes every path under the root, Store resolves and
// lists stored files, LockRegistry exempts in-use keys from eviction, Evictor
// prunes the cache namespace and Downloader commits remote bodies through a
// temp file + rename. Engine composes them into the operations consumers use.
package cache
