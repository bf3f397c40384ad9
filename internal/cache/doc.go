// Package cache stores metadata enrichment results so repeated
// classifications of the same item do not hit the metadata API again.
//
// Backends: "memory" (go-cache, per process), "redis" (go-redis, shared) and
// "none". Values are opaque bytes; callers encode JSON themselves.
package cache
