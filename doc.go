// Package rangeproxy implements a local HTTP caching proxy for large
// byte-range media resources. It parses HTTP Range headers against a known
// resource size, yielding the half-open interval callers should fetch and
// cache.
//
// The chunked on-disk cache lives in [github.com/mediacache/rangeproxy/chunkstore],
// the origin client in [github.com/mediacache/rangeproxy/origin], the
// per-URL registry and eviction policy in
// [github.com/mediacache/rangeproxy/manager], the request orchestration in
// [github.com/mediacache/rangeproxy/handler], and the HTTP listener in
// [github.com/mediacache/rangeproxy/server].
package rangeproxy
