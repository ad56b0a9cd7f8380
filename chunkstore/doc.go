// Package chunkstore implements the on-disk, chunked cache for one
// resource: a directory of fixed-size byte-chunk files plus a JSON
// metadata sidecar recording which chunks are complete.
//
// A Store is rooted at <cacheRoot>/<fingerprint>/ and lays out:
//
//	metadata.json
//	data/chunk_0
//	data/chunk_1
//	data/chunk_N.temp   (transient; never visible to readers)
//
// Chunk writes go to a "<name>.temp" file and are atomically renamed into
// place, so a crash mid-write leaves the prior consistent snapshot
// (metadata.json and whatever chunk files had already been renamed). A
// Store does not verify the integrity of cached bytes; it trusts the
// filesystem and the writer that produced them.
package chunkstore
