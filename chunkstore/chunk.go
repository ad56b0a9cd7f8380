package chunkstore

// ChunkMeta describes one chunk file: its byte span within the resource,
// its on-disk size, and whether it is safe to serve from cache.
//
// A chunk is complete iff its file exists and its length equals the
// expected size for that index: chunkSize for every chunk except the
// last, whose expected size is the remainder of totalSize.
type ChunkMeta struct {
	Index    int   `json:"index"`
	Start    int64 `json:"start"`
	End      int64 `json:"end"`
	Size     int64 `json:"size"`
	Complete bool  `json:"complete"`
}

// chunkIndex returns the chunk index containing offset.
func chunkIndex(offset, chunkSize int64) int {
	return int(offset / chunkSize)
}

// chunkStart returns the absolute start offset of the given chunk index.
func chunkStart(index int, chunkSize int64) int64 {
	return int64(index) * chunkSize
}

// lastChunkIndex returns the index of the final chunk for a resource of
// totalSize bytes, or -1 if totalSize is unknown (<= 0).
func lastChunkIndex(totalSize, chunkSize int64) int {
	if totalSize <= 0 {
		return -1
	}
	return int((totalSize+chunkSize-1)/chunkSize) - 1
}

// expectedChunkSize returns the number of bytes the chunk at index should
// contain once complete, given a known totalSize. Callers must only call
// this when totalSize > 0.
func expectedChunkSize(index int, totalSize, chunkSize int64) int64 {
	last := lastChunkIndex(totalSize, chunkSize)
	if index < last {
		return chunkSize
	}
	if index > last {
		return 0
	}
	rem := totalSize - chunkStart(index, chunkSize)
	if rem <= 0 {
		return chunkSize
	}
	return rem
}
