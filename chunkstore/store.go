package chunkstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DefaultChunkSize is the fixed chunk size used in production (spec.md §3).
// It is still plumbed through Options so tests can exercise chunk-boundary
// behavior without allocating megabytes per case.
const DefaultChunkSize = 5 * 1024 * 1024

const dataDirName = "data"

// Store is the on-disk chunked cache for a single resource, keyed outside
// this package by its URL fingerprint. The zero value is not usable; build
// one with Open.
//
// All mutating operations hold mu for their entire duration, so at most one
// write is ever in flight against a Store. Reads (Read, Size, RangeCached,
// CachedRangeSize) only hold mu briefly, to snapshot state before touching
// the filesystem.
type Store struct {
	rootDir     string
	chunkSize   int64
	originURL   string
	contentType string

	mu        sync.RWMutex
	totalSize int64
	chunks    map[int]ChunkMeta
}

// Option configures a Store at Open time.
type Option func(*Store)

// WithChunkSize overrides DefaultChunkSize. Intended for tests; production
// callers should leave this unset.
func WithChunkSize(size int64) Option {
	return func(s *Store) {
		if size > 0 {
			s.chunkSize = size
		}
	}
}

// Open opens or creates the store rooted at rootDir for the resource
// identified by url. It creates rootDir/data if missing, loads any existing
// metadata.json, and scrubs stale .temp files left behind by a prior crash
// (I5).
func Open(rootDir, url string, opts ...Option) (*Store, error) {
	s := &Store{
		rootDir:   rootDir,
		chunkSize: DefaultChunkSize,
		originURL: url,
		chunks:    make(map[int]ChunkMeta),
	}
	for _, opt := range opts {
		opt(s)
	}

	dataDir := filepath.Join(rootDir, dataDirName)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("chunkstore: create data dir: %w", err)
	}

	m, err := loadMetadata(rootDir)
	if err != nil {
		return nil, fmt.Errorf("chunkstore: load metadata: %w", err)
	}
	if m != nil {
		s.totalSize = m.TotalSize
		s.contentType = m.ContentType
		if m.ChunkSize > 0 {
			s.chunkSize = m.ChunkSize
		}
		if m.URL != "" {
			s.originURL = m.URL
		}
		for _, c := range m.Chunks {
			s.chunks[c.Index] = c
		}
	}

	if err := scrubTempFiles(dataDir); err != nil {
		return nil, fmt.Errorf("chunkstore: scrub temp files: %w", err)
	}

	if err := s.revalidateChunks(); err != nil {
		return nil, fmt.Errorf("chunkstore: revalidate chunks: %w", err)
	}

	return s, nil
}

// revalidateChunks checks every chunk index loaded from metadata.json
// against the filesystem, dropping any entry whose file is missing or whose
// on-disk length doesn't match the recorded size (spec.md §4.2 open(), I1).
// This guards against an externally deleted chunk file or a Clear() that
// removed chunk files but was interrupted before metadata.json itself was
// removed. Called only from Open, before the Store is shared, so no lock
// is needed.
func (s *Store) revalidateChunks() error {
	var dropped bool
	for index, c := range s.chunks {
		info, err := os.Stat(s.chunkPath(index))
		if err != nil {
			if os.IsNotExist(err) {
				delete(s.chunks, index)
				dropped = true
				continue
			}
			return err
		}
		if info.Size() != c.Size {
			delete(s.chunks, index)
			dropped = true
		}
	}
	if dropped {
		return s.persistMetadataLocked()
	}
	return nil
}

// scrubTempFiles removes any *.temp stragglers in dataDir, left behind when
// a prior process died between CreateTemp and Rename (I5).
func scrubTempFiles(dataDir string) error {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if filepath.Ext(e.Name()) == ".temp" {
			if err := os.Remove(filepath.Join(dataDir, e.Name())); err != nil && !os.IsNotExist(err) {
				return err
			}
		}
	}
	return nil
}

// SetMetadata records the resource's total size and content type, as
// learned from the origin's headers. It is a no-op write for chunk data but
// still persists metadata.json under the write lock, since later WriteStream
// calls and CachedRangeSize queries depend on totalSize being known.
func (s *Store) SetMetadata(totalSize int64, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalSize = totalSize
	s.contentType = contentType
	return s.persistMetadataLocked()
}

// TotalSize returns the resource's total size as last recorded via
// SetMetadata or a completed WriteStream, or 0 if unknown.
func (s *Store) TotalSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalSize
}

// ContentType returns the resource's content type as last recorded via
// SetMetadata.
func (s *Store) ContentType() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.contentType
}

// ChunkSize returns the chunk size this store was opened with.
func (s *Store) ChunkSize() int64 {
	return s.chunkSize
}

// OriginURL returns the URL this store caches, as recorded in metadata.json.
func (s *Store) OriginURL() string {
	return s.originURL
}

// Size returns the number of bytes currently occupying disk for this store:
// the sum of the on-disk size of every complete chunk.
func (s *Store) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for _, c := range s.chunks {
		if c.Complete {
			total += c.Size
		}
	}
	return total
}

// Clear removes the store's entire on-disk directory and resets its
// in-memory state. Used by eviction.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.RemoveAll(s.rootDir); err != nil {
		return fmt.Errorf("chunkstore: clear: %w", err)
	}
	s.totalSize = 0
	s.contentType = ""
	s.chunks = make(map[int]ChunkMeta)
	return nil
}

func (s *Store) chunkPath(index int) string {
	return filepath.Join(s.rootDir, dataDirName, fmt.Sprintf("chunk_%d", index))
}
