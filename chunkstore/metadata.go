package chunkstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

const metadataFileName = "metadata.json"

// metadataFile is the on-disk JSON shape of metadata.json (spec.md §3).
type metadataFile struct {
	TotalSize   int64       `json:"totalSize"`
	ContentType string      `json:"contentType"`
	ChunkSize   int64       `json:"chunkSize"`
	URL         string      `json:"url"`
	Chunks      []ChunkMeta `json:"chunks"`
}

// loadMetadata reads and parses metadata.json. A missing file is not an
// error; it signals a brand-new store.
func loadMetadata(rootDir string) (*metadataFile, error) {
	data, err := os.ReadFile(filepath.Join(rootDir, metadataFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var m metadataFile
	if err := json.Unmarshal(data, &m); err != nil {
		// A corrupt sidecar is treated the same as a missing one: the
		// store rehydrates with no known chunks rather than failing open.
		return nil, nil //nolint:nilerr // corrupt metadata degrades to empty store, not a fatal error
	}
	return &m, nil
}

// persistMetadataLocked writes metadata.json atomically (temp+rename),
// satisfying I4. Callers must hold the store's write lock.
func (s *Store) persistMetadataLocked() error {
	m := metadataFile{
		TotalSize:   s.totalSize,
		ContentType: s.contentType,
		ChunkSize:   s.chunkSize,
		URL:         s.originURL,
		Chunks:      make([]ChunkMeta, 0, len(s.chunks)),
	}
	for _, c := range s.chunks {
		m.Chunks = append(m.Chunks, c)
	}
	sort.Slice(m.Chunks, func(i, j int) bool { return m.Chunks[i].Index < m.Chunks[j].Index })

	data, err := json.MarshalIndent(&m, "", "  ")
	if err != nil {
		return fmt.Errorf("chunkstore: marshal metadata: %w", err)
	}

	path := filepath.Join(s.rootDir, metadataFileName)
	tmp, err := os.CreateTemp(s.rootDir, "metadata-*.temp")
	if err != nil {
		return fmt.Errorf("chunkstore: create metadata temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("chunkstore: write metadata temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("chunkstore: close metadata temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("chunkstore: rename metadata file: %w", err)
	}
	return nil
}
