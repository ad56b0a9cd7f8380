package chunkstore

import (
	"fmt"
	"io"
	"os"
)

// WriteStream consumes src and writes it into the store starting at
// startOffset, filling whole chunk files as it goes. It holds the store's
// write lock for its entire duration, so at most one WriteStream runs
// against a Store at a time (spec.md §4.4).
//
// If startOffset falls in the middle of a chunk that is not yet complete,
// the chunk's existing prefix (if any) is read back and prepended; bytes
// before an unwritten prefix are zero-filled and the chunk is left marked
// incomplete until a write covers it in full. WriteStream never pads the
// final, short chunk of a resource with zeros: whatever src yields before
// EOF is flushed as-is and marked complete if it reaches the chunk's
// expected size.
func (s *Store) WriteStream(src io.Reader, startOffset int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index := chunkIndex(startOffset, s.chunkSize)
	chunkBase := chunkStart(index, s.chunkSize)
	prefixLen := startOffset - chunkBase

	buf := make([]byte, 0, s.chunkSize)
	prefixReal := true
	if prefixLen > 0 {
		prefix, ok, err := s.readExistingPrefixLocked(index, prefixLen)
		if err != nil {
			return err
		}
		prefixReal = ok
		buf = append(buf, prefix...)
	}

	cursor := chunkBase + int64(len(buf))
	readBuf := make([]byte, 64*1024)

	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		if err := s.writeChunkFileLocked(index, buf); err != nil {
			return err
		}
		complete := prefixReal && s.isChunkCompleteLocked(index, int64(len(buf)))
		s.chunks[index] = ChunkMeta{
			Index:    index,
			Start:    chunkBase,
			End:      chunkBase + int64(len(buf)),
			Size:     int64(len(buf)),
			Complete: complete,
		}
		if s.totalSize == 0 && cursor > s.totalSize {
			s.totalSize = cursor
		}
		if err := s.persistMetadataLocked(); err != nil {
			return err
		}
		index++
		chunkBase = chunkStart(index, s.chunkSize)
		buf = buf[:0]
		prefixReal = true
		return nil
	}

	for {
		n, err := src.Read(readBuf)
		if n > 0 {
			remaining := readBuf[:n]
			for len(remaining) > 0 {
				room := int(s.chunkSize) - len(buf)
				take := len(remaining)
				if take > room {
					take = room
				}
				buf = append(buf, remaining[:take]...)
				remaining = remaining[take:]
				cursor += int64(take)

				if len(buf) == int(s.chunkSize) {
					if ferr := flush(); ferr != nil {
						return ferr
					}
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("chunkstore: read source: %w", err)
		}
	}

	if err := flush(); err != nil {
		return err
	}

	return nil
}

// readExistingPrefixLocked returns the first n bytes of the chunk at index
// as currently on disk. The boolean is true when all n bytes were read from
// the chunk file; it is false, and the missing bytes are zero-filled, if the
// chunk file does not exist or is shorter than n.
func (s *Store) readExistingPrefixLocked(index int, n int64) ([]byte, bool, error) {
	if _, ok := s.chunks[index]; !ok {
		return make([]byte, n), false, nil
	}

	f, err := os.Open(s.chunkPath(index))
	if err != nil {
		if os.IsNotExist(err) {
			return make([]byte, n), false, nil
		}
		return nil, false, fmt.Errorf("chunkstore: open chunk %d: %w", index, err)
	}
	defer f.Close()

	out := make([]byte, n)
	read, err := io.ReadFull(f, out)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, false, fmt.Errorf("chunkstore: read chunk %d prefix: %w", index, err)
	}
	if int64(read) < n {
		// Existing chunk shorter than requested prefix: zero-fill the rest.
		for i := read; i < int(n); i++ {
			out[i] = 0
		}
		return out, false, nil
	}
	return out, true, nil
}

// writeChunkFileLocked writes data to the chunk at index via temp file +
// rename (I4).
func (s *Store) writeChunkFileLocked(index int, data []byte) error {
	path := s.chunkPath(index)
	tmpPath := path + ".temp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("chunkstore: create chunk temp file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("chunkstore: write chunk %d: %w", index, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("chunkstore: close chunk %d temp file: %w", index, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("chunkstore: rename chunk %d: %w", index, err)
	}
	return nil
}

// isChunkCompleteLocked reports whether a chunk of the given on-disk size
// matches the expected size for its index. With totalSize still unknown
// (0), only a chunk of the store's full chunkSize can be judged complete.
func (s *Store) isChunkCompleteLocked(index int, size int64) bool {
	if s.totalSize <= 0 {
		return size == s.chunkSize
	}
	return size == expectedChunkSize(index, s.totalSize, s.chunkSize)
}
