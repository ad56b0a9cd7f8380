package chunkstore

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrRangeNotCached is returned by Read when the requested range is not
// fully covered by complete, contiguous chunks.
var ErrRangeNotCached = errors.New("chunkstore: range not cached")

type segment struct {
	path   string
	offset int64
	length int64
}

// Read returns a ReadCloser over the half-open range [start, end) if, and
// only if, every byte in that range is already cached. Callers should check
// RangeCached first to avoid paying for an Open just to get ErrRangeNotCached.
func (s *Store) Read(start, end int64) (io.ReadCloser, error) {
	if end <= start {
		return nil, fmt.Errorf("chunkstore: invalid range [%d,%d)", start, end)
	}

	s.mu.RLock()
	segs, ok := s.planSegmentsLocked(start, end)
	s.mu.RUnlock()

	if !ok {
		return nil, ErrRangeNotCached
	}
	return &segmentReader{segments: segs}, nil
}

// planSegmentsLocked builds the list of chunk-file byte ranges covering
// [start, end), or reports false if any part of the range is not backed by
// a complete chunk.
func (s *Store) planSegmentsLocked(start, end int64) ([]segment, bool) {
	var segs []segment
	cursor := start
	for cursor < end {
		index := chunkIndex(cursor, s.chunkSize)
		c, ok := s.chunks[index]
		if !ok || !c.Complete {
			return nil, false
		}
		if c.Start > cursor {
			return nil, false
		}
		segEnd := c.End
		if segEnd > end {
			segEnd = end
		}
		if segEnd <= cursor {
			return nil, false
		}
		segs = append(segs, segment{
			path:   s.chunkPath(index),
			offset: cursor - c.Start,
			length: segEnd - cursor,
		})
		cursor = segEnd
	}
	return segs, true
}

// CachedRangeSize returns the number of bytes, starting at start, that are
// covered by a contiguous run of complete chunks before either hitting end
// or a gap. It never exceeds end-start.
func (s *Store) CachedRangeSize(start, end int64) int64 {
	if end <= start {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var covered int64
	cursor := start
	for cursor < end {
		index := chunkIndex(cursor, s.chunkSize)
		c, ok := s.chunks[index]
		if !ok || !c.Complete || c.Start > cursor {
			break
		}
		segEnd := c.End
		if segEnd > end {
			segEnd = end
		}
		if segEnd <= cursor {
			break
		}
		covered += segEnd - cursor
		cursor = segEnd
	}
	return covered
}

// RangeCached reports whether [start, end) is entirely covered by complete,
// contiguous chunks.
func (s *Store) RangeCached(start, end int64) bool {
	if end <= start {
		return false
	}
	return s.CachedRangeSize(start, end) == end-start
}

// segmentReader lazily opens each chunk file it covers, presenting them as
// one contiguous stream. Modeled on the teacher's rangeReadCloser.
type segmentReader struct {
	segments []segment
	current  *io.SectionReader
	file     *os.File
}

func (r *segmentReader) Read(p []byte) (int, error) {
	for {
		if r.current == nil {
			if len(r.segments) == 0 {
				return 0, io.EOF
			}
			seg := r.segments[0]
			r.segments = r.segments[1:]

			f, err := os.Open(seg.path)
			if err != nil {
				return 0, fmt.Errorf("chunkstore: open chunk file: %w", err)
			}
			r.file = f
			r.current = io.NewSectionReader(f, seg.offset, seg.length)
		}

		n, err := r.current.Read(p)
		if err == io.EOF {
			_ = r.file.Close()
			r.file = nil
			r.current = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (r *segmentReader) Close() error {
	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		r.current = nil
		return err
	}
	return nil
}
