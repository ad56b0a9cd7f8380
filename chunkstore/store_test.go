package chunkstore

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, chunkSize int64) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir, "https://example.com/video.mp4", WithChunkSize(chunkSize))
	require.NoError(t, err)
	return s
}

func TestOpenCreatesDataDir(t *testing.T) {
	dir := t.TempDir()
	_, err := Open(dir, "https://example.com/video.mp4")
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(dir, "data"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestWriteStreamThenReadRoundTrip(t *testing.T) {
	s := newTestStore(t, 16)
	require.NoError(t, s.SetMetadata(40, "video/mp4"))

	data := bytes.Repeat([]byte("a"), 40)
	require.NoError(t, s.WriteStream(bytes.NewReader(data), 0))

	assert.True(t, s.RangeCached(0, 40))
	rc, err := s.Read(0, 40)
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestWriteStreamLastChunkNotZeroPadded(t *testing.T) {
	s := newTestStore(t, 16)
	require.NoError(t, s.SetMetadata(20, "video/mp4"))

	data := bytes.Repeat([]byte("b"), 20)
	require.NoError(t, s.WriteStream(bytes.NewReader(data), 0))

	// Second chunk is only 4 bytes; it must be stored at exactly that size,
	// not padded out to 16.
	info, err := os.Stat(s.chunkPath(1))
	require.NoError(t, err)
	assert.EqualValues(t, 4, info.Size())
	assert.True(t, s.RangeCached(16, 20))
}

func TestWriteStreamMidChunkStartRehydratesPrefix(t *testing.T) {
	s := newTestStore(t, 16)
	require.NoError(t, s.SetMetadata(32, "video/mp4"))

	first := bytes.Repeat([]byte("x"), 8)
	require.NoError(t, s.WriteStream(bytes.NewReader(first), 0))
	assert.False(t, s.RangeCached(0, 16))

	rest := bytes.Repeat([]byte("y"), 24)
	require.NoError(t, s.WriteStream(bytes.NewReader(rest), 8))

	assert.True(t, s.RangeCached(0, 32))
	rc, err := s.Read(0, 16)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, append(first, bytes.Repeat([]byte("y"), 8)...), got)
}

func TestCachedRangeSizeStopsAtGap(t *testing.T) {
	s := newTestStore(t, 16)
	require.NoError(t, s.SetMetadata(48, "video/mp4"))

	require.NoError(t, s.WriteStream(bytes.NewReader(bytes.Repeat([]byte("a"), 16)), 0))
	require.NoError(t, s.WriteStream(bytes.NewReader(bytes.Repeat([]byte("a"), 16)), 32))

	assert.EqualValues(t, 16, s.CachedRangeSize(0, 48))
	assert.False(t, s.RangeCached(0, 48))
	assert.True(t, s.RangeCached(32, 48))
}

func TestReadNotCachedReturnsError(t *testing.T) {
	s := newTestStore(t, 16)
	require.NoError(t, s.SetMetadata(16, "video/mp4"))

	_, err := s.Read(0, 16)
	assert.ErrorIs(t, err, ErrRangeNotCached)
}

func TestSizeSumsCompleteChunksOnly(t *testing.T) {
	s := newTestStore(t, 16)
	require.NoError(t, s.SetMetadata(20, "video/mp4"))
	require.NoError(t, s.WriteStream(bytes.NewReader(bytes.Repeat([]byte("a"), 20)), 0))

	assert.EqualValues(t, 20, s.Size())
}

func TestClearRemovesDirectory(t *testing.T) {
	s := newTestStore(t, 16)
	require.NoError(t, s.SetMetadata(16, "video/mp4"))
	require.NoError(t, s.WriteStream(bytes.NewReader(bytes.Repeat([]byte("a"), 16)), 0))

	require.NoError(t, s.Clear())
	assert.EqualValues(t, 0, s.Size())
	_, err := os.Stat(s.chunkPath(0))
	assert.True(t, os.IsNotExist(err))
}

func TestOpenScrubsStaleTempFiles(t *testing.T) {
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	require.NoError(t, os.MkdirAll(dataDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "chunk_0-stale.temp"), []byte("junk"), 0o644))

	_, err := Open(dir, "https://example.com/video.mp4")
	require.NoError(t, err)

	entries, err := os.ReadDir(dataDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestOpenRehydratesFromExistingMetadata(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, "https://example.com/video.mp4", WithChunkSize(16))
	require.NoError(t, err)
	require.NoError(t, s.SetMetadata(16, "video/mp4"))
	require.NoError(t, s.WriteStream(bytes.NewReader(bytes.Repeat([]byte("z"), 16)), 0))

	reopened, err := Open(dir, "https://example.com/video.mp4", WithChunkSize(16))
	require.NoError(t, err)
	assert.True(t, reopened.RangeCached(0, 16))
	assert.EqualValues(t, 16, reopened.TotalSize())
}

func TestOpenDropsChunkWithMissingFile(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, "https://example.com/video.mp4", WithChunkSize(16))
	require.NoError(t, err)
	require.NoError(t, s.SetMetadata(32, "video/mp4"))
	require.NoError(t, s.WriteStream(bytes.NewReader(bytes.Repeat([]byte("a"), 32)), 0))
	require.True(t, s.RangeCached(0, 32))

	// Simulate an externally deleted chunk file (or a Clear() interrupted
	// after removing the chunk but before metadata.json caught up).
	require.NoError(t, os.Remove(s.chunkPath(1)))

	reopened, err := Open(dir, "https://example.com/video.mp4", WithChunkSize(16))
	require.NoError(t, err)
	assert.False(t, reopened.RangeCached(0, 32))
	assert.True(t, reopened.RangeCached(0, 16))
	assert.EqualValues(t, 16, reopened.Size())

	_, err = reopened.Read(16, 32)
	assert.ErrorIs(t, err, ErrRangeNotCached)
}

func TestOpenDropsChunkWithMismatchedSize(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, "https://example.com/video.mp4", WithChunkSize(16))
	require.NoError(t, err)
	require.NoError(t, s.SetMetadata(16, "video/mp4"))
	require.NoError(t, s.WriteStream(bytes.NewReader(bytes.Repeat([]byte("a"), 16)), 0))

	// Truncate the chunk file behind the store's back so its on-disk size
	// no longer matches the recorded metadata.
	require.NoError(t, os.WriteFile(s.chunkPath(0), []byte("short"), 0o644))

	reopened, err := Open(dir, "https://example.com/video.mp4", WithChunkSize(16))
	require.NoError(t, err)
	assert.False(t, reopened.RangeCached(0, 16))
	assert.EqualValues(t, 0, reopened.Size())
}
