package rangeproxy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprintIsStableMD5Hex(t *testing.T) {
	fp := Fingerprint("https://example.com/video.mp4")
	assert.Len(t, fp, 32)
	assert.Equal(t, fp, Fingerprint("https://example.com/video.mp4"))
	assert.NotEqual(t, fp, Fingerprint("https://example.com/other.mp4"))
}
