package hash

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBytes_KnownDigest(t *testing.T) {
	assert.Equal(t,
		Fingerprint("e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"),
		Bytes(nil))
	assert.Equal(t,
		Fingerprint("2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"),
		String("hello"))
}

func TestFile_MatchesBytes(t *testing.T) {
	// Given: a file on disk
	path := filepath.Join(t.TempDir(), "doc.md")
	content := []byte(strings.Repeat("paragraph\n\n", 1000))
	require.NoError(t, os.WriteFile(path, content, 0o644))

	// When: hashing the file and its bytes
	fp, err := File(path)
	require.NoError(t, err)

	// Then: both agree and the digest is well formed
	assert.Equal(t, Bytes(content), fp)
	assert.True(t, fp.Valid())
	assert.Len(t, fp.Short(), 12)
}

func TestFile_MissingFile(t *testing.T) {
	_, err := File(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestEqual(t *testing.T) {
	a := String("a")
	assert.True(t, Equal(a, String("a")))
	assert.False(t, Equal(a, String("b")))
	assert.False(t, Equal("", ""))
	assert.False(t, Equal(a, a[:10]))
}

func TestValid(t *testing.T) {
	assert.False(t, Fingerprint("abc").Valid())
	assert.False(t, Fingerprint(strings.Repeat("z", Size)).Valid())
	assert.True(t, String("x").Valid())
}

func TestDecide(t *testing.T) {
	cur := String("v2")
	old := String("v1")

	tests := []struct {
		name  string
		prior *Prior
		force bool
		want  Reason
	}{
		{"never seen", nil, false, ReasonNew},
		{"unchanged", &Prior{Hash: cur, Healthy: true}, false, ReasonUnchanged},
		{"changed", &Prior{Hash: old, Healthy: true}, false, ReasonChanged},
		{"previous failure", &Prior{Hash: cur, Healthy: false}, false, ReasonRetry},
		{"forced unchanged", &Prior{Hash: cur, Healthy: true}, true, ReasonForced},
		{"forced new", nil, true, ReasonForced},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(tt.prior, cur, tt.force)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want != ReasonUnchanged, got.NeedsWork())
		})
	}
}
