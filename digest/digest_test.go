package digest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(contents), 0644))
	return p
}

func TestComputeFileHashSHA1(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "hello.txt", "hello")

	d, err := ComputeFileHash(p, SHA1)
	require.NoError(t, err)
	assert.Equal(t, "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d", d.Hex)
	assert.True(t, d.Valid())
}

func TestComputeFileHashMD5(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "hello.txt", "hello")

	d, err := ComputeFileHash(p, MD5)
	require.NoError(t, err)
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", d.Hex)
}

func TestComputeFileHashWritesAndReusesMemo(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "hello.txt", "hello")

	d1, err := ComputeFileHash(p, SHA1)
	require.NoError(t, err)
	require.FileExists(t, p+".hash")

	d2, err := ComputeFileHash(p, SHA1)
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
}

func TestComputeFileHashRecomputesWhenFileChanges(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "hello.txt", "hello")

	_, err := ComputeFileHash(p, SHA1)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(p, []byte("goodbye"), 0644))
	// Force the mtime forward so the memo is unambiguously stale even on
	// filesystems with coarse mtime resolution.
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(p, future, future))

	d, err := ComputeFileHash(p, SHA1)
	require.NoError(t, err)
	assert.NotEqual(t, "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d", d.Hex)
}

func TestEmptyFileDigest(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "empty.txt", "")

	d, err := ComputeFileHash(p, SHA1)
	require.NoError(t, err)
	assert.Equal(t, "da39a3ee5e6b4b0d3255bfef95601890afd80709", d.Hex)
}

func TestUnknownAlgorithm(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "hello.txt", "hello")

	_, err := ComputeFileHash(p, Algorithm("sha256"))
	assert.Error(t, err)
}
