package contenturl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rly/kachery/digest"
)

const sha1hex = "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d"
const md5hex = "5d41402abc4b2a76b9719d911017c592"

func TestParseFileURL(t *testing.T) {
	u, err := Parse("sha1://" + sha1hex + "/file.txt")
	require.NoError(t, err)
	assert.Equal(t, digest.SHA1, u.Algorithm)
	assert.Equal(t, sha1hex, u.Hex)
	assert.False(t, u.Dir)
	assert.Equal(t, []string{"file.txt"}, u.SubPath)
}

func TestParseFileURLWithBasename(t *testing.T) {
	u, err := Parse("sha1://" + sha1hex + ".hello.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello.txt", u.Basename)
	assert.Equal(t, sha1hex, u.Hex)
}

func TestParseDirURLWithLabelAndSubPath(t *testing.T) {
	u, err := Parse("sha1dir://" + sha1hex + ".mydir/a/b/c.txt")
	require.NoError(t, err)
	assert.True(t, u.Dir)
	assert.Equal(t, "mydir", u.Label)
	assert.Equal(t, []string{"a", "b", "c.txt"}, u.SubPath)
}

func TestParseMD5(t *testing.T) {
	u, err := Parse("md5://" + md5hex)
	require.NoError(t, err)
	assert.Equal(t, digest.MD5, u.Algorithm)
}

func TestParseUnknownScheme(t *testing.T) {
	_, err := Parse("ftp://" + sha1hex)
	assert.Error(t, err)
}

func TestParseWrongHashLength(t *testing.T) {
	_, err := Parse("sha1://deadbeef")
	assert.Error(t, err)
}

func TestParseNotAURL(t *testing.T) {
	_, err := Parse("/local/path/file.txt")
	assert.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	for _, s := range []string{
		"sha1://" + sha1hex + "/file.txt",
		"sha1://" + sha1hex,
		"sha1dir://" + sha1hex + ".mydir/a/b/c.txt",
		"md5dir://" + md5hex + ".mydir",
	} {
		u, err := Parse(s)
		require.NoError(t, err)
		assert.Equal(t, s, u.String())
	}
}

func TestIsHashURL(t *testing.T) {
	assert.True(t, IsHashURL("sha1://"+sha1hex))
	assert.True(t, IsHashURL("md5dir://"+md5hex+".x"))
	assert.False(t, IsHashURL("/local/path"))
	assert.False(t, IsHashURL("https://example.com/file"))
}

func TestManifestURLStripsDirAndSubPath(t *testing.T) {
	u, err := Parse("sha1dir://" + sha1hex + ".mydir/a/b")
	require.NoError(t, err)
	m := u.ManifestURL()
	assert.False(t, m.Dir)
	assert.Equal(t, sha1hex, m.Hex)
	assert.Equal(t, "sha1://"+sha1hex, m.String())
}
