package gitannex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rly/kachery/digest"
)

func TestParseLinkTarget(t *testing.T) {
	info, err := ParseLinkTarget("MD5E-s42--c8bc43bb1868301737797b09266c01a1.mat")
	require.NoError(t, err)
	assert.Equal(t, digest.MD5, info.Algorithm)
	assert.Equal(t, "c8bc43bb1868301737797b09266c01a1", info.Hex)
	assert.EqualValues(t, 42, info.Size)
}

func TestParseLinkTargetFullPath(t *testing.T) {
	info, err := ParseLinkTarget("/home/user/data/.git/annex/objects/Gx/pw/MD5E-s167484154--c8bc43bb1868301737797b09266c01a1.mat/MD5E-s167484154--c8bc43bb1868301737797b09266c01a1.mat")
	require.NoError(t, err)
	assert.EqualValues(t, 167484154, info.Size)
}

func TestParseLinkTargetUnsupportedCode(t *testing.T) {
	_, err := ParseLinkTarget("SHA1E-s42--0123456789012345678901234567890123456789.mat")
	assert.Error(t, err)
}

func TestParseLinkTargetMalformed(t *testing.T) {
	_, err := ParseLinkTarget("not-a-valid-link-target")
	assert.Error(t, err)
}

func TestIsAnnexLink(t *testing.T) {
	assert.True(t, IsAnnexLink("/home/user/.git/annex/objects/Gx/pw/MD5E-s1--abc.mat"))
	assert.False(t, IsAnnexLink("/home/user/data/file.mat"))
}
