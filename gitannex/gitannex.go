// Package gitannex recognises symlinks into a git-annex object store and
// extracts the digest and size git-annex already computed, so the manifest
// engine never has to re-hash an annexed file.
package gitannex

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rly/kachery/digest"
)

// objectsMarker is the path fragment that identifies a git-annex object
// store; any symlink resolving through it is treated as annexed.
const objectsMarker = ".git/annex/objects"

// IsAnnexLink reports whether realPath (the result of resolving a symlink)
// points inside a git-annex object store.
func IsAnnexLink(realPath string) bool {
	return strings.Contains(filepath.ToSlash(realPath), objectsMarker)
}

// LinkInfo is the digest and size git-annex recorded in a link target's
// filename.
type LinkInfo struct {
	Algorithm digest.Algorithm
	Hex       string
	Size      int64
}

// ParseLinkTarget parses the filename of a git-annex link target, of the
// form "<CODE>E-s<size>--<hex>.<ext>". The only code currently recognised
// is "MD5E", which maps to the md5 algorithm; any other code is a fatal
// parse error (git-annex also supports SHA1E etc, but this deployment has
// only ever seen MD5E-backed annexes).
//
// Example target: MD5E-s167484154--c8bc43bb1868301737797b09266c01a1.mat
func ParseLinkTarget(target string) (LinkInfo, error) {
	name := filepath.Base(target)
	dashDash := strings.Index(name, "--")
	if dashDash < 0 {
		return LinkInfo{}, fmt.Errorf("gitannex: malformed link target %q: missing '--'", name)
	}
	head := name[:dashDash] // "<CODE>E-s<size>"
	tail := name[dashDash+2:]

	dot := strings.Index(tail, ".")
	hex := tail
	if dot >= 0 {
		hex = tail[:dot]
	}

	parts := strings.SplitN(head, "-", 2)
	if len(parts) != 2 || !strings.HasPrefix(parts[1], "s") {
		return LinkInfo{}, fmt.Errorf("gitannex: malformed link target %q: missing size segment", name)
	}
	code := parts[0]
	size, err := strconv.ParseInt(parts[1][1:], 10, 64)
	if err != nil {
		return LinkInfo{}, fmt.Errorf("gitannex: malformed size in link target %q: %w", name, err)
	}

	var algorithm digest.Algorithm
	switch code {
	case "MD5E":
		algorithm = digest.MD5
	default:
		return LinkInfo{}, fmt.Errorf("gitannex: unrecognised backend code %q in link target %q", code, name)
	}

	if len(hex) != algorithm.HexLen() {
		return LinkInfo{}, fmt.Errorf("gitannex: hash %q in link target %q has wrong length for %s", hex, name, algorithm)
	}

	return LinkInfo{Algorithm: algorithm, Hex: hex, Size: size}, nil
}
