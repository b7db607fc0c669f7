// Package contenturl parses and formats content-addressed URLs of the form
// sha1://<hex>[.<basename>][/<subpath>] and sha1dir://<hex>[.<label>][/<subpath>],
// and the md5/md5dir equivalents.
package contenturl

import (
	"fmt"
	"strings"

	"github.com/rly/kachery/digest"
)

// ContentURL is a parsed content URL. Exactly one of the two underlying
// shapes applies: a single blob (Dir == false) or a directory/manifest
// subtree (Dir == true). SubPath is only meaningful when Dir is true;
// Basename is only meaningful when Dir is false, Label only when Dir is
// true.
type ContentURL struct {
	Algorithm digest.Algorithm
	Hex       string
	Dir       bool
	Basename  string   // decoration on a File URL; empty if absent.
	Label     string   // decoration on a Dir URL; empty if absent.
	SubPath   []string // path components below the manifest root.
}

// IsHashURL reports whether s looks like one of the four recognised
// schemes (sha1://, md5://, sha1dir://, md5dir://). It does not validate
// the rest of the URL.
func IsHashURL(s string) bool {
	for _, alg := range []digest.Algorithm{digest.SHA1, digest.MD5} {
		if strings.HasPrefix(s, string(alg)+"://") || strings.HasPrefix(s, string(alg)+"dir://") {
			return true
		}
	}
	return false
}

// Parse parses a content URL. Unknown schemes are a hard error.
//
// Grammar (spec.md §6):
//
//	url      := scheme "://" hashseg ( "/" subpath )?
//	scheme   := ("sha1" | "md5") "dir"?
//	hashseg  := hex ( "." label )?
//	subpath  := name ( "/" name )*
func Parse(s string) (ContentURL, error) {
	schemeSep := strings.Index(s, "://")
	if schemeSep < 0 {
		return ContentURL{}, fmt.Errorf("contenturl: not a content URL: %q", s)
	}
	scheme := s[:schemeSep]
	rest := s[schemeSep+3:]

	isDir := strings.HasSuffix(scheme, "dir")
	algName := strings.TrimSuffix(scheme, "dir")
	algorithm := digest.Algorithm(algName)
	if !algorithm.Valid() {
		return ContentURL{}, fmt.Errorf("contenturl: unknown algorithm in scheme %q", scheme)
	}

	parts := strings.Split(rest, "/")
	if len(parts) == 0 || parts[0] == "" {
		return ContentURL{}, fmt.Errorf("contenturl: missing hash in %q", s)
	}
	hashSeg := parts[0]
	hex := hashSeg
	suffix := ""
	if dot := strings.Index(hashSeg, "."); dot >= 0 {
		hex = hashSeg[:dot]
		suffix = hashSeg[dot+1:]
	}
	if len(hex) != algorithm.HexLen() {
		return ContentURL{}, fmt.Errorf("contenturl: hash %q has wrong length for %s", hex, algorithm)
	}

	var subPath []string
	if len(parts) > 1 {
		subPath = parts[1:]
	}

	u := ContentURL{Algorithm: algorithm, Hex: hex, Dir: isDir, SubPath: subPath}
	if isDir {
		u.Label = suffix
	} else {
		u.Basename = suffix
	}
	return u, nil
}

// String formats u back into a content URL. It is the inverse of Parse:
// basenames/labels are cosmetic and round-trip, but carry no bearing on
// content identity.
func (u ContentURL) String() string {
	scheme := string(u.Algorithm)
	suffix := u.Basename
	if u.Dir {
		scheme += "dir"
		suffix = u.Label
	}
	s := scheme + "://" + u.Hex
	if suffix != "" {
		s += "." + suffix
	}
	if len(u.SubPath) > 0 {
		s += "/" + strings.Join(u.SubPath, "/")
	}
	return s
}

// FileURL returns the URL of a single content-addressed blob.
func FileURL(algorithm digest.Algorithm, hex, basename string) ContentURL {
	return ContentURL{Algorithm: algorithm, Hex: hex, Basename: basename}
}

// DirURL returns the URL of a directory manifest.
func DirURL(algorithm digest.Algorithm, hex, label string) ContentURL {
	return ContentURL{Algorithm: algorithm, Hex: hex, Dir: true, Label: label}
}

// ManifestURL returns the File URL of the JSON blob that stores u's own
// manifest (i.e. u with Dir stripped and SubPath discarded).
func (u ContentURL) ManifestURL() ContentURL {
	return ContentURL{Algorithm: u.Algorithm, Hex: u.Hex}
}
