// Package digest computes and memoises content digests (SHA-1 or MD5) of
// local files, the basis for every content-addressed name the rest of the
// module hands out.
package digest

import (
	"bytes"
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/op/go-logging.v1"

	"github.com/rly/kachery/internal/fsutil"
)

var log = logging.MustGetLogger("digest")

// Algorithm identifies a supported hash algorithm.
type Algorithm string

// Supported algorithms.
const (
	SHA1 Algorithm = "sha1"
	MD5  Algorithm = "md5"
)

// HexLen is the length of a hex-encoded digest under this algorithm.
func (a Algorithm) HexLen() int {
	switch a {
	case SHA1:
		return 40
	case MD5:
		return 32
	default:
		return 0
	}
}

// Valid reports whether a is a recognised algorithm.
func (a Algorithm) Valid() bool {
	return a == SHA1 || a == MD5
}

func (a Algorithm) new() hash.Hash {
	switch a {
	case SHA1:
		return sha1.New()
	case MD5:
		return md5.New()
	default:
		panic("unreachable: invalid algorithm " + a)
	}
}

// Digest is an immutable content identifier: an algorithm plus its
// lowercase hex hash.
type Digest struct {
	Algorithm Algorithm
	Hex       string
}

// String renders the digest as "<algorithm>:<hex>", useful for log lines.
func (d Digest) String() string {
	return string(d.Algorithm) + ":" + d.Hex
}

// Valid reports whether the digest has a recognised algorithm and a hex
// hash of the length that algorithm expects.
func (d Digest) Valid() bool {
	return d.Algorithm.Valid() && len(d.Hex) == d.Algorithm.HexLen()
}

// chunkSize is the read buffer size used when hashing file contents.
const chunkSize = 64 * 1024

// xattrName is the extended attribute kachery uses as a digest fast path,
// checked before the (size, mtime)-validated sidecar memo.
const xattrName = "user.kachery_hash"

// memoSuffix names the sidecar file that records a DigestMemo next to its
// source file.
const memoSuffix = ".hash"

// diskMemo is the JSON shape of the ".hash" sidecar.
type diskMemo struct {
	Size       int64  `json:"size"`
	MTimeNanos int64  `json:"mtimeNanos"`
	Algorithm  string `json:"algorithm"`
	Hex        string `json:"hex"`
}

// ComputeFileHash returns the digest of path's contents under algorithm.
//
// Before hashing, it consults (in order): the file's xattr fast path, then
// the ".hash" sidecar memo. Both record (size, mtime) alongside the hash
// and are trusted only when those match the file's current stat info, so a
// stale or corrupted memo can only cost a redundant hash, never return a
// wrong answer. On a miss it hashes the file in fixed-size chunks, then
// best-effort writes both the xattr and a refreshed sidecar.
func ComputeFileHash(path string, algorithm Algorithm) (Digest, error) {
	if !algorithm.Valid() {
		return Digest{}, fmt.Errorf("digest: unknown algorithm %q", algorithm)
	}
	info, err := os.Stat(path)
	if err != nil {
		return Digest{}, err
	}

	if m, ok := readXattrMemo(path, algorithm); ok && m.Size == info.Size() && m.MTimeNanos == info.ModTime().UnixNano() {
		return Digest{Algorithm: algorithm, Hex: m.Hex}, nil
	}

	if memo, ok := readMemo(path, algorithm); ok && memo.Size == info.Size() && memo.MTimeNanos == info.ModTime().UnixNano() {
		return Digest{Algorithm: algorithm, Hex: memo.Hex}, nil
	}

	hex, err := hashFile(path, algorithm)
	if err != nil {
		return Digest{}, err
	}
	d := Digest{Algorithm: algorithm, Hex: hex}

	writeXattrMemo(path, info, d)
	if err := writeMemo(path, info, d); err != nil {
		log.Debug("Failed to write digest memo for %s: %s", path, err)
	}
	return d, nil
}

func hashFile(path string, algorithm Algorithm) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := algorithm.new()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("digest: reading %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// readXattrMemo decodes the JSON-encoded DigestMemo stashed in the xattr
// fast path, if any. It uses the same payload shape as the sidecar so it
// is validated the same way: never trusted on (size, mtime) mismatch.
func readXattrMemo(path string, algorithm Algorithm) (diskMemo, bool) {
	b, ok := fsutil.GetXattr(path, xattrName+"."+string(algorithm))
	if !ok {
		return diskMemo{}, false
	}
	var m diskMemo
	if err := json.Unmarshal(b, &m); err != nil {
		return diskMemo{}, false
	}
	return m, m.Algorithm == string(algorithm)
}

func writeXattrMemo(path string, info os.FileInfo, d Digest) {
	m := diskMemo{
		Size:       info.Size(),
		MTimeNanos: info.ModTime().UnixNano(),
		Algorithm:  string(d.Algorithm),
		Hex:        d.Hex,
	}
	b, err := json.Marshal(m)
	if err != nil {
		return
	}
	fsutil.SetXattr(path, xattrName+"."+string(d.Algorithm), b)
}

func memoPath(path string) string {
	return path + memoSuffix
}

func readMemo(path string, algorithm Algorithm) (diskMemo, bool) {
	b, err := os.ReadFile(memoPath(path))
	if err != nil {
		return diskMemo{}, false
	}
	var m diskMemo
	if err := json.Unmarshal(b, &m); err != nil {
		return diskMemo{}, false
	}
	return m, m.Algorithm == string(algorithm)
}

// writeMemo writes the sidecar atomically (write-temp + rename) in the same
// directory as path, so a reader never observes a partially written memo.
func writeMemo(path string, info os.FileInfo, d Digest) error {
	m := diskMemo{
		Size:       info.Size(),
		MTimeNanos: info.ModTime().UnixNano(),
		Algorithm:  string(d.Algorithm),
		Hex:        d.Hex,
	}
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	name := filepath.Base(memoPath(path))
	_, err = fsutil.WriteFileAtomic(bytes.NewReader(b), dir, name, 0644)
	return err
}
