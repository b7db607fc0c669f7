// Package hashcache implements the local, content-addressed file cache:
// given a digest it returns (or creates) the one canonical on-disk path
// that holds those bytes, and every write into it is atomic.
package hashcache

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gopkg.in/op/go-logging.v1"

	"github.com/rly/kachery/digest"
	"github.com/rly/kachery/internal/fsutil"
)

var log = logging.MustGetLogger("hashcache")

// DefaultRoot returns the cache root used when no explicit root is
// configured: KACHERY_STORAGE_DIR if set, otherwise os.UserCacheDir()
// joined with "kachery".
func DefaultRoot() (string, error) {
	if dir := os.Getenv("KACHERY_STORAGE_DIR"); dir != "" {
		return dir, nil
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("hashcache: determining default cache root: %w", err)
	}
	return filepath.Join(base, "kachery"), nil
}

// EntryPath returns the canonical on-disk location of a digest under root:
// <root>/<algorithm>/<hex[0:2]>/<hex[2:4]>/<hex>.
func EntryPath(root string, d digest.Digest) string {
	return filepath.Join(root, string(d.Algorithm), d.Hex[0:2], d.Hex[2:4], d.Hex)
}

func shardDir(root string, d digest.Digest) string {
	return filepath.Dir(EntryPath(root, d))
}

// FindFile returns the canonical path for d if and only if it already
// exists there as a regular file. No content verification is performed;
// lookup trusts that a prior ingestion put valid bytes at that path.
func FindFile(root string, d digest.Digest) (string, bool) {
	path := EntryPath(root, d)
	if fsutil.FileExists(path) {
		return path, true
	}
	return "", false
}

// CopyFileToCache computes srcPath's digest under algorithm and atomically
// places a copy at its canonical path, returning that path and the digest.
// If the canonical path already exists, the existing file is kept in
// place and no copy occurs: concurrent ingestions of identical content are
// always safe, win or lose.
func CopyFileToCache(root, srcPath string, algorithm digest.Algorithm) (string, digest.Digest, error) {
	d, err := digest.ComputeFileHash(srcPath, algorithm)
	if err != nil {
		return "", digest.Digest{}, fmt.Errorf("hashcache: hashing %s: %w", srcPath, err)
	}

	dest := EntryPath(root, d)
	if fsutil.FileExists(dest) {
		return dest, d, nil
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return "", digest.Digest{}, err
	}
	defer src.Close()

	path, err := fsutil.WriteFileAtomic(src, shardDir(root, d), d.Hex, fsutil.FilePermissions)
	if err != nil {
		return "", digest.Digest{}, fmt.Errorf("hashcache: storing %s: %w", srcPath, err)
	}

	log.Debug("Stored %s at %s", d, path)
	return path, d, nil
}

// ErrDigestMismatch is returned by DownloadFile when the downloaded bytes
// do not hash to hexHash, or their length does not equal size.
type ErrDigestMismatch struct {
	Expected digest.Digest
	Got      digest.Digest
	Size     int64
	GotSize  int64
}

func (e *ErrDigestMismatch) Error() string {
	if e.GotSize != e.Size {
		return fmt.Sprintf("hashcache: downloaded %d bytes, expected %d", e.GotSize, e.Size)
	}
	return fmt.Sprintf("hashcache: downloaded content hashes to %s, expected %s", e.Got, e.Expected)
}

// DownloadFile streams body into a temp file in d's shard directory,
// verifies it against (d, size), and renames it into place. The verified
// file is also copied to destPath if given. On any mismatch the temp file
// is discarded and the canonical path is left untouched.
func DownloadFile(root string, d digest.Digest, size int64, body io.Reader, destPath string) (string, error) {
	dir := shardDir(root, d)
	tmpName := d.Hex + ".tmp-" + uuid.NewString()

	countingHash, wrapped := newHashingReader(body, d.Algorithm)
	path, err := fsutil.WriteFileAtomic(wrapped, dir, tmpName, fsutil.FilePermissions)
	if err != nil {
		return "", fmt.Errorf("hashcache: downloading %s: %w", d, err)
	}

	got := countingHash.digest()
	if got.Hex != d.Hex || countingHash.n != size {
		os.Remove(path)
		return "", &ErrDigestMismatch{Expected: d, Got: got, Size: size, GotSize: countingHash.n}
	}

	dest := EntryPath(root, d)
	if fsutil.FileExists(dest) {
		os.Remove(path)
	} else if err := os.Rename(path, dest); err != nil {
		if !fsutil.FileExists(dest) {
			os.Remove(path)
			return "", fmt.Errorf("hashcache: placing downloaded %s: %w", dest, err)
		}
		os.Remove(path)
	}

	if destPath != "" {
		if err := fsutil.CopyFile(dest, destPath); err != nil {
			return "", fmt.Errorf("hashcache: copying %s to %s: %w", dest, destPath, err)
		}
	}
	return dest, nil
}
