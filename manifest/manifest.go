// Package manifest builds and walks the JSON directory manifests that give
// a filesystem directory tree a single content-addressed identity: the
// manifest blob's own digest is the directory's sha1dir/md5dir hash.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/op/go-logging.v1"

	"github.com/rly/kachery/digest"
	"github.com/rly/kachery/gitannex"
	"github.com/rly/kachery/internal/fsutil"
)

var log = logging.MustGetLogger("manifest")

// FileEntry is a leaf in a Manifest: the size of a file plus whichever
// digests were computed for it. Build sets exactly one of SHA1/MD5: the
// configured algorithm for an ordinary file, MD5 for a git-annex symlink.
// An entry decoded from JSON may carry both, or neither.
// Fields are declared in lexicographic order of their JSON tags
// (md5, sha1, size) so encoding/json's field-declaration-order struct
// output matches the sorted-key canonical form spec.md §4.4 requires;
// encoding/json only sorts map keys on its own, not struct fields.
type FileEntry struct {
	MD5  string `json:"md5,omitempty"`
	SHA1 string `json:"sha1,omitempty"`
	Size int64  `json:"size"`
}

// Digest returns the entry's preferred digest, sha1 taking priority over
// md5 when both are present (spec.md §4.4's resolve-order for mixed-digest
// trees).
func (e FileEntry) Digest() (digest.Digest, bool) {
	if e.SHA1 != "" {
		return digest.Digest{Algorithm: digest.SHA1, Hex: e.SHA1}, true
	}
	if e.MD5 != "" {
		return digest.Digest{Algorithm: digest.MD5, Hex: e.MD5}, true
	}
	return digest.Digest{}, false
}

// Manifest is the JSON-serialisable representation of one directory level.
// Both maps are keyed by entry name; encoding/json emits map keys in
// sorted order with no extra whitespace on its own. The two fields
// themselves are declared in lexicographic order of their JSON tags
// (dirs, files), since encoding/json does not sort struct fields the way
// it sorts map keys — together this gives the fully sorted-key canonical
// form the manifest's digest depends on being stable.
type Manifest struct {
	Dirs  map[string]Manifest  `json:"dirs"`
	Files map[string]FileEntry `json:"files"`
}

// Marshal renders m as canonical JSON.
func (m Manifest) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// Unmarshal decodes a Manifest from canonical JSON.
func Unmarshal(b []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// BuildOptions controls how Build computes and records file digests.
type BuildOptions struct {
	// Algorithm is the digest algorithm computed for ordinary files.
	// Defaults to digest.SHA1 when the zero value.
	Algorithm digest.Algorithm

	// StoreBlob, if set, is called with the path and digest of every regular
	// file as it is walked, so a caller (the orchestrator) can ingest each file
	// into the local cache in the same pass that builds the manifest.
	// Taking a callback here, rather than importing the cache package
	// directly, avoids a cyclic dependency between manifest and hashcache.
	StoreBlob func(path string, d digest.Digest) error

	// GitAnnexMode enables the git-annex fast path for symlinks: only when
	// set does Build inspect a symlink's target at all. With it unset,
	// symlinks are skipped entirely, matching the original's behaviour of
	// gating the git-annex branch on an explicit flag.
	GitAnnexMode bool
}

// Build walks root and returns its Manifest. Regular files are hashed with
// opts.Algorithm. When opts.GitAnnexMode is set, a symlink that resolves
// into a git-annex object store is recorded using the digest and size
// git-annex already computed, without reading the file at all; any other
// symlink (or any symlink at all when GitAnnexMode is unset) is skipped.
// Subdirectories recurse one fsutil.ListDir level at a time, matching the
// original's per-directory os.listdir walk.
func Build(root string, opts BuildOptions) (Manifest, error) {
	algorithm := opts.Algorithm
	if algorithm == "" {
		algorithm = digest.SHA1
	}

	entries, err := fsutil.ListDir(root)
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest: listing %s: %w", root, err)
	}

	m := Manifest{Files: map[string]FileEntry{}, Dirs: map[string]Manifest{}}
	for _, e := range entries {
		childPath := filepath.Join(root, e.Name)
		switch {
		case e.IsDir():
			sub, err := Build(childPath, opts)
			if err != nil {
				return Manifest{}, err
			}
			m.Dirs[e.Name] = sub

		case e.IsSymlink():
			if !opts.GitAnnexMode {
				log.Debug("Skipping symlink %s (git-annex mode disabled)", childPath)
				continue
			}
			target, err := os.Readlink(childPath)
			if err != nil {
				log.Debug("Failed to read symlink %s: %s", childPath, err)
				continue
			}
			realPath := target
			if !filepath.IsAbs(realPath) {
				realPath = filepath.Join(root, realPath)
			}
			if !gitannex.IsAnnexLink(realPath) {
				log.Debug("Skipping non-annex symlink %s -> %s", childPath, target)
				continue
			}
			info, err := gitannex.ParseLinkTarget(target)
			if err != nil {
				return Manifest{}, fmt.Errorf("manifest: %s: %w", childPath, err)
			}
			entry := FileEntry{Size: info.Size}
			switch info.Algorithm {
			case digest.MD5:
				entry.MD5 = info.Hex
			case digest.SHA1:
				entry.SHA1 = info.Hex
			}
			m.Files[e.Name] = entry

		case e.IsRegular():
			fi, err := os.Stat(childPath)
			if err != nil {
				return Manifest{}, fmt.Errorf("manifest: stat %s: %w", childPath, err)
			}
			d, err := digest.ComputeFileHash(childPath, algorithm)
			if err != nil {
				return Manifest{}, fmt.Errorf("manifest: hashing %s: %w", childPath, err)
			}
			entry := FileEntry{Size: fi.Size()}
			switch algorithm {
			case digest.MD5:
				entry.MD5 = d.Hex
			default:
				entry.SHA1 = d.Hex
			}
			m.Files[e.Name] = entry
			if opts.StoreBlob != nil {
				if err := opts.StoreBlob(childPath, d); err != nil {
					return Manifest{}, fmt.Errorf("manifest: storing %s: %w", childPath, err)
				}
			}

		default:
			log.Debug("Skipping special file %s", childPath)
		}
	}
	return m, nil
}

// ResolveResult is the outcome of walking a Manifest down a sub-path.
// Both fields are nil when subPath names nothing in the manifest.
type ResolveResult struct {
	// File is set when subPath names a leaf file.
	File *FileEntry
	// Dir is set when subPath names a directory (or subPath is empty).
	Dir *Manifest
}

// Resolve walks m following subPath component by component, entirely
// in-memory: it never performs I/O, since the caller has already loaded
// the single top-level manifest blob that m represents. Per spec.md §4.4:
// descending into "dirs" takes priority at each level; hitting a "files"
// entry before subPath is exhausted is an error ("not a directory"); a
// name matching neither map is absent, reported as a zero ResolveResult
// with a nil error rather than an error, so callers treat it as a miss
// (spec.md §7/§8) instead of a failure.
func Resolve(m Manifest, subPath []string) (ResolveResult, error) {
	if len(subPath) == 0 {
		mm := m
		return ResolveResult{Dir: &mm}, nil
	}

	name := subPath[0]
	rest := subPath[1:]

	if sub, ok := m.Dirs[name]; ok {
		return Resolve(sub, rest)
	}
	if file, ok := m.Files[name]; ok {
		if len(rest) > 0 {
			return ResolveResult{}, fmt.Errorf("manifest: %q is a file, not a directory", name)
		}
		f := file
		return ResolveResult{File: &f}, nil
	}
	return ResolveResult{}, nil
}
