// Package kachery is a client library for a content-addressed file store:
// files and directories are named by their digest, optionally backed by a
// remote server reachable over a small signed HTTP protocol.
package kachery

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/op/go-logging.v1"

	"github.com/rly/kachery/config"
	"github.com/rly/kachery/contenturl"
	"github.com/rly/kachery/digest"
	"github.com/rly/kachery/hashcache"
	"github.com/rly/kachery/internal/fsutil"
	"github.com/rly/kachery/manifest"
	"github.com/rly/kachery/transport"
)

var log = logging.MustGetLogger("kachery")

// SetConfig replaces the process-wide configuration.
func SetConfig(c config.Config) { config.Set(c) }

// GetConfig returns a snapshot of the process-wide configuration.
func GetConfig() config.Config { return config.Get() }

func cacheRoot() (string, error) {
	return hashcache.DefaultRoot()
}

// LoadFile resolves path (a content URL or a plain local path) to a local
// file path, consulting the cache and, if allowed, the remote. It returns
// (path, false) when the file cannot be found — a miss is not an error.
// If dest is non-empty, the resolved file is also copied there and dest is
// what's returned as the path.
func LoadFile(path, dest string, opts ...config.Option) (string, bool, error) {
	cfg := config.Resolve(opts...)

	if !contenturl.IsHashURL(path) {
		if !fsutil.FileExists(path) {
			return "", false, nil
		}
		if dest != "" {
			if err := fsutil.CopyFile(path, dest); err != nil {
				return "", false, err
			}
			return dest, true, nil
		}
		return path, true, nil
	}

	u, err := contenturl.Parse(path)
	if err != nil {
		return "", false, err
	}

	if !cfg.UseRemoteOnly {
		local, _, err := findFileLocally(u, cfg)
		if err != nil {
			return "", false, err
		}
		if local != "" {
			if dest != "" {
				if err := fsutil.CopyFile(local, dest); err != nil {
					return "", false, err
				}
				return dest, true, nil
			}
			return local, true, nil
		}
	}

	if !cfg.UseRemote && !cfg.UseRemoteOnly {
		return "", false, nil
	}

	hash, algorithm, found, err := determineFileHashFromURL(u, cfg)
	if err != nil {
		return "", false, err
	}
	if !found {
		return "", false, nil
	}

	result, err := transport.Check(cfg, algorithm, hash)
	if err != nil {
		return "", false, err
	}
	if !result.Found {
		return "", false, nil
	}
	log.Debug("Downloading %s:%s from remote", algorithm, hash)

	root, err := cacheRoot()
	if err != nil {
		return "", false, err
	}
	body, err := transport.Download(result.DownloadURL)
	if err != nil {
		return "", false, err
	}
	defer body.Close()

	path2, err := hashcache.DownloadFile(root, digest.Digest{Algorithm: algorithm, Hex: hash}, result.Size, body, dest)
	if err != nil {
		return "", false, err
	}
	if dest != "" {
		return dest, true, nil
	}
	return path2, true, nil
}

// LoadText is LoadFile followed by reading the resolved file as text.
func LoadText(path string, opts ...config.Option) (string, bool, error) {
	resolved, found, err := LoadFile(path, "", opts...)
	if err != nil || !found {
		return "", found, err
	}
	b, err := os.ReadFile(resolved)
	if err != nil {
		return "", false, err
	}
	return string(b), true, nil
}

// LoadObject is LoadFile followed by JSON-decoding the resolved file into v.
func LoadObject(path string, v interface{}, opts ...config.Option) (bool, error) {
	resolved, found, err := LoadFile(path, "", opts...)
	if err != nil || !found {
		return found, err
	}
	b, err := os.ReadFile(resolved)
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, fmt.Errorf("kachery: decoding %s: %w", path, err)
	}
	return true, nil
}

// FileInfo is the result of GetFileInfo: a size plus whichever digest was
// available, and either a local path or a remote URL (never both).
type FileInfo struct {
	Path string
	URL  string
	Size int64
	Hash digest.Digest
}

// GetFileInfo returns size and digest information for a content URL or
// local path, without downloading the file when only its remote location
// is known.
func GetFileInfo(path string, opts ...config.Option) (FileInfo, bool, error) {
	cfg := config.Resolve(opts...)

	if !contenturl.IsHashURL(path) {
		if !fsutil.FileExists(path) {
			return FileInfo{}, false, nil
		}
		d, err := digest.ComputeFileHash(path, cfg.Algorithm)
		if err != nil {
			return FileInfo{}, false, err
		}
		info, err := os.Stat(path)
		if err != nil {
			return FileInfo{}, false, err
		}
		return FileInfo{Path: path, Size: info.Size(), Hash: d}, true, nil
	}

	u, err := contenturl.Parse(path)
	if err != nil {
		return FileInfo{}, false, err
	}

	if !cfg.UseRemoteOnly {
		local, d, err := findFileLocally(u, cfg)
		if err != nil {
			return FileInfo{}, false, err
		}
		if local != "" {
			info, err := os.Stat(local)
			if err != nil {
				return FileInfo{}, false, err
			}
			return FileInfo{Path: local, Size: info.Size(), Hash: d}, true, nil
		}
	}

	if !cfg.UseRemote && !cfg.UseRemoteOnly {
		return FileInfo{}, false, nil
	}

	hash, algorithm, found, err := determineFileHashFromURL(u, cfg)
	if err != nil || !found {
		return FileInfo{}, found, err
	}
	result, err := transport.Check(cfg, algorithm, hash)
	if err != nil {
		return FileInfo{}, false, err
	}
	if !result.Found {
		return FileInfo{}, false, nil
	}
	return FileInfo{URL: result.DownloadURL, Size: result.Size, Hash: digest.Digest{Algorithm: algorithm, Hex: hash}}, true, nil
}

// StoreFile digests path, places it in the local cache, optionally uploads
// it remotely, and returns its content URL. basename defaults to path's
// own base name.
func StoreFile(path, basename string, gitAnnexMode bool, opts ...config.Option) (string, error) {
	cfg := config.Resolve(opts...)
	if basename == "" {
		basename = filepath.Base(path)
	}

	d, err := digest.ComputeFileHash(path, cfg.Algorithm)
	if err != nil {
		return "", fmt.Errorf("kachery: hashing %s: %w", path, err)
	}

	if !cfg.UseRemoteOnly {
		root, err := cacheRoot()
		if err != nil {
			return "", err
		}
		if _, _, err := hashcache.CopyFileToCache(root, path, cfg.Algorithm); err != nil {
			return "", fmt.Errorf("kachery: storing %s locally: %w", path, err)
		}
	}

	if (cfg.UseRemote || cfg.UseRemoteOnly) && !gitAnnexMode {
		info, err := os.Stat(path)
		if err != nil {
			return "", err
		}
		if err := transport.Upload(cfg, d.Algorithm, d.Hex, info.Size(), func() (io.ReadCloser, error) {
			return os.Open(path)
		}); err != nil {
			return "", err
		}
	}

	return fmt.Sprintf("%s://%s/%s", d.Algorithm, d.Hex, basename), nil
}

// StoreText writes text to a temp file and delegates to StoreFile.
func StoreText(text, basename string, opts ...config.Option) (string, error) {
	if basename == "" {
		basename = "file.txt"
	}
	f, err := os.CreateTemp("", "kachery-store-text-")
	if err != nil {
		return "", err
	}
	defer os.Remove(f.Name())
	if _, err := f.WriteString(text); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return StoreFile(f.Name(), basename, false, opts...)
}

// StoreObject JSON-encodes v with encoding/json (compact; map keys sorted,
// struct fields in declaration order) and delegates to StoreText.
func StoreObject(v interface{}, basename string, opts ...config.Option) (string, error) {
	if basename == "" {
		basename = "file.json"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return StoreText(string(b), basename, opts...)
}

// StoreDir builds a full recursive manifest of dirPath (digesting and
// ingesting every regular file into the cache as it goes), stores the
// manifest itself as a JSON blob, and returns its directory URL.
func StoreDir(dirPath, label string, gitAnnexMode bool, opts ...config.Option) (string, error) {
	cfg := config.Resolve(opts...)
	if label == "" {
		label = filepath.Base(dirPath)
	}

	root, err := cacheRoot()
	if err != nil {
		return "", err
	}

	m, err := manifest.Build(dirPath, manifest.BuildOptions{
		Algorithm:    cfg.Algorithm,
		GitAnnexMode: gitAnnexMode,
		StoreBlob: func(filePath string, _ digest.Digest) error {
			_, _, err := hashcache.CopyFileToCache(root, filePath, cfg.Algorithm)
			return err
		},
	})
	if err != nil {
		return "", fmt.Errorf("kachery: building manifest for %s: %w", dirPath, err)
	}

	manifestURL, err := StoreObject(m, "", opts...)
	if err != nil {
		return "", err
	}
	mu, err := contenturl.Parse(manifestURL)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%sdir://%s.%s", mu.Algorithm, mu.Hex, label), nil
}

// ReadDir resolves a manifest, either from a content URL (loading and
// walking it) or from a local directory (delegating to the manifest
// builder without ingesting files into the cache). When recursive is
// false, sub-directories are flattened to empty placeholders.
func ReadDir(path string, recursive, gitAnnexMode bool, opts ...config.Option) (*manifest.Manifest, bool, error) {
	cfg := config.Resolve(opts...)

	if !contenturl.IsHashURL(path) {
		m, err := manifest.Build(path, manifest.BuildOptions{Algorithm: cfg.Algorithm, GitAnnexMode: gitAnnexMode})
		if err != nil {
			return nil, false, err
		}
		if !recursive {
			flatten(&m)
		}
		return &m, true, nil
	}

	u, err := contenturl.Parse(path)
	if err != nil {
		return nil, false, err
	}
	if !u.Dir {
		return nil, false, fmt.Errorf("kachery: not a directory: %s", path)
	}

	var root manifest.Manifest
	found, err := LoadObject(u.ManifestURL().String(), &root, opts...)
	if err != nil || !found {
		return nil, found, err
	}

	result, err := manifest.Resolve(root, u.SubPath)
	if err != nil {
		return nil, false, err
	}
	if result.Dir == nil {
		if result.File != nil {
			return nil, false, fmt.Errorf("kachery: not a directory: %s", path)
		}
		return nil, false, nil
	}
	if !recursive {
		flatten(result.Dir)
	}
	return result.Dir, true, nil
}

func flatten(m *manifest.Manifest) {
	for name := range m.Dirs {
		m.Dirs[name] = manifest.Manifest{Files: map[string]manifest.FileEntry{}, Dirs: map[string]manifest.Manifest{}}
	}
}

// findFileLocally resolves a hash URL to a local cache path, if present.
func findFileLocally(u contenturl.ContentURL, cfg config.Config) (string, digest.Digest, error) {
	hash, algorithm, found, err := determineFileHashFromURL(u, cfg)
	if err != nil || !found {
		return "", digest.Digest{}, err
	}
	d := digest.Digest{Algorithm: algorithm, Hex: hash}
	root, err := cacheRoot()
	if err != nil {
		return "", digest.Digest{}, err
	}
	if path, ok := hashcache.FindFile(root, d); ok {
		return path, d, nil
	}
	return "", digest.Digest{}, nil
}

// determineFileHashFromURL resolves u to a concrete (algorithm, hash) leaf
// digest, loading and walking the nested manifest for a dir URL. Per-call
// config overrides are threaded through explicitly so they survive this
// nested load, rather than relying on the process-wide singleton.
func determineFileHashFromURL(u contenturl.ContentURL, cfg config.Config) (string, digest.Algorithm, bool, error) {
	if !u.Dir {
		return u.Hex, u.Algorithm, true, nil
	}

	var root manifest.Manifest
	found, err := LoadObject(u.ManifestURL().String(), &root, configOverridesOf(cfg)...)
	if err != nil || !found {
		return "", "", found, err
	}

	result, err := manifest.Resolve(root, u.SubPath)
	if err != nil {
		return "", "", false, err
	}
	if result.File == nil {
		return "", "", false, nil
	}
	d, ok := result.File.Digest()
	if !ok {
		return "", "", false, nil
	}
	return d.Hex, d.Algorithm, true, nil
}

func configOverridesOf(cfg config.Config) []config.Option {
	return []config.Option{
		config.WithAlgorithm(cfg.Algorithm),
		config.WithUseRemote(cfg.UseRemote),
		config.WithUseRemoteOnly(cfg.UseRemoteOnly),
	}
}
