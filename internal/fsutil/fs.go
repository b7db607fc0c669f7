// Package fsutil provides small filesystem helpers shared by the cache,
// digest and manifest packages: existence checks, directory creation and
// atomic file placement via write-temp-then-rename.
package fsutil

import (
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gopkg.in/op/go-logging.v1"
)

var log = logging.MustGetLogger("fsutil")

// DirPermissions are the permission bits applied to created directories.
const DirPermissions = os.ModeDir | 0775

// FilePermissions are the default permission bits applied to created files.
const FilePermissions = 0664

// EnsureDir ensures the directory containing filename exists.
func EnsureDir(filename string) error {
	return os.MkdirAll(filepath.Dir(filename), DirPermissions)
}

// PathExists returns true if the given path exists, as a file or directory.
func PathExists(filename string) bool {
	_, err := os.Lstat(filename)
	return err == nil
}

// FileExists returns true if the given path exists and is a regular file.
func FileExists(filename string) bool {
	info, err := os.Lstat(filename)
	return err == nil && info.Mode().IsRegular()
}

// IsDirectory returns true if the given path exists and is a directory.
func IsDirectory(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// WriteFileAtomic writes the contents of r to a temporary file in dir, then
// renames it into place as filepath.Join(dir, name). The temp file lives in
// the same directory as its final target so the rename is always on a
// single filesystem and therefore atomic; on success it returns the final
// path. The temp file is removed on every failure path.
func WriteFileAtomic(r io.Reader, dir, name string, mode os.FileMode) (string, error) {
	if err := os.MkdirAll(dir, DirPermissions); err != nil {
		return "", err
	}
	if mode == 0 {
		mode = FilePermissions
	}
	tmpName := filepath.Join(dir, name+".tmp-"+uuid.NewString())
	f, err := os.OpenFile(tmpName, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmpName)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpName)
		return "", err
	}
	dest := filepath.Join(dir, name)
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return "", err
	}
	return dest, nil
}

// CopyFile copies the contents of from to the fixed destination path to,
// creating parent directories as needed. It does not attempt the
// temp-then-rename dance of WriteFileAtomic since the destination here is
// caller-chosen and not part of the content-addressed namespace.
func CopyFile(from, to string) error {
	src, err := os.Open(from)
	if err != nil {
		return err
	}
	defer src.Close()
	if err := EnsureDir(to); err != nil {
		return err
	}
	dst, err := os.OpenFile(to, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, FilePermissions)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}
