package fsutil

import (
	"os"
	"sort"

	"github.com/karrick/godirwalk"
)

// DirEntry describes one entry returned by ListDir: its base name and the
// mode bits needed to classify it (regular file, directory, symlink)
// without following the symlink or stat'ing its target.
type DirEntry struct {
	Name string
	Mode os.FileMode
}

// IsDir reports whether the entry is a directory.
func (e DirEntry) IsDir() bool { return e.Mode.IsDir() }

// IsSymlink reports whether the entry is a symlink.
func (e DirEntry) IsSymlink() bool { return e.Mode&os.ModeSymlink != 0 }

// IsRegular reports whether the entry is an ordinary file.
func (e DirEntry) IsRegular() bool { return e.Mode.IsRegular() }

// ListDir lists the immediate children of dir, sorted by name. It reports
// symlinks by their link mode bit without following them, so callers that
// need to inspect a symlink's target (the git-annex adapter) can do so
// before any recursive descent would otherwise happen.
func ListDir(dir string) ([]DirEntry, error) {
	dirents, err := godirwalk.ReadDirents(dir, nil)
	if err != nil {
		return nil, err
	}
	dirents.Sort()
	entries := make([]DirEntry, len(dirents))
	for i, d := range dirents {
		entries[i] = DirEntry{Name: d.Name(), Mode: d.ModeType()}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}
