package fsutil

import (
	"os"

	"github.com/pkg/xattr"
)

// SetXattr best-effort records name=value on filename. Failures (read-only
// filesystem, unsupported filesystem, permission) are swallowed; the xattr
// is a fast-path cache, never a source of truth.
func SetXattr(filename, name string, value []byte) {
	if err := xattr.LSet(filename, name, value); err != nil {
		log.Debug("Failed to set xattr %s on %s: %s", name, filename, err)
	}
}

// GetXattr reads name from filename, returning (value, true) if present.
// Any error, including the attribute simply not existing, yields (nil, false).
func GetXattr(filename, name string) ([]byte, bool) {
	b, err := xattr.LGet(filename, name)
	if err != nil {
		if xerr, ok := err.(*xattr.Error); ok && !os.IsNotExist(xerr.Err) && xerr.Err != xattr.ENOATTR {
			log.Debug("Failed to read xattr %s on %s: %s", name, filename, err)
		}
		return nil, false
	}
	return b, true
}
