//go:build !linux

package backends

import "os"

// timestampsOf falls back to the modification time where the platform
// stat structure is not inspected.
func timestampsOf(info os.FileInfo) Timestamps {
	mtime := info.ModTime().UnixNano()

	return Timestamps{Mtime: mtime, Ctime: mtime, Atime: mtime}
}
