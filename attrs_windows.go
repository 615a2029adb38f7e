//go:build windows

package jpk

import (
	"io/fs"
	"time"
)

// accessTime has no portable equivalent via os.FileInfo on Windows;
// callers fall back to ModTime for both mtime and atime.
func accessTime(info fs.FileInfo) (time.Time, bool) {
	return time.Time{}, false
}
