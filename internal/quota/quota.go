// Package quota enforces the per-user workspace byte limit. The check is
// advisory: concurrent growing writes may jointly overshoot by the smaller
// delta, which the platform accepts instead of a transactional byte ledger.
package quota

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

var ErrQuotaExceeded = errors.New("quota exceeded")

// DefaultBytes is the default and minimum per-user quota (50 MiB).
const DefaultBytes int64 = 50 * 1024 * 1024

// DirSize walks dir and sums regular file sizes. Unreadable entries are
// skipped, a missing directory counts as zero.
func DirSize(dir string) int64 {
	var total int64
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	return total
}

// Check validates a single-file write that would replace existingSize bytes
// with newSize bytes inside workdir. Only growing writes recompute the
// workspace total; shrinking or same-size writes always pass.
func Check(workdir string, existingSize, newSize, quotaBytes int64) error {
	delta := newSize - existingSize
	if delta <= 0 {
		return nil
	}
	if DirSize(workdir)+delta > quotaBytes {
		return ErrQuotaExceeded
	}
	return nil
}

// CheckIncoming validates an aggregate upload of incomingBytes new bytes
// against the current workspace total, before any byte is written.
func CheckIncoming(workdir string, incomingBytes, quotaBytes int64) error {
	if incomingBytes <= 0 {
		return nil
	}
	if DirSize(workdir)+incomingBytes > quotaBytes {
		return ErrQuotaExceeded
	}
	return nil
}

// FileSize returns the size of path, or zero when it does not exist.
func FileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
