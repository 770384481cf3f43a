//go:build !linux && !darwin

package usecase

import "errors"

// diskFreeBytes is unsupported here; pressure checks log and skip.
func diskFreeBytes(path string) (int64, error) {
	return 0, errors.New("disk space check not supported on this platform")
}
