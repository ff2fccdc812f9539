//go:build !linux

package fop

import (
	"os"
)

func currentTID() int { return 0 }

func cloneFile(dst, src *os.File) error { return ErrNotSupported }

func readAhead(f *os.File, size int64) {}

func isSparse(f *os.File, size int64) bool { return false }

func dataSegments(f *os.File, size int64) ([]segment, error) {
	return []segment{{off: 0, len: size}}, nil
}

func preallocate(f *os.File, size int64) error { return errMmapUnsupported }

func mapCopyWindow(dst, src *os.File, off int64, n int) error { return errMmapUnsupported }
