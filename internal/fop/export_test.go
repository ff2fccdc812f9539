package fop

import (
	"os"
	"testing"
)

// MapCopyWindow is the window copier used by big local copies.
var MapCopyWindow = mapCopyWindow

// SetMapWindow replaces the window copier until the test ends.
func SetMapWindow(t *testing.T, f func(dst, src *os.File, off int64, n int) error) {
	t.Helper()
	old := mapWindow
	mapWindow = f
	t.Cleanup(func() { mapWindow = old })
}
