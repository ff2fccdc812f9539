//go:build !linux

package fs

import (
	"io/fs"

	"fop-go/internal/fop"
)

// StatFromInfo converts a FileInfo.
func StatFromInfo(info fs.FileInfo) *fop.Stat {
	return &fop.Stat{
		Name:    info.Name(),
		Size:    info.Size(),
		Mode:    info.Mode(),
		ModTime: info.ModTime(),
	}
}
