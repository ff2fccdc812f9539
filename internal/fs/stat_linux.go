//go:build linux

package fs

import (
	"io/fs"
	"syscall"
	"time"

	"fop-go/internal/fop"
)

// StatFromInfo converts a FileInfo, keeping the Unix stat data when it is
// available.
func StatFromInfo(info fs.FileInfo) *fop.Stat {
	st := &fop.Stat{
		Name:    info.Name(),
		Size:    info.Size(),
		Mode:    info.Mode(),
		ModTime: info.ModTime(),
	}
	sys, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return st
	}
	st.UID = sys.Uid
	st.GID = sys.Gid
	st.Dev = uint64(sys.Dev)
	st.Ino = sys.Ino
	st.Nlink = uint64(sys.Nlink)
	st.Blocks = int64(sys.Blocks)
	st.AccessTime = time.Unix(sys.Atim.Sec, sys.Atim.Nsec)
	return st
}
