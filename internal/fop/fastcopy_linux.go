//go:build linux

package fop

import (
	"errors"
	"fmt"
	"os"
	"runtime/debug"

	"golang.org/x/sys/unix"
)

func currentTID() int { return unix.Gettid() }

// cloneFile shares the extents of src with dst on filesystems that
// support it.
func cloneFile(dst, src *os.File) error {
	return unix.IoctlFileClone(int(dst.Fd()), int(src.Fd()))
}

func readAhead(f *os.File, size int64) {
	fd := int(f.Fd())
	_ = unix.Fadvise(fd, 0, size, unix.FADV_SEQUENTIAL)
	_ = unix.Fadvise(fd, 0, size, unix.FADV_WILLNEED)
}

// isSparse reports whether fewer blocks are allocated than size needs.
func isSparse(f *os.File, size int64) bool {
	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		return false
	}
	return st.Blocks*512 < size
}

// dataSegments lists the data ranges of f using SEEK_DATA and SEEK_HOLE.
func dataSegments(f *os.File, size int64) ([]segment, error) {
	fd := int(f.Fd())
	var segments []segment
	for off := int64(0); off < size; {
		data, err := unix.Seek(fd, off, unix.SEEK_DATA)
		if errors.Is(err, unix.ENXIO) {
			break
		}
		if err != nil {
			return nil, err
		}
		hole, err := unix.Seek(fd, data, unix.SEEK_HOLE)
		if err != nil {
			return nil, err
		}
		hole = min(hole, size)
		if hole > data {
			segments = append(segments, segment{off: data, len: hole - data})
		}
		off = hole
	}
	if _, err := f.Seek(0, 0); err != nil {
		return nil, err
	}
	return segments, nil
}

func preallocate(f *os.File, size int64) error {
	err := unix.Fallocate(int(f.Fd()), 0, 0, size)
	if errors.Is(err, unix.EOPNOTSUPP) || errors.Is(err, unix.ENOSYS) {
		return errMmapUnsupported
	}
	return err
}

// mapCopyWindow copies n bytes at off from src to dst through shared
// mappings. A fault while touching the pages, a truncated source or an I/O
// error on the device, comes back as an error.
func mapCopyWindow(dst, src *os.File, off int64, n int) (err error) {
	in, err := unix.Mmap(int(src.Fd()), off, n, unix.PROT_READ, unix.MAP_SHARED)
	if errors.Is(err, unix.ENODEV) {
		return errMmapUnsupported
	}
	if err != nil {
		return err
	}
	defer unix.Munmap(in)
	_ = unix.Madvise(in, unix.MADV_SEQUENTIAL)

	out, err := unix.Mmap(int(dst.Fd()), off, n, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if errors.Is(err, unix.ENODEV) {
		return errMmapUnsupported
	}
	if err != nil {
		return err
	}
	defer unix.Munmap(out)

	defer debug.SetPanicOnFault(debug.SetPanicOnFault(true))
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fault in mapped copy at offset %d: %v", off, r)
		}
	}()
	copy(out, in)
	return unix.Msync(out, unix.MS_ASYNC)
}
