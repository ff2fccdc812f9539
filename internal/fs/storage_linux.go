//go:build linux

package fs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/prometheus/procfs"
	"github.com/prometheus/procfs/blockdevice"
	"golang.org/x/sys/unix"

	"fop-go/internal/fop"
)

// Storage answers device questions from procfs and sysfs. Resolved devices
// are cached by mount point.
type Storage struct {
	proc    procfs.FS
	block   blockdevice.FS
	sysRoot string

	mu    sync.Mutex
	cache map[string]fop.StorageInfo
}

// NewStorage returns the resolver for this host, or nil when procfs or
// sysfs cannot be read.
func NewStorage() fop.StorageResolver {
	s, err := newStorage(procfs.DefaultMountPoint, "/sys")
	if err != nil {
		return nil
	}
	return s
}

func newStorage(procRoot, sysRoot string) (*Storage, error) {
	proc, err := procfs.NewFS(procRoot)
	if err != nil {
		return nil, fmt.Errorf("opening procfs: %w", err)
	}
	block, err := blockdevice.NewFS(procRoot, sysRoot)
	if err != nil {
		return nil, fmt.Errorf("opening sysfs: %w", err)
	}
	return &Storage{proc: proc, block: block, sysRoot: sysRoot, cache: make(map[string]fop.StorageInfo)}, nil
}

func (s *Storage) Resolve(ctx context.Context, path string) (*fop.StorageInfo, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	major, minor := unix.Major(uint64(st.Dev)), unix.Minor(uint64(st.Dev))

	self, err := s.proc.Self()
	if err != nil {
		return nil, fmt.Errorf("reading mount table: %w", err)
	}
	mounts, err := self.MountInfo()
	if err != nil {
		return nil, fmt.Errorf("reading mount table: %w", err)
	}
	mount, err := findMount(mounts, fmt.Sprintf("%d:%d", major, minor), path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	cached, ok := s.cache[mount.point]
	s.mu.Unlock()
	if !ok {
		cached = s.describe(mount, uint64(st.Dev), major, minor)
		s.mu.Lock()
		s.cache[mount.point] = cached
		s.mu.Unlock()
	}

	info := cached
	if info.DevicePath != "" {
		if sectors, err := s.SectorsWritten(&info); err == nil {
			info.StartSectorsWritten = sectors
		}
	}
	return &info, nil
}

// describe reads the static sysfs attributes of a device.
func (s *Storage) describe(m mountEntry, dev uint64, major, minor uint32) fop.StorageInfo {
	info := fop.StorageInfo{
		MountPoint:        m.point,
		FSType:            m.fsType,
		Dev:               dev,
		LogicalSectorSize: 512,
	}
	devPath := filepath.Join(s.sysRoot, "dev", "block", fmt.Sprintf("%d:%d", major, minor))
	if _, err := os.Stat(devPath); err != nil {
		// Virtual filesystems have no block device.
		return info
	}
	info.DevicePath = devPath

	// Partitions keep removable and queue attributes on their disk.
	disk := devPath
	if _, err := os.Stat(filepath.Join(devPath, "partition")); err == nil {
		if real, err := filepath.EvalSymlinks(devPath); err == nil {
			disk = filepath.Dir(real)
		}
	}
	if v, err := readInt(filepath.Join(disk, "removable")); err == nil {
		info.Removable = v == 1
	}
	if v, err := readInt(filepath.Join(disk, "queue", "logical_block_size")); err == nil && v > 0 {
		info.LogicalSectorSize = v
	}
	return info
}

func (s *Storage) FreeBytes(path string) (int64, error) {
	var sfs unix.Statfs_t
	if err := unix.Statfs(path, &sfs); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	return int64(sfs.Bavail) * int64(sfs.Bsize), nil
}

// SectorsWritten reads the write counter of the device from diskstats.
func (s *Storage) SectorsWritten(info *fop.StorageInfo) (int64, error) {
	if info == nil || info.DevicePath == "" {
		return 0, fop.ErrNotSupported
	}
	stats, err := s.block.ProcDiskstats()
	if err != nil {
		return 0, err
	}
	major, minor := unix.Major(info.Dev), unix.Minor(info.Dev)
	for _, d := range stats {
		if d.MajorNumber == major && d.MinorNumber == minor {
			return int64(d.WriteSectors), nil
		}
	}
	return 0, fmt.Errorf("device %d:%d not in diskstats", major, minor)
}

func (s *Storage) TaskWriteBytes(tid int) (int64, error) {
	self, err := s.proc.Self()
	if err != nil {
		return 0, err
	}
	task, err := self.Thread(tid)
	if err != nil {
		return 0, err
	}
	pio, err := task.IO()
	if err != nil {
		return 0, err
	}
	return int64(pio.WriteBytes), nil
}

func (s *Storage) Sync(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return unix.Syncfs(int(f.Fd()))
}

type mountEntry struct {
	point  string
	fsType string
}

// findMount picks the mount of device majmin that holds path. Bind mounts
// list one device several times; the deepest matching mount point wins.
func findMount(mounts []*procfs.MountInfo, majmin, path string) (mountEntry, error) {
	var best mountEntry
	for _, m := range mounts {
		if m.MajorMinorVer != majmin {
			continue
		}
		point := unescapeMount(m.MountPoint)
		if !within(path, point) || len(point) < len(best.point) {
			continue
		}
		best = mountEntry{point: point, fsType: m.FSType}
	}
	if best.point == "" {
		return mountEntry{}, fmt.Errorf("no mount for device %s holding %s", majmin, path)
	}
	return best, nil
}

func within(path, point string) bool {
	if point == "/" {
		return true
	}
	return path == point || strings.HasPrefix(path, point+"/")
}

// unescapeMount decodes the octal escapes mountinfo uses for blanks.
func unescapeMount(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) {
			if v, err := strconv.ParseUint(s[i+1:i+4], 8, 8); err == nil {
				b.WriteByte(byte(v))
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func readInt(path string) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
}
