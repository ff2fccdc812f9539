package fop

import (
	"context"
)

// sectorBytes is the unit of the kernel's per-device sector counters,
// whatever the logical sector size of the device.
const sectorBytes = 512

// StorageInfo describes the block device behind a target directory,
// captured once when a job starts.
type StorageInfo struct {
	// DevicePath is the sysfs node of the device, /sys/dev/block/M:m.
	DevicePath        string
	MountPoint        string
	FSType            string
	Dev               uint64
	LogicalSectorSize int64
	Removable         bool
	// StartSectorsWritten is the device counter at capture time.
	StartSectorsWritten int64
}

// StorageResolver answers questions about local storage devices.
type StorageResolver interface {
	// Resolve maps a local path to its device.
	Resolve(ctx context.Context, path string) (*StorageInfo, error)
	// FreeBytes returns the space available to unprivileged writers on the
	// filesystem holding path.
	FreeBytes(path string) (int64, error)
	// SectorsWritten returns the current device write counter.
	SectorsWritten(info *StorageInfo) (int64, error)
	// TaskWriteBytes returns the bytes written so far by OS thread tid of
	// this process.
	TaskWriteBytes(tid int) (int64, error)
	// Sync flushes the filesystem holding path to its device.
	Sync(path string) error
}

// SpaceReporter is implemented by non-local backends that know their free
// space.
type SpaceReporter interface {
	FreeBytes(ctx context.Context, u URL) (int64, error)
}

// countWriteType selects where the written-bytes estimate comes from.
type countWriteType int

const (
	countBySize countWriteType = iota
	countByTask
	countBySectors
)

func (t countWriteType) String() string {
	switch t {
	case countByTask:
		return "task-io"
	case countBySectors:
		return "device-sectors"
	}
	return "size"
}

// writeAccountant turns kernel I/O counters into the written-bytes
// estimate. Every failure degrades to logical sizes.
type writeAccountant struct {
	kind      countWriteType
	resolver  StorageResolver
	info      *StorageInfo
	tid       int
	startTask int64
	counters  *Counters
}

func (a *writeAccountant) begin() {
	if a.kind != countByTask {
		return
	}
	start, err := a.resolver.TaskWriteBytes(a.tid)
	if err != nil {
		a.kind = countBySize
		return
	}
	a.startTask = start
}

// sample refreshes counters.writtenBytes. It may run on any goroutine.
func (a *writeAccountant) sample() {
	switch a.kind {
	case countByTask:
		if cur, err := a.resolver.TaskWriteBytes(a.tid); err == nil {
			a.counters.setWritten(cur - a.startTask)
			return
		}
	case countBySectors:
		if cur, err := a.resolver.SectorsWritten(a.info); err == nil {
			a.counters.setWritten((cur - a.info.StartSectorsWritten) * sectorBytes)
			return
		}
	}
	a.counters.setWritten(a.counters.queuedBytes.Load())
}
