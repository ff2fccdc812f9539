package testutil

import (
	"context"
	"fmt"
	"sync"

	"fop-go/internal/fop"
)

// FakeStorage is a fop.StorageResolver with settable answers. Free space
// is unlimited until SetFree is called.
type FakeStorage struct {
	mu        sync.Mutex
	free      int64
	freeSet   bool
	removable bool
	sectors   int64
	taskBytes int64
	syncs     []string
}

func NewFakeStorage() *FakeStorage { return &FakeStorage{} }

func (s *FakeStorage) SetFree(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.free, s.freeSet = n, true
}

// SetRemovable makes Resolve report a removable device.
func (s *FakeStorage) SetRemovable(removable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removable = removable
}

// AddSectors advances the device write counter.
func (s *FakeStorage) AddSectors(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sectors += n
}

// Syncs returns the paths passed to Sync.
func (s *FakeStorage) Syncs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.syncs...)
}

func (s *FakeStorage) Resolve(ctx context.Context, path string) (*fop.StorageInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &fop.StorageInfo{
		DevicePath:          "/sys/dev/block/8:1",
		MountPoint:          "/",
		FSType:              "ext4",
		LogicalSectorSize:   512,
		Removable:           s.removable,
		StartSectorsWritten: s.sectors,
	}, nil
}

func (s *FakeStorage) FreeBytes(path string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.freeSet {
		return 1 << 62, nil
	}
	return s.free, nil
}

func (s *FakeStorage) SectorsWritten(info *fop.StorageInfo) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sectors, nil
}

func (s *FakeStorage) TaskWriteBytes(tid int) (int64, error) {
	return 0, fmt.Errorf("%w: task io in tests", fop.ErrNotSupported)
}

func (s *FakeStorage) Sync(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncs = append(s.syncs, path)
	return nil
}

var _ fop.StorageResolver = (*FakeStorage)(nil)
