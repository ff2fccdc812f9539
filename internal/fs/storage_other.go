//go:build !linux

package fs

import "fop-go/internal/fop"

// NewStorage returns nil on hosts without procfs and sysfs. Jobs then
// skip space checks and count written bytes from sizes.
func NewStorage() fop.StorageResolver {
	return nil
}
