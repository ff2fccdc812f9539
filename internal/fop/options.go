package fop

import "time"

// Options tune how workers copy.
type Options struct {
	// BufferSize bounds the read/write loop buffer.
	BufferSize int
	// BigFileThreshold is the size from which local files are copied
	// through memory maps.
	BigFileThreshold int64
	// MmapWindow is the size of each mapped window.
	MmapWindow int64
	// SmallFileThreshold is the size under which local files go to the
	// copy pool.
	SmallFileThreshold int64
	// Workers bounds the copy pool. One disables it.
	Workers    int
	RetryCount int
	RetryWait  time.Duration
	// SyncEvery flushes the target filesystem after this many bytes.
	SyncEvery        int64
	ProgressInterval time.Duration
	Reflink          bool
	Policy           Policy
	Network          NetworkPolicy
}

// DefaultOptions returns the settings used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		BufferSize:         1 << 20,
		BigFileThreshold:   100 << 20,
		MmapWindow:         64 << 20,
		SmallFileThreshold: 1 << 20,
		Workers:            4,
		RetryCount:         3,
		RetryWait:          500 * time.Millisecond,
		SyncEvery:          256 << 20,
		ProgressInterval:   500 * time.Millisecond,
		Reflink:            true,
		Policy:             PolicyFailFast,
		Network:            DefaultNetworkPolicy,
	}
}

// withDefaults fills unset fields from DefaultOptions.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.BufferSize <= 0 {
		o.BufferSize = d.BufferSize
	}
	if o.BigFileThreshold <= 0 {
		o.BigFileThreshold = d.BigFileThreshold
	}
	if o.MmapWindow <= 0 {
		o.MmapWindow = d.MmapWindow
	}
	if o.SmallFileThreshold < 0 {
		o.SmallFileThreshold = 0
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.RetryCount < 0 {
		o.RetryCount = 0
	}
	if o.ProgressInterval <= 0 {
		o.ProgressInterval = d.ProgressInterval
	}
	if o.Policy == (Policy{}) {
		o.Policy = d.Policy
	}
	if o.Network.Pattern == nil {
		o.Network = d.Network
	}
	return o
}
