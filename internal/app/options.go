package app

import (
	"fmt"

	"fop-go/internal/config"
	"fop-go/internal/fop"
)

// EngineOptions turns the engine and enumerator sections of cfg into
// engine options. Unset values keep the engine defaults.
func EngineOptions(cfg *config.Config) (fop.Options, error) {
	o := fop.DefaultOptions()
	e := cfg.Engine

	if e.BufferSize > 0 {
		o.BufferSize = e.BufferSize
	}
	if e.BigFileThreshold > 0 {
		o.BigFileThreshold = e.BigFileThreshold
	}
	if e.MmapWindow > 0 {
		o.MmapWindow = e.MmapWindow
	}
	if e.SmallFileThreshold > 0 {
		o.SmallFileThreshold = e.SmallFileThreshold
	}
	if e.Workers > 0 {
		o.Workers = e.Workers
	}
	if e.RetryCount > 0 {
		o.RetryCount = e.RetryCount
	}
	if e.RetryWait.Duration > 0 {
		o.RetryWait = e.RetryWait.Duration
	}
	if e.SyncEvery > 0 {
		o.SyncEvery = e.SyncEvery
	}
	if e.ProgressInterval.Duration > 0 {
		o.ProgressInterval = e.ProgressInterval.Duration
	}
	if e.Reflink != nil {
		o.Reflink = *e.Reflink
	}

	policy, err := fop.ParsePolicy(e.DefaultPolicy)
	if err != nil {
		return fop.Options{}, fmt.Errorf("engine.default_policy: %w", err)
	}
	o.Policy = policy

	network, err := fop.NewNetworkPolicy(cfg.Enumerator.NetworkPatterns, cfg.Enumerator.NetworkTimeout.Duration)
	if err != nil {
		return fop.Options{}, fmt.Errorf("enumerator: %w", err)
	}
	o.Network = network
	return o, nil
}
