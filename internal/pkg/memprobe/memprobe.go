// Package memprobe reads the memory footprint of the running process.
package memprobe

import (
	"runtime"

	"github.com/gabapcia/rpcparity/internal/record"

	"github.com/prometheus/procfs"
)

const bytesPerMB = 1024 * 1024

// Probe takes memory snapshots.
type Probe interface {
	Snapshot() record.MemorySnapshot
}

// rssFunc returns the resident set size in bytes.
type rssFunc func() (int, error)

type probe struct {
	rss rssFunc
}

var _ Probe = (*probe)(nil)

// procRSS reads the resident set size of the current process from /proc.
func procRSS() (int, error) {
	p, err := procfs.Self()
	if err != nil {
		return 0, err
	}

	stat, err := p.Stat()
	if err != nil {
		return 0, err
	}

	return stat.ResidentMemory(), nil
}

func toMB(b uint64) float64 {
	return float64(b) / bytesPerMB
}

// Snapshot reports heap usage from the Go runtime and the RSS of the process.
// RSS is zero where /proc is not available.
func (p *probe) Snapshot() record.MemorySnapshot {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	snap := record.MemorySnapshot{
		HeapUsedMB:  toMB(m.HeapAlloc),
		HeapTotalMB: toMB(m.HeapSys),
		ExternalMB:  toMB(m.Sys - m.HeapSys),
	}

	if rss, err := p.rss(); err == nil && rss > 0 {
		snap.RSSMB = toMB(uint64(rss))
	}

	return snap
}

// New returns a Probe reading RSS from procfs.
func New() *probe {
	return &probe{rss: procRSS}
}
