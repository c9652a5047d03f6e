package runner

import (
	"github.com/oriys/evalgw/internal/transport"
	"github.com/shirou/gopsutil/v3/process"
)

// ephemeralPort binds to port 0 on loopback and releases it immediately,
// mirroring the original EngineRunner.find_port classmethod.
func ephemeralPort() (int, error) {
	return transport.FreePort()
}

// rssOf returns the resident set size for pid, or 0 if the process
// cannot be inspected (e.g. it exited between readiness and this call).
func rssOf(pid int) uint64 {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return 0
	}
	mem, err := proc.MemoryInfo()
	if err != nil || mem == nil {
		return 0
	}
	return mem.RSS
}
