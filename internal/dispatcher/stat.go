package dispatcher

import (
	"github.com/shirou/gopsutil/v3/process"

	"github.com/oriys/evalgw/internal/engine"
)

// statOf gathers the CPU/memory snapshot gopsutil exposes for pid,
// replacing the original's direct psutil.Process usage.
func statOf(pid int) (engine.Stat, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return engine.Stat{}, err
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		return engine.Stat{}, err
	}
	times, err := proc.Times()
	if err != nil {
		return engine.Stat{}, err
	}
	memPercent, err := proc.MemoryPercent()
	if err != nil {
		return engine.Stat{}, err
	}
	memInfo, err := proc.MemoryInfo()
	if err != nil {
		return engine.Stat{}, err
	}

	return engine.Stat{
		CPUPercent:    cpuPercent,
		UserCPUTime:   times.User,
		SystemCPUTime: times.System,
		MemoryPercent: memPercent,
		RSS:           memInfo.RSS,
		VMS:           memInfo.VMS,
	}, nil
}

func rssBytes(pid int) uint64 {
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
