package diagnostics

import (
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemInfo is a point-in-time view of host and runtime resource use
type SystemInfo struct {
	Time          time.Time `json:"time"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	SwapPercent   float64   `json:"swap_percent"`
	Goroutines    int       `json:"goroutines"`
	HeapAllocMiB  uint64    `json:"heap_alloc_mib"`
	SysMiB        uint64    `json:"sys_mib"`
	NumGC         uint32    `json:"num_gc"`
}

// CaptureSystemInfo samples host CPU and memory through gopsutil and the Go
// runtime statistics. Host values that cannot be read are left zero.
func CaptureSystemInfo() SystemInfo {
	info := SystemInfo{
		Time:       time.Now(),
		Goroutines: runtime.NumGoroutine(),
	}

	// interval 0 compares against the previous call
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		info.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		info.MemoryPercent = vm.UsedPercent
	}
	if sw, err := mem.SwapMemory(); err == nil {
		info.SwapPercent = sw.UsedPercent
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	info.HeapAllocMiB = bToMb(m.Alloc)
	info.SysMiB = bToMb(m.Sys)
	info.NumGC = m.NumGC
	return info
}

func bToMb(b uint64) uint64 {
	return b / 1024 / 1024
}
