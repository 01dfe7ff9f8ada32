// Package cpuspec sizes the graph worker pool from the CPU topology.
package cpuspec

import (
	"regexp"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"
	"github.com/shirou/gopsutil/v3/cpu"
)

// CPUSpec contains information about CPU specifications
type CPUSpec struct {
	BrandName        string
	LogicalCores     int
	PhysicalCores    int
	PerformanceCores int // 0 when the CPU is not a known hybrid design
}

// GetCPUSpec inspects the running CPU
func GetCPUSpec() CPUSpec {
	spec := CPUSpec{
		BrandName:        cpuid.CPU.BrandName,
		LogicalCores:     cpuid.CPU.LogicalCores,
		PhysicalCores:    cpuid.CPU.PhysicalCores,
		PerformanceCores: determinePerformanceCores(cpuid.CPU.BrandName),
	}
	// cpuid reports 0 on some virtualized and ARM hosts
	if spec.PhysicalCores <= 0 {
		if n, err := cpu.Counts(false); err == nil {
			spec.PhysicalCores = n
		}
	}
	if spec.LogicalCores <= 0 {
		if n, err := cpu.Counts(true); err == nil {
			spec.LogicalCores = n
		}
	}
	return spec
}

// WorkerCount returns the graph worker count. A positive request wins. Otherwise
// one worker per performance (or physical) core is used, minus one core left
// for the audio callback thread, never exceeding the CPUs available to the process.
func (c CPUSpec) WorkerCount(requested int) int {
	if requested > 0 {
		return requested
	}

	available := runtime.NumCPU()
	cores := c.PerformanceCores
	if cores <= 0 {
		cores = c.PhysicalCores
	}
	if cores <= 0 {
		cores = c.LogicalCores
	}
	if cores <= 0 || cores > available {
		cores = available
	}
	if cores > 1 {
		cores--
	}
	return cores
}

var (
	intelHybridRegex = regexp.MustCompile(`intel.*(?:core.*i[3579]-(1[234]\d)00|core.*ultra\s+([579])\s+(?:processor\s+)?(\d{3}))`)
	appleRegex       = regexp.MustCompile(`apple\s+(m[1-4](?:\s*(?:pro|max|ultra))?)`)
)

// P-core counts keyed by model prefix. Higher-binned variants share the prefix.
var intelPCores = map[string]int{
	"129": 8, "127": 8, "126": 6, "124": 6, "121": 4,
	"139": 8, "137": 8, "136": 6, "135": 6, "134": 6, "131": 4,
	"149": 8, "147": 8, "146": 6, "144": 6, "141": 4,
}

var intelUltraPCores = map[string]int{
	"285": 8, "265": 8, "255": 8, "235": 6, "225": 4,
}

var applePCores = map[string]int{
	"m1": 4, "m1 pro": 8, "m1 max": 8, "m1 ultra": 16,
	"m2": 4, "m2 pro": 8, "m2 max": 12, "m2 ultra": 24,
	"m3": 4, "m3 pro": 8, "m3 max": 12, "m3 ultra": 24,
	"m4": 6, "m4 pro": 8, "m4 max": 12,
}

func determinePerformanceCores(brandName string) int {
	brandName = strings.ToLower(brandName)

	if m := intelHybridRegex.FindStringSubmatch(brandName); len(m) > 1 {
		if m[1] != "" {
			return intelPCores[m[1]]
		}
		return intelUltraPCores[m[3]]
	}

	if m := appleRegex.FindStringSubmatch(brandName); len(m) > 1 {
		chip := strings.Join(strings.Fields(m[1]), " ")
		return applePCores[chip]
	}

	return 0
}
