// Package performance samples the resource usage of the running process.
//
// classwiz materialises every per-particle table in memory, so the
// pipeline samples the process after accumulation and compares the
// estimated table size with the memory the host has available.
package performance

import (
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// ResourceUsage contains resource usage information
type ResourceUsage struct {
	CPUPercent            float64 `json:"cpu_percent" yaml:"cpu_percent"`
	MemoryRSS             uint64  `json:"memory_rss" yaml:"memory_rss"`
	HeapAlloc             uint64  `json:"heap_alloc" yaml:"heap_alloc"`
	SystemMemoryAvailable uint64  `json:"system_memory_available" yaml:"system_memory_available"`
}

// ResourceMonitor monitors the current process.
type ResourceMonitor struct {
	process      *process.Process
	startCPUTime float64
	startTime    time.Time
}

// NewResourceMonitor creates a resource monitor. Process statistics are
// omitted on platforms gopsutil cannot inspect.
func NewResourceMonitor() *ResourceMonitor {
	rm := &ResourceMonitor{startTime: time.Now()}
	proc, err := process.NewProcess(int32(os.Getpid())) //nolint:gosec // G115: pids fit in int32
	if err != nil {
		return rm
	}
	rm.process = proc
	if cpuTime, err := proc.Times(); err == nil {
		rm.startCPUTime = cpuTime.Total()
	}
	return rm
}

// Usage returns the current resource usage.
func (rm *ResourceMonitor) Usage() ResourceUsage {
	var usage ResourceUsage

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	usage.HeapAlloc = memStats.HeapAlloc

	if rm.process != nil {
		if cpuTime, err := rm.process.Times(); err == nil {
			if elapsed := time.Since(rm.startTime).Seconds(); elapsed > 0 {
				usage.CPUPercent = ((cpuTime.Total() - rm.startCPUTime) / elapsed) * 100
			}
		}
		if memInfo, err := rm.process.MemoryInfo(); err == nil {
			usage.MemoryRSS = memInfo.RSS
		}
	}

	if vmStat, err := mem.VirtualMemory(); err == nil {
		usage.SystemMemoryAvailable = vmStat.Available
	}
	return usage
}

// TableBytes estimates the memory held by the accumulated tables of a run
// with the given number of particles, iterations and captured fields.
func TableBytes(particles, iterations, fields int) uint64 {
	const word = 8
	perParticle := iterations*word + fields*word + 4*word
	return uint64(particles) * uint64(perParticle) //nolint:gosec // G115: sizes are non-negative
}

// Fits reports whether need bytes fit in the available system memory.
// Unknown availability always fits.
func (u ResourceUsage) Fits(need uint64) bool {
	return u.SystemMemoryAvailable == 0 || need <= u.SystemMemoryAvailable
}
