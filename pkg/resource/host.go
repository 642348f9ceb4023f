package resource

import (
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostInfo is the capacity of the submit host.
type HostInfo struct {
	CPUs     int    `json:"cpus"`
	MemoryMB uint64 `json:"memory_mb"`
}

// DetectHost reports logical CPUs and total memory. Detection failures fall
// back to runtime.NumCPU and 1GB.
func DetectHost() HostInfo {
	info := HostInfo{CPUs: runtime.NumCPU(), MemoryMB: 1024}
	if n, err := cpu.Counts(true); err == nil && n > 0 {
		info.CPUs = n
	}
	if v, err := mem.VirtualMemory(); err == nil {
		info.MemoryMB = v.Total / 1024 / 1024
	}
	return info
}
