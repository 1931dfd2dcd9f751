// Package metrics captures runtime and host measurements. Run numbers
// ride along on the autofill completion event so a slow extraction can
// be told apart from a starved worker.
package metrics

import (
	"runtime"
	"sync"
)

// SystemInfo holds static host facts captured once at startup
type SystemInfo struct {
	OS               string `json:"os"`
	OSVersion        string `json:"os_version"`
	Arch             string `json:"arch"`
	Hostname         string `json:"hostname"`
	CPULogical       int    `json:"cpu_logical"`
	TotalMemoryMB    uint64 `json:"total_memory_mb"`
	GoVersion        string `json:"go_version"`
	InContainer      bool   `json:"in_container"`
	ContainerRuntime string `json:"container_runtime,omitempty"`
}

var (
	systemInfo     *SystemInfo
	systemInfoOnce sync.Once
)

// GetSystemInfo returns cached host information (captured once)
func GetSystemInfo() *SystemInfo {
	systemInfoOnce.Do(func() {
		systemInfo = captureSystemInfo()
	})
	return systemInfo
}

// ToMap flattens SystemInfo for logging and event payloads
func (si *SystemInfo) ToMap() map[string]any {
	m := map[string]any{
		"os":              si.OS,
		"os_version":      si.OSVersion,
		"arch":            si.Arch,
		"hostname":        si.Hostname,
		"cpu_logical":     si.CPULogical,
		"total_memory_mb": si.TotalMemoryMB,
		"go_version":      si.GoVersion,
		"in_container":    si.InContainer,
	}
	if si.ContainerRuntime != "" {
		m["container_runtime"] = si.ContainerRuntime
	}
	return m
}

// RunMetrics tracks memory and goroutine movement across a single
// autofill run
type RunMetrics struct {
	MemoryStartMB  float64
	MemoryPeakMB   float64
	MemoryEndMB    float64
	GoroutineStart int
	GoroutineEnd   int
}

// CaptureStart snapshots the runtime at the beginning of a run
func CaptureStart() *RunMetrics {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return &RunMetrics{
		MemoryStartMB:  float64(m.Alloc) / 1024 / 1024,
		GoroutineStart: runtime.NumGoroutine(),
	}
}

// Finalize closes out the capture at the end of a run
func (rm *RunMetrics) Finalize() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	rm.MemoryEndMB = float64(m.Alloc) / 1024 / 1024
	rm.GoroutineEnd = runtime.NumGoroutine()

	// Peak is the higher of the two endpoints; runs are short enough
	// that nothing samples in between.
	if rm.MemoryEndMB > rm.MemoryStartMB {
		rm.MemoryPeakMB = rm.MemoryEndMB
	} else {
		rm.MemoryPeakMB = rm.MemoryStartMB
	}
}

// ToMap flattens RunMetrics for the completion payload
func (rm *RunMetrics) ToMap() map[string]any {
	return map[string]any{
		"memory_start_mb": rm.MemoryStartMB,
		"memory_peak_mb":  rm.MemoryPeakMB,
		"memory_end_mb":   rm.MemoryEndMB,
		"goroutine_start": rm.GoroutineStart,
		"goroutine_end":   rm.GoroutineEnd,
	}
}
