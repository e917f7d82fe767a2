// Package governor sizes the worker pool from host CPU and memory.
package governor

import (
	"fmt"
	"math"
	"runtime"

	"github.com/shirou/gopsutil/v4/mem"
)

// Resources describes what the host offers.
type Resources struct {
	CPUs     int
	MemoryMB int
}

// Settings are the sizing knobs.
type Settings struct {
	// Override, when positive, is used as-is (still floored at 1).
	Override        int
	UtilizationPct  int
	BrowsersPerCore float64
	RAMPerSessionMB int
	FixedOverheadMB int
}

// Result is the computed pool size and the two limits it was taken from.
type Result struct {
	N        int
	CPULimit int
	RAMLimit int
}

// Compute returns N = max(1, min(cpuLimit, ramLimit)) where
// cpuLimit = floor(cores × util × browsersPerCore) and
// ramLimit = floor((RAM × util − overhead) / ramPerSession).
func Compute(res Resources, s Settings) Result {
	util := float64(s.UtilizationPct) / 100
	cpuLimit := int(math.Floor(float64(res.CPUs) * util * s.BrowsersPerCore))
	ramLimit := 0
	if s.RAMPerSessionMB > 0 {
		ramLimit = int(math.Floor((float64(res.MemoryMB)*util - float64(s.FixedOverheadMB)) / float64(s.RAMPerSessionMB)))
	}
	out := Result{CPULimit: cpuLimit, RAMLimit: ramLimit}
	if s.Override > 0 {
		out.N = s.Override
		return out
	}
	out.N = max(1, min(cpuLimit, ramLimit))
	return out
}

// MemoryReader reports total host memory in bytes.
type MemoryReader func() (uint64, error)

// HostMemory reads total RAM through gopsutil.
func HostMemory() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, fmt.Errorf("read virtual memory: %w", err)
	}
	return vm.Total, nil
}

// Detect fills Resources from the host, capped by positive maxCPUs/maxMemoryMB ceilings
// (container limits that the host view does not reflect).
func Detect(read MemoryReader, maxCPUs, maxMemoryMB int) (Resources, error) {
	if read == nil {
		read = HostMemory
	}
	res := Resources{CPUs: runtime.NumCPU()}
	total, err := read()
	if err != nil {
		return Resources{}, err
	}
	res.MemoryMB = int(total / (1024 * 1024))
	if maxCPUs > 0 && maxCPUs < res.CPUs {
		res.CPUs = maxCPUs
	}
	if maxMemoryMB > 0 && (res.MemoryMB == 0 || maxMemoryMB < res.MemoryMB) {
		res.MemoryMB = maxMemoryMB
	}
	return res, nil
}
