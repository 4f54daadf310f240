// Package hostinfo answers one-shot host capability queries. The
// harness consumes the results; it does not own their refresh.
package hostinfo

import (
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// Info is a snapshot of the host taken once at run start. Fields that
// cannot be probed are left at their zero value; workload supported
// checks must treat zero as unknown.
type Info struct {
	Hostname     string
	OS           string
	Arch         string
	CPUs         int
	PhysicalCPUs int
	PageSize     int
	MemTotal     uint64
	MemAvailable uint64
	SwapTotal    uint64
	Load1        float64
}

// Probe collects the host snapshot. Individual probe failures are
// tolerated field-wise.
func Probe() Info {
	info := Info{
		OS:       runtime.GOOS,
		Arch:     runtime.GOARCH,
		PageSize: os.Getpagesize(),
	}

	info.Hostname, _ = os.Hostname()

	if n, err := cpu.Counts(true); err == nil {
		info.CPUs = n
	} else {
		info.CPUs = runtime.NumCPU()
	}
	if n, err := cpu.Counts(false); err == nil {
		info.PhysicalCPUs = n
	}

	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		info.MemTotal = vm.Total
		info.MemAvailable = vm.Available
	}
	if swap, err := mem.SwapMemory(); err == nil && swap != nil {
		info.SwapTotal = swap.Total
	}

	if avg, err := load.Avg(); err == nil && avg != nil {
		info.Load1 = avg.Load1
	}

	return info
}
