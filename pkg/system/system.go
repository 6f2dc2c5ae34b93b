// SPDX-License-Identifier: GPL-2.0-or-later

package system

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Status stores system resource usage.
type Status struct {
	CPUUsage int
	RAMUsage int

	// HeapBytes bytes allocated by this process.
	HeapBytes uint64
}

func (s Status) String() string {
	return fmt.Sprintf("cpu %v%%, ram %v%%, heap %v",
		s.CPUUsage, s.RAMUsage, humanize.Bytes(s.HeapBytes))
}

type (
	cpuFunc func(context.Context, time.Duration, bool) ([]float64, error)
	ramFunc func() (*mem.VirtualMemoryStat, error)
)

// ErrNoCPU cpu usage returned no values.
var ErrNoCPU = errors.New("no cpu")

// System reads resource usage.
type System struct {
	cpu cpuFunc
	ram ramFunc
}

// New returns new System.
func New() *System {
	return &System{
		cpu: cpu.PercentWithContext,
		ram: mem.VirtualMemory,
	}
}

// Status returns cpu usage since the previous call, ram and heap usage.
func (s *System) Status(ctx context.Context) (Status, error) {
	cpuUsage, err := s.cpu(ctx, 0, false)
	if err != nil {
		return Status{}, fmt.Errorf("could not get cpu usage: %w", err)
	}
	if len(cpuUsage) == 0 {
		return Status{}, fmt.Errorf("could not get cpu usage: %w", ErrNoCPU)
	}
	ramUsage, err := s.ram()
	if err != nil {
		return Status{}, fmt.Errorf("could not get ram usage: %w", err)
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return Status{
		CPUUsage:  int(cpuUsage[0]),
		RAMUsage:  int(ramUsage.UsedPercent),
		HeapBytes: m.HeapAlloc,
	}, nil
}
