package probe

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/netmon/nettask/internal/errs"
)

// Sampler reads instantaneous OS-level metrics, isolating the Measurement
// Engine's periodic CPU/RAM probes (spec.md section 4.5) from the concrete
// sampling library the same way Runner isolates ping/iperf invocation.
type Sampler interface {
	// CPUPercent returns the instantaneous CPU utilisation percentage,
	// in [0, 100].
	CPUPercent(ctx context.Context) (float64, error)
	// RAMPercent returns the instantaneous RAM utilisation percentage,
	// in [0, 100].
	RAMPercent(ctx context.Context) (float64, error)
}

// GopsutilSampler is the default Sampler, backed by gopsutil.
type GopsutilSampler struct{}

func (GopsutilSampler) CPUPercent(ctx context.Context) (float64, error) {
	pcts, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, fmt.Errorf("reading cpu percent: %v: %w", err, errs.ErrProbeFailed)
	}
	if len(pcts) == 0 {
		return 0, fmt.Errorf("cpu percent returned no samples: %w", errs.ErrProbeFailed)
	}
	return clampPercent(pcts[0]), nil
}

func (GopsutilSampler) RAMPercent(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading ram percent: %v: %w", err, errs.ErrProbeFailed)
	}
	return clampPercent(vm.UsedPercent), nil
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// FakeSampler is a Sampler returning canned values, for Measurement Engine
// tests that must not depend on the host's actual CPU/RAM load.
type FakeSampler struct {
	CPUValues []float64 // consumed in order, repeats the last value once exhausted
	RAMValues []float64

	cpuCalls int
	ramCalls int
}

func (f *FakeSampler) CPUPercent(context.Context) (float64, error) {
	v := nextOrLast(f.CPUValues, f.cpuCalls)
	f.cpuCalls++
	return v, nil
}

func (f *FakeSampler) RAMPercent(context.Context) (float64, error) {
	v := nextOrLast(f.RAMValues, f.ramCalls)
	f.ramCalls++
	return v, nil
}

func nextOrLast(vs []float64, i int) float64 {
	if len(vs) == 0 {
		return 0
	}
	if i < len(vs) {
		return vs[i]
	}
	return vs[len(vs)-1]
}
