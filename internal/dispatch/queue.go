// Package dispatch picks local work sizes for kernels on one device. It is
// the queue-side half of work-group sizing: the kernel object cannot answer
// global-size-dependent questions, a Queue can.
package dispatch

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/cwbudde/clkernel/internal/cl"
	"github.com/cwbudde/clkernel/internal/opt"
)

// Queue binds a runtime device to an optimizer used for local-size search.
type Queue struct {
	rt        *cl.Runtime
	device    cl.Device
	optimizer opt.Optimizer
}

// NewQueue returns a queue on device. A nil optimizer selects a small
// seeded Mayfly search.
func NewQueue(rt *cl.Runtime, device cl.Device, optimizer opt.Optimizer) (*Queue, error) {
	if _, err := rt.DeviceSpecOf(device); err != nil {
		return nil, err
	}
	if optimizer == nil {
		optimizer = opt.NewMayfly(40, 20, 1)
	}
	return &Queue{rt: rt, device: device, optimizer: optimizer}, nil
}

// Device returns the device the queue dispatches to.
func (q *Queue) Device() cl.Device {
	return q.device
}

// LocalSize returns a one-dimensional local work size for running k over
// globalSize work-items. The result always divides globalSize and never
// exceeds the kernel's work-group size on the queue's device. A declared
// compile-time size is returned as is when it divides globalSize and fits
// the device.
func (q *Queue) LocalSize(k cl.Kernel, globalSize uint64) (uint64, error) {
	const op = "local size"
	if globalSize == 0 {
		return 0, &cl.Error{Code: cl.CodeInvalidValue, Op: op, Detail: "global size must be positive"}
	}

	limit, err := q.uintInfo(k, cl.KernelWorkGroupSize)
	if err != nil {
		return 0, err
	}
	v, err := q.rt.GetKernelWorkGroupInfo(k, q.device, cl.KernelCompileWorkGroupSize)
	if err != nil {
		return 0, err
	}
	if cwg, _ := v.Size3(); cwg != [3]uint64{} {
		n := max(cwg[0], 1) * max(cwg[1], 1) * max(cwg[2], 1)
		if n > limit {
			return 0, &cl.Error{Code: cl.CodeInvalidValue, Op: op,
				Detail: fmt.Sprintf("compile-time size %d exceeds device limit %d", n, limit)}
		}
		if globalSize%n != 0 {
			return 0, &cl.Error{Code: cl.CodeInvalidValue, Op: op,
				Detail: fmt.Sprintf("global size %d is not a multiple of compile-time size %d", globalSize, n)}
		}
		return n, nil
	}
	multiple, err := q.uintInfo(k, cl.KernelPreferredWorkGroupSizeMultiple)
	if err != nil {
		return 0, err
	}

	candidates := divisors(globalSize, limit)
	if len(candidates) == 1 {
		return candidates[0], nil
	}

	last := float64(len(candidates) - 1)
	pick := func(x []float64) uint64 {
		i := int(math.Round(min(max(x[0], 0), last)))
		return candidates[i]
	}
	best, _ := q.optimizer.Run(func(x []float64) float64 {
		return score(pick(x), limit, multiple)
	}, []float64{0}, []float64{last}, 1)
	local := pick(best)

	cl.Logger().Debug("local size chosen",
		slog.String("kernel", k.String()),
		slog.Uint64("global", globalSize),
		slog.Uint64("local", local),
		slog.Int("candidates", len(candidates)))
	return local, nil
}

func (q *Queue) uintInfo(k cl.Kernel, kind cl.KernelWorkGroupInfo) (uint64, error) {
	v, err := q.rt.GetKernelWorkGroupInfo(k, q.device, kind)
	if err != nil {
		return 0, err
	}
	n, _ := v.Uint()
	return n, nil
}

// score is lower for fuller work-groups; sizes off the preferred multiple
// pay a fixed penalty.
func score(local, limit, multiple uint64) float64 {
	s := 1 - float64(local)/float64(max(limit, 1))
	if multiple > 1 && local%multiple != 0 {
		s += 0.5
	}
	return s
}

// divisors returns the divisors of n not above limit in ascending order.
// 1 is always included. The scan is bounded by limit, not by n.
func divisors(n, limit uint64) []uint64 {
	out := []uint64{1}
	for d := uint64(2); d <= min(limit, n); d++ {
		if n%d == 0 {
			out = append(out, d)
		}
	}
	return out
}
