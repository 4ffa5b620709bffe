package agent

import (
	"context"
	"slices"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/teranos/ghostline/errors"
)

// Health is one liveness sample of the agent process.
type Health struct {
	Alive bool
	RSS   uint64
}

// ProbeProcess samples pid. A pid that no longer exists, or that is a
// zombie, is reported as not alive with a nil error.
func ProbeProcess(ctx context.Context, pid int) (Health, error) {
	if pid <= 0 {
		return Health{}, errors.Newf("invalid pid %d", pid)
	}

	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return Health{}, nil
		}
		return Health{}, errors.Wrapf(err, "failed to inspect pid %d", pid)
	}

	running, err := p.IsRunningWithContext(ctx)
	if err != nil {
		return Health{}, errors.Wrapf(err, "failed to check pid %d", pid)
	}
	if !running {
		return Health{}, nil
	}
	if status, err := p.StatusWithContext(ctx); err == nil && slices.Contains(status, process.Zombie) {
		return Health{}, nil
	}

	h := Health{Alive: true}
	if mem, err := p.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		h.RSS = mem.RSS
	}
	return h, nil
}
