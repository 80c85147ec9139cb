package platform

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
)

type psutilProcesses struct{}

func newProcessPort() ProcessPort { return psutilProcesses{} }

func (psutilProcesses) ListProcesses(ctx context.Context) ([]ProcessHandle, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate processes: %w", err)
	}
	handles := make([]ProcessHandle, 0, len(procs))
	for _, p := range procs {
		handles = append(handles, psutilHandle{ctx: ctx, p: p})
	}
	return handles, nil
}

func (psutilProcesses) WindowTitles(ctx context.Context) (map[int32]string, error) {
	return windowTitles(ctx)
}

func (psutilProcesses) LogicalProcessors() int {
	if n, err := cpu.Counts(true); err == nil && n > 0 {
		return n
	}
	return runtime.NumCPU()
}

func (psutilProcesses) Kill(ctx context.Context, pid int32) error {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return fmt.Errorf("process %d: %w", pid, ErrNotFound)
		}
		return fmt.Errorf("open process %d: %w", pid, err)
	}
	if err := p.KillWithContext(ctx); err != nil {
		return fmt.Errorf("kill process %d: %w", pid, err)
	}
	return nil
}

type psutilHandle struct {
	ctx context.Context
	p   *process.Process
}

func (h psutilHandle) PID() int32 { return h.p.Pid }

func (h psutilHandle) Name() (string, error) { return h.p.NameWithContext(h.ctx) }

func (h psutilHandle) Exe() (string, error) { return h.p.ExeWithContext(h.ctx) }

func (h psutilHandle) MemoryBytes() (uint64, error) {
	mem, err := h.p.MemoryInfoWithContext(h.ctx)
	if err != nil {
		return 0, err
	}
	if mem == nil {
		return 0, errors.New("no memory info")
	}
	return mem.RSS, nil
}

func (h psutilHandle) CreateTime() (time.Time, error) {
	ms, err := h.p.CreateTimeWithContext(h.ctx)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

// CPUTime is user plus system time accumulated over the process's life.
func (h psutilHandle) CPUTime() (time.Duration, error) {
	t, err := h.p.TimesWithContext(h.ctx)
	if err != nil {
		return 0, err
	}
	return time.Duration((t.User + t.System) * float64(time.Second)), nil
}
