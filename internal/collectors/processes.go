package collectors

import (
	"context"
	"time"

	"github.com/breeze-rmm/sysmgr/internal/inventory"
	"github.com/breeze-rmm/sysmgr/internal/logging"
	"github.com/breeze-rmm/sysmgr/internal/platform"
)

// ProcessCollector lists processes. Listing is all-or-nothing; each
// attribute of a listed process is read on its own and defaults on failure.
type ProcessCollector struct {
	port platform.ProcessPort
	now  func() time.Time
}

func NewProcessCollector(port platform.ProcessPort) *ProcessCollector {
	return &ProcessCollector{port: port, now: time.Now}
}

// Collect returns every live process ordered by name.
func (c *ProcessCollector) Collect(ctx context.Context) ([]inventory.ProcessRecord, error) {
	handles, err := c.port.ListProcesses(ctx)
	if err != nil {
		return nil, enumerationFailed(inventory.Processes, err)
	}

	titles, err := c.port.WindowTitles(ctx)
	if err != nil {
		log.Debug("window titles unavailable", logging.KeyError, err.Error())
	}
	processors := c.port.LogicalProcessors()
	now := c.now()

	records := make([]inventory.ProcessRecord, 0, len(handles))
	for _, h := range handles {
		if ctx.Err() != nil {
			break
		}
		rec, ok := c.read(h, titles, processors, now)
		if !ok {
			continue
		}
		records = append(records, rec)
	}
	return finish(ctx, inventory.Processes, records)
}

// read builds one record. It reports false only when the name is gone,
// which means the process exited mid-pass.
func (c *ProcessCollector) read(h platform.ProcessHandle, titles map[int32]string, processors int, now time.Time) (inventory.ProcessRecord, bool) {
	pid := h.PID()
	name, err := h.Name()
	if err != nil {
		log.Debug("process vanished during listing", logging.KeyItem, pid, logging.KeyError, err.Error())
		return inventory.ProcessRecord{}, false
	}

	rec := inventory.ProcessRecord{
		PID:         pid,
		Name:        name,
		WindowTitle: titles[pid],
		Uptime:      inventory.Unavailable,
	}

	if exe, err := h.Exe(); err == nil {
		rec.FilePath = exe
	}
	if mem, err := h.MemoryBytes(); err == nil {
		rec.MemoryBytes = mem
	}

	created, err := h.CreateTime()
	if err != nil || created.IsZero() {
		return rec, true
	}
	age := now.Sub(created)
	rec.Uptime = inventory.FormatUptime(age)

	if cpu, err := h.CPUTime(); err == nil {
		rec.CPUPercent = inventory.CPUPercent(cpu, age, processors)
	}
	return rec, true
}
