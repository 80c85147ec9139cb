package collectors

import (
	"context"
	"strings"

	"github.com/breeze-rmm/sysmgr/internal/inventory"
	"github.com/breeze-rmm/sysmgr/internal/platform"
)

// TaskCollector walks the scheduler from a root folder down.
type TaskCollector struct {
	port platform.TaskPort
	root string
}

func NewTaskCollector(port platform.TaskPort, rootFolder string) *TaskCollector {
	if rootFolder == "" {
		rootFolder = `\`
	}
	return &TaskCollector{port: port, root: rootFolder}
}

// Collect returns every task under the root folder ordered by path.
func (c *TaskCollector) Collect(ctx context.Context) ([]inventory.TaskRecord, error) {
	entries, err := c.port.ListTasks(ctx, c.root)
	if err != nil {
		return nil, enumerationFailed(inventory.Tasks, err)
	}

	records := make([]inventory.TaskRecord, 0, len(entries))
	for _, e := range entries {
		records = append(records, taskRecord(e))
	}
	return finish(ctx, inventory.Tasks, records)
}

func taskRecord(e platform.TaskEntry) inventory.TaskRecord {
	rec := inventory.TaskRecord{
		Path:    e.Path,
		Name:    e.Name,
		State:   taskState(e.State),
		Author:  e.Author,
		LastRun: e.LastRun,
		NextRun: e.NextRun,
	}
	if rec.Name == "" {
		rec.Name = e.Path[strings.LastIndex(e.Path, `\`)+1:]
	}
	if strings.TrimSpace(rec.Author) == "" {
		rec.Author = inventory.UnknownValue
	}
	return rec
}

// taskState folds the scheduler's five states into four; queued and
// unknown both become Other.
func taskState(code int) inventory.TaskState {
	switch code {
	case platform.TaskStateReady:
		return inventory.TaskReady
	case platform.TaskStateRunning:
		return inventory.TaskRunning
	case platform.TaskStateDisabled:
		return inventory.TaskDisabled
	}
	return inventory.TaskOther
}
