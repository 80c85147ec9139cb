package engine

import (
	"context"
	"fmt"

	"github.com/breeze-rmm/sysmgr/internal/batch"
	"github.com/breeze-rmm/sysmgr/internal/collectors"
	"github.com/breeze-rmm/sysmgr/internal/config"
	"github.com/breeze-rmm/sysmgr/internal/enrich"
	"github.com/breeze-rmm/sysmgr/internal/inventory"
	"github.com/breeze-rmm/sysmgr/internal/platform"
)

// ExecutableLocator resolves the executable behind any record: the service
// ImagePath, the first exec action of a task, or a process image path.
type ExecutableLocator struct {
	Enricher *enrich.Enricher
	Tasks    platform.TaskPort
}

func (l ExecutableLocator) Locate(ctx context.Context, r inventory.Record) (string, error) {
	switch rec := r.(type) {
	case inventory.ServiceRecord:
		return l.Enricher.ServiceExecutable(rec.Name)
	case inventory.TaskRecord:
		raw, err := l.Tasks.TaskExecutablePath(ctx, rec.Path)
		if err != nil {
			return "", fmt.Errorf("task %s: %w", rec.Path, err)
		}
		return l.Enricher.ResolveExecutable(raw)
	case inventory.ProcessRecord:
		return l.Enricher.ResolveExecutable(rec.FilePath)
	}
	return "", fmt.Errorf("locate %T: %w", r, platform.ErrUnsupported)
}

// FromPlatform wires collectors, the enricher and the batch executor over p
// and starts an engine for the categories cfg enables. The control timeout
// in bopts is replaced by the configured one.
func FromPlatform(ctx context.Context, p *platform.Platform, cfg *config.Config, bopts batch.Options) *Engine {
	enricher := enrich.New(p.Services, p.Versions, p.ExpandEnv, cfg.DescriptionMaxLength)
	bopts.ControlTimeout = cfg.ControlTimeout()
	executor := batch.NewExecutor(p.Services, p.Tasks, p.Processes, bopts)

	var regs []Registration
	for _, c := range inventory.Categories {
		if !cfg.CategoryEnabled(string(c)) {
			continue
		}
		switch c {
		case inventory.Services:
			regs = append(regs, Register[inventory.ServiceRecord](c, collectors.NewServiceCollector(p.Services, enricher)))
		case inventory.Tasks:
			regs = append(regs, Register[inventory.TaskRecord](c, collectors.NewTaskCollector(p.Tasks, cfg.TaskRootFolder)))
		case inventory.Processes:
			regs = append(regs, Register[inventory.ProcessRecord](c, collectors.NewProcessCollector(p.Processes)))
		}
	}

	return New(ctx, executor, Options{
		Reporter:   bopts.Reporter,
		Locator:    ExecutableLocator{Enricher: enricher, Tasks: p.Tasks},
		Folders:    p.Folders,
		MaxWorkers: cfg.MaxWorkers,
		QueueSize:  cfg.QueueSize,
	}, regs...)
}
