// Package platform is the OS-facing side of the inventory: listing and
// controlling services, scheduled tasks and processes, reading service
// configuration and version resources, and opening folders.
package platform

import (
	"context"
	"errors"
	"time"

	"github.com/breeze-rmm/sysmgr/internal/inventory"
	"github.com/breeze-rmm/sysmgr/internal/logging"
)

var log = logging.L("platform")

var (
	// ErrNotFound means the target vanished or never existed.
	ErrNotFound = errors.New("not found")
	// ErrUnsupported means the operation has no implementation on this OS.
	ErrUnsupported = errors.New("not supported on this platform")
	// ErrTimeout means a control call did not reach its target state in time.
	ErrTimeout = errors.New("timed out waiting for target state")
)

// statePollInterval is how often a control call re-queries status.
const statePollInterval = 500 * time.Millisecond

// ServiceEntry is one row of the live service listing.
type ServiceEntry struct {
	Name        string
	DisplayName string
	Status      inventory.ServiceStatus
}

// ServiceConfig is the stored configuration of a service. StartCode uses the
// 0-4 boot/system/automatic/manual/disabled scale, -1 when unset.
type ServiceConfig struct {
	StartCode   int
	Description string
	ImagePath   string
}

// ServicePort lists and controls background services.
type ServicePort interface {
	ListServices(ctx context.Context) ([]ServiceEntry, error)
	ServiceStatus(ctx context.Context, name string) (inventory.ServiceStatus, error)
	// StartService and StopService block until the service reports the
	// target state or ctx is done.
	StartService(ctx context.Context, name string) error
	StopService(ctx context.Context, name string) error
	ReadServiceConfig(name string) (ServiceConfig, error)
}

// Task state codes as reported by the scheduler.
const (
	TaskStateUnknown  = 0
	TaskStateDisabled = 1
	TaskStateQueued   = 2
	TaskStateReady    = 3
	TaskStateRunning  = 4
)

// TaskEntry is one scheduled task. Zero times mean never run or not scheduled.
type TaskEntry struct {
	Path    string
	Name    string
	State   int
	Author  string
	LastRun time.Time
	NextRun time.Time
}

// TaskPort walks and controls the task scheduler. Every per-task call
// resolves the task by path first and returns ErrNotFound if it is gone.
type TaskPort interface {
	ListTasks(ctx context.Context, rootFolder string) ([]TaskEntry, error)
	GetTask(ctx context.Context, path string) (TaskEntry, error)
	RunTask(ctx context.Context, path string) error
	StopTask(ctx context.Context, path string) error
	SetTaskEnabled(ctx context.Context, path string, enabled bool) error
	DeleteTask(ctx context.Context, path string) error
	// TaskExecutablePath returns the path of the first exec action, unexpanded.
	TaskExecutablePath(ctx context.Context, path string) (string, error)
}

// ProcessHandle reads one process's attributes. Each read can fail on its
// own, for example on protected processes.
type ProcessHandle interface {
	PID() int32
	Name() (string, error)
	Exe() (string, error)
	MemoryBytes() (uint64, error)
	CreateTime() (time.Time, error)
	CPUTime() (time.Duration, error)
}

// ProcessPort lists and kills processes.
type ProcessPort interface {
	ListProcesses(ctx context.Context) ([]ProcessHandle, error)
	// WindowTitles maps pid to the title of its main visible window.
	WindowTitles(ctx context.Context) (map[int32]string, error)
	LogicalProcessors() int
	// Kill forcefully terminates pid.
	Kill(ctx context.Context, pid int32) error
}

// FolderOpener shows a directory in the platform file browser.
type FolderOpener interface {
	OpenFolder(ctx context.Context, dir string) error
}

// VersionReader reads the company name from an executable's version resource.
type VersionReader interface {
	CompanyName(path string) (string, error)
}

// Platform bundles the ports of the running OS.
type Platform struct {
	Services  ServicePort
	Tasks     TaskPort
	Processes ProcessPort
	Folders   FolderOpener
	Versions  VersionReader
	// ExpandEnv resolves %VAR% references.
	ExpandEnv func(string) string
}

// Native returns the ports for the OS the binary was built for.
func Native() *Platform {
	return &Platform{
		Services:  newServicePort(),
		Tasks:     newTaskPort(),
		Processes: newProcessPort(),
		Folders:   folderOpener{},
		Versions:  newVersionReader(),
		ExpandEnv: ExpandEnv,
	}
}
