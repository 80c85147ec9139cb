// Package inventory holds the in-memory model of services, scheduled tasks
// and processes: the records a collection pass produces, the filtered and
// selectable view over them, and the helpers that format their fields.
package inventory

import (
	"strconv"
	"strings"
	"time"
)

// Category names one of the three inventoried entity kinds.
type Category string

const (
	Services  Category = "services"
	Tasks     Category = "tasks"
	Processes Category = "processes"
)

// Categories lists every category in display order.
var Categories = []Category{Services, Tasks, Processes}

// ParseCategory accepts the plural name, the singular name, or a short alias.
func ParseCategory(s string) (Category, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "services", "service", "svc":
		return Services, true
	case "tasks", "task", "schtasks":
		return Tasks, true
	case "processes", "process", "proc", "ps":
		return Processes, true
	}
	return "", false
}

// Title is the capitalised plural, e.g. "Services".
func (c Category) Title() string {
	if c == "" {
		return ""
	}
	return strings.ToUpper(string(c[:1])) + string(c[1:])
}

// Noun is the count-agnostic noun used in prompts, e.g. "service(s)".
func (c Category) Noun() string {
	switch c {
	case Services:
		return "service(s)"
	case Tasks:
		return "task(s)"
	case Processes:
		return "process(es)"
	}
	return string(c)
}

// Singular is the noun for a single item, e.g. "service".
func (c Category) Singular() string {
	switch c {
	case Processes:
		return "process"
	default:
		return strings.TrimSuffix(string(c), "s")
	}
}

// Tone is a presentation hint attached to a status value.
type Tone string

const (
	ToneOK      Tone = "ok"
	ToneActive  Tone = "active"
	ToneWarn    Tone = "warn"
	ToneBad     Tone = "bad"
	ToneNeutral Tone = "neutral"
)

// Record is the category-specific payload of an inventory item.
type Record interface {
	// Key is the identity, unique within one snapshot.
	Key() string
	// Label is the human-readable name shown in messages.
	Label() string
	// SortKey orders records inside a snapshot.
	SortKey() string
	// SearchFields are the values a filter query is matched against.
	SearchFields() []string
}

type ServiceStatus string

const (
	ServiceRunning ServiceStatus = "Running"
	ServiceStopped ServiceStatus = "Stopped"
	ServicePaused  ServiceStatus = "Paused"
	ServiceOther   ServiceStatus = "Other"
)

// ParseServiceStatus folds an OS state name into the four tracked states.
func ParseServiceStatus(s string) ServiceStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "running":
		return ServiceRunning
	case "stopped":
		return ServiceStopped
	case "paused":
		return ServicePaused
	}
	return ServiceOther
}

func (s ServiceStatus) Tone() Tone {
	switch s {
	case ServiceRunning:
		return ToneOK
	case ServiceStopped:
		return ToneBad
	case ServicePaused:
		return ToneWarn
	}
	return ToneNeutral
}

type StartType string

const (
	StartBoot      StartType = "Boot"
	StartSystem    StartType = "System"
	StartAutomatic StartType = "Automatic"
	StartManual    StartType = "Manual"
	StartDisabled  StartType = "Disabled"
	StartUnknown   StartType = "Unknown"
)

// StartTypeFromCode maps the service "Start" configuration value (0-4).
// Any other value, including -1 for "not configured", is Unknown.
func StartTypeFromCode(code int) StartType {
	switch code {
	case 0:
		return StartBoot
	case 1:
		return StartSystem
	case 2:
		return StartAutomatic
	case 3:
		return StartManual
	case 4:
		return StartDisabled
	}
	return StartUnknown
}

// ServiceRecord is one background service.
type ServiceRecord struct {
	Name        string        `json:"name" yaml:"name"`
	DisplayName string        `json:"displayName" yaml:"displayName"`
	Publisher   string        `json:"publisher,omitempty" yaml:"publisher,omitempty"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty"`
	Status      ServiceStatus `json:"status" yaml:"status"`
	StartType   StartType     `json:"startType" yaml:"startType"`
}

func (r ServiceRecord) Key() string     { return r.Name }
func (r ServiceRecord) Label() string   { return r.Name }
func (r ServiceRecord) SortKey() string { return r.DisplayName }
func (r ServiceRecord) SearchFields() []string {
	return []string{r.Name, r.DisplayName}
}

type TaskState string

const (
	TaskReady    TaskState = "Ready"
	TaskRunning  TaskState = "Running"
	TaskDisabled TaskState = "Disabled"
	TaskOther    TaskState = "Other"
)

func (s TaskState) Tone() Tone {
	switch s {
	case TaskReady:
		return ToneOK
	case TaskRunning:
		return ToneActive
	case TaskDisabled:
		return ToneBad
	}
	return ToneNeutral
}

const (
	NeverRun     = "Never"
	NotScheduled = "Not scheduled"
	UnknownValue = "Unknown"
)

// TaskRecord is one scheduled task. Zero times mean "never" and "not scheduled".
type TaskRecord struct {
	Path    string    `json:"path" yaml:"path"`
	Name    string    `json:"name" yaml:"name"`
	State   TaskState `json:"state" yaml:"state"`
	Author  string    `json:"author" yaml:"author"`
	LastRun time.Time `json:"lastRun" yaml:"lastRun"`
	NextRun time.Time `json:"nextRun" yaml:"nextRun"`
}

func (r TaskRecord) Key() string     { return r.Path }
func (r TaskRecord) Label() string   { return r.Name }
func (r TaskRecord) SortKey() string { return r.Path }
func (r TaskRecord) SearchFields() []string {
	return []string{r.Name, r.Path}
}

// LastRunText renders LastRun or "Never".
func (r TaskRecord) LastRunText() string {
	if r.LastRun.IsZero() {
		return NeverRun
	}
	return FormatTimestamp(r.LastRun)
}

// NextRunText renders NextRun or "Not scheduled".
func (r TaskRecord) NextRunText() string {
	if r.NextRun.IsZero() {
		return NotScheduled
	}
	return FormatTimestamp(r.NextRun)
}

// ProcessRecord is one running process. The pid may be reused once the
// process exits, so it only identifies the process within one snapshot.
type ProcessRecord struct {
	PID         int32   `json:"pid" yaml:"pid"`
	Name        string  `json:"name" yaml:"name"`
	WindowTitle string  `json:"windowTitle,omitempty" yaml:"windowTitle,omitempty"`
	MemoryBytes uint64  `json:"memoryBytes" yaml:"memoryBytes"`
	CPUPercent  float64 `json:"cpuPercent" yaml:"cpuPercent"`
	FilePath    string  `json:"filePath,omitempty" yaml:"filePath,omitempty"`
	Uptime      string  `json:"uptime" yaml:"uptime"`
}

func (r ProcessRecord) Key() string     { return strconv.FormatInt(int64(r.PID), 10) }
func (r ProcessRecord) Label() string   { return r.Name }
func (r ProcessRecord) SortKey() string { return r.Name }
func (r ProcessRecord) SearchFields() []string {
	return []string{r.Name, r.WindowTitle, r.FilePath, r.Key()}
}

// MemoryMB renders MemoryBytes in megabytes with one decimal.
func (r ProcessRecord) MemoryMB() string {
	return FormatMB(r.MemoryBytes)
}

// CPUText renders CPUPercent with one decimal.
func (r ProcessRecord) CPUText() string {
	return strconv.FormatFloat(r.CPUPercent, 'f', 1, 64)
}
