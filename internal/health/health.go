// Package health tracks whether each category's inventory can still be
// collected.
package health

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/breeze-rmm/sysmgr/internal/logging"
)

var log = logging.L("health")

// Status is the collection health of one category.
type Status string

// Ordered from best to worst.
const (
	Healthy   Status = "healthy"
	Degraded  Status = "degraded"
	Unhealthy Status = "unhealthy"
	// Unknown is the state of a category that has not reported yet.
	Unknown Status = "unknown"
)

var rank = map[Status]int{Healthy: 0, Degraded: 1, Unhealthy: 2, Unknown: 3}

// IsValid reports whether s is one of the defined statuses.
func (s Status) IsValid() bool {
	_, ok := rank[s]
	return ok
}

// Worse reports whether s ranks below other.
func (s Status) Worse(other Status) bool {
	return rank[s] > rank[other]
}

// Check is the latest result for one category. Since is when Status last
// changed; Failures counts consecutive non-healthy reports.
type Check struct {
	Name     string    `json:"name" yaml:"name"`
	Status   Status    `json:"status" yaml:"status"`
	Message  string    `json:"message,omitempty" yaml:"message,omitempty"`
	Since    time.Time `json:"since" yaml:"since"`
	Failures int       `json:"failures,omitempty" yaml:"failures,omitempty"`
}

// Monitor holds one Check per category. Safe for concurrent use.
type Monitor struct {
	mu     sync.RWMutex
	checks map[string]Check
	now    func() time.Time
}

// NewMonitor registers each name as Unknown.
func NewMonitor(names ...string) *Monitor {
	m := &Monitor{checks: make(map[string]Check, len(names)), now: time.Now}
	at := m.now()
	for _, name := range names {
		m.checks[name] = Check{Name: name, Status: Unknown, Since: at}
	}
	return m
}

// Update records a report for name. An invalid status is stored as
// Unhealthy.
func (m *Monitor) Update(name string, status Status, message string) {
	if !status.IsValid() {
		log.Warn("invalid health status, treating as unhealthy", logging.KeyCategory, name, "status", string(status))
		status = Unhealthy
	}

	m.mu.Lock()
	prev, seen := m.checks[name]
	next := Check{Name: name, Status: status, Message: message, Since: prev.Since}
	if !seen || prev.Status != status {
		next.Since = m.now()
	}
	if status != Healthy {
		next.Failures = prev.Failures + 1
	}
	m.checks[name] = next
	m.mu.Unlock()

	switch {
	case seen && prev.Status == status:
	case status == Healthy && seen && prev.Status != Unknown:
		log.Info("collection recovered", logging.KeyCategory, name, "after", prev.Failures)
	case status != Healthy:
		log.Warn("collection "+string(status), logging.KeyCategory, name, "message", message)
	}
}

// Get returns the check for name.
func (m *Monitor) Get(name string) (Check, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.checks[name]
	return c, ok
}

// Overall is the worst status across all checks, or Unknown when there are
// none.
func (m *Monitor) Overall() Status {
	overall, _ := m.Snapshot()
	return overall
}

// All returns every check sorted by name.
func (m *Monitor) All() []Check {
	_, checks := m.Snapshot()
	return checks
}

// Snapshot returns the overall status and the checks it was computed from,
// read under one lock.
func (m *Monitor) Snapshot() (Status, []Check) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.checks) == 0 {
		return Unknown, nil
	}
	overall := Healthy
	checks := make([]Check, 0, len(m.checks))
	for _, c := range m.checks {
		if c.Status.Worse(overall) {
			overall = c.Status
		}
		checks = append(checks, c)
	}
	slices.SortFunc(checks, func(a, b Check) int { return strings.Compare(a.Name, b.Name) })
	return overall, checks
}
