// Package batch applies an operator command to the selected items of one
// category, one item at a time, isolating each item's failure.
package batch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/breeze-rmm/sysmgr/internal/audit"
	"github.com/breeze-rmm/sysmgr/internal/inventory"
	"github.com/breeze-rmm/sysmgr/internal/logging"
	"github.com/breeze-rmm/sysmgr/internal/platform"
	"github.com/breeze-rmm/sysmgr/internal/status"
)

var log = logging.L("batch")

var (
	// ErrNoSelection is informational: nothing was selected, nothing ran.
	ErrNoSelection = errors.New("nothing selected")
	// ErrDeclined means the operator said no at the confirmation step.
	ErrDeclined = errors.New("declined by operator")
	// ErrUnsupportedAction means the category has no such action.
	ErrUnsupportedAction = errors.New("action not supported for category")
)

// DefaultControlTimeout bounds each state transition of a single item.
const DefaultControlTimeout = 30 * time.Second

// Confirmer asks the operator to approve a batch.
type Confirmer interface {
	Confirm(ctx context.Context, p Prompt) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, p Prompt) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, p Prompt) (bool, error) { return f(ctx, p) }

// AutoConfirm approves every prompt.
var AutoConfirm Confirmer = ConfirmFunc(func(context.Context, Prompt) (bool, error) { return true, nil })

// ActionError is the failure of one item. The batch carries on past it.
type ActionError struct {
	Action Action
	Key    string
	Label  string
	Err    error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("Error %s %s: %v", e.Action.forms().gerund, e.Label, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// Outcome is the result for one item.
type Outcome struct {
	Key      string        `json:"key" yaml:"key"`
	Label    string        `json:"label" yaml:"label"`
	Err      error         `json:"-" yaml:"-"`
	Error    string        `json:"error,omitempty" yaml:"error,omitempty"`
	Duration time.Duration `json:"duration" yaml:"duration"`
}

func (o Outcome) OK() bool { return o.Err == nil }

// Report is the per-item result of a whole batch.
type Report struct {
	ID       string             `json:"id" yaml:"id"`
	Category inventory.Category `json:"category" yaml:"category"`
	Action   Action             `json:"action" yaml:"action"`
	Outcomes []Outcome          `json:"outcomes" yaml:"outcomes"`
}

// Succeeded counts items whose action completed.
func (r *Report) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.OK() {
			n++
		}
	}
	return n
}

// Failed counts items whose action failed.
func (r *Report) Failed() int { return len(r.Outcomes) - r.Succeeded() }

// Err joins every item failure, or returns nil.
func (r *Report) Err() error {
	var errs []error
	for _, o := range r.Outcomes {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	return errors.Join(errs...)
}

func (r *Report) String() string {
	return fmt.Sprintf("%s %s: %d succeeded, %d failed", r.Action, r.Category, r.Succeeded(), r.Failed())
}

// Executor runs batches against the platform ports.
type Executor struct {
	services  platform.ServicePort
	tasks     platform.TaskPort
	processes platform.ProcessPort
	confirmer Confirmer
	reporter  status.Reporter
	audit     *audit.Logger
	timeout   atomic.Int64 // time.Duration; swapped on config reload
}

// Options configures an Executor. Zero values fall back to AutoConfirm,
// status.Discard and DefaultControlTimeout. A nil Audit disables the trail.
type Options struct {
	Confirmer      Confirmer
	Reporter       status.Reporter
	ControlTimeout time.Duration
	Audit          *audit.Logger
}

func NewExecutor(services platform.ServicePort, tasks platform.TaskPort, processes platform.ProcessPort, opts Options) *Executor {
	e := &Executor{
		services:  services,
		tasks:     tasks,
		processes: processes,
		confirmer: opts.Confirmer,
		reporter:  opts.Reporter,
		audit:     opts.Audit,
	}
	e.SetControlTimeout(opts.ControlTimeout)
	if e.confirmer == nil {
		e.confirmer = AutoConfirm
	}
	if e.reporter == nil {
		e.reporter = status.Discard
	}
	return e
}

// SetControlTimeout changes the per-transition timeout for later items.
// Non-positive values restore the default.
func (e *Executor) SetControlTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultControlTimeout
	}
	e.timeout.Store(int64(d))
}

func (e *Executor) ControlTimeout() time.Duration { return time.Duration(e.timeout.Load()) }

// step is one state transition of one item, run under its own timeout.
type step func(ctx context.Context, key string) error

// Execute applies action to items in order. It returns ErrNoSelection or
// ErrDeclined before touching anything, and otherwise a report holding one
// outcome per item; item failures never abort the batch.
func (e *Executor) Execute(ctx context.Context, category inventory.Category, action Action, items []inventory.Record) (*Report, error) {
	steps, err := e.plan(category, action)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		status.Infof(ctx, e.reporter, "%s", NoSelectionMessage(category))
		return nil, ErrNoSelection
	}

	ok, err := e.confirmer.Confirm(ctx, PromptFor(category, action, len(items)))
	if err != nil {
		return nil, fmt.Errorf("confirmation: %w", err)
	}
	if !ok {
		log.Info("batch declined", logging.KeyCategory, string(category), logging.KeyAction, string(action))
		e.audit.Log(audit.EventBatchDeclined, "", map[string]any{
			"category": string(category), "action": string(action), "items": len(items),
		})
		return nil, ErrDeclined
	}

	report := &Report{ID: uuid.NewString(), Category: category, Action: action}
	blog := logging.WithBatch(log, report.ID, string(category), string(action))
	ctx = logging.NewContext(ctx, blog)
	blog.Info("batch started", "items", len(items))
	e.audit.Log(audit.EventBatchStarted, report.ID, map[string]any{
		"category": string(category), "action": string(action), "items": len(items),
	})

	forms := action.forms()
	for _, item := range items {
		key, label := item.Key(), item.Label()
		status.Infof(ctx, e.reporter, "%s %s...", forms.progressive, label)

		started := time.Now()
		runErr := e.runSteps(ctx, key, steps)
		out := Outcome{Key: key, Label: label, Duration: time.Since(started)}
		if runErr != nil {
			aerr := &ActionError{Action: action, Key: key, Label: label, Err: runErr}
			out.Err = aerr
			out.Error = runErr.Error()
			status.Errorf(ctx, e.reporter, "%s", aerr.Error())
			blog.Warn("item failed", logging.KeyItem, key, logging.KeyError, runErr.Error(),
				logging.KeyDurationMs, out.Duration.Milliseconds())
			e.audit.Log(audit.EventItemFailed, report.ID, map[string]any{
				"item": key, "error": runErr.Error(), "durationMs": out.Duration.Milliseconds(),
			})
		} else {
			status.Successf(ctx, e.reporter, "%s: %s", forms.past, label)
			blog.Debug("item done", logging.KeyItem, key, logging.KeyDurationMs, out.Duration.Milliseconds())
			e.audit.Log(audit.EventItemSucceeded, report.ID, map[string]any{
				"item": key, "durationMs": out.Duration.Milliseconds(),
			})
		}
		report.Outcomes = append(report.Outcomes, out)
	}

	blog.Info("batch finished", "succeeded", report.Succeeded(), "failed", report.Failed())
	e.audit.Log(audit.EventBatchFinished, report.ID, map[string]any{
		"succeeded": report.Succeeded(), "failed": report.Failed(),
	})
	return report, nil
}

func (e *Executor) runSteps(ctx context.Context, key string, steps []step) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	for _, s := range steps {
		if err := e.runStep(ctx, key, s); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) runStep(ctx context.Context, key string, s step) error {
	timeout := e.ControlTimeout()
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := s(stepCtx, key)
	if err != nil && errors.Is(stepCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, platform.ErrTimeout) {
		return fmt.Errorf("%w after %s: %v", platform.ErrTimeout, timeout, err)
	}
	return err
}

// plan maps a category and action onto the port calls for one item.
func (e *Executor) plan(c inventory.Category, a Action) ([]step, error) {
	if !Supports(c, a) {
		return nil, fmt.Errorf("%s on %s: %w", a, c, ErrUnsupportedAction)
	}
	switch c {
	case inventory.Services:
		start := step(e.services.StartService)
		stop := step(e.services.StopService)
		switch a {
		case Start:
			return []step{start}, nil
		case Stop:
			return []step{stop}, nil
		case Restart:
			return []step{stop, start}, nil
		}
	case inventory.Tasks:
		switch a {
		case Run:
			return []step{e.tasks.RunTask}, nil
		case Stop:
			return []step{e.tasks.StopTask}, nil
		case Enable:
			return []step{func(ctx context.Context, path string) error {
				return e.tasks.SetTaskEnabled(ctx, path, true)
			}}, nil
		case Disable:
			return []step{func(ctx context.Context, path string) error {
				return e.tasks.SetTaskEnabled(ctx, path, false)
			}}, nil
		case Delete:
			return []step{e.tasks.DeleteTask}, nil
		}
	case inventory.Processes:
		return []step{func(ctx context.Context, key string) error {
			pid, err := strconv.ParseInt(key, 10, 32)
			if err != nil {
				return fmt.Errorf("invalid pid %q: %w", key, err)
			}
			return e.processes.Kill(ctx, int32(pid))
		}}, nil
	}
	return nil, fmt.Errorf("%s on %s: %w", a, c, ErrUnsupportedAction)
}
