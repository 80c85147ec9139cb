package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/breeze-rmm/sysmgr/internal/audit"
	"github.com/breeze-rmm/sysmgr/internal/inventory"
	"github.com/breeze-rmm/sysmgr/internal/platform"
	"github.com/breeze-rmm/sysmgr/internal/status"
)

// fakeServices records every control call and lets a test fail or stall
// particular services.
type fakeServices struct {
	mu     sync.Mutex
	calls  []string
	fail   map[string]error
	stall  map[string]bool
	states map[string]inventory.ServiceStatus
}

func newFakeServices() *fakeServices {
	return &fakeServices{
		fail:   map[string]error{},
		stall:  map[string]bool{},
		states: map[string]inventory.ServiceStatus{},
	}
}

func (f *fakeServices) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeServices) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeServices) ListServices(context.Context) ([]platform.ServiceEntry, error) {
	return nil, nil
}

func (f *fakeServices) ServiceStatus(_ context.Context, name string) (inventory.ServiceStatus, error) {
	return f.states[name], nil
}

func (f *fakeServices) transition(ctx context.Context, verb, name string, target inventory.ServiceStatus) error {
	f.record(verb + ":" + name)
	if err := f.fail[name]; err != nil {
		return err
	}
	if f.stall[name] {
		<-ctx.Done()
		return fmt.Errorf("service %s: %w", name, platform.ErrTimeout)
	}
	f.mu.Lock()
	f.states[name] = target
	f.mu.Unlock()
	return nil
}

func (f *fakeServices) StartService(ctx context.Context, name string) error {
	return f.transition(ctx, "start", name, inventory.ServiceRunning)
}

func (f *fakeServices) StopService(ctx context.Context, name string) error {
	return f.transition(ctx, "stop", name, inventory.ServiceStopped)
}

func (f *fakeServices) ReadServiceConfig(string) (platform.ServiceConfig, error) {
	return platform.ServiceConfig{}, nil
}

type fakeTasks struct {
	platform.TaskPort
	calls   []string
	missing map[string]bool
}

func (f *fakeTasks) op(verb, path string) error {
	f.calls = append(f.calls, verb+":"+path)
	if f.missing[path] {
		return fmt.Errorf("task %s: %w", path, platform.ErrNotFound)
	}
	return nil
}

func (f *fakeTasks) RunTask(_ context.Context, p string) error    { return f.op("run", p) }
func (f *fakeTasks) StopTask(_ context.Context, p string) error   { return f.op("stop", p) }
func (f *fakeTasks) DeleteTask(_ context.Context, p string) error { return f.op("delete", p) }
func (f *fakeTasks) SetTaskEnabled(_ context.Context, p string, on bool) error {
	return f.op(fmt.Sprintf("enabled=%t", on), p)
}

type fakeProcesses struct {
	platform.ProcessPort
	killed []int32
}

func (f *fakeProcesses) Kill(_ context.Context, pid int32) error {
	f.killed = append(f.killed, pid)
	return nil
}

func svcItems(names ...string) []inventory.Record {
	items := make([]inventory.Record, len(names))
	for i, n := range names {
		items[i] = inventory.ServiceRecord{Name: n, DisplayName: n}
	}
	return items
}

func TestExecuteNoSelectionMakesNoCalls(t *testing.T) {
	svcs := newFakeServices()
	var rec status.Recorder
	confirmed := false
	e := NewExecutor(svcs, nil, nil, Options{
		Reporter: &rec,
		Confirmer: ConfirmFunc(func(context.Context, Prompt) (bool, error) {
			confirmed = true
			return true, nil
		}),
	})

	report, err := e.Execute(context.Background(), inventory.Services, Start, nil)
	if !errors.Is(err, ErrNoSelection) || report != nil {
		t.Fatalf("expected ErrNoSelection, got %v %v", report, err)
	}
	if len(svcs.Calls()) != 0 || confirmed {
		t.Fatal("no control call or prompt may happen without a selection")
	}
	if last, _ := rec.Last(); last.Text != "Please select at least one service." {
		t.Fatalf("unexpected status %q", last.Text)
	}
}

func TestExecuteIsolatesItemFailure(t *testing.T) {
	svcs := newFakeServices()
	svcs.fail["two"] = errors.New("access is denied")
	var rec status.Recorder
	e := NewExecutor(svcs, nil, nil, Options{Reporter: &rec})

	report, err := e.Execute(context.Background(), inventory.Services, Start, svcItems("one", "two", "three"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	calls := svcs.Calls()
	want := []string{"start:one", "start:two", "start:three"}
	if strings.Join(calls, ",") != strings.Join(want, ",") {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	if report.Succeeded() != 2 || report.Failed() != 1 {
		t.Fatalf("unexpected report %s", report)
	}
	if !report.Outcomes[0].OK() || report.Outcomes[1].OK() || !report.Outcomes[2].OK() {
		t.Fatalf("unexpected outcomes %+v", report.Outcomes)
	}

	var aerr *ActionError
	if !errors.As(report.Outcomes[1].Err, &aerr) || aerr.Key != "two" {
		t.Fatalf("expected ActionError for item two, got %v", report.Outcomes[1].Err)
	}
	if report.Err() == nil {
		t.Fatal("Report.Err should carry the failure")
	}

	texts := rec.Texts()
	wantTexts := []string{
		"Starting one...", "Started: one",
		"Starting two...", "Error starting two: access is denied",
		"Starting three...", "Started: three",
	}
	if strings.Join(texts, "|") != strings.Join(wantTexts, "|") {
		t.Fatalf("status lines = %q", texts)
	}
}

func TestExecuteDeclinedTouchesNothing(t *testing.T) {
	svcs := newFakeServices()
	var prompt Prompt
	e := NewExecutor(svcs, nil, nil, Options{
		Confirmer: ConfirmFunc(func(_ context.Context, p Prompt) (bool, error) {
			prompt = p
			return false, nil
		}),
	})

	_, err := e.Execute(context.Background(), inventory.Services, Stop, svcItems("a", "b"))
	if !errors.Is(err, ErrDeclined) {
		t.Fatalf("expected ErrDeclined, got %v", err)
	}
	if len(svcs.Calls()) != 0 {
		t.Fatalf("declined batch made calls: %v", svcs.Calls())
	}
	if prompt.Message != "Stop 2 service(s)?" {
		t.Fatalf("prompt = %q", prompt.Message)
	}
}

func TestExecuteRestartStopsThenStarts(t *testing.T) {
	svcs := newFakeServices()
	e := NewExecutor(svcs, nil, nil, Options{})

	if _, err := e.Execute(context.Background(), inventory.Services, Restart, svcItems("W32Time", "Spooler")); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := "stop:W32Time,start:W32Time,stop:Spooler,start:Spooler"
	if got := strings.Join(svcs.Calls(), ","); got != want {
		t.Fatalf("calls = %s, want %s", got, want)
	}
}

func TestExecuteTimeoutFailsItemAndContinues(t *testing.T) {
	svcs := newFakeServices()
	svcs.stall["slow"] = true
	e := NewExecutor(svcs, nil, nil, Options{ControlTimeout: 20 * time.Millisecond})

	report, err := e.Execute(context.Background(), inventory.Services, Start, svcItems("slow", "fast"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if report.Outcomes[0].OK() || !errors.Is(report.Outcomes[0].Err, platform.ErrTimeout) {
		t.Fatalf("expected timeout for slow, got %v", report.Outcomes[0].Err)
	}
	if !report.Outcomes[1].OK() {
		t.Fatalf("fast should still start, got %v", report.Outcomes[1].Err)
	}
}

func TestExecuteTaskDeleteNotFoundIsActionFailure(t *testing.T) {
	tasks := &fakeTasks{missing: map[string]bool{`\Gone`: true}}
	var prompt Prompt
	e := NewExecutor(nil, tasks, nil, Options{
		Confirmer: ConfirmFunc(func(_ context.Context, p Prompt) (bool, error) {
			prompt = p
			return true, nil
		}),
	})
	items := []inventory.Record{
		inventory.TaskRecord{Path: `\MyFolder\Backup`, Name: "Backup"},
		inventory.TaskRecord{Path: `\Gone`, Name: "Gone"},
	}

	report, err := e.Execute(context.Background(), inventory.Tasks, Delete, items)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if prompt.Severity != SeverityDanger || prompt.Message != "DELETE 2 task(s)?\n\nThis action cannot be undone!" {
		t.Fatalf("unexpected prompt %+v", prompt)
	}
	if !report.Outcomes[0].OK() || !errors.Is(report.Outcomes[1].Err, platform.ErrNotFound) {
		t.Fatalf("unexpected outcomes %+v", report.Outcomes)
	}
	if got := strings.Join(tasks.calls, ","); got != `delete:\MyFolder\Backup,delete:\Gone` {
		t.Fatalf("calls = %s", got)
	}
}

func TestExecuteTaskEnableDisable(t *testing.T) {
	tasks := &fakeTasks{}
	e := NewExecutor(nil, tasks, nil, Options{})
	items := []inventory.Record{inventory.TaskRecord{Path: `\T`, Name: "T"}}

	if _, err := e.Execute(context.Background(), inventory.Tasks, Disable, items); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Execute(context.Background(), inventory.Tasks, Enable, items); err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(tasks.calls, ","); got != `enabled=false:\T,enabled=true:\T` {
		t.Fatalf("calls = %s", got)
	}
}

func TestExecuteTerminateParsesPID(t *testing.T) {
	procs := &fakeProcesses{}
	var prompt Prompt
	e := NewExecutor(nil, nil, procs, Options{
		Confirmer: ConfirmFunc(func(_ context.Context, p Prompt) (bool, error) {
			prompt = p
			return true, nil
		}),
	})
	items := []inventory.Record{inventory.ProcessRecord{PID: 4242, Name: "notepad.exe"}}

	report, err := e.Execute(context.Background(), inventory.Processes, Terminate, items)
	if err != nil || report.Failed() != 0 {
		t.Fatalf("Execute: %v %v", report, err)
	}
	if len(procs.killed) != 1 || procs.killed[0] != 4242 {
		t.Fatalf("killed = %v", procs.killed)
	}
	if prompt.Message != "End 1 process(es)?\n\nWarning: This may cause data loss!" {
		t.Fatalf("prompt = %q", prompt.Message)
	}
}

func TestExecuteUnsupportedAction(t *testing.T) {
	e := NewExecutor(newFakeServices(), nil, nil, Options{})
	_, err := e.Execute(context.Background(), inventory.Services, Delete, svcItems("x"))
	if !errors.Is(err, ErrUnsupportedAction) {
		t.Fatalf("expected ErrUnsupportedAction, got %v", err)
	}
}

func TestExecuteConfirmError(t *testing.T) {
	e := NewExecutor(newFakeServices(), nil, nil, Options{
		Confirmer: ConfirmFunc(func(context.Context, Prompt) (bool, error) {
			return false, errors.New("stdin closed")
		}),
	})
	_, err := e.Execute(context.Background(), inventory.Services, Start, svcItems("x"))
	if err == nil || errors.Is(err, ErrDeclined) {
		t.Fatalf("expected confirmation error, got %v", err)
	}
}

func TestParseActionAndSupports(t *testing.T) {
	if a, ok := ParseAction("Kill"); !ok || a != Terminate {
		t.Fatalf("ParseAction(Kill) = %s, %v", a, ok)
	}
	if _, ok := ParseAction("explode"); ok {
		t.Fatal("unknown action parsed")
	}
	if !Supports(inventory.Tasks, Stop) || Supports(inventory.Processes, Stop) {
		t.Fatal("unexpected support table")
	}
	if got := ActionsFor(inventory.Services); len(got) != 3 {
		t.Fatalf("ActionsFor(services) = %v", got)
	}
	if p := PromptFor(inventory.Tasks, Run, 3); p.Message != "Run 3 task(s)?" {
		t.Fatalf("prompt = %q", p.Message)
	}
}

func TestExecuteWritesAuditTrail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	trail, err := audit.Open(path, 1, 1)
	if err != nil {
		t.Fatalf("audit.Open: %v", err)
	}
	svcs := newFakeServices()
	svcs.fail["two"] = errors.New("access is denied")
	e := NewExecutor(svcs, nil, nil, Options{Audit: trail})

	report, err := e.Execute(context.Background(), inventory.Services, Stop, svcItems("one", "two"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	e.confirmer = ConfirmFunc(func(context.Context, Prompt) (bool, error) { return false, nil })
	if _, err := e.Execute(context.Background(), inventory.Services, Stop, svcItems("one")); !errors.Is(err, ErrDeclined) {
		t.Fatalf("expected ErrDeclined, got %v", err)
	}
	trail.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var events []string
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var entry audit.Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("unmarshal %q: %v", line, err)
		}
		if entry.EventType != audit.EventBatchDeclined && entry.BatchID != report.ID {
			t.Fatalf("entry %s has batch %q, want %q", entry.EventType, entry.BatchID, report.ID)
		}
		events = append(events, entry.EventType)
	}
	want := []string{
		audit.EventBatchStarted, audit.EventItemSucceeded, audit.EventItemFailed,
		audit.EventBatchFinished, audit.EventBatchDeclined,
	}
	if strings.Join(events, ",") != strings.Join(want, ",") {
		t.Fatalf("events = %v, want %v", events, want)
	}
}
