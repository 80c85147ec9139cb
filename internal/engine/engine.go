// Package engine is the interaction loop. A single goroutine owns every
// category's store; collection passes and batches run on the worker pool and
// hand their results back to the loop as closures.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"vawter.tech/stopper"

	"github.com/breeze-rmm/sysmgr/internal/batch"
	"github.com/breeze-rmm/sysmgr/internal/collectors"
	"github.com/breeze-rmm/sysmgr/internal/enrich"
	"github.com/breeze-rmm/sysmgr/internal/health"
	"github.com/breeze-rmm/sysmgr/internal/inventory"
	"github.com/breeze-rmm/sysmgr/internal/logging"
	"github.com/breeze-rmm/sysmgr/internal/platform"
	"github.com/breeze-rmm/sysmgr/internal/status"
	"github.com/breeze-rmm/sysmgr/internal/workerpool"
)

var log = logging.L("engine")

var (
	// ErrBusy means the category already has a batch in flight, or a batch
	// was requested while a refresh is running.
	ErrBusy = errors.New("category is busy")
	// ErrClosed is returned once the engine has stopped.
	ErrClosed = errors.New("engine closed")
	// ErrUnknownItem means a key is not part of the current snapshot.
	ErrUnknownItem = errors.New("item not in current snapshot")
	// ErrUnknownCategory means the category is not enabled.
	ErrUnknownCategory = errors.New("category not enabled")
	// ErrPanicked wraps a panic raised by a collector, executor or locator.
	ErrPanicked = errors.New("panicked")
)

// Locator finds the executable behind a record for OpenFolder.
type Locator interface {
	Locate(ctx context.Context, r inventory.Record) (string, error)
}

// BatchResult is the outcome of ExecuteBatch: the per-item report and the
// category state after the automatic refresh that follows every batch.
type BatchResult struct {
	Report     *batch.Report
	State      inventory.ViewState
	RefreshErr error
}

type flightKind int

const (
	refreshing flightKind = iota
	executing
)

func (k flightKind) String() string {
	if k == executing {
		return "batch"
	}
	return "refresh"
}

type refreshResult struct {
	state inventory.ViewState
	err   error
}

// flight is the in-flight guard of one category. token identifies the pass
// whose completion may be applied; any other completion is stale.
type flight struct {
	kind    flightKind
	token   uint64
	started time.Time
	waiters []chan refreshResult
}

const (
	defaultMaxWorkers = 4
	defaultQueueSize  = 32
)

// Options configures an Engine. Zero sizes fall back to 4 workers and a
// queue of 32.
type Options struct {
	Reporter   status.Reporter
	Locator    Locator
	Folders    platform.FolderOpener
	MaxWorkers int
	QueueSize  int
	// StopGrace bounds how long Close waits for running passes.
	StopGrace time.Duration
}

type Engine struct {
	sections map[inventory.Category]section
	order    []inventory.Category
	executor *batch.Executor
	reporter status.Reporter
	locator  Locator
	folders  platform.FolderOpener
	pool     *workerpool.Pool
	health   *health.Monitor
	grace    time.Duration

	// Owned by the loop goroutine.
	flights map[inventory.Category]*flight
	tokens  uint64

	calls     chan func()
	exited    chan struct{} // closed when the loop returns
	sctx      *stopper.Context
	closeOnce sync.Once
}

// Registration adds one category to an Engine under construction.
type Registration func(e *Engine)

// Register binds a collector to category c.
func Register[T inventory.Record](c inventory.Category, collector Collector[T]) Registration {
	return func(e *Engine) {
		if _, dup := e.sections[c]; !dup {
			e.order = append(e.order, c)
		}
		e.sections[c] = newSection(c, collector)
	}
}

// New starts the interaction loop. The engine runs until Close or until ctx
// is cancelled.
func New(ctx context.Context, executor *batch.Executor, opts Options, regs ...Registration) *Engine {
	e := &Engine{
		sections: map[inventory.Category]section{},
		executor: executor,
		reporter: opts.Reporter,
		locator:  opts.Locator,
		folders:  opts.Folders,
		grace:    opts.StopGrace,
		flights:  map[inventory.Category]*flight{},
		calls:    make(chan func()),
		exited:   make(chan struct{}),
	}
	if e.reporter == nil {
		e.reporter = status.Discard
	}
	if e.grace <= 0 {
		e.grace = 5 * time.Second
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = defaultMaxWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	for _, reg := range regs {
		reg(e)
	}
	names := make([]string, len(e.order))
	for i, c := range e.order {
		names[i] = string(c)
	}
	e.health = health.NewMonitor(names...)
	e.pool = workerpool.New(opts.MaxWorkers, opts.QueueSize)

	e.sctx = stopper.WithContext(ctx)
	e.sctx.Go(e.loop)
	log.Debug("engine started", "categories", len(e.order))
	return e
}

func (e *Engine) loop(sctx *stopper.Context) error {
	defer close(e.exited)
	defer e.failWaiters()
	for {
		select {
		case fn := <-e.calls:
			fn()
		case <-sctx.Stopping():
			return nil
		case <-sctx.Done():
			return nil
		}
	}
}

func (e *Engine) failWaiters() {
	for c, f := range e.flights {
		for _, w := range f.waiters {
			w <- refreshResult{err: ErrClosed}
		}
		delete(e.flights, c)
	}
}

// Close stops the loop and waits for running passes, bounded by the stop
// grace period.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.sctx.Stop(e.grace)
		err = e.sctx.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), e.grace)
		defer cancel()
		e.pool.Shutdown(ctx)
		log.Debug("engine stopped")
	})
	return err
}

// do runs fn on the loop and waits for it. Once the loop has received fn it
// always runs to completion.
func (e *Engine) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	call := func() {
		defer close(done)
		fn()
	}
	select {
	case e.calls <- call:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.exited:
		return ErrClosed
	}
	<-done
	return nil
}

// post hands a completion from a worker to the loop. Completions posted
// after the loop stopped are dropped.
func (e *Engine) post(fn func()) {
	select {
	case e.calls <- fn:
	case <-e.exited:
	}
}

// Categories lists the enabled categories in registration order.
func (e *Engine) Categories() []inventory.Category {
	return append([]inventory.Category(nil), e.order...)
}

func (e *Engine) section(c inventory.Category) (section, error) {
	s, ok := e.sections[c]
	if !ok {
		return nil, fmt.Errorf("%q: %w", c, ErrUnknownCategory)
	}
	return s, nil
}

func (e *Engine) begin(c inventory.Category, kind flightKind) *flight {
	e.tokens++
	f := &flight{kind: kind, token: e.tokens, started: time.Now()}
	e.flights[c] = f
	return f
}

// current reports whether token still names the in-flight pass of c.
func (e *Engine) current(c inventory.Category, token uint64) (*flight, bool) {
	f := e.flights[c]
	if f == nil || f.token != token {
		return nil, false
	}
	return f, true
}

// Refresh re-enumerates one category and atomically replaces its snapshot.
// A refresh requested while another is running joins it. On failure the
// previous snapshot stays in place and the returned state describes it.
func (e *Engine) Refresh(ctx context.Context, c inventory.Category) (inventory.ViewState, error) {
	s, err := e.section(c)
	if err != nil {
		return inventory.ViewState{}, err
	}
	done := make(chan refreshResult, 1)
	var startErr error
	if err := e.do(ctx, func() { startErr = e.startRefresh(ctx, c, s, done) }); err != nil {
		return inventory.ViewState{}, err
	}
	if startErr != nil {
		return inventory.ViewState{}, startErr
	}

	select {
	case res := <-done:
		return res.state, res.err
	case <-ctx.Done():
		_ = e.do(context.Background(), func() { e.leave(c, done) })
		return inventory.ViewState{}, ctx.Err()
	case <-e.exited:
		return inventory.ViewState{}, ErrClosed
	}
}

func (e *Engine) startRefresh(ctx context.Context, c inventory.Category, s section, done chan refreshResult) error {
	if f := e.flights[c]; f != nil {
		if f.kind == executing {
			return fmt.Errorf("refresh %s: %w", c, ErrBusy)
		}
		f.waiters = append(f.waiters, done)
		log.Debug("joining in-flight refresh", logging.KeyCategory, string(c))
		return nil
	}

	f := e.begin(c, refreshing)
	f.waiters = append(f.waiters, done)
	token := f.token
	status.Infof(ctx, e.reporter, "Loading %s...", c)

	ok := e.pool.Submit("collect "+string(c), func(pctx context.Context) {
		apply, n, err := s.collect(pctx)
		e.post(func() { e.finishRefresh(ctx, c, s, token, apply, n, err) })
	})
	if !ok {
		delete(e.flights, c)
		return fmt.Errorf("refresh %s: worker pool unavailable: %w", c, ErrBusy)
	}
	return nil
}

func (e *Engine) finishRefresh(ctx context.Context, c inventory.Category, s section, token uint64, apply func() inventory.ViewState, n int, err error) {
	f, ok := e.current(c, token)
	if !ok {
		log.Debug("discarding stale collection pass", logging.KeyCategory, string(c))
		return
	}
	delete(e.flights, c)

	res := refreshResult{err: err}
	if err != nil {
		res.state = s.state()
		e.reportEnumerationFailure(ctx, c, res.state, err)
	} else {
		res.state = apply()
		e.health.Update(string(c), health.Healthy, "")
		status.Successf(ctx, e.reporter, "%s refreshed", c.Title())
		log.Info("category refreshed", logging.KeyCategory, string(c), "items", n,
			logging.KeyDurationMs, time.Since(f.started).Milliseconds())
	}
	for _, w := range f.waiters {
		w <- res
	}
}

// reportEnumerationFailure marks the category degraded while an older
// snapshot is still shown, and unhealthy when there has never been one.
func (e *Engine) reportEnumerationFailure(ctx context.Context, c inventory.Category, kept inventory.ViewState, err error) {
	cause := err
	var enumErr *collectors.EnumerationError
	if errors.As(err, &enumErr) {
		cause = enumErr.Err
	}
	if kept.Generation > 0 {
		e.health.Update(string(c), health.Degraded, cause.Error())
	} else {
		e.health.Update(string(c), health.Unhealthy, cause.Error())
	}
	status.Errorf(ctx, e.reporter, "Error loading %s: %v", c, cause)
	log.Warn("category refresh failed, keeping last snapshot", logging.KeyCategory, string(c),
		logging.KeyError, cause.Error())
}

// leave drops a waiter whose caller gave up. A refresh nobody waits for is
// abandoned and its completion will be discarded.
func (e *Engine) leave(c inventory.Category, done chan refreshResult) {
	f := e.flights[c]
	if f == nil || f.kind != refreshing {
		return
	}
	for i, w := range f.waiters {
		if w == done {
			f.waiters = append(f.waiters[:i], f.waiters[i+1:]...)
			break
		}
	}
	if len(f.waiters) == 0 {
		delete(e.flights, c)
		log.Debug("refresh abandoned", logging.KeyCategory, string(c))
	}
}

// RefreshAll refreshes every enabled category concurrently. Failures are
// joined; a failing category never blocks the others.
func (e *Engine) RefreshAll(ctx context.Context) (map[inventory.Category]inventory.ViewState, error) {
	status.Infof(ctx, e.reporter, "Loading data...")

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		errs   []error
		states = make(map[inventory.Category]inventory.ViewState, len(e.order))
	)
	for _, c := range e.order {
		wg.Add(1)
		go func(c inventory.Category) {
			defer wg.Done()
			st, err := e.Refresh(ctx, c)
			mu.Lock()
			defer mu.Unlock()
			states[c] = st
			if err != nil {
				errs = append(errs, err)
			}
		}(c)
	}
	wg.Wait()

	status.Infof(ctx, e.reporter, "Ready")
	return states, errors.Join(errs...)
}

// SetFilter changes the search query of one category.
func (e *Engine) SetFilter(ctx context.Context, c inventory.Category, query string) (inventory.ViewState, error) {
	s, err := e.section(c)
	if err != nil {
		return inventory.ViewState{}, err
	}
	var st inventory.ViewState
	err = e.do(ctx, func() { st = s.setFilter(query) })
	return st, err
}

// SetSelected marks one item of the current snapshot.
func (e *Engine) SetSelected(ctx context.Context, c inventory.Category, key string, selected bool) (inventory.ViewState, error) {
	s, err := e.section(c)
	if err != nil {
		return inventory.ViewState{}, err
	}
	var (
		st    inventory.ViewState
		found bool
	)
	if err := e.do(ctx, func() {
		found = s.setSelected(key, selected)
		st = s.state()
	}); err != nil {
		return st, err
	}
	if !found {
		return st, fmt.Errorf("%s %q: %w", c.Singular(), key, ErrUnknownItem)
	}
	return st, nil
}

// SelectAll sets the selection of every visible item.
func (e *Engine) SelectAll(ctx context.Context, c inventory.Category, selected bool) (inventory.ViewState, error) {
	s, err := e.section(c)
	if err != nil {
		return inventory.ViewState{}, err
	}
	var st inventory.ViewState
	err = e.do(ctx, func() {
		s.selectAll(selected)
		st = s.state()
	})
	return st, err
}

// View copies the visible rows of one category.
func (e *Engine) View(ctx context.Context, c inventory.Category) (View, error) {
	s, err := e.section(c)
	if err != nil {
		return View{}, err
	}
	var v View
	err = e.do(ctx, func() { v = s.view() })
	return v, err
}

// Busy reports whether c has a refresh or batch in flight.
func (e *Engine) Busy(ctx context.Context, c inventory.Category) (bool, error) {
	var busy bool
	err := e.do(ctx, func() { busy = e.flights[c] != nil })
	return busy, err
}

// ExecuteBatch applies action to keys, or when no keys are given to the
// items that are both selected and visible. The batch itself is not
// cancelled by ctx; the caller only stops waiting for it. A completed batch
// is followed by a refresh of the category.
func (e *Engine) ExecuteBatch(ctx context.Context, c inventory.Category, action batch.Action, keys ...string) (*BatchResult, error) {
	s, err := e.section(c)
	if err != nil {
		return nil, err
	}
	if !batch.Supports(c, action) {
		return nil, fmt.Errorf("%s on %s: %w", action, c, batch.ErrUnsupportedAction)
	}

	type outcome struct {
		res *BatchResult
		err error
	}
	done := make(chan outcome, 1)
	var startErr error
	err = e.do(ctx, func() {
		if f := e.flights[c]; f != nil {
			startErr = fmt.Errorf("%s %s while %s is running: %w", action, c, f.kind, ErrBusy)
			return
		}
		targets, err := e.targets(c, s, keys)
		if err != nil {
			startErr = err
			return
		}
		token := e.begin(c, executing).token
		bctx := context.WithoutCancel(ctx)

		ok := e.pool.Submit(fmt.Sprintf("%s %s", action, c), func(pctx context.Context) {
			report, runErr := e.execute(bctx, c, action, targets)
			var (
				apply      func() inventory.ViewState
				refreshErr error
			)
			if runErr == nil {
				status.Infof(bctx, e.reporter, "Loading %s...", c)
				apply, _, refreshErr = s.collect(pctx)
			}
			e.post(func() {
				res, err := e.finishBatch(bctx, c, s, token, report, runErr, apply, refreshErr)
				done <- outcome{res, err}
			})
		})
		if !ok {
			delete(e.flights, c)
			startErr = fmt.Errorf("%s %s: worker pool unavailable: %w", action, c, ErrBusy)
		}
	})
	if err != nil {
		return nil, err
	}
	if startErr != nil {
		return nil, startErr
	}

	select {
	case out := <-done:
		return out.res, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.exited:
		return nil, ErrClosed
	}
}

// execute runs a batch, turning a panic outside the per-item guard into an
// error so the flight is always released.
func (e *Engine) execute(ctx context.Context, c inventory.Category, action batch.Action, targets []inventory.Record) (report *batch.Report, err error) {
	defer func() {
		if perr := recovered(recover()); perr != nil {
			log.Error("batch panicked", logging.KeyCategory, string(c), logging.KeyAction, string(action),
				logging.KeyError, perr.Error(), "stack", string(debug.Stack()))
			report, err = nil, perr
		}
	}()
	return e.executor.Execute(ctx, c, action, targets)
}

func (e *Engine) targets(c inventory.Category, s section, keys []string) ([]inventory.Record, error) {
	if len(keys) == 0 {
		return s.selected(), nil
	}
	out := make([]inventory.Record, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if seen[k] {
			continue
		}
		seen[k] = true
		r, ok := s.lookup(k)
		if !ok {
			return nil, fmt.Errorf("%s %q: %w", c.Singular(), k, ErrUnknownItem)
		}
		out = append(out, r)
	}
	return out, nil
}

func (e *Engine) finishBatch(ctx context.Context, c inventory.Category, s section, token uint64, report *batch.Report,
	runErr error, apply func() inventory.ViewState, refreshErr error) (*BatchResult, error) {
	if _, ok := e.current(c, token); !ok {
		return nil, ErrClosed
	}
	delete(e.flights, c)
	if runErr != nil {
		return nil, runErr
	}

	res := &BatchResult{Report: report, RefreshErr: refreshErr}
	if refreshErr != nil {
		res.State = s.state()
		e.reportEnumerationFailure(ctx, c, res.State, refreshErr)
	} else {
		res.State = apply()
		e.health.Update(string(c), health.Healthy, "")
		status.Successf(ctx, e.reporter, "%s refreshed", c.Title())
	}
	return res, nil
}

// OpenFolder opens the directory holding the executable behind one item.
// It returns the directory that was opened.
func (e *Engine) OpenFolder(ctx context.Context, c inventory.Category, key string) (string, error) {
	s, err := e.section(c)
	if err != nil {
		return "", err
	}
	if e.locator == nil || e.folders == nil {
		return "", fmt.Errorf("open folder: %w", platform.ErrUnsupported)
	}
	done := make(chan opened, 1)
	var startErr error
	if err := e.do(ctx, func() {
		record, found := s.lookup(key)
		if !found {
			startErr = fmt.Errorf("%s %q: %w", c.Singular(), key, ErrUnknownItem)
			return
		}
		if !e.pool.Submit("open folder", func(context.Context) { done <- e.openFolder(ctx, c, record) }) {
			startErr = fmt.Errorf("open folder: worker pool unavailable: %w", ErrBusy)
		}
	}); err != nil {
		return "", err
	}
	if startErr != nil {
		return "", startErr
	}

	select {
	case out := <-done:
		return out.dir, out.err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-e.exited:
		return "", ErrClosed
	}
}

type opened struct {
	dir string
	err error
}

// openFolder runs on a worker.
func (e *Engine) openFolder(ctx context.Context, c inventory.Category, record inventory.Record) (out opened) {
	defer func() {
		if err := recovered(recover()); err != nil {
			log.Error("open folder panicked", logging.KeyCategory, string(c), logging.KeyError, err.Error())
			out = opened{err: err}
		}
	}()
	exe, err := e.locator.Locate(ctx, record)
	if err != nil {
		status.Errorf(ctx, e.reporter, "Could not find the %s executable path.", c.Singular())
		return opened{err: err}
	}
	dir := enrich.ParentDir(exe)
	if err := e.folders.OpenFolder(ctx, dir); err != nil {
		status.Errorf(ctx, e.reporter, "Error opening folder: %v", err)
		return opened{err: err}
	}
	status.Successf(ctx, e.reporter, "Opened folder: %s", dir)
	return opened{dir: dir}
}

// Health returns the collection health of every enabled category.
func (e *Engine) Health() []health.Check {
	return e.health.All()
}

// HealthOverall returns the worst collection status across categories.
func (e *Engine) HealthOverall() health.Status {
	return e.health.Overall()
}

// SetControlTimeout changes the per-transition timeout of later batches.
func (e *Engine) SetControlTimeout(d time.Duration) {
	e.executor.SetControlTimeout(d)
}
