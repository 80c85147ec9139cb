package engine

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/breeze-rmm/sysmgr/internal/inventory"
	"github.com/breeze-rmm/sysmgr/internal/logging"
)

// Collector produces one category's snapshot.
type Collector[T inventory.Record] interface {
	Collect(ctx context.Context) ([]T, error)
}

// CollectorFunc adapts a function to Collector.
type CollectorFunc[T inventory.Record] func(ctx context.Context) ([]T, error)

func (f CollectorFunc[T]) Collect(ctx context.Context) ([]T, error) { return f(ctx) }

// Row is one item of a view handed to the presentation layer.
type Row struct {
	Record   inventory.Record
	Selected bool
}

// View is a copy of a category's visible items and counters.
type View struct {
	State inventory.ViewState
	Rows  []Row
}

// section erases the record type of one category's store so the loop can
// keep all three in one map.
type section interface {
	collect(ctx context.Context) (apply func() inventory.ViewState, count int, err error)
	setFilter(query string) inventory.ViewState
	setSelected(key string, selected bool) bool
	selectAll(selected bool)
	state() inventory.ViewState
	view() View
	selected() []inventory.Record
	lookup(key string) (inventory.Record, bool)
}

type typedSection[T inventory.Record] struct {
	store     *inventory.Store[T]
	collector Collector[T]
}

func newSection[T inventory.Record](c inventory.Category, collector Collector[T]) *typedSection[T] {
	return &typedSection[T]{store: inventory.NewStore[T](c), collector: collector}
}

// collect runs on a worker. The returned apply closure must only be called
// on the interaction loop. A panicking collector is reported as an error so
// the pass still completes.
func (s *typedSection[T]) collect(ctx context.Context) (apply func() inventory.ViewState, n int, err error) {
	defer func() {
		if err = recovered(recover()); err != nil {
			log.Error("collector panicked", logging.KeyCategory, string(s.store.Category()),
				logging.KeyError, err.Error(), "stack", string(debug.Stack()))
			apply, n = nil, 0
		}
	}()
	records, err := s.collector.Collect(ctx)
	if err != nil {
		return nil, 0, err
	}
	return func() inventory.ViewState { return s.store.Replace(records) }, len(records), nil
}

func (s *typedSection[T]) setFilter(query string) inventory.ViewState {
	return s.store.SetFilter(query)
}

func (s *typedSection[T]) setSelected(key string, selected bool) bool {
	return s.store.SetSelected(key, selected)
}

func (s *typedSection[T]) selectAll(selected bool) { s.store.SelectAll(selected) }

func (s *typedSection[T]) state() inventory.ViewState { return s.store.State() }

func (s *typedSection[T]) view() View {
	items := s.store.View()
	rows := make([]Row, len(items))
	for i, it := range items {
		rows[i] = Row{Record: it.Record, Selected: it.Selected}
	}
	return View{State: s.store.State(), Rows: rows}
}

func (s *typedSection[T]) selected() []inventory.Record {
	sel := s.store.Selected()
	out := make([]inventory.Record, len(sel))
	for i, r := range sel {
		out[i] = r
	}
	return out
}

func (s *typedSection[T]) lookup(key string) (inventory.Record, bool) {
	r, ok := s.store.Lookup(key)
	if !ok {
		return nil, false
	}
	return r, true
}

// recovered turns a recovered panic value into an error; nil stays nil.
func recovered(r any) error {
	if r == nil {
		return nil
	}
	if err, ok := r.(error); ok {
		return fmt.Errorf("%w: %w", ErrPanicked, err)
	}
	return fmt.Errorf("%w: %v", ErrPanicked, r)
}
