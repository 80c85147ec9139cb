package inventory

import "fmt"

// Item pairs a record with the operator's transient selection flag.
type Item[T Record] struct {
	Record   T    `json:"record" yaml:"record"`
	Selected bool `json:"selected" yaml:"selected"`
}

// ViewState summarises a store after a mutation so the presentation layer
// can redraw counters without observing individual items.
type ViewState struct {
	Category Category `json:"category"`
	Query    string   `json:"query,omitempty"`
	Selected int      `json:"selected"`
	Visible  int      `json:"visible"`
	Total    int      `json:"total"`
	// Generation increments on every snapshot replacement.
	Generation uint64 `json:"generation"`
}

func (v ViewState) String() string {
	return fmt.Sprintf("%d selected of %d %s", v.Selected, v.Visible, v.Category)
}

// Store holds the current snapshot of one category and the filtered view
// over it. It is not safe for concurrent use: the engine's interaction loop
// is its only owner.
type Store[T Record] struct {
	category   Category
	items      []Item[T]
	index      map[string]int
	view       []int
	query      string
	generation uint64
}

func NewStore[T Record](category Category) *Store[T] {
	return &Store[T]{category: category, index: map[string]int{}}
}

func (s *Store[T]) Category() Category { return s.category }

// Replace swaps in a whole new snapshot. Every item starts unselected and
// the current query is re-applied.
func (s *Store[T]) Replace(records []T) ViewState {
	items := make([]Item[T], len(records))
	index := make(map[string]int, len(records))
	for i, r := range records {
		items[i] = Item[T]{Record: r}
		index[r.Key()] = i
	}
	s.items = items
	s.index = index
	s.generation++
	s.refilter()
	return s.State()
}

// SetFilter changes the query and recomputes the view.
func (s *Store[T]) SetFilter(query string) ViewState {
	s.query = query
	s.refilter()
	return s.State()
}

func (s *Store[T]) Query() string { return s.query }

func (s *Store[T]) refilter() {
	view := make([]int, 0, len(s.items))
	for i := range s.items {
		if Matches(s.items[i].Record, s.query) {
			view = append(view, i)
		}
	}
	s.view = view
}

// SetSelected flips one item of the current snapshot. It reports false when
// key is not in the snapshot.
func (s *Store[T]) SetSelected(key string, selected bool) bool {
	i, ok := s.index[key]
	if !ok {
		return false
	}
	s.items[i].Selected = selected
	return true
}

// SelectAll sets the flag on every visible item and leaves hidden items
// alone. It returns how many items it touched.
func (s *Store[T]) SelectAll(selected bool) int {
	for _, i := range s.view {
		s.items[i].Selected = selected
	}
	return len(s.view)
}

// View returns a copy of the visible items in snapshot order.
func (s *Store[T]) View() []Item[T] {
	out := make([]Item[T], len(s.view))
	for n, i := range s.view {
		out[n] = s.items[i]
	}
	return out
}

// All returns a copy of the whole snapshot.
func (s *Store[T]) All() []Item[T] {
	return append([]Item[T](nil), s.items...)
}

// Selected returns the records that are both selected and visible; these
// are the targets of a batch command.
func (s *Store[T]) Selected() []T {
	var out []T
	for _, i := range s.view {
		if s.items[i].Selected {
			out = append(out, s.items[i].Record)
		}
	}
	return out
}

// Lookup finds a record of the current snapshot by key.
func (s *Store[T]) Lookup(key string) (T, bool) {
	i, ok := s.index[key]
	if !ok {
		var zero T
		return zero, false
	}
	return s.items[i].Record, true
}

func (s *Store[T]) State() ViewState {
	selected := 0
	for _, i := range s.view {
		if s.items[i].Selected {
			selected++
		}
	}
	return ViewState{
		Category:   s.category,
		Query:      s.query,
		Selected:   selected,
		Visible:    len(s.view),
		Total:      len(s.items),
		Generation: s.generation,
	}
}
