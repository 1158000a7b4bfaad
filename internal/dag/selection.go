package dag

import "sort"

// Mode selects the accounting rules of a Selection.
type Mode int

const (
	// ModeBudgeted spends one point of the node's rank per selection.
	ModeBudgeted Mode = iota
	// ModeSingle keeps at most one active node and has no budget.
	ModeSingle
)

func (m Mode) String() string {
	if m == ModeSingle {
		return "single"
	}
	return "budgeted"
}

// Selection is the mutable per-session state: selected nodes plus per-rank
// point pools. Granted nodes (defaults, already-owned skills) and forced nodes
// (exclusive-option grants) are selected but never counted against a pool.
//
// For every rank, Remaining + counted selections of that rank == Total.
type Selection struct {
	mode      Mode
	graph     *Graph
	selected  IDSet
	granted   IDSet
	forced    IDSet
	total     map[Rank]int
	remaining map[Rank]int
}

// NewSelection creates an empty selection over g with the given pools.
func NewSelection(g *Graph, mode Mode, pools map[Rank]int) *Selection {
	s := &Selection{
		mode:      mode,
		graph:     g,
		selected:  make(IDSet),
		granted:   make(IDSet),
		forced:    make(IDSet),
		total:     make(map[Rank]int),
		remaining: make(map[Rank]int),
	}
	s.SetPools(pools)
	return s
}

// Mode returns the accounting mode.
func (s *Selection) Mode() Mode { return s.mode }

// IsSelected reports whether id is in the selected set.
func (s *Selection) IsSelected(id string) bool { return s.selected.Has(id) }

// IsGranted reports whether id is unconditionally granted.
func (s *Selection) IsGranted(id string) bool { return s.granted.Has(id) }

// IsForced reports whether id is force-selected by the active option.
func (s *Selection) IsForced(id string) bool { return s.forced.Has(id) }

// Exempt reports whether id is outside user control and point accounting.
func (s *Selection) Exempt(id string) bool {
	return s.granted.Has(id) || s.forced.Has(id)
}

// Satisfies reports whether id counts as a satisfied prerequisite. In single
// mode only granted and forced nodes satisfy prerequisites, since the one
// active choice is replaced rather than accumulated.
func (s *Selection) Satisfies(id string) bool {
	if s.mode == ModeSingle {
		return s.Exempt(id)
	}
	return s.selected.Has(id)
}

// Remaining returns the unspent points of rank r.
func (s *Selection) Remaining(r Rank) int { return s.remaining[r] }

// Total returns the pool size of rank r.
func (s *Selection) Total(r Rank) int { return s.total[r] }

// Ranks returns every rank with a pool, sorted.
func (s *Selection) Ranks() []Rank {
	out := make([]Rank, 0, len(s.total))
	for r := range s.total {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Pools returns a copy of the remaining points per rank.
func (s *Selection) Pools() map[Rank]int {
	out := make(map[Rank]int, len(s.remaining))
	for r, n := range s.remaining {
		out[r] = n
	}
	return out
}

// SetPools replaces the pool totals; remaining points are recomputed from the
// counted selections so the conservation invariant keeps holding.
func (s *Selection) SetPools(pools map[Rank]int) {
	s.total = make(map[Rank]int, len(pools))
	for r, n := range pools {
		s.total[r] = n
	}
	s.remaining = make(map[Rank]int, len(pools))
	for r, n := range s.total {
		s.remaining[r] = n
	}
	if s.mode != ModeBudgeted {
		return
	}
	for id := range s.selected {
		if s.Exempt(id) {
			continue
		}
		if n := s.graph.Node(id); n != nil {
			s.remaining[n.Rank]--
		}
	}
}

// Grant marks id as unconditionally selected.
func (s *Selection) Grant(id string) {
	s.refundIfCounted(id)
	s.granted.Add(id)
	s.selected.Add(id)
}

// Force marks id as selected by the active exclusive option.
func (s *Selection) Force(id string) {
	s.refundIfCounted(id)
	s.forced.Add(id)
	s.selected.Add(id)
}

// Unforce releases a forced node. It stays selected only if it is also granted.
func (s *Selection) Unforce(id string) {
	if !s.forced.Has(id) {
		return
	}
	delete(s.forced, id)
	if !s.granted.Has(id) {
		delete(s.selected, id)
	}
}

// Forced returns the forced nodes.
func (s *Selection) Forced() []string { return s.forced.Sorted() }

// Select adds id, spending a point of its rank in budgeted mode.
func (s *Selection) Select(id string) {
	if s.selected.Has(id) {
		return
	}
	s.selected.Add(id)
	if s.mode == ModeBudgeted && !s.Exempt(id) {
		if n := s.graph.Node(id); n != nil {
			s.remaining[n.Rank]--
		}
	}
}

// Deselect removes id, refunding its point in budgeted mode. Exempt nodes are
// left alone.
func (s *Selection) Deselect(id string) {
	if !s.selected.Has(id) || s.Exempt(id) {
		return
	}
	s.refundIfCounted(id)
	delete(s.selected, id)
}

func (s *Selection) refundIfCounted(id string) {
	if s.mode != ModeBudgeted || !s.selected.Has(id) || s.Exempt(id) {
		return
	}
	if n := s.graph.Node(id); n != nil {
		s.remaining[n.Rank]++
	}
}

// Selected returns every selected node in catalog order.
func (s *Selection) Selected() []string {
	return s.inOrder(func(id string) bool { return s.selected.Has(id) })
}

// Chosen returns selected nodes that are neither granted nor forced, in
// catalog order: the user's own picks.
func (s *Selection) Chosen() []string {
	return s.inOrder(func(id string) bool { return s.selected.Has(id) && !s.Exempt(id) })
}

func (s *Selection) inOrder(keep func(string) bool) []string {
	var out []string
	for _, id := range s.graph.IDs() {
		if keep(id) {
			out = append(out, id)
		}
	}
	return out
}

// CountedIn returns how many counted selections rank r holds.
func (s *Selection) CountedIn(r Rank) int {
	n := 0
	for id := range s.selected {
		if s.Exempt(id) {
			continue
		}
		if node := s.graph.Node(id); node != nil && node.Rank == r {
			n++
		}
	}
	return n
}

// Clone returns a deep copy.
func (s *Selection) Clone() *Selection {
	c := &Selection{
		mode:      s.mode,
		graph:     s.graph,
		selected:  make(IDSet, len(s.selected)),
		granted:   make(IDSet, len(s.granted)),
		forced:    make(IDSet, len(s.forced)),
		total:     make(map[Rank]int, len(s.total)),
		remaining: make(map[Rank]int, len(s.remaining)),
	}
	c.selected.Union(s.selected)
	c.granted.Union(s.granted)
	c.forced.Union(s.forced)
	for r, n := range s.total {
		c.total[r] = n
	}
	for r, n := range s.remaining {
		c.remaining[r] = n
	}
	return c
}
