package dag

// Result is the outcome of a lock recompute.
type Result struct {
	// Changed holds nodes whose locked or selected state differs from the
	// previous projection.
	Changed IDSet
	// AutoDeselected holds nodes that were selected while locked and have
	// been removed from the selection and refunded.
	AutoDeselected IDSet
}

type nodeState struct {
	locked   bool
	selected bool
}

// Availability projects lock state from a Selection. It keeps the previous
// projection only to report what changed; the Selection stays the source of
// truth.
type Availability struct {
	graph  *Graph
	state  map[string]nodeState
	zero   map[Rank]bool // rank pool exhausted at the last projection
	primed bool
}

// NewAvailability creates an engine over g. The first Recompute is always full.
func NewAvailability(g *Graph) *Availability {
	return &Availability{
		graph: g,
		state: make(map[string]nodeState, g.NodeCount()),
		zero:  make(map[Rank]bool),
	}
}

// Locked reports whether id was locked at the last projection.
func (a *Availability) Locked(id string) bool {
	return a.state[id].locked
}

// LockMap returns a copy of the last projected lock state.
func (a *Availability) LockMap() map[string]bool {
	out := make(map[string]bool, len(a.state))
	for id, st := range a.state {
		out[id] = st.locked
	}
	return out
}

// Recompute re-evaluates lock state. With seeds == nil every node is
// evaluated; otherwise only the seeds, their transitive dependents, and every
// node of a rank whose pool crossed zero since the last projection.
//
// Locked nodes that are still selected are deselected and refunded, and their
// dependents are evaluated again until nothing changes.
func (a *Availability) Recompute(sel *Selection, seeds []string) Result {
	res := Result{Changed: make(IDSet), AutoDeselected: make(IDSet)}
	before := make(map[string]nodeState)
	touched := make(IDSet)

	var work IDSet
	if seeds == nil || !a.primed {
		work = NewIDSet(a.graph.IDs()...)
	} else {
		work = a.graph.Closure(seeds)
		work.Union(a.zeroFlips(sel))
	}
	a.markZero(sel)

	for len(work) > 0 {
		next := make(IDSet)
		for _, id := range a.graph.IDs() {
			if !work.Has(id) {
				continue
			}
			if !touched.Has(id) {
				touched.Add(id)
				before[id] = a.state[id]
			}
			locked := a.evaluate(sel, id)
			if locked && sel.IsSelected(id) {
				sel.Deselect(id)
				res.AutoDeselected.Add(id)
				for _, dep := range a.graph.Dependents(id) {
					next.Add(dep)
				}
			}
			a.state[id] = nodeState{locked: locked, selected: sel.IsSelected(id)}
		}
		next.Union(a.zeroFlips(sel))
		a.markZero(sel)
		work = next
	}

	for id := range touched {
		prev, seen := before[id]
		if !a.primed || !seen || prev != a.state[id] {
			res.Changed.Add(id)
		}
	}
	a.primed = true
	return res
}

// evaluate applies the lock rules to a single node.
func (a *Availability) evaluate(sel *Selection, id string) bool {
	if sel.Exempt(id) {
		return false
	}
	n := a.graph.Node(id)
	if sel.Mode() == ModeBudgeted && sel.Remaining(n.Rank) <= 0 && !sel.IsSelected(id) {
		return true
	}
	if len(n.PrerequisiteIDs) == 0 {
		return false
	}
	for _, p := range n.PrerequisiteIDs {
		if sel.Satisfies(p) {
			return false
		}
	}
	return true
}

// zeroFlips returns every node of a rank whose exhausted state differs from
// the last projection. Budget exhaustion locks a whole rank at once.
func (a *Availability) zeroFlips(sel *Selection) IDSet {
	out := make(IDSet)
	if sel.Mode() != ModeBudgeted {
		return out
	}
	for _, r := range a.graph.Ranks() {
		if a.zero[r] == (sel.Remaining(r) <= 0) {
			continue
		}
		for _, id := range a.graph.InRank(r) {
			out.Add(id)
		}
	}
	return out
}

func (a *Availability) markZero(sel *Selection) {
	for _, r := range a.graph.Ranks() {
		a.zero[r] = sel.Remaining(r) <= 0
	}
}
