// Package selection enforces point budgets, dependent safety and exclusive
// options on top of the availability engine.
package selection

import (
	"errors"
	"fmt"

	"github.com/gyaneshwarpardhi/skilltree/internal/dag"
)

var (
	// ErrGraphNotBuilt is a programming fault: a controller was used without a graph.
	ErrGraphNotBuilt = errors.New("selection: graph not built")
	// ErrOptionNotFound is returned for an unknown exclusive option.
	ErrOptionNotFound = errors.New("selection: option not found")
)

// Reason explains a refused mutation. Refusals are normal outcomes, not errors.
type Reason string

const (
	ReasonNone                  Reason = ""
	ReasonLockedOrDefault       Reason = "LockedOrDefault"
	ReasonNoPointsRemaining     Reason = "NoPointsRemaining"
	ReasonDependentRequiresThis Reason = "DependentRequiresThis"
)

// Outcome reports what a mutation did.
type Outcome struct {
	OK      bool
	Changed dag.IDSet
	Reason  Reason
	// Dependent names the selected skill that blocked a deselect.
	Dependent string
	// AutoDeselected lists skills dropped because they became locked.
	AutoDeselected dag.IDSet
}

// Option is an exclusive bundle of bonus pools and forced grants.
type Option struct {
	ID     string
	Name   string
	Pools  map[dag.Rank]int
	Grants []string
}

// Definition describes a selector flow independent of any session.
type Definition struct {
	ID       string
	Name     string
	Mode     dag.Mode
	Pools    map[dag.Rank]int
	Defaults []string
	Options  []Option
}

// Controller owns one session's selection and availability projection.
// It is not safe for concurrent use; callers serialise access.
type Controller struct {
	graph   *dag.Graph
	def     Definition
	options map[string]*Option
	sel     *dag.Selection
	avail   *dag.Availability
	active  string // chosen option ID
}

// New creates a controller, grants defaults plus extra owned skills, and runs
// the initial full recompute. Unknown defaults or option grants fail with
// dag.ErrNodeNotFound.
func New(g *dag.Graph, def Definition, owned ...string) (*Controller, error) {
	if g == nil {
		return nil, ErrGraphNotBuilt
	}
	c := &Controller{
		graph:   g,
		def:     def,
		options: make(map[string]*Option, len(def.Options)),
		sel:     dag.NewSelection(g, def.Mode, def.Pools),
		avail:   dag.NewAvailability(g),
	}
	c.def.Options = make([]Option, len(def.Options))
	for i, src := range def.Options {
		opt := src
		opt.Grants = make([]string, 0, len(src.Grants))
		for _, ref := range src.Grants {
			id := dag.NormalizeID(ref)
			if !g.Has(id) {
				return nil, fmt.Errorf("%w: option %s grants %q", dag.ErrNodeNotFound, opt.ID, ref)
			}
			opt.Grants = append(opt.Grants, id)
		}
		c.def.Options[i] = opt
		c.options[opt.ID] = &c.def.Options[i]
	}
	for _, ref := range def.Defaults {
		id := dag.NormalizeID(ref)
		if !g.Has(id) {
			return nil, fmt.Errorf("%w: default %q", dag.ErrNodeNotFound, ref)
		}
		c.sel.Grant(id)
	}
	for _, ref := range owned {
		if id := dag.NormalizeID(ref); g.Has(id) {
			c.sel.Grant(id)
		}
	}
	c.avail.Recompute(c.sel, nil)
	return c, nil
}

// Graph returns the graph the controller was built on.
func (c *Controller) Graph() *dag.Graph { return c.graph }

// Selection exposes the live selection for read-only use.
func (c *Controller) Selection() *dag.Selection { return c.sel }

// Locked reports the projected lock state of id.
func (c *Controller) Locked(id string) bool { return c.avail.Locked(id) }

// ActiveOption returns the chosen exclusive option, if any.
func (c *Controller) ActiveOption() string { return c.active }

// Toggle selects or deselects id.
func (c *Controller) Toggle(id string) (Outcome, error) {
	if c == nil || c.graph == nil {
		return Outcome{}, ErrGraphNotBuilt
	}
	n := c.graph.Node(id)
	if n == nil {
		return Outcome{}, fmt.Errorf("%w: %q", dag.ErrNodeNotFound, id)
	}
	if c.sel.Exempt(id) {
		return refused(ReasonLockedOrDefault), nil
	}
	if c.sel.Mode() == dag.ModeSingle {
		return c.toggleSingle(id), nil
	}
	if c.sel.IsSelected(id) {
		return c.deselect(id), nil
	}
	if c.sel.Remaining(n.Rank) <= 0 {
		return refused(ReasonNoPointsRemaining), nil
	}
	if c.avail.Locked(id) {
		return refused(ReasonLockedOrDefault), nil
	}
	c.sel.Select(id)
	return c.settle([]string{id}, id), nil
}

func (c *Controller) deselect(id string) Outcome {
	for _, dep := range c.graph.Dependents(id) {
		if !c.sel.IsSelected(dep) || c.sel.Exempt(dep) {
			continue
		}
		if !c.hasOtherSatisfied(dep, id) {
			out := refused(ReasonDependentRequiresThis)
			out.Dependent = dep
			return out
		}
	}
	c.sel.Deselect(id)
	return c.settle([]string{id}, id)
}

// hasOtherSatisfied reports whether dep keeps a satisfied prerequisite once
// without is gone.
func (c *Controller) hasOtherSatisfied(dep, without string) bool {
	for _, p := range c.graph.Node(dep).PrerequisiteIDs {
		if p != without && c.sel.Satisfies(p) {
			return true
		}
	}
	return false
}

func (c *Controller) toggleSingle(id string) Outcome {
	if c.sel.IsSelected(id) {
		c.sel.Deselect(id)
		return c.settle([]string{id}, id)
	}
	if c.avail.Locked(id) {
		return refused(ReasonLockedOrDefault)
	}
	seeds := append(c.sel.Chosen(), id)
	for _, prev := range c.sel.Chosen() {
		c.sel.Deselect(prev)
	}
	c.sel.Select(id)
	return c.settle(seeds, seeds...)
}

// settle runs the incremental recompute and folds the toggled nodes into the
// change set, since their selected state changed regardless of lock state.
func (c *Controller) settle(seeds []string, toggled ...string) Outcome {
	res := c.avail.Recompute(c.sel, seeds)
	for _, id := range toggled {
		res.Changed.Add(id)
	}
	return Outcome{OK: true, Changed: res.Changed, AutoDeselected: res.AutoDeselected}
}

// SelectOption makes optionID the active exclusive option. The previous
// option's grants are released, every manual selection is refunded, pools are
// reset to base plus the option's bonus, and the option's grants are forced.
// Choosing the already active option changes nothing.
func (c *Controller) SelectOption(optionID string) (Outcome, error) {
	if c == nil || c.graph == nil {
		return Outcome{}, ErrGraphNotBuilt
	}
	opt, ok := c.options[optionID]
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %q", ErrOptionNotFound, optionID)
	}
	if c.active == optionID {
		return Outcome{OK: true, Changed: make(dag.IDSet), AutoDeselected: make(dag.IDSet)}, nil
	}

	before := dag.NewIDSet(c.sel.Selected()...)
	for _, id := range c.sel.Forced() {
		c.sel.Unforce(id)
	}
	for _, id := range c.sel.Chosen() {
		c.sel.Deselect(id)
	}

	pools := make(map[dag.Rank]int, len(c.def.Pools)+len(opt.Pools))
	for r, n := range c.def.Pools {
		pools[r] = n
	}
	for r, n := range opt.Pools {
		pools[r] += n
	}
	c.sel.SetPools(pools)
	for _, id := range opt.Grants {
		c.sel.Force(id)
	}
	c.active = optionID

	res := c.avail.Recompute(c.sel, nil)
	after := dag.NewIDSet(c.sel.Selected()...)
	for id := range before {
		if !after.Has(id) {
			res.Changed.Add(id)
		}
	}
	for id := range after {
		if !before.Has(id) {
			res.Changed.Add(id)
		}
	}
	return Outcome{OK: true, Changed: res.Changed, AutoDeselected: res.AutoDeselected}, nil
}

// Options returns the selector's exclusive options in definition order.
func (c *Controller) Options() []Option {
	return c.def.Options
}

// Complete reports whether the selection may be confirmed: in budgeted mode
// every pool is exactly zero and, when options exist, one is chosen; in single
// mode exactly one node is chosen.
func (c *Controller) Complete() bool {
	if c.sel.Mode() == dag.ModeSingle {
		return len(c.sel.Chosen()) == 1
	}
	if len(c.options) > 0 && c.active == "" {
		return false
	}
	for _, r := range c.sel.Ranks() {
		if c.sel.Remaining(r) != 0 {
			return false
		}
	}
	return true
}

func refused(r Reason) Outcome {
	return Outcome{Reason: r, Changed: make(dag.IDSet), AutoDeselected: make(dag.IDSet)}
}
