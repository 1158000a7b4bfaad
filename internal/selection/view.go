package selection

import (
	"fmt"

	"github.com/gyaneshwarpardhi/skilltree/internal/dag"
)

// NodeView is the render-ready state of one skill.
type NodeView struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Image    string   `json:"image,omitempty"`
	Rank     dag.Rank `json:"rank"`
	Selected bool     `json:"selected"`
	Locked   bool     `json:"locked"`
	Granted  bool     `json:"granted,omitempty"`
	Forced   bool     `json:"forced,omitempty"`
}

// OptionView describes an exclusive option for display.
type OptionView struct {
	ID     string           `json:"id"`
	Name   string           `json:"name"`
	Pools  map[dag.Rank]int `json:"pools,omitempty"`
	Grants []string         `json:"grants,omitempty"`
	Active bool             `json:"active"`
}

// View is the full display context of a selector.
type View struct {
	Selector string           `json:"selector"`
	Name     string           `json:"name"`
	Mode     string           `json:"mode"`
	Nodes    []NodeView       `json:"nodes"`
	Options  []OptionView     `json:"options,omitempty"`
	Pools    map[dag.Rank]int `json:"pools"`
	Totals   map[dag.Rank]int `json:"totals"`
	Complete bool             `json:"complete"`
}

// View snapshots the controller for rendering.
func (c *Controller) View() View {
	v := View{
		Selector: c.def.ID,
		Name:     c.def.Name,
		Mode:     c.sel.Mode().String(),
		Nodes:    make([]NodeView, 0, c.graph.NodeCount()),
		Pools:    c.sel.Pools(),
		Totals:   make(map[dag.Rank]int),
		Complete: c.Complete(),
	}
	for _, r := range c.sel.Ranks() {
		v.Totals[r] = c.sel.Total(r)
	}
	for _, id := range c.graph.IDs() {
		n := c.graph.Node(id)
		v.Nodes = append(v.Nodes, NodeView{
			ID:       id,
			Name:     n.Name,
			Image:    n.Image,
			Rank:     n.Rank,
			Selected: c.sel.IsSelected(id),
			Locked:   c.avail.Locked(id),
			Granted:  c.sel.IsGranted(id),
			Forced:   c.sel.IsForced(id),
		})
	}
	for _, opt := range c.def.Options {
		v.Options = append(v.Options, OptionView{
			ID:     opt.ID,
			Name:   opt.Name,
			Pools:  opt.Pools,
			Grants: opt.Grants,
			Active: opt.ID == c.active,
		})
	}
	return v
}

// Result is the payload of a confirmed selection.
type Result struct {
	Selector string           `json:"selector"`
	Skills   []string         `json:"skills"`
	Option   string           `json:"option,omitempty"`
	Spent    map[dag.Rank]int `json:"spent"`
}

// Result returns the user's picks in catalog order along with points spent
// per rank. Granted defaults are not part of the result; forced grants of the
// chosen option are.
func (c *Controller) Result() Result {
	res := Result{
		Selector: c.def.ID,
		Option:   c.active,
		Spent:    make(map[dag.Rank]int),
	}
	for _, id := range c.sel.Selected() {
		if c.sel.IsGranted(id) {
			continue
		}
		res.Skills = append(res.Skills, id)
	}
	for _, r := range c.sel.Ranks() {
		res.Spent[r] = c.sel.Total(r) - c.sel.Remaining(r)
	}
	return res
}

// Warning renders a refused outcome as a user-facing message. It returns ""
// for successful outcomes and for locked or default skills, which are
// refused silently.
func (c *Controller) Warning(out Outcome) string {
	switch out.Reason {
	case ReasonNone, ReasonLockedOrDefault:
		return ""
	case ReasonNoPointsRemaining:
		return "No points remain for this rank."
	case ReasonDependentRequiresThis:
		name := out.Dependent
		if n := c.graph.Node(out.Dependent); n != nil && n.Name != "" {
			name = n.Name
		}
		return fmt.Sprintf("%s requires this skill. Deselect it first.", name)
	default:
		return string(out.Reason)
	}
}
