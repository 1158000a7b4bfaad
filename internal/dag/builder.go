package dag

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/gyaneshwarpardhi/skilltree/internal/config"
)

// Build constructs the skill graph from a validated catalog.
// Prerequisite cycles are rejected here; dangling prerequisites are logged
// and left inert.
func Build(cfg *config.CatalogConfig) (*Graph, error) {
	nodes := make([]SkillNode, 0, len(cfg.Skills))
	for _, s := range cfg.Skills {
		nodes = append(nodes, SkillNode{
			ID:              s.ID,
			UUID:            s.UUID,
			Name:            s.Name,
			Image:           s.Image,
			Rank:            Rank(s.Rank),
			PrerequisiteIDs: s.Prerequisites,
		})
	}
	g := BuildGraph(nodes)
	if err := CheckAcyclic(g); err != nil {
		return nil, err
	}
	for _, e := range g.Dangling() {
		slog.Warn("dangling prerequisite, skill stays locked", "skill", e.To, "prerequisite", e.From)
	}
	return g, nil
}

// CheckAcyclic returns ErrCycleDetected naming the skills of every cycle.
func CheckAcyclic(g *Graph) error {
	dg := simple.NewDirectedGraph()
	index := make(map[string]int64, g.NodeCount())
	for i, id := range g.IDs() {
		index[id] = int64(i)
		dg.AddNode(simple.Node(int64(i)))
	}
	var selfLoops []string
	for _, e := range g.Edges() {
		if e.From == e.To {
			selfLoops = append(selfLoops, e.From)
			continue
		}
		dg.SetEdge(dg.NewEdge(dg.Node(index[e.From]), dg.Node(index[e.To])))
	}
	if len(selfLoops) > 0 {
		return fmt.Errorf("%w: %s requires itself", ErrCycleDetected, strings.Join(selfLoops, ", "))
	}

	if _, err := topo.Sort(dg); err != nil {
		var cycles topo.Unorderable
		if !errors.As(err, &cycles) {
			return fmt.Errorf("dag: topological sort: %w", err)
		}
		ids := g.IDs()
		groups := make([]string, 0, len(cycles))
		for _, comp := range cycles {
			names := make([]string, 0, len(comp))
			for _, n := range comp {
				names = append(names, ids[n.ID()])
			}
			groups = append(groups, "["+strings.Join(names, " ")+"]")
		}
		return fmt.Errorf("%w: %s", ErrCycleDetected, strings.Join(groups, ", "))
	}
	return nil
}
