// Package dag holds the skill prerequisite graph and the availability engine
// that projects lock state from a selection.
//
// A Graph is immutable once built; catalog reloads build a new Graph and
// sessions opened earlier keep the one they started with.
package dag

import (
	"errors"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/sahilm/fuzzy"
)

var (
	// ErrNodeNotFound is returned when a referenced skill doesn't exist.
	ErrNodeNotFound = errors.New("dag: skill not found")
	// ErrCycleDetected is returned by Build when prerequisites form a cycle.
	ErrCycleDetected = errors.New("dag: prerequisite cycle detected")
)

// Rank is a proficiency tier; each rank gates its skills behind its own point pool.
type Rank string

// SkillNode is one unlockable skill.
type SkillNode struct {
	ID              string   `json:"id"`
	UUID            string   `json:"uuid,omitempty"`
	Name            string   `json:"name"`
	Image           string   `json:"image,omitempty"`
	Rank            Rank     `json:"rank"`
	PrerequisiteIDs []string `json:"prerequisite_ids"`
}

// Edge is a prerequisite → dependent pair.
type Edge struct {
	From string // prerequisite
	To   string // dependent
}

// Key returns the connector key "{prereq}->{dependent}".
func (e Edge) Key() string { return e.From + "->" + e.To }

// Graph holds skills, the reverse dependency index and data-quality findings.
type Graph struct {
	nodes      map[string]*SkillNode
	order      []string
	dependents map[string][]string // prerequisite id → dependents, in input order
	byRank     map[Rank][]string
	ranks      []Rank // in order of first appearance
	dangling   []Edge // edges whose prerequisite is not in the graph
}

// NormalizeID returns the canonical skill ID of a raw reference, which may be
// a longer path such as "Compendium.ruleset.skills.Item.pilot".
func NormalizeID(ref string) string {
	ref = strings.TrimSpace(ref)
	if i := strings.LastIndexAny(ref, "./"); i >= 0 {
		return ref[i+1:]
	}
	return ref
}

// BuildGraph indexes nodes and builds the reverse dependency index in one pass.
// Prerequisite references are normalised in place. Dangling prerequisites and
// cycles are tolerated; see Build for the validating variant.
func BuildGraph(nodes []SkillNode) *Graph {
	g := &Graph{
		nodes:      make(map[string]*SkillNode, len(nodes)),
		order:      make([]string, 0, len(nodes)),
		dependents: make(map[string][]string),
		byRank:     make(map[Rank][]string),
	}
	for i := range nodes {
		n := nodes[i]
		n.PrerequisiteIDs = normalizeAll(n.PrerequisiteIDs)
		if _, dup := g.nodes[n.ID]; !dup {
			g.order = append(g.order, n.ID)
		}
		g.nodes[n.ID] = &n
	}
	for _, id := range g.order {
		n := g.nodes[id]
		if _, seen := g.byRank[n.Rank]; !seen {
			g.ranks = append(g.ranks, n.Rank)
		}
		g.byRank[n.Rank] = append(g.byRank[n.Rank], id)
		for _, p := range n.PrerequisiteIDs {
			if _, ok := g.nodes[p]; !ok {
				g.dangling = append(g.dangling, Edge{From: p, To: id})
			}
			g.dependents[p] = append(g.dependents[p], id)
		}
	}
	return g
}

func normalizeAll(refs []string) []string {
	out := make([]string, 0, len(refs))
	seen := make(map[string]struct{}, len(refs))
	for _, r := range refs {
		id := NormalizeID(r)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Node returns a skill by ID (nil if not found).
func (g *Graph) Node(id string) *SkillNode {
	return g.nodes[id]
}

// Has reports whether id is a skill in the graph.
func (g *Graph) Has(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// IDs returns all skill IDs in catalog order.
func (g *Graph) IDs() []string {
	return g.order
}

// NodeCount returns the number of skills.
func (g *Graph) NodeCount() int {
	return len(g.order)
}

// Dependents returns the skills that list id as a prerequisite.
func (g *Graph) Dependents(id string) []string {
	return g.dependents[id]
}

// Ranks returns the ranks used by at least one skill.
func (g *Graph) Ranks() []Rank {
	return g.ranks
}

// InRank returns the skills of rank r in catalog order.
func (g *Graph) InRank(r Rank) []string {
	return g.byRank[r]
}

// Dangling returns prerequisite edges whose prerequisite is missing.
func (g *Graph) Dangling() []Edge {
	return g.dangling
}

// Edges returns every resolvable prerequisite → dependent edge in catalog order.
func (g *Graph) Edges() []Edge {
	var out []Edge
	for _, id := range g.order {
		for _, p := range g.nodes[id].PrerequisiteIDs {
			if g.Has(p) {
				out = append(out, Edge{From: p, To: id})
			}
		}
	}
	return out
}

// Closure returns seeds plus every node transitively reachable through the
// dependency index. Visited nodes are never expanded twice, so a cyclic
// graph still terminates.
func (g *Graph) Closure(seeds []string) IDSet {
	visited := make(IDSet, len(seeds))
	queue := make([]string, 0, len(seeds))
	for _, s := range seeds {
		if !visited.Has(s) {
			visited.Add(s)
			queue = append(queue, s)
		}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dep := range g.dependents[cur] {
			if visited.Has(dep) {
				continue
			}
			visited.Add(dep)
			queue = append(queue, dep)
		}
	}
	return visited
}

// Depths returns the longest prerequisite chain length for each node.
// Nodes on a cycle, and nodes downstream of one, are placed at the depth
// reached before the cycle.
func (g *Graph) Depths() map[string]int {
	indeg := make(map[string]int, len(g.order))
	for _, id := range g.order {
		for _, p := range g.nodes[id].PrerequisiteIDs {
			if g.Has(p) {
				indeg[id]++
			}
		}
	}
	depth := make(map[string]int, len(g.order))
	var queue []string
	for _, id := range g.order {
		if indeg[id] == 0 {
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dep := range g.dependents[cur] {
			if depth[cur]+1 > depth[dep] {
				depth[dep] = depth[cur] + 1
			}
			indeg[dep]--
			if indeg[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}
	return depth
}

type nameSource []*SkillNode

func (s nameSource) String(i int) string { return s[i].Name }
func (s nameSource) Len() int            { return len(s) }

// Search fuzzy-matches skill names, best match first. An empty query returns
// every skill in catalog order.
func (g *Graph) Search(query string) []*SkillNode {
	all := make(nameSource, 0, len(g.order))
	for _, id := range g.order {
		all = append(all, g.nodes[id])
	}
	if strings.TrimSpace(query) == "" {
		return all
	}
	matches := fuzzy.FindFrom(query, all)
	out := make([]*SkillNode, 0, len(matches))
	for _, m := range matches {
		out = append(out, all[m.Index])
	}
	return out
}

// Suggest returns the known ID closest to an unknown one, for error messages.
func (g *Graph) Suggest(id string) (string, bool) {
	best, bestDist := "", -1
	for _, known := range g.order {
		d := levenshtein.ComputeDistance(strings.ToLower(id), strings.ToLower(known))
		if bestDist < 0 || d < bestDist {
			best, bestDist = known, d
		}
	}
	if bestDist < 0 || bestDist > suggestLimit(len(id)) {
		return "", false
	}
	return best, true
}

func suggestLimit(length int) int {
	switch {
	case length <= 4:
		return 1
	case length <= 8:
		return 2
	default:
		return 3
	}
}

// IDSet is a set of skill IDs.
type IDSet map[string]struct{}

// NewIDSet builds a set from ids.
func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Add inserts id.
func (s IDSet) Add(id string) { s[id] = struct{}{} }

// Has reports membership.
func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Union adds every member of other to s.
func (s IDSet) Union(other IDSet) {
	for id := range other {
		s[id] = struct{}{}
	}
}

// Sorted returns the members in lexical order.
func (s IDSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
