package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gyaneshwarpardhi/skilltree/internal/condition"
	"github.com/gyaneshwarpardhi/skilltree/internal/config"
	"github.com/gyaneshwarpardhi/skilltree/internal/dag"
	"github.com/gyaneshwarpardhi/skilltree/internal/layout"
	"github.com/gyaneshwarpardhi/skilltree/internal/render"
	"github.com/gyaneshwarpardhi/skilltree/internal/selection"
)

// Catalog is a compiled, immutable catalog shared by every session opened
// against it.
type Catalog struct {
	Version   string
	Graph     *dag.Graph
	Highlight condition.Rule
	Layout    layout.Options
	Selectors map[string]selection.Definition
	Engine    config.EngineConf

	tiers map[dag.Rank]int
	order []string // selector IDs in config order
}

// Compile validates cfg and builds the graph, highlight rule and selector
// definitions. Every default and option grant must name a catalog skill.
func Compile(cfg *config.CatalogConfig) (*Catalog, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	g, err := dag.Build(cfg)
	if err != nil {
		return nil, err
	}
	rule, err := condition.Compile(cfg.Highlight.When)
	if err != nil {
		return nil, fmt.Errorf("highlight: %w", err)
	}

	c := &Catalog{
		Version:   cfg.Version,
		Graph:     g,
		Highlight: rule,
		Layout:    layout.FromConfig(cfg.Layout),
		Selectors: make(map[string]selection.Definition, len(cfg.Selectors)),
		Engine:    cfg.Engine,
		tiers:     make(map[dag.Rank]int, len(cfg.Ranks)),
	}
	for i, r := range cfg.Ranks {
		c.tiers[dag.Rank(r)] = i
	}

	var errs []error
	for _, sd := range cfg.Selectors {
		def := selection.Definition{
			ID:    sd.ID,
			Name:  sd.Name,
			Mode:  dag.ModeBudgeted,
			Pools: rankPools(sd.Pools),
		}
		if sd.Mode == config.ModeSingle {
			def.Mode = dag.ModeSingle
		}
		for _, ref := range sd.Defaults {
			id, err := c.resolve(ref)
			if err != nil {
				errs = append(errs, fmt.Errorf("selector %s default: %w", sd.ID, err))
				continue
			}
			def.Defaults = append(def.Defaults, id)
		}
		for _, od := range sd.Options {
			opt := selection.Option{ID: od.ID, Name: od.Name, Pools: rankPools(od.Pools)}
			for _, ref := range od.Grants {
				id, err := c.resolve(ref)
				if err != nil {
					errs = append(errs, fmt.Errorf("selector %s option %s grant: %w", sd.ID, od.ID, err))
					continue
				}
				opt.Grants = append(opt.Grants, id)
			}
			def.Options = append(def.Options, opt)
		}
		c.Selectors[sd.ID] = def
		c.order = append(c.order, sd.ID)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return c, nil
}

// resolve normalises ref and checks it names a skill, suggesting the closest
// ID when it does not.
func (c *Catalog) resolve(ref string) (string, error) {
	id := dag.NormalizeID(ref)
	if c.Graph.Has(id) {
		return id, nil
	}
	if s, ok := c.Graph.Suggest(id); ok {
		return "", fmt.Errorf("%w: %q (did you mean %q?)", dag.ErrNodeNotFound, ref, s)
	}
	return "", fmt.Errorf("%w: %q", dag.ErrNodeNotFound, ref)
}

// SelectorIDs returns selector IDs in catalog order.
func (c *Catalog) SelectorIDs() []string { return c.order }

// Tier returns the rank's position in the configured rank order.
func (c *Catalog) Tier(r dag.Rank) int { return c.tiers[r] }

func rankPools(in map[string]int) map[dag.Rank]int {
	if len(in) == 0 {
		return nil
	}
	out := make(map[dag.Rank]int, len(in))
	for r, n := range in {
		out[dag.Rank(r)] = n
	}
	return out
}

// edgeEnv exposes an edge's endpoints to highlight rules as prereq.* and
// dependent.* fields.
type edgeEnv struct {
	cat  *Catalog
	sel  *dag.Selection
	edge dag.Edge
}

func (e edgeEnv) Lookup(path []string) (any, bool) {
	if len(path) != 2 {
		return nil, false
	}
	var id string
	switch path[0] {
	case "prereq":
		id = e.edge.From
	case "dependent":
		id = e.edge.To
	default:
		return nil, false
	}
	n := e.cat.Graph.Node(id)
	if n == nil {
		return nil, false
	}
	switch strings.ToLower(path[1]) {
	case "id":
		return n.ID, true
	case "name":
		return n.Name, true
	case "rank":
		return string(n.Rank), true
	case "tier":
		return float64(e.cat.Tier(n.Rank)), true
	case "selected":
		return e.sel.IsSelected(id), true
	case "granted":
		return e.sel.IsGranted(id), true
	case "forced":
		return e.sel.IsForced(id), true
	}
	return nil, false
}

// highlighter returns the connector highlight predicate for sel: both
// endpoints selected and the catalog rule holds. Rule errors count as no
// highlight.
func (c *Catalog) highlighter(sel *dag.Selection) render.HighlightFunc {
	return func(e dag.Edge) bool {
		if !sel.IsSelected(e.From) || !sel.IsSelected(e.To) {
			return false
		}
		ok, err := c.Highlight.Match(edgeEnv{cat: c, sel: sel, edge: e})
		return err == nil && ok
	}
}
