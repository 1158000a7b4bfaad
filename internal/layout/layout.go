// Package layout assigns default on-screen boxes to skill nodes.
package layout

import (
	"github.com/gyaneshwarpardhi/skilltree/internal/config"
	"github.com/gyaneshwarpardhi/skilltree/internal/dag"
	"github.com/gyaneshwarpardhi/skilltree/internal/render"
)

// Options sizes the grid.
type Options struct {
	NodeWidth  float64
	NodeHeight float64
	ColumnGap  float64
	RowGap     float64
}

// FromConfig converts catalog layout settings.
func FromConfig(c config.LayoutConf) Options {
	return Options{
		NodeWidth:  c.NodeWidth,
		NodeHeight: c.NodeHeight,
		ColumnGap:  c.ColumnGap,
		RowGap:     c.RowGap,
	}
}

// Compute places each node in the column of its prerequisite depth. Rows
// follow catalog order within a column.
func Compute(g *dag.Graph, opts Options) map[string]render.Box {
	depths := g.Depths()
	rows := make(map[int]int)
	boxes := make(map[string]render.Box, g.NodeCount())
	for _, id := range g.IDs() {
		col := depths[id]
		row := rows[col]
		rows[col]++
		boxes[id] = render.Box{
			X: float64(col) * (opts.NodeWidth + opts.ColumnGap),
			Y: float64(row) * (opts.NodeHeight + opts.RowGap),
			W: opts.NodeWidth,
			H: opts.NodeHeight,
		}
	}
	return boxes
}

// Merge overlays client-supplied boxes on top of base. Unknown IDs are
// dropped.
func Merge(base, overrides map[string]render.Box) map[string]render.Box {
	out := make(map[string]render.Box, len(base))
	for id, b := range base {
		out[id] = b
	}
	for id, b := range overrides {
		if _, ok := base[id]; ok {
			out[id] = b
		}
	}
	return out
}
