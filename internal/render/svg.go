package render

import (
	"io"
	"math"

	svg "github.com/ajstarks/svgo"
)

// NodeState is what the SVG renderer needs to draw one skill box.
type NodeState struct {
	ID       string
	Name     string
	Selected bool
	Locked   bool
}

const svgMargin = 20

// WriteSVG draws the boxes and connectors as a standalone SVG document.
// Nodes without a box are omitted.
func WriteSVG(w io.Writer, nodes []NodeState, boxes map[string]Box, connectors []Connector) {
	width, height := extent(boxes)
	canvas := svg.New(w)
	canvas.Start(width+2*svgMargin, height+2*svgMargin)
	canvas.Title("skill tree")
	canvas.Gtransform("translate(20,20)")

	canvas.Gid("connectors")
	for _, c := range connectors {
		stroke := "stroke:#9aa0a6;stroke-width:2;fill:none"
		if c.Highlighted {
			stroke = "stroke:#f2a900;stroke-width:3;fill:none"
		}
		canvas.Path(c.D, `id="`+c.Key+`"`, `style="`+stroke+`"`)
	}
	canvas.Gend()

	canvas.Gid("nodes")
	for _, n := range nodes {
		b, ok := boxes[n.ID]
		if !ok {
			continue
		}
		fill := "#ffffff"
		switch {
		case n.Selected:
			fill = "#fde7a9"
		case n.Locked:
			fill = "#e0e0e0"
		}
		x, y, bw, bh := round(b.X), round(b.Y), round(b.W), round(b.H)
		canvas.Roundrect(x, y, bw, bh, 6, 6, "fill:"+fill+";stroke:#5f6368;stroke-width:1")
		label := n.Name
		if label == "" {
			label = n.ID
		}
		canvas.Text(x+bw/2, y+bh/2+5, label, "text-anchor:middle;font-family:sans-serif;font-size:13px")
	}
	canvas.Gend()

	canvas.Gend()
	canvas.End()
}

func extent(boxes map[string]Box) (int, int) {
	var w, h float64
	for _, b := range boxes {
		w = math.Max(w, b.X+b.W)
		h = math.Max(h, b.Y+b.H)
	}
	return round(w), round(h)
}

func round(f float64) int { return int(math.Round(f)) }
