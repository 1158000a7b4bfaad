package render

import (
	"math"
	"strconv"
	"strings"

	"github.com/gyaneshwarpardhi/skilltree/internal/dag"
)

// Point is a position in layout coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Box is the on-screen rectangle of one skill node.
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Leading returns the midpoint of the box's left edge.
func (b Box) Leading() Point { return Point{X: b.X, Y: b.Y + b.H/2} }

// Trailing returns the midpoint of the box's right edge.
func (b Box) Trailing() Point { return Point{X: b.X + b.W, Y: b.Y + b.H/2} }

// CubicPath is a cubic Bézier segment.
type CubicPath struct {
	From Point `json:"from"`
	C1   Point `json:"c1"`
	C2   Point `json:"c2"`
	To   Point `json:"to"`
}

// Connect builds the path from the trailing edge of from to the leading edge
// of to. Both control points sit half the horizontal gap away from their
// endpoint.
func Connect(from, to Box) CubicPath {
	start, end := from.Trailing(), to.Leading()
	off := math.Abs(end.X-start.X) / 2
	return CubicPath{
		From: start,
		C1:   Point{X: start.X + off, Y: start.Y},
		C2:   Point{X: end.X - off, Y: end.Y},
		To:   end,
	}
}

// D renders the path as SVG path data.
func (p CubicPath) D() string {
	var b strings.Builder
	b.WriteString("M")
	writePoint(&b, p.From)
	b.WriteString(" C")
	writePoint(&b, p.C1)
	b.WriteString(",")
	writePoint(&b, p.C2)
	b.WriteString(",")
	writePoint(&b, p.To)
	return b.String()
}

func writePoint(b *strings.Builder, p Point) {
	b.WriteString(strconv.FormatFloat(p.X, 'f', -1, 64))
	b.WriteByte(' ')
	b.WriteString(strconv.FormatFloat(p.Y, 'f', -1, 64))
}

// Connector is the drawn edge between a prerequisite and its dependent.
type Connector struct {
	Key         string    `json:"key"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Path        CubicPath `json:"path"`
	D           string    `json:"d"`
	Highlighted bool      `json:"highlighted"`
}

// HighlightFunc decides whether an edge is drawn highlighted.
type HighlightFunc func(e dag.Edge) bool

// Geometry caches connectors by edge key along with a node -> edge key index.
type Geometry struct {
	connectors map[string]*Connector
	order      []string
	byNode     map[string][]string
	skipped    []dag.Edge
}

// Rebuild computes every connector whose endpoints both have a box. Edges
// missing a box are skipped and reported by Skipped.
func Rebuild(edges []dag.Edge, boxes map[string]Box, highlight HighlightFunc) *Geometry {
	g := &Geometry{
		connectors: make(map[string]*Connector, len(edges)),
		byNode:     make(map[string][]string),
	}
	for _, e := range edges {
		from, okFrom := boxes[e.From]
		to, okTo := boxes[e.To]
		if !okFrom || !okTo {
			g.skipped = append(g.skipped, e)
			continue
		}
		key := e.Key()
		if _, dup := g.connectors[key]; dup {
			continue
		}
		path := Connect(from, to)
		g.connectors[key] = &Connector{
			Key:         key,
			From:        e.From,
			To:          e.To,
			Path:        path,
			D:           path.D(),
			Highlighted: highlight != nil && highlight(e),
		}
		g.order = append(g.order, key)
		g.byNode[e.From] = append(g.byNode[e.From], key)
		g.byNode[e.To] = append(g.byNode[e.To], key)
	}
	return g
}

// Recolor re-evaluates highlight for connectors touching a changed node and
// returns only those whose highlight flipped, in build order.
func (g *Geometry) Recolor(changed dag.IDSet, highlight HighlightFunc) []Connector {
	if g == nil || len(changed) == 0 {
		return nil
	}
	touched := make(map[string]struct{})
	for id := range changed {
		for _, key := range g.byNode[id] {
			touched[key] = struct{}{}
		}
	}
	var out []Connector
	for _, key := range g.order {
		if _, ok := touched[key]; !ok {
			continue
		}
		c := g.connectors[key]
		h := highlight != nil && highlight(dag.Edge{From: c.From, To: c.To})
		if h == c.Highlighted {
			continue
		}
		c.Highlighted = h
		out = append(out, *c)
	}
	return out
}

// Connectors returns every connector in build order.
func (g *Geometry) Connectors() []Connector {
	if g == nil {
		return nil
	}
	out := make([]Connector, 0, len(g.order))
	for _, key := range g.order {
		out = append(out, *g.connectors[key])
	}
	return out
}

// Connector looks up one connector by edge key.
func (g *Geometry) Connector(key string) (Connector, bool) {
	if g == nil {
		return Connector{}, false
	}
	c, ok := g.connectors[key]
	if !ok {
		return Connector{}, false
	}
	return *c, true
}

// Keys returns the edge keys touching id.
func (g *Geometry) Keys(id string) []string {
	if g == nil {
		return nil
	}
	return g.byNode[id]
}

// Skipped returns edges omitted for lack of a box.
func (g *Geometry) Skipped() []dag.Edge {
	if g == nil {
		return nil
	}
	return g.skipped
}

// Clear drops all cached connectors and indexes.
func (g *Geometry) Clear() {
	if g == nil {
		return
	}
	clear(g.connectors)
	clear(g.byNode)
	g.order = nil
	g.skipped = nil
}
