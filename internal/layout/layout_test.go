package layout_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/gyaneshwarpardhi/skilltree/internal/config"
	"github.com/gyaneshwarpardhi/skilltree/internal/dag"
	"github.com/gyaneshwarpardhi/skilltree/internal/layout"
	"github.com/gyaneshwarpardhi/skilltree/internal/render"
)

func TestCompute(t *testing.T) {
	g := dag.BuildGraph([]dag.SkillNode{
		{ID: "a", Rank: "entry"},
		{ID: "b", Rank: "entry"},
		{ID: "c", Rank: "advanced", PrerequisiteIDs: []string{"a"}},
		{ID: "d", Rank: "expert", PrerequisiteIDs: []string{"c", "b"}},
	})
	opts := layout.FromConfig(config.LayoutConf{NodeWidth: 100, NodeHeight: 40, ColumnGap: 50, RowGap: 10})

	want := map[string]render.Box{
		"a": {X: 0, Y: 0, W: 100, H: 40},
		"b": {X: 0, Y: 50, W: 100, H: 40},
		"c": {X: 150, Y: 0, W: 100, H: 40},
		"d": {X: 300, Y: 0, W: 100, H: 40},
	}
	if diff := cmp.Diff(want, layout.Compute(g, opts)); diff != "" {
		t.Errorf("boxes mismatch (-want +got):\n%s", diff)
	}
}

func TestMerge(t *testing.T) {
	base := map[string]render.Box{"a": {X: 1}, "b": {X: 2}}
	got := layout.Merge(base, map[string]render.Box{"b": {X: 9}, "ghost": {X: 5}})

	want := map[string]render.Box{"a": {X: 1}, "b": {X: 9}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("merge mismatch (-want +got):\n%s", diff)
	}
	if base["b"].X != 2 {
		t.Errorf("base mutated: %+v", base["b"])
	}
}
