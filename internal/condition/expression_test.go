package condition

import (
	"testing"
)

func edgeEnv(prereqRank, dependentRank string, tier float64) MapEnv {
	return MapEnv{
		"prereq":    map[string]any{"id": "p", "rank": prereqRank, "name": "Pilot Training", "selected": true},
		"dependent": map[string]any{"id": "d", "rank": dependentRank, "tier": tier, "selected": false},
	}
}

type evalCase struct {
	name    string
	expr    string
	env     Env
	want    bool
	wantErr bool
}

func TestEvaluate(t *testing.T) {
	cases := []evalCase{
		{
			name: "eq string true",
			expr: `prereq.rank == "entry"`,
			env:  edgeEnv("entry", "advanced", 1),
			want: true,
		},
		{
			name: "neq string",
			expr: `dependent.rank != "entry"`,
			env:  edgeEnv("entry", "entry", 0),
			want: false,
		},
		{
			name: "numeric gte",
			expr: "dependent.tier >= 1",
			env:  edgeEnv("entry", "advanced", 1),
			want: true,
		},
		{
			name: "numeric lt false",
			expr: "dependent.tier < 1",
			env:  edgeEnv("entry", "advanced", 2),
			want: false,
		},
		{
			name: "in list",
			expr: `dependent.rank in ["advanced", "expert"]`,
			env:  edgeEnv("entry", "expert", 2),
			want: true,
		},
		{
			name: "in list miss",
			expr: `dependent.rank in ['advanced']`,
			env:  edgeEnv("entry", "entry", 0),
			want: false,
		},
		{
			name: "bare bool",
			expr: "prereq.selected",
			env:  edgeEnv("entry", "entry", 0),
			want: true,
		},
		{
			name: "NOT bare bool",
			expr: "NOT dependent.selected",
			env:  edgeEnv("entry", "entry", 0),
			want: true,
		},
		{
			name: "AND short-circuits",
			expr: `prereq.rank == "expert" AND missing.field == 1`,
			env:  edgeEnv("entry", "entry", 0),
			want: false,
		},
		{
			name: "OR with parens",
			expr: `(prereq.rank == "expert" OR dependent.tier > 0) AND prereq.selected == true`,
			env:  edgeEnv("entry", "advanced", 1),
			want: true,
		},
		{
			name: "contains",
			expr: `prereq.name contains "Pilot"`,
			env:  edgeEnv("entry", "entry", 0),
			want: true,
		},
		{
			name: "matches",
			expr: `prereq.name matches "^Pilot\\s"`,
			env:  edgeEnv("entry", "entry", 0),
			want: true,
		},
		{
			name:    "unknown field",
			expr:    "dependent.missing > 10",
			env:     edgeEnv("entry", "entry", 0),
			wantErr: true,
		},
		{
			name:    "ordering on strings",
			expr:    `prereq.rank > 1`,
			env:     edgeEnv("entry", "entry", 0),
			wantErr: true,
		},
		{
			name:    "bare non-bool",
			expr:    "prereq.rank",
			env:     edgeEnv("entry", "entry", 0),
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ast, err := Parse(tc.expr)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tc.expr, err)
			}
			got, err := Evaluate(ast, tc.env)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got nil (result=%v)", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Evaluate error: %v", err)
			}
			if got != tc.want {
				t.Errorf("Evaluate(%q) = %v, want %v", tc.expr, got, tc.want)
			}
		})
	}
}

func TestParse_Errors(t *testing.T) {
	cases := []string{
		`"unterminated`,
		`prereq.rank "entry"`,
		``,
		`prereq.rank = "entry"`,
		`prereq.rank in "entry"`,
		`prereq.rank == ["entry"]`,
		`(prereq.selected`,
		`prereq.rank == AND`,
	}
	for _, expr := range cases {
		t.Run(expr, func(t *testing.T) {
			_, err := Parse(expr)
			if err == nil {
				t.Errorf("expected parse error for %q, got nil", expr)
			}
		})
	}
}

func TestRule_EmptyAlwaysMatches(t *testing.T) {
	r, err := Compile("   ")
	if err != nil {
		t.Fatalf("Compile error: %v", err)
	}
	ok, err := r.Match(MapEnv{})
	if err != nil || !ok {
		t.Errorf("empty rule = (%v, %v), want (true, nil)", ok, err)
	}
	var zero Rule
	if ok, _ := zero.Match(nil); !ok {
		t.Error("zero Rule should match")
	}
}
