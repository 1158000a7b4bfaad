package engine_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/skilltree/internal/action"
	"github.com/gyaneshwarpardhi/skilltree/internal/config"
	"github.com/gyaneshwarpardhi/skilltree/internal/dag"
	"github.com/gyaneshwarpardhi/skilltree/internal/engine"
	"github.com/gyaneshwarpardhi/skilltree/internal/event"
	"github.com/gyaneshwarpardhi/skilltree/internal/render"
	"github.com/gyaneshwarpardhi/skilltree/internal/store"
)

const catalogYAML = `
version: "v1"
engine:
  session_ttl_s: 60
ranks: [entry, advanced]
highlight:
  when: dependent.tier >= prereq.tier
skills:
  - {id: pilot, name: Pilot, rank: entry}
  - {id: gunnery, name: Gunnery, rank: advanced, prerequisites: [Compendium.core.Item.pilot]}
  - {id: mechanic, name: Mechanic, rank: entry}
selectors:
  - id: background
    name: Background
    pools: {entry: 1, advanced: 1}
  - id: career
    pools: {entry: 0}
    options:
      - {id: marine, pools: {entry: 1}, grants: [mechanic]}
`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func compile(t *testing.T, src string) *engine.Catalog {
	t.Helper()
	cfg, err := config.Parse([]byte(src))
	require.NoError(t, err)
	cat, err := engine.Compile(cfg)
	require.NoError(t, err)
	return cat
}

type harness struct {
	eng   *engine.Engine
	store *store.SQLite
	clock *render.ManualClock
	now   time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	h := &harness{store: st, clock: render.NewManualClock(), now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	h.eng = engine.New(context.Background(), compile(t, catalogYAML), st, testLogger(),
		engine.WithClock(func() render.Clock { return h.clock }),
		engine.WithNow(func() time.Time { return h.now }),
	)
	t.Cleanup(h.eng.Shutdown)
	return h
}

func next(t *testing.T, ch <-chan event.Message) event.Message {
	t.Helper()
	select {
	case m, ok := <-ch:
		require.True(t, ok, "channel closed")
		return m
	default:
		t.Fatal("no message pending")
		return event.Message{}
	}
}

func toggle(id string) action.Action { return action.Action{Kind: action.Toggle, Target: id} }

func TestSession_FramesFollowChanges(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s, err := h.eng.Open(ctx, engine.OpenRequest{Selector: "background"})
	require.NoError(t, err)
	msgs, cancel, err := s.Subscribe()
	require.NoError(t, err)
	defer cancel()

	h.clock.Tick()
	m := next(t, msgs)
	require.Equal(t, event.TypeFrame, m.Type)
	assert.True(t, m.Frame.Full)
	assert.Len(t, m.Frame.Nodes, 3)
	require.Len(t, m.Frame.Connectors, 1)
	assert.Equal(t, "pilot->gunnery", m.Frame.Connectors[0].Key)
	assert.NotEmpty(t, m.Frame.Connectors[0].D)
	assert.False(t, m.Frame.Connectors[0].Highlighted)

	res, err := s.Dispatch(ctx, toggle("pilot"))
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, []string{"gunnery", "mechanic", "pilot"}, res.Changed)

	res, err = s.Dispatch(ctx, toggle("gunnery"))
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.True(t, res.Complete)

	assert.Equal(t, 1, h.clock.Tick(), "two toggles coalesce into one frame")
	m = next(t, msgs)
	assert.False(t, m.Frame.Full)
	require.Len(t, m.Frame.Connectors, 1)
	assert.True(t, m.Frame.Connectors[0].Highlighted)
	assert.Empty(t, m.Frame.Connectors[0].D, "partial frames only recolour")
	assert.Equal(t, map[string]int{"entry": 0, "advanced": 0}, m.Frame.Pools)
	assert.True(t, m.Frame.Complete)
}

func TestSession_RefusalSendsNotice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s, err := h.eng.Open(ctx, engine.OpenRequest{Selector: "background"})
	require.NoError(t, err)
	msgs, cancel, err := s.Subscribe()
	require.NoError(t, err)
	defer cancel()

	for _, id := range []string{"pilot", "gunnery"} {
		_, err := s.Dispatch(ctx, toggle(id))
		require.NoError(t, err)
	}
	res, err := s.Dispatch(ctx, toggle("pilot"))
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, "DependentRequiresThis", res.Reason)
	assert.Equal(t, "Gunnery requires this skill. Deselect it first.", res.Message)

	m := next(t, msgs)
	require.Equal(t, event.TypeNotice, m.Type)
	assert.Equal(t, "gunnery", m.Notice.Subject)

	_, err = s.Dispatch(ctx, toggle("gunery"))
	assert.ErrorIs(t, err, dag.ErrNodeNotFound)
	assert.Contains(t, err.Error(), `did you mean "gunnery"`)
}

func TestSession_LockedRefusalIsSilent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s, err := h.eng.Open(ctx, engine.OpenRequest{Selector: "career"})
	require.NoError(t, err)

	_, err = s.Dispatch(ctx, action.Action{Kind: action.SelectOption, Target: "marine"})
	require.NoError(t, err)

	msgs, cancel, err := s.Subscribe()
	require.NoError(t, err)
	defer cancel()

	res, err := s.Dispatch(ctx, toggle("mechanic"))
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, "LockedOrDefault", res.Reason)
	assert.Empty(t, res.Message)

	h.clock.Tick()
	m := next(t, msgs)
	require.Equal(t, event.TypeFrame, m.Type, "only the subscribe frame is sent")
	assert.True(t, m.Frame.Full)
	select {
	case m := <-msgs:
		t.Fatalf("unexpected %s message after a locked refusal", m.Type)
	default:
	}
}

func TestSession_ConfirmPersistsAndResolves(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s, err := h.eng.Open(ctx, engine.OpenRequest{Selector: "background", ActorID: "actor-1"})
	require.NoError(t, err)

	_, err = s.Dispatch(ctx, action.Action{Kind: action.Confirm})
	assert.ErrorIs(t, err, engine.ErrNotComplete)

	for _, id := range []string{"pilot", "gunnery"} {
		_, err := s.Dispatch(ctx, toggle(id))
		require.NoError(t, err)
	}
	res, err := s.Dispatch(ctx, action.Action{Kind: action.Confirm})
	require.NoError(t, err)
	assert.True(t, res.OK)

	d, err := s.Await(ctx)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, []string{"pilot", "gunnery"}, d.Result.Skills)
	assert.Len(t, d.Items, 2)

	_, err = h.eng.Get(s.ID())
	assert.ErrorIs(t, err, engine.ErrSessionNotFound)
	_, err = s.Dispatch(ctx, toggle("pilot"))
	assert.ErrorIs(t, err, engine.ErrSessionClosed)

	fields, err := h.store.Fields(ctx, "actor-1")
	require.NoError(t, err)
	assert.Equal(t, "1", fields["points.entry"])
	assert.Equal(t, "1", fields["points.advanced"])

	// Owned skills come back granted on the next session.
	s2, err := h.eng.Open(ctx, engine.OpenRequest{Selector: "background", ActorID: "actor-1"})
	require.NoError(t, err)
	v, err := s2.View()
	require.NoError(t, err)
	for _, n := range v.Nodes {
		if n.ID == "pilot" || n.ID == "gunnery" {
			assert.True(t, n.Granted, n.ID)
		}
	}
	res, err = s2.Dispatch(ctx, toggle("pilot"))
	require.NoError(t, err)
	assert.Equal(t, "LockedOrDefault", res.Reason)

	n, err := h.eng.ResetActor(ctx, "actor-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	items, err := h.eng.ActorSkills(ctx, "actor-1")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestSession_CancelAndExpire(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	s, err := h.eng.Open(ctx, engine.OpenRequest{Selector: "background"})
	require.NoError(t, err)
	msgs, _, err := s.Subscribe()
	require.NoError(t, err)
	_, err = s.Dispatch(ctx, action.Action{Kind: action.Cancel})
	require.NoError(t, err)
	d, err := s.Await(ctx)
	require.NoError(t, err)
	assert.Nil(t, d)

	m := next(t, msgs)
	assert.Equal(t, event.TypeClosed, m.Type)
	assert.Equal(t, engine.ReasonCancelled, m.Reason)
	_, ok := <-msgs
	assert.False(t, ok, "subscriber channel closed with the session")
	assert.Zero(t, h.clock.Tick(), "pending frames cancelled on close")

	idle, err := h.eng.Open(ctx, engine.OpenRequest{Selector: "background"})
	require.NoError(t, err)
	h.now = h.now.Add(30 * time.Second)
	busy, err := h.eng.Open(ctx, engine.OpenRequest{Selector: "background"})
	require.NoError(t, err)

	h.now = h.now.Add(45 * time.Second)
	assert.Equal(t, 1, h.eng.Reap())
	assert.Equal(t, []string{busy.ID()}, h.eng.SessionIDs())
	select {
	case <-idle.Done():
	default:
		t.Fatal("idle session not closed")
	}

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = busy.Await(waitCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSession_OptionsAndReset(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s, err := h.eng.Open(ctx, engine.OpenRequest{Selector: "career"})
	require.NoError(t, err)

	res, err := s.Dispatch(ctx, action.Action{Kind: action.SelectOption, Target: "marine"})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Contains(t, res.Changed, "mechanic")

	_, err = s.Dispatch(ctx, toggle("pilot"))
	require.NoError(t, err)
	v, err := s.View()
	require.NoError(t, err)
	assert.True(t, v.Complete)
	assert.Equal(t, "marine", v.Options[0].ID)
	assert.True(t, v.Options[0].Active)

	_, err = s.Dispatch(ctx, action.Action{Kind: action.SelectOption, Target: "navy"})
	assert.Error(t, err)

	res, err = s.Dispatch(ctx, action.Action{Kind: action.Reset})
	require.NoError(t, err)
	assert.False(t, res.Complete)
	v, err = s.View()
	require.NoError(t, err)
	for _, n := range v.Nodes {
		assert.False(t, n.Selected, n.ID)
	}
}

func TestSession_LayoutAndSVG(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s, err := h.eng.Open(ctx, engine.OpenRequest{Selector: "background"})
	require.NoError(t, err)
	msgs, cancel, err := s.Subscribe()
	require.NoError(t, err)
	defer cancel()
	h.clock.Tick()
	next(t, msgs)

	require.NoError(t, s.SetLayout(map[string]render.Box{"gunnery": {X: 500, Y: 300, W: 100, H: 40}}))
	h.clock.Tick()
	m := next(t, msgs)
	assert.True(t, m.Frame.Full, "layout overrides force a full rebuild")
	require.Len(t, m.Frame.Connectors, 1)
	assert.Contains(t, m.Frame.Connectors[0].D, "500 320")

	var buf bytes.Buffer
	require.NoError(t, s.WriteSVG(&buf))
	assert.Contains(t, buf.String(), "Gunnery")
	assert.Contains(t, buf.String(), "<svg")
}

func TestEngine_SwapCatalogKeepsOpenSessions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	old, err := h.eng.Open(ctx, engine.OpenRequest{Selector: "background"})
	require.NoError(t, err)

	h.eng.SwapCatalog(compile(t, `
version: "v2"
skills:
  - {id: pilot, name: Pilot, rank: entry}
selectors:
  - {id: solo, pools: {entry: 1}}
`))
	assert.Equal(t, "v2", h.eng.Catalog().Version)

	v, err := old.View()
	require.NoError(t, err)
	assert.Equal(t, "v1", v.Catalog)
	assert.Len(t, v.Nodes, 3)

	_, err = h.eng.Open(ctx, engine.OpenRequest{Selector: "background"})
	assert.ErrorIs(t, err, engine.ErrSelectorNotFound)
	_, err = h.eng.Open(ctx, engine.OpenRequest{Selector: "solo"})
	assert.NoError(t, err)

	assert.Len(t, h.eng.Search("pil"), 1)
}

func TestCompile_Errors(t *testing.T) {
	cfg, err := config.Parse([]byte(`
version: "v1"
skills:
  - {id: pilot, rank: entry}
selectors:
  - id: s
    defaults: [pilto]
    options:
      - {id: o, grants: [ghost]}
`))
	require.NoError(t, err)
	_, err = engine.Compile(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, dag.ErrNodeNotFound)
	assert.Contains(t, err.Error(), `did you mean "pilot"`)
	assert.Contains(t, err.Error(), `"ghost"`)

	cfg, err = config.Parse([]byte(`
version: "v1"
skills:
  - {id: a, rank: entry, prerequisites: [b]}
  - {id: b, rank: entry, prerequisites: [a]}
`))
	require.NoError(t, err)
	_, err = engine.Compile(cfg)
	assert.ErrorIs(t, err, dag.ErrCycleDetected)
}

func TestCompile_SampleCatalog(t *testing.T) {
	cfg, err := config.Load(filepath.Join("..", "..", "configs", "catalog.yaml"))
	require.NoError(t, err)
	cat, err := engine.Compile(cfg)
	require.NoError(t, err)

	assert.Equal(t, []string{"background", "specialty"}, cat.SelectorIDs())
	assert.Equal(t, dag.ModeSingle, cat.Selectors["specialty"].Mode)
	assert.Equal(t, []string{"ranged"}, cat.Selectors["background"].Options[0].Grants)
}

func TestEngine_ApplyConfig(t *testing.T) {
	h := newHarness(t)

	cfg, err := config.Parse([]byte(strings.Replace(catalogYAML, `version: "v1"`, `version: "v2"`, 1)))
	require.NoError(t, err)
	require.NoError(t, h.eng.ApplyConfig(cfg))
	assert.Equal(t, "v2", h.eng.Catalog().Version)

	cyclic := strings.NewReplacer(
		`version: "v1"`, `version: "v3"`,
		"{id: pilot, name: Pilot, rank: entry}", "{id: pilot, name: Pilot, rank: entry, prerequisites: [gunnery]}",
	).Replace(catalogYAML)
	cfg, err = config.Parse([]byte(cyclic))
	require.NoError(t, err)
	err = h.eng.ApplyConfig(cfg)
	assert.ErrorIs(t, err, engine.ErrInvalidCatalog)
	assert.ErrorIs(t, err, dag.ErrCycleDetected)
	assert.Equal(t, "v2", h.eng.Catalog().Version)
}
