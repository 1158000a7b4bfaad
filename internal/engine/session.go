package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gyaneshwarpardhi/skilltree/internal/action"
	"github.com/gyaneshwarpardhi/skilltree/internal/dag"
	"github.com/gyaneshwarpardhi/skilltree/internal/event"
	"github.com/gyaneshwarpardhi/skilltree/internal/layout"
	"github.com/gyaneshwarpardhi/skilltree/internal/metrics"
	"github.com/gyaneshwarpardhi/skilltree/internal/render"
	"github.com/gyaneshwarpardhi/skilltree/internal/selection"
	"github.com/gyaneshwarpardhi/skilltree/internal/store"
)

// Close reasons.
const (
	ReasonConfirmed = "confirmed"
	ReasonCancelled = "cancelled"
	ReasonExpired   = "expired"
	ReasonShutdown  = "shutdown"
)

const subscriberBuffer = 64

// Decision is what a confirmed session resolves to.
type Decision struct {
	SessionID   string           `json:"session_id"`
	ActorID     string           `json:"actor_id,omitempty"`
	Result      selection.Result `json:"result"`
	Items       []store.Item     `json:"items,omitempty"`
	ConfirmedAt time.Time        `json:"confirmed_at"`
}

// View is a session snapshot for the host UI.
type View struct {
	ID      string                `json:"id"`
	ActorID string                `json:"actor_id,omitempty"`
	Catalog string                `json:"catalog_version"`
	Boxes   map[string]render.Box `json:"boxes"`
	selection.View
}

// Session is one open selector. Mutations and redraw flushes are serialised
// by mu.
type Session struct {
	id      string
	actorID string
	catalog *Catalog
	def     selection.Definition
	owned   []string
	engine  *Engine
	logger  *slog.Logger

	mu         sync.Mutex
	ctrl       *selection.Controller
	boxes      map[string]render.Box
	geom       *render.Geometry
	sched      *render.Scheduler
	subs       map[uint64]chan event.Message
	nextSub    uint64
	lastActive time.Time
	closed     bool
	decision   *Decision
	done       chan struct{}
}

// ID returns the session ID.
func (s *Session) ID() string { return s.id }

// ActorID returns the actor the session selects for, if any.
func (s *Session) ActorID() string { return s.actorID }

// Done is closed once the session is confirmed, cancelled or expired.
func (s *Session) Done() <-chan struct{} { return s.done }

// Await blocks until the session resolves. A confirmed session yields its
// Decision; a cancelled or expired one yields nil.
func (s *Session) Await(ctx context.Context) (*Decision, error) {
	select {
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.decision, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// View snapshots the session.
func (s *Session) View() (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return View{}, ErrSessionClosed
	}
	boxes := make(map[string]render.Box, len(s.boxes))
	for id, b := range s.boxes {
		boxes[id] = b
	}
	return View{
		ID:      s.id,
		ActorID: s.actorID,
		Catalog: s.catalog.Version,
		Boxes:   boxes,
		View:    s.ctrl.View(),
	}, nil
}

// Dispatch applies one UI action.
func (s *Session) Dispatch(ctx context.Context, a action.Action) (action.Result, error) {
	if err := a.Validate(); err != nil {
		return action.Result{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return action.Result{}, ErrSessionClosed
	}
	s.lastActive = s.engine.now()

	res := action.Result{Kind: a.Kind, Target: a.Target}
	var err error
	switch a.Kind {
	case action.Toggle:
		err = s.toggle(a.Target, &res)
	case action.SelectOption:
		err = s.selectOption(a.Target, &res)
	case action.Confirm:
		err = s.confirm(ctx, &res)
	case action.Cancel:
		s.close(ReasonCancelled, nil)
		res.OK = true
	case action.Reset:
		err = s.reset(&res)
	default:
		err = fmt.Errorf("action: invalid kind %d", int(a.Kind))
	}

	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case !res.OK:
		outcome = res.Reason
	}
	metrics.Actions.WithLabelValues(a.Kind.String(), outcome).Inc()
	return res, err
}

func (s *Session) toggle(target string, res *action.Result) error {
	g := s.catalog.Graph
	id := dag.NormalizeID(target)
	if !g.Has(id) {
		if sug, ok := g.Suggest(id); ok {
			return fmt.Errorf("%w: %q (did you mean %q?)", dag.ErrNodeNotFound, target, sug)
		}
		return fmt.Errorf("%w: %q", dag.ErrNodeNotFound, target)
	}

	start := time.Now()
	out, err := s.ctrl.Toggle(id)
	metrics.RecomputeDuration.WithLabelValues("incremental").Observe(float64(time.Since(start).Microseconds()))
	if err != nil {
		return err
	}
	s.apply(out, res)
	return nil
}

func (s *Session) selectOption(target string, res *action.Result) error {
	start := time.Now()
	out, err := s.ctrl.SelectOption(target)
	metrics.RecomputeDuration.WithLabelValues("full").Observe(float64(time.Since(start).Microseconds()))
	if err != nil {
		return err
	}
	s.apply(out, res)
	return nil
}

func (s *Session) reset(res *action.Result) error {
	ctrl, err := selection.New(s.catalog.Graph, s.def, s.owned...)
	if err != nil {
		return err
	}
	s.ctrl = ctrl
	res.OK = true
	res.Complete = ctrl.Complete()
	s.sched.Schedule(nil, true)
	return nil
}

// apply folds a controller outcome into res and queues a redraw or notice.
func (s *Session) apply(out selection.Outcome, res *action.Result) {
	res.OK = out.OK
	res.Reason = string(out.Reason)
	res.Complete = s.ctrl.Complete()
	if !out.OK {
		res.Message = s.ctrl.Warning(out)
		if res.Message != "" {
			s.broadcast(event.NewNotice(s.id, event.Notice{Level: event.LevelWarn, Text: res.Message, Subject: out.Dependent}))
		}
		return
	}
	res.Changed = out.Changed.Sorted()
	if n := len(out.AutoDeselected); n > 0 {
		metrics.AutoDeselected.Add(float64(n))
		s.logger.Debug("auto-deselected locked skills", "session", s.id, "skills", out.AutoDeselected.Sorted())
	}
	s.sched.Schedule(out.Changed, false)
}

func (s *Session) confirm(ctx context.Context, res *action.Result) error {
	if !s.ctrl.Complete() {
		return ErrNotComplete
	}
	result := s.ctrl.Result()
	d := &Decision{
		SessionID:   s.id,
		ActorID:     s.actorID,
		Result:      result,
		ConfirmedAt: s.engine.now().UTC(),
	}
	if s.actorID != "" {
		items, err := s.engine.commit(ctx, s.commitFor(result))
		if err != nil {
			return err
		}
		d.Items = items
	}
	res.OK = true
	res.Complete = true
	s.close(ReasonConfirmed, d)
	return nil
}

func (s *Session) commitFor(r selection.Result) store.Commit {
	g := s.catalog.Graph
	c := store.Commit{ActorID: s.actorID, Fields: make(map[string]string)}
	for _, id := range r.Skills {
		n := g.Node(id)
		c.Items = append(c.Items, store.Item{
			Category: store.CategorySkill,
			SkillID:  id,
			Name:     n.Name,
			Rank:     string(n.Rank),
			Source:   r.Selector,
		})
	}
	for rank, spent := range r.Spent {
		c.Fields["points."+string(rank)] = strconv.Itoa(spent)
	}
	if r.Option != "" {
		c.Fields["selector."+r.Selector+".option"] = r.Option
	}
	return c
}

// SetLayout overrides node boxes and forces a full rebuild on the next frame.
func (s *Session) SetLayout(overrides map[string]render.Box) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.lastActive = s.engine.now()
	s.boxes = layout.Merge(s.boxes, overrides)
	s.sched.Schedule(nil, true)
	return nil
}

// WriteSVG renders the current tree.
func (s *Session) WriteSVG(w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	sel := s.ctrl.Selection()
	geom := render.Rebuild(s.catalog.Graph.Edges(), s.boxes, s.catalog.highlighter(sel))
	nodes := make([]render.NodeState, 0, s.catalog.Graph.NodeCount())
	for _, id := range s.catalog.Graph.IDs() {
		nodes = append(nodes, render.NodeState{
			ID:       id,
			Name:     s.catalog.Graph.Node(id).Name,
			Selected: sel.IsSelected(id),
			Locked:   s.ctrl.Locked(id),
		})
	}
	render.WriteSVG(w, nodes, s.boxes, geom.Connectors())
	return nil
}

// Subscribe registers a message stream. The channel is closed when the
// session ends or cancel is called. Slow subscribers drop frames.
func (s *Session) Subscribe() (<-chan event.Message, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, ErrSessionClosed
	}
	s.nextSub++
	id := s.nextSub
	ch := make(chan event.Message, subscriberBuffer)
	s.subs[id] = ch
	// Late subscribers need the whole picture.
	s.sched.Schedule(nil, true)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
	return ch, cancel, nil
}

func (s *Session) broadcast(m event.Message) {
	for id, ch := range s.subs {
		select {
		case ch <- m:
		default:
			s.logger.Warn("subscriber too slow, dropping message", "session", s.id, "subscriber", id, "type", m.Type)
		}
	}
}

// flush runs on the scheduler's frame.
func (s *Session) flush(f render.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	sel := s.ctrl.Selection()
	hl := s.catalog.highlighter(sel)
	g := s.catalog.Graph

	frame := event.Frame{Seq: f.Seq, Complete: s.ctrl.Complete(), Pools: make(map[string]int)}
	for r, n := range sel.Pools() {
		frame.Pools[string(r)] = n
	}

	var painted []render.Connector
	nodes := f.Changed
	if f.Full || s.geom == nil {
		s.geom = render.Rebuild(g.Edges(), s.boxes, hl)
		painted = s.geom.Connectors()
		nodes = dag.NewIDSet(g.IDs()...)
		frame.Full = true
		metrics.Redraws.WithLabelValues("full").Inc()
	} else {
		painted = s.geom.Recolor(f.Changed, hl)
		metrics.Redraws.WithLabelValues("partial").Inc()
	}
	for _, c := range painted {
		p := event.ConnectorPaint{Key: c.Key, Highlighted: c.Highlighted}
		if frame.Full {
			p.D = c.D
		}
		frame.Connectors = append(frame.Connectors, p)
	}
	for _, id := range g.IDs() {
		if !nodes.Has(id) {
			continue
		}
		frame.Nodes = append(frame.Nodes, event.NodeState{ID: id, Selected: sel.IsSelected(id), Locked: s.ctrl.Locked(id)})
	}
	metrics.ConnectorsPainted.Add(float64(len(painted)))
	s.broadcast(event.NewFrame(s.id, frame))
}

// close ends the session. Callers hold mu.
func (s *Session) close(reason string, d *Decision) {
	if s.closed {
		return
	}
	s.closed = true
	s.decision = d
	s.sched.Close()
	s.geom.Clear()
	clear(s.boxes)

	s.broadcast(event.NewClosed(s.id, reason))
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	close(s.done)
	s.engine.remove(s.id, reason)
	s.logger.Info("session closed", "session", s.id, "reason", reason)
}

// expireIfIdle closes the session when it has been idle since before cutoff.
func (s *Session) expireIfIdle(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.lastActive.After(cutoff) {
		return false
	}
	s.close(ReasonExpired, nil)
	return true
}

func (s *Session) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.close(ReasonShutdown, nil)
}
