package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/skilltree/internal/config"
	"github.com/gyaneshwarpardhi/skilltree/internal/dag"
	"github.com/gyaneshwarpardhi/skilltree/internal/event"
	"github.com/gyaneshwarpardhi/skilltree/internal/layout"
	"github.com/gyaneshwarpardhi/skilltree/internal/metrics"
	"github.com/gyaneshwarpardhi/skilltree/internal/render"
	"github.com/gyaneshwarpardhi/skilltree/internal/selection"
	"github.com/gyaneshwarpardhi/skilltree/internal/store"
)

var (
	ErrSessionNotFound  = errors.New("engine: session not found")
	ErrSessionClosed    = errors.New("engine: session closed")
	ErrSelectorNotFound = errors.New("engine: selector not found")
	ErrNotComplete      = errors.New("engine: selection incomplete")
	ErrCommitQueueFull  = errors.New("engine: commit queue full")
	ErrCommitTimeout    = errors.New("engine: commit timed out")
	ErrInvalidCatalog   = errors.New("engine: invalid catalog")
)

// Store is the persistence the engine needs.
type Store interface {
	ListItems(ctx context.Context, actorID, category string) ([]store.Item, error)
	CommitSelection(ctx context.Context, c store.Commit) ([]store.Item, error)
	DeleteItems(ctx context.Context, actorID, category string) (int64, error)
}

// OpenRequest selects the selector flow and the actor it edits.
type OpenRequest struct {
	Selector string `json:"selector"`
	ActorID  string `json:"actor_id,omitempty"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the frame clock factory used for new sessions.
func WithClock(fn func() render.Clock) Option {
	return func(e *Engine) { e.newClock = fn }
}

// WithNow overrides the time source used for idle tracking.
func WithNow(fn func() time.Time) Option {
	return func(e *Engine) { e.now = fn }
}

// Engine owns the current catalog, open sessions and the commit pool.
type Engine struct {
	catalog  atomic.Pointer[Catalog]
	store    Store
	logger   *slog.Logger
	conf     config.EngineConf
	newClock func() render.Clock
	now      func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session

	commits *workerPool[*commitWork, []store.Item]
}

type commitWork struct {
	ctx    context.Context
	commit store.Commit
}

// New creates an Engine over cat and starts the commit workers. st may be nil,
// in which case confirmed selections are not persisted.
func New(ctx context.Context, cat *Catalog, st Store, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:    st,
		logger:   logger,
		conf:     cat.Engine,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
	interval := time.Duration(e.conf.FrameIntervalMs) * time.Millisecond
	e.newClock = func() render.Clock { return render.NewFrameClock(interval) }
	for _, o := range opts {
		o(e)
	}
	e.catalog.Store(cat)

	e.commits = newWorkerPool[*commitWork, []store.Item](
		ctx,
		max(1, e.conf.CommitWorkers),
		max(1, e.conf.QueueDepth),
		func(ctx context.Context, w *commitWork) ([]store.Item, error) {
			start := time.Now()
			items, err := e.store.CommitSelection(w.ctx, w.commit)
			metrics.CommitDuration.Observe(float64(time.Since(start).Milliseconds()))
			return items, err
		},
	)
	return e
}

// Catalog returns the current catalog.
func (e *Engine) Catalog() *Catalog {
	return e.catalog.Load()
}

// SwapCatalog atomically replaces the catalog (used on hot-reload). Open
// sessions keep the catalog they were opened with.
func (e *Engine) SwapCatalog(cat *Catalog) {
	e.catalog.Store(cat)
}

// ApplyConfig compiles cfg and swaps it in. It is registered as the catalog
// loader's OnChange callback, so a rejected catalog is never made current.
func (e *Engine) ApplyConfig(cfg *config.CatalogConfig) error {
	cat, err := Compile(cfg)
	if err != nil {
		metrics.CatalogReloads.WithLabelValues("invalid").Inc()
		e.logger.Warn("catalog reload rejected", "version", cfg.Version, "err", err)
		return fmt.Errorf("%w: %w", ErrInvalidCatalog, err)
	}
	e.SwapCatalog(cat)
	metrics.CatalogReloads.WithLabelValues("success").Inc()
	e.logger.Info("catalog swapped", "version", cat.Version, "skills", cat.Graph.NodeCount())
	return nil
}

// Open starts a session. Skills the actor already owns are granted.
func (e *Engine) Open(ctx context.Context, req OpenRequest) (*Session, error) {
	cat := e.catalog.Load()
	def, ok := cat.Selectors[req.Selector]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSelectorNotFound, req.Selector)
	}

	var owned []string
	if req.ActorID != "" && e.store != nil {
		items, err := e.store.ListItems(ctx, req.ActorID, store.CategorySkill)
		if err != nil {
			return nil, fmt.Errorf("load actor skills: %w", err)
		}
		for _, it := range items {
			owned = append(owned, it.SkillID)
		}
	}

	ctrl, err := selection.New(cat.Graph, def, owned...)
	if err != nil {
		return nil, err
	}
	s := &Session{
		id:         uuid.NewString(),
		actorID:    req.ActorID,
		catalog:    cat,
		def:        def,
		owned:      owned,
		engine:     e,
		ctrl:       ctrl,
		boxes:      layout.Compute(cat.Graph, cat.Layout),
		subs:       make(map[uint64]chan event.Message),
		lastActive: e.now(),
		done:       make(chan struct{}),
	}
	s.logger = e.logger.With("session", s.id)
	s.sched = render.NewScheduler(e.newClock(), s.flush)
	s.sched.Schedule(nil, true)

	e.mu.Lock()
	e.sessions[s.id] = s
	e.mu.Unlock()

	metrics.SessionsOpened.WithLabelValues(req.Selector).Inc()
	metrics.ActiveSessions.Inc()
	e.logger.Info("session opened", "session", s.id, "selector", req.Selector, "actor", req.ActorID, "owned", len(owned))
	return s, nil
}

// Get returns an open session.
func (e *Engine) Get(id string) (*Session, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// SessionIDs lists open sessions, sorted.
func (e *Engine) SessionIDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.sessions))
	for id := range e.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (e *Engine) remove(id, reason string) {
	e.mu.Lock()
	_, ok := e.sessions[id]
	delete(e.sessions, id)
	e.mu.Unlock()
	if ok {
		metrics.ActiveSessions.Dec()
		metrics.SessionsClosed.WithLabelValues(reason).Inc()
	}
}

func (e *Engine) snapshot() []*Session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, s)
	}
	return out
}

// Reap expires sessions idle for longer than the configured TTL and returns
// how many were closed.
func (e *Engine) Reap() int {
	ttl := time.Duration(e.conf.SessionTTLSec) * time.Second
	if ttl <= 0 {
		return 0
	}
	cutoff := e.now().Add(-ttl)
	n := 0
	for _, s := range e.snapshot() {
		if s.expireIfIdle(cutoff) {
			n++
		}
	}
	return n
}

// RunReaper calls Reap periodically until ctx is done.
func (e *Engine) RunReaper(ctx context.Context) error {
	interval := time.Duration(e.conf.SessionTTLSec) * time.Second / 4
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if n := e.Reap(); n > 0 {
				e.logger.Info("expired idle sessions", "count", n)
			}
		}
	}
}

// commit persists c through the commit pool, bounded by the commit timeout.
func (e *Engine) commit(ctx context.Context, c store.Commit) ([]store.Item, error) {
	if e.store == nil {
		return nil, nil
	}
	timeout := time.Duration(e.conf.CommitTimeoutMs) * time.Millisecond
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resC, ok := e.commits.Submit(&commitWork{ctx: ctx, commit: c})
	metrics.QueueUtilization.Set(e.QueueUtilization())
	if !ok {
		metrics.Commits.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w (capacity %d)", ErrCommitQueueFull, e.commits.QueueCap())
	}

	select {
	case res := <-resC:
		if res.err != nil {
			metrics.Commits.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("commit selection: %w", res.err)
		}
		metrics.Commits.WithLabelValues("success").Inc()
		return res.value, nil
	case <-ctx.Done():
		metrics.Commits.WithLabelValues("timeout").Inc()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %v", ErrCommitTimeout, timeout)
		}
		return nil, ctx.Err()
	}
}

// QueueUtilization returns commit queue used / capacity (0–1).
func (e *Engine) QueueUtilization() float64 {
	if e.commits.QueueCap() == 0 {
		return 0
	}
	return float64(e.commits.QueueLen()) / float64(e.commits.QueueCap())
}

// ActorSkills lists skills an actor owns.
func (e *Engine) ActorSkills(ctx context.Context, actorID string) ([]store.Item, error) {
	if e.store == nil {
		return nil, nil
	}
	return e.store.ListItems(ctx, actorID, store.CategorySkill)
}

// ResetActor deletes every skill granted to the actor so it can pick again.
func (e *Engine) ResetActor(ctx context.Context, actorID string) (int64, error) {
	if e.store == nil {
		return 0, nil
	}
	n, err := e.store.DeleteItems(ctx, actorID, store.CategorySkill)
	if err != nil {
		return 0, fmt.Errorf("reset actor %s: %w", actorID, err)
	}
	e.logger.Info("actor skills reset", "actor", actorID, "removed", n)
	return n, nil
}

// Search fuzzy-matches skill names in the current catalog.
func (e *Engine) Search(q string) []*dag.SkillNode {
	return e.catalog.Load().Graph.Search(q)
}

// Shutdown closes every session and drains the commit pool.
func (e *Engine) Shutdown() {
	for _, s := range e.snapshot() {
		s.shutdown()
	}
	e.commits.Drain()
}
