package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gyaneshwarpardhi/skilltree/internal/action"
	"github.com/gyaneshwarpardhi/skilltree/internal/config"
	"github.com/gyaneshwarpardhi/skilltree/internal/engine"
	"github.com/gyaneshwarpardhi/skilltree/internal/metrics"
	"github.com/gyaneshwarpardhi/skilltree/internal/render"
)

const (
	defaultAwait = 30 * time.Second
	maxAwait     = 5 * time.Minute
)

// Pinger is checked by the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all HTTP handler dependencies.
type Handler struct {
	eng    *engine.Engine
	loader *config.Loader
	db     Pinger
	logger *slog.Logger
	mux    *http.ServeMux
}

// New creates an HTTP handler and registers all routes. db may be nil.
func New(eng *engine.Engine, loader *config.Loader, db Pinger, logger *slog.Logger) http.Handler {
	h := &Handler{eng: eng, loader: loader, db: db, logger: logger, mux: http.NewServeMux()}

	h.mux.HandleFunc("GET /v1/catalog/skills", h.searchSkills)
	h.mux.HandleFunc("POST /v1/catalog/reload", h.reloadCatalog)
	h.mux.HandleFunc("POST /v1/sessions", h.openSession)
	h.mux.HandleFunc("GET /v1/sessions/{id}", h.getSession)
	h.mux.HandleFunc("POST /v1/sessions/{id}/actions", h.dispatch)
	h.mux.HandleFunc("PUT /v1/sessions/{id}/layout", h.setLayout)
	h.mux.HandleFunc("GET /v1/sessions/{id}/await", h.await)
	h.mux.HandleFunc("GET /v1/sessions/{id}/tree.svg", h.treeSVG)
	h.mux.HandleFunc("GET /v1/sessions/{id}/ws", h.stream)
	h.mux.HandleFunc("GET /v1/actors/{id}/skills", h.actorSkills)
	h.mux.HandleFunc("POST /v1/actors/{id}/skills/reset", h.resetActor)
	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.HandleFunc("GET /readyz", h.readyz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return loggingMiddleware(logger, h.mux)
}

// GET /v1/catalog/skills?q=: fuzzy search over skill names.
func (h *Handler) searchSkills(w http.ResponseWriter, r *http.Request) {
	cat := h.eng.Catalog()
	writeJSON(w, http.StatusOK, map[string]any{
		"version":   cat.Version,
		"selectors": cat.SelectorIDs(),
		"skills":    h.eng.Search(r.URL.Query().Get("q")),
	})
}

// POST /v1/catalog/reload: hot-reload the catalog from disk. Compiling and
// swapping happen in the engine's OnChange callback.
func (h *Handler) reloadCatalog(w http.ResponseWriter, r *http.Request) {
	if _, err := h.loader.Reload(); err != nil {
		if errors.Is(err, engine.ErrInvalidCatalog) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		metrics.CatalogReloads.WithLabelValues("error").Inc()
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	cat := h.eng.Catalog()
	writeJSON(w, http.StatusOK, map[string]any{
		"reloaded":     true,
		"version":      cat.Version,
		"skills_count": cat.Graph.NodeCount(),
	})
}

// POST /v1/sessions: open a selector session.
func (h *Handler) openSession(w http.ResponseWriter, r *http.Request) {
	var req engine.OpenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if req.Selector == "" {
		writeError(w, http.StatusBadRequest, "selector is required")
		return
	}
	s, err := h.eng.Open(r.Context(), req)
	if err != nil {
		writeErr(w, err)
		return
	}
	v, err := s.View()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*engine.Session, bool) {
	s, err := h.eng.Get(r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return nil, false
	}
	return s, true
}

// GET /v1/sessions/{id}
func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	v, err := s.View()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// POST /v1/sessions/{id}/actions: apply one UI action.
func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var a action.Action
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid action: %s", err))
		return
	}
	if err := a.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.Dispatch(r.Context(), a)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// PUT /v1/sessions/{id}/layout: override node boxes.
func (h *Handler) setLayout(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var boxes map[string]render.Box
	if err := json.NewDecoder(r.Body).Decode(&boxes); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid layout: %s", err))
		return
	}
	if err := s.SetLayout(boxes); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /v1/sessions/{id}/await?timeout=30s: long-poll for the decision.
func (h *Handler) await(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	timeout := defaultAwait
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid timeout %q", raw))
			return
		}
		timeout = min(d, maxAwait)
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	d, err := s.Await(ctx)
	switch {
	case err != nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "pending"})
	case d == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"status": "confirmed", "decision": d})
	}
}

// GET /v1/sessions/{id}/tree.svg
func (h *Handler) treeSVG(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	if err := s.WriteSVG(w); err != nil {
		writeErr(w, err)
	}
}

// GET /v1/actors/{id}/skills
func (h *Handler) actorSkills(w http.ResponseWriter, r *http.Request) {
	items, err := h.eng.ActorSkills(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"actor_id": r.PathValue("id"), "skills": items})
}

// POST /v1/actors/{id}/skills/reset: remove every granted skill.
func (h *Handler) resetActor(w http.ResponseWriter, r *http.Request) {
	n, err := h.eng.ResetActor(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"actor_id": r.PathValue("id"), "removed": n})
}

// GET /healthz: always 200 (liveness probe).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz: 503 if the commit queue is >80% full or the store is down.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	util := h.eng.QueueUtilization()
	metrics.QueueUtilization.Set(util)
	if util > 0.8 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":            "overloaded",
			"queue_utilization": util,
		})
		return
	}
	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "store unavailable",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ready",
		"queue_utilization": util,
		"sessions":          len(h.eng.SessionIDs()),
	})
}
