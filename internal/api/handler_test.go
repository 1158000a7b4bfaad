package api_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/skilltree/internal/api"
	"github.com/gyaneshwarpardhi/skilltree/internal/config"
	"github.com/gyaneshwarpardhi/skilltree/internal/engine"
	"github.com/gyaneshwarpardhi/skilltree/internal/event"
	"github.com/gyaneshwarpardhi/skilltree/internal/metrics"
	"github.com/gyaneshwarpardhi/skilltree/internal/render"
	"github.com/gyaneshwarpardhi/skilltree/internal/store"
)

const catalogV1 = `
version: "v1"
engine:
  frame_interval_ms: 5
skills:
  - {id: pilot, name: Pilot, rank: entry}
  - {id: gunnery, name: Gunnery, rank: advanced, prerequisites: [pilot]}
selectors:
  - id: background
    pools: {entry: 1, advanced: 1}
`

type testServer struct {
	srv    *httptest.Server
	path   string
	eng    *engine.Engine
	loader *config.Loader
}

func newServer(t *testing.T, opts ...engine.Option) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalogV1), 0o644))

	loader, err := config.NewLoader(path, logger)
	require.NoError(t, err)
	cat, err := engine.Compile(loader.Config())
	require.NoError(t, err)

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	eng := engine.New(context.Background(), cat, st, logger, opts...)
	loader.OnChange(eng.ApplyConfig)
	srv := httptest.NewServer(api.New(eng, loader, st, logger))
	t.Cleanup(func() {
		srv.Close()
		eng.Shutdown()
		st.Close()
	})
	return &testServer{srv: srv, path: path, eng: eng, loader: loader}
}

func (ts *testServer) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, ts.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}

func (ts *testServer) open(t *testing.T, body string) string {
	t.Helper()
	resp, out := ts.do(t, http.MethodPost, "/v1/sessions", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode, out)
	id, _ := out["id"].(string)
	require.NotEmpty(t, id)
	return id
}

func manual() engine.Option {
	clock := render.NewManualClock()
	return engine.WithClock(func() render.Clock { return clock })
}

func TestSessionLifecycle(t *testing.T) {
	ts := newServer(t, manual())
	id := ts.open(t, `{"selector":"background","actor_id":"actor-9"}`)
	base := "/v1/sessions/" + id

	resp, out := ts.do(t, http.MethodGet, base, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "background", out["selector"])
	assert.Len(t, out["nodes"], 2)

	resp, out = ts.do(t, http.MethodPost, base+"/actions", `{"kind":"toggle","target":"pilot"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out["ok"])

	resp, out = ts.do(t, http.MethodPost, base+"/actions", `{"kind":"confirm"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, out)

	resp, _ = ts.do(t, http.MethodPost, base+"/actions", `{"kind":"toggle","target":"pilott"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, base+"/actions", `{"kind":"fly"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, base+"/actions", `{"kind":"toggle"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, out = ts.do(t, http.MethodGet, base+"/await?timeout=10ms", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "pending", out["status"])

	resp, _ = ts.do(t, http.MethodPut, base+"/layout", `{"pilot":{"x":10,"y":10,"w":100,"h":40}}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodGet, base+"/tree.svg", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/svg+xml", resp.Header.Get("Content-Type"))

	awaited := make(chan map[string]any, 1)
	go func() {
		var out map[string]any
		if resp, err := http.Get(ts.srv.URL + base + "/await?timeout=5s"); err == nil {
			_ = json.NewDecoder(resp.Body).Decode(&out)
			resp.Body.Close()
		}
		awaited <- out
	}()
	// Let the long poll attach before the session closes.
	time.Sleep(50 * time.Millisecond)

	resp, out = ts.do(t, http.MethodPost, base+"/actions", `{"kind":"toggle","target":"gunnery"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out["complete"])
	resp, _ = ts.do(t, http.MethodPost, base+"/actions", `{"kind":"confirm"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case out := <-awaited:
		assert.Equal(t, "confirmed", out["status"])
	case <-time.After(5 * time.Second):
		t.Fatal("await did not resolve")
	}

	resp, _ = ts.do(t, http.MethodGet, base, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, out = ts.do(t, http.MethodGet, "/v1/actors/actor-9/skills", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, out["skills"], 2)

	resp, out = ts.do(t, http.MethodPost, "/v1/actors/actor-9/skills/reset", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, out["removed"])
}

func TestOpenSession_Errors(t *testing.T) {
	ts := newServer(t, manual())

	resp, _ := ts.do(t, http.MethodPost, "/v1/sessions", `{"selector":"nope"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, "/v1/sessions", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, "/v1/sessions", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodGet, "/v1/sessions/unknown", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCatalogSearchAndReload(t *testing.T) {
	ts := newServer(t, manual())

	resp, out := ts.do(t, http.MethodGet, "/v1/catalog/skills?q=gun", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	skills := out["skills"].([]any)
	require.Len(t, skills, 1)
	assert.Equal(t, "gunnery", skills[0].(map[string]any)["id"])

	success := metrics.CatalogReloads.WithLabelValues("success")
	invalid := metrics.CatalogReloads.WithLabelValues("invalid")
	before := testutil.ToFloat64(success)

	updated := strings.Replace(catalogV1, `version: "v1"`, `version: "v2"`, 1)
	require.NoError(t, os.WriteFile(ts.path, []byte(updated), 0o644))
	resp, out = ts.do(t, http.MethodPost, "/v1/catalog/reload", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "v2", out["version"])
	assert.Equal(t, "v2", ts.eng.Catalog().Version)
	assert.InDelta(t, before+1, testutil.ToFloat64(success), 0, "one reload is counted once")
	beforeInvalid := testutil.ToFloat64(invalid)

	cyclic := strings.NewReplacer(
		`version: "v1"`, `version: "v3"`,
		"{id: pilot, name: Pilot, rank: entry}", "{id: pilot, name: Pilot, rank: entry, prerequisites: [gunnery]}",
	).Replace(catalogV1)
	require.NoError(t, os.WriteFile(ts.path, []byte(cyclic), 0o644))
	resp, _ = ts.do(t, http.MethodPost, "/v1/catalog/reload", "")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "v2", ts.eng.Catalog().Version, "a bad catalog is not swapped in")
	assert.Equal(t, "v2", ts.loader.Config().Version, "the loader keeps the accepted catalog")
	assert.InDelta(t, beforeInvalid+1, testutil.ToFloat64(invalid), 0)
}

func TestProbes(t *testing.T) {
	ts := newServer(t, manual())

	resp, out := ts.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", out["status"])

	resp, out = ts.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ready", out["status"])

	resp, _ = ts.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStream(t *testing.T) {
	ts := newServer(t)
	id := ts.open(t, `{"selector":"background"}`)

	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/v1/sessions/" + id + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var first event.Message
	require.NoError(t, conn.ReadJSON(&first))
	require.Equal(t, event.TypeFrame, first.Type)
	assert.True(t, first.Frame.Full)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "action",
		"payload": map[string]string{"kind": "toggle", "target": "pilot"},
	}))

	var sawResult, sawFrame bool
	for !(sawResult && sawFrame) {
		var raw map[string]json.RawMessage
		require.NoError(t, conn.ReadJSON(&raw))
		var typ string
		require.NoError(t, json.Unmarshal(raw["type"], &typ))
		switch typ {
		case "result":
			sawResult = true
		case string(event.TypeFrame):
			var m event.Message
			b, _ := json.Marshal(raw)
			require.NoError(t, json.Unmarshal(b, &m))
			if !m.Frame.Full {
				sawFrame = true
				assert.NotEmpty(t, m.Frame.Nodes)
			}
		}
	}

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "action",
		"payload": map[string]string{"kind": "cancel"},
	}))
	for {
		var raw map[string]json.RawMessage
		if err := conn.ReadJSON(&raw); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err)
			break
		}
	}
}
