package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"logrelay/internal/api/handlers"
	"logrelay/internal/controller"
	"logrelay/internal/discovery"
	"logrelay/internal/models"
	"logrelay/internal/state"

	"github.com/gin-gonic/gin"
	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *pterm.Logger {
	return pterm.DefaultLogger.WithLevel(pterm.LogLevelTrace)
}

type fixture struct {
	server  *Server
	service *controller.Service
	store   state.Store
	catalog *discovery.ConfigCatalog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := state.NewDirStore(t.TempDir())
	require.NoError(t, err)
	catalog := discovery.NewConfigCatalog(store, testLogger())
	service := controller.NewService(store, catalog, testLogger())

	server := NewControllerServer(&Config{Host: "127.0.0.1", Port: 0},
		handlers.NewControllerHandler(service, 15, testLogger()),
		handlers.NewStreamHandler(service, 10*time.Millisecond, 15, testLogger()),
		testLogger())
	return &fixture{server: server, service: service, store: store, catalog: catalog}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodOptions, "/summary", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestGetConfig(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Write(ctx, "app.cfg.json", []byte(`{"sources":["/var/log/*.log"],"fields":"(?P<msg>.*)"}`)))
	require.NoError(t, f.store.Write(ctx, "off.cfg.json", []byte(`{"enabled":false,"sources":["/x"]}`)))
	require.NoError(t, f.catalog.Load(ctx))

	w := f.do(t, http.MethodGet, "/config/node-a", "")
	require.Equal(t, http.StatusOK, w.Code)

	var docs []models.Configuration
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &docs))
	require.Len(t, docs, 1)
	assert.Equal(t, "app", docs[0].Name)
}

func TestCheckpointsRoundTrip(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/checkpoints/node-a", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = f.do(t, http.MethodPost, "/checkpoints/node-a", `[{"destination":"out","path":"/var/log/a.log","committed":10}]`)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/checkpoints/node-a", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"destination":"out","path":"/var/log/a.log","committed":10}]`, w.Body.String())

	w = f.do(t, http.MethodPost, "/checkpoints/node-a", `{"not":"a list"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetCheckpoints_CorruptFileIsServerError(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Write(context.Background(), "node-a.chk.json", []byte("garbage")))

	w := f.do(t, http.MethodGet, "/checkpoints/node-a", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestPostMetrics_EnvelopeAndArray(t *testing.T) {
	f := newFixture(t)

	envelope := `{"code":"abc","metrics":[{"name":"__volume","file":"/var/log/a.log","entries":[{"ts":"2024-03-01T12:00","v":4}]}]}`
	w := f.do(t, http.MethodPost, "/metrics/node-a", envelope)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"merged":true}`, w.Body.String())

	w = f.do(t, http.MethodPost, "/metrics/node-a", envelope)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"merged":false}`, w.Body.String())

	w = f.do(t, http.MethodPost, "/metrics/node-b", `[{"name":"errors","entries":[{"ts":"2024-03-01T12:00","v":2}]}]`)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	var totals []controller.Total
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &totals))
	assert.ElementsMatch(t, []controller.Total{
		{Name: "__volume", Node: "node-a", File: "/var/log/a.log", Total: 4},
		{Name: "errors", Node: "node-b", Total: 2},
	}, totals)

	w = f.do(t, http.MethodPost, "/metrics/node-a", `nope`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPostEvents(t *testing.T) {
	f := newFixture(t)
	ts := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	w := f.do(t, http.MethodPost, "/events/node-a", `[{"ts":"`+ts+`","type":"error","msg":"boom"}]`)
	require.Equal(t, http.StatusOK, w.Code)

	data, err := f.store.Read(context.Background(), "node-a.evt.json")
	require.NoError(t, err)
	assert.Contains(t, string(data), "boom")

	w = f.do(t, http.MethodGet, "/summary", "")
	require.Equal(t, http.StatusOK, w.Code)
	var summary controller.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, 72*4, len(summary.Volume.Time))
	require.Len(t, summary.Nodes, 1)
	assert.Equal(t, controller.NodeSummary{Name: "node-a", ErrorsLastHour: 1}, summary.Nodes[0])
}

func TestGetSummary_Rate(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/summary?rate=60", "")
	require.Equal(t, http.StatusOK, w.Code)
	var summary controller.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, 72, len(summary.Volume.Time))
	assert.Empty(t, summary.Nodes)

	w = f.do(t, http.MethodGet, "/summary?rate=zero", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStreamSummary(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/summary/stream?rate=60", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)

	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(w.Body.String(), "data: {"))
	assert.GreaterOrEqual(t, strings.Count(w.Body.String(), "data: "), 2)
}

func TestReceiver(t *testing.T) {
	gin.SetMode(gin.TestMode)
	server := NewReceiverServer(&Config{Port: 0}, handlers.NewReceiverHandler(testLogger()), testLogger())

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`[{"msg":"a"},{"msg":"b"}]`))
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"received":2}`, w.Body.String())

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`not json`))
	w = httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
