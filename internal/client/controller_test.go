package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"logrelay/internal/models"

	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *pterm.Logger {
	return pterm.DefaultLogger.WithLevel(pterm.LogLevelTrace)
}

func TestController_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		switch r.URL.Path {
		case "/config/node%201", "/config/node 1":
			w.Write([]byte(`[{"name":"app","sources":["/var/log/app.log"],"fields":"(?P<msg>.+)"}]`))
		case "/checkpoints/node 1":
			w.Write([]byte(`[{"destination":"out","path":"/var/log/app.log","ino":7,"committed":42}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	c := NewController(server.URL+"/", "node 1", time.Second, testLogger())

	configs, err := c.FetchConfigurations(context.Background())
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.Equal(t, "app", configs[0].Name)

	checkpoints, err := c.FetchCheckpoints(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.Checkpoint{{Destination: "out", Path: "/var/log/app.log", Ino: 7, Committed: 42}}, checkpoints)
}

func TestController_Send(t *testing.T) {
	bodies := map[string]string{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		data, _ := io.ReadAll(r.Body)
		bodies[r.URL.Path] = string(data)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := NewController(server.URL, "node1", time.Second, testLogger())
	ctx := context.Background()

	require.NoError(t, c.SendCheckpoints(ctx, nil))
	require.NoError(t, c.SendMetrics(ctx, models.MetricsMessage{Code: "abc", Metrics: []models.Metric{{Name: "__volume"}}}))
	require.NoError(t, c.SendEvents(ctx, []models.Event{{TS: "t", Type: "info", Node: "node1", Msg: "m"}}))

	assert.JSONEq(t, `[]`, bodies["/checkpoints/node1"])
	var msg models.MetricsMessage
	require.NoError(t, json.Unmarshal([]byte(bodies["/metrics/node1"]), &msg))
	assert.Equal(t, "abc", msg.Code)
	assert.JSONEq(t, `[{"ts":"t","type":"info","node":"node1","msg":"m"}]`, bodies["/events/node1"])
}

func TestController_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewController(server.URL, "node1", time.Second, testLogger())
	_, err := c.FetchCheckpoints(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}
