package controller

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"logrelay/internal/discovery"
	"logrelay/internal/metrics"
	"logrelay/internal/models"
	"logrelay/internal/state"

	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *pterm.Logger {
	return pterm.DefaultLogger.WithLevel(pterm.LogLevelTrace)
}

var fixedNow = time.Date(2024, 3, 1, 12, 30, 20, 0, time.UTC)

func newService(t *testing.T) (*Service, state.Store) {
	t.Helper()
	store, err := state.NewDirStore(t.TempDir())
	require.NoError(t, err)
	catalog := discovery.NewConfigCatalog(store, testLogger())
	svc := NewService(store, catalog, testLogger())
	svc.SetClock(func() time.Time { return fixedNow })
	return svc, store
}

func TestCheckpoints_MissingFileIsEmpty(t *testing.T) {
	svc, _ := newService(t)

	docs, err := svc.Checkpoints(context.Background(), "node-a")
	require.NoError(t, err)
	assert.NotNil(t, docs)
	assert.Empty(t, docs)
}

func TestCheckpoints_SaveAndRead(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	in := []models.Checkpoint{{Path: "/var/log/a.log", Destination: "out", Committed: 42}}
	require.NoError(t, svc.SaveCheckpoints(ctx, "node-a", in))

	out, err := svc.Checkpoints(ctx, "node-a")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, int64(42), out[0].Committed)

	keys, err := store.List(ctx, "*"+CheckpointSuffix)
	require.NoError(t, err)
	assert.Equal(t, []string{"node-a.chk.json"}, keys)
}

func TestCheckpoints_CorruptFile(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	require.NoError(t, store.Write(ctx, "node-a"+CheckpointSuffix, []byte("{nope")))

	_, err := svc.Checkpoints(ctx, "node-a")
	assert.Error(t, err)
}

func TestConfigurations_OnlyEnabled(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	require.NoError(t, store.Write(ctx, "app.cfg.json", []byte(`{"sources":["/tmp/*.log"]}`)))
	require.NoError(t, store.Write(ctx, "off.cfg.yaml", []byte("enabled: false\nsources: [/tmp/x.log]\n")))
	require.NoError(t, svc.catalog.Load(ctx))

	docs := svc.Configurations("node-a")
	require.Len(t, docs, 1)
	assert.Equal(t, "app", docs[0].Name)
}

func TestConfigurations_Targets(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	require.NoError(t, store.Write(ctx, "web.cfg.json", []byte(`{"targets":["web-*"],"sources":["/tmp/*.log"]}`)))
	require.NoError(t, store.Write(ctx, "all.cfg.json", []byte(`{"sources":["/tmp/*.log"]}`)))
	require.NoError(t, svc.catalog.Load(ctx))

	assert.Len(t, svc.Configurations("web-01"), 2)
	docs := svc.Configurations("db-01")
	require.Len(t, docs, 1)
	assert.Equal(t, "all", docs[0].Name)
}

func volumeReport(code string, points ...models.DataPoint) models.MetricsMessage {
	return models.MetricsMessage{
		Code: code,
		Metrics: []models.Metric{
			{Name: metrics.VolumeMetric, File: "/var/log/a.log", Entries: points},
		},
	}
}

func TestMergeMetrics_PersistsAndDeduplicates(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	msg := volumeReport("c1", models.DataPoint{TS: "2024-03-01T12:29", V: 5})
	merged, err := svc.MergeMetrics(ctx, "node-a", msg)
	require.NoError(t, err)
	assert.True(t, merged)

	merged, err = svc.MergeMetrics(ctx, "node-a", msg)
	require.NoError(t, err)
	assert.False(t, merged, "a retried message is skipped")

	totals := svc.Totals()
	require.Len(t, totals, 1)
	assert.Equal(t, Total{Name: metrics.VolumeMetric, Node: "node-a", File: "/var/log/a.log", Total: 5}, totals[0])

	data, err := store.Read(ctx, "node-a.__volume"+MetricSuffix)
	require.NoError(t, err)
	var docs []models.Metric
	require.NoError(t, json.Unmarshal(data, &docs))
	require.Len(t, docs, 1)
	assert.Equal(t, "node-a", docs[0].Node)
}

func TestMergeMetrics_SameBucketOverwrites(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.MergeMetrics(ctx, "node-a", volumeReport("c1", models.DataPoint{TS: "2024-03-01T12:29", V: 5}))
	require.NoError(t, err)
	_, err = svc.MergeMetrics(ctx, "node-a", volumeReport("c2", models.DataPoint{TS: "2024-03-01T12:29", V: 7}))
	require.NoError(t, err)

	assert.Equal(t, int64(7), svc.Totals()[0].Total)
}

func TestAppendEvents_PersistsPerNode(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.AppendEvents(ctx, "node-a", []models.Event{
		{TS: "2024-03-01T12:00:00.000Z", Type: "error", Msg: "boom", Committed: true},
	}))
	require.NoError(t, svc.AppendEvents(ctx, "node-b", []models.Event{
		{TS: "2024-03-01T12:01:00.000Z", Type: "info", Msg: "hello"},
	}))

	data, err := store.Read(ctx, "node-a"+EventSuffix)
	require.NoError(t, err)
	var evs []models.Event
	require.NoError(t, json.Unmarshal(data, &evs))
	require.Len(t, evs, 1)
	assert.Equal(t, "node-a", evs[0].Node)
	assert.Equal(t, "boom", evs[0].Msg)
	assert.False(t, evs[0].Committed)
	assert.Equal(t, 2, svc.Events().Len())
}

func TestAppendEvents_TrimsOldEvents(t *testing.T) {
	svc, _ := newService(t)

	require.NoError(t, svc.AppendEvents(context.Background(), "node-a", []models.Event{
		{TS: "2024-02-01T12:00:00.000Z", Type: "info", Msg: "old"},
		{TS: "2024-03-01T11:00:00.000Z", Type: "info", Msg: "new"},
	}))
	evs := svc.Events().ForNode("node-a")
	require.Len(t, evs, 1)
	assert.Equal(t, "new", evs[0].Msg)
}

func TestSummary(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.MergeMetrics(ctx, "node-a", volumeReport("c1",
		models.DataPoint{TS: "2024-03-01T10:00", V: 100},
		models.DataPoint{TS: "2024-03-01T12:00", V: 3},
		models.DataPoint{TS: "2024-03-01T12:29", V: 4},
	))
	require.NoError(t, err)
	_, err = svc.MergeMetrics(ctx, "node-b", models.MetricsMessage{Code: "c2", Metrics: []models.Metric{
		{Name: "errors", Entries: []models.DataPoint{{TS: "2024-03-01T12:10", V: 1}}},
	}})
	require.NoError(t, err)
	require.NoError(t, svc.AppendEvents(ctx, "node-a", []models.Event{
		{TS: "2024-03-01T09:00:00.000Z", Type: "error", Msg: "too old"},
		{TS: "2024-03-01T12:10:00.000Z", Type: "error", Msg: "recent"},
		{TS: "2024-03-01T12:11:00.000Z", Type: "warn", Msg: "not an error"},
	}))

	summary := svc.Summary(15)
	assert.Equal(t, []NodeSummary{
		{Name: "node-a", LogsLastHour: 7, ErrorsLastHour: 1},
		{Name: "node-b"},
	}, summary.Nodes)

	require.Len(t, summary.Volume.Series, 2)
	assert.Equal(t, "node-a", summary.Volume.Series[0].Name)
	assert.Equal(t, 72*4, len(summary.Volume.Time))
	assert.Equal(t, "2024-03-01T12:30:00Z", summary.Volume.Time[0])
	// 12:16-12:30 holds 12:29
	assert.Equal(t, int64(4), summary.Volume.Series[0].Data[0])

	var total int64
	for _, v := range summary.Volume.Series[0].Data {
		total += v
	}
	assert.Equal(t, int64(107), total)
}

func TestRestore(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	array, _ := json.Marshal([]models.Metric{{Name: "hits", Node: "node-a", Entries: []models.DataPoint{{TS: "2024-03-01T12:00", V: 2}}}})
	single, _ := json.Marshal(models.Metric{Name: "misses", Node: "node-b", Entries: []models.DataPoint{{TS: "2024-03-01T12:00", V: 3}}})
	evs, _ := json.Marshal([]models.Event{{TS: "2024-03-01T12:00:00.000Z", Type: "info", Node: "node-a", Msg: "hi"}})
	require.NoError(t, store.Write(ctx, "node-a.hits"+MetricSuffix, array))
	require.NoError(t, store.Write(ctx, "node-b.misses"+MetricSuffix, single))
	require.NoError(t, store.Write(ctx, "node-a"+EventSuffix, evs))
	require.NoError(t, store.Write(ctx, "node-c"+EventSuffix, []byte("not json")))

	err := svc.Restore(ctx)
	assert.Error(t, err, "a corrupt file is reported")
	assert.Equal(t, 2, svc.Metrics().Len())
	assert.Equal(t, 1, svc.Events().Len())
}
