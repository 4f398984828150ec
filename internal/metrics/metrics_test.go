package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"logrelay/internal/models"

	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedClock struct{ t time.Time }

func (c *fixedClock) now() time.Time { return c.t }

func testLogger() *pterm.Logger {
	return pterm.DefaultLogger.WithLevel(pterm.LogLevelTrace)
}

func TestMetric_AddBucketsByMinute(t *testing.T) {
	clock := &fixedClock{t: time.Date(2024, 5, 1, 10, 0, 5, 0, time.UTC)}
	m := NewMetric("m", "n", "", "f")
	m.now = clock.now

	m.Add(2)
	m.Add(3)
	clock.t = clock.t.Add(time.Minute)
	m.Add(1)

	require.Len(t, m.Points, 2)
	assert.Equal(t, models.DataPoint{TS: "2024-05-01T10:00", V: 5}, m.Points[0])
	assert.Equal(t, models.DataPoint{TS: "2024-05-01T10:01", V: 1}, m.Points[1])
	assert.Equal(t, int64(6), m.Counter)
}

func TestMetric_MergeIsIdempotent(t *testing.T) {
	m := NewMetric("m", "n", "", "f")
	points := []models.DataPoint{{TS: "2024-05-01T10:00", V: 4}, {TS: "2024-05-01T10:01", V: 6}}

	m.Merge(points)
	firstPoints := append([]models.DataPoint(nil), m.Points...)
	firstCounter := m.Counter

	m.Merge(points)
	assert.Equal(t, firstPoints, m.Points)
	assert.Equal(t, firstCounter, m.Counter)
	assert.Equal(t, int64(10), m.Counter)
}

func TestMetric_MergeOverwritesAndAdjustsCounter(t *testing.T) {
	m := NewMetric("m", "n", "", "f")
	m.Merge([]models.DataPoint{{TS: "2024-05-01T10:00", V: 4}})
	m.Merge([]models.DataPoint{{TS: "2024-05-01T10:00", V: 7}, {TS: "2024-05-01T09:59", V: 1}})

	assert.Equal(t, int64(8), m.Counter)
	require.Len(t, m.Points, 2)
	assert.Equal(t, "2024-05-01T09:59", m.Points[0].TS, "points stay ordered")
	assert.Equal(t, int64(7), m.Points[1].V)
}

func TestMetric_UncommittedExcludesCurrentMinute(t *testing.T) {
	clock := &fixedClock{t: time.Date(2024, 5, 1, 10, 2, 30, 0, time.UTC)}
	m := NewMetric("m", "n", "", "f")
	m.now = clock.now
	m.Points = []models.DataPoint{
		{TS: "2024-05-01T10:00", V: 1},
		{TS: "2024-05-01T10:01", V: 2},
		{TS: "2024-05-01T10:02", V: 3},
	}

	got := m.Uncommitted()
	require.Len(t, got, 2)
	assert.Equal(t, "2024-05-01T10:01", got[1].TS)

	m.Committed = "2024-05-01T10:00"
	got = m.Uncommitted()
	require.Len(t, got, 1)
	assert.Equal(t, "2024-05-01T10:01", got[0].TS)

	m.Committed = "2024-05-01T10:01"
	assert.Empty(t, m.Uncommitted())
}

func TestMetric_Trim(t *testing.T) {
	m := NewMetric("m", "n", "", "f")
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < Retention+10; i++ {
		m.Points = append(m.Points, models.DataPoint{TS: Bucket(start.Add(time.Duration(i) * time.Minute)), V: 1})
	}
	m.Trim()
	require.Len(t, m.Points, Retention)
	assert.Equal(t, Bucket(start.Add(10*time.Minute)), m.Points[0].TS)
}

func TestBuildChart_SinglePointSeries(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	series := []Series{
		{Name: "a", Data: []models.DataPoint{{TS: Bucket(at), V: 5}}},
		{Name: "b", Data: []models.DataPoint{{TS: Bucket(at), V: 5}}},
	}

	chart := BuildChart(series, at, at.Add(-3*time.Minute), 1)
	require.Len(t, chart.Time, 3)
	assert.Equal(t, "2024-05-01T10:00:00Z", chart.Time[0])
	assert.Equal(t, []int64{5, 0, 0}, chart.Series[0].Data)
	assert.Equal(t, []int64{5, 0, 0}, chart.Series[1].Data)
}

func TestBuildChart_Windows(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	series := []Series{{Name: "a", Data: []models.DataPoint{
		{TS: "2024-05-01T09:52", V: 1},
		{TS: "2024-05-01T09:56", V: 2},
		{TS: "2024-05-01T09:59", V: 3},
		{TS: "2024-05-01T10:00", V: 4},
	}}}

	chart := BuildChart(series, at, at.Add(-10*time.Minute), 5)
	assert.Equal(t, []string{"2024-05-01T10:00:00Z", "2024-05-01T09:55:00Z"}, chart.Time)
	assert.Equal(t, []int64{9, 1}, chart.Series[0].Data)
}

func TestCollection_OfferCustomAndVolume(t *testing.T) {
	c := NewCollection("node1", nil, testLogger())
	templates, err := CompileTemplates([]models.MetricTemplate{
		{Name: "errors", Rules: models.Rules{And: []models.Operation{{Field: "level", Test: "ERROR"}}}},
		{Name: "remote", Node: "elsewhere"},
	})
	require.NoError(t, err)

	records := []models.Record{{"level": "ERROR"}, {"level": "INFO"}, {"level": "ERROR"}}
	c.Offer(records, "/var/log/a.log", "app", templates)

	docs := c.Docs(nil)
	byName := map[string]models.Metric{}
	for _, d := range docs {
		byName[d.Name] = d
	}
	assert.Equal(t, int64(2), byName["errors"].Counter)
	assert.Equal(t, "node1", byName["errors"].Node)
	assert.Equal(t, "elsewhere", byName["remote"].Node)
	assert.Equal(t, int64(3), byName["remote"].Counter)
	assert.Equal(t, int64(3), byName[VolumeMetric].Counter)
	assert.Equal(t, "app", byName[VolumeMetric].Config)
}

func TestCollection_MergeNewSeriesCountsEntries(t *testing.T) {
	c := NewCollection("controller", nil, testLogger())
	c.Merge(models.Metric{Name: "__volume", Node: "n1", File: "f", Entries: []models.DataPoint{{TS: "2024-05-01T10:00", V: 3}}}, true)
	c.Merge(models.Metric{Name: "__volume", Node: "n1", File: "f", Entries: []models.DataPoint{{TS: "2024-05-01T10:00", V: 3}}}, true)

	docs := c.Docs(func(m *Metric) bool { return m.Node == "n1" })
	require.Len(t, docs, 1)
	assert.Equal(t, int64(3), docs[0].Counter)
}

func TestCollection_Accept(t *testing.T) {
	c := NewCollection("controller", nil, testLogger())
	assert.True(t, c.Accept("n1", "abc"))
	assert.False(t, c.Accept("n1", "abc"))
	assert.True(t, c.Accept("n2", "abc"))
	assert.True(t, c.Accept("n1", "def"))
	assert.True(t, c.Accept("n1", ""))
}

type recordingSender struct {
	msgs []models.MetricsMessage
	err  error
}

func (s *recordingSender) SendMetrics(ctx context.Context, msg models.MetricsMessage) error {
	s.msgs = append(s.msgs, msg)
	return s.err
}

func TestCollection_SendCommitsOnSuccess(t *testing.T) {
	clock := &fixedClock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	sender := &recordingSender{}
	c := NewCollection("n1", sender, testLogger())
	c.SetClock(clock.now)

	c.Add("dest", "f", 2)
	require.NoError(t, c.Send(context.Background()))
	assert.Empty(t, sender.msgs, "open minute is not reported")

	clock.t = clock.t.Add(time.Minute)
	require.NoError(t, c.Send(context.Background()))
	require.Len(t, sender.msgs, 1)
	assert.NotEmpty(t, sender.msgs[0].Code)
	require.Len(t, sender.msgs[0].Metrics, 1)
	assert.Equal(t, int64(2), sender.msgs[0].Metrics[0].Entries[0].V)

	require.NoError(t, c.Send(context.Background()))
	assert.Len(t, sender.msgs, 1, "committed buckets are not reported again")
}

func TestCollection_SendFailureKeepsBuckets(t *testing.T) {
	clock := &fixedClock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	sender := &recordingSender{err: errors.New("down")}
	c := NewCollection("n1", sender, testLogger())
	c.SetClock(clock.now)
	c.Add("dest", "f", 1)
	clock.t = clock.t.Add(time.Minute)

	assert.Error(t, c.Send(context.Background()))
	sender.err = nil
	require.NoError(t, c.Send(context.Background()))
	require.Len(t, sender.msgs, 2)
	assert.Equal(t, sender.msgs[0].Metrics, sender.msgs[1].Metrics)
	assert.NotEqual(t, sender.msgs[0].Code, sender.msgs[1].Code)
}

func TestCollection_Sum(t *testing.T) {
	c := NewCollection("controller", nil, testLogger())
	c.Merge(models.Metric{Name: VolumeMetric, Node: "n1", File: "a", Entries: []models.DataPoint{
		{TS: "2024-05-01T09:00", V: 1}, {TS: "2024-05-01T10:00", V: 2},
	}}, false)
	c.Merge(models.Metric{Name: VolumeMetric, Node: "n1", File: "b", Entries: []models.DataPoint{
		{TS: "2024-05-01T10:30", V: 4},
	}}, false)

	since := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	total := c.Sum(func(m *Metric) bool { return m.Name == VolumeMetric && m.Node == "n1" }, since)
	assert.Equal(t, int64(6), total)
}
