package metrics

import (
	"time"

	"logrelay/internal/models"
)

// Series is a named list of points fed to Chart.
type Series struct {
	Name string             `json:"name"`
	Data []models.DataPoint `json:"-"`
}

// ChartSeries is one line of a chart, aligned with Chart.Time.
type ChartSeries struct {
	Name string  `json:"name"`
	Data []int64 `json:"data"`
}

// Chart aggregates several series into windows of rate minutes.
type Chart struct {
	Name   string        `json:"name,omitempty"`
	Time   []string      `json:"time"`
	Series []ChartSeries `json:"series"`
}

// BuildChart walks backward from pointer to earliest in steps of rate
// minutes. Each label is the newest minute of its window, which covers
// that minute and the rate-1 minutes before it; the value is the sum of the
// series' points falling in the window. Labels are newest first.
func BuildChart(series []Series, pointer, earliest time.Time, rate int) Chart {
	if rate < 1 {
		rate = 1
	}
	pointer = pointer.UTC().Truncate(time.Minute)

	lookup := make([]map[string]int64, len(series))
	chart := Chart{Time: []string{}, Series: make([]ChartSeries, len(series))}
	for i, s := range series {
		lookup[i] = make(map[string]int64, len(s.Data))
		for _, p := range s.Data {
			lookup[i][p.TS] += p.V
		}
		chart.Series[i] = ChartSeries{Name: s.Name, Data: []int64{}}
	}

	for pointer.After(earliest) {
		chart.Time = append(chart.Time, pointer.Format(time.RFC3339))
		totals := make([]int64, len(series))
		for step := 0; step < rate; step++ {
			ts := pointer.Format(BucketLayout)
			for i := range series {
				totals[i] += lookup[i][ts]
			}
			pointer = pointer.Add(-time.Minute)
		}
		for i := range series {
			chart.Series[i].Data = append(chart.Series[i].Data, totals[i])
		}
	}
	return chart
}
