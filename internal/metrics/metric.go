package metrics

import (
	"time"

	"logrelay/internal/models"
	"logrelay/internal/predicate"
)

// BucketLayout formats the minute a data point belongs to.
const BucketLayout = "2006-01-02T15:04"

// Retention is the number of one-minute buckets kept (3 days).
const Retention = 60 * 24 * 3

// Bucket returns the UTC minute bucket for t.
func Bucket(t time.Time) string {
	return t.UTC().Format(BucketLayout)
}

// Metric is a minute-bucketed time series. Points are only ever appended
// for the current minute, so they stay ordered by bucket. Metric is not
// safe for concurrent use; Collection serialises access.
type Metric struct {
	Name      string
	Node      string
	Config    string
	File      string
	Counter   int64
	Committed string
	Points    []models.DataPoint

	rules *predicate.Rules
	now   func() time.Time
}

// NewMetric creates an empty series.
func NewMetric(name, node, config, file string) *Metric {
	return &Metric{Name: name, Node: node, Config: config, File: file, now: time.Now}
}

func (m *Metric) clock() time.Time {
	if m.now == nil {
		return time.Now()
	}
	return m.now()
}

// Add counts v in the current minute.
func (m *Metric) Add(v int64) {
	ts := Bucket(m.clock())
	if n := len(m.Points); n > 0 && m.Points[n-1].TS == ts {
		m.Points[n-1].V += v
	} else {
		m.Points = append(m.Points, models.DataPoint{TS: ts, V: v})
	}
	m.Counter += v
}

// Offer counts the records accepted by the metric's rules. Nothing is
// added when none are accepted.
func (m *Metric) Offer(records []models.Record) int {
	accepted := len(records)
	if m.rules != nil {
		accepted = len(m.rules.Filter(records))
	}
	if accepted > 0 {
		m.Add(int64(accepted))
	}
	return accepted
}

// Merge reconciles points reported elsewhere. A bucket that already exists
// is overwritten and the counter adjusted by the difference, so merging
// the same points twice changes nothing.
func (m *Metric) Merge(points []models.DataPoint) {
	for _, p := range points {
		if i := m.indexOf(p.TS); i >= 0 {
			m.Counter += p.V - m.Points[i].V
			m.Points[i].V = p.V
			continue
		}
		m.Counter += p.V
		m.insert(p)
	}
}

func (m *Metric) indexOf(ts string) int {
	for i := len(m.Points) - 1; i >= 0; i-- {
		if m.Points[i].TS == ts {
			return i
		}
	}
	return -1
}

// insert keeps points ordered; reports usually arrive in order so this is
// normally an append.
func (m *Metric) insert(p models.DataPoint) {
	i := len(m.Points)
	for i > 0 && m.Points[i-1].TS > p.TS {
		i--
	}
	m.Points = append(m.Points, models.DataPoint{})
	copy(m.Points[i+1:], m.Points[i:])
	m.Points[i] = p
}

// Uncommitted returns the points after the committed bucket. The bucket of
// the current minute is never returned because it may still grow.
func (m *Metric) Uncommitted() []models.DataPoint {
	current := Bucket(m.clock())
	var out []models.DataPoint
	for _, p := range m.Points {
		if m.Committed != "" && p.TS <= m.Committed {
			continue
		}
		if p.TS >= current {
			break
		}
		out = append(out, p)
	}
	return out
}

// Trim drops the oldest points beyond the retention window.
func (m *Metric) Trim() {
	if extra := len(m.Points) - Retention; extra > 0 {
		m.Points = append(m.Points[:0:0], m.Points[extra:]...)
	}
}

// Sum totals the points at or after since. A zero since sums everything.
func (m *Metric) Sum(since time.Time) int64 {
	var ts string
	if !since.IsZero() {
		ts = Bucket(since)
	}
	var total int64
	for _, p := range m.Points {
		if ts == "" || p.TS >= ts {
			total += p.V
		}
	}
	return total
}

// Doc returns the persisted form.
func (m *Metric) Doc() models.Metric {
	return models.Metric{
		Name:    m.Name,
		Node:    m.Node,
		Config:  m.Config,
		File:    m.File,
		Counter: m.Counter,
		Entries: append([]models.DataPoint(nil), m.Points...),
	}
}
