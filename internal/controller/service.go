// Package controller holds the state a controller serves to dispatchers:
// configurations, checkpoints, metrics and events.
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"logrelay/internal/discovery"
	"logrelay/internal/events"
	"logrelay/internal/metrics"
	"logrelay/internal/models"
	"logrelay/internal/state"

	"github.com/pterm/pterm"
)

// ChartWindow is how far back the summary chart reaches.
const ChartWindow = 72 * time.Hour

// Document key suffixes in the state store
const (
	CheckpointSuffix = ".chk.json"
	MetricSuffix     = ".mtx.json"
	EventSuffix      = ".evt.json"
)

// Total is the sum of one series.
type Total struct {
	Name  string `json:"name"`
	Node  string `json:"node"`
	File  string `json:"file,omitempty"`
	Total int64  `json:"total"`
}

// NodeSummary describes the recent activity of a dispatcher.
type NodeSummary struct {
	Name           string `json:"name"`
	LogsLastHour   int64  `json:"logsLastHour"`
	ErrorsLastHour int64  `json:"errorsLastHour"`
}

// Summary is the overview shown on a dashboard.
type Summary struct {
	Nodes  []NodeSummary `json:"nodes"`
	Volume metrics.Chart `json:"volume"`
}

// Service implements the controller operations on top of a state store.
type Service struct {
	store   state.Store
	catalog *discovery.ConfigCatalog
	metrics *metrics.Collection
	events  *events.Log
	logger  *pterm.Logger
	now     func() time.Time
}

func NewService(store state.Store, catalog *discovery.ConfigCatalog, logger *pterm.Logger) *Service {
	return &Service{
		store:   store,
		catalog: catalog,
		metrics: metrics.NewCollection("", nil, logger),
		events:  events.NewLog("", nil, logger),
		logger:  logger,
		now:     time.Now,
	}
}

// SetClock replaces the clock used for trimming and summaries.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
	s.metrics.SetClock(now)
	s.events.SetClock(now)
}

// Metrics exposes the merged series.
func (s *Service) Metrics() *metrics.Collection {
	return s.metrics
}

// Events exposes the merged events.
func (s *Service) Events() *events.Log {
	return s.events
}

// Configurations returns the enabled configurations for node. A
// configuration listing targets is only served to nodes matching one of
// them; targets are glob patterns.
func (s *Service) Configurations(node string) []models.Configuration {
	docs := s.catalog.Enabled()
	out := make([]models.Configuration, 0, len(docs))
	for _, doc := range docs {
		if targets(doc, node) {
			out = append(out, doc)
		}
	}
	return out
}

func targets(doc models.Configuration, node string) bool {
	if len(doc.Targets) == 0 {
		return true
	}
	for _, t := range doc.Targets {
		if ok, _ := path.Match(t, node); ok {
			return true
		}
	}
	return false
}

// Checkpoints returns the persisted checkpoints of node, or an empty list
// when the node never reported any.
func (s *Service) Checkpoints(ctx context.Context, node string) ([]models.Checkpoint, error) {
	key := node + CheckpointSuffix
	data, err := s.store.Read(ctx, key)
	if errors.Is(err, state.ErrNotFound) {
		return []models.Checkpoint{}, nil
	}
	if err != nil {
		return nil, err
	}

	var docs []models.Checkpoint
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("corrupt checkpoint file %s: %w", key, err)
	}
	if docs == nil {
		docs = []models.Checkpoint{}
	}
	return docs, nil
}

// SaveCheckpoints replaces the checkpoints of node.
func (s *Service) SaveCheckpoints(ctx context.Context, node string, docs []models.Checkpoint) error {
	if docs == nil {
		docs = []models.Checkpoint{}
	}
	data, err := json.Marshal(docs)
	if err != nil {
		return err
	}
	return s.store.Write(ctx, node+CheckpointSuffix, data)
}

// MergeMetrics merges a report from node and persists every series of the
// reported names. A message whose code was already merged is skipped and
// false is returned.
func (s *Service) MergeMetrics(ctx context.Context, node string, msg models.MetricsMessage) (bool, error) {
	if !s.metrics.Accept(node, msg.Code) {
		s.logger.Debug("Metrics already merged", s.logger.Args("node", node, "code", msg.Code))
		return false, nil
	}

	names := make(map[string]bool)
	for _, doc := range msg.Metrics {
		if doc.Node == "" {
			doc.Node = node
		}
		s.metrics.Merge(doc, true)
		names[doc.Name] = true
	}
	s.logger.Debug("Merged metrics", s.logger.Args("node", node, "series", len(msg.Metrics)))

	var errs []error
	for _, name := range sortedKeys(names) {
		docs := s.metrics.Docs(func(m *metrics.Metric) bool { return m.Node == node && m.Name == name })
		data, err := json.Marshal(docs)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		key := node + "." + name + MetricSuffix
		if err := s.store.Write(ctx, key, data); err != nil {
			errs = append(errs, err)
			continue
		}
		s.logger.Trace("Metrics committed", s.logger.Args("key", key))
	}
	return true, errors.Join(errs...)
}

// AppendEvents merges events from node, trims to three days and persists
// the node's events.
func (s *Service) AppendEvents(ctx context.Context, node string, evs []models.Event) error {
	for i := range evs {
		if evs[i].Node == "" {
			evs[i].Node = node
		}
		evs[i].Committed = false
	}
	s.events.Append(evs...)
	s.events.Trim()
	s.logger.Debug("Merged events", s.logger.Args("node", node, "count", len(evs)))

	data, err := json.Marshal(s.events.ForNode(node))
	if err != nil {
		return err
	}
	return s.store.Write(ctx, node+EventSuffix, data)
}

// Totals sums every series.
func (s *Service) Totals() []Total {
	docs := s.metrics.Docs(nil)
	out := make([]Total, 0, len(docs))
	for _, doc := range docs {
		t := Total{Name: doc.Name, Node: doc.Node, File: doc.File}
		for _, p := range doc.Entries {
			t.Total += p.V
		}
		out = append(out, t)
	}
	return out
}

// Summary reports per-node activity over the last hour and a volume chart
// of the last three days in windows of rate minutes.
func (s *Service) Summary(rate int) Summary {
	now := s.now().UTC()
	hourAgo := now.Add(-time.Hour)

	volumes := s.metrics.Docs(func(m *metrics.Metric) bool { return m.Name == metrics.VolumeMetric })
	byNode := make(map[string][]models.DataPoint)
	for _, doc := range s.metrics.Docs(nil) {
		if _, ok := byNode[doc.Node]; !ok {
			byNode[doc.Node] = nil
		}
	}
	for _, node := range s.events.Nodes() {
		if _, ok := byNode[node]; !ok && node != "" {
			byNode[node] = nil
		}
	}
	for _, doc := range volumes {
		byNode[doc.Node] = append(byNode[doc.Node], doc.Entries...)
	}

	summary := Summary{Nodes: make([]NodeSummary, 0, len(byNode))}
	var series []metrics.Series
	for _, node := range sortedKeys(byNode) {
		ns := NodeSummary{Name: node}
		ns.LogsLastHour = s.metrics.Sum(func(m *metrics.Metric) bool {
			return m.Node == node && m.Name == metrics.VolumeMetric
		}, hourAgo)
		ns.ErrorsLastHour = s.errorsSince(node, hourAgo)
		summary.Nodes = append(summary.Nodes, ns)
		series = append(series, metrics.Series{Name: node, Data: byNode[node]})
	}

	summary.Volume = metrics.BuildChart(series, now, now.Add(-ChartWindow), rate)
	summary.Volume.Name = "volume"
	return summary
}

func (s *Service) errorsSince(node string, since time.Time) int64 {
	from := since.UTC().Format(events.TimestampLayout)
	var n int64
	for _, ev := range s.events.ForNode(node) {
		if ev.Type == events.TypeError && ev.TS > from {
			n++
		}
	}
	return n
}

// Restore loads the metrics and events persisted by an earlier run.
func (s *Service) Restore(ctx context.Context) error {
	var errs []error

	keys, err := s.store.List(ctx, "*"+MetricSuffix)
	if err != nil {
		return fmt.Errorf("list metrics: %w", err)
	}
	for _, key := range keys {
		docs, err := s.readMetrics(ctx, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, doc := range docs {
			s.metrics.Merge(doc, true)
		}
	}

	evKeys, err := s.store.List(ctx, "*"+EventSuffix)
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}
	for _, key := range evKeys {
		data, err := s.store.Read(ctx, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		var evs []models.Event
		if err := json.Unmarshal(data, &evs); err != nil {
			errs = append(errs, fmt.Errorf("corrupt events file %s: %w", key, err))
			continue
		}
		s.events.Append(evs...)
	}
	s.events.Trim()

	s.logger.Info("Controller state restored", s.logger.Args(
		"metric_files", len(keys), "series", s.metrics.Len(), "event_files", len(evKeys), "events", s.events.Len()))
	return errors.Join(errs...)
}

// readMetrics accepts a list of series or a single series per file.
func (s *Service) readMetrics(ctx context.Context, key string) ([]models.Metric, error) {
	data, err := s.store.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		var doc models.Metric
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("corrupt metrics file %s: %w", key, err)
		}
		return []models.Metric{doc}, nil
	}
	var docs []models.Metric
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("corrupt metrics file %s: %w", key, err)
	}
	return docs, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
