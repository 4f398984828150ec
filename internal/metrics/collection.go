package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"logrelay/internal/models"
	"logrelay/internal/predicate"

	"github.com/google/uuid"
	"github.com/pterm/pterm"
)

// VolumeMetric counts every record read from a file.
const VolumeMetric = "__volume"

// DefaultSendInterval is how often a dispatcher reports metrics.
const DefaultSendInterval = time.Minute

// Sender posts a metrics message to the controller.
type Sender interface {
	SendMetrics(ctx context.Context, msg models.MetricsMessage) error
}

// Template is a compiled custom metric of a configuration.
type Template struct {
	Name  string
	Node  string
	Rules *predicate.Rules
}

// CompileTemplates compiles the custom metrics of a configuration.
func CompileTemplates(docs []models.MetricTemplate) ([]Template, error) {
	out := make([]Template, 0, len(docs))
	for _, doc := range docs {
		rules, err := predicate.Compile(doc.Rules)
		if err != nil {
			return nil, fmt.Errorf("metric %q: %w", doc.Name, err)
		}
		out = append(out, Template{Name: doc.Name, Node: doc.Node, Rules: rules})
	}
	return out, nil
}

type key struct {
	name, node, file string
}

// Collection owns all series of a process, keyed by name, node and file.
type Collection struct {
	mu     sync.Mutex
	node   string
	items  []*Metric
	index  map[key]int
	codes  map[string]string
	sender Sender
	logger *pterm.Logger
	now    func() time.Time
}

// NewCollection creates a collection for the given node. sender may be nil
// on the controller.
func NewCollection(node string, sender Sender, logger *pterm.Logger) *Collection {
	return &Collection{
		node:   node,
		index:  make(map[key]int),
		codes:  make(map[string]string),
		sender: sender,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock replaces the clock of the collection and every series in it.
func (c *Collection) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
	for _, m := range c.items {
		m.now = now
	}
}

func (c *Collection) get(name, node, config, file string) *Metric {
	k := key{name, node, file}
	if i, ok := c.index[k]; ok {
		return c.items[i]
	}
	m := NewMetric(name, node, config, file)
	m.now = c.now
	c.index[k] = len(c.items)
	c.items = append(c.items, m)
	c.logger.Trace("Metric created", c.logger.Args("name", name, "node", node, "file", file))
	return m
}

// Add counts v for a series of this node.
func (c *Collection) Add(name, file string, v int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.get(name, c.node, "", file).Add(v)
}

// Offer counts records read from file against the custom metrics of a
// configuration and adds them to the file's volume.
func (c *Collection) Offer(records []models.Record, file, config string, templates []Template) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, tpl := range templates {
		node := tpl.Node
		if node == "" {
			node = c.node
		}
		m := c.get(tpl.Name, node, config, file)
		if m.rules == nil {
			m.rules = tpl.Rules
		}
		accepted := m.Offer(records)
		c.logger.Trace("Records offered to metric",
			c.logger.Args("metric", tpl.Name, "accepted", accepted, "offered", len(records)))
	}

	if len(records) > 0 {
		vol := c.get(VolumeMetric, c.node, config, file)
		vol.Add(int64(len(records)))
	}
}

// Merge reconciles a reported series into the collection.
func (c *Collection) Merge(doc models.Metric, trim bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.get(doc.Name, doc.Node, doc.Config, doc.File)
	if m.Config == "" {
		m.Config = doc.Config
	}
	m.Merge(doc.Entries)
	if trim {
		m.Trim()
	}
}

// Accept records code as the latest message from node. It returns false
// when the same code was already seen, meaning the message is a retry.
func (c *Collection) Accept(node, code string) bool {
	if code == "" {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.codes[node] == code {
		return false
	}
	c.codes[node] = code
	return true
}

// Docs returns the series matching filter (all when filter is nil).
func (c *Collection) Docs(filter func(*Metric) bool) []models.Metric {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Metric, 0, len(c.items))
	for _, m := range c.items {
		if filter == nil || filter(m) {
			out = append(out, m.Doc())
		}
	}
	return out
}

// Len returns the number of series.
func (c *Collection) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Sum totals the matching series since the given time.
func (c *Collection) Sum(filter func(*Metric) bool, since time.Time) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total int64
	for _, m := range c.items {
		if filter == nil || filter(m) {
			total += m.Sum(since)
		}
	}
	return total
}

// Send reports every closed, unreported bucket. On success the reported
// buckets are marked committed and the series trimmed. A failed send is
// not retried; the next interval reports the same buckets again.
func (c *Collection) Send(ctx context.Context) error {
	if c.sender == nil {
		return nil
	}

	c.mu.Lock()
	msg := models.MetricsMessage{Code: uuid.NewString()}
	sent := make([]*Metric, 0)
	for _, m := range c.items {
		entries := m.Uncommitted()
		if len(entries) == 0 {
			continue
		}
		msg.Metrics = append(msg.Metrics, models.Metric{
			Name:    m.Name,
			Node:    m.Node,
			Config:  m.Config,
			File:    m.File,
			Entries: entries,
		})
		sent = append(sent, m)
	}
	c.mu.Unlock()

	if len(msg.Metrics) == 0 {
		return nil
	}

	c.logger.Debug("Posting metrics", c.logger.Args("series", len(msg.Metrics), "code", msg.Code))
	if err := c.sender.SendMetrics(ctx, msg); err != nil {
		return fmt.Errorf("post metrics: %w", err)
	}

	c.mu.Lock()
	for i, m := range sent {
		entries := msg.Metrics[i].Entries
		m.Committed = entries[len(entries)-1].TS
		m.Trim()
	}
	c.mu.Unlock()
	return nil
}

// Start sends metrics on every interval until ctx is done.
func (c *Collection) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.logger.Info("Metrics reporter started", c.logger.Args("interval", interval.String()))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Send(ctx); err != nil {
				c.logger.WithCaller().Error("Metrics could not be posted", c.logger.Args("error", err))
			}
		}
	}
}
