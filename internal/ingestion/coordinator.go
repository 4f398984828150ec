package ingestion

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"logrelay/internal/checkpoint"
	"logrelay/internal/destination"
	"logrelay/internal/events"
	"logrelay/internal/models"

	"github.com/pterm/pterm"
)

// Watcher reports changes to the files matching a configuration's sources.
type Watcher interface {
	Watch(name string, patterns []string) error
	Unwatch(name string)
}

// ConfigSource yields the configurations assigned to this node.
type ConfigSource interface {
	FetchConfigurations(ctx context.Context) ([]models.Configuration, error)
}

// Options for a Coordinator.
type Options struct {
	ChunkSize    int64 // bytes
	Destinations destination.Options
}

// Coordinator owns the configurations and file tailers of a dispatcher.
type Coordinator struct {
	mu          sync.Mutex
	configs     []*Configuration
	configIndex map[string]int
	tailers     []*Tailer
	tailerIndex map[string]int

	source  ConfigSource
	watcher Watcher
	table   *checkpoint.Table
	metrics MetricsSink
	opts    Options
	logger  *pterm.Logger
}

// NewCoordinator creates an empty coordinator.
func NewCoordinator(source ConfigSource, watcher Watcher, table *checkpoint.Table, sink MetricsSink, opts Options, logger *pterm.Logger) *Coordinator {
	return &Coordinator{
		configIndex: make(map[string]int),
		tailerIndex: make(map[string]int),
		source:      source,
		watcher:     watcher,
		table:       table,
		metrics:     sink,
		opts:        opts,
		logger:      logger,
	}
}

func pathKey(path string) string {
	return strings.ToLower(path)
}

// Configuration returns the named configuration, or nil.
func (c *Coordinator) Configuration(name string) *Configuration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i, ok := c.configIndex[name]; ok {
		return c.configs[i]
	}
	return nil
}

// Configurations returns every active configuration.
func (c *Coordinator) Configurations() []*Configuration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Configuration(nil), c.configs...)
}

// Tailers returns the tailers of every known file.
func (c *Coordinator) Tailers() []*Tailer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Tailer(nil), c.tailers...)
}

// Notify tells the tailer of path that the file was created or changed,
// creating the tailer if needed.
func (c *Coordinator) Notify(configName, path string) {
	c.mu.Lock()
	i, ok := c.configIndex[configName]
	if !ok {
		c.mu.Unlock()
		c.logger.Debug("Change for unknown configuration ignored", c.logger.Args("config", configName, "path", path))
		return
	}
	config := c.configs[i]

	// A file belongs to the first configuration that claimed it.
	key := pathKey(path)
	var tailer *Tailer
	if j, ok := c.tailerIndex[key]; ok {
		tailer = c.tailers[j]
		if tailer.config != config {
			c.mu.Unlock()
			c.logger.Debug("File already read by another configuration", c.logger.Args(
				"config", configName, "owner", tailer.config.Name, "path", path))
			return
		}
	} else {
		tailer = NewTailer(path, config, c.table, c.metrics, c.opts.ChunkSize, c.logger)
		c.tailerIndex[key] = len(c.tailers)
		c.tailers = append(c.tailers, tailer)
		c.logger.Debug("Tracking file", c.logger.Args("config", configName, "path", path))
	}
	c.mu.Unlock()

	tailer.Notify()
}

// Delete stops tracking a file that was removed or renamed.
func (c *Coordinator) Delete(path string) {
	c.mu.Lock()
	key := pathKey(path)
	i, ok := c.tailerIndex[key]
	if !ok {
		c.mu.Unlock()
		return
	}
	tailer := c.tailers[i]
	c.removeTailerLocked(key)
	c.mu.Unlock()

	tailer.Dispose()
	c.logger.Info("File no longer watched", c.logger.Args("path", path))
}

func (c *Coordinator) removeTailerLocked(key string) {
	i, ok := c.tailerIndex[key]
	if !ok {
		return
	}
	last := len(c.tailers) - 1
	if i != last {
		c.tailers[i] = c.tailers[last]
		c.tailerIndex[pathKey(c.tailers[i].path)] = i
	}
	c.tailers[last] = nil
	c.tailers = c.tailers[:last]
	delete(c.tailerIndex, key)
}

// disposeTailersLocked stops and forgets every tailer of config.
func (c *Coordinator) disposeTailersLocked(config *Configuration) {
	kept := c.tailers[:0]
	for _, t := range c.tailers {
		if t.config == config {
			t.Dispose()
			continue
		}
		kept = append(kept, t)
	}
	for i := len(kept); i < len(c.tailers); i++ {
		c.tailers[i] = nil
	}
	c.tailers = kept
	c.tailerIndex = make(map[string]int, len(c.tailers))
	for i, t := range c.tailers {
		c.tailerIndex[pathKey(t.path)] = i
	}
}

// removeCheckpointsLocked drops the checkpoints of destinations that were
// disposed, unless an active configuration still has a destination by the
// same name.
func (c *Coordinator) removeCheckpointsLocked(dropped []string) int {
	if c.table == nil || len(dropped) == 0 {
		return 0
	}
	active := make(map[string]bool)
	for _, config := range c.configs {
		for _, d := range config.Destinations() {
			active[d.Name()] = true
		}
	}
	gone := make(map[string]bool, len(dropped))
	for _, name := range dropped {
		if !active[name] {
			gone[name] = true
		}
	}
	if len(gone) == 0 {
		return 0
	}
	removed := c.table.Remove(func(cp *checkpoint.Checkpoint) bool {
		return gone[cp.Destination()]
	})
	c.logger.Debug("Checkpoints of disposed destinations removed", c.logger.Args("destinations", dropped, "removed", removed))
	return removed
}

// Apply reconciles the active configurations with docs. Unchanged
// configurations are left alone, changed ones are rebuilt (keeping
// unchanged destinations) and missing or disabled ones are disposed.
func (c *Coordinator) Apply(docs []models.Configuration) error {
	type watchChange struct {
		name    string
		sources []string
		unwatch bool
		watch   bool
	}
	type event struct{ typ, msg, config string }
	var changes []watchChange
	var notes []event
	var errs []error
	var dropped []string

	c.mu.Lock()
	seen := make(map[string]bool, len(docs))
	for _, doc := range docs {
		if doc.Name == "" || !doc.IsEnabled() {
			continue
		}
		seen[doc.Name] = true

		var existing *Configuration
		i, found := c.configIndex[doc.Name]
		if found {
			existing = c.configs[i]
			if existing.Hash == Hash(doc) {
				c.logger.Trace("Configuration unchanged", c.logger.Args("config", doc.Name))
				continue
			}
		}

		created, err := NewConfiguration(doc, existing, c.opts.Destinations, c.logger)
		if err != nil {
			c.logger.WithCaller().Error("Configuration rejected", c.logger.Args("config", doc.Name, "error", err))
			notes = append(notes, event{events.TypeError, fmt.Sprintf("Configuration %s rejected: %v", doc.Name, err), doc.Name})
			errs = append(errs, err)
			continue
		}

		if found {
			c.disposeTailersLocked(existing)
			dropped = append(dropped, existing.Dispose(created)...)
			c.configs[i] = created
			changes = append(changes, watchChange{name: doc.Name, sources: created.Sources, unwatch: true, watch: true})
			c.logger.Info("Configuration updated", c.logger.Args("config", doc.Name))
			notes = append(notes, event{events.TypeInfo, "Configuration " + doc.Name + " updated", doc.Name})
		} else {
			c.configIndex[doc.Name] = len(c.configs)
			c.configs = append(c.configs, created)
			changes = append(changes, watchChange{name: doc.Name, sources: created.Sources, watch: true})
			c.logger.Info("Configuration added", c.logger.Args("config", doc.Name, "sources", created.Sources))
			notes = append(notes, event{events.TypeInfo, "Configuration " + doc.Name + " added", doc.Name})
		}
	}

	kept := c.configs[:0]
	for _, config := range c.configs {
		if seen[config.Name] {
			kept = append(kept, config)
			continue
		}
		c.disposeTailersLocked(config)
		dropped = append(dropped, config.Dispose(nil)...)
		changes = append(changes, watchChange{name: config.Name, unwatch: true})
		c.logger.Info("Configuration removed", c.logger.Args("config", config.Name))
		notes = append(notes, event{events.TypeInfo, "Configuration " + config.Name + " removed", config.Name})
	}
	for i := len(kept); i < len(c.configs); i++ {
		c.configs[i] = nil
	}
	c.configs = kept
	c.configIndex = make(map[string]int, len(c.configs))
	for i, config := range c.configs {
		c.configIndex[config.Name] = i
	}
	removed := c.removeCheckpointsLocked(dropped)
	c.mu.Unlock()

	if removed > 0 {
		c.table.Send()
	}

	// The watcher replays matching files on Watch, which calls back into
	// Notify, so it must run without the lock.
	if c.watcher != nil {
		for _, ch := range changes {
			if ch.unwatch {
				c.watcher.Unwatch(ch.name)
			}
			if ch.watch {
				if err := c.watcher.Watch(ch.name, ch.sources); err != nil {
					c.logger.WithCaller().Error("Failed to watch sources", c.logger.Args("config", ch.name, "error", err))
					notes = append(notes, event{events.TypeError, fmt.Sprintf("Sources of %s could not be watched: %v", ch.name, err), ch.name})
					errs = append(errs, err)
				}
			}
		}
	}

	// Recording calls back into the coordinator when events are forwarded.
	if rec := c.opts.Destinations.Events; rec != nil {
		for _, n := range notes {
			rec.Record(n.typ, n.msg, n.config)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%d configuration(s) could not be applied: %w", len(errs), errs[0])
	}
	return nil
}

// Refresh fetches the configurations and applies them.
func (c *Coordinator) Refresh(ctx context.Context) error {
	if c.source == nil {
		return nil
	}
	docs, err := c.source.FetchConfigurations(ctx)
	if err != nil {
		return fmt.Errorf("fetch configurations: %w", err)
	}
	c.logger.Debug("Configurations fetched", c.logger.Args("count", len(docs)))
	return c.Apply(docs)
}

// Stop disposes every tailer and configuration.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	configs := c.configs
	tailers := c.tailers
	c.configs = nil
	c.tailers = nil
	c.configIndex = make(map[string]int)
	c.tailerIndex = make(map[string]int)
	c.mu.Unlock()

	for _, t := range tailers {
		t.Dispose()
	}
	for _, config := range configs {
		if c.watcher != nil {
			c.watcher.Unwatch(config.Name)
		}
		config.Dispose(nil)
	}
	c.logger.Info("Coordinator stopped", c.logger.Args("configurations", len(configs), "files", len(tailers)))
}
