package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"logrelay/internal/models"
	"logrelay/internal/state"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/pterm/pterm"
	"gopkg.in/yaml.v3"
)

// Configuration file patterns in the state store
var ConfigPatterns = []string{"*.cfg.json", "*.cfg.yaml", "*.cfg.yml"}

// DefaultPollInterval is how often a store that cannot be watched is
// listed for configuration changes.
const DefaultPollInterval = 30 * time.Second

// ConfigCatalog holds the configuration files of the controller's state
// store, keyed by file name.
type ConfigCatalog struct {
	store  state.Store
	logger *pterm.Logger

	mu      sync.RWMutex
	configs map[string]models.Configuration
}

func NewConfigCatalog(store state.Store, logger *pterm.Logger) *ConfigCatalog {
	return &ConfigCatalog{
		store:   store,
		logger:  logger,
		configs: make(map[string]models.Configuration),
	}
}

// IsConfigKey reports whether key names a configuration file.
func IsConfigKey(key string) bool {
	for _, p := range ConfigPatterns {
		if ok, _ := filepath.Match(p, key); ok {
			return true
		}
	}
	return false
}

// ConfigName derives a configuration name from its file name: the part
// before ".cfg.".
func ConfigName(key string) string {
	if i := strings.Index(key, ".cfg."); i > 0 {
		return key[:i]
	}
	return ""
}

// Parse decodes a configuration file. JSON and YAML are told apart by the
// key's extension.
func Parse(key string, data []byte) (models.Configuration, error) {
	var doc models.Configuration
	var err error
	if strings.HasSuffix(key, ".json") {
		err = json.Unmarshal(data, &doc)
	} else {
		err = yaml.Unmarshal(data, &doc)
	}
	if err != nil {
		return doc, fmt.Errorf("could not parse %s: %w", key, err)
	}
	if doc.Name == "" {
		doc.Name = ConfigName(key)
	}
	if doc.Name == "" {
		doc.Name = uuid.NewString()
	}
	return doc, nil
}

// Load reads every configuration file, replacing the catalog. Files that
// fail to parse keep their previous definition.
func (c *ConfigCatalog) Load(ctx context.Context) error {
	seen := make(map[string]bool)
	var errs []error
	for _, pattern := range ConfigPatterns {
		keys, err := c.store.List(ctx, pattern)
		if err != nil {
			return fmt.Errorf("failed to list configurations: %w", err)
		}
		for _, key := range keys {
			seen[key] = true
			if err := c.update(ctx, key); err != nil {
				errs = append(errs, err)
			}
		}
	}

	c.mu.Lock()
	for key := range c.configs {
		if !seen[key] {
			delete(c.configs, key)
			c.logger.Info("Configuration removed", c.logger.Args("file", key))
		}
	}
	c.mu.Unlock()

	return errors.Join(errs...)
}

func (c *ConfigCatalog) update(ctx context.Context, key string) error {
	c.logger.Debug("Loading configuration", c.logger.Args("file", key))
	data, err := c.store.Read(ctx, key)
	if err != nil {
		c.logger.WithCaller().Error("Could not load configuration", c.logger.Args("file", key, "error", err))
		return err
	}
	doc, err := Parse(key, data)
	if err != nil {
		c.logger.WithCaller().Error("Could not parse configuration", c.logger.Args("file", key, "error", err))
		return err
	}

	c.mu.Lock()
	_, existed := c.configs[key]
	c.configs[key] = doc
	c.mu.Unlock()

	if existed {
		c.logger.Debug("Configuration updated", c.logger.Args("file", key, "config", doc.Name))
	} else {
		c.logger.Info("Configuration loaded", c.logger.Args("file", key, "config", doc.Name))
	}
	return nil
}

func (c *ConfigCatalog) remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.configs[key]; ok {
		delete(c.configs, key)
		c.logger.Info("Configuration removed", c.logger.Args("file", key))
	}
}

// Enabled returns the configurations not explicitly disabled, ordered by
// file name.
func (c *ConfigCatalog) Enabled() []models.Configuration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.configs))
	for k := range c.configs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]models.Configuration, 0, len(keys))
	for _, k := range keys {
		if doc := c.configs[k]; doc.IsEnabled() {
			out = append(out, doc)
		}
	}
	return out
}

// Len returns the number of loaded configuration files.
func (c *ConfigCatalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.configs)
}

// Run keeps the catalog current until ctx is cancelled. A directory store
// is watched; any other store is listed every poll interval.
func (c *ConfigCatalog) Run(ctx context.Context, poll time.Duration) error {
	if dir, ok := c.store.(*state.DirStore); ok {
		return c.watch(ctx, dir.Dir())
	}

	if poll <= 0 {
		poll = DefaultPollInterval
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.Load(ctx); err != nil {
				c.logger.Warn("Configuration reload incomplete", c.logger.Args("error", err))
			}
		}
	}
}

func (c *ConfigCatalog) watch(ctx context.Context, dir string) error {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fsWatcher.Close()

	if err := fsWatcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	c.logger.Info("Watching for configuration files", c.logger.Args("dir", dir, "patterns", ConfigPatterns))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fsWatcher.Events:
			if !ok {
				return nil
			}
			key := filepath.Base(event.Name)
			if !IsConfigKey(key) {
				continue
			}
			switch {
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				c.remove(key)
			case event.Op&(fsnotify.Write|fsnotify.Create) != 0:
				_ = c.update(ctx, key)
			}

		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return nil
			}
			c.logger.WithCaller().Error("Configuration watcher error", c.logger.Args("error", err))
		}
	}
}
