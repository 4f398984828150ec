package discovery

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"logrelay/internal/state"

	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *pterm.Logger {
	return pterm.DefaultLogger.WithLevel(pterm.LogLevelTrace)
}

type recorder struct {
	mu      sync.Mutex
	changed []string
	removed []string
}

func (r *recorder) onChange(config, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changed = append(r.changed, config+"|"+filepath.Base(path))
}

func (r *recorder) onRemove(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, filepath.Base(path))
}

func (r *recorder) snapshot() ([]string, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.changed...), append([]string(nil), r.removed...)
}

func TestSourceWatcher_ReportsExistingAndNewFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.log"), []byte("x\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "skip.txt"), []byte("x\n"), 0o644))

	rec := &recorder{}
	w, err := NewSourceWatcher(rec.onChange, rec.onRemove, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, w.Watch("app", []string{filepath.Join(dir, "*.log")}))
	changed, _ := rec.snapshot()
	assert.Equal(t, []string{"app|a.log"}, changed)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.log"), []byte("y\n"), 0o644))
	require.Eventually(t, func() bool {
		changed, _ := rec.snapshot()
		return contains(changed, "app|b.log")
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(filepath.Join(dir, "a.log")))
	require.Eventually(t, func() bool {
		_, removed := rec.snapshot()
		return contains(removed, "a.log")
	}, 2*time.Second, 10*time.Millisecond)

	changed, _ = rec.snapshot()
	assert.False(t, contains(changed, "app|skip.txt"))

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestSourceWatcher_Unwatch(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	w, err := NewSourceWatcher(rec.onChange, rec.onRemove, testLogger())
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Watch("app", []string{filepath.Join(dir, "*.log")}))
	assert.Equal(t, []string{"app"}, w.matching(filepath.Join(dir, "x.log")))

	w.Unwatch("app")
	assert.Empty(t, w.matching(filepath.Join(dir, "x.log")))
	assert.Empty(t, w.dirs)
}

func TestSourceWatcher_InvalidPattern(t *testing.T) {
	w, err := NewSourceWatcher(func(string, string) {}, func(string) {}, testLogger())
	require.NoError(t, err)
	defer w.Close()

	assert.Error(t, w.Watch("bad", []string{"/tmp/[.log"}))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestConfigName(t *testing.T) {
	assert.Equal(t, "web", ConfigName("web.cfg.json"))
	assert.Equal(t, "a.b", ConfigName("a.b.cfg.yaml"))
	assert.Equal(t, "", ConfigName("web.json"))
	assert.True(t, IsConfigKey("web.cfg.yml"))
	assert.False(t, IsConfigKey("web.chk.json"))
}

func TestParse(t *testing.T) {
	doc, err := Parse("web.cfg.json", []byte(`{"sources":["/var/log/*.log"],"fields":"(?P<msg>.+)",
		"destinations":[{"name":"out","url":"http://x","and":[{"field":"msg","test":"a"}]}]}`))
	require.NoError(t, err)
	assert.Equal(t, "web", doc.Name)
	require.Len(t, doc.Destinations, 1)
	assert.Equal(t, "msg", doc.Destinations[0].And[0].Field)

	doc, err = Parse("app.cfg.yaml", []byte(`
name: custom
enabled: false
sources: [/var/log/app.log]
fields: "(?P<msg>.+)"
destinations:
  - name: out
    connector: URL
    url: http://x
    not:
      - test: DEBUG
`))
	require.NoError(t, err)
	assert.Equal(t, "custom", doc.Name)
	assert.False(t, doc.IsEnabled())
	require.Len(t, doc.Destinations, 1)
	assert.Equal(t, "DEBUG", doc.Destinations[0].Not[0].Test)

	_, err = Parse("bad.cfg.json", []byte(`{`))
	assert.Error(t, err)
}

func TestConfigCatalog_LoadAndWatch(t *testing.T) {
	dir := t.TempDir()
	store, err := state.NewDirStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Write(ctx, "web.cfg.json", []byte(`{"sources":["/a"],"fields":"x"}`)))
	require.NoError(t, store.Write(ctx, "off.cfg.json", []byte(`{"enabled":false,"sources":["/b"],"fields":"x"}`)))
	require.NoError(t, store.Write(ctx, "node.chk.json", []byte(`[]`)))

	catalog := NewConfigCatalog(store, testLogger())
	require.NoError(t, catalog.Load(ctx))
	assert.Equal(t, 2, catalog.Len())
	enabled := catalog.Enabled()
	require.Len(t, enabled, 1)
	assert.Equal(t, "web", enabled[0].Name)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go catalog.Run(runCtx, time.Second)

	// wait for the watcher to be registered by writing until it is seen
	require.Eventually(t, func() bool {
		_ = store.Write(ctx, "more.cfg.yaml", []byte("sources: [/c]\nfields: x\n"))
		return len(catalog.Enabled()) == 2
	}, 3*time.Second, 50*time.Millisecond)

	require.NoError(t, os.Remove(filepath.Join(dir, "web.cfg.json")))
	require.Eventually(t, func() bool {
		enabled := catalog.Enabled()
		return len(enabled) == 1 && enabled[0].Name == "more"
	}, 3*time.Second, 20*time.Millisecond)
}

func TestConfigCatalog_LoadKeepsPreviousOnParseError(t *testing.T) {
	store, err := state.NewDirStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Write(ctx, "web.cfg.json", []byte(`{"sources":["/a"],"fields":"x"}`)))
	catalog := NewConfigCatalog(store, testLogger())
	require.NoError(t, catalog.Load(ctx))

	require.NoError(t, store.Write(ctx, "web.cfg.json", []byte(`{`)))
	assert.Error(t, catalog.Load(ctx))
	require.Len(t, catalog.Enabled(), 1)
	assert.Equal(t, []string{"/a"}, catalog.Enabled()[0].Sources)
}
