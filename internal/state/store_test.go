package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *pterm.Logger {
	return pterm.DefaultLogger.WithLevel(pterm.LogLevelTrace)
}

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Read(ctx, "node1.chk.json")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Write(ctx, "node1.chk.json", []byte(`[]`)))
	require.NoError(t, store.Write(ctx, "node1.chk.json", []byte(`[{"path":"/a"}]`)))
	require.NoError(t, store.Write(ctx, "node1.__volume.mtx.json", []byte(`{}`)))
	require.NoError(t, store.Write(ctx, "node2.chk.json", []byte(`[]`)))

	data, err := store.Read(ctx, "node1.chk.json")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"path":"/a"}]`, string(data))

	keys, err := store.List(ctx, "*.chk.json")
	require.NoError(t, err)
	assert.Equal(t, []string{"node1.chk.json", "node2.chk.json"}, keys)

	keys, err = store.List(ctx, "*.mtx.json")
	require.NoError(t, err)
	assert.Equal(t, []string{"node1.__volume.mtx.json"}, keys)

	assert.Error(t, store.Write(ctx, "../escape.json", []byte(`{}`)))
	_, err = store.Read(ctx, "a/b")
	assert.Error(t, err)

	require.NoError(t, store.Close())
}

func TestDirStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	store, err := NewDirStore(dir)
	require.NoError(t, err)
	exerciseStore(t, store)

	// temp files of interrupted writes are never listed
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x.chk.json.123.tmp"), []byte(`{`), 0o644))
	keys, err := store.List(context.Background(), "*")
	require.NoError(t, err)
	assert.NotContains(t, keys, "x.chk.json.123.tmp")
}

func TestBoltStore(t *testing.T) {
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "state.db"), testLogger())
	require.NoError(t, err)
	exerciseStore(t, store)
}

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.sqlite"), testLogger())
	require.NoError(t, err)
	exerciseStore(t, store)
}

func TestOpen_SelectsBackend(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := Open(ctx, filepath.Join(dir, "plain"), Options{}, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &DirStore{}, store)

	store, err = Open(ctx, "bolt://"+filepath.Join(dir, "s.db"), Options{}, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &BoltStore{}, store)
	require.NoError(t, store.Close())

	store, err = Open(ctx, "sqlite://"+filepath.Join(dir, "s.sqlite"), Options{}, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, store)
	require.NoError(t, store.Close())

	_, err = Open(ctx, "ftp://host/x", Options{}, testLogger())
	assert.Error(t, err)

	_, err = Open(ctx, "redis://localhost:6379/notanumber", Options{}, testLogger())
	assert.Error(t, err)
}

func TestValidKey(t *testing.T) {
	assert.True(t, ValidKey("host.chk.json"))
	assert.True(t, ValidKey("host.__volume.mtx.json"))
	assert.False(t, ValidKey(""))
	assert.False(t, ValidKey(".."))
	assert.False(t, ValidKey("a/b"))
	assert.False(t, ValidKey(`a\b`))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/json", contentType("a.chk.json"))
	assert.Equal(t, "application/yaml", contentType("a.cfg.yaml"))
	assert.Equal(t, "application/octet-stream", contentType("a.bin"))
}
