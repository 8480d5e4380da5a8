package fsutil

import (
	"errors"
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOSFileSystem_AtomicWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.txt")

	var fsys OSFileSystem
	assert.False(t, fsys.Exists(path))

	require.NoError(t, fsys.WriteFile(path, []byte(`{"TriggerThreshold":20}`), 0644))
	assert.False(t, fsys.Exists(path+".tmp"), "temp file should have been renamed into place")

	require.NoError(t, fsys.WriteFile(path, []byte(`{"TriggerThreshold":25}`), 0644))
	data, err := fsys.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"TriggerThreshold":25}`, string(data))
}

func TestOSFileSystem_WriteIntoMissingDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "config.txt")

	var fsys OSFileSystem
	require.Error(t, fsys.WriteFile(path, []byte("{}"), 0644))

	require.NoError(t, fsys.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, fsys.WriteFile(path, []byte("{}"), 0644))
	assert.True(t, fsys.Exists(path))
}

func TestMemoryFileSystem(t *testing.T) {
	m := NewMemoryFileSystem()

	_, err := m.ReadFile("missing")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	require.NoError(t, m.WriteFile("a/b.txt", []byte("hello"), 0600))
	assert.Equal(t, 1, m.Writes)
	assert.True(t, m.Exists("a/./b.txt"), "paths are cleaned")

	data, err := m.ReadFile("a/b.txt")
	require.NoError(t, err)
	data[0] = 'j'
	again, err := m.ReadFile("a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(again), "callers get a copy")

	require.NoError(t, m.MkdirAll("x/y/z", 0755))
	for _, dir := range []string{"x", "x/y", "x/y/z"} {
		assert.True(t, m.Exists(dir), dir)
	}

	require.NoError(t, m.WriteFile("c.txt", nil, 0644))
	assert.Equal(t, []string{"a/b.txt", "c.txt"}, m.Files())
}

func TestMemoryFileSystem_WriteErr(t *testing.T) {
	m := NewMemoryFileSystem()
	m.WriteErr = errors.New("disk full")

	require.Error(t, m.WriteFile("config.txt", []byte("{}"), 0644))
	assert.False(t, m.Exists("config.txt"), "failed write must not create the file")
	assert.Zero(t, m.Writes)
}
