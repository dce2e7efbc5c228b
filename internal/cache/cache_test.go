package cache_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"elmbind/internal/cache"
	"elmbind/internal/project"
)

func TestPutGet(t *testing.T) {
	c, err := cache.Open(filepath.Join(t.TempDir(), "c"))
	require.NoError(t, err)

	bundle := []byte("(function(scope){ ... }(this));")
	key := cache.Key(bundle)

	_, ok, err := c.Get(key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(key, &cache.Entry{
		Source: project.Sum(bundle),
		Export: "{A:1}",
		Module: []byte("export const Elm = {A:1};\n"),
	}))

	got, ok, err := c.Get(key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "{A:1}", got.Export)
	assert.Equal(t, "export const Elm = {A:1};\n", string(got.Module))
	assert.False(t, got.Created.IsZero())

	n, err := c.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestGetRejectsMismatchedSource(t *testing.T) {
	c, err := cache.Open(t.TempDir())
	require.NoError(t, err)

	key := cache.Key([]byte("one"))
	require.NoError(t, c.Put(key, &cache.Entry{Source: project.Sum([]byte("two")), Module: []byte("x")}))

	_, ok, err := c.Get(key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetCorruptEntry(t *testing.T) {
	dir := t.TempDir()
	c, err := cache.Open(dir)
	require.NoError(t, err)

	key := cache.Key([]byte("bundle"))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "rewrites"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rewrites", key.String()+".mp"), []byte{0xc1}, 0o600))

	_, ok, err := c.Get(key)
	require.Error(t, err)
	assert.False(t, ok)
}

func TestDropAll(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "c")
	c, err := cache.Open(dir)
	require.NoError(t, err)

	bundle := []byte("b")
	require.NoError(t, c.Put(cache.Key(bundle), &cache.Entry{Source: project.Sum(bundle), Module: []byte("m")}))
	require.NoError(t, c.DropAll())

	n, err := c.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
	_, ok, err := c.Get(cache.Key(bundle))
	require.NoError(t, err)
	assert.False(t, ok)

	entries, err := os.ReadDir(filepath.Dir(dir))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.NoError(t, c.DropAll(), "dropping an empty cache")
}

func TestDropAllLeavesOtherFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "elmbind.toml"), []byte("[elm]\n"), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "Main.elm"), []byte("module Main exposing (..)\n"), 0o600))

	c, err := cache.Open(dir)
	require.NoError(t, err)
	bundle := []byte("b")
	require.NoError(t, c.Put(cache.Key(bundle), &cache.Entry{Source: project.Sum(bundle), Module: []byte("m")}))
	require.NoError(t, c.DropAll())

	assert.FileExists(t, filepath.Join(dir, "elmbind.toml"))
	assert.FileExists(t, filepath.Join(dir, "src", "Main.elm"))
	assert.NoDirExists(t, filepath.Join(dir, "rewrites"))
	n, err := c.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNilCacheIsDisabled(t *testing.T) {
	var c *cache.Cache
	require.NoError(t, c.Put(cache.Key(nil), &cache.Entry{}))
	_, ok, err := c.Get(cache.Key(nil))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, c.Dir())
}
